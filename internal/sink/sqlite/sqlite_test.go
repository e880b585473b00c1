package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrisgeo/mergestat-syncs/internal/domain/entity"
	"github.com/chrisgeo/mergestat-syncs/internal/sink/backend"
)

func TestUpsert_VersionGuard(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	b := NewWithDB(db)

	f := &entity.File{
		RepoID: entity.RepoUUID(entity.ProviderGitHub, "acme/api"),
		Path:   "main.go",
	}
	row := backend.Row{Key: f.Key(), SyncedAt: time.Now().UTC(), Seq: 9, Record: f}

	mock.ExpectExec(`INSERT INTO git_files \(repo_id, path, executable, contents, synced_at, seq\) VALUES \(\?, \?, \?, \?, \?, \?\) ON CONFLICT \(repo_id, path\) DO UPDATE SET .* WHERE excluded\.synced_at > git_files\.synced_at OR \(excluded\.synced_at = git_files\.synced_at AND excluded\.seq >= git_files\.seq\)`).
		WithArgs(f.RepoID.String(), "main.go", false, nil, row.SyncedAt, row.Seq).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, b.Upsert(context.Background(), entity.TableFiles, []backend.Row{row}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_CommitStats(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	b := NewWithDB(db)

	repoID := entity.RepoUUID(entity.ProviderGitLab, "group/proj")
	rows := []backend.Row{}
	for _, path := range []string{"a.go", entity.AggregateStatsMarker} {
		s := &entity.CommitStat{RepoID: repoID, CommitHash: "abc", FilePath: path, Additions: 1}
		rows = append(rows, backend.Row{Key: s.Key(), SyncedAt: time.Now().UTC(), Seq: 1, Record: s})
	}

	mock.ExpectExec(`INSERT INTO git_commit_stats .* ON CONFLICT \(repo_id, commit_hash, file_path\)`).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, b.Upsert(context.Background(), entity.TableCommitStats, rows))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"repos", "git_commits", "git_commit_stats", "git_pull_requests", "git_files"} {
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS " + table).
			WillReturnResult(sqlmock.NewResult(0, 0))
	}

	b := NewWithDB(db)
	require.NoError(t, b.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
