package backend

import (
	"encoding/json"
	"fmt"

	"github.com/chrisgeo/mergestat-syncs/internal/domain/entity"
)

// tableShape describes one table's column layout for the SQL backends.
// Both engines share it; only placeholder style and DDL differ.
type tableShape struct {
	Columns  []string
	Conflict []string
}

var shapes = map[entity.Table]tableShape{
	entity.TableRepos: {
		Columns:  []string{"id", "repo", "ref", "created_at", "settings", "tags"},
		Conflict: []string{"id"},
	},
	entity.TableCommits: {
		Columns: []string{
			"repo_id", "hash", "message",
			"author_name", "author_email", "author_when",
			"committer_name", "committer_email", "committer_when",
			"parents",
		},
		Conflict: []string{"repo_id", "hash"},
	},
	entity.TableCommitStats: {
		Columns: []string{
			"repo_id", "commit_hash", "file_path",
			"additions", "deletions", "old_file_mode", "new_file_mode",
		},
		Conflict: []string{"repo_id", "commit_hash", "file_path"},
	},
	entity.TablePullRequests: {
		Columns: []string{
			"repo_id", "number", "title", "state",
			"author_name", "author_email",
			"created_at", "merged_at", "closed_at",
			"head_branch", "base_branch",
		},
		Conflict: []string{"repo_id", "number"},
	},
	entity.TableFiles: {
		Columns:  []string{"repo_id", "path", "executable", "contents"},
		Conflict: []string{"repo_id", "path"},
	},
}

// Shape returns the column layout for a table. The version columns
// (synced_at, seq) are appended by the SQL builders, not listed here.
func Shape(table entity.Table) (columns, conflict []string, err error) {
	s, ok := shapes[table]
	if !ok {
		return nil, nil, fmt.Errorf("unknown table %q", table)
	}
	return s.Columns, s.Conflict, nil
}

// Values flattens a row's record into the column order Shape reports,
// version columns excluded.
func Values(row Row) ([]any, error) {
	switch r := row.Record.(type) {
	case *entity.Repo:
		settings, err := json.Marshal(r.Settings)
		if err != nil {
			return nil, fmt.Errorf("marshal repo settings: %w", err)
		}
		tags, err := json.Marshal(r.Tags)
		if err != nil {
			return nil, fmt.Errorf("marshal repo tags: %w", err)
		}
		return []any{r.ID.String(), r.Repo, r.Ref, r.CreatedAt, string(settings), string(tags)}, nil

	case *entity.Commit:
		return []any{
			r.RepoID.String(), r.Hash, r.Message,
			r.AuthorName, r.AuthorEmail, r.AuthorWhen,
			r.CommitterName, r.CommitterEmail, r.CommitterWhen,
			r.Parents,
		}, nil

	case *entity.CommitStat:
		return []any{
			r.RepoID.String(), r.CommitHash, r.FilePath,
			r.Additions, r.Deletions, r.OldFileMode, r.NewFileMode,
		}, nil

	case *entity.PullRequest:
		return []any{
			r.RepoID.String(), r.Number, r.Title, r.State,
			r.AuthorName, r.AuthorEmail,
			r.CreatedAt, r.MergedAt, r.ClosedAt,
			r.HeadBranch, r.BaseBranch,
		}, nil

	case *entity.File:
		return []any{r.RepoID.String(), r.Path, r.Executable, r.Contents}, nil
	}

	return nil, fmt.Errorf("unknown record type %T for table %q", row.Record, row.Key.Table)
}
