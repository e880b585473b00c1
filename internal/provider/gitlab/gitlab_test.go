package gitlab

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrisgeo/mergestat-syncs/internal/domain/entity"
	"github.com/chrisgeo/mergestat-syncs/internal/pagination"
	"github.com/chrisgeo/mergestat-syncs/internal/provider"
)

func TestClient_GetPageAddsPagingAndToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("PRIVATE-TOKEN"))
		assert.Equal(t, "3", r.URL.Query().Get("page"))
		assert.Equal(t, "50", r.URL.Query().Get("per_page"))
		assert.Equal(t, "all", r.URL.Query().Get("state"))
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret")
	var out []map[string]any
	_, err := c.GetPage(context.Background(), "/projects/1/merge_requests?state=all", 3, 50, &out)
	require.NoError(t, err)
}

func TestClient_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	var out any
	_, err := c.GetPage(context.Background(), "/projects", 1, 10, &out)
	require.True(t, entity.IsRateLimited(err))

	var pe *entity.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 7*time.Second, pe.RetryAfter)
}

func TestClient_RateObservationHeaders(t *testing.T) {
	reset := time.Now().Add(time.Minute).Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("RateLimit-Remaining", "12")
		w.Header().Set("RateLimit-Reset", fmt.Sprint(reset))
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	var out []map[string]any
	meta, err := c.GetPage(context.Background(), "/projects", 1, 10, &out)
	require.NoError(t, err)
	require.NotNil(t, meta.Rate)
	assert.Equal(t, 12, meta.Rate.Remaining)
	assert.Equal(t, reset, meta.Rate.ResetAt.Unix())
}

func TestSource_ListEntitiesPagesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page == 1 {
			// A full first page forces the probe of page 2.
			fmt.Fprint(w, `[`)
			for i := 0; i < 100; i++ {
				if i > 0 {
					fmt.Fprint(w, ",")
				}
				fmt.Fprintf(w, `{"path_with_namespace":"group/p%d"}`, i)
			}
			fmt.Fprint(w, `]`)
			return
		}
		fmt.Fprint(w, `[{"path_with_namespace":"group/last"}]`)
	}))
	defer srv.Close()

	s := NewSource(NewClient(srv.URL, ""))
	got, err := s.ListEntities(context.Background(), provider.Selector{Group: "group"})
	require.NoError(t, err)
	assert.Len(t, got, 101)
	assert.Equal(t, entity.ProviderGitLab, got[0].Provider)
}

func TestSource_CommitCursorOffsetPaging(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/projects/group%2Fproj/repository/commits", r.URL.EscapedPath())
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		switch page {
		case 1:
			fmt.Fprint(w, `[`)
			for i := 0; i < 100; i++ {
				if i > 0 {
					fmt.Fprint(w, ",")
				}
				fmt.Fprintf(w, `{"id":"c%d"}`, i)
			}
			fmt.Fprint(w, `]`)
		default:
			fmt.Fprint(w, `[{"id":"tail"}]`)
		}
	}))
	defer srv.Close()

	s := NewSource(NewClient(srv.URL, ""))
	e := entity.Entity{Provider: entity.ProviderGitLab, Identifier: "group/proj"}
	c, err := s.HistoryCursor(context.Background(), e, entity.TableCommits)
	require.NoError(t, err)

	ctx := context.Background()
	p1, err := c.Next(ctx)
	require.NoError(t, err)
	assert.Len(t, p1.Items, 100)

	p2, err := c.Next(ctx)
	require.NoError(t, err)
	assert.Len(t, p2.Items, 1)

	_, err = c.Next(ctx)
	assert.ErrorIs(t, err, pagination.ErrDone)
}

func TestSource_CommitStatsCursorRequestsStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/projects/group%2Fproj/repository/commits", r.URL.EscapedPath())
		require.Equal(t, "true", r.URL.Query().Get("with_stats"))
		fmt.Fprint(w, `[{"id":"deadbeef","stats":{"additions":5,"deletions":3}}]`)
	}))
	defer srv.Close()

	s := NewSource(NewClient(srv.URL, ""))
	e := entity.Entity{Provider: entity.ProviderGitLab, Identifier: "group/proj"}
	c, err := s.HistoryCursor(context.Background(), e, entity.TableCommitStats)
	require.NoError(t, err)

	page, err := c.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, page.Items, 1)

	rec, err := s.Transform(page.Items[0], e)
	require.NoError(t, err)
	stat := rec.(*entity.CommitStat)
	assert.Equal(t, "deadbeef", stat.CommitHash)
	assert.Equal(t, entity.AggregateStatsMarker, stat.FilePath)
	assert.Equal(t, 5, stat.Additions)
	assert.Equal(t, 3, stat.Deletions)
}

func TestSource_FileTreeCursorFiltersToBlobs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/projects/group%2Fproj/repository/tree", r.URL.EscapedPath())
		require.Equal(t, "true", r.URL.Query().Get("recursive"))
		fmt.Fprint(w, `[
			{"path":"docs","type":"tree","mode":"040000"},
			{"path":"docs/readme.md","type":"blob","mode":"100644"},
			{"path":"bin/deploy","type":"blob","mode":"100755"}
		]`)
	}))
	defer srv.Close()

	s := NewSource(NewClient(srv.URL, ""))
	e := entity.Entity{Provider: entity.ProviderGitLab, Identifier: "group/proj"}
	c, err := s.HistoryCursor(context.Background(), e, entity.TableFiles)
	require.NoError(t, err)

	page, err := c.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, page.Items, 2, "tree entries are dropped")
	assert.Equal(t, 3, page.Fetched)

	rec, err := s.Transform(page.Items[1], e)
	require.NoError(t, err)
	file := rec.(*entity.File)
	assert.Equal(t, "bin/deploy", file.Path)
	assert.True(t, file.Executable)

	_, err = c.Next(context.Background())
	assert.ErrorIs(t, err, pagination.ErrDone)
}

func TestSource_TransformMergeRequest(t *testing.T) {
	s := NewSource(NewClient("", ""))
	e := entity.Entity{Provider: entity.ProviderGitLab, Identifier: "group/proj"}

	raw := entity.RawRecord{
		Provider: entity.ProviderGitLab,
		Table:    entity.TablePullRequests,
		Data: map[string]any{
			"iid":           float64(17),
			"title":         "refactor",
			"state":         "merged",
			"author":        map[string]any{"username": "dev"},
			"created_at":    "2026-06-01T00:00:00Z",
			"merged_at":     "2026-06-03T00:00:00Z",
			"source_branch": "refactor",
			"target_branch": "main",
		},
	}

	rec, err := s.Transform(raw, e)
	require.NoError(t, err)
	pr := rec.(*entity.PullRequest)

	assert.Equal(t, entity.RepoUUID(entity.ProviderGitLab, "group/proj"), pr.RepoID)
	assert.Equal(t, 17, pr.Number)
	assert.Equal(t, "dev", pr.AuthorName)
	assert.Equal(t, "main", pr.BaseBranch)
	assert.Nil(t, pr.ClosedAt)
}

func TestSource_TransformCommit(t *testing.T) {
	s := NewSource(NewClient("", ""))
	e := entity.Entity{Provider: entity.ProviderGitLab, Identifier: "group/proj"}

	raw := entity.RawRecord{
		Provider: entity.ProviderGitLab,
		Table:    entity.TableCommits,
		Data: map[string]any{
			"id":             "deadbeef",
			"message":        "update docs",
			"author_name":    "dev",
			"author_email":   "dev@acme.io",
			"authored_date":  "2026-05-01T10:00:00Z",
			"committed_date": "2026-05-01T10:01:00Z",
			"parent_ids":     []any{"p1"},
		},
	}

	rec, err := s.Transform(raw, e)
	require.NoError(t, err)
	commit := rec.(*entity.Commit)

	assert.Equal(t, "deadbeef", commit.Hash)
	assert.Equal(t, 1, commit.Parents)

	_, err = s.Transform(entity.RawRecord{Table: entity.TableCommits, Data: map[string]any{}}, e)
	assert.Error(t, err, "commit without id is malformed")
}
