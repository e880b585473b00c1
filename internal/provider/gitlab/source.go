package gitlab

import (
	"context"
	"fmt"
	"net/url"

	"github.com/chrisgeo/mergestat-syncs/internal/domain/entity"
	"github.com/chrisgeo/mergestat-syncs/internal/pagination"
	"github.com/chrisgeo/mergestat-syncs/internal/provider"
)

const perPage = 100

// Source syncs GitLab groups. Merge requests normalize into the pull
// request table.
type Source struct {
	client *Client
}

// NewSource creates the GitLab source.
func NewSource(client *Client) *Source {
	return &Source{client: client}
}

func (s *Source) Provider() entity.Provider { return entity.ProviderGitLab }

func (s *Source) Tables() []entity.Table {
	return []entity.Table{
		entity.TableRepos,
		entity.TableCommits,
		entity.TableCommitStats,
		entity.TablePullRequests,
		entity.TableFiles,
	}
}

// ListEntities enumerates the projects of a group, subgroups included.
func (s *Source) ListEntities(ctx context.Context, sel provider.Selector) ([]entity.Entity, error) {
	path := fmt.Sprintf("/groups/%s/projects?include_subgroups=true", url.PathEscape(sel.Group))

	var out []entity.Entity
	for page := 1; ; page++ {
		var items []map[string]any
		if _, err := s.client.GetPage(ctx, path, page, perPage, &items); err != nil {
			return nil, err
		}
		for _, item := range items {
			name := provider.Str(item, "path_with_namespace")
			if name == "" {
				continue
			}
			out = append(out, entity.Entity{Provider: entity.ProviderGitLab, Identifier: name})
		}
		if len(items) < perPage {
			return out, nil
		}
	}
}

// HistoryCursor opens the cursor for one table of one project. GitLab
// listings page by number, so these are offset cursors.
func (s *Source) HistoryCursor(ctx context.Context, e entity.Entity, table entity.Table) (pagination.Cursor, error) {
	project := url.PathEscape(e.Identifier)

	switch table {
	case entity.TableRepos:
		path := "/projects/" + project
		return pagination.NewTokenCursor("", func(ctx context.Context, _ string) (*pagination.Page, string, bool, error) {
			var proj map[string]any
			meta, err := s.client.GetPage(ctx, path, 1, 1, &proj)
			if err != nil {
				return nil, "", false, err
			}
			page := &pagination.Page{
				Items: []entity.RawRecord{{Provider: entity.ProviderGitLab, Table: entity.TableRepos, Data: proj}},
				Rate:  meta.Rate,
			}
			return page, "", false, nil
		}), nil

	case entity.TableCommits:
		return s.listCursor("/projects/"+project+"/repository/commits", entity.TableCommits, nil), nil

	case entity.TableCommitStats:
		// with_stats adds per-commit addition/deletion totals to the
		// listing, one aggregate stat row per commit.
		return s.listCursor("/projects/"+project+"/repository/commits?with_stats=true", entity.TableCommitStats, nil), nil

	case entity.TablePullRequests:
		return s.listCursor("/projects/"+project+"/merge_requests?state=all", entity.TablePullRequests, nil), nil

	case entity.TableFiles:
		return s.listCursor("/projects/"+project+"/repository/tree?recursive=true", entity.TableFiles, func(item map[string]any) bool {
			return provider.Str(item, "type") == "blob"
		}), nil
	}

	return nil, fmt.Errorf("gitlab: no cursor for table %q", table)
}

// listCursor pages a numbered listing. keep, when non-nil, filters
// entries out before they become items; fullness is still judged on the
// fetched count so filtering never ends the walk early.
func (s *Source) listCursor(path string, table entity.Table, keep func(map[string]any) bool) pagination.Cursor {
	return pagination.NewOffsetCursor(perPage, func(ctx context.Context, page, perPage int) (*pagination.Page, error) {
		var items []map[string]any
		meta, err := s.client.GetPage(ctx, path, page, perPage, &items)
		if err != nil {
			return nil, err
		}

		out := &pagination.Page{
			Items:   make([]entity.RawRecord, 0, len(items)),
			Fetched: len(items),
			Rate:    meta.Rate,
		}
		for _, item := range items {
			if keep != nil && !keep(item) {
				continue
			}
			out.Items = append(out.Items, entity.RawRecord{
				Provider: entity.ProviderGitLab,
				Table:    table,
				Data:     item,
			})
		}
		return out, nil
	})
}

// Transform normalizes one raw GitLab payload.
func (s *Source) Transform(raw entity.RawRecord, e entity.Entity) (entity.Record, error) {
	repoID := entity.RepoUUID(entity.ProviderGitLab, e.Identifier)

	switch raw.Table {
	case entity.TableRepos:
		return &entity.Repo{
			ID:        repoID,
			Repo:      e.Identifier,
			Ref:       provider.Str(raw.Data, "default_branch"),
			CreatedAt: provider.Time(raw.Data, "created_at"),
			Settings: map[string]any{
				"description": provider.Str(raw.Data, "description"),
				"visibility":  provider.Str(raw.Data, "visibility"),
				"archived":    provider.Bool(raw.Data, "archived"),
			},
			Tags: provider.StrList(raw.Data, "topics"),
		}, nil

	case entity.TableCommits:
		id := provider.Str(raw.Data, "id")
		if id == "" {
			return nil, fmt.Errorf("gitlab: commit payload without id for %s", e.Ref())
		}
		return &entity.Commit{
			RepoID:         repoID,
			Hash:           id,
			Message:        provider.Str(raw.Data, "message"),
			AuthorName:     provider.Str(raw.Data, "author_name"),
			AuthorEmail:    provider.Str(raw.Data, "author_email"),
			AuthorWhen:     provider.Time(raw.Data, "authored_date"),
			CommitterName:  provider.Str(raw.Data, "committer_name"),
			CommitterEmail: provider.Str(raw.Data, "committer_email"),
			CommitterWhen:  provider.Time(raw.Data, "committed_date"),
			Parents:        len(provider.List(raw.Data, "parent_ids")),
		}, nil

	case entity.TableCommitStats:
		id := provider.Str(raw.Data, "id")
		if id == "" {
			return nil, fmt.Errorf("gitlab: commit stat payload without id for %s", e.Ref())
		}
		return &entity.CommitStat{
			RepoID:      repoID,
			CommitHash:  id,
			FilePath:    entity.AggregateStatsMarker,
			Additions:   provider.Int(raw.Data, "stats", "additions"),
			Deletions:   provider.Int(raw.Data, "stats", "deletions"),
			OldFileMode: "unknown",
			NewFileMode: "unknown",
		}, nil

	case entity.TableFiles:
		path := provider.Str(raw.Data, "path")
		if path == "" {
			return nil, fmt.Errorf("gitlab: tree entry without path for %s", e.Ref())
		}
		return &entity.File{
			RepoID:     repoID,
			Path:       path,
			Executable: provider.Str(raw.Data, "mode") == "100755",
		}, nil

	case entity.TablePullRequests:
		iid := provider.Int(raw.Data, "iid")
		if iid == 0 {
			return nil, fmt.Errorf("gitlab: merge request payload without iid for %s", e.Ref())
		}
		return &entity.PullRequest{
			RepoID:     repoID,
			Number:     iid,
			Title:      provider.Str(raw.Data, "title"),
			State:      provider.Str(raw.Data, "state"),
			AuthorName: provider.Str(raw.Data, "author", "username"),
			CreatedAt:  provider.Time(raw.Data, "created_at"),
			MergedAt:   provider.TimePtr(raw.Data, "merged_at"),
			ClosedAt:   provider.TimePtr(raw.Data, "closed_at"),
			HeadBranch: provider.Str(raw.Data, "source_branch"),
			BaseBranch: provider.Str(raw.Data, "target_branch"),
		}, nil
	}

	return nil, fmt.Errorf("gitlab: no transform for table %q", raw.Table)
}
