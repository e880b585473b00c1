package github

import (
	"context"
	"fmt"
	"net/url"

	"github.com/chrisgeo/mergestat-syncs/internal/domain/entity"
	"github.com/chrisgeo/mergestat-syncs/internal/pagination"
	"github.com/chrisgeo/mergestat-syncs/internal/provider"
)

const perPage = 100

// Source syncs GitHub organizations and users.
type Source struct {
	client *Client
}

// NewSource creates the GitHub source.
func NewSource(client *Client) *Source {
	return &Source{client: client}
}

func (s *Source) Provider() entity.Provider { return entity.ProviderGitHub }

func (s *Source) Tables() []entity.Table {
	return []entity.Table{
		entity.TableRepos,
		entity.TableCommits,
		entity.TableCommitStats,
		entity.TablePullRequests,
		entity.TableFiles,
	}
}

// ListEntities enumerates the repositories of an organization, falling
// back to the user listing when the group is not an org.
func (s *Source) ListEntities(ctx context.Context, sel provider.Selector) ([]entity.Entity, error) {
	repos, err := s.listRepos(ctx, s.client.URL(fmt.Sprintf("/orgs/%s/repos?per_page=%d", url.PathEscape(sel.Group), perPage)))
	if entity.IsNotFound(err) {
		repos, err = s.listRepos(ctx, s.client.URL(fmt.Sprintf("/users/%s/repos?per_page=%d", url.PathEscape(sel.Group), perPage)))
	}
	if err != nil {
		return nil, err
	}

	out := make([]entity.Entity, 0, len(repos))
	for _, r := range repos {
		name := provider.Str(r, "full_name")
		if name == "" {
			continue
		}
		out = append(out, entity.Entity{Provider: entity.ProviderGitHub, Identifier: name})
	}
	return out, nil
}

func (s *Source) listRepos(ctx context.Context, startURL string) ([]map[string]any, error) {
	var all []map[string]any
	next := startURL
	for next != "" {
		var page []map[string]any
		meta, err := s.client.Get(ctx, next, &page)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		next = meta.Next
	}
	return all, nil
}

// HistoryCursor opens the cursor for one table of one repository.
func (s *Source) HistoryCursor(ctx context.Context, e entity.Entity, table entity.Table) (pagination.Cursor, error) {
	repoPath := "/repos/" + e.Identifier

	switch table {
	case entity.TableRepos:
		// A single lookup, still fetched through the cursor so the
		// acquire/observe cycle applies to it like any page.
		start := s.client.URL(repoPath)
		return pagination.NewTokenCursor(start, func(ctx context.Context, pos string) (*pagination.Page, string, bool, error) {
			var repo map[string]any
			meta, err := s.client.Get(ctx, pos, &repo)
			if err != nil {
				return nil, "", false, err
			}
			page := &pagination.Page{
				Items: []entity.RawRecord{{Provider: entity.ProviderGitHub, Table: entity.TableRepos, Data: repo}},
				Rate:  meta.Rate,
			}
			return page, "", false, nil
		}), nil

	case entity.TableCommits:
		start := s.client.URL(fmt.Sprintf("%s/commits?per_page=%d", repoPath, perPage))
		return s.listCursor(start, entity.TableCommits), nil

	case entity.TableCommitStats:
		return &commitStatsCursor{
			src:      s,
			repoPath: repoPath,
			listURL:  s.client.URL(fmt.Sprintf("%s/commits?per_page=%d", repoPath, perPage)),
		}, nil

	case entity.TablePullRequests:
		start := s.client.URL(fmt.Sprintf("%s/pulls?state=all&per_page=%d", repoPath, perPage))
		return s.listCursor(start, entity.TablePullRequests), nil

	case entity.TableFiles:
		// One recursive tree listing of the default branch head. Entries
		// that are not blobs never reach the transform.
		start := s.client.URL(repoPath + "/git/trees/HEAD?recursive=1")
		return pagination.NewTokenCursor(start, func(ctx context.Context, pos string) (*pagination.Page, string, bool, error) {
			var tree map[string]any
			meta, err := s.client.Get(ctx, pos, &tree)
			if err != nil {
				return nil, "", false, err
			}
			page := &pagination.Page{Rate: meta.Rate}
			for _, raw := range provider.List(tree, "tree") {
				item, ok := raw.(map[string]any)
				if !ok || provider.Str(item, "type") != "blob" {
					continue
				}
				page.Items = append(page.Items, entity.RawRecord{
					Provider: entity.ProviderGitHub,
					Table:    entity.TableFiles,
					Data:     item,
				})
			}
			return page, "", false, nil
		}), nil
	}

	return nil, fmt.Errorf("github: no cursor for table %q", table)
}

// listCursor walks a Link-header paginated listing as a token cursor.
func (s *Source) listCursor(start string, table entity.Table) pagination.Cursor {
	return pagination.NewTokenCursor(start, func(ctx context.Context, pos string) (*pagination.Page, string, bool, error) {
		var items []map[string]any
		meta, err := s.client.Get(ctx, pos, &items)
		if err != nil {
			return nil, "", false, err
		}

		page := &pagination.Page{
			Items: make([]entity.RawRecord, 0, len(items)),
			Rate:  meta.Rate,
		}
		for _, item := range items {
			page.Items = append(page.Items, entity.RawRecord{
				Provider: entity.ProviderGitHub,
				Table:    table,
				Data:     item,
			})
		}
		return page, meta.Next, meta.Next != "", nil
	})
}

// commitStatsCursor walks the commit listing and fetches each commit's
// detail for its per-file stats. Every Next is exactly one request, so
// the acquire/observe cycle paces the detail fetches like any page. A
// listing page yields no items itself; the details that follow do.
type commitStatsCursor struct {
	src      *Source
	repoPath string
	listURL  string // next commit-list page, empty once exhausted
	shas     []string
	pos      string
	done     bool
}

func (c *commitStatsCursor) Position() string { return c.pos }

func (c *commitStatsCursor) Next(ctx context.Context) (*pagination.Page, error) {
	if c.done {
		return nil, pagination.ErrDone
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(c.shas) == 0 {
		if c.listURL == "" {
			c.done = true
			return nil, pagination.ErrDone
		}
		c.pos = c.listURL
		var items []map[string]any
		meta, err := c.src.client.Get(ctx, c.listURL, &items)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			if sha := provider.Str(item, "sha"); sha != "" {
				c.shas = append(c.shas, sha)
			}
		}
		c.listURL = meta.Next
		return &pagination.Page{Rate: meta.Rate}, nil
	}

	sha := c.shas[0]
	c.shas = c.shas[1:]
	c.pos = sha

	var detail map[string]any
	meta, err := c.src.client.Get(ctx, c.src.client.URL(c.repoPath+"/commits/"+sha), &detail)
	if err != nil {
		return nil, err
	}

	page := &pagination.Page{Rate: meta.Rate}
	for _, raw := range provider.List(detail, "files") {
		file, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		data := make(map[string]any, len(file)+1)
		for k, v := range file {
			data[k] = v
		}
		data["sha"] = sha
		page.Items = append(page.Items, entity.RawRecord{
			Provider: entity.ProviderGitHub,
			Table:    entity.TableCommitStats,
			Data:     data,
		})
	}
	if len(page.Items) == 0 {
		// No per-file breakdown in the detail; keep the commit totals as
		// an aggregate row.
		page.Items = append(page.Items, entity.RawRecord{
			Provider: entity.ProviderGitHub,
			Table:    entity.TableCommitStats,
			Data: map[string]any{
				"sha":       sha,
				"filename":  entity.AggregateStatsMarker,
				"additions": provider.Int(detail, "stats", "additions"),
				"deletions": provider.Int(detail, "stats", "deletions"),
			},
		})
	}
	return page, nil
}

// Transform normalizes one raw GitHub payload.
func (s *Source) Transform(raw entity.RawRecord, e entity.Entity) (entity.Record, error) {
	repoID := entity.RepoUUID(entity.ProviderGitHub, e.Identifier)

	switch raw.Table {
	case entity.TableRepos:
		return &entity.Repo{
			ID:        repoID,
			Repo:      e.Identifier,
			Ref:       provider.Str(raw.Data, "default_branch"),
			CreatedAt: provider.Time(raw.Data, "created_at"),
			Settings: map[string]any{
				"description": provider.Str(raw.Data, "description"),
				"language":    provider.Str(raw.Data, "language"),
				"private":     provider.Bool(raw.Data, "private"),
				"archived":    provider.Bool(raw.Data, "archived"),
			},
			Tags: provider.StrList(raw.Data, "topics"),
		}, nil

	case entity.TableCommits:
		sha := provider.Str(raw.Data, "sha")
		if sha == "" {
			return nil, fmt.Errorf("github: commit payload without sha for %s", e.Ref())
		}
		return &entity.Commit{
			RepoID:         repoID,
			Hash:           sha,
			Message:        provider.Str(raw.Data, "commit", "message"),
			AuthorName:     provider.Str(raw.Data, "commit", "author", "name"),
			AuthorEmail:    provider.Str(raw.Data, "commit", "author", "email"),
			AuthorWhen:     provider.Time(raw.Data, "commit", "author", "date"),
			CommitterName:  provider.Str(raw.Data, "commit", "committer", "name"),
			CommitterEmail: provider.Str(raw.Data, "commit", "committer", "email"),
			CommitterWhen:  provider.Time(raw.Data, "commit", "committer", "date"),
			Parents:        len(provider.List(raw.Data, "parents")),
		}, nil

	case entity.TableCommitStats:
		sha := provider.Str(raw.Data, "sha")
		if sha == "" {
			return nil, fmt.Errorf("github: commit stat payload without sha for %s", e.Ref())
		}
		path := provider.Str(raw.Data, "filename")
		if path == "" {
			path = entity.AggregateStatsMarker
		}
		return &entity.CommitStat{
			RepoID:      repoID,
			CommitHash:  sha,
			FilePath:    path,
			Additions:   provider.Int(raw.Data, "additions"),
			Deletions:   provider.Int(raw.Data, "deletions"),
			OldFileMode: "unknown",
			NewFileMode: "unknown",
		}, nil

	case entity.TableFiles:
		path := provider.Str(raw.Data, "path")
		if path == "" {
			return nil, fmt.Errorf("github: tree entry without path for %s", e.Ref())
		}
		return &entity.File{
			RepoID:     repoID,
			Path:       path,
			Executable: provider.Str(raw.Data, "mode") == "100755",
		}, nil

	case entity.TablePullRequests:
		number := provider.Int(raw.Data, "number")
		if number == 0 {
			return nil, fmt.Errorf("github: pull request payload without number for %s", e.Ref())
		}
		return &entity.PullRequest{
			RepoID:     repoID,
			Number:     number,
			Title:      provider.Str(raw.Data, "title"),
			State:      provider.Str(raw.Data, "state"),
			AuthorName: provider.Str(raw.Data, "user", "login"),
			CreatedAt:  provider.Time(raw.Data, "created_at"),
			MergedAt:   provider.TimePtr(raw.Data, "merged_at"),
			ClosedAt:   provider.TimePtr(raw.Data, "closed_at"),
			HeadBranch: provider.Str(raw.Data, "head", "ref"),
			BaseBranch: provider.Str(raw.Data, "base", "ref"),
		}, nil
	}

	return nil, fmt.Errorf("github: no transform for table %q", raw.Table)
}
