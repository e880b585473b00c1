package entity

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Table names a normalized domain table. The set mirrors the MergeStat
// schema the pipeline writes into.
type Table string

const (
	TableRepos        Table = "repos"
	TableCommits      Table = "git_commits"
	TableCommitStats  Table = "git_commit_stats"
	TablePullRequests Table = "git_pull_requests"
	TableFiles        Table = "git_files"
)

// Key is the natural composite key a record is deduplicated on. ID is
// the domain-defined composite (e.g. repo UUID + commit hash), never a
// storage-assigned identifier.
type Key struct {
	Table Table
	ID    string
}

func (k Key) String() string {
	return string(k.Table) + "/" + k.ID
}

// Record is a normalized record ready for the sink. Two records with the
// same Key are resolved last-write-wins on the synced_at version stamp
// assigned at write time.
type Record interface {
	Key() Key
}

// RawRecord is the tagged, still-provider-shaped form of a fetched item.
// Provider payloads are duck-typed JSON; validation into a Record happens
// at the transformation boundary and nowhere else.
type RawRecord struct {
	Provider Provider
	Table    Table
	Data     map[string]any
}

// repoNamespace seeds deterministic repo UUIDs. Fixed so the same
// provider+identifier always maps to the same repo id across runs.
var repoNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// RepoUUID derives a deterministic UUID for a repository from its
// provider and identifier. Stable ids keep re-runs and overlapping
// backfills converging on the same rows.
func RepoUUID(provider Provider, identifier string) uuid.UUID {
	normalized := string(provider) + ":" + strings.ToLower(strings.TrimSpace(identifier))
	return uuid.NewSHA1(repoNamespace, []byte(normalized))
}

// AggregateStatsMarker is the sentinel commit hash / file path used for
// repo-level aggregate commit stats where per-commit detail was not
// fetched.
const AggregateStatsMarker = "__aggregate__"

// Repo is one row of the repos table.
type Repo struct {
	ID        uuid.UUID
	Repo      string // canonical identifier or URL for the repo
	Ref       string
	CreatedAt time.Time
	Settings  map[string]any
	Tags      []string
}

func (r *Repo) Key() Key {
	return Key{Table: TableRepos, ID: r.ID.String()}
}

// Commit is one row of the git_commits table.
type Commit struct {
	RepoID         uuid.UUID
	Hash           string
	Message        string
	AuthorName     string
	AuthorEmail    string
	AuthorWhen     time.Time
	CommitterName  string
	CommitterEmail string
	CommitterWhen  time.Time
	Parents        int
}

func (c *Commit) Key() Key {
	return Key{Table: TableCommits, ID: c.RepoID.String() + "/" + c.Hash}
}

// CommitStat is one row of the git_commit_stats table: per-file additions
// and deletions for a commit, or an aggregate marker row.
type CommitStat struct {
	RepoID      uuid.UUID
	CommitHash  string
	FilePath    string
	Additions   int
	Deletions   int
	OldFileMode string
	NewFileMode string
}

func (s *CommitStat) Key() Key {
	return Key{Table: TableCommitStats, ID: fmt.Sprintf("%s/%s/%s", s.RepoID, s.CommitHash, s.FilePath)}
}

// PullRequest is one row of the git_pull_requests table. GitLab merge
// requests normalize into the same shape.
type PullRequest struct {
	RepoID      uuid.UUID
	Number      int
	Title       string
	State       string
	AuthorName  string
	AuthorEmail string
	CreatedAt   time.Time
	MergedAt    *time.Time
	ClosedAt    *time.Time
	HeadBranch  string
	BaseBranch  string
}

func (p *PullRequest) Key() Key {
	return Key{Table: TablePullRequests, ID: fmt.Sprintf("%s/%d", p.RepoID, p.Number)}
}

// File is one row of the git_files table.
type File struct {
	RepoID     uuid.UUID
	Path       string
	Executable bool
	Contents   *string
}

func (f *File) Key() Key {
	return Key{Table: TableFiles, ID: f.RepoID.String() + "/" + f.Path}
}
