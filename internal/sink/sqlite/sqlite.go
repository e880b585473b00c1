// Package sqlite implements the sink backend on SQLite through
// database/sql, for single-node and local runs. Same versioned-upsert
// semantics as the postgres backend, with ? placeholders and SQLite DDL.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3" // database/sql driver

	"github.com/chrisgeo/mergestat-syncs/internal/domain/entity"
	"github.com/chrisgeo/mergestat-syncs/internal/sink/backend"
)

// Backend is the SQLite sink backend.
type Backend struct {
	db *sql.DB
}

// Open opens the database file and bootstraps the schema.
func Open(ctx context.Context, path string) (*Backend, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite serializes writers; a single connection avoids lock
	// contention errors under the concurrent flusher.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	b := &Backend{db: db}
	if err := b.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

// NewWithDB wraps an existing handle. Schema bootstrap is the caller's
// responsibility.
func NewWithDB(db *sql.DB) *Backend {
	return &Backend{db: db}
}

func (b *Backend) Name() string { return "sqlite" }

func (b *Backend) Close() error { return b.db.Close() }

// Upsert writes one table's rows in a single statement, replacing only
// rows with an older (synced_at, seq) version.
func (b *Backend) Upsert(ctx context.Context, table entity.Table, rows []backend.Row) error {
	if len(rows) == 0 {
		return nil
	}

	cols, conflict, err := backend.Shape(table)
	if err != nil {
		return err
	}
	allCols := append(append([]string{}, cols...), "synced_at", "seq")

	var sb strings.Builder
	args := make([]any, 0, len(rows)*len(allCols))

	sb.WriteString("INSERT INTO ")
	sb.WriteString(string(table))
	sb.WriteString(" (")
	sb.WriteString(strings.Join(allCols, ", "))
	sb.WriteString(") VALUES ")

	placeholder := "(" + strings.Repeat("?, ", len(allCols)-1) + "?)"
	for i, row := range rows {
		vals, err := backend.Values(row)
		if err != nil {
			return fmt.Errorf("upsert %s: %w", table, err)
		}
		vals = append(vals, row.SyncedAt, row.Seq)

		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(placeholder)
		args = append(args, vals...)
	}

	sb.WriteString(" ON CONFLICT (")
	sb.WriteString(strings.Join(conflict, ", "))
	sb.WriteString(") DO UPDATE SET ")

	isKey := make(map[string]bool, len(conflict))
	for _, c := range conflict {
		isKey[c] = true
	}
	var updates []string
	for _, c := range allCols {
		if !isKey[c] {
			updates = append(updates, c+" = excluded."+c)
		}
	}
	sb.WriteString(strings.Join(updates, ", "))
	fmt.Fprintf(&sb,
		" WHERE excluded.synced_at > %s.synced_at OR (excluded.synced_at = %s.synced_at AND excluded.seq >= %s.seq)",
		table, table, table)

	if _, err := b.db.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("upsert %s: %w", table, err)
	}
	return nil
}

// EnsureSchema creates the sync tables when missing.
func (b *Backend) EnsureSchema(ctx context.Context) error {
	for _, ddl := range schemaDDL {
		if _, err := b.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS repos (
		id TEXT PRIMARY KEY,
		repo TEXT NOT NULL,
		ref TEXT,
		created_at TIMESTAMP,
		settings TEXT,
		tags TEXT,
		synced_at TIMESTAMP NOT NULL,
		seq INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS git_commits (
		repo_id TEXT NOT NULL,
		hash TEXT NOT NULL,
		message TEXT,
		author_name TEXT,
		author_email TEXT,
		author_when TIMESTAMP,
		committer_name TEXT,
		committer_email TEXT,
		committer_when TIMESTAMP,
		parents INTEGER,
		synced_at TIMESTAMP NOT NULL,
		seq INTEGER NOT NULL,
		PRIMARY KEY (repo_id, hash)
	)`,
	`CREATE TABLE IF NOT EXISTS git_commit_stats (
		repo_id TEXT NOT NULL,
		commit_hash TEXT NOT NULL,
		file_path TEXT NOT NULL,
		additions INTEGER,
		deletions INTEGER,
		old_file_mode TEXT,
		new_file_mode TEXT,
		synced_at TIMESTAMP NOT NULL,
		seq INTEGER NOT NULL,
		PRIMARY KEY (repo_id, commit_hash, file_path)
	)`,
	`CREATE TABLE IF NOT EXISTS git_pull_requests (
		repo_id TEXT NOT NULL,
		number INTEGER NOT NULL,
		title TEXT,
		state TEXT,
		author_name TEXT,
		author_email TEXT,
		created_at TIMESTAMP,
		merged_at TIMESTAMP,
		closed_at TIMESTAMP,
		head_branch TEXT,
		base_branch TEXT,
		synced_at TIMESTAMP NOT NULL,
		seq INTEGER NOT NULL,
		PRIMARY KEY (repo_id, number)
	)`,
	`CREATE TABLE IF NOT EXISTS git_files (
		repo_id TEXT NOT NULL,
		path TEXT NOT NULL,
		executable INTEGER,
		contents TEXT,
		synced_at TIMESTAMP NOT NULL,
		seq INTEGER NOT NULL,
		PRIMARY KEY (repo_id, path)
	)`,
}
