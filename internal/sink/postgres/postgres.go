// Package postgres implements the sink backend on PostgreSQL via the pgx
// stdlib driver. Upserts are bulk multi-row INSERT ... ON CONFLICT
// statements guarded by the (synced_at, seq) version, so replays and
// out-of-order flushes converge.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver

	"github.com/chrisgeo/mergestat-syncs/internal/domain/entity"
	"github.com/chrisgeo/mergestat-syncs/internal/sink/backend"
)

// Backend is the PostgreSQL sink backend.
type Backend struct {
	db *sql.DB
}

// Open connects, verifies the connection, and bootstraps the schema.
func Open(ctx context.Context, dsn string) (*Backend, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	b := &Backend{db: db}
	if err := b.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

// NewWithDB wraps an existing connection pool. Schema bootstrap is the
// caller's responsibility.
func NewWithDB(db *sql.DB) *Backend {
	return &Backend{db: db}
}

func (b *Backend) Name() string { return "postgres" }

func (b *Backend) Close() error { return b.db.Close() }

// Upsert writes one table's rows in a single statement. A row only
// replaces an existing one when its version is greater or equal, so the
// statement is safe to replay.
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

	n := 1
	for i, row := range rows {
		vals, err := backend.Values(row)
		if err != nil {
			return fmt.Errorf("upsert %s: %w", table, err)
		}
		vals = append(vals, row.SyncedAt, row.Seq)

		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for j := range vals {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", n)
			n++
		}
		sb.WriteByte(')')
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
	fmt.Fprintf(&sb, " WHERE (excluded.synced_at, excluded.seq) >= (%s.synced_at, %s.seq)", table, table)

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
		id UUID PRIMARY KEY,
		repo TEXT NOT NULL,
		ref TEXT,
		created_at TIMESTAMPTZ,
		settings JSONB,
		tags JSONB,
		synced_at TIMESTAMPTZ NOT NULL,
		seq BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS git_commits (
		repo_id UUID NOT NULL,
		hash TEXT NOT NULL,
		message TEXT,
		author_name TEXT,
		author_email TEXT,
		author_when TIMESTAMPTZ,
		committer_name TEXT,
		committer_email TEXT,
		committer_when TIMESTAMPTZ,
		parents INTEGER,
		synced_at TIMESTAMPTZ NOT NULL,
		seq BIGINT NOT NULL,
		PRIMARY KEY (repo_id, hash)
	)`,
	`CREATE TABLE IF NOT EXISTS git_commit_stats (
		repo_id UUID NOT NULL,
		commit_hash TEXT NOT NULL,
		file_path TEXT NOT NULL,
		additions INTEGER,
		deletions INTEGER,
		old_file_mode TEXT,
		new_file_mode TEXT,
		synced_at TIMESTAMPTZ NOT NULL,
		seq BIGINT NOT NULL,
		PRIMARY KEY (repo_id, commit_hash, file_path)
	)`,
	`CREATE TABLE IF NOT EXISTS git_pull_requests (
		repo_id UUID NOT NULL,
		number INTEGER NOT NULL,
		title TEXT,
		state TEXT,
		author_name TEXT,
		author_email TEXT,
		created_at TIMESTAMPTZ,
		merged_at TIMESTAMPTZ,
		closed_at TIMESTAMPTZ,
		head_branch TEXT,
		base_branch TEXT,
		synced_at TIMESTAMPTZ NOT NULL,
		seq BIGINT NOT NULL,
		PRIMARY KEY (repo_id, number)
	)`,
	`CREATE TABLE IF NOT EXISTS git_files (
		repo_id UUID NOT NULL,
		path TEXT NOT NULL,
		executable BOOLEAN,
		contents TEXT,
		synced_at TIMESTAMPTZ NOT NULL,
		seq BIGINT NOT NULL,
		PRIMARY KEY (repo_id, path)
	)`,
}
