// Package memory is the in-process backend used by tests and dry runs.
// Writes append; reads surface the winning version per key, modeling an
// append-only store compacted on read.
package memory

import (
	"context"
	"sync"

	"github.com/chrisgeo/mergestat-syncs/internal/domain/entity"
	"github.com/chrisgeo/mergestat-syncs/internal/sink/backend"
)

// Store is an append-only in-memory backend.
type Store struct {
	mu     sync.RWMutex
	tables map[entity.Table][]backend.Row
}

// New creates an empty store.
func New() *Store {
	return &Store{tables: make(map[entity.Table][]backend.Row)}
}

func (s *Store) Name() string { return "memory" }

// Upsert appends the rows. Version resolution happens at read time.
func (s *Store) Upsert(ctx context.Context, table entity.Table, rows []backend.Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[table] = append(s.tables[table], rows...)
	return nil
}

func (s *Store) Close() error { return nil }

// Get returns the winning version of one key, or false when the key was
// never written.
func (s *Store) Get(key entity.Key) (backend.Row, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best backend.Row
	found := false
	for _, row := range s.tables[key.Table] {
		if row.Key != key {
			continue
		}
		if !found || row.Supersedes(best) {
			best = row
			found = true
		}
	}
	return best, found
}

// Rows returns the compacted view of one table: one winning row per key,
// in first-write order.
func (s *Store) Rows(table entity.Table) []backend.Row {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := make(map[string]int)
	var out []backend.Row
	for _, row := range s.tables[table] {
		k := row.Key.String()
		if i, ok := idx[k]; ok {
			if row.Supersedes(out[i]) {
				out[i] = row
			}
			continue
		}
		idx[k] = len(out)
		out = append(out, row)
	}
	return out
}

// Appended reports the raw append count for a table, compaction aside.
func (s *Store) Appended(table entity.Table) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tables[table])
}
