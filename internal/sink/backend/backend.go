// Package backend defines the storage contract the sink flushes through.
// Implementations live in sibling packages (postgres, sqlite, memory) and
// share the versioned-upsert semantics: a row only replaces an existing
// row with the same key when its (synced_at, seq) version is greater or
// equal.
package backend

import (
	"context"
	"time"

	"github.com/chrisgeo/mergestat-syncs/internal/domain/entity"
)

// Row is one versioned record headed for storage. SyncedAt is the
// version stamp assigned at submit time; Seq breaks ties between rows
// stamped in the same instant, later submission winning.
type Row struct {
	Key      entity.Key
	SyncedAt time.Time
	Seq      int64
	Record   entity.Record
}

// Supersedes reports whether r should replace other under
// last-write-wins.
func (r Row) Supersedes(other Row) bool {
	if !r.SyncedAt.Equal(other.SyncedAt) {
		return r.SyncedAt.After(other.SyncedAt)
	}
	return r.Seq > other.Seq
}

// Backend executes bulk versioned upserts for one storage engine. Upsert
// must be idempotent: replaying a batch, in any interleaving with other
// batches, converges on the same stored state. Rows within one call are
// already deduplicated per key.
type Backend interface {
	// Name identifies the engine ("postgres", "sqlite", "memory") for
	// logs, metrics, and breaker naming.
	Name() string

	Upsert(ctx context.Context, table entity.Table, rows []Row) error

	Close() error
}
