// Package provider defines the source abstraction the sync pipeline
// drains: listing entities, opening history cursors per table, and
// transforming raw provider payloads into normalized records.
package provider

import (
	"context"

	"github.com/chrisgeo/mergestat-syncs/internal/domain/entity"
	"github.com/chrisgeo/mergestat-syncs/internal/pagination"
)

// Selector names one listing query against a provider: every entity in
// Group whose identifier matches Pattern (path.Match syntax, empty
// matches everything).
type Selector struct {
	Group   string
	Pattern string
}

// Source is one provider connector. Implementations are stateless
// beyond their HTTP client; all rate budgeting happens in the gate and
// all persistence in the sink.
type Source interface {
	// Provider identifies this source.
	Provider() entity.Provider

	// ListEntities enumerates the entities in a selector's group, in
	// provider listing order. Pattern filtering happens in the selector
	// layer, not here.
	ListEntities(ctx context.Context, sel Selector) ([]entity.Entity, error)

	// Tables reports the record tables this source syncs, in drain
	// order.
	Tables() []entity.Table

	// HistoryCursor opens a cursor over one entity's history for one
	// table.
	HistoryCursor(ctx context.Context, e entity.Entity, table entity.Table) (pagination.Cursor, error)

	// Transform converts one raw provider payload into a normalized
	// record. Pure; returns an error for malformed payloads.
	Transform(raw entity.RawRecord, e entity.Entity) (entity.Record, error)
}

// Capabilities describes which providers a run may touch. Sources whose
// provider is disabled are skipped at entity resolution.
type Capabilities struct {
	Enabled map[entity.Provider]bool
}

// Allows reports whether the provider is enabled. An empty capability
// set allows everything.
func (c Capabilities) Allows(p entity.Provider) bool {
	if len(c.Enabled) == 0 {
		return true
	}
	return c.Enabled[p]
}
