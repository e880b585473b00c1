package ratelimit

import (
	"sync"

	"github.com/chrisgeo/mergestat-syncs/internal/domain/entity"
)

// Registry hands out one shared gate per provider. All workers fetching
// from the same provider must go through the same gate, whatever entity
// they are draining.
type Registry struct {
	mu      sync.Mutex
	configs map[entity.Provider]Config
	gates   map[entity.Provider]*Gate
}

// NewRegistry creates a registry. Per-provider configs are optional;
// providers without one get a zero Config (no pacing, budget-driven
// only).
func NewRegistry(configs map[entity.Provider]Config) *Registry {
	return &Registry{
		configs: configs,
		gates:   make(map[entity.Provider]*Gate),
	}
}

// Gate returns the shared gate for a provider, creating it on first use.
func (r *Registry) Gate(p entity.Provider) *Gate {
	r.mu.Lock()
	defer r.mu.Unlock()

	if g, ok := r.gates[p]; ok {
		return g
	}
	g := NewGate(p, r.configs[p])
	r.gates[p] = g
	return g
}
