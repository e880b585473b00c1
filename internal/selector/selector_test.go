package selector

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrisgeo/mergestat-syncs/internal/domain/entity"
	"github.com/chrisgeo/mergestat-syncs/internal/pagination"
	"github.com/chrisgeo/mergestat-syncs/internal/provider"
)

type stubSource struct {
	provider entity.Provider
	entities []entity.Entity
	listErr  error
}

func (s *stubSource) Provider() entity.Provider { return s.provider }

func (s *stubSource) ListEntities(context.Context, provider.Selector) ([]entity.Entity, error) {
	return s.entities, s.listErr
}

func (s *stubSource) Tables() []entity.Table { return nil }

func (s *stubSource) HistoryCursor(context.Context, entity.Entity, entity.Table) (pagination.Cursor, error) {
	return nil, errors.New("not implemented")
}

func (s *stubSource) Transform(entity.RawRecord, entity.Entity) (entity.Record, error) {
	return nil, errors.New("not implemented")
}

func ghEntities(ids ...string) []entity.Entity {
	out := make([]entity.Entity, len(ids))
	for i, id := range ids {
		out[i] = entity.Entity{Provider: entity.ProviderGitHub, Identifier: id}
	}
	return out
}

func TestResolve_GlobFiltersIdentifiers(t *testing.T) {
	sources := map[entity.Provider]provider.Source{
		entity.ProviderGitHub: &stubSource{
			provider: entity.ProviderGitHub,
			entities: ghEntities("acme/api", "acme/web", "acme/infra-tools", "other/api"),
		},
	}

	got, err := Resolve(context.Background(), sources, provider.Capabilities{},
		[]Spec{{Provider: entity.ProviderGitHub, Group: "acme", Pattern: "acme/*"}}, 0)
	require.NoError(t, err)

	ids := make([]string, len(got))
	for i, e := range got {
		ids[i] = e.Identifier
	}
	assert.Equal(t, []string{"acme/api", "acme/web", "acme/infra-tools"}, ids,
		"listing order preserved, non-matching dropped")
}

func TestResolve_PatternMatchesBaseName(t *testing.T) {
	sources := map[entity.Provider]provider.Source{
		entity.ProviderGitHub: &stubSource{
			provider: entity.ProviderGitHub,
			entities: ghEntities("acme/infra-tools", "acme/api"),
		},
	}

	got, err := Resolve(context.Background(), sources, provider.Capabilities{},
		[]Spec{{Provider: entity.ProviderGitHub, Group: "acme", Pattern: "infra-*"}}, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "acme/infra-tools", got[0].Identifier)
}

func TestResolve_MaxEntitiesCap(t *testing.T) {
	sources := map[entity.Provider]provider.Source{
		entity.ProviderGitHub: &stubSource{
			provider: entity.ProviderGitHub,
			entities: ghEntities("a/1", "a/2", "a/3", "a/4", "a/5"),
		},
	}

	got, err := Resolve(context.Background(), sources, provider.Capabilities{},
		[]Spec{{Provider: entity.ProviderGitHub, Group: "a"}}, 3)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestResolve_Deduplicates(t *testing.T) {
	sources := map[entity.Provider]provider.Source{
		entity.ProviderGitHub: &stubSource{
			provider: entity.ProviderGitHub,
			entities: ghEntities("acme/api", "acme/web"),
		},
	}

	specs := []Spec{
		{Provider: entity.ProviderGitHub, Group: "acme", Pattern: "acme/*"},
		{Provider: entity.ProviderGitHub, Group: "acme", Pattern: "*/api"},
	}
	got, err := Resolve(context.Background(), sources, provider.Capabilities{}, specs, 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestResolve_SkipsDisabledProvider(t *testing.T) {
	sources := map[entity.Provider]provider.Source{
		entity.ProviderGitHub: &stubSource{
			provider: entity.ProviderGitHub,
			entities: ghEntities("acme/api"),
		},
	}
	caps := provider.Capabilities{Enabled: map[entity.Provider]bool{entity.ProviderGitLab: true}}

	got, err := Resolve(context.Background(), sources, caps,
		[]Spec{{Provider: entity.ProviderGitHub, Group: "acme"}}, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestResolve_ListErrorSurfaces(t *testing.T) {
	boom := errors.New("listing failed")
	sources := map[entity.Provider]provider.Source{
		entity.ProviderGitHub: &stubSource{provider: entity.ProviderGitHub, listErr: boom},
	}

	_, err := Resolve(context.Background(), sources, provider.Capabilities{},
		[]Spec{{Provider: entity.ProviderGitHub, Group: "acme"}}, 0)
	assert.ErrorIs(t, err, boom)
}
