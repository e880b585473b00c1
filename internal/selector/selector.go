// Package selector materializes the entity list for one run from the
// configured glob selectors.
package selector

import (
	"context"
	"fmt"
	"log/slog"
	"path"

	"github.com/chrisgeo/mergestat-syncs/internal/domain/entity"
	"github.com/chrisgeo/mergestat-syncs/internal/provider"
)

// Spec is one configured selector: which provider to list, which group
// (org, user, namespace), and an optional identifier glob.
type Spec struct {
	Provider entity.Provider
	Group    string
	Pattern  string
}

// Resolve expands every spec against its source and returns the
// deduplicated entity list, capped at maxEntities (zero means no cap).
// Provider listing order is preserved; specs whose provider has no
// registered source or is disabled are skipped with a warning.
func Resolve(
	ctx context.Context,
	sources map[entity.Provider]provider.Source,
	caps provider.Capabilities,
	specs []Spec,
	maxEntities int,
) ([]entity.Entity, error) {
	var out []entity.Entity
	seen := make(map[string]bool)

	for _, spec := range specs {
		if !caps.Allows(spec.Provider) {
			slog.Warn("selector skipped, provider disabled",
				slog.String("provider", string(spec.Provider)),
				slog.String("group", spec.Group))
			continue
		}
		src, ok := sources[spec.Provider]
		if !ok {
			slog.Warn("selector skipped, no source registered",
				slog.String("provider", string(spec.Provider)),
				slog.String("group", spec.Group))
			continue
		}

		listed, err := src.ListEntities(ctx, provider.Selector{Group: spec.Group, Pattern: spec.Pattern})
		if err != nil {
			return nil, fmt.Errorf("list %s/%s: %w", spec.Provider, spec.Group, err)
		}

		for _, e := range listed {
			match, err := matches(spec.Pattern, e.Identifier)
			if err != nil {
				return nil, fmt.Errorf("selector pattern %q: %w", spec.Pattern, err)
			}
			if !match || seen[e.Ref()] {
				continue
			}
			seen[e.Ref()] = true
			out = append(out, e)

			if maxEntities > 0 && len(out) >= maxEntities {
				slog.Info("entity cap reached",
					slog.Int("max_entities", maxEntities))
				return out, nil
			}
		}
	}

	return out, nil
}

// matches applies the glob to the identifier. Identifiers are
// slash-separated (org/repo); the glob follows path.Match semantics, so
// "acme/*" matches direct children only. It is also tried against the
// final path element so a bare "infra-*" works across groups.
func matches(pattern, identifier string) (bool, error) {
	if pattern == "" {
		return true, nil
	}
	ok, err := path.Match(pattern, identifier)
	if err != nil || ok {
		return ok, err
	}
	return path.Match(pattern, path.Base(identifier))
}
