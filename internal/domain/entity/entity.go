// Package entity defines the core domain types for the sync pipeline:
// providers, entities, normalized records, and per-run outcomes.
package entity

import "fmt"

// Provider identifies an external activity source.
type Provider string

const (
	ProviderGitHub Provider = "github"
	ProviderGitLab Provider = "gitlab"
	ProviderLocal  Provider = "local"
)

// Valid reports whether p is a known provider.
func (p Provider) Valid() bool {
	switch p {
	case ProviderGitHub, ProviderGitLab, ProviderLocal:
		return true
	}
	return false
}

// Entity is one remote unit of work: a repository, project, or provider
// scope targeted for ingestion. Entities are materialized once per run
// from a selector and are immutable for the duration of the run.
type Entity struct {
	// Provider is the external system this entity lives in.
	Provider Provider

	// Identifier is the provider-specific key, e.g. "owner/name" for
	// GitHub or a numeric project id for GitLab.
	Identifier string

	// CredentialRef names the credential used to access the entity.
	// Resolution of the reference into a token happens upstream.
	CredentialRef string
}

// Ref returns a stable human-readable reference for logs and summaries.
func (e Entity) Ref() string {
	return fmt.Sprintf("%s:%s", e.Provider, e.Identifier)
}
