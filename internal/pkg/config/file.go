package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileConfig is the optional YAML configuration file naming enabled
// providers and the selectors to sync. Environment variables override
// credential values loaded here.
//
// Example:
//
//	providers:
//	  github:
//	    enabled: true
//	    token_env: GITHUB_TOKEN
//	  gitlab:
//	    enabled: false
//	selectors:
//	  - provider: github
//	    group: chrisgeo
//	    pattern: "mergestat-*"
type FileConfig struct {
	Providers map[string]ProviderConfig `yaml:"providers"`
	Selectors []SelectorConfig          `yaml:"selectors"`
}

// ProviderConfig toggles one provider and names where its credential
// comes from.
type ProviderConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
	// TokenEnv is the environment variable holding the credential.
	// Tokens never live in the file itself.
	TokenEnv string `yaml:"token_env"`
	// PaceRPS is a steady-state request rate ceiling for this provider,
	// in requests per second. Zero leaves pacing off and lets the
	// observed budget alone gate requests.
	PaceRPS float64 `yaml:"pace_rps"`
}

// SelectorConfig is one entity selector: a group (org, user, namespace)
// plus a glob pattern over entity identifiers.
type SelectorConfig struct {
	Provider string `yaml:"provider"`
	Group    string `yaml:"group"`
	Pattern  string `yaml:"pattern"`
}

// LoadFile parses a FileConfig from path.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	for i, sel := range cfg.Selectors {
		if sel.Provider == "" {
			return nil, fmt.Errorf("selector %d: provider is required", i)
		}
		if sel.Group == "" {
			return nil, fmt.Errorf("selector %d: group is required", i)
		}
	}

	return &cfg, nil
}
