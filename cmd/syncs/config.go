package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/chrisgeo/mergestat-syncs/internal/pkg/config"
)

// SyncConfig holds the operational parameters for one sync process,
// loaded fail-open from the environment: an invalid value logs a
// warning and falls back to its default rather than blocking the run.
type SyncConfig struct {
	// BatchSize is the number of entities per ordered batch.
	BatchSize int

	// MaxConcurrent bounds entities fetched in parallel within a batch.
	MaxConcurrent int

	// RateLimitDelay is the pause between consecutive batches.
	RateLimitDelay time.Duration

	// PaceRPS is a steady-state request rate ceiling applied to every
	// provider gate, in requests per second. Zero disables pacing; a
	// per-provider pace_rps in the config file overrides it.
	PaceRPS float64

	// MaxItemsPerEntity caps records fetched per entity per table.
	// Zero means unlimited; used for dry runs.
	MaxItemsPerEntity int

	// MaxEntities caps the materialized entity list. Zero means
	// unlimited.
	MaxEntities int

	// FlushSize and FlushInterval tune the sink flush policy.
	FlushSize     int
	FlushInterval time.Duration

	// DatabaseURL selects the storage backend by scheme.
	DatabaseURL string

	// CronSchedule, when set, runs the sync as a daemon on this cron
	// expression instead of one-shot.
	CronSchedule string

	// ConfigFile is the optional YAML file naming providers and
	// selectors.
	ConfigFile string
}

// DefaultConfig returns production defaults: small batches, modest
// parallelism, and a short breather between batches.
func DefaultConfig() SyncConfig {
	return SyncConfig{
		BatchSize:         10,
		MaxConcurrent:     4,
		RateLimitDelay:    time.Second,
		MaxItemsPerEntity: 0,
		MaxEntities:       0,
		FlushSize:         500,
		FlushInterval:     2 * time.Second,
	}
}

// LoadConfigFromEnv loads SyncConfig from the environment on top of the
// defaults.
func LoadConfigFromEnv() SyncConfig {
	def := DefaultConfig()
	cfg := SyncConfig{
		BatchSize:         config.GetEnvInt("SYNC_BATCH_SIZE", def.BatchSize),
		MaxConcurrent:     config.GetEnvInt("SYNC_MAX_CONCURRENT", def.MaxConcurrent),
		RateLimitDelay:    config.GetEnvDuration("SYNC_RATE_LIMIT_DELAY", def.RateLimitDelay),
		PaceRPS:           config.GetEnvFloat("SYNC_PACE_RPS", def.PaceRPS),
		MaxItemsPerEntity: config.GetEnvInt("SYNC_MAX_ITEMS_PER_ENTITY", def.MaxItemsPerEntity),
		MaxEntities:       config.GetEnvInt("SYNC_MAX_ENTITIES", def.MaxEntities),
		FlushSize:         config.GetEnvInt("SINK_FLUSH_SIZE", def.FlushSize),
		FlushInterval:     config.GetEnvDuration("SINK_FLUSH_INTERVAL", def.FlushInterval),
		DatabaseURL:       config.GetEnvString("DATABASE_URL", ""),
		CronSchedule:      config.GetEnvString("CRON_SCHEDULE", ""),
		ConfigFile:        config.GetEnvString("SYNC_CONFIG_FILE", ""),
	}

	if err := cfg.Validate(); err != nil {
		slog.Warn("invalid sync configuration, using defaults",
			slog.Any("error", err))
		fixed := def
		fixed.DatabaseURL = cfg.DatabaseURL
		fixed.CronSchedule = cfg.CronSchedule
		fixed.ConfigFile = cfg.ConfigFile
		return fixed
	}
	return cfg
}

// Validate checks the numeric ranges.
func (c SyncConfig) Validate() error {
	if err := config.ValidateIntRange(c.BatchSize, 1, 1000); err != nil {
		return fmt.Errorf("SYNC_BATCH_SIZE: %w", err)
	}
	if err := config.ValidateIntRange(c.MaxConcurrent, 1, 100); err != nil {
		return fmt.Errorf("SYNC_MAX_CONCURRENT: %w", err)
	}
	if err := config.ValidateNonNegativeDuration(c.RateLimitDelay); err != nil {
		return fmt.Errorf("SYNC_RATE_LIMIT_DELAY: %w", err)
	}
	if err := config.ValidateNonNegativeFloat(c.PaceRPS); err != nil {
		return fmt.Errorf("SYNC_PACE_RPS: %w", err)
	}
	if err := config.ValidateNonNegativeInt(c.MaxItemsPerEntity); err != nil {
		return fmt.Errorf("SYNC_MAX_ITEMS_PER_ENTITY: %w", err)
	}
	if err := config.ValidateNonNegativeInt(c.MaxEntities); err != nil {
		return fmt.Errorf("SYNC_MAX_ENTITIES: %w", err)
	}
	if err := config.ValidateIntRange(c.FlushSize, 1, 100000); err != nil {
		return fmt.Errorf("SINK_FLUSH_SIZE: %w", err)
	}
	if err := config.ValidatePositiveDuration(c.FlushInterval); err != nil {
		return fmt.Errorf("SINK_FLUSH_INTERVAL: %w", err)
	}
	return nil
}
