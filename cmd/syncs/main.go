// Command syncs ingests commit, pull request, and repository history
// from configured providers into a normalized store. It runs one-shot
// by default, or as a cron daemon when CRON_SCHEDULE is set.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/chrisgeo/mergestat-syncs/internal/domain/entity"
	"github.com/chrisgeo/mergestat-syncs/internal/observability/logging"
	"github.com/chrisgeo/mergestat-syncs/internal/pkg/config"
	"github.com/chrisgeo/mergestat-syncs/internal/provider"
	"github.com/chrisgeo/mergestat-syncs/internal/provider/github"
	"github.com/chrisgeo/mergestat-syncs/internal/provider/gitlab"
	"github.com/chrisgeo/mergestat-syncs/internal/ratelimit"
	"github.com/chrisgeo/mergestat-syncs/internal/selector"
	"github.com/chrisgeo/mergestat-syncs/internal/sink"
	syncpkg "github.com/chrisgeo/mergestat-syncs/internal/sync"
)

func main() {
	logger := logging.NewLogger()

	cfg := LoadConfigFromEnv()
	logger.Info("sync configuration loaded",
		slog.Int("batch_size", cfg.BatchSize),
		slog.Int("max_concurrent", cfg.MaxConcurrent),
		slog.Duration("rate_limit_delay", cfg.RateLimitDelay),
		slog.Float64("pace_rps", cfg.PaceRPS),
		slog.Int("max_items_per_entity", cfg.MaxItemsPerEntity),
		slog.Int("max_entities", cfg.MaxEntities),
		slog.String("cron_schedule", cfg.CronSchedule))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sources, caps, specs, gateCfgs := buildSources(logger, cfg)
	if len(specs) == 0 {
		logger.Error("no selectors configured, set SYNC_CONFIG_FILE")
		os.Exit(1)
	}

	startMetricsServer(ctx, logger)

	if cfg.CronSchedule != "" {
		runDaemon(ctx, logger, cfg, sources, caps, specs, gateCfgs)
		return
	}

	summary := runOnce(ctx, logger, cfg, sources, caps, specs, gateCfgs)
	if summary != nil && summary.Failed > 0 {
		os.Exit(1)
	}
}

// runOnce executes a single full sync run.
func runOnce(
	ctx context.Context,
	logger *slog.Logger,
	cfg SyncConfig,
	sources map[entity.Provider]provider.Source,
	caps provider.Capabilities,
	specs []selector.Spec,
	gateCfgs map[entity.Provider]ratelimit.Config,
) *entity.RunSummary {
	be, err := sink.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open sink backend", slog.Any("error", err))
		os.Exit(1)
	}

	sk := sink.New(be, sink.Config{FlushSize: cfg.FlushSize, FlushInterval: cfg.FlushInterval})
	defer func() {
		if err := sk.FlushAndClose(context.Background()); err != nil {
			logger.Error("failed to close sink", slog.Any("error", err))
		}
	}()

	entities, err := selector.Resolve(ctx, sources, caps, specs, cfg.MaxEntities)
	if err != nil {
		logger.Error("entity resolution failed", slog.Any("error", err))
		return nil
	}
	if len(entities) == 0 {
		logger.Warn("no entities matched the configured selectors")
		return &entity.RunSummary{}
	}

	gates := ratelimit.NewRegistry(gateCfgs)
	workers := make(map[entity.Provider]*syncpkg.Worker, len(sources))
	for prov, src := range sources {
		workers[prov] = syncpkg.NewWorker(src, gates.Gate(prov), sk, cfg.MaxItemsPerEntity)
	}

	orch := syncpkg.New(syncpkg.Config{
		BatchSize:      cfg.BatchSize,
		MaxConcurrent:  cfg.MaxConcurrent,
		RateLimitDelay: cfg.RateLimitDelay,
	}, workers)

	summary := orch.Run(ctx, entities)
	for _, failed := range summary.FailedEntities() {
		logger.Warn("entity needs re-running",
			slog.String("entity", failed.Entity.Ref()),
			slog.String("status", string(failed.Status)),
			slog.Any("error", failed.Err))
	}
	return summary
}

// runDaemon schedules runs on the configured cron expression until the
// process is signalled.
func runDaemon(
	ctx context.Context,
	logger *slog.Logger,
	cfg SyncConfig,
	sources map[entity.Provider]provider.Source,
	caps provider.Capabilities,
	specs []selector.Spec,
	gateCfgs map[entity.Provider]ratelimit.Config,
) {
	c := cron.New()
	_, err := c.AddFunc(cfg.CronSchedule, func() {
		runOnce(ctx, logger, cfg, sources, caps, specs, gateCfgs)
	})
	if err != nil {
		logger.Error("invalid cron schedule",
			slog.String("schedule", cfg.CronSchedule),
			slog.Any("error", err))
		os.Exit(1)
	}

	c.Start()
	logger.Info("sync daemon started", slog.String("schedule", cfg.CronSchedule))

	<-ctx.Done()
	logger.Info("shutdown signal received")
	stopCtx := c.Stop()
	<-stopCtx.Done()
	logger.Info("sync daemon stopped")
}

// buildSources wires the provider connectors and gate configs from the
// optional config file plus credential environment variables. Without a
// file, both providers are enabled and selectors must come from the
// file, so the caller treats an empty selector list as a configuration
// error.
func buildSources(logger *slog.Logger, cfg SyncConfig) (map[entity.Provider]provider.Source, provider.Capabilities, []selector.Spec, map[entity.Provider]ratelimit.Config) {
	sources := map[entity.Provider]provider.Source{
		entity.ProviderGitHub: github.NewSource(github.NewClient("", os.Getenv("GITHUB_TOKEN"))),
		entity.ProviderGitLab: gitlab.NewSource(gitlab.NewClient("", os.Getenv("GITLAB_TOKEN"))),
	}
	caps := provider.Capabilities{}
	var specs []selector.Spec

	gateCfgs := make(map[entity.Provider]ratelimit.Config)
	if cfg.PaceRPS > 0 {
		for prov := range sources {
			gateCfgs[prov] = ratelimit.Config{Pace: rate.Limit(cfg.PaceRPS)}
		}
	}

	if cfg.ConfigFile == "" {
		return sources, caps, specs, gateCfgs
	}

	fileCfg, err := config.LoadFile(cfg.ConfigFile)
	if err != nil {
		logger.Error("failed to load config file",
			slog.String("path", cfg.ConfigFile),
			slog.Any("error", err))
		os.Exit(1)
	}

	caps.Enabled = make(map[entity.Provider]bool, len(fileCfg.Providers))
	for name, pc := range fileCfg.Providers {
		prov := entity.Provider(name)
		if !prov.Valid() {
			logger.Warn("unknown provider in config file", slog.String("provider", name))
			continue
		}
		caps.Enabled[prov] = pc.Enabled
		if !pc.Enabled {
			continue
		}
		if pc.PaceRPS > 0 {
			gateCfgs[prov] = ratelimit.Config{Pace: rate.Limit(pc.PaceRPS)}
		}

		token := ""
		if pc.TokenEnv != "" {
			token = os.Getenv(pc.TokenEnv)
			if token == "" {
				logger.Warn("credential environment variable is empty",
					slog.String("provider", name),
					slog.String("token_env", pc.TokenEnv))
			}
		}

		switch prov {
		case entity.ProviderGitHub:
			sources[prov] = github.NewSource(github.NewClient(pc.BaseURL, token))
		case entity.ProviderGitLab:
			sources[prov] = gitlab.NewSource(gitlab.NewClient(pc.BaseURL, token))
		}
	}

	for _, sc := range fileCfg.Selectors {
		specs = append(specs, selector.Spec{
			Provider: entity.Provider(sc.Provider),
			Group:    sc.Group,
			Pattern:  sc.Pattern,
		})
	}
	return sources, caps, specs, gateCfgs
}
