package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/chrisgeo/mergestat-syncs/internal/domain/entity"
	"github.com/chrisgeo/mergestat-syncs/internal/observability/metrics"
)

// Config tunes one orchestrated run.
type Config struct {
	// BatchSize is the number of entities per ordered batch.
	BatchSize int

	// MaxConcurrent bounds entities in flight within a batch.
	MaxConcurrent int

	// RateLimitDelay is the pause between consecutive batches, easing
	// pressure on provider budgets between bursts.
	RateLimitDelay time.Duration
}

// DefaultConfig returns the default orchestration parameters.
func DefaultConfig() Config {
	return Config{
		BatchSize:      10,
		MaxConcurrent:  4,
		RateLimitDelay: time.Second,
	}
}

// Orchestrator partitions a run's entities into batches and drives them
// through per-provider workers. A run always produces a complete
// summary: every entity ends in exactly one terminal outcome, whatever
// fails around it.
type Orchestrator struct {
	cfg     Config
	workers map[entity.Provider]*Worker
}

// New creates an orchestrator over the given per-provider workers.
func New(cfg Config, workers map[entity.Provider]*Worker) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	return &Orchestrator{cfg: cfg, workers: workers}
}

// Run syncs all entities and returns the run summary.
func (o *Orchestrator) Run(ctx context.Context, entities []entity.Entity) *entity.RunSummary {
	start := time.Now()
	summary := &entity.RunSummary{}
	var mu sync.Mutex

	// Providers whose credentials failed; their remaining entities are
	// failed without being attempted.
	dead := make(map[entity.Provider]error)

	batches := chunk(entities, o.cfg.BatchSize)
	slog.Info("run started",
		slog.Int("entities", len(entities)),
		slog.Int("batches", len(batches)),
		slog.Int("batch_size", o.cfg.BatchSize),
		slog.Int("max_concurrent", o.cfg.MaxConcurrent))

	for i, batch := range batches {
		if ctx.Err() != nil {
			o.failRemaining(summary, batches[i:], ctx.Err())
			break
		}

		if i > 0 && o.cfg.RateLimitDelay > 0 {
			select {
			case <-time.After(o.cfg.RateLimitDelay):
			case <-ctx.Done():
				o.failRemaining(summary, batches[i:], ctx.Err())
				summary.Elapsed = time.Since(start)
				metrics.RecordRunDuration(summary.Elapsed)
				return summary
			}
		}

		slog.Info("batch started", slog.Int("batch", i+1), slog.Int("entities", len(batch)))

		sem := semaphore.NewWeighted(int64(o.cfg.MaxConcurrent))
		// Plain group: one entity's failure never cancels its siblings.
		var g errgroup.Group

		for _, e := range batch {
			mu.Lock()
			deadErr := dead[e.Provider]
			mu.Unlock()
			if deadErr != nil {
				mu.Lock()
				summary.Add(entity.EntityOutcome{
					Entity: e,
					Status: entity.StatusFailed,
					Err:    fmt.Errorf("provider disabled for run: %w", deadErr),
				})
				mu.Unlock()
				continue
			}

			w, ok := o.workers[e.Provider]
			if !ok {
				mu.Lock()
				summary.Add(entity.EntityOutcome{
					Entity: e,
					Status: entity.StatusFailed,
					Err:    fmt.Errorf("no worker for provider %q", e.Provider),
				})
				mu.Unlock()
				continue
			}

			g.Go(func() error {
				if err := sem.Acquire(ctx, 1); err != nil {
					mu.Lock()
					summary.Add(entity.EntityOutcome{Entity: e, Status: entity.StatusFailed, Err: err})
					mu.Unlock()
					return nil
				}
				defer sem.Release(1)

				out := w.SyncEntity(ctx, e)

				mu.Lock()
				if entity.IsAuth(out.Err) {
					if _, seen := dead[e.Provider]; !seen {
						slog.Error("provider authentication failed, disabling for run",
							slog.String("provider", string(e.Provider)))
						dead[e.Provider] = out.Err
					}
				}
				summary.Add(out)
				mu.Unlock()
				return nil
			})
		}

		g.Wait()
	}

	summary.Elapsed = time.Since(start)
	metrics.RecordRunDuration(summary.Elapsed)

	slog.Info("run finished",
		slog.Int("total", summary.Total),
		slog.Int("ok", summary.OK),
		slog.Int("partial", summary.Partial),
		slog.Int("failed", summary.Failed),
		slog.Int64("records", summary.RecordsWritten),
		slog.Duration("elapsed", summary.Elapsed))
	return summary
}

// failRemaining records a cancellation outcome for every unstarted
// entity so the summary stays complete.
func (o *Orchestrator) failRemaining(summary *entity.RunSummary, batches [][]entity.Entity, cause error) {
	for _, batch := range batches {
		for _, e := range batch {
			summary.Add(entity.EntityOutcome{
				Entity: e,
				Status: entity.StatusFailed,
				Err:    fmt.Errorf("run cancelled before entity started: %w", cause),
			})
		}
	}
}

func chunk(entities []entity.Entity, size int) [][]entity.Entity {
	var out [][]entity.Entity
	for start := 0; start < len(entities); start += size {
		end := start + size
		if end > len(entities) {
			end = len(entities)
		}
		out = append(out, entities[start:end])
	}
	return out
}
