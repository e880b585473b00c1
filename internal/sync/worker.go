// Package sync drives the ingestion run: workers drain one entity's
// history through the gate into the sink, and the orchestrator fans
// entities out over bounded batches.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chrisgeo/mergestat-syncs/internal/domain/entity"
	"github.com/chrisgeo/mergestat-syncs/internal/observability/metrics"
	"github.com/chrisgeo/mergestat-syncs/internal/pagination"
	"github.com/chrisgeo/mergestat-syncs/internal/provider"
	"github.com/chrisgeo/mergestat-syncs/internal/ratelimit"
	"github.com/chrisgeo/mergestat-syncs/internal/resilience/retry"
	"github.com/chrisgeo/mergestat-syncs/internal/sink"
)

// Worker drains entities of one provider. Many workers share one gate
// and one sink.
type Worker struct {
	source   provider.Source
	gate     *ratelimit.Gate
	sink     *sink.Sink
	retryCfg retry.Config

	// maxItems caps records fetched per entity per table, zero means
	// unlimited. Used for dry runs and smoke syncs.
	maxItems int
}

// NewWorker creates a worker for one provider source.
func NewWorker(source provider.Source, gate *ratelimit.Gate, sk *sink.Sink, maxItems int) *Worker {
	return &Worker{
		source:   source,
		gate:     gate,
		sink:     sk,
		retryCfg: retry.ProviderFetchConfig(),
		maxItems: maxItems,
	}
}

// SyncEntity fetches one entity's full history across all tables and
// returns its terminal outcome. Failures never propagate past the
// outcome; the caller isolates entities from each other.
func (w *Worker) SyncEntity(ctx context.Context, e entity.Entity) entity.EntityOutcome {
	log := slog.With(slog.String("entity", e.Ref()))
	log.Info("entity sync started")
	started := time.Now()

	sess := w.sink.Begin(e.Ref())

	var fetchErr error
	for _, table := range w.source.Tables() {
		if err := ctx.Err(); err != nil {
			fetchErr = err
			break
		}
		if err := w.drainTable(ctx, e, table, sess); err != nil {
			fetchErr = err
			log.Warn("table drain failed",
				slog.String("table", string(table)),
				slog.Any("error", err))
			break
		}
	}

	// Wait flushes what was submitted even when a later table broke, so
	// a partial failure still lands its fetched records.
	written, sinkErr := sess.Wait(ctx)
	if fetchErr == nil {
		fetchErr = sinkErr
	}

	out := entity.EntityOutcome{Entity: e, RecordsWritten: written, Err: fetchErr}
	switch {
	case fetchErr == nil:
		out.Status = entity.StatusOK
	case written > 0:
		out.Status = entity.StatusPartial
	default:
		out.Status = entity.StatusFailed
	}

	metrics.RecordEntityOutcome(string(out.Status))
	log.Info("entity sync finished",
		slog.String("status", string(out.Status)),
		slog.Int64("records", written),
		slog.Duration("elapsed", time.Since(started)))
	return out
}

// drainTable walks one table's cursor to completion, transforming and
// submitting every page.
func (w *Worker) drainTable(ctx context.Context, e entity.Entity, table entity.Table, sess *sink.Session) error {
	cur, err := w.source.HistoryCursor(ctx, e, table)
	if err != nil {
		return fmt.Errorf("open cursor for %s: %w", table, err)
	}
	if w.maxItems > 0 {
		cur = pagination.WithLimits(cur, w.maxItems, 0)
	}

	for {
		page, err := w.fetchPage(ctx, cur)
		if errors.Is(err, pagination.ErrDone) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("fetch %s at %q: %w", table, cur.Position(), err)
		}

		metrics.RecordPageFetched(string(w.source.Provider()), string(table))

		records := make([]entity.Record, 0, len(page.Items))
		for _, raw := range page.Items {
			rec, err := w.source.Transform(raw, e)
			if err != nil {
				// One malformed item does not sink the page.
				slog.Warn("skipping malformed record",
					slog.String("entity", e.Ref()),
					slog.String("table", string(table)),
					slog.Any("error", err))
				continue
			}
			records = append(records, rec)
		}

		if err := sess.Submit(ctx, records); err != nil {
			return fmt.Errorf("submit %s at %q: %w", table, cur.Position(), err)
		}
	}
}

// fetchPage runs one acquire -> fetch -> observe cycle with the retry
// policy: transient errors back off and consume retry budget, rate-limit
// signals go to the gate and do not, everything else aborts.
func (w *Worker) fetchPage(ctx context.Context, cur pagination.Cursor) (*pagination.Page, error) {
	attempts := 0
	delay := w.retryCfg.InitialDelay

	for {
		if err := w.gate.Acquire(ctx); err != nil {
			return nil, err
		}

		page, err := cur.Next(ctx)
		if err == nil {
			if page.Rate != nil {
				w.gate.Observe(*page.Rate)
			}
			return page, nil
		}
		if errors.Is(err, pagination.ErrDone) {
			return nil, err
		}

		var pe *entity.ProviderError
		if errors.As(err, &pe) && pe.Kind == entity.KindRateLimited {
			// The gate owns the wait window; the next Acquire blocks
			// until it elapses. Retry budget untouched.
			w.gate.OnRateLimited(pe.RetryAfter, time.Time{})
			continue
		}

		if !retry.IsRetryable(err) {
			return nil, err
		}

		attempts++
		if attempts >= w.retryCfg.MaxAttempts {
			return nil, fmt.Errorf("max retry attempts (%d) exceeded: %w", w.retryCfg.MaxAttempts, err)
		}

		slog.Warn("page fetch failed, retrying",
			slog.Int("attempt", attempts),
			slog.Duration("delay", delay),
			slog.Any("error", err))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		delay = time.Duration(float64(delay) * w.retryCfg.Multiplier)
		if delay > w.retryCfg.MaxDelay {
			delay = w.retryCfg.MaxDelay
		}
	}
}
