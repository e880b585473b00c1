// Package sink implements the idempotent write path: many workers submit
// normalized records through per-entity sessions, a single flusher
// goroutine batches them, and a storage backend applies versioned bulk
// upserts. Flush failures propagate back to the sessions that own the
// affected rows, so one entity's storage trouble never fails another's
// outcome.
package sink

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chrisgeo/mergestat-syncs/internal/domain/entity"
	"github.com/chrisgeo/mergestat-syncs/internal/observability/metrics"
	"github.com/chrisgeo/mergestat-syncs/internal/resilience/circuitbreaker"
	"github.com/chrisgeo/mergestat-syncs/internal/resilience/retry"
	"github.com/chrisgeo/mergestat-syncs/internal/sink/backend"
)

// ErrClosed is returned by Submit once FlushAndClose has begun.
var ErrClosed = errors.New("sink: closed")

// Config tunes the flush policy.
type Config struct {
	// FlushSize triggers a flush when this many rows are pending.
	FlushSize int

	// FlushInterval flushes whatever is pending on this cadence, so
	// slow trickles still land promptly.
	FlushInterval time.Duration
}

// DefaultConfig returns the default flush policy.
func DefaultConfig() Config {
	return Config{
		FlushSize:     500,
		FlushInterval: 2 * time.Second,
	}
}

type pendingRow struct {
	row   backend.Row
	owner *Session
}

// Sink batches records from concurrent sessions into bulk upserts
// against one backend.
type Sink struct {
	be       backend.Backend
	cfg      Config
	breaker  *circuitbreaker.CircuitBreaker
	retryCfg retry.Config

	seq atomic.Int64

	mu      sync.Mutex
	pending []pendingRow
	closed  bool

	nudge chan struct{}
	quit  chan struct{}
	wg    sync.WaitGroup
}

// New creates a sink over a backend and starts its flusher goroutine.
func New(be backend.Backend, cfg Config) *Sink {
	if cfg.FlushSize <= 0 {
		cfg.FlushSize = DefaultConfig().FlushSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultConfig().FlushInterval
	}

	s := &Sink{
		be:       be,
		cfg:      cfg,
		breaker:  circuitbreaker.New(circuitbreaker.SinkFlushConfig(be.Name())),
		retryCfg: retry.SinkFlushConfig(),
		nudge:    make(chan struct{}, 1),
		quit:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Begin opens a session for one entity's records. ref is the entity
// reference used in logs.
func (s *Sink) Begin(ref string) *Session {
	return &Session{sink: s, ref: ref, done: make(chan struct{})}
}

// FlushAndClose drains pending rows, stops the flusher, and closes the
// backend. Submits racing past this point get ErrClosed.
func (s *Sink) FlushAndClose(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.quit)
	s.wg.Wait()
	return s.be.Close()
}

func (s *Sink) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.flush(context.Background())
		case <-s.nudge:
			s.flush(context.Background())
		case <-s.quit:
			s.flush(context.Background())
			return
		}
	}
}

// flush drains the pending buffer and upserts it table by table. Every
// row's owning session is settled exactly once, success or failure.
func (s *Sink) flush(ctx context.Context) {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	byTable := make(map[entity.Table][]pendingRow)
	var order []entity.Table
	for _, pr := range batch {
		t := pr.row.Key.Table
		if _, ok := byTable[t]; !ok {
			order = append(order, t)
		}
		byTable[t] = append(byTable[t], pr)
	}

	for _, table := range order {
		prs := byTable[table]
		rows := compact(prs)

		err := retry.WithBackoff(ctx, s.retryCfg, func() error {
			_, execErr := s.breaker.Execute(func() (interface{}, error) {
				return nil, s.be.Upsert(ctx, table, rows)
			})
			return execErr
		})

		if err != nil {
			metrics.RecordFlushError(string(table))
			slog.Error("sink flush failed",
				slog.String("backend", s.be.Name()),
				slog.String("table", string(table)),
				slog.Int("rows", len(rows)),
				slog.Any("error", err))
			err = &entity.SinkError{Backend: s.be.Name(), Table: table, Err: err}
		} else {
			metrics.RecordRecordsFlushed(string(table), len(rows))
			slog.Debug("sink flush ok",
				slog.String("backend", s.be.Name()),
				slog.String("table", string(table)),
				slog.Int("rows", len(rows)))
		}

		for _, pr := range prs {
			pr.owner.settle(err)
		}
	}
}

// compact keeps the winning version per key so one bulk statement never
// touches the same row twice. First-seen order is preserved.
func compact(prs []pendingRow) []backend.Row {
	idx := make(map[string]int, len(prs))
	rows := make([]backend.Row, 0, len(prs))
	for _, pr := range prs {
		k := pr.row.Key.String()
		if i, ok := idx[k]; ok {
			if pr.row.Supersedes(rows[i]) {
				rows[i] = pr.row
			}
			continue
		}
		idx[k] = len(rows)
		rows = append(rows, pr.row)
	}
	return rows
}

// Session tracks one entity's submitted rows through to flush. Safe for
// a single worker goroutine; concurrent sessions over one sink are the
// expected shape.
type Session struct {
	sink *Sink
	ref  string

	mu       sync.Mutex
	inflight int
	written  int64
	err      error
	sealed   bool
	done     chan struct{}
}

// Submit stamps the records with a synced_at version and arrival
// sequence and queues them for flush. It never blocks on storage.
func (se *Session) Submit(ctx context.Context, records []entity.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	se.mu.Lock()
	if se.sealed {
		se.mu.Unlock()
		return errors.New("sink: submit after wait")
	}
	se.inflight += len(records)
	se.mu.Unlock()

	s := se.sink
	now := time.Now().UTC()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		se.mu.Lock()
		se.inflight -= len(records)
		se.mu.Unlock()
		return ErrClosed
	}
	for _, r := range records {
		s.pending = append(s.pending, pendingRow{
			row:   backend.Row{Key: r.Key(), SyncedAt: now, Seq: s.seq.Add(1), Record: r},
			owner: se,
		})
	}
	full := len(s.pending) >= s.cfg.FlushSize
	s.mu.Unlock()

	if full {
		select {
		case s.nudge <- struct{}{}:
		default:
		}
	}
	return nil
}

// Wait seals the session and blocks until every submitted row has been
// flushed. It returns the number of rows written and the first flush
// error attributed to this session, if any. On context cancellation the
// rows already flushed still count; the background flusher keeps
// settling the rest.
func (se *Session) Wait(ctx context.Context) (int64, error) {
	se.mu.Lock()
	if !se.sealed {
		se.sealed = true
		if se.inflight == 0 {
			close(se.done)
		}
	}
	se.mu.Unlock()

	// Kick the flusher so a partly filled buffer lands now rather than
	// on the next tick.
	select {
	case se.sink.nudge <- struct{}{}:
	default:
	}

	select {
	case <-se.done:
		se.mu.Lock()
		defer se.mu.Unlock()
		return se.written, se.err
	case <-ctx.Done():
		se.mu.Lock()
		defer se.mu.Unlock()
		return se.written, ctx.Err()
	}
}

func (se *Session) settle(err error) {
	se.mu.Lock()
	defer se.mu.Unlock()

	se.inflight--
	if err != nil {
		if se.err == nil {
			se.err = err
		}
	} else {
		se.written++
	}
	if se.sealed && se.inflight == 0 {
		close(se.done)
	}
}
