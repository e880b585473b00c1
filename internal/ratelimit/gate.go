// Package ratelimit implements the shared per-provider rate budget gate.
//
// The gate is the single source of truth for a provider's remaining
// request budget and reset time. Workers acquire a permit before every
// request and feed every response's budget observation back in. When a
// provider signals rate limiting, the gate owns the one shared wait
// window; no worker ever sleeps on rate-limit grounds on its own.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/chrisgeo/mergestat-syncs/internal/domain/entity"
	"github.com/chrisgeo/mergestat-syncs/internal/observability/metrics"
)

// defaultRetryAfter is the wait applied when a provider signals rate
// limiting without a Retry-After value or reset timestamp.
const defaultRetryAfter = 30 * time.Second

// Observation is a provider-reported budget snapshot taken from a
// response's rate-limit headers or fields.
type Observation struct {
	// Remaining is the number of requests left in the current window.
	Remaining int

	// ResetAt is when the window resets.
	ResetAt time.Time

	// At is the wall-clock instant the response was received. Concurrent
	// responses race; the gate keeps the most recent observation.
	At time.Time
}

// Config tunes one provider gate.
type Config struct {
	// Pace is the steady-state request rate (requests per second).
	// Zero disables pacing and lets the observed budget alone gate
	// requests.
	Pace rate.Limit

	// Burst is the pacing burst size. Ignored when Pace is zero.
	Burst int
}

// Gate tracks one provider's rate budget and admits requests in roughly
// first-come order.
type Gate struct {
	provider entity.Provider
	pace     *rate.Limiter

	mu         sync.Mutex
	remaining  int
	resetAt    time.Time
	observedAt time.Time
	// known is false until the first observation, and again after a
	// window elapses with no fresh data: in both cases the budget is
	// unknown and requests pass until the provider reports otherwise.
	known bool

	queue []*waiter
	timer *time.Timer
}

type waiter struct {
	ch      chan struct{}
	granted bool
}

// NewGate creates a gate for one provider.
func NewGate(provider entity.Provider, cfg Config) *Gate {
	g := &Gate{provider: provider}
	if cfg.Pace > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		g.pace = rate.NewLimiter(cfg.Pace, burst)
	}
	return g
}

// Acquire blocks until the provider budget admits one request, consuming
// one unit of budget on grant. Waiters are granted in FIFO order so no
// single worker monopolizes the budget.
func (g *Gate) Acquire(ctx context.Context) error {
	if g.pace != nil {
		if err := g.pace.Wait(ctx); err != nil {
			return err
		}
	}

	g.mu.Lock()
	if len(g.queue) == 0 && g.grantable(time.Now()) {
		g.consume(time.Now())
		g.mu.Unlock()
		return nil
	}

	w := &waiter{ch: make(chan struct{})}
	g.queue = append(g.queue, w)
	g.scheduleWakeLocked()
	g.mu.Unlock()

	metrics.RecordRateLimitWait(string(g.provider))

	select {
	case <-w.ch:
		return nil
	case <-ctx.Done():
		g.mu.Lock()
		defer g.mu.Unlock()
		if w.granted {
			// Grant and cancellation raced; the permit is ours.
			return nil
		}
		for i, qw := range g.queue {
			if qw == w {
				g.queue = append(g.queue[:i], g.queue[i+1:]...)
				break
			}
		}
		return ctx.Err()
	}
}

// Observe applies a budget snapshot from a successful response. Stale
// observations (older wall-clock than the current one) are dropped, so
// racing responses resolve last-write-wins.
func (g *Gate) Observe(obs Observation) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if obs.At.Before(g.observedAt) {
		return
	}

	g.observedAt = obs.At
	g.remaining = obs.Remaining
	g.resetAt = obs.ResetAt
	g.known = true

	metrics.UpdateRateBudget(string(g.provider), obs.Remaining)

	g.dispatchLocked()
	g.scheduleWakeLocked()
}

// OnRateLimited records a provider rate-limit signal. The budget drops
// to zero and all subsequent Acquire calls block until the wait window
// elapses. Concurrent signals extend to the furthest window rather than
// stacking: N workers hitting the limit at once produce one wait, not N.
func (g *Gate) OnRateLimited(retryAfter time.Duration, providerReset time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	reset := providerReset
	if retryAfter > 0 {
		reset = now.Add(retryAfter)
	}
	if reset.IsZero() {
		reset = now.Add(defaultRetryAfter)
	}

	g.remaining = 0
	g.known = true
	g.observedAt = now
	if reset.After(g.resetAt) {
		g.resetAt = reset
	}

	metrics.UpdateRateBudget(string(g.provider), 0)
	g.scheduleWakeLocked()
}

// Snapshot returns the current budget state for logging and tests.
func (g *Gate) Snapshot() Observation {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Observation{Remaining: g.remaining, ResetAt: g.resetAt, At: g.observedAt}
}

// grantable reports whether a request may proceed now. Callers hold mu.
func (g *Gate) grantable(now time.Time) bool {
	if !g.known {
		return true
	}
	return g.remaining > 0 || !now.Before(g.resetAt)
}

// consume takes one unit of budget. Past the reset instant the true
// budget is unknown until the next observation. Callers hold mu.
func (g *Gate) consume(now time.Time) {
	if g.remaining > 0 {
		g.remaining--
		return
	}
	if g.known && !now.Before(g.resetAt) {
		g.known = false
	}
}

// dispatchLocked grants queued waiters in FIFO order while the budget
// allows. Callers hold mu.
func (g *Gate) dispatchLocked() {
	now := time.Now()
	for len(g.queue) > 0 && g.grantable(now) {
		w := g.queue[0]
		g.queue = g.queue[1:]
		g.consume(now)
		w.granted = true
		close(w.ch)
	}
}

// scheduleWakeLocked arms a wake-up at the reset instant when waiters
// are blocked on an exhausted budget. Callers hold mu.
func (g *Gate) scheduleWakeLocked() {
	if len(g.queue) == 0 || g.grantable(time.Now()) {
		return
	}

	wait := time.Until(g.resetAt)
	if wait < 0 {
		wait = 0
	}
	if g.timer != nil {
		g.timer.Stop()
	}
	g.timer = time.AfterFunc(wait+time.Millisecond, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		g.dispatchLocked()
		g.scheduleWakeLocked()
	})
}
