// Package metrics defines the Prometheus collectors for the sync
// pipeline: provider request accounting, rate-limit waits, pagination
// progress, sink flush activity, and per-run entity outcomes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProviderRequestsTotal counts requests issued to each provider.
	ProviderRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncs_provider_requests_total",
			Help: "Total number of requests issued to a provider",
		},
		[]string{"provider", "status"},
	)

	// RateLimitWaitsTotal counts acquisitions that had to wait on the
	// shared rate budget.
	RateLimitWaitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncs_rate_limit_waits_total",
			Help: "Total number of gate acquisitions that blocked on the rate budget",
		},
		[]string{"provider"},
	)

	// RateBudgetRemaining tracks the most recently observed remaining
	// request budget per provider.
	RateBudgetRemaining = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "syncs_rate_budget_remaining",
			Help: "Most recently observed remaining request budget for a provider",
		},
		[]string{"provider"},
	)

	// PagesFetchedTotal counts pages drained per provider and table.
	PagesFetchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncs_pages_fetched_total",
			Help: "Total number of pages fetched",
		},
		[]string{"provider", "table"},
	)

	// RecordsFlushedTotal counts records written through the sink.
	RecordsFlushedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncs_records_flushed_total",
			Help: "Total number of records written by the sink",
		},
		[]string{"table"},
	)

	// FlushErrorsTotal counts failed sink flushes after retry exhaustion.
	FlushErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncs_flush_errors_total",
			Help: "Total number of sink flush batches that exhausted retries",
		},
		[]string{"table"},
	)

	// EntityOutcomesTotal counts terminal entity states per run status.
	EntityOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncs_entity_outcomes_total",
			Help: "Total number of entity outcomes by terminal status",
		},
		[]string{"status"},
	)

	// RunDuration observes end-to-end batch run duration.
	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "syncs_run_duration_seconds",
			Help:    "Duration of full batch sync runs",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)
)
