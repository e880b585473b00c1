package metrics

import "time"

// RecordProviderRequest records one request to a provider. Status should
// be "ok", "rate_limited", or "error".
func RecordProviderRequest(provider, status string) {
	ProviderRequestsTotal.WithLabelValues(provider, status).Inc()
}

// RecordRateLimitWait records a gate acquisition that blocked.
func RecordRateLimitWait(provider string) {
	RateLimitWaitsTotal.WithLabelValues(provider).Inc()
}

// UpdateRateBudget publishes the latest observed remaining budget.
func UpdateRateBudget(provider string, remaining int) {
	RateBudgetRemaining.WithLabelValues(provider).Set(float64(remaining))
}

// RecordPageFetched records one drained page.
func RecordPageFetched(provider, table string) {
	PagesFetchedTotal.WithLabelValues(provider, table).Inc()
}

// RecordRecordsFlushed records records written in one flush.
func RecordRecordsFlushed(table string, count int) {
	RecordsFlushedTotal.WithLabelValues(table).Add(float64(count))
}

// RecordFlushError records a flush batch that exhausted retries.
func RecordFlushError(table string) {
	FlushErrorsTotal.WithLabelValues(table).Inc()
}

// RecordEntityOutcome records one terminal entity status.
func RecordEntityOutcome(status string) {
	EntityOutcomesTotal.WithLabelValues(status).Inc()
}

// RecordRunDuration observes one completed run.
func RecordRunDuration(d time.Duration) {
	RunDuration.Observe(d.Seconds())
}
