// Package resilience groups the retry and circuit breaker building
// blocks used around provider fetches and sink flushes.
package resilience
