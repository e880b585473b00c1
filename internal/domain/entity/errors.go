package entity

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a provider or sink failure. The kind decides the
// propagation policy: transient errors retry with backoff, rate-limited
// errors wait on the gate without consuming retry budget, auth errors end
// the provider's remaining work for the run, not-found errors end only
// the one entity, and sink errors retry at flush granularity.
type ErrorKind int

const (
	KindTransient ErrorKind = iota
	KindRateLimited
	KindAuth
	KindNotFound
	KindSink
)

// String returns the kind name used in logs and run summaries.
func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	case KindSink:
		return "sink"
	}
	return "unknown"
}

// ProviderError is a structured failure from a provider fetch.
type ProviderError struct {
	Provider   Provider
	Kind       ErrorKind
	StatusCode int

	// RetryAfter is the provider-supplied wait for rate-limited
	// responses; zero when the provider gave none.
	RetryAfter time.Duration

	Msg string
	Err error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Provider, e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Msg)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// SinkError is a storage-level failure attached to every record of a
// failed flush batch.
type SinkError struct {
	Backend string
	Table   Table
	Err     error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink %s: flush %s: %v", e.Backend, e.Table, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

// errorKind extracts the kind from a wrapped ProviderError chain.
func errorKind(err error) (ErrorKind, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return 0, false
}

// IsRateLimited reports whether err signals a provider rate limit.
func IsRateLimited(err error) bool {
	k, ok := errorKind(err)
	return ok && k == KindRateLimited
}

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool {
	k, ok := errorKind(err)
	return ok && k == KindAuth
}

// IsNotFound reports whether err means the entity does not exist.
func IsNotFound(err error) bool {
	k, ok := errorKind(err)
	return ok && k == KindNotFound
}

// IsTransient reports whether err is worth retrying with backoff.
func IsTransient(err error) bool {
	k, ok := errorKind(err)
	return ok && k == KindTransient
}
