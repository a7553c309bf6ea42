package vfs

import "time"

// Metrics receives observations from FS. Implementations must be safe for
// concurrent use. Pass nil to New to disable collection.
type Metrics interface {
	// ObserveOperation records one completed operation. err is nil on success.
	ObserveOperation(op string, duration time.Duration, err error)

	// RecordCacheLookup records a listing cache lookup.
	RecordCacheLookup(hit bool)

	// SetCacheEntries reports the number of cached listings.
	SetCacheEntries(n int)

	// RecordInvalidation records a wholesale cache invalidation.
	RecordInvalidation()

	// RecordLinkFailure records a download link that could not be derived.
	RecordLinkFailure()
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, time.Duration, error) {}
func (noopMetrics) RecordCacheLookup(bool)                       {}
func (noopMetrics) SetCacheEntries(int)                          {}
func (noopMetrics) RecordInvalidation()                          {}
func (noopMetrics) RecordLinkFailure()                           {}

// NewNoopMetrics returns a Metrics that discards everything.
func NewNoopMetrics() Metrics {
	return noopMetrics{}
}
