package s3

import "time"

// S3Metrics observes S3 traffic of the content store.
//
// Implementations live in pkg/metrics; a nil S3Metrics in the store config
// selects the no-op implementation.
type S3Metrics interface {
	// ObserveOperation records one S3 API call ("PutObject", "GetObject",
	// "DeleteObject", "HeadObject", "PresignGetObject").
	ObserveOperation(operation string, duration time.Duration, err error)

	// RecordBytes records payload bytes moved by operation.
	RecordBytes(operation string, bytes int64)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, time.Duration, error) {}
func (noopMetrics) RecordBytes(string, int64)                     {}
