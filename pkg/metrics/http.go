package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTPMetrics provides observability for the REST API.
//
// Routes are reported by their pattern ("/api/files", "/api/download/{token}")
// rather than the raw URL, which keeps label cardinality bounded.
type HTTPMetrics interface {
	// RecordRequest records a completed request.
	RecordRequest(route, method string, status int, duration time.Duration)

	// RecordRequestStart increments the in-flight request gauge.
	RecordRequestStart()

	// RecordRequestEnd decrements the in-flight request gauge.
	RecordRequestEnd()

	// RecordBytesTransferred records request or response body bytes.
	//
	// Parameters:
	//   - direction: "in" or "out"
	//   - bytes: Number of bytes transferred
	RecordBytesTransferred(direction string, bytes int64)
}

type httpMetrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge
	bytesTransferred *prometheus.CounterVec
}

// NewHTTPMetrics creates a Prometheus-backed HTTPMetrics instance, or a no-op
// one if metrics are not enabled.
func NewHTTPMetrics() HTTPMetrics {
	if !IsEnabled() {
		return NewNoopHTTPMetrics()
	}

	reg := GetRegistry()

	return &httpMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "staffdrive_http_requests_total",
				Help: "Total number of API requests by route, method and status code",
			},
			[]string{"route", "method", "status"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "staffdrive_http_request_duration_seconds",
				Help: "Duration of API requests in seconds",
				Buckets: []float64{
					0.005, // 5ms
					0.025, // 25ms
					0.1,   // 100ms
					0.25,  // 250ms
					0.5,   // 500ms
					1.0,   // 1s
					2.5,   // 2.5s
					5.0,   // 5s
					10.0,  // 10s
					30.0,  // 30s
					60.0,  // 1m
				},
			},
			[]string{"route", "method"},
		),
		requestsInFlight: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "staffdrive_http_requests_in_flight",
				Help: "Current number of API requests being processed",
			},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "staffdrive_http_bytes_transferred_total",
				Help: "Total request and response body bytes",
			},
			[]string{"direction"}, // in or out
		),
	}
}

func (m *httpMetrics) RecordRequest(route, method string, status int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(route, method, statusLabel(status)).Inc()
	m.requestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

func (m *httpMetrics) RecordRequestStart() {
	m.requestsInFlight.Inc()
}

func (m *httpMetrics) RecordRequestEnd() {
	m.requestsInFlight.Dec()
}

func (m *httpMetrics) RecordBytesTransferred(direction string, bytes int64) {
	m.bytesTransferred.WithLabelValues(direction).Add(float64(bytes))
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// noopHTTPMetrics is a no-op implementation of HTTPMetrics with zero overhead.
type noopHTTPMetrics struct{}

// NewNoopHTTPMetrics returns an HTTPMetrics that discards everything.
func NewNoopHTTPMetrics() HTTPMetrics {
	return noopHTTPMetrics{}
}

func (noopHTTPMetrics) RecordRequest(string, string, int, time.Duration) {}
func (noopHTTPMetrics) RecordRequestStart()                              {}
func (noopHTTPMetrics) RecordRequestEnd()                                {}
func (noopHTTPMetrics) RecordBytesTransferred(string, int64)             {}
