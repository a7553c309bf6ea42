package config

import (
	"github.com/staffdrive/staffdrive/pkg/metrics"
	"github.com/staffdrive/staffdrive/pkg/store/content/s3"
	"github.com/staffdrive/staffdrive/pkg/vfs"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// VFS observes folder operations and the listing cache (never nil)
	VFS vfs.Metrics

	// S3 observes S3 content store calls (nil if disabled)
	S3 s3.S3Metrics

	// HTTP observes API requests (never nil)
	HTTP metrics.HTTPMetrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled the global Prometheus registry is initialized and
// every collector is registered on it exactly once, so InitializeMetrics
// must be called only once per process. If metrics are disabled no-op
// implementations are returned.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Server.Metrics.Enabled {
		return &MetricsResult{
			VFS:  vfs.NewNoopMetrics(),
			HTTP: metrics.NewNoopHTTPMetrics(),
		}
	}

	metrics.InitRegistry()

	server := metrics.NewServer(metrics.ServerConfig{
		Port: cfg.Server.Metrics.Port,
	})

	return &MetricsResult{
		Server: server,
		VFS:    metrics.NewVFSMetrics(),
		S3:     metrics.NewS3Metrics(),
		HTTP:   metrics.NewHTTPMetrics(),
	}
}
