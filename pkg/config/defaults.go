package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/staffdrive/staffdrive/pkg/vfs"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Default Strategy:
//   - Zero values (0, "", nil) are replaced with defaults
//   - Explicit values are preserved
//   - Store-specific defaults are handled by store implementations
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyAuthDefaults(&cfg.Auth)
	applyBackendDefaults(&cfg.Backend)
	applyCacheDefaults(&cfg.Cache)
	applyLinksDefaults(&cfg.Links, cfg.Auth.JWTSecret)
	applyDirectoryDefaults(&cfg.Directory)
	applyUploadDefaults(&cfg.Upload)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.PublicURL == "" {
		cfg.PublicURL = publicURLFor(cfg.Addr)
	}
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
}

// publicURLFor derives a loopback URL from a listen address.
func publicURLFor(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://localhost:8080"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s", net.JoinHostPort(host, port))
}

func applyAuthDefaults(cfg *AuthConfig) {
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = 7 * 24 * time.Hour
	}
}

func applyBackendDefaults(cfg *BackendConfig) {
	if cfg.Type == "" {
		cfg.Type = "local"
	}

	local := &cfg.Local
	if local.Metadata.Type == "" {
		local.Metadata.Type = "memory"
	}
	if local.Metadata.Memory == nil {
		local.Metadata.Memory = make(map[string]any)
	}
	if local.Metadata.Badger == nil {
		local.Metadata.Badger = make(map[string]any)
	}

	if local.Content.Type == "" {
		local.Content.Type = "memory"
	}
	if local.Content.Memory == nil {
		local.Content.Memory = make(map[string]any)
	}
	if local.Content.FS == nil {
		local.Content.FS = make(map[string]any)
	}
	if local.Content.S3 == nil {
		local.Content.S3 = make(map[string]any)
	}

	if local.GC.Interval == 0 {
		local.GC.Interval = time.Hour
	}
	if local.GC.RunTimeout == 0 {
		local.GC.RunTimeout = 10 * time.Minute
	}
}

func applyCacheDefaults(cfg *vfs.CacheConfig) {
	def := vfs.DefaultCacheConfig()
	if cfg.TTL == 0 {
		cfg.TTL = def.TTL
	}
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = def.MaxEntries
	}
}

func applyLinksDefaults(cfg *LinksConfig, jwtSecret string) {
	if cfg.Burst == 0 {
		cfg.Burst = cfg.Rate
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 8
	}
	if cfg.TTL == 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.Secret == "" {
		cfg.Secret = jwtSecret
	}
}

func applyDirectoryDefaults(cfg *DirectoryConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	if cfg.Postgres == nil {
		cfg.Postgres = make(map[string]any)
	}
	if cfg.IDPrefix == "" {
		cfg.IDPrefix = "3S"
	}
	if cfg.IDWidth == 0 {
		cfg.IDWidth = 3
	}
	if cfg.MaxEmployees == 0 {
		cfg.MaxEmployees = 12
	}
}

func applyUploadDefaults(cfg *UploadConfig) {
	if cfg.MaxSize == 0 {
		cfg.MaxSize = 100 << 20
	}
	if cfg.ChunkExpiry == 0 {
		cfg.ChunkExpiry = time.Hour
	}
	if cfg.MaxChunks == 0 {
		cfg.MaxChunks = 10000
	}
}

// GetDefaultConfig returns a Config with all default values applied.
//
// The JWT secret is left empty: "staffdrive init" generates one, and Load
// rejects a configuration without it.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Cache: vfs.CacheConfig{Enabled: true},
	}
	cfg.Backend.Local.GC.Enabled = true
	ApplyDefaults(cfg)
	return cfg
}

// portOf returns the numeric port of a listen address, or 0.
func portOf(addr string) int {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return 0
	}
	return n
}
