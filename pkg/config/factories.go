package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/staffdrive/staffdrive/internal/logger"
	"github.com/staffdrive/staffdrive/internal/ratelimiter"
	"github.com/staffdrive/staffdrive/pkg/api"
	"github.com/staffdrive/staffdrive/pkg/auth"
	"github.com/staffdrive/staffdrive/pkg/backend"
	"github.com/staffdrive/staffdrive/pkg/backend/local"
	"github.com/staffdrive/staffdrive/pkg/backend/mega"
	"github.com/staffdrive/staffdrive/pkg/directory"
	directoryMemory "github.com/staffdrive/staffdrive/pkg/directory/memory"
	"github.com/staffdrive/staffdrive/pkg/directory/postgres"
	"github.com/staffdrive/staffdrive/pkg/gc"
	"github.com/staffdrive/staffdrive/pkg/store/content"
	contentFs "github.com/staffdrive/staffdrive/pkg/store/content/fs"
	contentMemory "github.com/staffdrive/staffdrive/pkg/store/content/memory"
	contentS3 "github.com/staffdrive/staffdrive/pkg/store/content/s3"
	"github.com/staffdrive/staffdrive/pkg/store/metadata"
	"github.com/staffdrive/staffdrive/pkg/store/metadata/badger"
	metadataMemory "github.com/staffdrive/staffdrive/pkg/store/metadata/memory"
	"github.com/staffdrive/staffdrive/pkg/vfs"
)

// decodeOptions decodes a store option map into out. Durations may be given
// as strings ("5m") and numbers may arrive as strings from environment
// variables.
func decodeOptions(options map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(options)
}

// CreateMetadataStore creates a node store based on configuration.
//
// Supported types:
//   - "memory": pkg/store/metadata/memory (ephemeral)
//   - "badger": pkg/store/metadata/badger (persistent)
func CreateMetadataStore(ctx context.Context, cfg *MetadataConfig) (metadata.Store, error) {
	switch cfg.Type {
	case "memory":
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return metadataMemory.NewMemoryMetadataStore(), nil
	case "badger":
		return createBadgerMetadataStore(ctx, cfg.Badger)
	default:
		return nil, fmt.Errorf("unknown metadata store type: %q (supported: memory, badger)", cfg.Type)
	}
}

func createBadgerMetadataStore(ctx context.Context, options map[string]any) (metadata.Store, error) {
	var storeCfg badger.BadgerMetadataStoreConfig
	if err := decodeOptions(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode badger metadata store config: %w", err)
	}
	if storeCfg.DBPath == "" && !storeCfg.InMemory {
		return nil, fmt.Errorf("badger metadata store: db_path is required")
	}

	store, err := badger.NewBadgerMetadataStore(ctx, storeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create badger metadata store: %w", err)
	}
	return store, nil
}

// CreateContentStore creates a content store based on configuration. m may
// be nil.
//
// Supported types:
//   - "memory": pkg/store/content/memory
//   - "fs": pkg/store/content/fs (files under a local directory)
//   - "s3": pkg/store/content/s3 (Amazon S3 or compatible storage)
func CreateContentStore(ctx context.Context, cfg *ContentConfig, m contentS3.S3Metrics) (content.Store, error) {
	switch cfg.Type {
	case "memory":
		store, err := contentMemory.NewMemoryContentStore(ctx)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "fs":
		return createFSContentStore(ctx, cfg.FS)
	case "s3":
		return createS3ContentStore(ctx, cfg.S3, m)
	default:
		return nil, fmt.Errorf("unknown content store type: %q (supported: memory, fs, s3)", cfg.Type)
	}
}

func createFSContentStore(ctx context.Context, options map[string]any) (content.Store, error) {
	var storeCfg contentFs.FSContentStoreConfig
	if err := decodeOptions(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode fs content store config: %w", err)
	}
	if storeCfg.Path == "" {
		return nil, fmt.Errorf("fs content store: path is required")
	}

	store, err := contentFs.NewFSContentStore(ctx, storeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create fs content store: %w", err)
	}
	return store, nil
}

func createS3ContentStore(ctx context.Context, options map[string]any, m contentS3.S3Metrics) (content.Store, error) {
	type s3Options struct {
		contentS3.ClientConfig `mapstructure:",squash"`

		Bucket          string `mapstructure:"bucket"`
		KeyPrefix       string `mapstructure:"key_prefix"`
		SkipBucketCheck bool   `mapstructure:"skip_bucket_check"`
	}

	var storeCfg s3Options
	if err := decodeOptions(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode S3 content store config: %w", err)
	}
	if storeCfg.Bucket == "" {
		return nil, fmt.Errorf("S3 content store: bucket is required")
	}

	client, err := contentS3.NewClient(ctx, storeCfg.ClientConfig)
	if err != nil {
		return nil, err
	}

	store, err := contentS3.NewS3ContentStore(ctx, contentS3.S3ContentStoreConfig{
		Client:          client,
		Bucket:          storeCfg.Bucket,
		KeyPrefix:       storeCfg.KeyPrefix,
		SkipBucketCheck: storeCfg.SkipBucketCheck,
		Metrics:         m,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 content store: %w", err)
	}

	logger.Info("S3 content store initialized: bucket=%s, region=%s, prefix=%s",
		storeCfg.Bucket, storeCfg.Region, storeCfg.KeyPrefix)
	return store, nil
}

// BackendResult is the backing store built from configuration along with
// the pieces that depend on its type.
type BackendResult struct {
	Backend     backend.Backend
	Credentials backend.Credentials

	// Signer verifies download tokens. nil unless the local backend signs
	// its own links.
	Signer *local.LinkSigner

	// Collector removes unreferenced content. nil for the mega backend.
	Collector *gc.Collector
}

// LinkVerifier returns the signer as an api.TokenVerifier, or nil when
// downloads are not served by this process.
func (r *BackendResult) LinkVerifier() api.TokenVerifier {
	if r.Signer == nil {
		return nil
	}
	return r.Signer
}

// CreateBackend creates the backing store selected by cfg.Backend.Type.
func CreateBackend(ctx context.Context, cfg *Config, m *MetricsResult) (*BackendResult, error) {
	switch cfg.Backend.Type {
	case "mega":
		return &BackendResult{
			Backend: mega.New(),
			Credentials: backend.Credentials{
				Email:    cfg.Backend.Mega.Email,
				Password: cfg.Backend.Mega.Password,
			},
		}, nil
	case "local":
		return createLocalBackend(ctx, cfg, m)
	default:
		return nil, fmt.Errorf("unknown backend type: %q (supported: local, mega)", cfg.Backend.Type)
	}
}

func createLocalBackend(ctx context.Context, cfg *Config, m *MetricsResult) (*BackendResult, error) {
	nodes, err := CreateMetadataStore(ctx, &cfg.Backend.Local.Metadata)
	if err != nil {
		return nil, err
	}

	var s3Metrics contentS3.S3Metrics
	if m != nil {
		s3Metrics = m.S3
	}
	store, err := CreateContentStore(ctx, &cfg.Backend.Local.Content, s3Metrics)
	if err != nil {
		_ = nodes.Close()
		return nil, err
	}

	var signer *local.LinkSigner
	if _, ok := store.(content.Presigner); !ok {
		signer, err = local.NewLinkSigner(cfg.Links.Secret, cfg.Server.PublicURL, cfg.Links.TTL)
		if err != nil {
			_ = nodes.Close()
			return nil, err
		}
	}

	b, err := local.New(local.Config{Nodes: nodes, Content: store, Signer: signer})
	if err != nil {
		_ = nodes.Close()
		return nil, err
	}

	collector, err := gc.NewCollector(nodes, store, cfg.Backend.Local.GC)
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("failed to create content collector: %w", err)
	}

	return &BackendResult{Backend: b, Signer: signer, Collector: collector}, nil
}

// CreateFS wraps b in the virtual folder layer.
func CreateFS(cfg *Config, b backend.Backend, m *MetricsResult) *vfs.FS {
	var vm vfs.Metrics
	if m != nil {
		vm = m.VFS
	}
	return vfs.New(b, vfs.Config{
		Cache:           cfg.Cache,
		LinkConcurrency: cfg.Links.Concurrency,
		LinkLimiter:     linkLimiter(&cfg.Links),
	}, vm)
}

// linkLimiter returns nil when link derivation is not rate limited.
func linkLimiter(cfg *LinksConfig) *ratelimiter.RateLimiter {
	limiter := ratelimiter.New(cfg.Rate, cfg.Burst)
	if limiter.Unlimited() {
		return nil
	}
	logger.Info("Link derivation limited to %d/s (burst %d)", cfg.Rate, cfg.Burst)
	return limiter
}

// CreateDirectory creates the employee directory and adds the configured
// seed employees that do not exist yet.
//
// Supported types:
//   - "memory": pkg/directory/memory
//   - "postgres": pkg/directory/postgres (lib/pq)
func CreateDirectory(ctx context.Context, cfg *DirectoryConfig) (directory.Store, error) {
	seed, err := seedEmployees(cfg.Employees)
	if err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "memory":
		store, err := directoryMemory.NewMemoryStore(seed...)
		if err != nil {
			return nil, fmt.Errorf("failed to seed employee directory: %w", err)
		}
		return store, nil
	case "postgres":
		var pgCfg postgres.Config
		if err := decodeOptions(cfg.Postgres, &pgCfg); err != nil {
			return nil, fmt.Errorf("failed to decode postgres directory config: %w", err)
		}
		store, err := postgres.New(ctx, pgCfg)
		if err != nil {
			return nil, err
		}
		for i := range seed {
			err := store.Create(ctx, &seed[i])
			if err != nil && !errors.Is(err, directory.ErrExists) {
				_ = store.Close()
				return nil, fmt.Errorf("failed to seed employee %s: %w", seed[i].EmployeeID, err)
			}
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown directory type: %q (supported: memory, postgres)", cfg.Type)
	}
}

func seedEmployees(seeds []EmployeeSeed) ([]directory.Employee, error) {
	out := make([]directory.Employee, 0, len(seeds))
	for _, s := range seeds {
		hash := s.PasswordHash
		if hash == "" {
			var err error
			if hash, err = directory.HashPassword(s.Password); err != nil {
				return nil, fmt.Errorf("failed to hash password of %s: %w", s.EmployeeID, err)
			}
		}
		out = append(out, directory.Employee{
			EmployeeID:   s.EmployeeID,
			Name:         s.Name,
			Department:   s.Department,
			PasswordHash: hash,
			Admin:        s.Admin,
		})
	}
	return out, nil
}

// CreateAuthenticator creates the session token issuer.
func CreateAuthenticator(cfg *AuthConfig) (*auth.Authenticator, error) {
	return auth.New(cfg.JWTSecret, cfg.TokenTTL)
}

// APIConfig maps the configuration onto the HTTP API settings.
func APIConfig(cfg *Config) api.Config {
	return api.Config{
		MaxUploadSize:     cfg.Upload.MaxSize,
		ChunkDir:          cfg.Upload.ChunkDir,
		ChunkExpiry:       cfg.Upload.ChunkExpiry,
		MaxChunks:         cfg.Upload.MaxChunks,
		IDPrefix:          cfg.Directory.IDPrefix,
		IDWidth:           cfg.Directory.IDWidth,
		MaxEmployees:      cfg.Directory.MaxEmployees,
		AllowRegistration: cfg.Auth.AllowRegistration,
		AllowedOrigins:    cfg.Server.CORSOrigins,
	}
}
