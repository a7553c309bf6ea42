package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/staffdrive/staffdrive/internal/logger"
	"github.com/staffdrive/staffdrive/pkg/gc"
	"github.com/staffdrive/staffdrive/pkg/vfs"
)

// Config represents the complete StaffDrive server configuration.
//
// Configuration is loaded from (in order of precedence):
//  1. Environment variables (STAFFDRIVE_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values
//
// Store-specific options are kept as maps and decoded by the factories, so a
// new store type does not require changes here.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains the HTTP listener and metrics settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Auth configures session tokens
	Auth AuthConfig `mapstructure:"auth" yaml:"auth"`

	// Backend selects and configures the backing store
	Backend BackendConfig `mapstructure:"backend" yaml:"backend"`

	// Cache configures the folder listing cache
	Cache vfs.CacheConfig `mapstructure:"cache" yaml:"cache"`

	// Links throttles and signs download links
	Links LinksConfig `mapstructure:"links" yaml:"links"`

	// Directory configures the employee directory
	Directory DirectoryConfig `mapstructure:"directory" yaml:"directory"`

	// Upload bounds single and chunked uploads
	Upload UploadConfig `mapstructure:"upload" yaml:"upload"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ServerConfig contains the HTTP listener settings.
type ServerConfig struct {
	// Addr is the API listen address
	Addr string `mapstructure:"addr" yaml:"addr" validate:"required"`

	// PublicURL is the externally reachable base URL, used in signed
	// download links. Defaults to http://localhost<addr>.
	PublicURL string `mapstructure:"public_url" yaml:"public_url" validate:"omitempty,url"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`

	// CORSOrigins lists allowed browser origins. Empty allows any origin.
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// MetricsConfig configures the metrics listener.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the metrics listen port (default: 9090)
	Port int `mapstructure:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`
}

// AuthConfig configures session tokens.
type AuthConfig struct {
	// JWTSecret signs session tokens. Generated by "staffdrive init".
	JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret" validate:"required,min=16"`

	// TokenTTL is how long a session token is valid (default: 168h)
	TokenTTL time.Duration `mapstructure:"token_ttl" yaml:"token_ttl" validate:"gt=0"`

	// AllowRegistration enables self-service sign-up
	AllowRegistration bool `mapstructure:"allow_registration" yaml:"allow_registration"`
}

// BackendConfig selects the backing store.
type BackendConfig struct {
	// Type is "local" (own metadata and content stores) or "mega"
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=local mega"`

	Local LocalBackendConfig `mapstructure:"local" yaml:"local"`

	Mega MegaConfig `mapstructure:"mega" yaml:"mega"`
}

// LocalBackendConfig configures the stores behind the local backend.
type LocalBackendConfig struct {
	Metadata MetadataConfig `mapstructure:"metadata" yaml:"metadata"`

	Content ContentConfig `mapstructure:"content" yaml:"content"`

	// GC removes content no file references
	GC gc.Config `mapstructure:"gc" yaml:"gc"`
}

// MetadataConfig specifies the node store.
type MetadataConfig struct {
	// Type specifies which node store implementation to use
	// Valid values: memory, badger
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory badger"`

	// Memory contains memory-specific configuration
	Memory map[string]any `mapstructure:"memory" yaml:"memory"`

	// Badger contains BadgerDB-specific configuration
	Badger map[string]any `mapstructure:"badger" yaml:"badger"`
}

// ContentConfig specifies the content store.
type ContentConfig struct {
	// Type specifies which content store implementation to use
	// Valid values: memory, fs, s3
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory fs s3"`

	Memory map[string]any `mapstructure:"memory" yaml:"memory"`

	FS map[string]any `mapstructure:"fs" yaml:"fs"`

	S3 map[string]any `mapstructure:"s3" yaml:"s3"`
}

// MegaConfig holds the MEGA account the server signs in with.
type MegaConfig struct {
	Email    string `mapstructure:"email" yaml:"email" validate:"omitempty,email"`
	Password string `mapstructure:"password" yaml:"password"`
}

// LinksConfig configures download link derivation.
type LinksConfig struct {
	// Rate is the maximum number of links derived per second across all
	// listings. 0 disables throttling.
	Rate uint `mapstructure:"rate" yaml:"rate"`

	// Burst is the token bucket size (default: rate)
	Burst uint `mapstructure:"burst" yaml:"burst"`

	// Concurrency bounds parallel derivations within one listing (default: 8)
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency" validate:"gte=0"`

	// TTL is how long signed local links stay valid (default: 24h)
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl" validate:"gte=0"`

	// Secret signs local download links. Defaults to auth.jwt_secret.
	Secret string `mapstructure:"secret" yaml:"secret"`
}

// DirectoryConfig configures the employee directory.
type DirectoryConfig struct {
	// Type is "memory" or "postgres"
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory postgres"`

	// Postgres contains the connection options (dsn, max_open_conns,
	// conn_max_lifetime)
	Postgres map[string]any `mapstructure:"postgres" yaml:"postgres"`

	// IDPrefix, IDWidth and MaxEmployees shape generated employee ids
	IDPrefix     string `mapstructure:"id_prefix" yaml:"id_prefix"`
	IDWidth      int    `mapstructure:"id_width" yaml:"id_width" validate:"gte=1,lte=12"`
	MaxEmployees int    `mapstructure:"max_employees" yaml:"max_employees" validate:"gte=1"`

	// Employees are created at startup if missing
	Employees []EmployeeSeed `mapstructure:"employees" yaml:"employees" validate:"dive"`
}

// EmployeeSeed is an employee account created at startup. Exactly one of
// Password and PasswordHash must be set.
type EmployeeSeed struct {
	EmployeeID   string `mapstructure:"employee_id" yaml:"employee_id" validate:"required,excludesall=/\\"`
	Name         string `mapstructure:"name" yaml:"name" validate:"required"`
	Department   string `mapstructure:"department" yaml:"department" validate:"required"`
	Password     string `mapstructure:"password" yaml:"password,omitempty"`
	PasswordHash string `mapstructure:"password_hash" yaml:"password_hash,omitempty"`
	Admin        bool   `mapstructure:"admin" yaml:"admin,omitempty"`
}

// UploadConfig bounds uploads.
type UploadConfig struct {
	// MaxSize caps a single-request upload and a single chunk (default: 100MB)
	MaxSize int64 `mapstructure:"max_size" yaml:"max_size" validate:"gt=0"`

	// ChunkDir holds chunked uploads in progress (default: system temp dir)
	ChunkDir string `mapstructure:"chunk_dir" yaml:"chunk_dir"`

	// ChunkExpiry is how long an idle chunked upload is kept (default: 1h)
	ChunkExpiry time.Duration `mapstructure:"chunk_expiry" yaml:"chunk_expiry" validate:"gt=0"`

	// MaxChunks bounds the chunk count of one upload (default: 10000)
	MaxChunks int `mapstructure:"max_chunks" yaml:"max_chunks" validate:"gt=0"`
}

// Load loads configuration from file, environment variables, and defaults.
//
// If configPath is empty, Load looks for config.yaml in the default config
// directory. A missing file is not an error: defaults and environment
// variables still apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v, configPath); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file
// settings. STAFFDRIVE_AUTH_JWT_SECRET maps to auth.jwt_secret.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("STAFFDRIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only applies to keys viper already knows about, so the
	// scalar keys are bound explicitly for file-less deployments.
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// Booleans that default to true cannot be told apart from an explicit
	// false after unmarshalling, so they are seeded here instead of in
	// ApplyDefaults.
	v.SetDefault("cache.enabled", true)
	v.SetDefault("backend.local.gc.enabled", true)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

var envKeys = []string{
	"logging.level",
	"logging.format",
	"logging.output",
	"server.addr",
	"server.public_url",
	"server.metrics.enabled",
	"server.metrics.port",
	"auth.jwt_secret",
	"auth.allow_registration",
	"backend.type",
	"backend.mega.email",
	"backend.mega.password",
	"directory.type",
	"directory.postgres.dsn",
}

// readConfigFile reads the config file. A missing file is not an error:
// defaults and environment variables still apply.
func readConfigFile(v *viper.Viper, configPath string) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if configPath != "" && errors.Is(err, fs.ErrNotExist) {
			logger.Debug("Config file %s not found, using defaults", configPath)
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns $XDG_CONFIG_HOME/staffdrive, falling back to
// ~/.config/staffdrive.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "staffdrive")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "staffdrive")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
