package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const configHeader = `# StaffDrive Configuration File
#
# Every key can be overridden with an environment variable named after its
# path, e.g. STAFFDRIVE_AUTH_JWT_SECRET or STAFFDRIVE_BACKEND_TYPE.
#
# backend.type selects where files live:
#   local  node metadata (memory|badger) plus content (memory|fs|s3)
#   mega   a MEGA account (backend.mega.email / backend.mega.password)

`

// InitConfig writes a default configuration file to the default location
// and returns its path. An existing file is only replaced when force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a default configuration file to path with a
// freshly generated JWT secret.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	cfg := GetDefaultConfig()

	secret, err := generateSecret()
	if err != nil {
		return err
	}
	cfg.Auth.JWTSecret = secret
	// Left empty so links follow jwt_secret unless set explicitly.
	cfg.Links.Secret = ""

	body, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal default config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// The file holds secrets.
	if err := os.WriteFile(path, append([]byte(configHeader), body...), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
