package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if cfg.Backend.Type == "mega" {
		if cfg.Backend.Mega.Email == "" || cfg.Backend.Mega.Password == "" {
			return fmt.Errorf("backend.mega: email and password are required for the mega backend")
		}
	}

	if cfg.Backend.Type == "local" && cfg.Backend.Local.Content.Type != "s3" && cfg.Links.Secret == "" {
		return fmt.Errorf("links.secret: a signing secret is required unless content is stored in s3")
	}

	seen := make(map[string]bool, len(cfg.Directory.Employees))
	for i, e := range cfg.Directory.Employees {
		if seen[e.EmployeeID] {
			return fmt.Errorf("directory.employees[%d]: duplicate employee id %q", i, e.EmployeeID)
		}
		seen[e.EmployeeID] = true

		if (e.Password == "") == (e.PasswordHash == "") {
			return fmt.Errorf("directory.employees[%d]: exactly one of password and password_hash must be set", i)
		}
	}

	if cfg.Server.Metrics.Enabled && portOf(cfg.Server.Addr) == cfg.Server.Metrics.Port {
		return fmt.Errorf("server.metrics.port: %d is already used by server.addr", cfg.Server.Metrics.Port)
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
