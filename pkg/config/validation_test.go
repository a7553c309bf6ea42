package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	cfg := GetDefaultConfig()
	cfg.Auth.JWTSecret = testSecret
	cfg.Links.Secret = testSecret
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_TagRules(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantTag string
	}{
		{"invalid log level", func(c *Config) { c.Logging.Level = "INVALID" }, "oneof"},
		{"invalid log format", func(c *Config) { c.Logging.Format = "xml" }, "oneof"},
		{"short jwt secret", func(c *Config) { c.Auth.JWTSecret = "short" }, "min"},
		{"unknown backend", func(c *Config) { c.Backend.Type = "ftp" }, "oneof"},
		{"unknown metadata store", func(c *Config) { c.Backend.Local.Metadata.Type = "redis" }, "oneof"},
		{"unknown content store", func(c *Config) { c.Backend.Local.Content.Type = "filesystem" }, "oneof"},
		{"unknown directory", func(c *Config) { c.Directory.Type = "ldap" }, "oneof"},
		{"bad public url", func(c *Config) { c.Server.PublicURL = "not a url" }, "url"},
		{"zero shutdown timeout", func(c *Config) { c.Server.ShutdownTimeout = 0 }, "required"},
		{"metrics port out of range", func(c *Config) { c.Server.Metrics.Port = 70000 }, "max"},
		{"negative cache ttl", func(c *Config) { c.Cache.TTL = -1 }, "gte"},
		{"zero upload size", func(c *Config) { c.Upload.MaxSize = 0 }, "gt"},
		{"bad mega email", func(c *Config) { c.Backend.Mega.Email = "nobody" }, "email"},
		{
			"seed without id",
			func(c *Config) {
				c.Directory.Employees = []EmployeeSeed{{Name: "Ada", Department: "Eng", Password: "x"}}
			},
			"required",
		},
		{
			"seed id with slash",
			func(c *Config) {
				c.Directory.Employees = []EmployeeSeed{{EmployeeID: "a/b", Name: "Ada", Department: "Eng", Password: "x"}}
			},
			"excludesall",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), "'"+tt.wantTag+"' tag") {
				t.Errorf("Expected %q tag failure, got: %v", tt.wantTag, err)
			}
		})
	}
}

func TestValidate_CustomRules(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			"mega without credentials",
			func(c *Config) { c.Backend.Type = "mega" },
			"email and password are required",
		},
		{
			"local links without secret",
			func(c *Config) { c.Links.Secret = "" },
			"signing secret is required",
		},
		{
			"duplicate seed employees",
			func(c *Config) {
				c.Directory.Employees = []EmployeeSeed{
					{EmployeeID: "3S001", Name: "Ada", Department: "Eng", Password: "x"},
					{EmployeeID: "3S001", Name: "Bob", Department: "Ops", Password: "y"},
				}
			},
			"duplicate employee id",
		},
		{
			"seed with both passwords",
			func(c *Config) {
				c.Directory.Employees = []EmployeeSeed{
					{EmployeeID: "3S001", Name: "Ada", Department: "Eng", Password: "x", PasswordHash: "$2a$"},
				}
			},
			"exactly one of password",
		},
		{
			"seed without password",
			func(c *Config) {
				c.Directory.Employees = []EmployeeSeed{{EmployeeID: "3S001", Name: "Ada", Department: "Eng"}}
			},
			"exactly one of password",
		},
		{
			"metrics on api port",
			func(c *Config) {
				c.Server.Metrics.Enabled = true
				c.Server.Metrics.Port = 8080
			},
			"already used by server.addr",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_S3ContentNeedsNoLinkSecret(t *testing.T) {
	cfg := validConfig()
	cfg.Links.Secret = ""
	cfg.Backend.Local.Content.Type = "s3"

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected presigning content store to need no link secret, got: %v", err)
	}
}

func TestValidate_MegaWithCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.Backend.Type = "mega"
	cfg.Backend.Mega.Email = "drive@example.com"
	cfg.Backend.Mega.Password = "hunter22"

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected mega config to validate, got: %v", err)
	}
}
