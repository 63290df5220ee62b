package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestLoadDefaults tests that default configuration values are loaded correctly.
func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	if err != nil {
		t.Fatalf("Failed to load defaults: %v", err)
	}

	// Engine defaults
	if cfg.Engine.OperationTimeout != 300*time.Second {
		t.Errorf("Expected default operation timeout 300s, got %v", cfg.Engine.OperationTimeout)
	}
	if cfg.Engine.ConnectionTimeout != 10*time.Second {
		t.Errorf("Expected default connection timeout 10s, got %v", cfg.Engine.ConnectionTimeout)
	}
	if cfg.Engine.RetryAttempts != 3 {
		t.Errorf("Expected default retry attempts 3, got %d", cfg.Engine.RetryAttempts)
	}
	if cfg.Engine.RetryDelay != time.Second {
		t.Errorf("Expected default retry delay 1s, got %v", cfg.Engine.RetryDelay)
	}
	if cfg.Engine.RetryMultiplier != 2.0 {
		t.Errorf("Expected default retry multiplier 2, got %v", cfg.Engine.RetryMultiplier)
	}
	if cfg.Engine.RetryMaxDelay != 30*time.Second {
		t.Errorf("Expected default retry max delay 30s, got %v", cfg.Engine.RetryMaxDelay)
	}
	if cfg.Engine.MaxConcurrentTasks != 5 {
		t.Errorf("Expected default max concurrent tasks 5, got %d", cfg.Engine.MaxConcurrentTasks)
	}
	if cfg.Engine.TaskRetention != 10*time.Minute {
		t.Errorf("Expected default task retention 10m, got %v", cfg.Engine.TaskRetention)
	}
	if cfg.Engine.AutoStart {
		t.Errorf("Expected auto_start disabled by default")
	}

	if cfg.Events.BufferSize != 64 {
		t.Errorf("Expected default event buffer 64, got %d", cfg.Events.BufferSize)
	}
	if cfg.Manifest.Path != "anchor.json" {
		t.Errorf("Expected default manifest path 'anchor.json', got '%s'", cfg.Manifest.Path)
	}
	if cfg.Registry.Provider != "none" {
		t.Errorf("Expected default registry provider 'none', got '%s'", cfg.Registry.Provider)
	}

	// Server defaults
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Expected default server host '0.0.0.0', got '%s'", cfg.Server.Host)
	}
	if cfg.Server.Port != 8095 {
		t.Errorf("Expected default server port 8095, got %d", cfg.Server.Port)
	}
	if cfg.Server.Address() != "0.0.0.0:8095" {
		t.Errorf("Expected address '0.0.0.0:8095', got '%s'", cfg.Server.Address())
	}

	// Logging defaults
	if cfg.Logging.Level != "info" {
		t.Errorf("Expected default logging level 'info', got '%s'", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default logging format 'text', got '%s'", cfg.Logging.Format)
	}

	// Security defaults
	if cfg.Security.AuthEnabled {
		t.Errorf("Expected auth disabled by default")
	}
	if cfg.Security.JWTExpiration != 24*time.Hour {
		t.Errorf("Expected default jwt expiration 24h, got %v", cfg.Security.JWTExpiration)
	}
	if len(cfg.Security.AllowedOrigins) != 1 || cfg.Security.AllowedOrigins[0] != "*" {
		t.Errorf("Expected default allowed origins [*], got %v", cfg.Security.AllowedOrigins)
	}
}

// TestLoadFile tests values read from a YAML file.
func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anchor.yaml")
	content := `
engine:
  retry_attempts: 0
  retry_delay: 250ms
  retry_multiplier: 1
  max_concurrent_tasks: 2
registry:
  provider: ecr
  region: eu-west-1
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	p := cfg.RetryPolicy()
	if p.RetryAttempts != 0 || p.RetryDelay != 250*time.Millisecond || p.Multiplier != 1 {
		t.Errorf("Unexpected retry policy: %+v", p)
	}
	if p.OperationTimeout != 300*time.Second {
		t.Errorf("Expected default operation timeout to survive, got %v", p.OperationTimeout)
	}
	if cfg.Engine.MaxConcurrentTasks != 2 {
		t.Errorf("Expected max concurrent tasks 2, got %d", cfg.Engine.MaxConcurrentTasks)
	}

	opts := cfg.CredentialOptions()
	if opts.Provider != "ecr" || opts.Region != "eu-west-1" {
		t.Errorf("Unexpected credential options: %+v", opts)
	}
}

// TestValidation tests configuration validation rules.
func TestValidation(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Engine: EngineConfig{
				OperationTimeout:   time.Minute,
				ConnectionTimeout:  time.Second,
				RetryAttempts:      3,
				RetryMultiplier:    2,
				MaxConcurrentTasks: 5,
			},
			Registry: RegistryConfig{Provider: "none"},
			Server:   ServerConfig{Port: 8095},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"negative retries", func(c *Config) { c.Engine.RetryAttempts = -1 }, "retry_attempts"},
		{"zero concurrency", func(c *Config) { c.Engine.MaxConcurrentTasks = 0 }, "max_concurrent_tasks"},
		{"shrinking backoff", func(c *Config) { c.Engine.RetryMultiplier = 0.5 }, "retry_multiplier"},
		{"no operation timeout", func(c *Config) { c.Engine.OperationTimeout = 0 }, "operation_timeout"},
		{"unknown provider", func(c *Config) { c.Registry.Provider = "vault" }, "registry provider"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server port"},
		{"short secret", func(c *Config) {
			c.Security.AuthEnabled = true
			c.Security.JWTSecret = "short"
		}, "jwt_secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

// TestEnvironmentVariableOverride tests that ANCHOR_ variables win over defaults.
func TestEnvironmentVariableOverride(t *testing.T) {
	t.Setenv("ANCHOR_ENGINE_RETRY_ATTEMPTS", "7")
	t.Setenv("ANCHOR_ENGINE_OPERATION_TIMEOUT", "2m")
	t.Setenv("ANCHOR_SERVER_PORT", "9000")

	cfg, err := Load("nonexistent.yaml")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Engine.RetryAttempts != 7 {
		t.Errorf("Expected retry attempts 7 from env, got %d", cfg.Engine.RetryAttempts)
	}
	if cfg.Engine.OperationTimeout != 2*time.Minute {
		t.Errorf("Expected operation timeout 2m from env, got %v", cfg.Engine.OperationTimeout)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Expected port 9000 from env, got %d", cfg.Server.Port)
	}
}

// TestGet tests that Get returns the last loaded configuration.
func TestGet(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if Get() != cfg {
		t.Errorf("Get() did not return the loaded configuration")
	}
}
