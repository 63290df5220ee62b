// Package config provides configuration management for anchor.
//
// This package handles loading configuration from multiple sources:
//   - YAML configuration files
//   - Environment variables (with ANCHOR_ prefix)
//   - .env files
//   - Default values
//
// # Configuration Sources Priority
//
// Configuration is loaded in the following order (later sources override earlier ones):
//  1. Default values (hardcoded)
//  2. Configuration files (./anchor.yaml, ./configs/anchor.yaml, ~/.anchor/anchor.yaml, /etc/anchor/anchor.yaml)
//  3. .env files
//  4. Environment variables (ANCHOR_ prefix)
//
// # Usage Example
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Engine: %s (max %d tasks)\n", cfg.Engine.Host, cfg.Engine.MaxConcurrentTasks)
//
// # Environment Variables
//
// Environment variables override all other configuration sources.
// Use ANCHOR_ prefix and underscores for nested keys:
//   - ANCHOR_ENGINE_RETRY_ATTEMPTS=5
//   - ANCHOR_ENGINE_OPERATION_TIMEOUT=10m
//   - ANCHOR_REGISTRY_PROVIDER=ecr
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"evalgo.org/anchor/internal/credentials"
	"evalgo.org/anchor/internal/engine"
	"evalgo.org/anchor/internal/retry"
	"github.com/spf13/viper"
)

// Config is the root configuration structure for anchor.
type Config struct {
	// Engine contains container engine, retry and scheduling settings
	Engine EngineConfig `mapstructure:"engine" yaml:"engine"`

	// Events contains progress bus settings
	Events EventsConfig `mapstructure:"events" yaml:"events"`

	// Manifest contains the default manifest location
	Manifest ManifestConfig `mapstructure:"manifest" yaml:"manifest"`

	// Registry contains registry credential settings
	Registry RegistryConfig `mapstructure:"registry" yaml:"registry"`

	// Server contains HTTP server configuration
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Logging contains logging settings
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Security contains security and rate limiting settings
	Security SecurityConfig `mapstructure:"security" yaml:"security"`
}

// EngineConfig contains container engine settings.
type EngineConfig struct {
	// Host is the engine endpoint; empty means DOCKER_HOST or the default socket
	Host string `mapstructure:"host" yaml:"host"`

	// OperationTimeout bounds a single attempt of any engine operation
	OperationTimeout time.Duration `mapstructure:"operation_timeout" yaml:"operation_timeout"`

	// ConnectionTimeout bounds a liveness probe
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout" yaml:"connection_timeout"`

	// RetryAttempts is the number of retries after the first attempt
	RetryAttempts int `mapstructure:"retry_attempts" yaml:"retry_attempts"`

	// RetryDelay is the delay before the first retry
	RetryDelay time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`

	// RetryMultiplier scales the delay between retries (1 = fixed delay)
	RetryMultiplier float64 `mapstructure:"retry_multiplier" yaml:"retry_multiplier"`

	// RetryMaxDelay caps any single retry delay
	RetryMaxDelay time.Duration `mapstructure:"retry_max_delay" yaml:"retry_max_delay"`

	// MaxConcurrentTasks is the scheduler's concurrency limit
	MaxConcurrentTasks int `mapstructure:"max_concurrent_tasks" yaml:"max_concurrent_tasks"`

	// TaskRetention is how long finished tasks stay queryable
	TaskRetention time.Duration `mapstructure:"task_retention" yaml:"task_retention"`

	// StopTimeout is the grace period given to a container before it is killed
	StopTimeout time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`

	// AutoStart starts the engine daemon when it does not answer
	AutoStart bool `mapstructure:"auto_start" yaml:"auto_start"`
}

// EventsConfig contains progress bus settings.
type EventsConfig struct {
	// BufferSize is the per-subscriber queue length
	BufferSize int `mapstructure:"buffer_size" yaml:"buffer_size"`
}

// ManifestConfig contains manifest settings.
type ManifestConfig struct {
	// Path is the manifest file used when none is given on the command line
	Path string `mapstructure:"path" yaml:"path"`
}

// RegistryConfig contains registry credential settings.
type RegistryConfig struct {
	// Provider is one of none, static, ecr
	Provider string `mapstructure:"provider" yaml:"provider"`

	// Username for the static provider
	Username string `mapstructure:"username" yaml:"username"`

	// Password for the static provider
	Password string `mapstructure:"password" yaml:"password"`

	// ServerAddress for the static provider
	ServerAddress string `mapstructure:"server_address" yaml:"server_address"`

	// Region overrides the AWS region for the ecr provider
	Region string `mapstructure:"region" yaml:"region"`

	// Profile selects a shared AWS config profile for the ecr provider
	Profile string `mapstructure:"profile" yaml:"profile"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Host is the server bind address (default: 0.0.0.0)
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the server listen port (default: 8095)
	Port int `mapstructure:"port" yaml:"port"`

	// ReadTimeout is the maximum duration for reading requests
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the maximum duration for writing responses
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`

	// ShutdownTimeout is the maximum duration for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	// Debug enables debug logging
	Debug bool `mapstructure:"debug" yaml:"debug"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error)
	Level string `mapstructure:"level" yaml:"level"`

	// Format is the log format (text, json, logfmt)
	Format string `mapstructure:"format" yaml:"format"`

	// Output is the log destination (stderr, stdout or a file path)
	Output string `mapstructure:"output" yaml:"output"`
}

// SecurityConfig contains security and rate limiting settings.
type SecurityConfig struct {
	// RateLimit is the maximum requests per second per client
	RateLimit int `mapstructure:"rate_limit" yaml:"rate_limit"`

	// AllowedOrigins are the CORS allowed origins
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`

	// AuthEnabled enables JWT authentication on /api/v1
	AuthEnabled bool `mapstructure:"auth_enabled" yaml:"auth_enabled"`

	// JWTSecret is the secret key for signing JWT tokens
	JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret"`

	// JWTExpiration is the JWT token expiration duration (default: 24h)
	JWTExpiration time.Duration `mapstructure:"jwt_expiration" yaml:"jwt_expiration"`
}

var cfg *Config

// Load reads configuration from a file and environment variables.
// If cfgFile is empty, it searches for anchor.yaml in standard locations.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (ANCHOR_ prefix)
//  2. .env file
//  3. Configuration file
//  4. Default values
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("anchor")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.anchor")
		v.AddConfigPath("/etc/anchor")
	}

	if err := v.ReadInConfig(); err != nil {
		if cfgFile != "" {
			// A missing explicit file falls back to defaults.
			if !isFileNotFoundError(err) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		} else {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.MergeInConfig() // Ignore error if .env file doesn't exist

	v.SetEnvPrefix("ANCHOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg = &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.host", "")
	v.SetDefault("engine.operation_timeout", "300s")
	v.SetDefault("engine.connection_timeout", "10s")
	v.SetDefault("engine.retry_attempts", 3)
	v.SetDefault("engine.retry_delay", "1s")
	v.SetDefault("engine.retry_multiplier", 2.0)
	v.SetDefault("engine.retry_max_delay", "30s")
	v.SetDefault("engine.max_concurrent_tasks", 5)
	v.SetDefault("engine.task_retention", "10m")
	v.SetDefault("engine.stop_timeout", "10s")
	v.SetDefault("engine.auto_start", false)

	v.SetDefault("events.buffer_size", 64)

	v.SetDefault("manifest.path", "anchor.json")

	v.SetDefault("registry.provider", credentials.ProviderNone)
	v.SetDefault("registry.username", "")
	v.SetDefault("registry.password", "")
	v.SetDefault("registry.server_address", "")
	v.SetDefault("registry.region", "")
	v.SetDefault("registry.profile", "")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8095)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.debug", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("security.rate_limit", 100)
	v.SetDefault("security.allowed_origins", []string{"*"})
	v.SetDefault("security.auth_enabled", false)
	v.SetDefault("security.jwt_secret", "")
	v.SetDefault("security.jwt_expiration", "24h")
}

func validate(cfg *Config) error {
	var errs []error

	if cfg.Engine.OperationTimeout <= 0 {
		errs = append(errs, fmt.Errorf("engine operation_timeout must be positive"))
	}
	if cfg.Engine.ConnectionTimeout <= 0 {
		errs = append(errs, fmt.Errorf("engine connection_timeout must be positive"))
	}
	if cfg.Engine.RetryAttempts < 0 {
		errs = append(errs, fmt.Errorf("engine retry_attempts must not be negative: %d", cfg.Engine.RetryAttempts))
	}
	if cfg.Engine.RetryMultiplier < 1 {
		errs = append(errs, fmt.Errorf("engine retry_multiplier must be at least 1: %g", cfg.Engine.RetryMultiplier))
	}
	if cfg.Engine.MaxConcurrentTasks < 1 {
		errs = append(errs, fmt.Errorf("engine max_concurrent_tasks must be at least 1: %d", cfg.Engine.MaxConcurrentTasks))
	}

	switch strings.ToLower(cfg.Registry.Provider) {
	case credentials.ProviderNone, credentials.ProviderStatic, credentials.ProviderECR:
	default:
		errs = append(errs, fmt.Errorf("unknown registry provider: %q", cfg.Registry.Provider))
	}

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown logging level: %q", cfg.Logging.Level))
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "text", "json", "logfmt":
	default:
		errs = append(errs, fmt.Errorf("unknown logging format: %q", cfg.Logging.Format))
	}

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port: %d", cfg.Server.Port))
	}

	if cfg.Security.AuthEnabled && len(cfg.Security.JWTSecret) < 32 {
		errs = append(errs, fmt.Errorf("security jwt_secret must be at least 32 characters when auth is enabled"))
	}

	return errors.Join(errs...)
}

// Get returns the most recently loaded configuration.
func Get() *Config {
	return cfg
}

// RetryPolicy builds the engine retry policy from the engine section.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		OperationTimeout:  c.Engine.OperationTimeout,
		ConnectionTimeout: c.Engine.ConnectionTimeout,
		RetryAttempts:     c.Engine.RetryAttempts,
		RetryDelay:        c.Engine.RetryDelay,
		Multiplier:        c.Engine.RetryMultiplier,
		MaxDelay:          c.Engine.RetryMaxDelay,
	}
}

// DockerOptions builds the engine client options.
func (c *Config) DockerOptions() engine.DockerOptions {
	return engine.DockerOptions{
		Host:              c.Engine.Host,
		ConnectionTimeout: c.Engine.ConnectionTimeout,
		StopTimeout:       c.Engine.StopTimeout,
	}
}

// CredentialOptions builds the registry credential provider options.
func (c *Config) CredentialOptions() credentials.Options {
	return credentials.Options{
		Provider:      c.Registry.Provider,
		Username:      c.Registry.Username,
		Password:      c.Registry.Password,
		ServerAddress: c.Registry.ServerAddress,
		Region:        c.Registry.Region,
		Profile:       c.Registry.Profile,
	}
}

// Address returns the server listen address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// isFileNotFoundError checks if an error is a file not found error.
func isFileNotFoundError(err error) bool {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return errors.Is(pathErr, os.ErrNotExist)
	}
	return false
}
