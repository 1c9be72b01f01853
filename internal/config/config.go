package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/stdlens/stdlens/internal/core"
)

// Config represents the complete application configuration.
// Values are layered: built-in defaults, then the config file
// ($XDG_CONFIG_HOME/stdlens/config.yaml or --config), then STDLENS_* environment
// variables, then runtime overrides.
type Config struct {
	API     APIConfig     `mapstructure:"api"`
	Retry   RetryConfig   `mapstructure:"retry"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Store   StoreConfig   `mapstructure:"store"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Health  HealthConfig  `mapstructure:"health"`
	Workers int           `mapstructure:"workers"`
}

// APIConfig describes the upstream API.
type APIConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	APIKeyParam       string        `mapstructure:"api_key_param"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	Deadline          time.Duration `mapstructure:"deadline"`
	UserAgent         string        `mapstructure:"user_agent"`
}

// RetryConfig controls backoff for failed upstream attempts.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`

	// RetryAll replays client errors (4xx) too.
	RetryAll bool `mapstructure:"retry_all"`
}

// CacheConfig selects the response cache backend and its lifetimes.
type CacheConfig struct {
	// Driver is one of memory, libsql, redis.
	Driver        string        `mapstructure:"driver"`
	DefaultTTL    time.Duration `mapstructure:"default_ttl"`
	TTLByEndpoint []TTLOverride `mapstructure:"ttl_by_endpoint"`
	MaxEntries    int           `mapstructure:"max_entries"`
}

// TTLOverride sets the cache lifetime for requests under a path prefix.
// It is a list entry rather than a map key because config keys cannot hold dots.
type TTLOverride struct {
	Prefix string        `mapstructure:"prefix"`
	TTL    time.Duration `mapstructure:"ttl"`
}

// StoreConfig contains database configuration for libsql/Turso
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// RedisConfig describes the shared Redis cache.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// InboundRPS throttles proxy clients per remote address; 0 disables it.
	InboundRPS   float64 `mapstructure:"inbound_rps"`
	InboundBurst int     `mapstructure:"inbound_burst"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	// Valid values: SIMPLE, STRUCTURED
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	// Enabled controls whether metrics are exposed
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated metrics endpoint port (Prometheus format)
	Port int `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// TTLMap returns the endpoint overrides keyed by normalized path prefix.
// A later entry for the same prefix replaces an earlier one.
func (c CacheConfig) TTLMap() map[string]time.Duration {
	out := make(map[string]time.Duration, len(c.TTLByEndpoint))
	for _, override := range c.TTLByEndpoint {
		if strings.TrimSpace(override.Prefix) == "" {
			continue
		}
		out[core.NormalizePath(override.Prefix)] = override.TTL
	}
	return out
}

// Validate reports settings that would make the client or server unusable.
func (c *Config) Validate() error {
	var errs []error

	if base, err := url.Parse(c.API.BaseURL); err != nil || base.Host == "" {
		errs = append(errs, fmt.Errorf("api.base_url must be an absolute url, got %q", c.API.BaseURL))
	}
	if c.API.RequestsPerMinute <= 0 {
		errs = append(errs, fmt.Errorf("api.requests_per_minute must be positive, got %d", c.API.RequestsPerMinute))
	}
	if c.API.RequestTimeout < 0 || c.API.Deadline < 0 {
		errs = append(errs, errors.New("api timeouts must not be negative"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts))
	}
	if c.Retry.MinDelay < 0 || c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 {
		errs = append(errs, errors.New("retry delays must not be negative"))
	}

	switch strings.ToLower(strings.TrimSpace(c.Cache.Driver)) {
	case "memory", "libsql":
	case "redis":
		if strings.TrimSpace(c.Redis.Addr) == "" {
			errs = append(errs, errors.New("redis.addr is required when cache.driver is redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.driver must be memory, libsql or redis, got %q", c.Cache.Driver))
	}
	for _, override := range c.Cache.TTLByEndpoint {
		if strings.TrimSpace(override.Prefix) == "" {
			errs = append(errs, errors.New("cache.ttl_by_endpoint entries need a prefix"))
		}
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Server.InboundRPS < 0 {
		errs = append(errs, errors.New("server.inbound_rps must not be negative"))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}

	return errors.Join(errs...)
}
