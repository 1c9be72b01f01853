// Package config provides centralized configuration management for stdlens.
// Settings are layered with viper: built-in defaults, the user config file,
// STDLENS_* environment variables (mapped with gofulmen/config env specs) and
// runtime overrides, then decoded with mapstructure.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	// AppName names the config, data and cache directories.
	AppName = "stdlens"

	// EnvPrefix prefixes every environment variable override.
	EnvPrefix = "STDLENS_"
)

var (
	// appConfig holds the current application configuration
	appConfig *Config
	configMu  sync.RWMutex
)

// EnvVarSpec defines environment variable mappings for config fields
// following the pattern: {PREFIX}{NAME} maps to config path
type EnvVarSpec = gfconfig.EnvVarSpec

// Environment variable types
const (
	EnvString = gfconfig.EnvString
	EnvInt    = gfconfig.EnvInt
	EnvBool   = gfconfig.EnvBool
)

// Load loads configuration from the default config file location.
// This function is safe to call multiple times (e.g., for config reload)
func Load(ctx context.Context, runtimeOverrides ...map[string]any) (*Config, error) {
	return LoadFile(ctx, "", runtimeOverrides...)
}

// LoadFile loads configuration using path as the config file. An empty path falls back
// to DefaultConfigPath when that file exists.
func LoadFile(ctx context.Context, path string, runtimeOverrides ...map[string]any) (*Config, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	v := viper.New()
	SetDefaults(v)

	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = DefaultConfigPath()
	}
	if path != "" {
		if _, err := os.Stat(path); err == nil || explicit {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		}
	}

	envOverrides, err := gfconfig.LoadEnvOverrides(getEnvSpecs())
	if err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}
	if err := v.MergeConfigMap(envOverrides); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	for _, overrides := range runtimeOverrides {
		if err := v.MergeConfigMap(overrides); err != nil {
			return nil, fmt.Errorf("failed to apply runtime overrides: %w", err)
		}
	}

	cfg, err := decode(v.AllSettings())
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}
	cfg.Cache.Driver = strings.ToLower(strings.TrimSpace(cfg.Cache.Driver))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	setConfig(cfg)
	return cfg, nil
}

// SetDefaults registers the built-in default for every setting.
func SetDefaults(v *viper.Viper) {
	// API defaults
	v.SetDefault("api.base_url", "https://api.fda.gov")
	v.SetDefault("api.api_key", "")
	v.SetDefault("api.api_key_param", "api_key")
	v.SetDefault("api.requests_per_minute", 240)
	v.SetDefault("api.request_timeout", "30s")
	v.SetDefault("api.deadline", "5m")
	v.SetDefault("api.user_agent", "stdlens")

	// Retry defaults
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.base_delay", "1s")
	v.SetDefault("retry.min_delay", "250ms")
	v.SetDefault("retry.max_delay", "30s")
	v.SetDefault("retry.retry_all", false)

	// Cache defaults
	v.SetDefault("cache.driver", "libsql")
	v.SetDefault("cache.default_ttl", "168h")
	v.SetDefault("cache.ttl_by_endpoint", []any{})
	v.SetDefault("cache.max_entries", 10000)

	// Store defaults
	v.SetDefault("store.driver", "libsql")
	v.SetDefault("store.path", "")
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")

	// Redis defaults
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "stdlens:cache:")

	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "5m")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.inbound_rps", 10.0)
	v.SetDefault("server.inbound_burst", 20)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "SIMPLE")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	// Health check defaults
	v.SetDefault("health.enabled", true)

	// Worker defaults
	v.SetDefault("workers", 4)
}

func decode(settings map[string]any) (*Config, error) {
	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// getEnvSpecs returns environment variable specifications for config mapping
// Maps {PREFIX}{NAME} environment variables to config paths
func getEnvSpecs() []EnvVarSpec {
	prefix := EnvPrefix

	return []EnvVarSpec{
		// API config
		{Name: prefix + "BASE_URL", Path: []string{"api", "base_url"}, Type: EnvString},
		{Name: prefix + "API_KEY", Path: []string{"api", "api_key"}, Type: EnvString},
		{Name: prefix + "API_KEY_PARAM", Path: []string{"api", "api_key_param"}, Type: EnvString},
		{Name: prefix + "REQUESTS_PER_MINUTE", Path: []string{"api", "requests_per_minute"}, Type: EnvInt},
		// Duration fields are parsed as strings and converted by mapstructure decode hook
		{Name: prefix + "REQUEST_TIMEOUT", Path: []string{"api", "request_timeout"}, Type: EnvString},
		{Name: prefix + "DEADLINE", Path: []string{"api", "deadline"}, Type: EnvString},

		// Retry config
		{Name: prefix + "RETRY_MAX_ATTEMPTS", Path: []string{"retry", "max_attempts"}, Type: EnvInt},
		{Name: prefix + "RETRY_BASE_DELAY", Path: []string{"retry", "base_delay"}, Type: EnvString},
		{Name: prefix + "RETRY_MIN_DELAY", Path: []string{"retry", "min_delay"}, Type: EnvString},
		{Name: prefix + "RETRY_MAX_DELAY", Path: []string{"retry", "max_delay"}, Type: EnvString},
		{Name: prefix + "RETRY_ALL", Path: []string{"retry", "retry_all"}, Type: EnvBool},

		// Cache config
		{Name: prefix + "CACHE_DRIVER", Path: []string{"cache", "driver"}, Type: EnvString},
		{Name: prefix + "CACHE_TTL", Path: []string{"cache", "default_ttl"}, Type: EnvString},
		{Name: prefix + "CACHE_MAX_ENTRIES", Path: []string{"cache", "max_entries"}, Type: EnvInt},

		// Store config
		{Name: prefix + "DB_DRIVER", Path: []string{"store", "driver"}, Type: EnvString},
		{Name: prefix + "DB_PATH", Path: []string{"store", "path"}, Type: EnvString},
		{Name: prefix + "DB_URL", Path: []string{"store", "url"}, Type: EnvString},
		{Name: prefix + "DB_AUTH_TOKEN", Path: []string{"store", "auth_token"}, Type: EnvString},

		// Redis config
		{Name: prefix + "REDIS_ADDR", Path: []string{"redis", "addr"}, Type: EnvString},
		{Name: prefix + "REDIS_PASSWORD", Path: []string{"redis", "password"}, Type: EnvString},
		{Name: prefix + "REDIS_DB", Path: []string{"redis", "db"}, Type: EnvInt},
		{Name: prefix + "REDIS_PREFIX", Path: []string{"redis", "prefix"}, Type: EnvString},

		// Server config
		{Name: prefix + "HOST", Path: []string{"server", "host"}, Type: EnvString},
		{Name: prefix + "PORT", Path: []string{"server", "port"}, Type: EnvInt},
		{Name: prefix + "READ_TIMEOUT", Path: []string{"server", "read_timeout"}, Type: EnvString},
		{Name: prefix + "WRITE_TIMEOUT", Path: []string{"server", "write_timeout"}, Type: EnvString},
		{Name: prefix + "IDLE_TIMEOUT", Path: []string{"server", "idle_timeout"}, Type: EnvString},
		{Name: prefix + "SHUTDOWN_TIMEOUT", Path: []string{"server", "shutdown_timeout"}, Type: EnvString},
		{Name: prefix + "INBOUND_RPS", Path: []string{"server", "inbound_rps"}, Type: EnvString},
		{Name: prefix + "INBOUND_BURST", Path: []string{"server", "inbound_burst"}, Type: EnvInt},

		// Logging config
		{Name: prefix + "LOG_LEVEL", Path: []string{"logging", "level"}, Type: EnvString},
		{Name: prefix + "LOG_PROFILE", Path: []string{"logging", "profile"}, Type: EnvString},

		// Metrics config
		{Name: prefix + "METRICS_ENABLED", Path: []string{"metrics", "enabled"}, Type: EnvBool},
		{Name: prefix + "METRICS_PORT", Path: []string{"metrics", "port"}, Type: EnvInt},

		// Health config
		{Name: prefix + "HEALTH_ENABLED", Path: []string{"health", "enabled"}, Type: EnvBool},

		// Workers
		{Name: prefix + "WORKERS", Path: []string{"workers"}, Type: EnvInt},
	}
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := gfconfig.GetAppConfigDir(AppName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultDataDir returns the XDG-compliant data directory for the app.
func DefaultDataDir() string {
	return gfconfig.GetAppDataDir(AppName)
}

// DefaultCacheDir returns the XDG-compliant cache directory for the app.
func DefaultCacheDir() string {
	return gfconfig.GetAppCacheDir(AppName)
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	dataDir := DefaultDataDir()
	if strings.TrimSpace(dataDir) == "" {
		return filepath.Join(".", "."+AppName, "cache.db")
	}
	return filepath.Join(dataDir, "cache.db")
}
