package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points every XDG directory at a temp dir so a developer's own
// config file cannot leak into the test.
func isolate(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(root, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(root, "data"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(root, "cache"))
	return root
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("LoadDefaults", func(t *testing.T) {
		isolate(t)

		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "https://api.fda.gov", cfg.API.BaseURL)
		assert.Equal(t, "api_key", cfg.API.APIKeyParam)
		assert.Equal(t, 240, cfg.API.RequestsPerMinute)
		assert.Equal(t, 30*time.Second, cfg.API.RequestTimeout)
		assert.Equal(t, 5*time.Minute, cfg.API.Deadline)

		assert.Equal(t, 5, cfg.Retry.MaxAttempts)
		assert.Equal(t, time.Second, cfg.Retry.BaseDelay)
		assert.Equal(t, 250*time.Millisecond, cfg.Retry.MinDelay)
		assert.Equal(t, 30*time.Second, cfg.Retry.MaxDelay)
		assert.False(t, cfg.Retry.RetryAll)

		assert.Equal(t, "libsql", cfg.Cache.Driver)
		assert.Equal(t, 7*24*time.Hour, cfg.Cache.DefaultTTL)
		assert.Empty(t, cfg.Cache.TTLByEndpoint)
		assert.Equal(t, 10000, cfg.Cache.MaxEntries)

		assert.Equal(t, "localhost", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 10.0, cfg.Server.InboundRPS)
		assert.Equal(t, "info", cfg.Logging.Level)
		assert.True(t, cfg.Metrics.Enabled)
		assert.Equal(t, 4, cfg.Workers)

		expectedStorePath := filepath.Join(gfconfig.GetAppDataDir(AppName), "cache.db")
		assert.Equal(t, expectedStorePath, cfg.Store.Path)
		assert.Same(t, cfg, GetConfig())
	})

	t.Run("EnvironmentOverrides", func(t *testing.T) {
		isolate(t)
		t.Setenv("STDLENS_API_KEY", "env-key")
		t.Setenv("STDLENS_REQUESTS_PER_MINUTE", "60")
		t.Setenv("STDLENS_RETRY_MAX_DELAY", "5s")
		t.Setenv("STDLENS_CACHE_DRIVER", "memory")
		t.Setenv("STDLENS_PORT", "9000")

		cfg, err := Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, "env-key", cfg.API.APIKey)
		assert.Equal(t, 60, cfg.API.RequestsPerMinute)
		assert.Equal(t, 5*time.Second, cfg.Retry.MaxDelay)
		assert.Equal(t, "memory", cfg.Cache.Driver)
		assert.Equal(t, 9000, cfg.Server.Port)
	})

	t.Run("ConfigFileFromXDG", func(t *testing.T) {
		root := isolate(t)
		writeConfig(t, filepath.Join(root, "config", AppName), `
api:
  base_url: https://example.test
  requests_per_minute: 40
cache:
  driver: memory
  default_ttl: 1h
  ttl_by_endpoint:
    - prefix: /drug/label.json
      ttl: 24h
    - prefix: /device
      ttl: 10m
`)

		cfg, err := Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, "https://example.test", cfg.API.BaseURL)
		assert.Equal(t, 40, cfg.API.RequestsPerMinute)
		assert.Equal(t, time.Hour, cfg.Cache.DefaultTTL)
		require.Len(t, cfg.Cache.TTLByEndpoint, 2)
		assert.Equal(t, map[string]time.Duration{
			"/drug/label.json": 24 * time.Hour,
			"/device":          10 * time.Minute,
		}, cfg.Cache.TTLMap())

		// untouched sections keep their defaults
		assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	})

	t.Run("EnvBeatsFileAndRuntimeBeatsEnv", func(t *testing.T) {
		root := isolate(t)
		path := writeConfig(t, filepath.Join(root, "elsewhere"), `
api:
  requests_per_minute: 40
server:
  port: 7000
`)
		t.Setenv("STDLENS_REQUESTS_PER_MINUTE", "50")
		t.Setenv("STDLENS_PORT", "7100")

		cfg, err := LoadFile(ctx, path, map[string]any{
			"server": map[string]any{"port": 7200},
		})
		require.NoError(t, err)

		assert.Equal(t, 50, cfg.API.RequestsPerMinute)
		assert.Equal(t, 7200, cfg.Server.Port)
	})

	t.Run("MissingExplicitFile", func(t *testing.T) {
		root := isolate(t)

		_, err := LoadFile(ctx, filepath.Join(root, "absent.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config file")
	})

	t.Run("InvalidSettingsRejected", func(t *testing.T) {
		isolate(t)
		t.Setenv("STDLENS_CACHE_DRIVER", "memcached")

		_, err := Load(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cache.driver")
	})

	t.Run("CanceledContext", func(t *testing.T) {
		isolate(t)
		canceled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := Load(canceled)
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			API: APIConfig{
				BaseURL:           "https://api.fda.gov",
				RequestsPerMinute: 240,
			},
			Retry:   RetryConfig{MaxAttempts: 5, MaxDelay: 30 * time.Second},
			Cache:   CacheConfig{Driver: "memory"},
			Server:  ServerConfig{Port: 8080},
			Workers: 4,
		}
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name    string
		mutate  func(*Config)
		message string
	}{
		{"relative base url", func(c *Config) { c.API.BaseURL = "/drug" }, "api.base_url"},
		{"zero rate", func(c *Config) { c.API.RequestsPerMinute = 0 }, "requests_per_minute"},
		{"no attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, "max_attempts"},
		{"negative delay", func(c *Config) { c.Retry.MinDelay = -time.Second }, "retry delays"},
		{"unknown driver", func(c *Config) { c.Cache.Driver = "disk" }, "cache.driver"},
		{"redis without addr", func(c *Config) { c.Cache.Driver = "redis" }, "redis.addr"},
		{"empty prefix", func(c *Config) {
			c.Cache.TTLByEndpoint = []TTLOverride{{Prefix: " ", TTL: time.Hour}}
		}, "ttl_by_endpoint"},
		{"port range", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"no workers", func(c *Config) { c.Workers = 0 }, "workers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestTTLMapNormalizesPrefixes(t *testing.T) {
	cfg := CacheConfig{TTLByEndpoint: []TTLOverride{
		{Prefix: "drug", TTL: time.Hour},
		{Prefix: "/drug/", TTL: 2 * time.Hour},
		{Prefix: "  ", TTL: time.Minute},
		{Prefix: "device/recall.json/", TTL: 0},
	}}

	assert.Equal(t, map[string]time.Duration{
		"/drug":               2 * time.Hour,
		"/device/recall.json": 0,
	}, cfg.TTLMap())
}
