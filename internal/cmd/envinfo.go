package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stdlens/stdlens/internal/config"
	"github.com/stdlens/stdlens/internal/observability"
)

var envInfoCmd = &cobra.Command{
	Use:   "envinfo",
	Short: "Display environment information",
	Long:  "Display environment, configuration, and version information. Secrets are reported as set or not set.",
	Run: func(cmd *cobra.Command, args []string) {
		logger := observability.Current()
		version := crucible.GetVersion()

		logger.Info("=== stdlens Environment Information ===")
		logger.Info("")

		logger.Info("Application:")
		logger.Info("  Name:       " + config.AppName)
		logger.Info("  Version:    " + versionInfo.Version)
		logger.Info("  Commit:     " + versionInfo.Commit)
		logger.Info("  Built:      " + versionInfo.BuildDate)
		logger.Info("")

		logger.Info("SSOT:")
		logger.Info("  Gofulmen:   "+version.Gofulmen, zap.String("gofulmen_version", version.Gofulmen))
		logger.Info("  Crucible:   "+version.Crucible, zap.String("crucible_version", version.Crucible))
		logger.Info("")

		logger.Info("Runtime:")
		logger.Info("  Go Version: "+runtime.Version(), zap.String("go_version", runtime.Version()))
		logger.Info("  GOOS:       "+runtime.GOOS, zap.String("goos", runtime.GOOS))
		logger.Info("  GOARCH:     "+runtime.GOARCH, zap.String("goarch", runtime.GOARCH))
		logger.Info(fmt.Sprintf("  NumCPU:     %d", runtime.NumCPU()), zap.Int("num_cpu", runtime.NumCPU()))
		logger.Info("")

		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			logger.Warn("Config load failed", zap.Error(err))
			return
		}

		logger.Info("Upstream API:")
		logger.Info("  Base URL:         "+cfg.API.BaseURL, zap.String("base_url", cfg.API.BaseURL))
		logger.Info("  API Key:          "+setOrNot(cfg.API.APIKey), zap.Bool("api_key_set", cfg.API.APIKey != ""))
		logger.Info("  API Key Param:    " + cfg.API.APIKeyParam)
		logger.Info(fmt.Sprintf("  Requests/Minute:  %d", cfg.API.RequestsPerMinute), zap.Int("requests_per_minute", cfg.API.RequestsPerMinute))
		logger.Info("  Request Timeout:  " + cfg.API.RequestTimeout.String())
		logger.Info("  Deadline:         " + cfg.API.Deadline.String())
		logger.Info("")

		logger.Info("Retry:")
		logger.Info(fmt.Sprintf("  Max Attempts:     %d", cfg.Retry.MaxAttempts), zap.Int("max_attempts", cfg.Retry.MaxAttempts))
		logger.Info(fmt.Sprintf("  Delays:           base=%s min=%s max=%s", cfg.Retry.BaseDelay, cfg.Retry.MinDelay, cfg.Retry.MaxDelay))
		logger.Info(fmt.Sprintf("  Retry All:        %t", cfg.Retry.RetryAll))
		logger.Info("")

		logger.Info("Cache:")
		logger.Info("  Driver:           "+cfg.Cache.Driver, zap.String("cache_driver", cfg.Cache.Driver))
		logger.Info("  Default TTL:      " + cfg.Cache.DefaultTTL.String())
		logger.Info(fmt.Sprintf("  Max Entries:      %d", cfg.Cache.MaxEntries))
		for _, override := range cfg.Cache.TTLByEndpoint {
			logger.Info(fmt.Sprintf("  TTL %-13s %s", override.Prefix+":", override.TTL))
		}
		if cfg.Cache.Driver == "redis" {
			logger.Info("  Redis Addr:       "+cfg.Redis.Addr, zap.String("redis_addr", cfg.Redis.Addr))
			logger.Info("  Redis Prefix:     " + cfg.Redis.Prefix)
		}
		logger.Info("")

		logger.Info("Configuration:")
		logger.Info("  Server Host:    "+cfg.Server.Host, zap.String("host", cfg.Server.Host))
		logger.Info(fmt.Sprintf("  Server Port:    %d", cfg.Server.Port), zap.Int("port", cfg.Server.Port))
		logger.Info("  Log Level:      "+cfg.Logging.Level, zap.String("log_level", cfg.Logging.Level))
		logger.Info("  Log Profile:    "+cfg.Logging.Profile, zap.String("log_profile", cfg.Logging.Profile))
		logger.Info("  DB Driver:      "+cfg.Store.Driver, zap.String("db_driver", cfg.Store.Driver))
		if strings.TrimSpace(cfg.Store.URL) != "" {
			logger.Info("  DB URL:         "+cfg.Store.URL, zap.String("db_url", cfg.Store.URL))
		} else {
			logger.Info("  DB Path:        "+cfg.Store.Path, zap.String("db_path", cfg.Store.Path))
		}
		logger.Info(fmt.Sprintf("  Metrics Port:   %d", cfg.Metrics.Port), zap.Int("metrics_port", cfg.Metrics.Port))
		logger.Info(fmt.Sprintf("  Workers:        %d", cfg.Workers), zap.Int("workers", cfg.Workers))
		logger.Info("  Config File:    "+config.DefaultConfigPath(), zap.String("config_file", config.DefaultConfigPath()))
		logger.Info("")

		logger.Info("=== End Environment Information ===")
	},
}

func setOrNot(value string) string {
	if strings.TrimSpace(value) == "" {
		return "(not set)"
	}
	return "(set)"
}

func init() {
	rootCmd.AddCommand(envInfoCmd)
}
