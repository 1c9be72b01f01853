package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stdlens/stdlens/internal/config"
	"github.com/stdlens/stdlens/internal/observability"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long: `Verify the configuration loads and the store and cache backend are reachable.

No request is sent to the upstream API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.Current()
		logger.Info("Running health check...")

		cfg, err := mustConfig(cmd.Context())
		if err != nil {
			logger.Error("❌ FAIL: Configuration invalid", zap.Error(err))
			return err
		}
		logger.Info("✅ Configuration loaded", zap.String("base_url", cfg.API.BaseURL))

		db, err := openStore(cmd.Context(), cfg)
		if err != nil {
			logger.Error("❌ FAIL: Store unavailable", zap.Error(err))
			return err
		}
		err = db.CheckHealth(cmd.Context())
		_ = db.Close()
		if err != nil {
			logger.Error("❌ FAIL: Store ping failed", zap.Error(err))
			return err
		}
		logger.Info("✅ Store reachable", zap.String("driver", db.Driver()))

		if err := checkClient(cmd.Context(), cfg); err != nil {
			logger.Error("❌ FAIL: API client unavailable", zap.Error(err))
			return err
		}
		logger.Info("✅ API client ready", zap.String("cache_driver", cfg.Cache.Driver))

		logger.Info("✅ All health checks passed")
		return nil
	},
}

func checkClient(ctx context.Context, cfg *config.Config) error {
	api, err := buildClient(ctx, cfg, nil)
	if err != nil {
		return fmt.Errorf("%s cache: %w", cfg.Cache.Driver, err)
	}
	defer func() { _ = api.Close() }()
	return api.CheckHealth(ctx)
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
