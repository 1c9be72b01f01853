package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stdlens/stdlens/internal/config"
	errwrap "github.com/stdlens/stdlens/internal/errors"
	"github.com/stdlens/stdlens/internal/metrics"
	"github.com/stdlens/stdlens/internal/observability"
	"github.com/stdlens/stdlens/internal/server"
	"github.com/stdlens/stdlens/internal/server/handlers"
)

var (
	serverPort int
	serverHost string
)

// signalHealthChecker implements HealthChecker for signal system
type signalHealthChecker struct{}

func (s signalHealthChecker) CheckHealth(ctx context.Context) error {
	return nil
}

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the caching proxy server",
	Long: `Start an HTTP server that proxies GET /v1/api/<path> to the upstream API.

Every proxied request shares one cache, token bucket and retry policy, so any
number of local callers stay inside the upstream's per-minute allowance.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Reload logging configuration

The server stops accepting requests, saves the rate budget and flushes logs on shutdown.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := mustConfig(cmd.Context())
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("host") {
			cfg.Server.Host = serverHost
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port = serverPort
		}

		namespace := config.AppName
		observability.InitServerLogger(config.AppName, cfg.Logging, namespace)
		logger := observability.ServerLogger

		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(config.AppName, cfg.Metrics.Port, namespace); err != nil {
				logger.Error("Failed to initialize metrics", zap.Error(err))
				return errwrap.Wrap(cmd.Context(), errwrap.CodeInternal, err, "metrics initialization failed")
			}
		}

		api, err := buildClient(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}

		logger.Info("Initializing server",
			zap.String("service", config.AppName),
			zap.String("namespace", namespace),
			zap.String("version", versionInfo.Version),
			zap.String("upstream", api.Endpoint()),
			zap.String("cache_driver", cfg.Cache.Driver),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.Int("metrics_port", cfg.Metrics.Port))

		if cfg.Health.Enabled {
			hm := handlers.InitHealthManager(versionInfo.Version)
			hm.RegisterChecker("signal_handlers", signalHealthChecker{})
			hm.RegisterChecker("api_client", api)
			hm.RegisterChecker("store", api.db)
			if cfg.Metrics.Enabled {
				hm.RegisterChecker("telemetry", telemetryHealthChecker{})
			}
		}

		srv := server.New(cfg.Server, api)

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout == 0 {
			shutdownTimeout = 10 * time.Second
		}

		// Shutdown handlers run LIFO: HTTP server, then api client, then logger.
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Flushing logger...")
			if err := logger.Sync(); err != nil {
				logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			stats := api.Stats()
			logger.Info("Closing API client",
				zap.Int64("cache_hits", stats.CacheHits),
				zap.Int64("cache_misses", stats.CacheMisses),
				zap.Int64("upstream_attempts", stats.UpstreamAttempts))
			err := api.Close()
			metrics.RecordOperation("client_close", err == nil)
			if err != nil {
				return errwrap.Wrap(ctx, errwrap.CodeInternal, err, "api client close failed")
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.Wrap(ctx, errwrap.CodeInternal, err, "server shutdown failed")
			}

			logger.Info("HTTP server stopped gracefully")
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			logger.Info("Received SIGHUP: reloading configuration")

			reloaded, err := loadConfig(ctx)
			metrics.RecordOperation("config_reload", err == nil)
			if err != nil {
				logger.Error("Failed to reload configuration", zap.Error(err))
				return errwrap.Wrap(ctx, errwrap.CodeConfigInvalid, err, "config reload failed")
			}

			observability.InitServerLogger(config.AppName, reloaded.Logging, namespace)
			observability.ServerLogger.Info("Logging configuration reloaded",
				zap.String("level", reloaded.Logging.Level),
				zap.String("profile", reloaded.Logging.Profile))

			// TODO: rebuild the api client when api, retry or cache settings change
			if reloaded.API != cfg.API || reloaded.Cache.Driver != cfg.Cache.Driver {
				observability.ServerLogger.Warn("API or cache settings changed; restart to apply them")
			}
			return nil
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		errChan := make(chan error, 1)
		go func() {
			logger.Info("Starting HTTP server...",
				zap.String("host", cfg.Server.Host),
				zap.Int("port", cfg.Server.Port))
			metrics.SetServerStartTime(time.Now().Unix())
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- err
			}
		}()

		go func() {
			if err := signals.Listen(cmd.Context()); err != nil {
				logger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		if err := <-errChan; err != nil {
			_ = api.Close()
			return errwrap.Wrap(cmd.Context(), errwrap.CodeInternal, err, "server error")
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host (default from server.host)")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port (default from server.port)")
}
