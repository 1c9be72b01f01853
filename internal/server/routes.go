package server

import (
	"os"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/stdlens/stdlens/internal/config"
	"github.com/stdlens/stdlens/internal/observability"
	"github.com/stdlens/stdlens/internal/server/handlers"
)

// AdminTokenEnv enables the admin signal endpoint when set.
const AdminTokenEnv = config.EnvPrefix + "ADMIN_TOKEN"

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	s.router.Get("/health", handlers.HealthHandler)
	s.router.Get("/health/live", handlers.LivenessHandler)
	s.router.Get("/health/ready", handlers.ReadinessHandler)
	s.router.Get("/health/startup", handlers.StartupHandler)

	s.router.Get("/version", handlers.VersionHandler)

	// Metrics endpoint relays the exporter
	s.router.Get("/metrics", MetricsHandler)

	if s.api != nil {
		api := handlers.NewAPIHandler(s.api)
		s.router.Route("/v1", func(r chi.Router) {
			if s.inbound != nil {
				r.Use(s.inbound.Middleware)
			}
			r.Get("/api/*", api.Proxy)
			r.Get("/stats", api.Stats)
		})
	}

	s.registerAdminEndpoint()
}

// registerAdminEndpoint optionally registers the admin signal endpoint
func (s *Server) registerAdminEndpoint() {
	adminToken := os.Getenv(AdminTokenEnv)
	logger := observability.Current()

	if adminToken == "" {
		logger.Debug("Admin signal endpoint disabled (no " + AdminTokenEnv + " set)")
		return
	}

	// Bearer token auth and rate limiting
	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: adminToken,
		RateLimit: 10,  // 10 requests per minute
		RateBurst: 5,   // burst size
		Manager:   nil, // use default global manager
	})

	s.router.Post("/admin/signal", handler.ServeHTTP)

	logger.Info("Admin signal endpoint enabled",
		zap.String("path", "/admin/signal"),
		zap.String("auth", "bearer token"),
		zap.String("rate_limit", "10/min, burst 5"))
	logger.Warn("Admin endpoint enabled - ensure this server is not exposed to public internet")
}
