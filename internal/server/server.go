package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/stdlens/stdlens/internal/config"
	apperrors "github.com/stdlens/stdlens/internal/errors"
	"github.com/stdlens/stdlens/internal/observability"
	"github.com/stdlens/stdlens/internal/server/handlers"
	servermw "github.com/stdlens/stdlens/internal/server/middleware"
)

// Server represents the HTTP server
type Server struct {
	router  *chi.Mux
	server  *http.Server
	cfg     config.ServerConfig
	api     handlers.Fetcher
	inbound *servermw.InboundLimiter
}

// New creates the HTTP server. When api is nil the proxy routes are not mounted.
func New(cfg config.ServerConfig, api handlers.Fetcher) *Server {
	r := chi.NewRouter()

	// Standard chi middleware
	r.Use(middleware.RealIP)

	// Our custom middleware in correct order (RequestID → Metrics → Recovery)
	r.Use(servermw.RequestID)      // 1. Request ID (early for correlation)
	r.Use(servermw.RequestMetrics) // 2. Metrics (measure everything)
	r.Use(servermw.Recovery)       // 3. Panic recovery

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		apperrors.RespondWithError(w, req, apperrors.NewNotFoundError("The requested resource was not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		apperrors.RespondWithError(w, req, apperrors.NewMethodNotAllowedError("The requested method is not allowed for this resource"))
	})

	s := &Server{
		router: r,
		cfg:    cfg,
		api:    api,
	}
	if cfg.InboundRPS > 0 {
		s.inbound = servermw.NewInboundLimiter(cfg.InboundRPS, cfg.InboundBurst)
	}

	s.registerRoutes()

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  orDefault(s.cfg.ReadTimeout, 30*time.Second),
		WriteTimeout: orDefault(s.cfg.WriteTimeout, 5*time.Minute),
		IdleTimeout:  orDefault(s.cfg.IdleTimeout, 120*time.Second),
	}

	observability.Current().Info("Starting HTTP server",
		zap.String("host", s.cfg.Host),
		zap.Int("port", s.cfg.Port),
		zap.String("addr", addr),
		zap.Bool("proxy", s.api != nil))

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	observability.Current().Info("Shutting down HTTP server")
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying router for testing and instrumentation
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the server port for testing
func (s *Server) Port() int {
	return s.cfg.Port
}

func orDefault(value, fallback time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return fallback
}
