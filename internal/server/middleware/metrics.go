package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/stdlens/stdlens/internal/metrics"
	"github.com/stdlens/stdlens/internal/observability"
)

// CacheResultHeader is set by the proxy handler to HIT or MISS.
const CacheResultHeader = "X-Cache"

// statusRecorder captures what the wrapped handler wrote.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int64
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	n, err := s.ResponseWriter.Write(b)
	s.written += int64(n)
	return n, err
}

// RouteLabel returns the chi route pattern for r, or a fixed bucket when the
// request never reached a chi router. Proxied upstream paths all collapse into
// /v1/api/* so metric labels stay bounded.
func RouteLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}

	path := r.URL.Path
	switch {
	case path == "/health" || strings.HasPrefix(path, "/health/"):
		return "/health/*"
	case strings.HasPrefix(path, "/v1/api/"):
		return "/v1/api/*"
	case path == "/", path == "/version", path == "/metrics", path == "/v1/stats":
		return path
	default:
		return "/unknown"
	}
}

// RequestMetrics records one HTTP exchange per request and logs it with the request ID.
func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if observability.TelemetrySystem == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		ex := metrics.HTTPExchange{
			Method:        r.Method,
			Route:         RouteLabel(r),
			Status:        rec.status,
			Duration:      time.Since(start),
			RequestBytes:  contentLength(r),
			ResponseBytes: rec.written,
			CacheResult:   rec.Header().Get(CacheResultHeader),
		}
		metrics.RecordHTTPExchange(ex)

		if observability.ServerLogger != nil {
			observability.ServerLogger.Info("HTTP request completed",
				zap.String("method", ex.Method),
				zap.String("path", r.URL.Path),
				zap.String("endpoint", ex.Route),
				zap.Int("status", ex.Status),
				zap.Duration("duration", ex.Duration),
				zap.String("cache", ex.CacheResult),
				zap.Int64("response_size", ex.ResponseBytes),
				zap.String("requestID", GetRequestID(r.Context())),
			)
		}
	})
}

func contentLength(r *http.Request) int64 {
	if r.ContentLength > 0 {
		return r.ContentLength
	}
	if n, err := strconv.ParseInt(r.Header.Get("Content-Length"), 10, 64); err == nil {
		return n
	}
	return 0
}
