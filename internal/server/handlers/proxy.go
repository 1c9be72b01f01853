package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/stdlens/stdlens/internal/core"
	"github.com/stdlens/stdlens/internal/core/client"
	apperrors "github.com/stdlens/stdlens/internal/errors"
	"github.com/stdlens/stdlens/internal/metrics"
	"github.com/stdlens/stdlens/internal/observability"
	"github.com/stdlens/stdlens/internal/server/middleware"
)

// Headers set on proxied responses.
const (
	CacheTTLHeader   = "X-Cache-TTL"
	CacheHeader      = middleware.CacheResultHeader
	AttemptsHeader   = "X-Upstream-Attempts"
	FetchedAtHeader  = "X-Fetched-At"
	defaultMediaType = "application/json"
)

// Fetcher is the api client surface the proxy depends on.
type Fetcher interface {
	Do(ctx context.Context, req core.RequestDescriptor) (*core.Response, error)
	Stats() client.Stats
	Budget() core.RateBudget
}

// APIHandler serves cached upstream responses over HTTP.
type APIHandler struct {
	fetcher  Fetcher
	inflight atomic.Int64
}

// StatsResponse reports client counters and the current rate budget.
type StatsResponse struct {
	Stats  client.Stats    `json:"stats"`
	Budget core.RateBudget `json:"budget"`
}

// NewAPIHandler wraps fetcher for the proxy routes.
func NewAPIHandler(fetcher Fetcher) *APIHandler {
	return &APIHandler{fetcher: fetcher}
}

// Proxy performs a GET of the wildcard path with the request's query parameters.
// An X-Cache-TTL header (Go duration) overrides the cache lifetime for this request.
func (h *APIHandler) Proxy(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSpace(chi.URLParam(r, "*"))
	if path == "" {
		respondWithError(w, r, apperrors.NewInvalidInputError("an upstream path is required"))
		return
	}

	req := core.NewRequest(path, r.URL.Query())
	if raw := strings.TrimSpace(r.Header.Get(CacheTTLHeader)); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			respondWithError(w, r, apperrors.Wrap(r.Context(), apperrors.CodeInvalidInput, err, "invalid "+CacheTTLHeader+" header"))
			return
		}
		req = req.WithTTL(ttl)
	}

	ctx := r.Context()
	metrics.SetInflightProxyRequests(h.inflight.Add(1))
	resp, err := h.fetcher.Do(ctx, req)
	metrics.SetInflightProxyRequests(h.inflight.Add(-1))
	if err != nil {
		respondWithError(w, r, apperrors.FromClientError(ctx, err))
		return
	}

	contentType := resp.Headers.Get("Content-Type")
	if contentType == "" {
		contentType = defaultMediaType
	}
	w.Header().Set("Content-Type", contentType)
	if resp.FromCache {
		w.Header().Set(CacheHeader, "HIT")
	} else {
		w.Header().Set(CacheHeader, "MISS")
	}
	w.Header().Set(AttemptsHeader, strconv.Itoa(resp.Attempts))
	if !resp.FetchedAt.IsZero() {
		w.Header().Set(FetchedAtHeader, resp.FetchedAt.UTC().Format(time.RFC3339))
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(resp.Body); err != nil {
		observability.Current().Warn("Failed to write proxied response",
			zap.String("path", req.Path),
			zap.Error(err))
	}
}

// Stats reports client counters and the rate budget.
func (h *APIHandler) Stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, StatsResponse{Stats: h.fetcher.Stats(), Budget: h.fetcher.Budget()})
}

// respondWithError writes err as a JSON error envelope with the matching status.
func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	apperrors.RespondWithError(w, r, err)
}
