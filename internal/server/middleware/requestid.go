package middleware

import (
	"context"
	"net/http"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/stdlens/stdlens/internal/core/client"
)

// RequestIDHeader carries the correlation ID in both directions.
const RequestIDHeader = client.RequestIDHeader

type requestIDKey struct{}

// maxRequestIDLen bounds caller-supplied IDs before they reach logs and the upstream.
const maxRequestIDLen = 128

// RequestID assigns every request a correlation ID. A chi-generated ID wins,
// then a caller's X-Request-ID, then a fresh UUID. The ID is echoed on the
// response and forwarded to the upstream API by the api client.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chimw.GetReqID(r.Context())
		if id == "" {
			id = strings.TrimSpace(r.Header.Get(RequestIDHeader))
		}
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}

		w.Header().Set(RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		ctx = client.ContextWithRequestID(ctx, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID returns the correlation ID for ctx, falling back to chi's ID.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return chimw.GetReqID(ctx)
}
