package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInboundLimiterPerAddress(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewInboundLimiter(1, 2)
	limiter.now = func() time.Time { return now }

	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.False(t, limiter.Allow("10.0.0.1"), "burst exhausted")
	assert.True(t, limiter.Allow("10.0.0.2"), "other addresses keep their own allowance")

	now = now.Add(time.Second)
	assert.True(t, limiter.Allow("10.0.0.1"), "one token refilled")
}

func TestInboundLimiterForgetsIdleVisitors(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewInboundLimiter(1, 1)
	limiter.now = func() time.Time { return now }

	limiter.Allow("10.0.0.1")
	now = now.Add(defaultVisitorIdle + time.Second)
	limiter.Allow("10.0.0.2")

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	assert.NotContains(t, limiter.visitors, "10.0.0.1")
	assert.Contains(t, limiter.visitors, "10.0.0.2")
}

func TestInboundLimiterMiddleware(t *testing.T) {
	limiter := NewInboundLimiter(0.5, 1)
	handler := RequestID(limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	newRequest := func() *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/v1/api/drug/label.json", nil)
		req.RemoteAddr = "192.0.2.7:51234"
		return req
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newRequest())
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, newRequest())
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "3", rec.Header().Get("Retry-After"))

	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "RATE_LIMITED", body.Error.Code)
	assert.NotEmpty(t, body.Error.RequestID)
}
