package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/errors"
	"golang.org/x/time/rate"
)

const defaultVisitorIdle = 10 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// InboundLimiter throttles proxy callers per remote address so a single
// client cannot drain the shared upstream budget.
type InboundLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	idle     time.Duration
	visitors map[string]*visitor
	now      func() time.Time
}

// NewInboundLimiter allows rps requests per second per address with the given burst.
func NewInboundLimiter(rps float64, burst int) *InboundLimiter {
	if burst < 1 {
		burst = 1
	}
	return &InboundLimiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		idle:     defaultVisitorIdle,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

// Allow reports whether key may make another request now.
func (l *InboundLimiter) Allow(key string) bool {
	now := l.now()

	l.mu.Lock()
	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	l.sweep(now)
	l.mu.Unlock()

	return v.limiter.AllowN(now, 1)
}

// sweep drops visitors idle longer than l.idle. Caller holds l.mu.
func (l *InboundLimiter) sweep(now time.Time) {
	for key, v := range l.visitors {
		if now.Sub(v.lastSeen) > l.idle {
			delete(l.visitors, key)
		}
	}
}

// Middleware rejects callers over their allowance with 429.
func (l *InboundLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.Allow(clientKey(r)) {
			next.ServeHTTP(w, r)
			return
		}

		envelope := errors.NewErrorEnvelope("RATE_LIMITED", "too many requests").
			WithCorrelationID(GetRequestID(r.Context()))
		retryAfter := 1
		if l.limit > 0 {
			retryAfter = int(1/float64(l.limit)) + 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeErrorResponse(w, envelope, http.StatusTooManyRequests)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
