package core

import (
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RequestDescriptor identifies one logical GET against the external API.
// It is immutable once built by NewRequest.
type RequestDescriptor struct {
	Path     string
	Params   url.Values
	CacheTTL *time.Duration
}

// NewRequest builds a descriptor, copying params so later caller mutation has no effect.
func NewRequest(path string, params url.Values) RequestDescriptor {
	return RequestDescriptor{Path: NormalizePath(path), Params: cloneValues(params)}
}

// WithTTL returns a copy of the descriptor carrying a cache TTL override.
func (r RequestDescriptor) WithTTL(ttl time.Duration) RequestDescriptor {
	out := RequestDescriptor{Path: r.Path, Params: cloneValues(r.Params)}
	out.CacheTTL = &ttl
	return out
}

// CacheEntry is a previously observed upstream response.
type CacheEntry struct {
	Key        string        `json:"key"`
	StatusCode int           `json:"status_code"`
	Headers    http.Header   `json:"headers,omitempty"`
	Body       []byte        `json:"body"`
	StoredAt   time.Time     `json:"stored_at"`
	TTL        time.Duration `json:"ttl"`
}

// ExpiresAt reports the instant the entry stops being served.
func (e *CacheEntry) ExpiresAt() time.Time {
	return e.StoredAt.Add(e.TTL)
}

// FreshAt reports whether the entry may be served at now.
func (e *CacheEntry) FreshAt(now time.Time) bool {
	if e == nil || e.TTL <= 0 {
		return false
	}
	return now.Before(e.ExpiresAt())
}

// Clone returns a deep copy so cache readers never observe partial writes.
func (e *CacheEntry) Clone() *CacheEntry {
	if e == nil {
		return nil
	}
	out := *e
	out.Body = append([]byte(nil), e.Body...)
	out.Headers = e.Headers.Clone()
	return &out
}

// RateBudget is a point-in-time view of a token bucket.
type RateBudget struct {
	Endpoint        string    `json:"endpoint,omitempty"`
	Capacity        float64   `json:"capacity"`
	Available       float64   `json:"available"`
	RefillPerSecond float64   `json:"refill_per_second"`
	LastRefill      time.Time `json:"last_refill"`
}

// RetryAttempt describes a failed attempt inside one logical request.
type RetryAttempt struct {
	Number    int
	Err       error
	NextDelay time.Duration
}

// Response is the outcome of one logical request.
type Response struct {
	Key        string      `json:"key"`
	StatusCode int         `json:"status_code"`
	Headers    http.Header `json:"headers,omitempty"`
	Body       []byte      `json:"-"`
	FromCache  bool        `json:"from_cache"`
	Attempts   int         `json:"attempts"`
	RequestID  string      `json:"request_id,omitempty"`
	FetchedAt  time.Time   `json:"fetched_at"`
}

// NormalizePath gives a request path its canonical form: one leading slash and no trailing slash.
// Cache keys, upstream URLs and TTL prefixes all go through it.
func NormalizePath(path string) string {
	return "/" + strings.Trim(strings.TrimSpace(path), "/")
}

func cloneValues(values url.Values) url.Values {
	out := make(url.Values, len(values))
	for key, vals := range values {
		out[key] = append([]string(nil), vals...)
	}
	return out
}
