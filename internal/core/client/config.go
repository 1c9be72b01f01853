package client

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stdlens/stdlens/internal/core"
	"github.com/stdlens/stdlens/internal/core/cache"
	"github.com/stdlens/stdlens/internal/core/engine"
)

const (
	DefaultBaseURL           = "https://api.fda.gov"
	DefaultAPIKeyParam       = "api_key"
	DefaultRequestsPerMinute = 240
	DefaultTTL               = 7 * 24 * time.Hour
	DefaultMaxEntries        = 10000
	DefaultUserAgent         = "stdlens"

	// APIKeyEnv is consulted when Config.APIKey is empty.
	APIKeyEnv = "STDLENS_API_KEY"
)

// Config describes the upstream API and the client's throttling, retry and caching behavior.
type Config struct {
	BaseURL     string
	APIKey      string
	APIKeyParam string

	// RequestsPerMinute sets both the bucket capacity and its refill (RequestsPerMinute/60 per second).
	RequestsPerMinute int

	// DefaultTTL applies when neither the request nor TTLByEndpoint names one.
	// A negative value disables caching of fetched responses.
	DefaultTTL time.Duration

	// TTLByEndpoint overrides DefaultTTL for requests under a path prefix; the longest match wins.
	// Prefixes are normalized like request paths. When two spell the same prefix the shorter TTL applies.
	TTLByEndpoint map[string]time.Duration

	// RequestTimeout bounds a single HTTP attempt.
	RequestTimeout time.Duration

	// Deadline bounds a whole logical request, throttling and retries included.
	Deadline time.Duration

	Retry     *engine.RetryPolicy
	UserAgent string
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.APIKey == "" {
		c.APIKey = os.Getenv(APIKeyEnv)
	}
	if strings.TrimSpace(c.APIKeyParam) == "" {
		c.APIKeyParam = DefaultAPIKeyParam
	}
	if c.RequestsPerMinute == 0 {
		c.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if c.DefaultTTL == 0 {
		c.DefaultTTL = DefaultTTL
	}
	if c.Retry == nil {
		c.Retry = engine.DefaultRetryPolicy()
	}
	c.TTLByEndpoint = normalizeTTLs(c.TTLByEndpoint)
	if strings.TrimSpace(c.UserAgent) == "" {
		c.UserAgent = DefaultUserAgent
	}
	return c
}

func normalizeTTLs(in map[string]time.Duration) map[string]time.Duration {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]time.Duration, len(in))
	for prefix, ttl := range in {
		prefix = core.NormalizePath(prefix)
		if prev, ok := out[prefix]; ok && prev <= ttl {
			continue
		}
		out[prefix] = ttl
	}
	return out
}

// Validate reports configuration that cannot produce a working client.
func (c Config) Validate() error {
	base, err := url.Parse(c.BaseURL)
	if err != nil || base.Host == "" || (base.Scheme != "http" && base.Scheme != "https") {
		return fmt.Errorf("%w: base url must be an absolute http(s) url, got %q", engine.ErrInvalidArgument, c.BaseURL)
	}
	if c.RequestsPerMinute <= 0 {
		return fmt.Errorf("%w: requests per minute must be positive, got %d", engine.ErrInvalidArgument, c.RequestsPerMinute)
	}
	if c.RequestTimeout < 0 || c.Deadline < 0 {
		return fmt.Errorf("%w: timeouts must not be negative", engine.ErrInvalidArgument)
	}
	if c.Retry != nil && c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("%w: retry max attempts must not be negative", engine.ErrInvalidArgument)
	}
	return nil
}

// Logger is the subset of structured logging the client needs.
// Both *zap.Logger and gofulmen's *logging.Logger satisfy it.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for upstream attempts.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.http = httpClient
		}
	}
}

// WithCache replaces the default in-memory cache. A nil cache disables caching.
func WithCache(store cache.Cache) Option {
	return func(c *Client) {
		c.cache = store
		c.cacheSet = true
	}
}

// WithLogger sets the diagnostics logger.
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides the time source for the limiter and the default cache.
func WithClock(clock func() time.Time) Option {
	return func(c *Client) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithBudgetStore restores the rate budget on creation and saves it on Close.
func WithBudgetStore(store BudgetStore) Option {
	return func(c *Client) {
		c.budgets = store
	}
}

// WithRetryPolicy overrides Config.Retry.
func WithRetryPolicy(policy *engine.RetryPolicy) Option {
	return func(c *Client) {
		if policy != nil {
			c.retry = policy
		}
	}
}

// WithLimiter shares an existing token bucket instead of creating one from RequestsPerMinute.
func WithLimiter(limiter *engine.TokenBucket) Option {
	return func(c *Client) {
		if limiter != nil {
			c.limiter = limiter
		}
	}
}
