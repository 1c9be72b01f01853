// Package client performs throttled, retried and cached GET requests against a rate-limited HTTP API.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stdlens/stdlens/internal/core"
	"github.com/stdlens/stdlens/internal/core/cache"
	"github.com/stdlens/stdlens/internal/core/engine"
	"github.com/stdlens/stdlens/internal/metrics"
)

// ErrClientClosed is returned by every call made after Close, including a second Close.
var ErrClientClosed = errors.New("client is closed")

const (
	budgetTimeout  = 5 * time.Second
	maxErrorBody   = 512
	acceptJSONType = "application/json"
)

// BudgetStore persists rate budget snapshots between processes.
type BudgetStore interface {
	GetRateBudget(ctx context.Context, endpoint string) (*core.RateBudget, error)
	SaveRateBudget(ctx context.Context, budget *core.RateBudget) error
}

// Stats counts client activity since creation.
type Stats struct {
	CacheHits        int64 `json:"cache_hits"`
	CacheMisses      int64 `json:"cache_misses"`
	UpstreamAttempts int64 `json:"upstream_attempts"`
	Retries          int64 `json:"retries"`
	Coalesced        int64 `json:"coalesced"`
	Failures         int64 `json:"failures"`
}

// Client orchestrates cache lookup, throttling and retried HTTP attempts for one upstream API.
// It is safe for concurrent use.
type Client struct {
	cfg      Config
	baseURL  *url.URL
	endpoint string

	http     *http.Client
	cache    cache.Cache
	cacheSet bool
	limiter  *engine.TokenBucket
	retry    *engine.RetryPolicy
	budgets  BudgetStore
	logger   Logger
	clock    func() time.Time
	group    engine.Group

	closed atomic.Bool

	hits      atomic.Int64
	misses    atomic.Int64
	attempts  atomic.Int64
	retries   atomic.Int64
	coalesced atomic.Int64
	failures  atomic.Int64
}

// New creates a client. Without WithCache the client keeps an in-memory LRU cache.
func New(cfg Config, opts ...Option) (*Client, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base url: %v", engine.ErrInvalidArgument, err)
	}

	c := &Client{
		cfg:      cfg,
		baseURL:  base,
		endpoint: endpointOf(base),
		retry:    cfg.Retry,
		logger:   zap.NewNop(),
		clock:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.limiter == nil {
		limiter, err := engine.NewRequestsPerMinute(cfg.RequestsPerMinute, engine.WithBucketClock(c.clock))
		if err != nil {
			return nil, err
		}
		c.limiter = limiter
	}
	if !c.cacheSet {
		c.cache = cache.NewMemory(DefaultMaxEntries).WithClock(c.clock)
	}
	if c.budgets != nil {
		c.restoreBudget()
	}

	return c, nil
}

// Endpoint identifies the upstream API (scheme and host) for budget bookkeeping.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// BudgetEndpoint returns the rate budget key a client built on baseURL uses.
func BudgetEndpoint(baseURL string) (string, error) {
	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || base.Host == "" {
		return "", fmt.Errorf("%w: invalid base url %q", engine.ErrInvalidArgument, baseURL)
	}
	return endpointOf(base), nil
}

func endpointOf(base *url.URL) string {
	return base.Scheme + "://" + base.Host
}

// Get performs one logical GET of path with params.
func (c *Client) Get(ctx context.Context, path string, params url.Values) (*core.Response, error) {
	return c.Do(ctx, core.NewRequest(path, params))
}

// Do performs one logical request: cache lookup, then a throttled and retried fetch on a miss.
// Identical concurrent misses share a single fetch. A caller whose context ends while the
// shared fetch is still throttled or retrying returns engine.ErrTimeout (deadline) or the
// context error (cancellation) without disturbing the other callers.
func (c *Client) Do(ctx context.Context, req core.RequestDescriptor) (*core.Response, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if c.cfg.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Deadline)
		defer cancel()
	}

	requestID := RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	req.Path = core.NormalizePath(req.Path)
	key := cache.Key(http.MethodGet, req.Path, req.Params, c.cfg.APIKeyParam)
	start := c.now()

	if resp := c.cached(ctx, key); resp != nil {
		c.hits.Add(1)
		metrics.RecordCacheLookup(true)
		metrics.RecordLogicalRequest("cache_hit", c.now().Sub(start))
		c.logger.Debug("Cache hit", zap.String("request_id", requestID), zap.String("key", key))
		resp.RequestID = requestID
		return resp, nil
	}
	c.misses.Add(1)
	metrics.RecordCacheLookup(false)

	// The fetch outlives any one caller: it stops at the configured deadline or when
	// every caller waiting on it has gone, and each caller returns on its own context.
	val, err, shared := c.group.Do(ctx, key, func(fetchCtx context.Context) (any, error) {
		if c.cfg.Deadline > 0 {
			var cancel context.CancelFunc
			fetchCtx, cancel = context.WithTimeout(fetchCtx, c.cfg.Deadline)
			defer cancel()
		}
		return c.fetch(fetchCtx, key, req, requestID)
	})
	if shared {
		c.coalesced.Add(1)
		metrics.RecordCoalesced()
	}
	if err != nil {
		c.failures.Add(1)
		metrics.RecordLogicalRequest("error", c.now().Sub(start))
		c.logger.Warn("Request failed",
			zap.String("request_id", requestID),
			zap.String("key", key),
			zap.Error(err))
		return nil, err
	}

	resp := cloneResponse(val.(*core.Response))
	resp.RequestID = requestID
	metrics.RecordLogicalRequest("fetched", c.now().Sub(start))
	return resp, nil
}

// Close releases idle connections, saves the rate budget and closes the cache.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrClientClosed
	}

	c.http.CloseIdleConnections()

	var errs []error
	if c.budgets != nil {
		snapshot := c.limiter.Snapshot()
		snapshot.Endpoint = c.endpoint

		ctx, cancel := context.WithTimeout(context.Background(), budgetTimeout)
		if err := c.budgets.SaveRateBudget(ctx, &snapshot); err != nil {
			errs = append(errs, fmt.Errorf("save rate budget: %w", err))
		}
		cancel()
	}
	if c.cache != nil {
		if err := c.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close cache: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Stats returns a snapshot of the client counters.
func (c *Client) Stats() Stats {
	return Stats{
		CacheHits:        c.hits.Load(),
		CacheMisses:      c.misses.Load(),
		UpstreamAttempts: c.attempts.Load(),
		Retries:          c.retries.Load(),
		Coalesced:        c.coalesced.Load(),
		Failures:         c.failures.Load(),
	}
}

// CheckHealth reports ErrClientClosed once the client has been closed.
func (c *Client) CheckHealth(context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	return nil
}

// Budget reports the current rate budget of the client's limiter.
func (c *Client) Budget() core.RateBudget {
	budget := c.limiter.Snapshot()
	budget.Endpoint = c.endpoint
	return budget
}

func (c *Client) fetch(ctx context.Context, key string, req core.RequestDescriptor, requestID string) (*core.Response, error) {
	// another caller may have stored the entry after our lookup
	if resp := c.cached(ctx, key); resp != nil {
		return resp, nil
	}

	waitStart := c.now()
	if err := c.limiter.Consume(ctx, 1); err != nil {
		return nil, err
	}
	if wait := c.now().Sub(waitStart); wait > 0 {
		metrics.RecordThrottleWait(wait)
	}

	target := c.buildURL(req)
	redacted := RedactURL(target, c.cfg.APIKeyParam)

	policy := *c.retry
	observer := policy.OnRetry
	policy.OnRetry = func(attempt core.RetryAttempt) {
		c.retries.Add(1)
		metrics.RecordRetry(retryReason(attempt.Err))
		c.logger.Warn("Retrying request",
			zap.String("request_id", requestID),
			zap.String("url", redacted),
			zap.Int("attempt", attempt.Number),
			zap.Duration("delay", attempt.NextDelay),
			zap.Error(attempt.Err))
		if observer != nil {
			observer(attempt)
		}
	}

	var result *core.Response
	attempts, err := policy.Execute(ctx, func(ctx context.Context) error {
		resp, err := c.attempt(ctx, target, redacted)
		if err != nil {
			return err
		}
		result = resp
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Key = key
	result.Attempts = attempts
	c.logger.Debug("Fetched upstream response",
		zap.String("request_id", requestID),
		zap.String("url", redacted),
		zap.Int("status", result.StatusCode),
		zap.Int("attempts", attempts))

	c.store(context.WithoutCancel(ctx), req, result)
	return result, nil
}

func (c *Client) attempt(ctx context.Context, target, redacted string) (*core.Response, error) {
	c.attempts.Add(1)

	if c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot build request for %s", engine.ErrInvalidArgument, redacted)
	}
	httpReq.Header.Set("Accept", acceptJSONType)
	httpReq.Header.Set("User-Agent", c.cfg.UserAgent)
	if id := RequestIDFromContext(ctx); id != "" {
		httpReq.Header.Set(RequestIDHeader, id)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		metrics.RecordUpstreamAttempt("transport_error")
		return nil, redactError(err, redacted)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RecordUpstreamAttempt("read_error")
		return nil, fmt.Errorf("read response from %s: %w", redacted, redactError(err, redacted))
	}
	metrics.RecordUpstreamAttempt(strconv.Itoa(resp.StatusCode))

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		wait := retryAfter(resp, c.now())
		if resp.StatusCode == http.StatusTooManyRequests && wait > 0 {
			c.limiter.Penalize(wait)
		}
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, &engine.StatusError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			URL:        redacted,
			Body:       body,
			RetryAfter: wait,
		}
	}

	return &core.Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		Body:       body,
		FetchedAt:  c.now(),
	}, nil
}

func (c *Client) cached(ctx context.Context, key string) *core.Response {
	if c.cache == nil {
		return nil
	}

	entry, err := c.cache.Lookup(ctx, key)
	if err != nil {
		c.logger.Warn("Cache lookup failed", zap.String("key", key), zap.Error(err))
		if errors.Is(err, cache.ErrCorrupt) {
			_ = c.cache.Delete(ctx, key)
		}
		return nil
	}
	if entry == nil {
		return nil
	}

	return &core.Response{
		Key:        key,
		StatusCode: entry.StatusCode,
		Headers:    entry.Headers,
		Body:       entry.Body,
		FromCache:  true,
		FetchedAt:  entry.StoredAt,
	}
}

func (c *Client) store(ctx context.Context, req core.RequestDescriptor, resp *core.Response) {
	if c.cache == nil {
		return
	}
	ttl := c.ttlFor(req)
	if ttl <= 0 {
		return
	}

	entry := &core.CacheEntry{
		Key:        resp.Key,
		StatusCode: resp.StatusCode,
		Headers:    resp.Headers,
		Body:       resp.Body,
		StoredAt:   resp.FetchedAt,
		TTL:        ttl,
	}
	if err := c.cache.Store(ctx, entry); err != nil {
		c.logger.Warn("Cache store failed", zap.String("key", resp.Key), zap.Error(err))
	}
}

func (c *Client) ttlFor(req core.RequestDescriptor) time.Duration {
	if req.CacheTTL != nil {
		return *req.CacheTTL
	}

	path := core.NormalizePath(req.Path)
	ttl := c.cfg.DefaultTTL
	longest := -1
	for prefix, value := range c.cfg.TTLByEndpoint {
		if prefix != "/" && path != prefix && !strings.HasPrefix(path, prefix+"/") {
			continue
		}
		if len(prefix) > longest {
			longest = len(prefix)
			ttl = value
		}
	}
	return ttl
}

func (c *Client) buildURL(req core.RequestDescriptor) string {
	target := *c.baseURL
	target.Path = strings.TrimRight(c.baseURL.Path, "/") + core.NormalizePath(req.Path)
	target.RawPath = ""

	query := make(url.Values, len(req.Params)+1)
	for name, values := range req.Params {
		query[name] = append([]string(nil), values...)
	}
	if c.cfg.APIKey != "" {
		query.Set(c.cfg.APIKeyParam, c.cfg.APIKey)
	}
	target.RawQuery = query.Encode()
	return target.String()
}

func (c *Client) restoreBudget() {
	ctx, cancel := context.WithTimeout(context.Background(), budgetTimeout)
	defer cancel()

	budget, err := c.budgets.GetRateBudget(ctx, c.endpoint)
	if err != nil {
		c.logger.Warn("Failed to restore rate budget", zap.String("endpoint", c.endpoint), zap.Error(err))
		return
	}
	if budget != nil {
		c.limiter.Restore(*budget)
	}
}

func (c *Client) now() time.Time {
	if c.clock != nil {
		return c.clock()
	}
	return time.Now().UTC()
}

func retryAfter(resp *http.Response, now time.Time) time.Duration {
	value := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if wait := at.Sub(now); wait > 0 {
			return wait
		}
	}
	return 0
}

func retryReason(err error) string {
	var statusErr *engine.StatusError
	if errors.As(err, &statusErr) {
		return strconv.Itoa(statusErr.StatusCode)
	}
	return "transport_error"
}

func cloneResponse(resp *core.Response) *core.Response {
	out := *resp
	out.Body = append([]byte(nil), resp.Body...)
	out.Headers = resp.Headers.Clone()
	return &out
}
