package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stdlens/stdlens/internal/core"
	"github.com/stdlens/stdlens/internal/core/cache"
	"github.com/stdlens/stdlens/internal/core/engine"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func fastRetry() *engine.RetryPolicy {
	return &engine.RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}
}

func newTestClient(t *testing.T, baseURL string, cfg Config, opts ...Option) *Client {
	t.Helper()
	cfg.BaseURL = baseURL
	if cfg.APIKey == "" {
		cfg.APIKey = "secret-key"
	}
	if cfg.Retry == nil {
		cfg.Retry = fastRetry()
	}
	opts = append([]Option{WithLogger(zap.NewNop())}, opts...)

	c, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// statusSequence answers with the given statuses in order, then 200 for every later call.
func statusSequence(codes ...int) (http.HandlerFunc, *atomic.Int32) {
	var calls atomic.Int32
	return func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1))
		if n <= len(codes) && codes[n-1] != http.StatusOK {
			http.Error(w, `{"error":{"code":"SERVER_ERROR"}}`, codes[n-1])
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"meta":{"call":%d},"results":[{"path":%q}]}`, n, r.URL.Path)
	}, &calls
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{BaseURL: "not a url"})
	require.ErrorIs(t, err, engine.ErrInvalidArgument)

	_, err = New(Config{BaseURL: "ftp://example.test"})
	require.ErrorIs(t, err, engine.ErrInvalidArgument)

	_, err = New(Config{RequestsPerMinute: -1})
	require.ErrorIs(t, err, engine.ErrInvalidArgument)

	c, err := New(Config{})
	require.NoError(t, err)
	require.Equal(t, "https://api.fda.gov", c.Endpoint())
	require.NoError(t, c.Close())
}

func TestClientAPIKeyFallsBackToEnvironment(t *testing.T) {
	t.Setenv(APIKeyEnv, "from-env")

	c, err := New(Config{})
	require.NoError(t, err)
	defer func() { _ = c.Close() }()
	require.Equal(t, "from-env", c.cfg.APIKey)
}

func TestClientCachesSuccessfulResponses(t *testing.T) {
	handler, calls := statusSequence()
	srv := httptest.NewServer(handler)
	defer srv.Close()

	c := newTestClient(t, srv.URL, Config{})
	ctx := context.Background()

	first, err := c.Get(ctx, "/drug/label.json", url.Values{"limit": {"1"}})
	require.NoError(t, err)
	require.False(t, first.FromCache)
	require.Equal(t, 1, first.Attempts)
	require.NotEmpty(t, first.RequestID)

	second, err := c.Get(ctx, "drug/label.json", url.Values{"limit": {"1"}})
	require.NoError(t, err)
	require.True(t, second.FromCache)
	require.Equal(t, first.Body, second.Body)

	require.Equal(t, int32(1), calls.Load())
	stats := c.Stats()
	require.Equal(t, int64(1), stats.CacheHits)
	require.Equal(t, int64(1), stats.CacheMisses)
	require.Equal(t, int64(1), stats.UpstreamAttempts)
}

func TestClientCacheKeyIgnoresParamOrderAndAPIKey(t *testing.T) {
	handler, calls := statusSequence()
	srv := httptest.NewServer(handler)
	defer srv.Close()

	c := newTestClient(t, srv.URL, Config{})
	ctx := context.Background()

	_, err := c.Do(ctx, core.RequestDescriptor{
		Path:   "/drug/event.json",
		Params: url.Values{"search": {"patient.drug.medicinalproduct:aspirin"}, "limit": {"5"}},
	})
	require.NoError(t, err)

	resp, err := c.Do(ctx, core.RequestDescriptor{
		Path:   "/drug/event.json",
		Params: url.Values{"limit": {"5"}, "api_key": {"other"}, "search": {"patient.drug.medicinalproduct:aspirin"}},
	})
	require.NoError(t, err)
	require.True(t, resp.FromCache)
	require.Equal(t, int32(1), calls.Load())
}

func TestClientRetriesTransientFailuresAndCaches(t *testing.T) {
	handler, calls := statusSequence(http.StatusInternalServerError, http.StatusInternalServerError, http.StatusOK)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	mem := cache.NewMemory(0)
	c := newTestClient(t, srv.URL, Config{}, WithCache(mem))

	resp, err := c.Get(context.Background(), "/drug/label.json", url.Values{"limit": {"1"}})
	require.NoError(t, err)
	require.Equal(t, 3, resp.Attempts)
	require.Contains(t, string(resp.Body), `"call":3`)
	require.Equal(t, int32(3), calls.Load())
	require.Equal(t, int64(2), c.Stats().Retries)

	key := cache.Key(http.MethodGet, "/drug/label.json", url.Values{"limit": {"1"}}, DefaultAPIKeyParam)
	entry, err := mem.Lookup(context.Background(), key)
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, resp.Body, entry.Body)
}

func TestClientExhaustedRetriesAreNotCached(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, Config{})
	ctx := context.Background()

	_, err := c.Get(ctx, "/device/event.json", nil)
	var exhausted *engine.RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, 5, exhausted.Attempts)

	var statusErr *engine.StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	require.Equal(t, int32(5), calls.Load())

	_, err = c.Get(ctx, "/device/event.json", nil)
	require.Error(t, err)
	require.Equal(t, int32(10), calls.Load())
	require.Equal(t, int64(2), c.Stats().Failures)
}

func TestClientFailsFastOnClientErrors(t *testing.T) {
	handler, calls := statusSequence(http.StatusNotFound, http.StatusNotFound)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	c := newTestClient(t, srv.URL, Config{})

	_, err := c.Get(context.Background(), "/drug/label.json", url.Values{"search": {"nothing"}})
	var statusErr *engine.StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	require.Equal(t, int32(1), calls.Load())
}

func TestClientRetryAllReplaysClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	policy := fastRetry()
	policy.RetryAll = true
	c := newTestClient(t, srv.URL, Config{Retry: policy})

	_, err := c.Get(context.Background(), "/drug/label.json", nil)
	var exhausted *engine.RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, int32(5), calls.Load())
}

func TestClientInjectsAndRedactsAPIKey(t *testing.T) {
	var seen atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.Store(r.URL.Query().Get("api_key"))
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, Config{APIKey: "top-secret", Retry: &engine.RetryPolicy{MaxAttempts: 1}})

	_, err := c.Get(context.Background(), "/drug/label.json", nil)
	require.Error(t, err)
	require.Equal(t, "top-secret", seen.Load())
	require.NotContains(t, err.Error(), "top-secret")
	require.Contains(t, err.Error(), "REDACTED")
}

func TestClientRedactsTransportErrors(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	baseURL := srv.URL
	srv.Close()

	c := newTestClient(t, baseURL, Config{APIKey: "top-secret", Retry: &engine.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond}})

	_, err := c.Get(context.Background(), "/drug/label.json", nil)
	var exhausted *engine.RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.NotContains(t, err.Error(), "top-secret")
}

func TestClientConcurrentRequestsRespectRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	clock := newTestClock()
	var (
		mu     sync.Mutex
		sleeps []time.Duration
	)
	limiter, err := engine.NewRequestsPerMinute(60,
		engine.WithBucketClock(clock.Now),
		engine.WithBucketSleep(func(ctx context.Context, d time.Duration) error {
			mu.Lock()
			sleeps = append(sleeps, d)
			mu.Unlock()
			return nil
		}),
	)
	require.NoError(t, err)

	c := newTestClient(t, srv.URL, Config{RequestsPerMinute: 60}, WithLimiter(limiter), WithClock(clock.Now))

	var wg sync.WaitGroup
	errs := make([]error, 70)
	for i := 0; i < 70; i++ {
		wg.Go(func() {
			_, errs[i] = c.Get(context.Background(), fmt.Sprintf("/drug/ndc.json/%d", i), nil)
		})
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int32(70), calls.Load())

	// sixty requests fit the initial budget; the rest waited at least a second.
	require.Len(t, sleeps, 10)
	for _, d := range sleeps {
		require.GreaterOrEqual(t, d, time.Second)
	}
}

// blockingUpstream holds every request until release is closed, then answers with status.
func blockingUpstream(t *testing.T, status int) (*httptest.Server, *atomic.Int32, func()) {
	t.Helper()
	var calls atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		if status != http.StatusOK {
			http.Error(w, `{"error":{"code":"NOT_FOUND"}}`, status)
			return
		}
		_, _ = w.Write([]byte(`{"results":[1]}`))
	}))

	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }
	t.Cleanup(func() {
		unblock()
		srv.Close()
	})
	return srv, &calls, unblock
}

func TestClientCoalescesIdenticalConcurrentMisses(t *testing.T) {
	srv, calls, release := blockingUpstream(t, http.StatusOK)
	c := newTestClient(t, srv.URL, Config{})

	var wg sync.WaitGroup
	bodies := make([]string, 8)
	errs := make([]error, len(bodies))
	for i := range bodies {
		wg.Go(func() {
			resp, err := c.Get(context.Background(), "/food/enforcement.json", nil)
			errs[i] = err
			if err == nil {
				bodies[i] = string(resp.Body)
			}
		})
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	release()
	wg.Wait()

	require.Equal(t, int32(1), calls.Load())
	for i, body := range bodies {
		require.NoError(t, errs[i])
		require.Equal(t, `{"results":[1]}`, body)
	}
	require.Positive(t, c.Stats().Coalesced)
}

func TestClientCoalescedCallerHonorsOwnDeadline(t *testing.T) {
	srv, calls, release := blockingUpstream(t, http.StatusOK)
	c := newTestClient(t, srv.URL, Config{})

	first := make(chan error, 1)
	go func() {
		_, err := c.Get(context.Background(), "/drug/ndc.json", nil)
		first <- err
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Get(ctx, "/drug/ndc.json", nil)
	require.ErrorIs(t, err, engine.ErrTimeout)
	require.Less(t, time.Since(start), 2*time.Second)

	release()
	require.NoError(t, <-first)
	require.Equal(t, int32(1), calls.Load())
}

func TestClientCoalescedCallersSurviveFirstCallerCancel(t *testing.T) {
	srv, calls, release := blockingUpstream(t, http.StatusOK)
	c := newTestClient(t, srv.URL, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := c.Get(ctx, "/drug/ndc.json", nil)
		first <- err
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	type outcome struct {
		resp *core.Response
		err  error
	}
	second := make(chan outcome, 1)
	go func() {
		resp, err := c.Get(context.Background(), "/drug/ndc.json", nil)
		second <- outcome{resp, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	require.ErrorIs(t, <-first, context.Canceled)

	release()
	got := <-second
	require.NoError(t, got.err)
	require.Equal(t, `{"results":[1]}`, string(got.resp.Body))
	require.Equal(t, int32(1), calls.Load())
}

func TestClientCoalescedCallersShareErrors(t *testing.T) {
	srv, calls, release := blockingUpstream(t, http.StatusNotFound)
	c := newTestClient(t, srv.URL, Config{})

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Go(func() {
			_, errs[i] = c.Get(context.Background(), "/drug/missing.json", nil)
		})
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	release()
	wg.Wait()

	require.Equal(t, int32(1), calls.Load())
	for _, err := range errs {
		var status *engine.StatusError
		require.ErrorAs(t, err, &status)
		require.Equal(t, http.StatusNotFound, status.StatusCode)
	}
	require.Equal(t, int64(len(errs)), c.Stats().Failures)
}

func TestClientDeadlineReturnsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, Config{
		Deadline: 50 * time.Millisecond,
		Retry:    &engine.RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second},
	})

	start := time.Now()
	_, err := c.Get(context.Background(), "/drug/label.json", nil)
	require.ErrorIs(t, err, engine.ErrTimeout)
	require.Less(t, time.Since(start), time.Second)
}

func TestClientCacheTTLBoundary(t *testing.T) {
	handler, calls := statusSequence()
	srv := httptest.NewServer(handler)
	defer srv.Close()

	clock := newTestClock()
	c := newTestClient(t, srv.URL, Config{DefaultTTL: time.Minute}, WithClock(clock.Now))
	ctx := context.Background()

	_, err := c.Get(ctx, "/drug/label.json", nil)
	require.NoError(t, err)

	clock.Advance(59 * time.Second)
	resp, err := c.Get(ctx, "/drug/label.json", nil)
	require.NoError(t, err)
	require.True(t, resp.FromCache)

	clock.Advance(time.Second)
	resp, err = c.Get(ctx, "/drug/label.json", nil)
	require.NoError(t, err)
	require.False(t, resp.FromCache)
	require.Equal(t, int32(2), calls.Load())
}

func TestClientZeroRequestTTLSkipsCache(t *testing.T) {
	handler, calls := statusSequence()
	srv := httptest.NewServer(handler)
	defer srv.Close()

	c := newTestClient(t, srv.URL, Config{})
	req := core.NewRequest("/drug/label.json", nil).WithTTL(0)

	_, err := c.Do(context.Background(), req)
	require.NoError(t, err)
	_, err = c.Do(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, int32(2), calls.Load())
}

func TestClientTTLForLongestPrefix(t *testing.T) {
	c := &Client{cfg: Config{
		DefaultTTL: time.Hour,
		TTLByEndpoint: map[string]time.Duration{
			"/drug":             2 * time.Hour,
			"/drug/event.json":  time.Minute,
			"/device/":          -1,
			"/drugsfda.json/xx": 5 * time.Hour,
		},
	}.withDefaults()}

	require.Equal(t, 2*time.Hour, c.ttlFor(core.NewRequest("/drug/label.json", nil)))
	require.Equal(t, time.Minute, c.ttlFor(core.NewRequest("drug/event.json", nil)))
	require.Equal(t, time.Duration(-1), c.ttlFor(core.NewRequest("/device/recall.json", nil)))
	require.Equal(t, time.Hour, c.ttlFor(core.NewRequest("/drugsfda.json", nil)))
	require.Equal(t, 10*time.Second, c.ttlFor(core.NewRequest("/drug/label.json", nil).WithTTL(10*time.Second)))
}

func TestClientTTLPrefixesCollapseToShortestTTL(t *testing.T) {
	for i := 0; i < 20; i++ {
		cfg := Config{TTLByEndpoint: map[string]time.Duration{
			"drug":        3 * time.Hour,
			"/drug/":      time.Hour,
			"/drug":       2 * time.Hour,
			"food/recall": 5 * time.Minute,
		}}.withDefaults()

		require.Equal(t, map[string]time.Duration{
			"/drug":        time.Hour,
			"/food/recall": 5 * time.Minute,
		}, cfg.TTLByEndpoint)

		c := &Client{cfg: cfg}
		require.Equal(t, time.Hour, c.ttlFor(core.NewRequest("/drug/label.json", nil)))
	}
}

func TestClientTrailingSlashSharesURLAndCacheEntry(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, Config{})

	first, err := c.Get(context.Background(), "/drug/ndc.json/", nil)
	require.NoError(t, err)
	require.False(t, first.FromCache)

	second, err := c.Do(context.Background(), core.RequestDescriptor{Path: "drug/ndc.json"})
	require.NoError(t, err)
	require.True(t, second.FromCache)
	require.Equal(t, first.Key, second.Key)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"/drug/ndc.json"}, paths)
}

func TestClientRetryAfterPenalizesBucket(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	clock := newTestClock()
	var delays []time.Duration
	policy := &engine.RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    10 * time.Second,
		Sleep: func(ctx context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		},
	}
	c := newTestClient(t, srv.URL, Config{RequestsPerMinute: 60, Retry: policy}, WithClock(clock.Now))

	_, err := c.Get(context.Background(), "/drug/label.json", nil)
	require.NoError(t, err)
	require.Equal(t, []time.Duration{2 * time.Second}, delays)
	require.Zero(t, c.Budget().Available)

	clock.Advance(3 * time.Second)
	require.InDelta(t, 1, c.Budget().Available, 1e-9)
}

func TestClientCloseSemantics(t *testing.T) {
	handler, _ := statusSequence()
	srv := httptest.NewServer(handler)
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, Retry: fastRetry()})
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.ErrorIs(t, c.Close(), ErrClientClosed)

	_, err = c.Get(context.Background(), "/drug/label.json", nil)
	require.ErrorIs(t, err, ErrClientClosed)
}

type memoryBudgets struct {
	mu      sync.Mutex
	budgets map[string]core.RateBudget
}

func (m *memoryBudgets) GetRateBudget(ctx context.Context, endpoint string) (*core.RateBudget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	budget, ok := m.budgets[endpoint]
	if !ok {
		return nil, nil
	}
	return &budget, nil
}

func (m *memoryBudgets) SaveRateBudget(ctx context.Context, budget *core.RateBudget) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.budgets == nil {
		m.budgets = make(map[string]core.RateBudget)
	}
	m.budgets[budget.Endpoint] = *budget
	return nil
}

func TestClientPersistsRateBudget(t *testing.T) {
	handler, _ := statusSequence()
	srv := httptest.NewServer(handler)
	defer srv.Close()

	clock := newTestClock()
	store := &memoryBudgets{}
	endpoint := strings.TrimSuffix(srv.URL, "/")

	c, err := New(Config{BaseURL: srv.URL, RequestsPerMinute: 60, Retry: fastRetry()}, WithClock(clock.Now), WithBudgetStore(store))
	require.NoError(t, err)
	_, err = c.Get(context.Background(), "/a", nil)
	require.NoError(t, err)
	_, err = c.Get(context.Background(), "/b", nil)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	saved, err := store.GetRateBudget(context.Background(), endpoint)
	require.NoError(t, err)
	require.NotNil(t, saved)
	require.InDelta(t, 58, saved.Available, 1e-9)

	restored, err := New(Config{BaseURL: srv.URL, RequestsPerMinute: 60}, WithClock(clock.Now), WithBudgetStore(store))
	require.NoError(t, err)
	defer func() { _ = restored.Close() }()
	require.InDelta(t, 58, restored.Budget().Available, 1e-9)
}

type faultyCache struct {
	lookupErr error
	storeErr  error
	deleted   []string
}

func (f *faultyCache) Lookup(ctx context.Context, key string) (*core.CacheEntry, error) {
	return nil, f.lookupErr
}

func (f *faultyCache) Store(ctx context.Context, entry *core.CacheEntry) error {
	return f.storeErr
}

func (f *faultyCache) Delete(ctx context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *faultyCache) Close() error {
	return nil
}

func TestClientCacheFailuresDoNotFailRequests(t *testing.T) {
	handler, calls := statusSequence()
	srv := httptest.NewServer(handler)
	defer srv.Close()

	faulty := &faultyCache{
		lookupErr: fmt.Errorf("%w: truncated json", cache.ErrCorrupt),
		storeErr:  errors.New("disk full"),
	}
	c := newTestClient(t, srv.URL, Config{}, WithCache(faulty))

	resp, err := c.Get(context.Background(), "/drug/label.json", nil)
	require.NoError(t, err)
	require.False(t, resp.FromCache)
	require.Equal(t, int32(1), calls.Load())
	require.NotEmpty(t, faulty.deleted)
}

func TestClientWithoutCache(t *testing.T) {
	handler, calls := statusSequence()
	srv := httptest.NewServer(handler)
	defer srv.Close()

	c := newTestClient(t, srv.URL, Config{}, WithCache(nil))
	for i := 0; i < 2; i++ {
		_, err := c.Get(context.Background(), "/drug/label.json", nil)
		require.NoError(t, err)
	}
	require.Equal(t, int32(2), calls.Load())
}

func TestClientUsesRequestIDFromContext(t *testing.T) {
	var forwarded atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		forwarded.Store(r.Header.Get(RequestIDHeader))
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, Config{})
	ctx := ContextWithRequestID(context.Background(), "req-123")

	resp, err := c.Get(ctx, "/drug/label.json", nil)
	require.NoError(t, err)
	require.Equal(t, "req-123", resp.RequestID)
	assert.Equal(t, "req-123", forwarded.Load(), "caller request IDs are forwarded upstream")

	resp, err = c.Get(context.Background(), "/drug/event.json", nil)
	require.NoError(t, err)
	assert.Len(t, resp.RequestID, 36, "calls without a caller ID get a fresh uuid")
	assert.Equal(t, "", forwarded.Load())
}

func TestBudgetEndpoint(t *testing.T) {
	endpoint, err := BudgetEndpoint("https://api.fda.gov/drug/")
	require.NoError(t, err)
	assert.Equal(t, "https://api.fda.gov", endpoint)

	endpoint, err = BudgetEndpoint(" http://127.0.0.1:8081 ")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8081", endpoint)

	_, err = BudgetEndpoint("not a url")
	assert.ErrorIs(t, err, engine.ErrInvalidArgument)
}
