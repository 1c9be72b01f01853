package engine

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/stdlens/stdlens/internal/core"
)

// TokenBucket admits up to Capacity credits at once and refills continuously.
// Callers that need more credit than is available are delayed, never rejected.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	rate       float64
	available  float64
	lastRefill time.Time

	clock func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// BucketOption customizes a TokenBucket.
type BucketOption func(*TokenBucket)

// WithBucketClock overrides the time source.
func WithBucketClock(clock func() time.Time) BucketOption {
	return func(b *TokenBucket) {
		if clock != nil {
			b.clock = clock
		}
	}
}

// WithBucketSleep overrides how the bucket waits for credit.
func WithBucketSleep(sleep func(ctx context.Context, d time.Duration) error) BucketOption {
	return func(b *TokenBucket) {
		if sleep != nil {
			b.sleep = sleep
		}
	}
}

// NewTokenBucket creates a full bucket.
func NewTokenBucket(capacity, refillPerSecond float64, opts ...BucketOption) (*TokenBucket, error) {
	if !(capacity > 0) || math.IsInf(capacity, 0) {
		return nil, fmt.Errorf("%w: bucket capacity must be positive, got %v", ErrInvalidArgument, capacity)
	}
	if !(refillPerSecond > 0) || math.IsInf(refillPerSecond, 0) {
		return nil, fmt.Errorf("%w: refill rate must be positive, got %v", ErrInvalidArgument, refillPerSecond)
	}

	b := &TokenBucket{
		capacity:  capacity,
		rate:      refillPerSecond,
		available: capacity,
		clock:     func() time.Time { return time.Now().UTC() },
		sleep:     SleepContext,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.lastRefill = b.clock()
	return b, nil
}

// NewRequestsPerMinute creates a bucket holding rpm credits and refilling rpm/60 per second.
func NewRequestsPerMinute(rpm int, opts ...BucketOption) (*TokenBucket, error) {
	if rpm <= 0 {
		return nil, fmt.Errorf("%w: requests per minute must be positive, got %d", ErrInvalidArgument, rpm)
	}
	return NewTokenBucket(float64(rpm), float64(rpm)/60, opts...)
}

// Capacity returns the maximum number of credits.
func (b *TokenBucket) Capacity() float64 {
	return b.capacity
}

// Consume takes n credits, waiting until they have accumulated.
//
// The credits are reserved before waiting, so the balance may dip below zero while
// waiters sleep; later refills pay the debt back. The lock is never held while sleeping.
func (b *TokenBucket) Consume(ctx context.Context, n float64) error {
	if math.IsNaN(n) || n <= 0 || n > b.capacity {
		return fmt.Errorf("%w: cannot consume %v credits from a bucket of capacity %v", ErrInvalidArgument, n, b.capacity)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ContextError(ctx, nil); err != nil {
		return err
	}

	b.mu.Lock()
	now := b.clock()
	b.refillLocked(now)
	if b.available >= n {
		b.available -= n
		b.mu.Unlock()
		return nil
	}

	deficit := n - b.available
	wait := time.Duration(deficit / b.rate * float64(time.Second))
	if deadline, ok := ctx.Deadline(); ok && now.Add(wait).After(deadline) {
		b.mu.Unlock()
		return &timeoutError{cause: fmt.Errorf("throttle wait of %s exceeds deadline", wait.Round(time.Millisecond))}
	}
	b.available -= n
	b.mu.Unlock()

	if err := b.sleep(ctx, wait); err != nil {
		b.refund(n)
		if ctxErr := ContextError(ctx, nil); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

// Penalize empties the bucket so no credit is available for d.
// Used when the upstream answers 429 with a Retry-After hint.
func (b *TokenBucket) Penalize(d time.Duration) {
	if d <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(b.clock())
	debt := -d.Seconds() * b.rate
	if debt < b.available {
		b.available = debt
	}
}

// Snapshot refills and reports the current budget, clamped to [0, capacity].
func (b *TokenBucket) Snapshot() core.RateBudget {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(b.clock())
	return core.RateBudget{
		Capacity:        b.capacity,
		Available:       math.Max(0, b.available),
		RefillPerSecond: b.rate,
		LastRefill:      b.lastRefill,
	}
}

// Restore seeds the bucket from a persisted snapshot, crediting the time elapsed since.
func (b *TokenBucket) Restore(state core.RateBudget) {
	if state.LastRefill.IsZero() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.available = math.Min(state.Available, b.capacity)
	b.lastRefill = state.LastRefill
	b.refillLocked(b.clock())
}

func (b *TokenBucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.available = math.Min(b.capacity, b.available+elapsed*b.rate)
		b.lastRefill = now
	}
}

func (b *TokenBucket) refund(n float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.available = math.Min(b.capacity, b.available+n)
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
