package engine

import (
	"context"
	"math"
	"time"

	"github.com/stdlens/stdlens/internal/core"
)

const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = time.Second
	DefaultMinDelay    = 250 * time.Millisecond
	DefaultMaxDelay    = 30 * time.Second
)

// RetryPolicy replays a single fallible attempt with bounded exponential backoff.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MinDelay    time.Duration
	MaxDelay    time.Duration

	// RetryAll replays every failure, including 4xx responses.
	// By default only transport errors, 408, 429 and 5xx are replayed.
	RetryAll bool

	Sleep   func(ctx context.Context, d time.Duration) error
	OnRetry func(attempt core.RetryAttempt)
}

// DefaultRetryPolicy returns the five-attempt policy used by the API client.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MinDelay:    DefaultMinDelay,
		MaxDelay:    DefaultMaxDelay,
	}
}

// Execute runs op until it succeeds, a non-retryable error occurs, attempts run out,
// or ctx is done. It returns the number of attempts made.
func (p *RetryPolicy) Execute(ctx context.Context, op func(ctx context.Context) error) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	policy := p.withDefaults()

	var last error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ContextError(ctx, last); err != nil {
			return attempt - 1, err
		}

		last = op(ctx)
		if last == nil {
			return attempt, nil
		}
		if err := ContextError(ctx, last); err != nil {
			return attempt, err
		}
		if !policy.RetryAll && !IsRetryable(last) {
			return attempt, last
		}
		if attempt == policy.MaxAttempts {
			break
		}

		delay := policy.Backoff(attempt)
		if hint := retryAfterHint(last); hint > delay {
			delay = min(hint, policy.MaxDelay)
		}
		if policy.OnRetry != nil {
			policy.OnRetry(core.RetryAttempt{Number: attempt, Err: last, NextDelay: delay})
		}
		if err := policy.Sleep(ctx, delay); err != nil {
			if ctxErr := ContextError(ctx, last); ctxErr != nil {
				return attempt, ctxErr
			}
			return attempt, err
		}
	}

	return policy.MaxAttempts, &RetryExhaustedError{Attempts: policy.MaxAttempts, Last: last}
}

// Backoff returns the wait after the given 1-indexed failed attempt:
// min(MaxDelay, BaseDelay*2^(attempt-1)), never below MinDelay.
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	policy := p.withDefaults()
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(policy.BaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(policy.MaxDelay) || math.IsInf(delay, 0) {
		delay = float64(policy.MaxDelay)
	}
	if delay < float64(policy.MinDelay) {
		delay = float64(policy.MinDelay)
	}
	return time.Duration(delay)
}

func (p *RetryPolicy) withDefaults() RetryPolicy {
	var policy RetryPolicy
	if p != nil {
		policy = *p
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultMaxAttempts
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = DefaultBaseDelay
	}
	if policy.MinDelay < 0 {
		policy.MinDelay = 0
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = DefaultMaxDelay
	}
	if policy.MinDelay > policy.MaxDelay {
		policy.MinDelay = policy.MaxDelay
	}
	if policy.Sleep == nil {
		policy.Sleep = SleepContext
	}
	return policy
}
