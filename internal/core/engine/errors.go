package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrInvalidArgument marks caller mistakes such as asking for more credit than the bucket holds.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrTimeout marks a logical request whose deadline elapsed while throttled or retrying.
	ErrTimeout = errors.New("request deadline exceeded")
)

// StatusError reports a non-2xx upstream response for a single attempt.
type StatusError struct {
	StatusCode int
	Status     string
	URL        string
	Body       []byte
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	status := e.Status
	if status == "" {
		status = fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	if e.URL == "" {
		return "upstream returned " + status
	}
	return fmt.Sprintf("upstream returned %s for %s", status, e.URL)
}

// Transient reports whether replaying the request could succeed.
func (e *StatusError) Transient() bool {
	switch {
	case e.StatusCode == http.StatusRequestTimeout,
		e.StatusCode == http.StatusTooManyRequests,
		e.StatusCode >= http.StatusInternalServerError:
		return true
	default:
		return false
	}
}

// RetryExhaustedError is returned once every attempt has failed.
type RetryExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("request failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Last
}

// timeoutError ties ErrTimeout to the underlying cause so both stay matchable.
type timeoutError struct {
	cause error
}

func (e *timeoutError) Error() string {
	if e.cause == nil {
		return ErrTimeout.Error()
	}
	return fmt.Sprintf("%s: %v", ErrTimeout, e.cause)
}

func (e *timeoutError) Unwrap() []error {
	if e.cause == nil {
		return []error{ErrTimeout}
	}
	return []error{ErrTimeout, e.cause}
}

// ContextError converts a finished context into the error surfaced to callers.
// Deadline expiry becomes ErrTimeout; cancellation is returned unchanged.
func ContextError(ctx context.Context, last error) error {
	err := ctx.Err()
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		if last != nil {
			return &timeoutError{cause: last}
		}
		return &timeoutError{cause: err}
	}
	if last != nil {
		return fmt.Errorf("%w (last error: %v)", err, last)
	}
	return err
}

// IsRetryable reports whether err is worth another attempt under the default policy.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrInvalidArgument) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Transient()
	}
	// Transport failures, attempt timeouts and body read errors.
	return true
}

// retryAfterHint extracts a server-provided delay from err, if any.
func retryAfterHint(err error) time.Duration {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.RetryAfter
	}
	return 0
}
