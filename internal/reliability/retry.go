package reliability

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// Policy configures the shared bounded retry discipline. It is used identically
// by the hub gateway client, the authentication client and the webhook
// forwarder. A Policy value is immutable after construction.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt. A call
	// governed by this policy therefore makes at most MaxRetries+1 attempts.
	MaxRetries int
	// BaseDelay is the delay before the first retry. Subsequent retries
	// double the delay before jitter is applied.
	BaseDelay time.Duration
}

// DefaultPolicy mirrors the retry tuning the broker ships with.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, BaseDelay: 500 * time.Millisecond}
}

// NextDelay returns the jittered delay before retry attempt k (1-indexed).
// The jitter factor is drawn uniformly from [0.25, 1.0] so that nodes that
// fail together do not retry together.
func (p Policy) NextDelay(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * float64(uint64(1)<<uint(attempt-1))
	jitter := 0.25 + 0.75*rand.Float64()
	return time.Duration(delay * jitter)
}

// ExhaustedError is returned when an operation kept failing with retryable
// errors until the policy bound was hit. It is distinct from the underlying
// cause so callers can branch on exhaustion versus first-attempt failure.
type ExhaustedError struct {
	MaxRetries int
	Err        error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("reliability: exhausted maximum retries of %d: %v", e.MaxRetries, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// IsExhausted reports whether err carries an ExhaustedError.
func IsExhausted(err error) bool {
	var exhausted *ExhaustedError
	return errors.As(err, &exhausted)
}

// retryable is implemented by errors that mark themselves as transient.
type retryable interface {
	IsRetryable() bool
}

// Retryable reports whether err belongs to the designated retryable error
// class (upstream 5xx, transient transport failure). Anything else propagates
// immediately without a retry.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return false
}

// RetryableError tags an error as transient for the shared retry discipline.
type RetryableError struct {
	Err error
}

// MarkRetryable wraps err so that Retryable(err) reports true.
func MarkRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

func (r *RetryableError) Error() string {
	return r.Err.Error()
}

// IsRetryable implements the retryable marker.
func (r *RetryableError) IsRetryable() bool {
	return true
}

func (r *RetryableError) Unwrap() error {
	return r.Err
}

// Retry executes fn under the bounded-exponential-backoff policy. Only
// retryable failures trigger another attempt; once MaxRetries retryable
// failures have occurred the call fails with an ExhaustedError wrapping the
// last cause. Context cancellation aborts the wait between attempts.
func Retry(ctx context.Context, policy Policy, fn func() error) error {
	var lastErr error

	for attempt := 0; ; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		if !Retryable(err) {
			return err
		}
		lastErr = err

		if attempt >= policy.MaxRetries {
			return &ExhaustedError{MaxRetries: policy.MaxRetries, Err: lastErr}
		}

		select {
		case <-time.After(policy.NextDelay(attempt + 1)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
