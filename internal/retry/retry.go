// ABOUTME: Bounded fixed-delay retry for transient failures such as class activation
// ABOUTME: Reports exhaustion as a typed RetryError wrapping ErrMaxRetries

// Package retry runs an operation a bounded number of times with a fixed
// delay between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Config configures retry behavior.
type Config struct {
	// Attempts is the total number of tries (default: 10).
	Attempts int

	// Delay is the pause between tries (default: 200ms).
	Delay time.Duration

	// IsRetryable decides whether a failure is worth another try.
	// If nil, every error except one marked with MarkNotRetryable is retried.
	IsRetryable func(error) bool
}

// DefaultAttempts and DefaultDelay are used for zero Config fields.
const (
	DefaultAttempts = 10
	DefaultDelay    = 200 * time.Millisecond
)

// DefaultConfig returns a Config with the default attempt count and delay.
func DefaultConfig() Config {
	return Config{Attempts: DefaultAttempts, Delay: DefaultDelay}
}

// Sentinel errors.
var (
	// ErrNotRetryable stops the loop early.
	ErrNotRetryable = errors.New("retry: error is not retryable")

	// ErrMaxRetries is returned when all attempts are exhausted.
	ErrMaxRetries = errors.New("retry: max retries exceeded")

	// ErrContextCanceled wraps context cancellation during the loop.
	ErrContextCanceled = errors.New("retry: context canceled")
)

// Func is the operation being retried.
type Func func(ctx context.Context) error

// Do executes fn until it succeeds, fails with a non-retryable error, the
// attempts run out or ctx is done.
func Do(ctx context.Context, cfg Config, fn Func) error {
	cfg = applyDefaults(cfg)

	var lastErr error
	for attempt := 0; attempt < cfg.Attempts; attempt++ {
		if ctx.Err() != nil {
			if lastErr != nil {
				return &RetryError{Cause: lastErr, Attempts: attempt, Err: ErrContextCanceled}
			}
			return ctx.Err()
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !cfg.IsRetryable(err) {
			return &RetryError{Cause: err, Attempts: attempt + 1, Err: ErrNotRetryable}
		}

		if attempt < cfg.Attempts-1 {
			timer := time.NewTimer(cfg.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return &RetryError{Cause: lastErr, Attempts: attempt + 1, Err: ErrContextCanceled}
			case <-timer.C:
			}
		}
	}

	return &RetryError{Cause: lastErr, Attempts: cfg.Attempts, Err: ErrMaxRetries}
}

// DoWithResult executes fn with retries and returns its result.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func(ctx context.Context) error {
		var fnErr error
		result, fnErr = fn(ctx)
		return fnErr
	})
	return result, err
}

// RetryError provides details about a failed retry operation.
type RetryError struct {
	// Cause is the last error returned by the function.
	Cause error

	// Attempts is the number of attempts made.
	Attempts int

	// Err is the sentinel error (ErrMaxRetries, ErrNotRetryable, or ErrContextCanceled).
	Err error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("retry failed after %d attempts (%s): %s", e.Attempts, e.Err, e.Cause)
}

func (e *RetryError) Unwrap() error {
	return e.Cause
}

func (e *RetryError) Is(target error) bool {
	return errors.Is(e.Err, target) || errors.Is(e.Cause, target)
}

func applyDefaults(cfg Config) Config {
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultAttempts
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	if cfg.IsRetryable == nil {
		cfg.IsRetryable = DefaultIsRetryable
	}
	return cfg
}

// DefaultIsRetryable treats every error as transient unless it was marked
// with MarkNotRetryable.
func DefaultIsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotRetryable) {
		return false
	}
	var retryable interface{ Retryable() bool }
	if errors.As(err, &retryable) {
		return retryable.Retryable()
	}
	return true
}

// MarkNotRetryable wraps an error to indicate it should not be retried.
func MarkNotRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &notRetryableError{cause: err}
}

type notRetryableError struct {
	cause error
}

func (e *notRetryableError) Error() string   { return e.cause.Error() }
func (e *notRetryableError) Unwrap() error   { return e.cause }
func (e *notRetryableError) Retryable() bool { return false }
