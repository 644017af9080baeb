// Package resilience holds the retry and circuit breaker primitives shared by
// the delivery pipeline and the outbound clients. Both are owned values passed
// by reference; neither keeps package-level state.
package resilience

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// RetryPolicy configures Retry.
//
// MaxRetries is the total number of attempts, so a policy with MaxRetries 3
// invokes the operation at most three times. After failed attempt i (0-based)
// with attempts remaining, Retry waits BaseDelay * 2^i.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration

	// MaxDelay caps a single wait. Zero means uncapped.
	MaxDelay time.Duration

	// Jitter randomizes each wait within [delay/2, delay].
	Jitter bool

	// Retryable reports whether an error is worth another attempt. A nil
	// Retryable treats every error as retryable.
	Retryable func(error) bool
}

// DefaultRetryPolicy returns 3 attempts with a 1s base delay and no jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
	}
}

// SleepFunc blocks for d or until ctx is done, returning ctx.Err() in the
// latter case.
type SleepFunc func(ctx context.Context, d time.Duration) error

// RetryOption is a functional option for a single Retry call.
type RetryOption func(*retryConfig)

type retryConfig struct {
	sleep   SleepFunc
	onRetry func(attempt int, err error, wait time.Duration)
}

// WithSleepFunc overrides the sleep used between attempts.
// This is intended for testing to avoid real delays.
func WithSleepFunc(fn SleepFunc) RetryOption {
	return func(c *retryConfig) {
		c.sleep = fn
	}
}

// WithOnRetry registers a hook invoked before each wait.
func WithOnRetry(fn func(attempt int, err error, wait time.Duration)) RetryOption {
	return func(c *retryConfig) {
		c.onRetry = fn
	}
}

// Retry invokes op until it succeeds, the policy is exhausted, or op returns
// an error the policy does not consider retryable. The attempt number passed
// to op starts at 0. On exhaustion the last error is returned unchanged.
//
// If ctx is cancelled while waiting, Retry returns the last operation error
// joined with ctx.Err().
func Retry[T any](ctx context.Context, policy RetryPolicy, op func(ctx context.Context, attempt int) (T, error), opts ...RetryOption) (T, error) {
	cfg := retryConfig{sleep: Sleep}
	for _, opt := range opts {
		opt(&cfg)
	}

	attempts := policy.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var (
		zero    T
		lastErr error
	)
	for attempt := 0; attempt < attempts; attempt++ {
		result, err := op(ctx, attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if policy.Retryable != nil && !policy.Retryable(err) {
			return zero, err
		}
		if attempt == attempts-1 {
			break
		}

		wait := policy.Backoff(attempt)
		if cfg.onRetry != nil {
			cfg.onRetry(attempt, err, wait)
		}
		if sleepErr := cfg.sleep(ctx, wait); sleepErr != nil {
			return zero, errors.Join(lastErr, sleepErr)
		}
	}

	return zero, lastErr
}

// Backoff returns the wait that follows failed attempt i.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}
	d := p.BaseDelay << uint(attempt)
	if d <= 0 || (p.MaxDelay > 0 && d > p.MaxDelay) {
		d = p.MaxDelay
	}
	if p.Jitter && d > 1 {
		half := d / 2
		d = half + time.Duration(rand.Int64N(int64(d-half)+1))
	}
	return d
}

// Sleep is the default SleepFunc. A non-positive duration returns
// immediately unless ctx is already done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
