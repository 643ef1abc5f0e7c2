// Package resilience retries unreliable external calls with backoff.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// ErrExhausted wraps the last error once every attempt has failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// BackoffFunc returns the delay before the given retry (1 = first retry).
type BackoffFunc func(retry int) time.Duration

// Policy parameterizes a retry loop. The Retryable predicate is the only
// place failures are classified.
type Policy struct {
	MaxAttempts    int
	Backoff        BackoffFunc
	Retryable      func(error) bool
	AttemptTimeout time.Duration
	OnRetry        func(attempt int, err error, delay time.Duration)
}

// Exponential returns a backoff that starts at base, doubles per retry, adds
// up to jitter of random delay and never exceeds maxDelay (when > 0).
func Exponential(base, maxDelay, jitter time.Duration) BackoffFunc {
	return func(retry int) time.Duration {
		if retry < 1 {
			retry = 1
		}
		delay := base << (retry - 1)
		if delay <= 0 || (maxDelay > 0 && delay > maxDelay) {
			delay = maxDelay
		}
		if jitter > 0 {
			delay += rand.N(jitter)
		}
		return delay
	}
}

// DefaultPolicy retries three times starting at 500ms.
func DefaultPolicy(retryable func(error) bool) Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff:     Exponential(500*time.Millisecond, 8*time.Second, 250*time.Millisecond),
		Retryable:   retryable,
	}
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Do runs fn until it succeeds, fails with a non-retryable error, the context
// ends, or the attempts run out.
func Do[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= p.attempts(); attempt++ {
		out, err := runAttempt(ctx, p.AttemptTimeout, fn)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return zero, err
		}

		if p.Retryable == nil || !p.Retryable(err) {
			return zero, err
		}
		if attempt == p.attempts() {
			break
		}

		var delay time.Duration
		if p.Backoff != nil {
			delay = p.Backoff(attempt)
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, fmt.Errorf("%w: %w", err, lastErr)
		}
	}

	return zero, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, p.attempts(), lastErr)
}

// DoWithFallback behaves like Do but hands any final failure to fallback.
// A nil fallback propagates the error.
func DoWithFallback[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error), fallback func(error) (T, error)) (T, error) {
	out, err := Do(ctx, p, fn)
	if err == nil || fallback == nil {
		return out, err
	}
	return fallback(err)
}

// runAttempt runs a single attempt under the per-attempt deadline.
func runAttempt[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(actx)
}

func sleep(ctx context.Context, d time.Duration) error {
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
