package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("429 too many requests")
var errFatal = errors.New("bad request")

func isTransient(err error) bool { return errors.Is(err, errTransient) }

func fastPolicy(max int) Policy {
	return Policy{
		MaxAttempts: max,
		Backoff:     Exponential(time.Millisecond, 5*time.Millisecond, 0),
		Retryable:   isTransient,
	}
}

func TestDoRetriesTransientFailures(t *testing.T) {
	calls := 0
	var retries []int
	p := fastPolicy(3)
	p.OnRetry = func(attempt int, _ error, _ time.Duration) { retries = append(retries, attempt) }

	out, err := Do(context.Background(), p, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errTransient
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retries)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(5), func(context.Context) (int, error) {
		calls++
		return 0, errFatal
	})

	require.ErrorIs(t, err, errFatal)
	assert.NotErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 1, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(3), func(context.Context) (int, error) {
		calls++
		return 0, errTransient
	})

	require.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls)
}

func TestDoWithFallbackProducesValue(t *testing.T) {
	out, err := DoWithFallback(context.Background(), fastPolicy(2),
		func(context.Context) (string, error) { return "", errTransient },
		func(err error) (string, error) {
			assert.ErrorIs(t, err, ErrExhausted)
			return "fallback", nil
		})

	require.NoError(t, err)
	assert.Equal(t, "fallback", out)
}

func TestDoWithFallbackNilPropagates(t *testing.T) {
	_, err := DoWithFallback[int](context.Background(), fastPolicy(1),
		func(context.Context) (int, error) { return 0, errFatal }, nil)
	assert.ErrorIs(t, err, errFatal)
}

func TestDoAppliesAttemptTimeout(t *testing.T) {
	p := fastPolicy(2)
	p.AttemptTimeout = 10 * time.Millisecond
	p.Retryable = func(err error) bool { return errors.Is(err, context.DeadlineExceeded) }

	calls := 0
	_, err := Do(context.Background(), p, func(ctx context.Context) (int, error) {
		calls++
		<-ctx.Done()
		return 0, ctx.Err()
	})

	require.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 2, calls)
}

func TestDoHonoursParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{
		MaxAttempts: 5,
		Backoff:     func(int) time.Duration { return time.Hour },
		Retryable:   isTransient,
		OnRetry:     func(int, error, time.Duration) { cancel() },
	}

	start := time.Now()
	_, err := Do(ctx, p, func(context.Context) (int, error) { return 0, errTransient })

	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestExponentialDoublesAndCaps(t *testing.T) {
	b := Exponential(100*time.Millisecond, time.Second, 0)
	assert.Equal(t, 100*time.Millisecond, b(1))
	assert.Equal(t, 200*time.Millisecond, b(2))
	assert.Equal(t, 400*time.Millisecond, b(3))
	assert.Equal(t, time.Second, b(10))
}

func TestExponentialJitterStaysBounded(t *testing.T) {
	b := Exponential(100*time.Millisecond, 0, 50*time.Millisecond)
	for i := 0; i < 50; i++ {
		d := b(1)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.Less(t, d, 150*time.Millisecond)
	}
}
