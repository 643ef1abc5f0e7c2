package limiter

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestAcquireWithinCeilings(t *testing.T) {
	l := New(2, 1)
	ctx := context.Background()

	r1, err := l.Acquire(ctx, "a")
	require.NoError(t, err)
	r2, err := l.Acquire(ctx, "b")
	require.NoError(t, err)

	assert.Equal(t, 2, l.InFlight())
	assert.Equal(t, 1, l.InFlightFor("a"))

	r1()
	r1() // idempotent
	assert.Equal(t, 1, l.InFlight())
	assert.Equal(t, 0, l.InFlightFor("a"))
	r2()
	assert.Equal(t, 0, l.InFlight())
}

func TestPerConversationCeilingSerializes(t *testing.T) {
	l := New(5, 1)
	ctx := context.Background()

	release, err := l.Acquire(ctx, "conv")
	require.NoError(t, err)

	got := make(chan ReleaseFunc)
	go func() {
		r, err := l.Acquire(ctx, "conv")
		if err == nil {
			got <- r
		}
	}()

	require.Eventually(t, func() bool { return l.Waiting() == 1 }, time.Second, time.Millisecond)
	select {
	case <-got:
		t.Fatal("second acquire for the same conversation should wait")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	r := <-got
	assert.Equal(t, 1, l.InFlightFor("conv"))
	r()
}

func TestOtherConversationNotBlockedByQueuedWaiter(t *testing.T) {
	l := New(5, 1)
	ctx := context.Background()

	release, err := l.Acquire(ctx, "busy")
	require.NoError(t, err)
	defer release()

	waitCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = l.Acquire(waitCtx, "busy")
	}()
	require.Eventually(t, func() bool { return l.Waiting() == 1 }, time.Second, time.Millisecond)

	other, err := l.Acquire(ctx, "idle")
	require.NoError(t, err)
	other()

	cancel()
	<-done
}

func TestAcquireCancelledWhileWaiting(t *testing.T) {
	l := New(1, 1)
	release, err := l.Acquire(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "b")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, l.Waiting())

	release()
	assert.Equal(t, 0, l.InFlight())
}

func TestCeilingsNeverExceededUnderLoad(t *testing.T) {
	const global, perConv = 3, 1
	var maxGlobal, cur atomic.Int32
	perConvPeak := make(map[string]int)
	var mu sync.Mutex
	active := make(map[string]int)

	l := New(global, perConv, WithObserver(func(inFlight, _ int) {
		if int32(inFlight) > maxGlobal.Load() {
			maxGlobal.Store(int32(inFlight))
		}
	}))

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		conv := fmt.Sprintf("conv-%d", i%6)
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), conv)
			if err != nil {
				return
			}
			cur.Add(1)
			mu.Lock()
			active[conv]++
			if active[conv] > perConvPeak[conv] {
				perConvPeak[conv] = active[conv]
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active[conv]--
			mu.Unlock()
			cur.Add(-1)
			release()
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, int(maxGlobal.Load()), global)
	for conv, peak := range perConvPeak {
		assert.LessOrEqual(t, peak, perConv, conv)
	}
	assert.Equal(t, 0, l.InFlight())
	assert.Equal(t, int32(0), cur.Load())
}

func TestNewAppliesDefaults(t *testing.T) {
	l := New(0, -1)
	assert.Equal(t, DefaultGlobal, l.global)
	assert.Equal(t, DefaultPerConversation, l.perConv)
}
