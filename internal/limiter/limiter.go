// Package limiter caps simultaneous external calls globally and per conversation.
package limiter

import (
	"container/list"
	"context"
	"sync"
)

// Default ceilings.
const (
	DefaultGlobal          = 5
	DefaultPerConversation = 1
)

// ReleaseFunc returns a slot. It is safe to call more than once.
type ReleaseFunc func()

type waiter struct {
	convID string
	ready  chan struct{}
}

// Limiter hands out concurrency slots. Waiters queue in arrival order; a
// release wakes the first waiters whose ceilings can now be met, so order is
// FIFO within a conversation and best-effort across conversations.
type Limiter struct {
	mu       sync.Mutex
	global   int
	perConv  int
	inFlight int
	byConv   map[string]int
	waiters  *list.List
	observer func(inFlight, waiting int)
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithObserver registers a callback invoked with the in-flight and waiting
// counts whenever they change. It runs under the limiter lock and must not block.
func WithObserver(fn func(inFlight, waiting int)) Option {
	return func(l *Limiter) {
		l.observer = fn
	}
}

// New creates a limiter. Non-positive ceilings fall back to the defaults.
func New(global, perConversation int, opts ...Option) *Limiter {
	if global <= 0 {
		global = DefaultGlobal
	}
	if perConversation <= 0 {
		perConversation = DefaultPerConversation
	}
	l := &Limiter{
		global:  global,
		perConv: perConversation,
		byConv:  make(map[string]int),
		waiters: list.New(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire blocks until a slot is available for convID or ctx ends.
func (l *Limiter) Acquire(ctx context.Context, convID string) (ReleaseFunc, error) {
	w := &waiter{convID: convID, ready: make(chan struct{})}

	l.mu.Lock()
	elem := l.waiters.PushBack(w)
	l.wake()
	l.notify()
	l.mu.Unlock()

	select {
	case <-w.ready:
		return l.releaser(convID), nil
	case <-ctx.Done():
		l.mu.Lock()
		defer l.mu.Unlock()
		select {
		case <-w.ready:
			// Granted while we were giving up; hand the slot back.
			l.give(convID)
			l.wake()
		default:
			l.waiters.Remove(elem)
			l.wake()
		}
		l.notify()
		return nil, ctx.Err()
	}
}

// InFlight returns the global number of held slots.
func (l *Limiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inFlight
}

// InFlightFor returns the number of slots held by convID.
func (l *Limiter) InFlightFor(convID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.byConv[convID]
}

// Waiting returns the number of queued callers.
func (l *Limiter) Waiting() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.waiters.Len()
}

func (l *Limiter) releaser(convID string) ReleaseFunc {
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.give(convID)
			l.wake()
			l.notify()
		})
	}
}

func (l *Limiter) admissible(convID string) bool {
	return l.inFlight < l.global && l.byConv[convID] < l.perConv
}

func (l *Limiter) take(convID string) {
	l.inFlight++
	l.byConv[convID]++
}

func (l *Limiter) give(convID string) {
	l.inFlight--
	if n := l.byConv[convID] - 1; n > 0 {
		l.byConv[convID] = n
	} else {
		delete(l.byConv, convID)
	}
}

// wake grants slots to queued waiters in order, skipping those whose
// conversation is still at its ceiling. Caller holds l.mu.
func (l *Limiter) wake() {
	for e := l.waiters.Front(); e != nil && l.inFlight < l.global; {
		next := e.Next()
		w := e.Value.(*waiter)
		if l.admissible(w.convID) {
			l.take(w.convID)
			l.waiters.Remove(e)
			close(w.ready)
		}
		e = next
	}
}

func (l *Limiter) notify() {
	if l.observer != nil {
		l.observer(l.inFlight, l.waiters.Len())
	}
}
