// Package session serializes turns per conversation. A second turn that
// arrives while one is still running for the same session is rejected.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrTurnInProgress is returned when the session already has a turn running.
var ErrTurnInProgress = errors.New("turn already in progress")

// DefaultLockTTL bounds how long a crashed holder can block a session.
const DefaultLockTTL = 2 * time.Minute

// UnlockFunc releases a distributed lock.
type UnlockFunc func(ctx context.Context) error

// Locker takes a non-blocking lock shared across processes.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}

const unlockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

// RedisLocker implements Locker with SET NX PX and a compare-and-delete release.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLocker creates a Redis-backed locker.
func NewRedisLocker(client redis.UniversalClient, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix}
}

// TryLock acquires key or returns ErrTurnInProgress when another holder has it.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error) {
	lockKey := l.prefix + "turn:" + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis error acquiring lock: %w", err)
	}
	if !ok {
		return nil, ErrTurnInProgress
	}
	return func(ctx context.Context) error {
		return l.client.Eval(ctx, unlockScript, []string{lockKey}, token).Err()
	}, nil
}

// Guard combines an in-process lock with an optional distributed one.
type Guard struct {
	local  sync.Map
	remote Locker
	ttl    time.Duration
	logger *slog.Logger
}

// NewGuard creates a guard. remote may be nil for single-process deployments.
func NewGuard(remote Locker, ttl time.Duration, logger *slog.Logger) *Guard {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{remote: remote, ttl: ttl, logger: logger}
}

// Begin claims sessionID for one turn. The returned release must be called
// exactly once when the turn ends.
func (g *Guard) Begin(ctx context.Context, sessionID string) (func(), error) {
	if sessionID == "" {
		// Brand-new sessions get their id inside the turn; nothing to contend on.
		return func() {}, nil
	}
	if _, loaded := g.local.LoadOrStore(sessionID, struct{}{}); loaded {
		return nil, ErrTurnInProgress
	}

	var unlock UnlockFunc
	if g.remote != nil {
		u, err := g.remote.TryLock(ctx, sessionID, g.ttl)
		switch {
		case errors.Is(err, ErrTurnInProgress):
			g.local.Delete(sessionID)
			return nil, err
		case err != nil:
			g.logger.Warn("distributed turn lock unavailable, continuing with local lock",
				"session_id", sessionID,
				"error", err,
			)
		default:
			unlock = u
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if unlock != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := unlock(ctx); err != nil {
					g.logger.Warn("failed to release distributed turn lock", "session_id", sessionID, "error", err)
				}
			}
			g.local.Delete(sessionID)
		})
	}, nil
}
