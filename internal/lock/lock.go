// Package lock provides the per-newsletter run lock that keeps two campaign
// runs for the same newsletter from overlapping.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bulletin/internal/types"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned by Release when the lock expired or was taken over.
var ErrNotHeld = errors.New("lock not held")

// Locker acquires named, expiring locks.
type Locker interface {
	// Acquire returns a release func, or an AppError with
	// ErrCodeConflictCampaignRunning when the lock is held elsewhere.
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(context.Context) error, err error)
}

// releaseScript deletes the key only if it still carries our token.
var releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// RedisClient is the subset of *redis.Client used by RedisLocker.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// RedisLocker implements Locker with SET NX PX and a token-checked release.
type RedisLocker struct {
	client RedisClient
	prefix string
}

// NewRedisLocker creates a RedisLocker whose keys are namespaced by prefix.
func NewRedisLocker(client RedisClient, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix}
}

func (l *RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error) {
	key := l.prefix + name
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamUnavailable, "failed to acquire run lock", err)
	}
	if !ok {
		return nil, types.NewAppError(types.ErrCodeConflictCampaignRunning,
			fmt.Sprintf("a campaign for %s is already running", name), nil)
	}

	return func(ctx context.Context) error {
		n, err := l.client.Eval(ctx, releaseScript, []string{key}, token).Int()
		if err != nil {
			return fmt.Errorf("release lock %s: %w", key, err)
		}
		if n == 0 {
			return ErrNotHeld
		}
		return nil
	}, nil
}

// NopLocker always succeeds. Used in local mode where a single process runs.
type NopLocker struct{}

func (NopLocker) Acquire(context.Context, string, time.Duration) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}
