package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
)

const keyPrefix = "lock:"

// releaseScript deletes a lock key only when the caller still owns it, so an
// expired-and-reacquired lock is never released by the previous holder.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker coordinates editors across instances using SET NX with a TTL.
// The TTL bounds how long a crashed holder can block others.
type RedisLocker struct {
	client     *redis.Client
	ttl        time.Duration
	retries    int
	retryDelay time.Duration
	logger     *zap.Logger
}

// NewRedisLocker creates a redis-backed locker.
func NewRedisLocker(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLocker{
		client:     client,
		ttl:        ttl,
		retries:    3,
		retryDelay: 100 * time.Millisecond,
		logger:     logger,
	}
}

// Acquire takes every key in sorted order, retrying briefly on contention.
// Callers receive ErrLockUnavailable when another editor holds a key, which
// maps to a retryable 409.
func (l *RedisLocker) Acquire(ctx context.Context, keys ...string) (func(), error) {
	sorted := dedupeSorted(keys)
	token := uuid.NewString()
	acquired := make([]string, 0, len(sorted))

	releaseAll := func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			l.releaseOne(acquired[i], token)
		}
	}

	for _, key := range sorted {
		if err := l.acquireOne(ctx, key, token); err != nil {
			releaseAll()
			return nil, err
		}
		acquired = append(acquired, key)
	}

	var once sync.Once
	release := func() {
		once.Do(releaseAll)
	}
	return release, nil
}

func (l *RedisLocker) acquireOne(ctx context.Context, key, token string) error {
	for attempt := 0; ; attempt++ {
		ok, err := l.client.SetNX(ctx, keyPrefix+key, token, l.ttl).Result()
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "acquire lock")
		}
		if ok {
			return nil
		}
		if attempt >= l.retries {
			return appErrors.Clone(appErrors.ErrLockUnavailable, "")
		}

		select {
		case <-time.After(l.retryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *RedisLocker) releaseOne(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, l.client, []string{keyPrefix + key}, token).Err(); err != nil && err != redis.Nil {
		l.logger.Warn("failed to release lock", zap.String("key", key), zap.Error(err))
	}
}
