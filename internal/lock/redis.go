package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var _ Locker = (*RedisLocker)(nil)

// ErrNotObtained is returned when the lock could not be taken before the
// retry budget ran out.
var ErrNotObtained = errors.New("lock not obtained")

// RedisLocker serializes writers across processes. A lock expires after ttl
// so a crashed holder cannot block a sale forever.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	retry  time.Duration
}

func NewRedisLocker(rdb *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}

	return &RedisLocker{client: redislock.New(rdb), ttl: ttl, retry: 50 * time.Millisecond}
}

func (r *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	// keep retrying for as long as the lock could be held by someone else
	attempts := int(r.ttl/r.retry) + 1
	lock, err := r.client.Obtain(ctx, "salesdb:lock:"+key, r.ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(r.retry), attempts),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", ErrNotObtained, key)
	}
	if err != nil {
		return nil, err
	}

	return func() {
		if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			logrus.Errorf("lock: failed to release %s: %v", key, err)
		}
	}, nil
}
