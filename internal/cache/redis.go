package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/emrgen/salesdb/internal/compress"
	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const keyPrefix = "salesdb:cache:"

var _ Cache = (*RedisCache)(nil)

// RedisCache shares cached aggregates between processes. Payloads are stored
// compressed; redis expires keys after the TTL and reads re-check the write
// time against the local clock.
type RedisCache struct {
	client  *redis.Client
	encoder compress.Compress
	ttl     time.Duration
	now     Clock
}

func NewRedisCache(client *redis.Client, encoder compress.Compress, ttl time.Duration, now Clock) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	if encoder == nil {
		encoder = compress.NewNop()
	}

	return &RedisCache{client: client, encoder: encoder, ttl: ttl, now: now}
}

// NewRedisClient connects to addr.
func NewRedisClient(addr, password string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
		Protocol: 2,
	})
}

func (r *RedisCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	res := r.client.Get(ctx, keyPrefix+key)
	if errors.Is(res.Err(), redis.Nil) {
		return false, nil
	}
	if res.Err() != nil {
		return false, res.Err()
	}

	buf, err := res.Bytes()
	if err != nil {
		return false, err
	}
	buf, err = r.encoder.Decode(buf)
	if err != nil {
		return false, err
	}

	var entry Entry
	if err := json.Unmarshal(buf, &entry); err != nil {
		logrus.Warnf("cache: dropping corrupted entry %s: %v", key, err)
		return false, r.Invalidate(ctx, key)
	}
	if !entry.Fresh(r.now(), r.ttl) {
		return false, nil
	}

	return true, json.Unmarshal(entry.Payload, dst)
}

func (r *RedisCache) Set(ctx context.Context, key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}

	data, err := json.Marshal(&Entry{Key: key, Payload: payload, WrittenAt: r.now()})
	if err != nil {
		return err
	}
	data, err = r.encoder.Encode(data)
	if err != nil {
		return err
	}

	return r.client.Set(ctx, keyPrefix+key, data, r.ttl).Err()
}

func (r *RedisCache) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	prefixed := make([]string, len(keys))
	for i, key := range keys {
		prefixed[i] = keyPrefix + key
	}

	return r.client.Del(ctx, prefixed...).Err()
}

func (r *RedisCache) InvalidatePrefix(ctx context.Context, prefix string) error {
	iter := r.client.Scan(ctx, 0, keyPrefix+prefix+"*", 100).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	return r.client.Del(ctx, keys...).Err()
}
