package cache

import (
	"context"
	"time"
)

// DefaultTTL is how long an entry stays valid after it is written.
const DefaultTTL = 5 * time.Minute

// Key namespaces. Aggregates and statistics share one cache, so every key
// carries the prefix of what it holds.
const (
	AggregatePrefix  = "aggregate_"
	StatisticsPrefix = "appliance_stats_"
)

// AggregateKey is the cache key of a sale's aggregate.
func AggregateKey(saleID string) string {
	return AggregatePrefix + saleID
}

// Clock returns the current time. Tests substitute a fake.
type Clock func() time.Time

// Entry is one cached payload and the time it was written.
type Entry struct {
	Key       string    `json:"key"`
	Payload   []byte    `json:"payload"`
	WrittenAt time.Time `json:"writtenAt"`
}

// Fresh reports whether the entry is still valid at now.
func (e *Entry) Fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.WrittenAt) < ttl
}

// Cache is a read-through cache for aggregates and statistics. Entries expire
// by TTL at read time; writes that affect a key invalidate it eagerly.
type Cache interface {
	// Get decodes the entry for key into dst. It reports false on a miss or
	// when the entry has expired.
	Get(ctx context.Context, key string, dst any) (bool, error)
	// Set stores v under key stamped with the current time.
	Set(ctx context.Context, key string, v any) error
	// Invalidate removes the given keys.
	Invalidate(ctx context.Context, keys ...string) error
	// InvalidatePrefix removes every key starting with prefix.
	InvalidatePrefix(ctx context.Context, prefix string) error
}
