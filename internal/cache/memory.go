package cache

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"
)

var _ Cache = (*MemoryCache)(nil)

// MemoryCache is a process-local cache owned by whoever constructs it.
type MemoryCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     Clock
	entries map[string]*Entry
}

// NewMemoryCache creates a cache with the given TTL. A nil clock uses time.Now.
func NewMemoryCache(ttl time.Duration, now Clock) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}

	return &MemoryCache{ttl: ttl, now: now, entries: make(map[string]*Entry)}
}

func (m *MemoryCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok || !entry.Fresh(m.now(), m.ttl) {
		return false, nil
	}

	if err := json.Unmarshal(entry.Payload, dst); err != nil {
		return false, err
	}

	return true, nil
}

func (m *MemoryCache) Set(ctx context.Context, key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = &Entry{Key: key, Payload: payload, WrittenAt: m.now()}

	return nil
}

func (m *MemoryCache) Invalidate(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		delete(m.entries, key)
	}

	return nil
}

func (m *MemoryCache) InvalidatePrefix(ctx context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key := range m.entries {
		if strings.HasPrefix(key, prefix) {
			delete(m.entries, key)
		}
	}

	return nil
}

// Sweep drops expired entries and returns how many were removed. Reads never
// return expired entries, so sweeping only bounds memory.
func (m *MemoryCache) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for key, entry := range m.entries {
		if !entry.Fresh(now, m.ttl) {
			delete(m.entries, key)
			removed++
		}
	}

	return removed
}

// Len returns the number of stored entries, expired or not.
func (m *MemoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.entries)
}
