package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func TestMemoryCache_TTL(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	c := NewMemoryCache(300*time.Second, clock.Now)

	require.NoError(t, c.Set(ctx, "sale-1", map[string]any{"v": 1}))

	tests := []struct {
		name    string
		advance time.Duration
		hit     bool
	}{
		{name: "immediately after write", advance: 0, hit: true},
		{name: "299s after write", advance: 299 * time.Second, hit: true},
		{name: "exactly at ttl", advance: time.Second, hit: false},
		{name: "301s after write", advance: time.Second, hit: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock.Advance(tt.advance)
			var got map[string]any
			hit, err := c.Get(ctx, "sale-1", &got)
			require.NoError(t, err)
			assert.Equal(t, tt.hit, hit)
			if tt.hit {
				assert.Equal(t, map[string]any{"v": 1.0}, got)
			}
		})
	}

	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Minute, nil)

	for _, key := range []string{"sale-1", "appliance_stats_", "appliance_stats_type=Fridge"} {
		require.NoError(t, c.Set(ctx, key, key))
	}

	require.NoError(t, c.Invalidate(ctx, "sale-1"))
	require.NoError(t, c.InvalidatePrefix(ctx, "appliance_stats_"))

	var got string
	hit, err := c.Get(ctx, "sale-1", &got)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCache_PayloadIsCopied(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Minute, nil)

	in := map[string]any{"ids": []any{"a1"}}
	require.NoError(t, c.Set(ctx, "k", in))
	in["ids"] = []any{"changed"}

	var got map[string]any
	hit, err := c.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []any{"a1"}, got["ids"])
}
