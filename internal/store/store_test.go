package store_test

import (
	"context"
	"sync"
	"testing"

	"github.com/emrgen/salesdb/internal/apperr"
	"github.com/emrgen/salesdb/internal/store"
	"github.com/emrgen/salesdb/internal/tester"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]func() store.Store {
	return map[string]func() store.Store{
		"memory": func() store.Store { return store.NewMemoryStore() },
		"gorm": func() store.Store {
			tester.Setup()
			return store.NewGormStore(tester.TestDB())
		},
	}
}

func TestStore_ReadWrite(t *testing.T) {
	ctx := context.Background()

	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open()

			_, ok, err := s.Read(ctx, "sales/s1")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Write(ctx, "sales/s1", map[string]any{
				"agentId": "u1",
				"contact": map[string]any{"name": "Jane"},
				"total":   12,
			}))

			v, ok, err := s.Read(ctx, "sales/s1/contact/name")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "Jane", v)

			v, _, err = s.Read(ctx, "sales/s1/total")
			require.NoError(t, err)
			assert.Equal(t, 12.0, v)

			require.NoError(t, s.Write(ctx, "sales/s1/applianceIds", []string{"a1", "a2"}))
			v, _, err = s.Read(ctx, "sales/s1")
			require.NoError(t, err)
			assert.Equal(t, map[string]any{
				"agentId":      "u1",
				"contact":      map[string]any{"name": "Jane"},
				"total":        12.0,
				"applianceIds": []any{"a1", "a2"},
			}, v)
		})
	}
}

func TestStore_CollectionWriteAndDelete(t *testing.T) {
	ctx := context.Background()

	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open()

			sales := map[string]any{
				"s1": map[string]any{"agentId": "u1"},
				"s2": map[string]any{"agentId": "u2"},
			}
			require.NoError(t, s.Write(ctx, "sales", sales))

			v, ok, err := s.Read(ctx, "sales")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, sales, v)

			require.NoError(t, s.Write(ctx, "sales", map[string]any{"s3": map[string]any{"agentId": "u3"}}))
			v, _, err = s.Read(ctx, "sales")
			require.NoError(t, err)
			assert.Len(t, v, 1)

			require.NoError(t, s.Delete(ctx, "sales"))
			_, ok, err = s.Read(ctx, "sales")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Write(ctx, "schema_version", map[string]any{"currentVersion": 2}))
			v, _, err = s.Read(ctx, "schema_version/currentVersion")
			require.NoError(t, err)
			assert.Equal(t, 2.0, v)
		})
	}
}

func TestStore_UpdateKeepsOtherFields(t *testing.T) {
	ctx := context.Background()

	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open()

			require.NoError(t, s.Write(ctx, "sales", map[string]any{
				"s1": map[string]any{"agentId": "u1", "appliances": []any{map[string]any{"type": "Washer"}}, "boilerCoverage": map[string]any{"hasBoiler": true}},
				"s2": map[string]any{"agentId": "u2", "appliances": []any{}},
			}))

			require.NoError(t, s.Update(ctx, "sales", map[string]any{
				"s1/appliances":     nil,
				"s1/boilerCoverage": nil,
				"s2/appliances":     nil,
				"s2/note":           "checked",
			}))

			v, _, err := s.Read(ctx, "sales")
			require.NoError(t, err)
			assert.Equal(t, map[string]any{
				"s1": map[string]any{"agentId": "u1"},
				"s2": map[string]any{"agentId": "u2", "note": "checked"},
			}, v)
		})
	}
}

func TestStore_ReadReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	require.NoError(t, s.Write(ctx, "sales/s1", map[string]any{"applianceIds": []any{"a1"}}))

	v, _, err := s.Read(ctx, "sales/s1")
	require.NoError(t, err)
	v.(map[string]any)["applianceIds"] = []any{"tampered"}

	got, _, err := s.Read(ctx, "sales/s1/applianceIds")
	require.NoError(t, err)
	assert.Equal(t, []any{"a1"}, got)
}

func TestStore_InvalidPath(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	for _, path := range []string{"", "sales//s1", "sales/a.b", "sales/$x"} {
		_, _, err := s.Read(ctx, path)
		assert.ErrorIs(t, err, apperr.ValidationFailed, path)
	}
}

func TestStore_Subscribe(t *testing.T) {
	ctx := context.Background()

	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open()

			var mu sync.Mutex
			var events []store.Event
			cancel, err := s.Subscribe(ctx, "sales/s1/applianceIds", func(e store.Event) {
				mu.Lock()
				defer mu.Unlock()
				events = append(events, e)
			})
			require.NoError(t, err)

			require.NoError(t, s.Write(ctx, "sales/s1", map[string]any{"applianceIds": []any{"a1"}}))
			require.NoError(t, s.Write(ctx, "sales/s2", map[string]any{"applianceIds": []any{"b1"}}))
			require.NoError(t, s.Delete(ctx, "sales/s1/applianceIds"))
			cancel()
			require.NoError(t, s.Write(ctx, "sales/s1/applianceIds", []any{"a2"}))

			mu.Lock()
			defer mu.Unlock()
			require.Len(t, events, 2)
			assert.Equal(t, store.Event{Path: "sales/s1/applianceIds", Value: []any{"a1"}, Exists: true}, events[0])
			assert.False(t, events[1].Exists)
		})
	}
}
