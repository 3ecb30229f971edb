package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/emrgen/salesdb/internal/apperr"
	"github.com/emrgen/salesdb/internal/cache"
	"github.com/emrgen/salesdb/internal/lock"
	"github.com/emrgen/salesdb/internal/model"
	"github.com/emrgen/salesdb/internal/queue"
	"github.com/emrgen/salesdb/internal/store"
	"github.com/emrgen/salesdb/internal/tester"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelationshipManager_AddChild(t *testing.T) {
	tests := []struct {
		name string
		typ  model.ChildType
		data map[string]any
	}{
		{name: "appliance", typ: model.Appliance, data: map[string]any{"type": "Fridge", "make": "Bosch", "monthlyCost": 4.5}},
		{name: "boiler", typ: model.Boiler, data: map[string]any{"make": "Worcester"}},
		{name: "field value", typ: model.DynamicFieldValue, data: map[string]any{"fieldId": "rooms", "value": 4.0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := store.NewMemoryStore()
			seed(st)
			seedFieldDefinitions(t, st)
			rm, audit := newTestManager(t, st)
			ctx := tester.AsAgent(context.Background())

			id, err := rm.AddChild(ctx, testSale, tt.typ, tt.data)
			require.NoError(t, err)
			assert.NotEmpty(t, id)

			// both directions of the relationship hold
			assert.Equal(t, []string{id}, readIDs(t, st, testSale, tt.typ))
			v, ok, err := st.Read(ctx, model.ChildPath(tt.typ, id))
			require.NoError(t, err)
			require.True(t, ok)
			child, err := model.ChildFromValue(tt.typ, id, v)
			require.NoError(t, err)
			assert.Equal(t, testSale, child.SaleID())
			assert.Equal(t, "active", child.Status())
			assert.Equal(t, int64(1), child.Version())
			assert.Equal(t, id, model.AsString(child.Fields[tt.typ.IDField()]))

			agg, err := rm.GetAggregate(ctx, testSale, false)
			require.NoError(t, err)
			require.Len(t, agg.Children[tt.typ], 1)
			assert.Equal(t, id, agg.Children[tt.typ][0].ID)

			assert.Equal(t, []string{tt.typ.Operation("added")}, audit.Operations())
		})
	}
}

func TestRelationshipManager_AddChildDefaults(t *testing.T) {
	st := store.NewMemoryStore()
	seed(st)
	rm, _ := newTestManager(t, st)
	ctx := tester.AsAgent(context.Background())

	id, err := rm.AddChild(ctx, testSale, model.Boiler, map[string]any{})
	require.NoError(t, err)

	v, _, err := st.Read(ctx, model.ChildPath(model.Boiler, id))
	require.NoError(t, err)
	fields := model.AsMap(v)
	assert.Equal(t, "Combi Boiler", fields["type"])
	assert.Equal(t, "Gas", fields["fuelType"])
	assert.Equal(t, "Unknown", fields["age"])
}

func TestRelationshipManager_AddChildRejected(t *testing.T) {
	st := store.NewMemoryStore()
	seed(st)
	seedFieldDefinitions(t, st)
	rm, _ := newTestManager(t, st)

	tests := []struct {
		name   string
		ctx    context.Context
		saleID string
		typ    model.ChildType
		data   map[string]any
		kind   apperr.Kind
	}{
		{name: "no principal", ctx: context.Background(), saleID: testSale, typ: model.Appliance, kind: apperr.AccessDenied},
		{name: "not owner", ctx: tester.AsOther(context.Background()), saleID: testSale, typ: model.Appliance, kind: apperr.AccessDenied},
		{name: "missing sale", ctx: tester.AsAdmin(context.Background()), saleID: "nope", typ: model.Appliance, kind: apperr.NotFound},
		{name: "invalid sale id", ctx: tester.AsAdmin(context.Background()), saleID: "a/b", typ: model.Appliance, kind: apperr.ValidationFailed},
		{name: "unknown type", ctx: tester.AsAgent(context.Background()), saleID: testSale, typ: "gadget", kind: apperr.ValidationFailed},
		{name: "field without id", ctx: tester.AsAgent(context.Background()), saleID: testSale, typ: model.DynamicFieldValue, data: map[string]any{"value": 3.0}, kind: apperr.ValidationFailed},
		{name: "unknown field", ctx: tester.AsAgent(context.Background()), saleID: testSale, typ: model.DynamicFieldValue, data: map[string]any{"fieldId": "floors", "value": 3.0}, kind: apperr.NotFound},
		{name: "value out of range", ctx: tester.AsAgent(context.Background()), saleID: testSale, typ: model.DynamicFieldValue, data: map[string]any{"fieldId": "rooms", "value": 40.0}, kind: apperr.ValidationFailed},
		{name: "option not allowed", ctx: tester.AsAgent(context.Background()), saleID: testSale, typ: model.DynamicFieldValue, data: map[string]any{"fieldId": "heating", "value": "coal"}, kind: apperr.ValidationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := rm.AddChild(tt.ctx, tt.saleID, tt.typ, tt.data)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
		})
	}

	assert.Empty(t, readIDs(t, st, testSale, model.Appliance))
	assert.Empty(t, readIDs(t, st, testSale, model.DynamicFieldValue))
}

func TestRelationshipManager_RoleLookup(t *testing.T) {
	st := store.NewMemoryStore()
	seed(st)
	require.NoError(t, st.Write(context.Background(), model.UserRolePath("boss"), model.RoleAdmin))
	rm, _ := newTestManager(t, st)

	ctx := model.WithPrincipal(context.Background(), model.Principal{ID: "boss"})
	_, err := rm.AddChild(ctx, testSale, model.Appliance, map[string]any{"type": "Oven"})
	assert.NoError(t, err)

	ctx = model.WithPrincipal(context.Background(), model.Principal{ID: "nobody"})
	_, err = rm.AddChild(ctx, testSale, model.Appliance, map[string]any{"type": "Oven"})
	assert.ErrorIs(t, err, apperr.AccessDenied)
}

func TestRelationshipManager_AddChildCompensates(t *testing.T) {
	st := tester.NewFaultyStore(store.NewMemoryStore())
	seed(st)
	rm, audit := newTestManager(t, st)
	ctx := tester.AsAgent(context.Background())

	st.FailOn("write", model.RelationshipPath(testSale, model.Appliance), 1)

	_, err := rm.AddChild(ctx, testSale, model.Appliance, map[string]any{"type": "Fridge"})
	require.Error(t, err)
	assert.ErrorIs(t, err, tester.ErrInjected)

	// the child written before the failing array append was removed again
	v, _, err := st.Read(ctx, model.AppliancesCollection)
	require.NoError(t, err)
	assert.Empty(t, model.AsMap(v))
	assert.Empty(t, audit.Operations())
}

func TestRelationshipManager_AddChildCompensationFails(t *testing.T) {
	st := tester.NewFaultyStore(store.NewMemoryStore())
	seed(st)
	rm, _ := newTestManager(t, st)
	ctx := tester.AsAgent(context.Background())

	st.FailOn("write", model.RelationshipPath(testSale, model.Appliance), 1)
	st.FailOn("delete", model.AppliancesCollection+"/", 1)

	_, err := rm.AddChild(ctx, testSale, model.Appliance, map[string]any{"type": "Fridge"})
	require.Error(t, err)
	assert.Equal(t, apperr.PartialFailure, apperr.KindOf(err))
	assert.ErrorIs(t, err, tester.ErrInjected)
}

func TestRelationshipManager_RemoveChild(t *testing.T) {
	st := tester.NewFaultyStore(store.NewMemoryStore())
	seed(st)
	rm, audit := newTestManager(t, st)
	ctx := tester.AsAgent(context.Background())

	first, err := rm.AddChild(ctx, testSale, model.Appliance, map[string]any{"type": "Fridge"})
	require.NoError(t, err)
	second, err := rm.AddChild(ctx, testSale, model.Appliance, map[string]any{"type": "Oven"})
	require.NoError(t, err)

	t.Run("other agent", func(t *testing.T) {
		err := rm.RemoveChild(tester.AsOther(context.Background()), first)
		assert.ErrorIs(t, err, apperr.AccessDenied)
	})

	t.Run("delete fails and array is restored", func(t *testing.T) {
		st.FailOn("delete", model.ChildPath(model.Appliance, first), 1)

		err := rm.RemoveChild(ctx, first)
		require.ErrorIs(t, err, tester.ErrInjected)
		assert.Equal(t, []string{first, second}, readIDs(t, st, testSale, model.Appliance))
		assert.True(t, exists(t, st, model.ChildPath(model.Appliance, first)))
	})

	t.Run("removed", func(t *testing.T) {
		require.NoError(t, rm.RemoveChild(ctx, first))
		assert.Equal(t, []string{second}, readIDs(t, st, testSale, model.Appliance))
		assert.False(t, exists(t, st, model.ChildPath(model.Appliance, first)))
		assert.Contains(t, audit.Operations(), "appliance_removed")
	})

	t.Run("unknown child", func(t *testing.T) {
		err := rm.RemoveChild(ctx, first)
		assert.ErrorIs(t, err, apperr.NotFound)
	})
}

func TestRelationshipManager_RemoveOrphan(t *testing.T) {
	st := store.NewMemoryStore()
	rm, _ := newTestManager(t, st)
	ctx := context.Background()

	orphan := model.NewAppliance("orphan", "gone", map[string]any{"type": "Fridge"}, time.Now())
	require.NoError(t, st.Write(ctx, model.ChildPath(model.Appliance, orphan.ID), orphan.Fields))

	err := rm.RemoveChild(tester.AsAgent(ctx), orphan.ID)
	assert.ErrorIs(t, err, apperr.NotFound)

	require.NoError(t, rm.RemoveChild(tester.AsAdmin(ctx), orphan.ID))
	assert.False(t, exists(t, st, model.ChildPath(model.Appliance, orphan.ID)))
}

// interleavedLocker runs before once, just ahead of the next lock it hands
// out, to model a writer that wins the race for the sale lock.
type interleavedLocker struct {
	lock.Locker
	armed  atomic.Bool
	before func()
}

func (l *interleavedLocker) Lock(ctx context.Context, key string) (func(), error) {
	if l.armed.CompareAndSwap(true, false) {
		l.before()
	}

	return l.Locker.Lock(ctx, key)
}

func TestRelationshipManager_SaleDeletedBeforeLock(t *testing.T) {
	tests := []struct {
		name  string
		write func(rm *RelationshipManager, ctx context.Context, childID string) error
	}{
		{name: "add", write: func(rm *RelationshipManager, ctx context.Context, _ string) error {
			_, err := rm.AddChild(ctx, testSale, model.Appliance, map[string]any{"type": "Oven"})
			return err
		}},
		{name: "update", write: func(rm *RelationshipManager, ctx context.Context, childID string) error {
			_, err := rm.UpdateChild(ctx, childID, map[string]any{"make": "Miele"})
			return err
		}},
		{name: "remove", write: func(rm *RelationshipManager, ctx context.Context, childID string) error {
			return rm.RemoveChild(ctx, childID)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := store.NewMemoryStore()
			seed(st)
			locker := &interleavedLocker{Locker: lock.NewKeyedMutex()}
			rm := NewRelationshipManager(st, nil, locker, WithAudit(queue.NewMemoryPublisher()))
			ctx := tester.AsAgent(context.Background())

			childID, err := rm.AddChild(ctx, testSale, model.Appliance, map[string]any{"type": "Fridge"})
			require.NoError(t, err)

			locker.before = func() {
				_, err := rm.CascadeDelete(tester.AsAdmin(context.Background()), testSale)
				require.NoError(t, err)
			}
			locker.armed.Store(true)

			err = tt.write(rm, ctx, childID)
			assert.ErrorIs(t, err, apperr.NotFound)

			// nothing recreated the sale or left a child behind
			assert.False(t, exists(t, st, model.SalePath(testSale)))
			v, _, err := st.Read(context.Background(), model.AppliancesCollection)
			require.NoError(t, err)
			assert.Empty(t, model.AsMap(v))
		})
	}
}

func TestRelationshipManager_UpdateFieldValueBinding(t *testing.T) {
	st := store.NewMemoryStore()
	seed(st)
	seedFieldDefinitions(t, st)
	rm, _ := newTestManager(t, st)
	ctx := tester.AsAgent(context.Background())

	id, err := rm.AddChild(ctx, testSale, model.DynamicFieldValue, map[string]any{"fieldId": "rooms", "value": 3.0})
	require.NoError(t, err)

	_, err = rm.UpdateChild(ctx, id, map[string]any{
		"fieldId": "heating", "fieldType": "select", "fieldName": "Heating", "required": false, "isValid": false,
	})
	assert.ErrorIs(t, err, ErrEmptyPatch)

	// the value is still checked against the definition it was created for
	_, err = rm.UpdateChild(ctx, id, map[string]any{"fieldId": "heating", "value": "gas"})
	assert.ErrorIs(t, err, apperr.ValidationFailed)

	child, err := rm.UpdateChild(ctx, id, map[string]any{"fieldId": "heating", "value": 7.0})
	require.NoError(t, err)
	assert.Equal(t, "rooms", child.Fields["fieldId"])
	assert.Equal(t, "number", child.Fields["fieldType"])
	assert.Equal(t, true, child.Fields["isValid"])
	assert.Equal(t, 7.0, child.Fields["value"])
}

func TestRelationshipManager_UpdateChild(t *testing.T) {
	st := store.NewMemoryStore()
	seed(st)
	seedFieldDefinitions(t, st)
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	rm, audit := newTestManager(t, st, WithClock(func() time.Time { return now }))
	ctx := tester.AsAgent(context.Background())

	id, err := rm.AddChild(ctx, testSale, model.Appliance, map[string]any{"type": "Fridge"})
	require.NoError(t, err)

	now = now.Add(time.Hour)
	child, err := rm.UpdateChild(ctx, id, map[string]any{
		"make":            "Miele",
		model.FieldSaleID: "sale-2",
		"applianceId":     "other",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), child.Version())
	assert.Equal(t, "Miele", child.Fields["make"])
	assert.Equal(t, testSale, child.SaleID())
	assert.Equal(t, model.Timestamp(now), child.Fields[model.FieldUpdatedAt])

	v, _, err := st.Read(ctx, model.ChildPath(model.Appliance, id))
	require.NoError(t, err)
	stored, err := model.ChildFromValue(model.Appliance, id, v)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version())
	assert.Equal(t, "Fridge", stored.Fields["type"])
	assert.Equal(t, id, stored.Fields["applianceId"])
	assert.Contains(t, audit.Operations(), "appliance_updated")

	_, err = rm.UpdateChild(ctx, id, map[string]any{model.FieldVersion: 10})
	assert.ErrorIs(t, err, apperr.ValidationFailed)

	fieldID, err := rm.AddChild(ctx, testSale, model.DynamicFieldValue, map[string]any{"fieldId": "rooms", "value": 3.0})
	require.NoError(t, err)
	_, err = rm.UpdateChild(ctx, fieldID, map[string]any{"value": 0.0})
	assert.ErrorIs(t, err, apperr.ValidationFailed)
	_, err = rm.UpdateChild(ctx, fieldID, map[string]any{"value": 5.0})
	assert.NoError(t, err)
}

func TestRelationshipManager_GetAggregateCache(t *testing.T) {
	st := store.NewMemoryStore()
	seed(st)
	rm, _ := newTestManager(t, st)
	ctx := tester.AsAgent(context.Background())

	id, err := rm.AddChild(ctx, testSale, model.Appliance, map[string]any{"type": "Fridge"})
	require.NoError(t, err)

	agg, err := rm.GetAggregate(ctx, testSale, true)
	require.NoError(t, err)
	require.Len(t, agg.Children[model.Appliance], 1)

	// a write behind the manager's back is not visible through the cache
	require.NoError(t, st.Write(ctx, model.Join(model.ChildPath(model.Appliance, id), "make"), "Miele"))
	cached, err := rm.GetAggregate(ctx, testSale, true)
	require.NoError(t, err)
	assert.Nil(t, cached.Children[model.Appliance][0].Fields["make"])

	fresh, err := rm.GetAggregate(ctx, testSale, false)
	require.NoError(t, err)
	assert.Equal(t, "Miele", fresh.Children[model.Appliance][0].Fields["make"])

	// writes through the manager invalidate
	_, err = rm.AddChild(ctx, testSale, model.Boiler, nil)
	require.NoError(t, err)
	agg, err = rm.GetAggregate(ctx, testSale, true)
	require.NoError(t, err)
	assert.Len(t, agg.Children[model.Boiler], 1)

	// cached hits are still access checked
	_, err = rm.GetAggregate(tester.AsOther(context.Background()), testSale, true)
	assert.ErrorIs(t, err, apperr.AccessDenied)
}

func TestRelationshipManager_GetAggregateDangling(t *testing.T) {
	st := store.NewMemoryStore()
	tester.SeedSale(context.Background(), st, testSale, tester.Agent.ID, map[string]any{
		"applianceIds": []any{"missing"},
	})
	rm, _ := newTestManager(t, st)

	agg, err := rm.GetAggregate(tester.AsAgent(context.Background()), testSale, false)
	require.NoError(t, err)
	assert.Empty(t, agg.Children[model.Appliance])
}

func TestRelationshipManager_GetAggregatePartial(t *testing.T) {
	st := tester.NewFaultyStore(store.NewMemoryStore())
	seed(st)
	rm, _ := newTestManager(t, st)
	ctx := tester.AsAgent(context.Background())

	_, err := rm.AddChild(ctx, testSale, model.Appliance, nil)
	require.NoError(t, err)
	_, err = rm.AddChild(ctx, testSale, model.Boiler, nil)
	require.NoError(t, err)

	st.FailOn("read", model.BoilersCollection+"/", -1)
	_, err = rm.GetAggregate(ctx, testSale, true)
	require.Error(t, err)
	assert.Equal(t, apperr.PartialFailure, apperr.KindOf(err))
	assert.ErrorIs(t, err, tester.ErrInjected)

	// the partial result was not cached
	st.Heal()
	agg, err := rm.GetAggregate(ctx, testSale, true)
	require.NoError(t, err)
	assert.Len(t, agg.All(), 2)
}

// Two concurrent adds each read the relationship array before either writes.
// Without a lock one append is lost; with the keyed mutex both survive.
func TestRelationshipManager_ConcurrentAdds(t *testing.T) {
	tests := []struct {
		name   string
		locker lock.Locker
		want   int
	}{
		{name: "unlocked loses an append", locker: lock.NewNop(), want: 1},
		{name: "keyed mutex keeps both", locker: lock.NewKeyedMutex(), want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := store.NewMemoryStore()
			seed(mem)
			st := tester.NewBarrierStore(mem, model.RelationshipPath(testSale, model.Appliance), 2, 200*time.Millisecond)
			rm := NewRelationshipManager(st, nil, tt.locker, WithAudit(queue.NewMemoryPublisher()))
			ctx := tester.AsAgent(context.Background())

			var wg sync.WaitGroup
			for range 2 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := rm.AddChild(ctx, testSale, model.Appliance, map[string]any{"type": "Fridge"})
					assert.NoError(t, err)
				}()
			}
			wg.Wait()

			assert.Len(t, readIDs(t, mem, testSale, model.Appliance), tt.want)
		})
	}
}

func TestRelationshipManager_CascadeDelete(t *testing.T) {
	st := tester.NewFaultyStore(store.NewMemoryStore())
	seed(st)
	seedFieldDefinitions(t, st)
	tester.SeedSale(context.Background(), st, "sale-2", tester.Agent.ID, nil)
	rm, audit := newTestManager(t, st)
	ctx := tester.AsAgent(context.Background())

	for _, ct := range []model.ChildType{model.Appliance, model.Appliance, model.Boiler} {
		_, err := rm.AddChild(ctx, testSale, ct, nil)
		require.NoError(t, err)
	}
	_, err := rm.AddChild(ctx, testSale, model.DynamicFieldValue, map[string]any{"fieldId": "rooms", "value": 2.0})
	require.NoError(t, err)
	keep, err := rm.AddChild(ctx, "sale-2", model.Appliance, nil)
	require.NoError(t, err)

	// an orphan the sale does not list but which points at it
	orphan := model.NewAppliance("orphan", testSale, nil, time.Now())
	require.NoError(t, st.Write(ctx, model.ChildPath(model.Appliance, orphan.ID), orphan.Fields))

	_, err = rm.CascadeDelete(tester.AsOther(context.Background()), testSale)
	assert.ErrorIs(t, err, apperr.AccessDenied)

	t.Run("failed delete restores children", func(t *testing.T) {
		st.FailOn("delete", model.BoilersCollection+"/", 1)

		_, err := rm.CascadeDelete(ctx, testSale)
		require.Error(t, err)
		assert.Equal(t, apperr.PartialFailure, apperr.KindOf(err))

		assert.True(t, exists(t, st, model.SalePath(testSale)))
		v, _, err := st.Read(ctx, model.AppliancesCollection)
		require.NoError(t, err)
		assert.Len(t, model.AsMap(v), 4)
	})

	t.Run("deletes everything pointing at the sale", func(t *testing.T) {
		res, err := rm.CascadeDelete(ctx, testSale)
		require.NoError(t, err)
		assert.Equal(t, 3, res.Deleted[model.Appliance])
		assert.Equal(t, 1, res.Deleted[model.Boiler])
		assert.Equal(t, 1, res.Deleted[model.DynamicFieldValue])

		assert.False(t, exists(t, st, model.SalePath(testSale)))
		for _, ct := range model.ChildTypes() {
			v, _, err := st.Read(ctx, ct.Collection())
			require.NoError(t, err)
			for id, raw := range model.AsMap(v) {
				assert.NotEqual(t, testSale, model.AsString(model.AsMap(raw)[model.FieldSaleID]), id)
			}
		}
		assert.True(t, exists(t, st, model.ChildPath(model.Appliance, keep)))
		assert.Contains(t, audit.Operations(), "sale_cascade_deleted")
	})
}

func TestRelationshipManager_ApplianceStatistics(t *testing.T) {
	st := store.NewMemoryStore()
	seed(st)
	rm, _ := newTestManager(t, st)
	ctx := tester.AsAgent(context.Background())
	admin := tester.AsAdmin(context.Background())

	for _, data := range []map[string]any{
		{"type": "Fridge", "make": "Bosch", "monthlyCost": 9.99},
		{"type": "Fridge", "make": "Miele", "monthlyCost": 14.5},
		{"type": "Oven", "make": "Bosch"},
	} {
		_, err := rm.AddChild(ctx, testSale, model.Appliance, data)
		require.NoError(t, err)
	}

	_, err := rm.ApplianceStatistics(ctx, nil)
	assert.ErrorIs(t, err, apperr.AccessDenied)

	stats, err := rm.ApplianceStatistics(admin, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalCount)
	assert.Equal(t, "24.49", stats.TotalValue.StringFixed(2))
	assert.Equal(t, "8.16", stats.AverageCost.StringFixed(2))
	assert.Equal(t, map[string]int{"Fridge": 2, "Oven": 1}, stats.ByType)
	assert.Equal(t, map[string]int{"Bosch": 2, "Miele": 1}, stats.ByMake)
	assert.Equal(t, map[string]int{"Unknown": 3}, stats.ByAge)

	filtered, err := rm.ApplianceStatistics(admin, map[string]string{"make": "Bosch"})
	require.NoError(t, err)
	assert.Equal(t, 2, filtered.TotalCount)

	// an appliance write drops every cached statistics entry
	_, err = rm.AddChild(ctx, testSale, model.Appliance, map[string]any{"type": "Kettle", "make": "Bosch"})
	require.NoError(t, err)
	filtered, err = rm.ApplianceStatistics(admin, map[string]string{"make": "Bosch"})
	require.NoError(t, err)
	assert.Equal(t, 3, filtered.TotalCount)
}

func TestStatisticsKey(t *testing.T) {
	a := statisticsKey(map[string]string{"make": "Bosch", "type": "Fridge"})
	b := statisticsKey(map[string]string{"type": "Fridge", "make": "Bosch"})
	assert.Equal(t, a, b)
	assert.Equal(t, "appliance_stats_make=Bosch&type=Fridge", a)
	assert.Equal(t, "appliance_stats_", statisticsKey(nil))

	// separators inside values are escaped
	joined := statisticsKey(map[string]string{"make": "Bosch&type=Fridge"})
	assert.NotEqual(t, a, joined)
	assert.Equal(t, "appliance_stats_make=Bosch%26type%3DFridge", joined)
}

func TestRelationshipManager_CacheNamespaces(t *testing.T) {
	st := store.NewMemoryStore()
	// a sale whose id looks like a statistics key
	tester.SeedSale(context.Background(), st, "appliance_stats_", tester.Agent.ID, nil)
	c := cache.NewMemoryCache(cache.DefaultTTL, time.Now)
	rm := NewRelationshipManager(st, c, lock.NewKeyedMutex(), WithAudit(queue.NewMemoryPublisher()))

	_, err := rm.AddChild(tester.AsAgent(context.Background()), "appliance_stats_", model.Appliance, map[string]any{"type": "Fridge"})
	require.NoError(t, err)

	agg, err := rm.GetAggregate(tester.AsAgent(context.Background()), "appliance_stats_", true)
	require.NoError(t, err)
	require.Len(t, agg.Children[model.Appliance], 1)

	stats, err := rm.ApplianceStatistics(tester.AsAdmin(context.Background()), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalCount)

	// both entries live side by side
	assert.Equal(t, 2, c.Len())
	var cachedAgg model.Aggregate
	hit, err := c.Get(context.Background(), cache.AggregateKey("appliance_stats_"), &cachedAgg)
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestRelationshipManager_UnwrapsToKind(t *testing.T) {
	st := store.NewMemoryStore()
	rm, _ := newTestManager(t, st)

	_, err := rm.GetAggregate(tester.AsAdmin(context.Background()), "missing", false)
	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "getAggregate", appErr.Op)
}
