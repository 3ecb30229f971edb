package migration

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/emrgen/salesdb/internal/apperr"
	"github.com/emrgen/salesdb/internal/cache"
	"github.com/emrgen/salesdb/internal/model"
	"github.com/emrgen/salesdb/internal/service"
	"github.com/emrgen/salesdb/internal/store"
	"github.com/emrgen/salesdb/internal/tester"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends() map[string]func() store.Store {
	return map[string]func() store.Store{
		"memory": func() store.Store { return store.NewMemoryStore() },
		"gorm": func() store.Store {
			tester.Setup()
			return store.NewGormStore(tester.TestDB())
		},
	}
}

// snapshot reads every backed-up collection for later comparison.
func snapshot(t *testing.T, st store.Store) map[string]any {
	t.Helper()

	out := make(map[string]any)
	for _, c := range BackedUpCollections {
		v, ok, err := st.Read(context.Background(), c)
		require.NoError(t, err)
		if ok {
			out[c] = v
		}
	}

	return out
}

func countChildren(t *testing.T, st store.Store, ct model.ChildType, saleID string) int {
	t.Helper()

	v, _, err := st.Read(context.Background(), ct.Collection())
	require.NoError(t, err)

	n := 0
	for _, raw := range model.AsMap(v) {
		if saleID == "" || model.AsString(model.AsMap(raw)[model.FieldSaleID]) == saleID {
			n++
		}
	}

	return n
}

func TestManager_RunAndRollback(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			st := open()
			ctx := tester.AsAdmin(context.Background())
			tester.SeedLegacy(ctx, st, 6)
			before := snapshot(t, st)

			m := NewManager(st)
			res, err := m.Run(ctx)
			require.NoError(t, err)
			assert.True(t, res.Success)
			assert.Equal(t, StateDone, res.State)
			assert.Equal(t, []State{
				StateValidating, StateBackingUp, StateMigrating, StateCleaningUp,
				StatePostValidating, StateVersioning, StateDone,
			}, res.Transitions)

			assert.Equal(t, 6, res.Analysis.TotalSales)
			assert.Equal(t, 8, res.Appliances.Successful)
			assert.Equal(t, 2, res.Appliances.Skipped)
			assert.Equal(t, 2, res.Boilers.Successful)
			assert.Equal(t, 4, res.Boilers.Skipped)
			assert.NotEmpty(t, res.DynamicFields.Note)
			assert.Equal(t, 4, res.Cleanup.EmbeddedArraysRemoved)
			assert.Equal(t, 4, res.Cleanup.EmbeddedObjectsRemoved)
			assert.Zero(t, res.Cleanup.OrphanedRecordsFound)
			assert.Equal(t, 8, res.Validation.Counts[model.AppliancesCollection])
			assert.Equal(t, 6, res.Validation.Sampled)

			assert.Equal(t, 8, countChildren(t, st, model.Appliance, ""))
			assert.Equal(t, 2, countChildren(t, st, model.Boiler, ""))

			v, _, err := st.Read(ctx, model.SalePath("sale-000"))
			require.NoError(t, err)
			sale, err := model.SaleFromValue("sale-000", v)
			require.NoError(t, err)
			assert.False(t, sale.HasLegacyFields())
			assert.Len(t, sale.ChildIDs(model.Appliance), 2)
			assert.Len(t, sale.ChildIDs(model.Boiler), 1)
			for _, id := range sale.ChildIDs(model.Appliance) {
				cv, ok, err := st.Read(ctx, model.ChildPath(model.Appliance, id))
				require.NoError(t, err)
				require.True(t, ok)
				child := model.AsMap(cv)
				assert.Equal(t, "sale-000", child[model.FieldSaleID])
				assert.Equal(t, model.FromEmbeddedArray, child[model.FieldMigratedFrom])
				assert.Equal(t, "active", child[model.FieldStatus])
			}

			v, ok, err := st.Read(ctx, model.SchemaVersionPath)
			require.NoError(t, err)
			require.True(t, ok)
			var version model.SchemaVersion
			require.NoError(t, model.Decode(v, &version))
			assert.Equal(t, model.NormalizedSchemaVersion, version.CurrentVersion)
			assert.Equal(t, model.LegacySchemaVersion, version.PreviousVersion)

			checkpoints, err := m.Checkpoints(ctx, res.MigrationID)
			require.NoError(t, err)
			assert.Len(t, checkpoints, 6)

			require.NoError(t, m.Rollback(ctx, res.MigrationID))
			assert.Equal(t, before, snapshot(t, st))
		})
	}
}

func TestManager_InvalidatesCache(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := tester.AsAdmin(context.Background())
	tester.SeedLegacy(ctx, st, 2)

	c := cache.NewMemoryCache(cache.DefaultTTL, time.Now)
	rm := service.NewRelationshipManager(st, c, nil)
	m := NewManager(st, WithCache(c))

	appliances := func() int {
		t.Helper()
		agg, err := rm.GetAggregate(ctx, "sale-000", true)
		require.NoError(t, err)
		return len(agg.Children[model.Appliance])
	}
	total := func() int {
		t.Helper()
		stats, err := rm.ApplianceStatistics(ctx, nil)
		require.NoError(t, err)
		return stats.TotalCount
	}

	assert.Zero(t, appliances())
	assert.Zero(t, total())

	res, err := m.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, appliances())
	assert.Equal(t, countChildren(t, st, model.Appliance, ""), total())

	require.NoError(t, m.Rollback(ctx, res.MigrationID))
	assert.Zero(t, c.Len())
	assert.Zero(t, appliances())
	assert.Zero(t, total())
}

func TestManager_MigrationID(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	m := NewManager(store.NewMemoryStore(), WithClock(func() time.Time { return now }))

	id := m.newMigrationID()
	assert.Regexp(t, `^migration_1700000000123_[0-9a-f]{9}$`, id)
	assert.True(t, model.ValidKey(id))
}

func TestManager_RunRejected(t *testing.T) {
	t.Run("no sales", func(t *testing.T) {
		st := store.NewMemoryStore()
		m := NewManager(st)

		res, err := m.Run(tester.AsAdmin(context.Background()))
		require.Error(t, err)
		assert.Equal(t, apperr.ValidationFailed, apperr.KindOf(err))
		assert.Equal(t, StateFailed, res.State)
		assert.False(t, res.RolledBack)

		backups, err := m.ListBackups(context.Background())
		require.NoError(t, err)
		assert.Empty(t, backups)
	})

	t.Run("not admin", func(t *testing.T) {
		st := store.NewMemoryStore()
		tester.SeedLegacy(context.Background(), st, 3)
		before := snapshot(t, st)

		_, err := NewManager(st).Run(tester.AsAgent(context.Background()))
		assert.ErrorIs(t, err, apperr.AccessDenied)
		assert.Equal(t, before, snapshot(t, st))
	})

	t.Run("store unreachable", func(t *testing.T) {
		st := tester.NewFaultyStore(store.NewMemoryStore())
		tester.SeedLegacy(context.Background(), st, 3)
		st.FailOn("write", model.MigrationCanaryPath, 1)

		_, err := NewManager(st).Run(tester.AsAdmin(context.Background()))
		assert.ErrorIs(t, err, apperr.ConnectivityFailure)
		assert.ErrorIs(t, err, tester.ErrInjected)
	})

	t.Run("backup write fails", func(t *testing.T) {
		st := tester.NewFaultyStore(store.NewMemoryStore())
		ctx := tester.AsAdmin(context.Background())
		tester.SeedLegacy(ctx, st, 3)
		before := snapshot(t, st)
		st.FailOn("write", model.MigrationBackupsCollection, 1)

		res, err := NewManager(st).Run(ctx)
		require.ErrorIs(t, err, tester.ErrInjected)
		assert.False(t, res.RolledBack)
		assert.NotContains(t, res.Transitions, StateMigrating)
		assert.Equal(t, before, snapshot(t, st))
	})
}

func TestManager_FailureRollsBack(t *testing.T) {
	st := tester.NewFaultyStore(store.NewMemoryStore())
	ctx := tester.AsAdmin(context.Background())
	tester.SeedLegacy(ctx, st, 6)
	before := snapshot(t, st)

	st.FailOn("update", model.SalesCollection+"/", 1)

	res, err := NewManager(st).Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, tester.ErrInjected)
	assert.True(t, res.RolledBack)
	assert.Equal(t, StateFailed, res.State)
	assert.Contains(t, res.Transitions, StateRollingBack)
	assert.Equal(t, before, snapshot(t, st))
}

func TestManager_PostValidationMismatch(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := tester.AsAdmin(context.Background())
	tester.SeedLegacy(ctx, st, 3)
	tester.SeedSale(ctx, st, "a-broken", tester.Agent.ID, map[string]any{"applianceIds": []any{"ghost"}})
	before := snapshot(t, st)

	res, err := NewManager(st).Run(ctx)
	require.Error(t, err)
	assert.Equal(t, apperr.IntegrityViolation, apperr.KindOf(err))
	assert.True(t, res.RolledBack)
	assert.NotEmpty(t, res.Validation.Mismatches)
	assert.Equal(t, before, snapshot(t, st))
}

func TestManager_FailurePolicy(t *testing.T) {
	failing := model.RelationshipPath("sale-001", model.Appliance)

	t.Run("continue", func(t *testing.T) {
		st := tester.NewFaultyStore(store.NewMemoryStore())
		ctx := tester.AsAdmin(context.Background())
		tester.SeedLegacy(ctx, st, 6)
		st.FailOn("write", failing, 1)

		res, err := NewManager(st, WithPolicy(PolicyContinue)).Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Appliances.Failed)
		require.Len(t, res.Appliances.Errors, 1)
		assert.Equal(t, "sale-001", res.Appliances.Errors[0].SaleID)
		assert.Equal(t, 6, res.Appliances.Successful)
		assert.Equal(t, 1, res.Cleanup.Retained)

		// the failed sale keeps its legacy data and has no half-migrated children
		assert.Zero(t, countChildren(t, st, model.Appliance, "sale-001"))
		v, _, err := st.Read(ctx, model.SalePath("sale-001"))
		require.NoError(t, err)
		sale, err := model.SaleFromValue("sale-001", v)
		require.NoError(t, err)
		assert.True(t, sale.HasLegacyFields())
	})

	t.Run("abort", func(t *testing.T) {
		st := tester.NewFaultyStore(store.NewMemoryStore())
		ctx := tester.AsAdmin(context.Background())
		tester.SeedLegacy(ctx, st, 6)
		before := snapshot(t, st)
		st.FailOn("write", failing, 1)

		res, err := NewManager(st, WithPolicy(PolicyAbort)).Run(ctx)
		require.ErrorIs(t, err, tester.ErrInjected)
		assert.True(t, res.RolledBack)
		assert.Equal(t, before, snapshot(t, st))
	})
}

func TestManager_RollbackFailure(t *testing.T) {
	st := tester.NewFaultyStore(store.NewMemoryStore())
	ctx := tester.AsAdmin(context.Background())
	tester.SeedLegacy(ctx, st, 3)

	st.FailOn("update", model.SalesCollection+"/", 1)
	st.FailOn("delete", model.AppliancesCollection, -1)

	res, err := NewManager(st).Run(ctx)
	require.Error(t, err)
	assert.Equal(t, apperr.RollbackFailed, apperr.KindOf(err))
	assert.ErrorIs(t, err, tester.ErrInjected)
	assert.False(t, res.RolledBack)
	assert.Equal(t, StateFailed, res.State)
}

func TestManager_Rollback(t *testing.T) {
	st := store.NewMemoryStore()
	m := NewManager(st)

	err := m.Rollback(tester.AsAdmin(context.Background()), "migration_1_missing")
	assert.Equal(t, apperr.BackupUnavailable, apperr.KindOf(err))

	err = m.Rollback(tester.AsAgent(context.Background()), "migration_1_missing")
	assert.ErrorIs(t, err, apperr.AccessDenied)
}

func TestManager_ExportImport(t *testing.T) {
	for _, name := range []string{"backup.json", "backup.json.gz", "backup.json.br", "backup.json.lz4"} {
		t.Run(name, func(t *testing.T) {
			st := store.NewMemoryStore()
			ctx := tester.AsAdmin(context.Background())
			tester.SeedLegacy(ctx, st, 3)
			m := NewManager(st)

			snap, err := m.backup(ctx, "migration_1_export")
			require.NoError(t, err)

			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, m.ExportBackup(ctx, snap.MigrationID, path))
			require.NoError(t, st.Delete(ctx, model.BackupPath(snap.MigrationID)))

			_, err = m.LoadBackup(ctx, snap.MigrationID)
			require.ErrorIs(t, err, apperr.BackupUnavailable)

			imported, err := m.ImportBackup(ctx, path)
			require.NoError(t, err)
			assert.Equal(t, snap.MigrationID, imported.MigrationID)

			loaded, err := m.LoadBackup(ctx, snap.MigrationID)
			require.NoError(t, err)
			assert.Equal(t, snap.Collections, loaded.Collections)
			assert.Equal(t, snapshot(t, st)[model.SalesCollection], loaded.Data[model.SalesCollection])
		})
	}

	_, err := NewManager(store.NewMemoryStore()).ImportBackup(context.Background(), filepath.Join(t.TempDir(), "missing.gz"))
	assert.ErrorIs(t, err, apperr.BackupUnavailable)
}

func TestManager_PruneBackups(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	m := NewManager(st, WithClock(func() time.Time { return now }))

	for i, age := range []time.Duration{72 * time.Hour, 48 * time.Hour, time.Hour} {
		now = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC).Add(-age)
		_, err := m.backup(ctx, fmt.Sprintf("migration_%d_b", i))
		require.NoError(t, err)
	}
	now = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	backups, err := m.ListBackups(ctx)
	require.NoError(t, err)
	require.Len(t, backups, 3)
	assert.Equal(t, "migration_2_b", backups[0].MigrationID)

	pruned, err := m.PruneBackups(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"migration_0_b", "migration_1_b"}, pruned)

	// the newest backup survives even when it is past retention
	pruned, err = m.PruneBackups(ctx, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, pruned)

	backups, err = m.ListBackups(ctx)
	require.NoError(t, err)
	require.Len(t, backups, 1)
}

func TestLegacyItems(t *testing.T) {
	items, ok := legacyItems(map[string]any{
		"1":  map[string]any{"type": "b"},
		"0":  map[string]any{"type": "a"},
		"10": map[string]any{"type": "c"},
	})
	require.True(t, ok)
	require.Len(t, items, 3)
	assert.Equal(t, "a", items[0]["type"])
	assert.Equal(t, "b", items[1]["type"])
	assert.Equal(t, "c", items[2]["type"])

	_, ok = legacyItems(map[string]any{"type": "Fridge"})
	assert.False(t, ok)
	_, ok = legacyItems(nil)
	assert.False(t, ok)
}

func TestParseFailurePolicy(t *testing.T) {
	p, err := ParseFailurePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyContinue, p)

	p, err = ParseFailurePolicy(" ABORT ")
	require.NoError(t, err)
	assert.Equal(t, PolicyAbort, p)

	_, err = ParseFailurePolicy("retry")
	assert.Error(t, err)
}
