package migration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/emrgen/salesdb/internal/apperr"
	"github.com/emrgen/salesdb/internal/cache"
	"github.com/emrgen/salesdb/internal/metrics"
	"github.com/emrgen/salesdb/internal/model"
	"github.com/emrgen/salesdb/internal/store"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/emrgen/salesdb/internal/migration")

const (
	// DefaultSampleSize is the number of sales checked after migrating.
	DefaultSampleSize = 10
	// LargeDatasetBytes is the serialized sales size above which a warning is logged.
	LargeDatasetBytes = 50 << 20

	schemaDescription = "Migrated from embedded arrays to normalized one-to-many relationships"
)

// BackedUpCollections are copied into every snapshot. Collections that do not
// exist yet are still listed so a rollback removes them again.
var BackedUpCollections = []string{
	model.SalesCollection,
	model.UsersCollection,
	model.FormFieldsCollection,
	model.ProcessorProfilesCollection,
	model.AppliancesCollection,
	model.BoilersCollection,
	model.DynamicFieldValuesCollection,
	model.SchemaVersionPath,
}

// Manager moves legacy embedded appliance and boiler data into child
// collections. Every run is backed up first and rolled back on failure.
type Manager struct {
	store      store.Store
	cache      cache.Cache
	metrics    *metrics.Metrics
	policy     FailurePolicy
	sampleSize int
	now        func() time.Time
	newID      func() string
}

type Option func(*Manager)

func WithPolicy(p FailurePolicy) Option {
	return func(m *Manager) { m.policy = p }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithCache sets the cache holding sale aggregates and statistics. Entries
// for rewritten sales are dropped after migrating, cleaning up and rolling
// back.
func WithCache(c cache.Cache) Option {
	return func(m *Manager) { m.cache = c }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator sets the generator for migrated child ids.
func WithIDGenerator(newID func() string) Option {
	return func(m *Manager) { m.newID = newID }
}

func WithSampleSize(n int) Option {
	return func(m *Manager) { m.sampleSize = n }
}

func NewManager(st store.Store, opts ...Option) *Manager {
	m := &Manager{
		store:      st,
		policy:     PolicyContinue,
		sampleSize: DefaultSampleSize,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

// newMigrationID returns migration_<unixMillis>_<9 random chars>.
func (m *Manager) newMigrationID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("migration_%d_%s", m.now().UnixMilli(), suffix)
}

// authorize requires an admin principal. A principal without a role gets the
// one stored under users/<uid>/role.
func (m *Manager) authorize(ctx context.Context, op string) error {
	p, ok := model.PrincipalFrom(ctx)
	if !ok {
		return apperr.New(apperr.AccessDenied, op, "no authenticated principal")
	}

	if p.Role == "" && model.ValidKey(p.ID) {
		v, _, err := m.store.Read(ctx, model.UserRolePath(p.ID))
		if err != nil {
			return err
		}
		p.Role = model.AsString(v)
	}

	if !p.IsAdmin() {
		return apperr.New(apperr.AccessDenied, op, "principal %s may not run migrations", p.ID)
	}

	return nil
}

// phase runs fn as state s inside its own span and records its duration.
func (m *Manager) phase(ctx context.Context, res *Result, s State, fn func(ctx context.Context) error) error {
	res.transition(s)
	start := time.Now()

	ctx, span := tracer.Start(ctx, "migration."+strings.ToLower(string(s)))
	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	m.metrics.ObserveMigrationPhase(string(s), start)
	logrus.WithFields(logrus.Fields{
		"migration": res.MigrationID,
		"phase":     s,
		"took":      time.Since(start),
	}).Info("migration phase finished")

	return err
}

// Run executes one full migration. On failure after the backup was written
// the run is rolled back; the returned error then carries the cause, or is a
// RollbackFailed error when the rollback itself failed.
func (m *Manager) Run(ctx context.Context) (*Result, error) {
	const op = "migrate"

	res := &Result{
		MigrationID: m.newMigrationID(),
		StartedAt:   model.Timestamp(m.now()),
		failed:      make(map[string]bool),
	}
	log := logrus.WithField("migration", res.MigrationID)

	ctx, span := tracer.Start(ctx, "migration.Run", trace.WithAttributes(attribute.String("migration.id", res.MigrationID)))
	defer span.End()

	log.Info("starting migration")

	backedUp, err := m.run(ctx, res)
	res.FinishedAt = model.Timestamp(m.now())
	if err == nil {
		res.transition(StateDone)
		res.Success = true
		m.metrics.IncrementMigrationRun(string(StateDone), false)
		log.Info("migration completed")
		return res, nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	res.Error = err.Error()
	log.Errorf("migration failed in %s: %v", res.State, err)

	if backedUp {
		res.transition(StateRollingBack)
		if rerr := m.rollback(ctx, res.MigrationID); rerr != nil {
			res.transition(StateFailed)
			m.metrics.IncrementMigrationRun(string(StateFailed), false)
			log.WithField("cause", err).Errorf("ROLLBACK FAILED, store may be inconsistent: %v", rerr)
			err = apperr.Wrap(apperr.RollbackFailed, op, errors.Join(err, rerr), "migration %s", res.MigrationID)
			res.Error = err.Error()
			return res, err
		}
		res.RolledBack = true
		log.Warn("migration rolled back")
	}

	res.transition(StateFailed)
	m.metrics.IncrementMigrationRun(string(StateFailed), res.RolledBack)

	return res, err
}

// run walks the phases in order. It reports whether the backup was written,
// which is what makes a rollback necessary.
func (m *Manager) run(ctx context.Context, res *Result) (bool, error) {
	err := m.phase(ctx, res, StateValidating, func(ctx context.Context) (err error) {
		res.Analysis, err = m.preValidate(ctx)
		return err
	})
	if err != nil {
		return false, err
	}

	err = m.phase(ctx, res, StateBackingUp, func(ctx context.Context) error {
		_, err := m.backup(ctx, res.MigrationID)
		return err
	})
	if err != nil {
		return false, err
	}

	err = m.phase(ctx, res, StateMigrating, func(ctx context.Context) (err error) {
		if res.Appliances, err = m.migrateAppliances(ctx, res); err != nil {
			return err
		}
		if res.Boilers, err = m.migrateBoilers(ctx, res); err != nil {
			return err
		}
		res.DynamicFields = m.migrateFieldValues()
		return nil
	})
	m.invalidateSales(ctx)
	if err != nil {
		return true, err
	}

	err = m.phase(ctx, res, StateCleaningUp, func(ctx context.Context) (err error) {
		res.Cleanup, err = m.cleanup(ctx, res)
		return err
	})
	m.invalidateSales(ctx)
	if err != nil {
		return true, err
	}

	err = m.phase(ctx, res, StatePostValidating, func(ctx context.Context) (err error) {
		res.Validation, err = m.postValidate(ctx)
		return err
	})
	if err != nil {
		return true, err
	}

	err = m.phase(ctx, res, StateVersioning, m.writeSchemaVersion)

	return true, err
}

// invalidateSales drops the cached aggregate of every sale and all cached
// statistics. When the sales cannot be listed every aggregate is dropped.
func (m *Manager) invalidateSales(ctx context.Context, extra ...string) {
	if m.cache == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	_, ids, err := m.readSales(ctx)
	if err != nil {
		logrus.Warnf("migration: failed to list sales for cache invalidation: %v", err)
		if err := m.cache.InvalidatePrefix(ctx, cache.AggregatePrefix); err != nil {
			logrus.Warnf("migration: failed to invalidate cached aggregates: %v", err)
		}
		ids = nil
	}

	keys := make([]string, 0, len(ids)+len(extra))
	for _, id := range append(ids, extra...) {
		keys = append(keys, cache.AggregateKey(id))
	}
	if len(keys) > 0 {
		if err := m.cache.Invalidate(ctx, keys...); err != nil {
			logrus.Warnf("migration: failed to invalidate cached aggregates: %v", err)
		}
	}

	if err := m.cache.InvalidatePrefix(ctx, cache.StatisticsPrefix); err != nil {
		logrus.Warnf("migration: failed to invalidate cached statistics: %v", err)
	}
}
