package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var durationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// Metrics provides observability for relationship operations, the aggregate
// cache, migrations and validation runs. A nil *Metrics records nothing.
type Metrics struct {
	Operations         *prometheus.CounterVec
	OperationDuration  *prometheus.HistogramVec
	Compensations      *prometheus.CounterVec
	CacheLookups       *prometheus.CounterVec
	MigrationPhase     *prometheus.HistogramVec
	MigrationRuns      *prometheus.CounterVec
	ValidationChecks   *prometheus.GaugeVec
	ValidationVerdicts *prometheus.CounterVec
	DuplicateChecks    *prometheus.CounterVec
}

// New registers every metric with reg. Pass prometheus.DefaultRegisterer in
// production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "salesdb_operations_total",
			Help: "Relationship operations by name and outcome",
		}, []string{"operation", "outcome"}),
		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "salesdb_operation_duration_seconds",
			Help:    "Duration of relationship operations",
			Buckets: durationBuckets,
		}, []string{"operation"}),
		Compensations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "salesdb_compensations_total",
			Help: "Compensating actions run after a failed multi-step operation",
		}, []string{"operation", "outcome"}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "salesdb_cache_lookups_total",
			Help: "Aggregate cache lookups by result",
		}, []string{"result"}),
		MigrationPhase: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "salesdb_migration_phase_duration_seconds",
			Help:    "Duration of each migration phase",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"phase"}),
		MigrationRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "salesdb_migration_runs_total",
			Help: "Migration runs by terminal state",
		}, []string{"state", "rolled_back"}),
		ValidationChecks: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "salesdb_validation_checks",
			Help: "Checks of the latest validation run by category and result",
		}, []string{"category", "result"}),
		ValidationVerdicts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "salesdb_validation_runs_total",
			Help: "Validation runs by verdict",
		}, []string{"verdict"}),
		DuplicateChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "salesdb_duplicate_checks_total",
			Help: "Duplicate checks by overall confidence",
		}, []string{"confidence"}),
	}
}

// ObserveOperation records one relationship operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveOperation(operation string, start time.Time, err error) {
	if m == nil {
		return
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Operations.WithLabelValues(operation, outcome).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementCompensation(operation string, err error) {
	if m == nil {
		return
	}

	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	m.Compensations.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) IncrementCacheLookup(hit bool) {
	if m == nil {
		return
	}

	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveMigrationPhase(phase string, start time.Time) {
	if m == nil {
		return
	}
	m.MigrationPhase.WithLabelValues(phase).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementMigrationRun(state string, rolledBack bool) {
	if m == nil {
		return
	}

	rb := "false"
	if rolledBack {
		rb = "true"
	}
	m.MigrationRuns.WithLabelValues(state, rb).Inc()
}

// SetValidationCategory publishes the passed/failed counts of one category.
func (m *Metrics) SetValidationCategory(category string, passed, failed int) {
	if m == nil {
		return
	}
	m.ValidationChecks.WithLabelValues(category, "passed").Set(float64(passed))
	m.ValidationChecks.WithLabelValues(category, "failed").Set(float64(failed))
}

func (m *Metrics) IncrementValidationVerdict(verdict string) {
	if m == nil {
		return
	}
	m.ValidationVerdicts.WithLabelValues(verdict).Inc()
}

func (m *Metrics) IncrementDuplicateCheck(confidence string) {
	if m == nil {
		return
	}
	if confidence == "" {
		confidence = "none"
	}
	m.DuplicateChecks.WithLabelValues(confidence).Inc()
}
