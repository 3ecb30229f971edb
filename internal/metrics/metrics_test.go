package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveOperation("addChild", time.Now(), nil)
	m.ObserveOperation("addChild", time.Now(), errors.New("x"))
	m.IncrementCacheLookup(true)
	m.IncrementCacheLookup(false)
	m.IncrementCacheLookup(false)
	m.SetValidationCategory("relationship_integrity", 4, 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("addChild", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("addChild", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ValidationChecks.WithLabelValues("relationship_integrity", "failed")))
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveOperation("addChild", time.Now(), nil)
		m.IncrementCompensation("addChild", nil)
		m.IncrementCacheLookup(true)
		m.ObserveMigrationPhase("BACKING_UP", time.Now())
		m.IncrementMigrationRun("DONE", false)
		m.SetValidationCategory("performance", 1, 0)
		m.IncrementValidationVerdict("DEPLOYMENT_READY")
		m.IncrementDuplicateCheck("")
	})
}
