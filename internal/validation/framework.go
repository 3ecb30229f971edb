package validation

import (
	"context"
	"fmt"
	"time"

	"github.com/emrgen/salesdb/internal/metrics"
	"github.com/emrgen/salesdb/internal/model"
	"github.com/emrgen/salesdb/internal/service"
	"github.com/emrgen/salesdb/internal/store"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("github.com/emrgen/salesdb/internal/validation")

// Thresholds are smoke limits for the performance checks, not SLAs.
type Thresholds struct {
	PointRead     time.Duration
	AggregateRead time.Duration
	Write         time.Duration
	BatchWrite    time.Duration
	BatchSize     int
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		PointRead:     time.Second,
		AggregateRead: 2 * time.Second,
		Write:         500 * time.Millisecond,
		BatchWrite:    3 * time.Second,
		BatchSize:     10,
	}
}

// Principals the live checks act as. They own nothing outside scratch sales.
var (
	scratchAdmin = model.Principal{ID: "validation-scratch-admin", Role: model.RoleAdmin}
	scratchOwner = model.Principal{ID: "validation-scratch-owner", Role: "agent"}
	scratchOther = model.Principal{ID: "validation-scratch-other", Role: "agent"}
)

// Framework audits the store independently of the relationship cache and
// smoke tests the relationship operations with ephemeral records.
type Framework struct {
	store         store.Store
	relationships *service.RelationshipManager
	metrics       *metrics.Metrics
	thresholds    Thresholds
	now           func() time.Time
}

type Option func(*Framework)

func WithThresholds(t Thresholds) Option {
	return func(f *Framework) { f.thresholds = t }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Framework) { f.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(f *Framework) { f.now = now }
}

func NewFramework(st store.Store, rm *service.RelationshipManager, opts ...Option) *Framework {
	f := &Framework{
		store:         st,
		relationships: rm,
		thresholds:    DefaultThresholds(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.thresholds.BatchSize <= 0 {
		f.thresholds.BatchSize = DefaultThresholds().BatchSize
	}

	return f
}

// check is one named check. A nil error passes; the details describe what
// was seen either way.
type check struct {
	name           string
	recommendation string
	run            func(ctx context.Context) (string, error)
}

// Run executes every category and synthesizes the report. Checks never fail
// the run; a broken check is reported as failed.
func (f *Framework) Run(ctx context.Context) *Report {
	ctx, span := tracer.Start(ctx, "validation.Run")
	defer span.End()

	report := &Report{}
	for _, category := range Categories() {
		result := f.runCategory(ctx, category, f.checks(category))
		report.Categories = append(report.Categories, result)
		f.metrics.SetValidationCategory(string(category), result.Passed, result.Failed)
	}

	synthesize(report, model.Timestamp(f.now()))
	f.metrics.IncrementValidationVerdict(string(report.Verdict()))
	span.SetAttributes(attribute.String("validation.verdict", string(report.Verdict())))

	logrus.WithFields(logrus.Fields{
		"passed":  report.Summary.TotalPassed,
		"total":   report.Summary.TotalTests,
		"verdict": report.Verdict(),
	}).Info("validation finished")

	return report
}

func (f *Framework) checks(c Category) []check {
	switch c {
	case RelationshipIntegrity:
		return f.relationshipChecks()
	case MigrationIntegrity:
		return f.migrationChecks()
	case Performance:
		return f.performanceChecks()
	case Security:
		return f.securityChecks()
	case Functional:
		return f.functionalChecks()
	}

	return nil
}

func (f *Framework) runCategory(ctx context.Context, c Category, checks []check) CategoryResult {
	ctx, span := tracer.Start(ctx, "validation."+string(c))
	defer span.End()

	result := CategoryResult{Category: c, Checks: make([]CheckResult, 0, len(checks))}
	for _, ch := range checks {
		r := f.runCheck(ctx, ch)
		if r.Passed {
			result.Passed++
		} else {
			result.Failed++
			logrus.WithField("category", c).Warnf("validation check %q failed: %s", r.Name, r.Details)
		}
		result.Checks = append(result.Checks, r)
	}

	return result
}

func (f *Framework) runCheck(ctx context.Context, ch check) (r CheckResult) {
	r.Name = ch.name
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			r.Passed = false
			r.Details = fmt.Sprintf("check panicked: %v", p)
			r.Recommendation = ch.recommendation
		}
		r.Duration = time.Since(start)
	}()

	details, err := ch.run(ctx)
	if err != nil {
		r.Details = err.Error()
		r.Recommendation = ch.recommendation
		return r
	}

	r.Passed = true
	r.Details = details

	return r
}

func (f *Framework) as(ctx context.Context, p model.Principal) context.Context {
	return model.WithPrincipal(ctx, p)
}

func scratchID(kind string) string {
	return "validation_scratch_" + kind + "_" + uuid.NewString()
}

// withScratchSale runs fn against an ephemeral sale owned by scratchOwner and
// removes the sale and everything pointing at it afterwards.
func (f *Framework) withScratchSale(ctx context.Context, kind string, fn func(saleID string) (string, error)) (string, error) {
	saleID := scratchID(kind)
	sale := map[string]any{
		model.FieldOwnerID: scratchOwner.ID,
		model.FieldStatus:  "validation_scratch",
		model.FieldContact: map[string]any{"name": "Validation Scratch"},
	}
	if err := f.store.Write(ctx, model.SalePath(saleID), sale); err != nil {
		return "", fmt.Errorf("create scratch sale: %w", err)
	}
	defer f.removeScratchSale(ctx, saleID)

	return fn(saleID)
}

// removeScratchSale deletes the scratch sale through cascade delete and falls back to
// deleting whatever is left directly.
func (f *Framework) removeScratchSale(ctx context.Context, saleID string) {
	ctx = context.WithoutCancel(ctx)

	if _, exists, _ := f.store.Read(ctx, model.SalePath(saleID)); exists {
		_, err := f.relationships.CascadeDelete(f.as(ctx, scratchAdmin), saleID)
		if err == nil {
			return
		}
		logrus.Warnf("validation: cascade delete of scratch sale %s failed, removing directly: %v", saleID, err)
	}

	for _, t := range model.ChildTypes() {
		v, _, err := f.store.Read(ctx, t.Collection())
		if err != nil {
			continue
		}
		for id, raw := range model.AsMap(v) {
			if model.AsString(model.AsMap(raw)[model.FieldSaleID]) == saleID {
				_ = f.store.Delete(ctx, model.ChildPath(t, id))
			}
		}
	}
	_ = f.store.Delete(ctx, model.SalePath(saleID))
}
