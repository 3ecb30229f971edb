package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/emrgen/salesdb/internal/model"
	"github.com/emrgen/salesdb/internal/validation"
	"github.com/sirupsen/logrus"
)

// Scheduler is the principal scheduled tasks act as.
var Scheduler = model.Principal{ID: "system-scheduler", Role: model.RoleAdmin}

// ValidationTask runs the validation suite on a schedule and keeps the last
// report.
type ValidationTask struct {
	framework *validation.Framework
	schedule  string
	timeout   time.Duration

	mu   sync.Mutex
	last *validation.Report
}

func NewValidationTask(schedule string, f *validation.Framework) *ValidationTask {
	return &ValidationTask{framework: f, schedule: schedule, timeout: 5 * time.Minute}
}

func (v *ValidationTask) ID() string {
	return "validation"
}

func (v *ValidationTask) Schedule() string {
	return v.schedule
}

func (v *ValidationTask) Run() {
	ctx, cancel := context.WithTimeout(model.WithPrincipal(context.Background(), Scheduler), v.timeout)
	defer cancel()

	report := v.framework.Run(ctx)

	v.mu.Lock()
	v.last = report
	v.mu.Unlock()

	if report.Verdict() != validation.DeploymentReady {
		logrus.WithFields(logrus.Fields{
			"verdict": report.Verdict(),
			"failed":  report.Summary.TotalFailed,
		}).Warn("scheduled validation found problems")
	}
}

// LastReport returns the report of the most recent run, or nil.
func (v *ValidationTask) LastReport() *validation.Report {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.last
}
