// Package saga runs multi-step operations against a store without
// transactions. Each completed step registers a compensating action; on
// failure the compensations run in reverse order.
package saga

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Step is a completed action and the action that undoes it.
type Step struct {
	Name       string
	Compensate func(ctx context.Context) error
}

type Saga struct {
	name string
	done []Step
}

func New(name string) *Saga {
	return &Saga{name: name}
}

// Run executes do. When it succeeds, compensate (which may be nil) is
// recorded so a later failure can undo the step.
func (s *Saga) Run(ctx context.Context, name string, do func(ctx context.Context) error, compensate func(ctx context.Context) error) error {
	if err := do(ctx); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	s.Record(name, compensate)

	return nil
}

// Record registers a step that was carried out elsewhere.
func (s *Saga) Record(name string, compensate func(ctx context.Context) error) {
	s.done = append(s.done, Step{Name: name, Compensate: compensate})
}

// Completed lists the recorded steps in execution order.
func (s *Saga) Completed() []string {
	names := make([]string, len(s.done))
	for i, step := range s.done {
		names[i] = step.Name
	}

	return names
}

// Compensate undoes every recorded step, newest first. It keeps going after
// a compensation fails and returns all failures joined. Cancellation of ctx
// does not stop compensation.
func (s *Saga) Compensate(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)

	var errs []error
	for i := len(s.done) - 1; i >= 0; i-- {
		step := s.done[i]
		if step.Compensate == nil {
			continue
		}

		if err := step.Compensate(ctx); err != nil {
			logrus.WithFields(logrus.Fields{
				"saga": s.name,
				"step": step.Name,
			}).Errorf("compensation failed: %v", err)
			errs = append(errs, fmt.Errorf("compensate %s: %w", step.Name, err))
			continue
		}

		logrus.WithFields(logrus.Fields{"saga": s.name, "step": step.Name}).Warn("step compensated")
	}
	s.done = nil

	return errors.Join(errs...)
}
