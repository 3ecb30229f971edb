package service

import (
	"context"
	"fmt"
	"time"

	"github.com/emrgen/salesdb/internal/apperr"
	"github.com/emrgen/salesdb/internal/cache"
	"github.com/emrgen/salesdb/internal/model"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// GetAggregate returns the sale with every child it lists. With useCache a
// fresh cached aggregate is served without touching the store; otherwise the
// children are read concurrently and the result replaces the cached one.
func (r *RelationshipManager) GetAggregate(ctx context.Context, saleID string, useCache bool) (agg *model.Aggregate, err error) {
	const op = "getAggregate"
	start := time.Now()
	ctx, span := tracer.Start(ctx, "RelationshipManager.GetAggregate")
	defer func() {
		r.metrics.ObserveOperation(op, start, err)
		endSpan(span, err)
	}()

	p, err := r.principal(ctx, op)
	if err != nil {
		return nil, err
	}

	if err := checkID(op, saleID); err != nil {
		return nil, err
	}

	if useCache {
		cached := &model.Aggregate{}
		hit, err := r.cache.Get(ctx, cache.AggregateKey(saleID), cached)
		if err != nil {
			logrus.Warnf("relationship: cache read for %s failed: %v", saleID, err)
		}
		r.metrics.IncrementCacheLookup(hit)
		if hit {
			if err := checkAccess(op, p, cached.Sale); err != nil {
				return nil, err
			}
			return cached, nil
		}
	}

	sale, err := r.loadSale(ctx, op, saleID)
	if err != nil {
		return nil, err
	}
	if err := checkAccess(op, p, sale); err != nil {
		return nil, err
	}

	agg, err = r.fetchChildren(ctx, op, sale)
	if err != nil {
		return nil, err
	}

	if err := r.cache.Set(ctx, cache.AggregateKey(saleID), agg); err != nil {
		logrus.Warnf("relationship: cache write for %s failed: %v", saleID, err)
	}

	return agg, nil
}

// fetchChildren issues one point read per listed child and waits for all of
// them to settle. A listed child that no longer exists is skipped.
func (r *RelationshipManager) fetchChildren(ctx context.Context, op string, sale *model.Sale) (*model.Aggregate, error) {
	type slot struct {
		t     model.ChildType
		id    string
		child *model.Child
		err   error
	}

	var slots []*slot
	for _, t := range model.ChildTypes() {
		for _, id := range sale.ChildIDs(t) {
			slots = append(slots, &slot{t: t, id: id})
		}
	}

	var g errgroup.Group
	g.SetLimit(r.fanout)
	for _, s := range slots {
		g.Go(func() error {
			if !model.ValidKey(s.id) {
				logrus.Warnf("relationship: sale %s lists invalid %s id %q", sale.ID, s.t, s.id)
				return nil
			}

			child, ok, err := r.loadChild(ctx, s.t, s.id)
			if err != nil {
				s.err = fmt.Errorf("%s %s: %w", s.t, s.id, err)
				return nil
			}
			if !ok {
				logrus.Warnf("relationship: sale %s lists missing %s %s", sale.ID, s.t, s.id)
				return nil
			}

			s.child = child
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	agg := &model.Aggregate{Sale: sale, Children: make(map[model.ChildType][]*model.Child, 3)}
	for _, t := range model.ChildTypes() {
		agg.Children[t] = []*model.Child{}
	}
	for _, s := range slots {
		if s.err != nil {
			errs = append(errs, s.err)
			continue
		}
		if s.child != nil {
			agg.Children[s.t] = append(agg.Children[s.t], s.child)
		}
	}

	if len(errs) > 0 {
		return nil, apperr.Partial(op, len(slots)-len(errs), len(slots), errs...)
	}

	return agg, nil
}
