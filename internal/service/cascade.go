package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/emrgen/salesdb/internal/apperr"
	"github.com/emrgen/salesdb/internal/lock"
	"github.com/emrgen/salesdb/internal/model"
	"github.com/emrgen/salesdb/internal/saga"
	"golang.org/x/sync/errgroup"
)

// CascadeDeleteResult counts what a cascade removed.
type CascadeDeleteResult struct {
	SaleID  string                  `json:"saleId"`
	Deleted map[model.ChildType]int `json:"deleted"`
}

// CascadeDelete removes a sale and every child whose back-reference names it,
// listed or not, then the sale itself. Children are deleted concurrently; if
// any delete fails the ones already gone are written back and the sale is
// left in place.
func (r *RelationshipManager) CascadeDelete(ctx context.Context, saleID string) (res *CascadeDeleteResult, err error) {
	const op = "cascadeDelete"
	start := time.Now()
	ctx, span := tracer.Start(ctx, "RelationshipManager.CascadeDelete")
	defer func() {
		r.metrics.ObserveOperation(op, start, err)
		endSpan(span, err)
	}()

	principal, sale, err := r.authorize(ctx, op, saleID)
	if err != nil {
		return nil, err
	}

	unlock, err := r.locker.Lock(ctx, lock.SaleKey(saleID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	children, err := r.childrenOf(ctx, saleID)
	if err != nil {
		return nil, err
	}

	s := saga.New(op)
	var mu sync.Mutex
	var errs []error

	var g errgroup.Group
	g.SetLimit(r.fanout)
	for _, child := range children {
		g.Go(func() error {
			path := model.ChildPath(child.Type, child.ID)
			if err := r.store.Delete(ctx, path); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s %s: %w", child.Type, child.ID, err))
				mu.Unlock()
				return nil
			}

			mu.Lock()
			s.Record("delete "+path, func(ctx context.Context) error {
				return r.store.Write(ctx, path, child.Fields)
			})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) > 0 {
		cause := apperr.Partial(op, len(children)-len(errs), len(children), errs...)
		return nil, r.compensate(ctx, op, s, cause)
	}

	err = s.Run(ctx, "delete sale",
		func(ctx context.Context) error { return r.store.Delete(ctx, model.SalePath(saleID)) },
		nil,
	)
	if err != nil {
		return nil, r.compensate(ctx, op, s, err)
	}

	res = &CascadeDeleteResult{SaleID: saleID, Deleted: make(map[model.ChildType]int, 3)}
	for _, child := range children {
		res.Deleted[child.Type]++
	}

	r.invalidate(ctx, saleID, model.ChildTypes()...)
	details := map[string]any{model.FieldSaleID: saleID, model.FieldOwnerID: sale.OwnerID()}
	for t, n := range res.Deleted {
		details[t.Collection()] = n
	}
	r.logOperation(ctx, principal, "sale_cascade_deleted", details)

	return res, nil
}

// childrenOf scans every child collection for records whose back-reference
// names saleID.
func (r *RelationshipManager) childrenOf(ctx context.Context, saleID string) ([]*model.Child, error) {
	var out []*model.Child

	for _, t := range model.ChildTypes() {
		v, _, err := r.store.Read(ctx, t.Collection())
		if err != nil {
			return nil, err
		}

		records := model.AsMap(v)
		ids := make([]string, 0, len(records))
		for id := range records {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		for _, id := range ids {
			child, err := model.ChildFromValue(t, id, records[id])
			if err != nil {
				continue
			}
			if child.SaleID() == saleID {
				out = append(out, child)
			}
		}
	}

	return out, nil
}
