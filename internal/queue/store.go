package queue

import (
	"context"
	"fmt"

	"github.com/emrgen/salesdb/internal/model"
	"github.com/emrgen/salesdb/internal/store"
)

var _ Publisher = (*StorePublisher)(nil)

// StorePublisher keeps the audit trail next to the data, one entry per
// operation under operation_logs/<id>.
type StorePublisher struct {
	store store.Store
}

func NewStorePublisher(st store.Store) *StorePublisher {
	return &StorePublisher{store: st}
}

func (s *StorePublisher) Publish(ctx context.Context, entry *model.OperationLog) error {
	if !model.ValidKey(entry.ID) {
		return fmt.Errorf("operation log id %q is not a valid key", entry.ID)
	}

	value, err := model.Encode(entry)
	if err != nil {
		return err
	}

	return s.store.Write(ctx, model.OperationLogPath(entry.ID), value)
}

func (s *StorePublisher) Close() error {
	return nil
}
