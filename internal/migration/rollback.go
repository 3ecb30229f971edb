package migration

import (
	"context"
	"errors"
	"fmt"

	"github.com/emrgen/salesdb/internal/apperr"
	"github.com/emrgen/salesdb/internal/model"
	"github.com/sirupsen/logrus"
)

// Rollback restores the store to the snapshot taken by migrationID.
func (m *Manager) Rollback(ctx context.Context, migrationID string) error {
	const op = "rollback"

	ctx, span := tracer.Start(ctx, "migration.Rollback")
	defer span.End()

	if err := m.authorize(ctx, op); err != nil {
		return err
	}

	if err := m.rollback(ctx, migrationID); err != nil {
		if apperr.KindOf(err) == apperr.BackupUnavailable {
			return err
		}
		logrus.WithField("migration", migrationID).Errorf("ROLLBACK FAILED, store may be inconsistent: %v", err)
		return apperr.Wrap(apperr.RollbackFailed, op, err, "migration %s", migrationID)
	}

	return nil
}

// rollback deletes the child collections, writes every backed-up collection
// back verbatim and clears relationship arrays the snapshot did not have. It
// keeps going after an error so as much as possible is restored, and ignores
// cancellation of ctx.
func (m *Manager) rollback(ctx context.Context, migrationID string) error {
	ctx = context.WithoutCancel(ctx)
	log := logrus.WithField("migration", migrationID)

	snap, err := m.LoadBackup(ctx, migrationID)
	if err != nil {
		return err
	}

	// sales written since the snapshot are gone after the restore but may
	// still be cached
	var written []string
	if m.cache != nil {
		if _, ids, err := m.readSales(ctx); err == nil {
			written = ids
		}
	}

	var errs []error
	for _, collection := range model.ChildCollections() {
		if err := m.store.Delete(ctx, collection); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", collection, err))
		}
	}

	for _, collection := range snap.Collections {
		data, ok := snap.Data[collection]
		if ok && data != nil {
			err = m.store.Write(ctx, collection, data)
		} else {
			err = m.store.Delete(ctx, collection)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", collection, err))
		}
	}

	if err := m.clearRelationships(ctx, snap); err != nil {
		errs = append(errs, err)
	}

	m.invalidateSales(ctx, written...)

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	log.Info("rollback completed")

	return nil
}

// clearRelationships removes relationship arrays from sales whose backed-up
// version did not carry them.
func (m *Manager) clearRelationships(ctx context.Context, snap *model.BackupSnapshot) error {
	backedUp := model.AsMap(snap.Data[model.SalesCollection])

	sales, ids, err := m.readSales(ctx)
	if err != nil {
		return fmt.Errorf("clear relationships: %w", err)
	}

	var errs []error
	for _, saleID := range ids {
		current := model.AsMap(sales[saleID])
		before := model.AsMap(backedUp[saleID])

		updates := map[string]any{}
		for _, t := range model.ChildTypes() {
			_, has := current[t.ArrayField()]
			_, had := before[t.ArrayField()]
			if has && !had {
				updates[t.ArrayField()] = nil
			}
		}
		if len(updates) == 0 {
			continue
		}

		if err := m.store.Update(ctx, model.SalePath(saleID), updates); err != nil {
			errs = append(errs, fmt.Errorf("clear relationships of %s: %w", saleID, err))
		}
	}

	return errors.Join(errs...)
}
