package migration

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/emrgen/salesdb/internal/apperr"
	"github.com/emrgen/salesdb/internal/model"
	"github.com/sirupsen/logrus"
)

func connectivity(op string, err error) error {
	if apperr.KindOf(err) != "" {
		return err
	}

	return apperr.Wrap(apperr.ConnectivityFailure, op, err, "")
}

// readSales returns every sale keyed by id together with the ids in order.
func (m *Manager) readSales(ctx context.Context) (map[string]any, []string, error) {
	v, _, err := m.store.Read(ctx, model.SalesCollection)
	if err != nil {
		return nil, nil, err
	}

	sales := model.AsMap(v)
	ids := make([]string, 0, len(sales))
	for id := range sales {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return sales, ids, nil
}

// legacyItems returns the elements of an embedded array. Arrays that were
// stored as index-keyed objects are read in index order.
func legacyItems(v any) ([]map[string]any, bool) {
	switch items := v.(type) {
	case []any:
		out := make([]map[string]any, 0, len(items))
		for _, item := range items {
			if fields := model.AsMap(item); fields != nil {
				out = append(out, fields)
			}
		}
		return out, true
	case map[string]any:
		keys := make([]int, 0, len(items))
		for k := range items {
			i, err := strconv.Atoi(k)
			if err != nil {
				return nil, false
			}
			keys = append(keys, i)
		}
		sort.Ints(keys)

		out := make([]map[string]any, 0, len(keys))
		for _, i := range keys {
			if fields := model.AsMap(items[strconv.Itoa(i)]); fields != nil {
				out = append(out, fields)
			}
		}
		return out, true
	}

	return nil, false
}

func hasBoiler(v any) (map[string]any, bool) {
	coverage := model.AsMap(v)
	if coverage == nil {
		return nil, false
	}

	has, _ := coverage["hasBoiler"].(bool)
	return coverage, has
}

func (m *Manager) preValidate(ctx context.Context) (*Analysis, error) {
	const op = "preValidate"

	if err := m.authorize(ctx, op); err != nil {
		return nil, err
	}

	if err := m.store.Ping(ctx); err != nil {
		return nil, connectivity(op, err)
	}

	canary := map[string]any{"timestamp": model.Timestamp(m.now())}
	if err := m.store.Write(ctx, model.MigrationCanaryPath, canary); err != nil {
		return nil, connectivity(op, err)
	}
	if err := m.store.Delete(ctx, model.MigrationCanaryPath); err != nil {
		return nil, connectivity(op, err)
	}

	sales, ids, err := m.readSales(ctx)
	if err != nil {
		return nil, err
	}

	a := &Analysis{TotalSales: len(ids)}
	if a.TotalSales == 0 {
		return a, apperr.New(apperr.ValidationFailed, op, "no sales data found, nothing to migrate")
	}

	for _, id := range ids {
		fields := model.AsMap(sales[id])
		if data, err := json.Marshal(fields); err == nil {
			a.DataSize += int64(len(data))
		}

		if items, ok := legacyItems(fields[model.FieldLegacyAppliances]); ok {
			a.SalesWithAppliances++
			a.TotalAppliances += len(items)
		}
		if _, ok := hasBoiler(fields[model.FieldLegacyBoiler]); ok {
			a.SalesWithBoilers++
			a.TotalBoilers++
		}
	}

	if a.DataSize > LargeDatasetBytes {
		a.LargeDataset = true
		logrus.Warnf("migration: large dataset detected (%d bytes), migration may take longer", a.DataSize)
	}
	logrus.WithFields(logrus.Fields{
		"sales":      a.TotalSales,
		"appliances": a.TotalAppliances,
		"boilers":    a.TotalBoilers,
	}).Info("migration: data analysis complete")

	return a, nil
}

// migrateSale writes the children built for one sale, then sets the sale's
// relationship array to exactly their ids. On failure the children already
// written for the sale are deleted again.
func (m *Manager) migrateSale(ctx context.Context, migrationID, saleID string, t model.ChildType, children []*model.Child) error {
	written := make([]string, 0, len(children))
	undo := func(cause error) error {
		for _, id := range written {
			if err := m.store.Delete(context.WithoutCancel(ctx), model.ChildPath(t, id)); err != nil {
				logrus.Errorf("migration: failed to remove %s %s after error: %v", t, id, err)
			}
		}
		return cause
	}

	for _, child := range children {
		if err := m.store.Write(ctx, model.ChildPath(t, child.ID), child.Fields); err != nil {
			return undo(err)
		}
		written = append(written, child.ID)
	}

	if err := m.store.Write(ctx, model.RelationshipPath(saleID, t), written); err != nil {
		return undo(err)
	}

	m.checkpoint(ctx, migrationID, saleID, t, written)

	return nil
}

// checkpoint appends an audit record. Failing to write one does not fail the run.
func (m *Manager) checkpoint(ctx context.Context, migrationID, saleID string, t model.ChildType, ids []string) {
	cp := model.MigrationCheckpoint{
		SaleID:     saleID,
		EntityType: t.Collection(),
		EntityIDs:  ids,
		Timestamp:  model.Timestamp(m.now()),
	}

	value, err := model.Encode(cp)
	if err == nil {
		path := model.Join(model.CheckpointsPath(migrationID), saleID+"_"+t.Collection())
		err = m.store.Write(ctx, path, value)
	}
	if err != nil {
		logrus.Warnf("migration %s: failed to write checkpoint for sale %s: %v", migrationID, saleID, err)
	}
}

// record applies the failure policy to a failed sale.
func (m *Manager) record(res *Result, pr *PhaseResult, phase, saleID string, err error) error {
	pr.Failed++
	pr.Errors = append(pr.Errors, EntityError{SaleID: saleID, Phase: phase, Error: err.Error()})
	res.failed[saleID] = true
	logrus.Errorf("migration %s: failed to migrate %s for sale %s: %v", res.MigrationID, phase, saleID, err)

	if m.policy == PolicyAbort {
		return fmt.Errorf("migrate %s for sale %s: %w", phase, saleID, err)
	}

	return nil
}

func (m *Manager) migrateAppliances(ctx context.Context, res *Result) (*PhaseResult, error) {
	sales, ids, err := m.readSales(ctx)
	if err != nil {
		return nil, err
	}

	pr := &PhaseResult{Errors: []EntityError{}}
	for _, saleID := range ids {
		pr.Processed++

		items, ok := legacyItems(model.AsMap(sales[saleID])[model.FieldLegacyAppliances])
		if !ok {
			pr.Skipped++
			continue
		}

		now := m.now()
		children := make([]*model.Child, 0, len(items))
		for _, item := range items {
			children = append(children, model.MigratedAppliance(m.newID(), saleID, item, now))
		}

		if err := m.migrateSale(ctx, res.MigrationID, saleID, model.Appliance, children); err != nil {
			if err := m.record(res, pr, model.AppliancesCollection, saleID, err); err != nil {
				return pr, err
			}
			continue
		}
		pr.Successful += len(children)
	}

	return pr, nil
}

func (m *Manager) migrateBoilers(ctx context.Context, res *Result) (*PhaseResult, error) {
	sales, ids, err := m.readSales(ctx)
	if err != nil {
		return nil, err
	}

	pr := &PhaseResult{Errors: []EntityError{}}
	for _, saleID := range ids {
		pr.Processed++

		coverage, ok := hasBoiler(model.AsMap(sales[saleID])[model.FieldLegacyBoiler])
		if !ok {
			pr.Skipped++
			continue
		}

		child := model.MigratedBoiler(m.newID(), saleID, coverage, m.now())

		if err := m.migrateSale(ctx, res.MigrationID, saleID, model.Boiler, []*model.Child{child}); err != nil {
			if err := m.record(res, pr, model.BoilersCollection, saleID, err); err != nil {
				return pr, err
			}
			continue
		}
		pr.Successful++
	}

	return pr, nil
}

// migrateFieldValues has nothing to move: dynamic field values never had an
// embedded legacy shape.
func (m *Manager) migrateFieldValues() *PhaseResult {
	return &PhaseResult{
		Errors: []EntityError{},
		Note:   "dynamic field values have no embedded legacy shape",
	}
}

// cleanup drops the legacy fields from every migrated sale with a field
// update, then counts children whose sale does not exist.
func (m *Manager) cleanup(ctx context.Context, res *Result) (*CleanupResult, error) {
	sales, ids, err := m.readSales(ctx)
	if err != nil {
		return nil, err
	}

	cr := &CleanupResult{}
	for _, saleID := range ids {
		fields := model.AsMap(sales[saleID])
		updates := map[string]any{}
		if _, ok := fields[model.FieldLegacyAppliances]; ok {
			updates[model.FieldLegacyAppliances] = nil
		}
		if _, ok := fields[model.FieldLegacyBoiler]; ok {
			updates[model.FieldLegacyBoiler] = nil
		}
		if len(updates) == 0 {
			continue
		}

		if res.failed[saleID] {
			cr.Retained++
			continue
		}

		if err := m.store.Update(ctx, model.SalePath(saleID), updates); err != nil {
			return cr, fmt.Errorf("cleanup sale %s: %w", saleID, err)
		}
		if _, ok := updates[model.FieldLegacyAppliances]; ok {
			cr.EmbeddedArraysRemoved++
		}
		if _, ok := updates[model.FieldLegacyBoiler]; ok {
			cr.EmbeddedObjectsRemoved++
		}
	}

	for _, t := range model.ChildTypes() {
		v, _, err := m.store.Read(ctx, t.Collection())
		if err != nil {
			return cr, err
		}
		for id, raw := range model.AsMap(v) {
			saleID := model.AsString(model.AsMap(raw)[model.FieldSaleID])
			if _, ok := sales[saleID]; !ok {
				cr.OrphanedRecordsFound++
				logrus.Warnf("migration: orphaned %s %s references missing sale %q", t, id, saleID)
			}
		}
	}

	return cr, nil
}

// postValidate counts every collection and checks the relationships of the
// first sampleSize sales in key order. Any mismatch is an IntegrityViolation.
func (m *Manager) postValidate(ctx context.Context) (*PostValidation, error) {
	const op = "postValidate"

	sales, ids, err := m.readSales(ctx)
	if err != nil {
		return nil, err
	}

	pv := &PostValidation{Counts: map[string]int{model.SalesCollection: len(ids)}, Mismatches: []string{}}
	children := make(map[model.ChildType]map[string]any, 3)
	for _, t := range model.ChildTypes() {
		v, _, err := m.store.Read(ctx, t.Collection())
		if err != nil {
			return pv, err
		}
		children[t] = model.AsMap(v)
		pv.Counts[t.Collection()] = len(children[t])
	}

	if len(ids) > m.sampleSize {
		ids = ids[:m.sampleSize]
	}
	for _, saleID := range ids {
		sale, err := model.SaleFromValue(saleID, sales[saleID])
		if err != nil {
			pv.Mismatches = append(pv.Mismatches, err.Error())
			continue
		}
		pv.Sampled++

		for _, t := range model.ChildTypes() {
			for _, childID := range sale.ChildIDs(t) {
				raw, ok := children[t][childID]
				if !ok {
					pv.Mismatches = append(pv.Mismatches, fmt.Sprintf("sale %s lists missing %s %s", saleID, t, childID))
					continue
				}
				if back := model.AsString(model.AsMap(raw)[model.FieldSaleID]); back != saleID {
					pv.Mismatches = append(pv.Mismatches, fmt.Sprintf("%s %s points at %q, listed by %s", t, childID, back, saleID))
				}
			}
		}
	}

	if len(pv.Mismatches) > 0 {
		return pv, apperr.New(apperr.IntegrityViolation, op, "%d relationship mismatches, first: %s", len(pv.Mismatches), pv.Mismatches[0])
	}

	return pv, nil
}

func (m *Manager) writeSchemaVersion(ctx context.Context) error {
	version := model.SchemaVersion{
		CurrentVersion:  model.NormalizedSchemaVersion,
		PreviousVersion: model.LegacySchemaVersion,
		MigrationDate:   model.Timestamp(m.now()),
		Description:     schemaDescription,
	}

	value, err := model.Encode(version)
	if err != nil {
		return err
	}

	return m.store.Write(ctx, model.SchemaVersionPath, value)
}
