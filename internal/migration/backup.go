package migration

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/emrgen/salesdb/internal/apperr"
	"github.com/emrgen/salesdb/internal/compress"
	"github.com/emrgen/salesdb/internal/model"
	"github.com/sirupsen/logrus"
)

// BackupInfo describes a stored snapshot without its data.
type BackupInfo struct {
	MigrationID string    `json:"migrationId"`
	CreatedAt   time.Time `json:"createdAt"`
	Collections []string  `json:"collections"`
}

// backup copies every backed-up collection verbatim under
// migration_backups/<migrationID>. Nothing is mutated before it returns.
func (m *Manager) backup(ctx context.Context, migrationID string) (*model.BackupSnapshot, error) {
	snap := &model.BackupSnapshot{
		MigrationID: migrationID,
		Timestamp:   model.Timestamp(m.now()),
		Collections: append([]string(nil), BackedUpCollections...),
		Data:        make(map[string]any, len(BackedUpCollections)),
	}

	for _, collection := range BackedUpCollections {
		v, ok, err := m.store.Read(ctx, collection)
		if err != nil {
			return nil, fmt.Errorf("backup %s: %w", collection, err)
		}
		if ok {
			snap.Data[collection] = v
		}
	}

	if err := m.writeSnapshot(ctx, snap); err != nil {
		return nil, err
	}

	logrus.WithField("migration", migrationID).Infof("backup created with %d collections", len(snap.Data))

	return snap, nil
}

func (m *Manager) writeSnapshot(ctx context.Context, snap *model.BackupSnapshot) error {
	value, err := model.Encode(snap)
	if err != nil {
		return err
	}

	if err := m.store.Write(ctx, model.BackupPath(snap.MigrationID), value); err != nil {
		return fmt.Errorf("write backup %s: %w", snap.MigrationID, err)
	}

	return nil
}

// LoadBackup reads a snapshot. A missing snapshot is BackupUnavailable.
func (m *Manager) LoadBackup(ctx context.Context, migrationID string) (*model.BackupSnapshot, error) {
	const op = "loadBackup"

	if !model.ValidKey(migrationID) {
		return nil, apperr.New(apperr.ValidationFailed, op, "invalid migration id %q", migrationID)
	}

	v, ok, err := m.store.Read(ctx, model.BackupPath(migrationID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.New(apperr.BackupUnavailable, op, "no backup for migration %s", migrationID)
	}

	snap := &model.BackupSnapshot{}
	if err := model.Decode(v, snap); err != nil {
		return nil, apperr.Wrap(apperr.BackupUnavailable, op, err, "backup %s is unreadable", migrationID)
	}
	if snap.MigrationID == "" {
		snap.MigrationID = migrationID
	}

	return snap, nil
}

// ListBackups returns every snapshot, newest first.
func (m *Manager) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	v, _, err := m.store.Read(ctx, model.MigrationBackupsCollection)
	if err != nil {
		return nil, err
	}

	var out []BackupInfo
	for id, raw := range model.AsMap(v) {
		snap := &model.BackupSnapshot{}
		if err := model.Decode(raw, snap); err != nil {
			logrus.Warnf("migration: skipping unreadable backup %s: %v", id, err)
			continue
		}
		out = append(out, BackupInfo{MigrationID: id, CreatedAt: snap.CreatedAt(), Collections: snap.Collections})
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].MigrationID > out[j].MigrationID
	})

	return out, nil
}

// PruneBackups deletes snapshots older than retention. The newest snapshot
// is always kept so there is something to roll back to.
func (m *Manager) PruneBackups(ctx context.Context, retention time.Duration) ([]string, error) {
	backups, err := m.ListBackups(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := m.now().Add(-retention)
	var pruned []string
	for i, b := range backups {
		if i == 0 || !b.CreatedAt.Before(cutoff) {
			continue
		}
		if err := m.store.Delete(ctx, model.BackupPath(b.MigrationID)); err != nil {
			return pruned, fmt.Errorf("prune backup %s: %w", b.MigrationID, err)
		}
		pruned = append(pruned, b.MigrationID)
	}

	return pruned, nil
}

// ExportBackup writes a snapshot to path, compressed according to the file
// extension.
func (m *Manager) ExportBackup(ctx context.Context, migrationID, path string) error {
	snap, err := m.LoadBackup(ctx, migrationID)
	if err != nil {
		return err
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	encoded, err := compress.ForFile(path).Encode(data)
	if err != nil {
		return fmt.Errorf("compress backup %s: %w", migrationID, err)
	}

	return os.WriteFile(path, encoded, 0o600)
}

// ImportBackup loads a snapshot written by ExportBackup and stores it under
// its migration id so it can be rolled back to.
func (m *Manager) ImportBackup(ctx context.Context, path string) (*model.BackupSnapshot, error) {
	const op = "importBackup"

	encoded, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.BackupUnavailable, op, err, "")
	}

	data, err := compress.ForFile(path).Decode(encoded)
	if err != nil {
		return nil, apperr.Wrap(apperr.ValidationFailed, op, err, "decompress %s", path)
	}

	snap := &model.BackupSnapshot{}
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, apperr.Wrap(apperr.ValidationFailed, op, err, "decode %s", path)
	}
	if !model.ValidKey(snap.MigrationID) {
		return nil, apperr.New(apperr.ValidationFailed, op, "backup in %s has invalid migration id %q", path, snap.MigrationID)
	}

	if err := m.writeSnapshot(ctx, snap); err != nil {
		return nil, err
	}

	return snap, nil
}

// Checkpoints returns the audit trail of a migration ordered by time.
func (m *Manager) Checkpoints(ctx context.Context, migrationID string) ([]model.MigrationCheckpoint, error) {
	if !model.ValidKey(migrationID) {
		return nil, apperr.New(apperr.ValidationFailed, "checkpoints", "invalid migration id %q", migrationID)
	}

	v, _, err := m.store.Read(ctx, model.CheckpointsPath(migrationID))
	if err != nil {
		return nil, err
	}

	var out []model.MigrationCheckpoint
	for _, raw := range model.AsMap(v) {
		var cp model.MigrationCheckpoint
		if err := model.Decode(raw, &cp); err != nil {
			return nil, err
		}
		out = append(out, cp)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		if out[i].SaleID != out[j].SaleID {
			return out[i].SaleID < out[j].SaleID
		}
		return out[i].EntityType < out[j].EntityType
	})

	return out, nil
}
