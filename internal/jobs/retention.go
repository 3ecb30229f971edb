package jobs

import (
	"context"
	"time"

	"github.com/emrgen/salesdb/internal/migration"
	"github.com/emrgen/salesdb/internal/model"
	"github.com/sirupsen/logrus"
)

// BackupRetentionTask deletes migration snapshots older than the retention
// period. The newest snapshot always survives.
type BackupRetentionTask struct {
	migrations *migration.Manager
	retention  time.Duration
	schedule   string
}

func NewBackupRetentionTask(schedule string, retention time.Duration, m *migration.Manager) *BackupRetentionTask {
	return &BackupRetentionTask{migrations: m, retention: retention, schedule: schedule}
}

func (b *BackupRetentionTask) ID() string {
	return "backup_retention"
}

func (b *BackupRetentionTask) Schedule() string {
	return b.schedule
}

func (b *BackupRetentionTask) Run() {
	if b.retention <= 0 {
		return
	}

	ctx := model.WithPrincipal(context.Background(), Scheduler)
	pruned, err := b.migrations.PruneBackups(ctx, b.retention)
	if err != nil {
		logrus.Errorf("backup retention: %v", err)
	}
	if len(pruned) > 0 {
		logrus.Infof("backup retention removed %d snapshots: %v", len(pruned), pruned)
	}
}
