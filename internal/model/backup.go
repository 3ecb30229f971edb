package model

import "time"

// BackupSnapshot is a verbatim copy of the configured collections taken before
// a migration mutates anything. It is never modified after it is written.
type BackupSnapshot struct {
	MigrationID string `json:"migrationId"`
	Timestamp   string `json:"timestamp"`
	// Collections lists every collection that was backed up, including the
	// ones that were empty and therefore have no entry in Data.
	Collections []string       `json:"collections"`
	Data        map[string]any `json:"data"`
}

func (b *BackupSnapshot) CreatedAt() time.Time {
	t, _ := ParseTimestamp(b.Timestamp)
	return t
}

// MigrationCheckpoint records the children created for one sale and entity type.
type MigrationCheckpoint struct {
	SaleID     string   `json:"saleId"`
	EntityType string   `json:"entityType"`
	EntityIDs  []string `json:"entityIds"`
	Timestamp  string   `json:"timestamp"`
}

// SchemaVersion is the marker written after a successful migration.
type SchemaVersion struct {
	CurrentVersion  int    `json:"currentVersion"`
	PreviousVersion int    `json:"previousVersion"`
	MigrationDate   string `json:"migrationDate"`
	Description     string `json:"description"`
}

const (
	LegacySchemaVersion     = 1
	NormalizedSchemaVersion = 2
)
