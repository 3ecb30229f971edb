package model

import "strings"

// Top-level collections of the document store.
const (
	SalesCollection                = "sales"
	AppliancesCollection           = "appliances"
	BoilersCollection              = "boilers"
	DynamicFieldValuesCollection   = "dynamicFieldValues"
	FormFieldsCollection           = "form_fields"
	UsersCollection                = "users"
	ProcessorProfilesCollection    = "processor_profiles"
	MigrationBackupsCollection     = "migration_backups"
	MigrationCheckpointsCollection = "migration_checkpoints"
	SchemaVersionPath              = "schema_version"
	DuplicateMatchesCollection     = "duplicate_matches"
	OperationLogsCollection        = "operation_logs"
	MigrationCanaryPath            = "migration_test"
)

// Sale fields managed by this layer.
const (
	FieldSaleID  = "saleId"
	FieldOwnerID = "agentId"
	FieldContact = "contact"

	FieldStatus    = "status"
	FieldVersion   = "version"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"

	FieldMigratedFrom  = "migratedFrom"
	FieldMigrationDate = "migrationDate"

	// legacy embedded shapes
	FieldLegacyAppliances = "appliances"
	FieldLegacyBoiler     = "boilerCoverage"
)

// Join builds a store path from its segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

func SalePath(id string) string {
	return Join(SalesCollection, id)
}

func ChildPath(t ChildType, id string) string {
	return Join(t.Collection(), id)
}

// RelationshipPath is the path of the sale's relationship array for t.
func RelationshipPath(saleID string, t ChildType) string {
	return Join(SalesCollection, saleID, t.ArrayField())
}

func FieldDefinitionPath(id string) string {
	return Join(FormFieldsCollection, id)
}

func UserRolePath(uid string) string {
	return Join(UsersCollection, uid, "role")
}

func BackupPath(migrationID string) string {
	return Join(MigrationBackupsCollection, migrationID)
}

func CheckpointsPath(migrationID string) string {
	return Join(MigrationCheckpointsCollection, migrationID)
}

func DuplicateMatchPath(recordID string) string {
	return Join(DuplicateMatchesCollection, recordID)
}

func OperationLogPath(id string) string {
	return Join(OperationLogsCollection, id)
}

// ValidKey reports whether s can be used as a single path segment.
func ValidKey(s string) bool {
	if s == "" || strings.TrimSpace(s) != s {
		return false
	}

	return !strings.ContainsAny(s, "/.#$[]")
}
