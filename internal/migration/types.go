package migration

import (
	"fmt"
	"strings"
)

// State is a step of a migration run.
type State string

const (
	StateValidating     State = "VALIDATING"
	StateBackingUp      State = "BACKING_UP"
	StateMigrating      State = "MIGRATING"
	StateCleaningUp     State = "CLEANING_UP"
	StatePostValidating State = "POST_VALIDATING"
	StateVersioning     State = "VERSIONING"
	StateDone           State = "DONE"
	StateRollingBack    State = "ROLLING_BACK"
	StateFailed         State = "FAILED"
)

// FailurePolicy decides what a per-sale failure during MIGRATING does to the run.
type FailurePolicy string

const (
	// PolicyContinue records the failed sale, leaves its legacy fields in
	// place and carries on with the next one.
	PolicyContinue FailurePolicy = "continue"
	// PolicyAbort fails the run, and so rolls it back, on the first failed sale.
	PolicyAbort FailurePolicy = "abort"
)

func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case PolicyContinue, "":
		return PolicyContinue, nil
	case PolicyAbort:
		return PolicyAbort, nil
	}

	return "", fmt.Errorf("unknown migration failure policy %q", s)
}

// Analysis summarizes the legacy data found before migrating.
type Analysis struct {
	TotalSales          int   `json:"totalSales"`
	SalesWithAppliances int   `json:"salesWithAppliances"`
	SalesWithBoilers    int   `json:"salesWithBoilers"`
	TotalAppliances     int   `json:"totalAppliances"`
	TotalBoilers        int   `json:"totalBoilers"`
	DataSize            int64 `json:"dataSize"`
	LargeDataset        bool  `json:"largeDataset"`
}

// EntityError is one sale that could not be migrated.
type EntityError struct {
	SaleID string `json:"saleId"`
	Phase  string `json:"phase"`
	Error  string `json:"error"`
}

// PhaseResult counts the outcome of migrating one legacy shape.
type PhaseResult struct {
	Processed  int           `json:"processed"`
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	Errors     []EntityError `json:"errors"`
	Note       string        `json:"note,omitempty"`
}

type CleanupResult struct {
	EmbeddedArraysRemoved  int `json:"embeddedArraysRemoved"`
	EmbeddedObjectsRemoved int `json:"embeddedObjectsRemoved"`
	// Retained counts sales whose migration failed; their legacy fields stay.
	Retained             int `json:"retained"`
	OrphanedRecordsFound int `json:"orphanedRecordsFound"`
}

type PostValidation struct {
	Counts     map[string]int `json:"counts"`
	Sampled    int            `json:"sampled"`
	Mismatches []string       `json:"mismatches"`
}

// Result reports a migration run. It is returned even when the run fails.
type Result struct {
	MigrationID   string          `json:"migrationId"`
	State         State           `json:"state"`
	Success       bool            `json:"success"`
	RolledBack    bool            `json:"rolledBack"`
	Transitions   []State         `json:"transitions"`
	Analysis      *Analysis       `json:"analysis,omitempty"`
	Appliances    *PhaseResult    `json:"appliances,omitempty"`
	Boilers       *PhaseResult    `json:"boilers,omitempty"`
	DynamicFields *PhaseResult    `json:"dynamicFields,omitempty"`
	Cleanup       *CleanupResult  `json:"cleanup,omitempty"`
	Validation    *PostValidation `json:"validation,omitempty"`
	Error         string          `json:"error,omitempty"`
	StartedAt     string          `json:"startedAt"`
	FinishedAt    string          `json:"finishedAt,omitempty"`

	// sales whose MIGRATING step failed under PolicyContinue
	failed map[string]bool
}

func (r *Result) transition(s State) {
	r.State = s
	r.Transitions = append(r.Transitions, s)
}
