package model

// OperationLog is one audit trail entry for a relationship change.
type OperationLog struct {
	ID        string         `json:"id"`
	Operation string         `json:"operation"`
	Details   map[string]any `json:"details"`
	UserID    string         `json:"userId"`
	Timestamp string         `json:"timestamp"`
}
