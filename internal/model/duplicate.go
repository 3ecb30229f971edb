package model

// Confidence is a coarse match certainty bucket.
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// Rank orders tiers, higher is more certain. The empty tier ranks lowest.
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	}

	return 0
}

// MatchRef is the stored summary of one matched sale.
type MatchRef struct {
	SaleID          string     `json:"saleId"`
	MatchType       string     `json:"matchType"`
	MatchConfidence Confidence `json:"matchConfidence"`
}

// DuplicateMatch is the audit record written once a candidate is accepted.
type DuplicateMatch struct {
	RecordID   string     `json:"recordId"`
	DetectedAt string     `json:"detectedAt"`
	DetectedBy string     `json:"detectedBy,omitempty"`
	Confidence Confidence `json:"confidence"`
	MatchCount int        `json:"matchCount"`
	Matches    []MatchRef `json:"matches"`
}
