package validation

import (
	"fmt"
	"time"
)

// Category groups related checks.
type Category string

const (
	RelationshipIntegrity Category = "relationshipIntegrity"
	MigrationIntegrity    Category = "migrationIntegrity"
	Performance           Category = "performanceMetrics"
	Security              Category = "securityValidation"
	Functional            Category = "functionalRequirements"
)

// Categories in the order they run.
func Categories() []Category {
	return []Category{RelationshipIntegrity, MigrationIntegrity, Performance, Security, Functional}
}

func (c Category) Title() string {
	switch c {
	case RelationshipIntegrity:
		return "Relationship Integrity"
	case MigrationIntegrity:
		return "Migration Integrity"
	case Performance:
		return "Performance"
	case Security:
		return "Security"
	case Functional:
		return "Functional"
	}

	return string(c)
}

// Severity is what a failure in a category means for a release.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityLow      Severity = "LOW"
)

func (c Category) Severity() Severity {
	switch c {
	case RelationshipIntegrity, MigrationIntegrity, Security:
		return SeverityCritical
	}

	return SeverityHigh
}

type Verdict string

const (
	DeploymentReady    Verdict = "DEPLOYMENT_READY"
	FixesRequired      Verdict = "FIXES_REQUIRED"
	OptimizationNeeded Verdict = "OPTIMIZATION_NEEDED"
)

const (
	StatusPassed = "VALIDATION_PASSED"
	StatusFailed = "VALIDATION_FAILED"
)

// CheckResult is the outcome of one named check.
type CheckResult struct {
	Name           string        `json:"name"`
	Passed         bool          `json:"passed"`
	Details        string        `json:"details"`
	Recommendation string        `json:"recommendation,omitempty"`
	Duration       time.Duration `json:"duration"`
}

type CategoryResult struct {
	Category Category      `json:"category"`
	Passed   int           `json:"passed"`
	Failed   int           `json:"failed"`
	Checks   []CheckResult `json:"checks"`
}

type Recommendation struct {
	Priority       Severity `json:"priority"`
	Category       string   `json:"category"`
	Issue          string   `json:"issue"`
	Recommendation string   `json:"recommendation"`
	Impact         string   `json:"impact"`
}

type NextSteps struct {
	Phase   Verdict  `json:"phase"`
	Actions []string `json:"actions"`
}

type Summary struct {
	Timestamp     string   `json:"timestamp"`
	TotalTests    int      `json:"totalTests"`
	TotalPassed   int      `json:"totalPassed"`
	TotalFailed   int      `json:"totalFailed"`
	SuccessRate   string   `json:"successRate"`
	OverallStatus string   `json:"overallStatus"`
	Severity      Severity `json:"severity"`
}

// Report is the full result of a validation run.
type Report struct {
	Summary         Summary          `json:"summary"`
	Categories      []CategoryResult `json:"categories"`
	Recommendations []Recommendation `json:"recommendations"`
	NextSteps       NextSteps        `json:"nextSteps"`
}

// Category returns the result for c, or nil when it did not run.
func (r *Report) Category(c Category) *CategoryResult {
	for i := range r.Categories {
		if r.Categories[i].Category == c {
			return &r.Categories[i]
		}
	}

	return nil
}

// Verdict is the next-step phase of the report.
func (r *Report) Verdict() Verdict {
	return r.NextSteps.Phase
}

var advice = map[Category]struct{ recommendation, impact string }{
	RelationshipIntegrity: {"Fix relationship integrity issues before production deployment", "Data corruption and inconsistent application behavior"},
	MigrationIntegrity:    {"Re-run or roll back the migration before production deployment", "Legacy and normalized data disagree"},
	Performance:           {"Optimize query performance and caching strategies", "Poor user experience and scalability issues"},
	Security:              {"Address security vulnerabilities immediately", "Data breaches and compliance violations"},
	Functional:            {"Fix failing child management operations", "Users cannot manage appliances, boilers or custom fields"},
}

// synthesize derives the summary, recommendations and next steps.
func synthesize(report *Report, timestamp string) {
	s := &report.Summary
	s.Timestamp = timestamp
	s.Severity = SeverityLow

	critical := 0
	for _, c := range report.Categories {
		s.TotalTests += c.Passed + c.Failed
		s.TotalPassed += c.Passed
		s.TotalFailed += c.Failed

		if c.Failed == 0 {
			continue
		}

		severity := c.Category.Severity()
		if severity == SeverityCritical {
			critical++
			s.Severity = SeverityCritical
		} else if s.Severity != SeverityCritical {
			s.Severity = severity
		}

		a := advice[c.Category]
		report.Recommendations = append(report.Recommendations, Recommendation{
			Priority:       severity,
			Category:       c.Category.Title(),
			Issue:          fmt.Sprintf("%d %s checks failed", c.Failed, c.Category.Title()),
			Recommendation: a.recommendation,
			Impact:         a.impact,
		})
	}

	rate := 0.0
	if s.TotalTests > 0 {
		rate = float64(s.TotalPassed) / float64(s.TotalTests) * 100
	}
	s.SuccessRate = fmt.Sprintf("%.1f%%", rate)

	switch {
	case s.TotalFailed == 0:
		s.OverallStatus = StatusPassed
		report.Recommendations = []Recommendation{{
			Priority:       SeverityLow,
			Category:       "General",
			Issue:          "All validation checks passed",
			Recommendation: "Proceed to production deployment",
			Impact:         "System ready for production use",
		}}
		report.NextSteps = NextSteps{Phase: DeploymentReady, Actions: []string{
			"Prepare the production deployment plan",
			"Schedule the production migration window",
			"Set up production monitoring",
		}}
	case critical > 0:
		s.OverallStatus = StatusFailed
		report.NextSteps = NextSteps{Phase: FixesRequired, Actions: []string{
			"Address critical validation failures",
			"Re-run validation after the fixes",
			"Delay production deployment until the issues are resolved",
		}}
	default:
		s.OverallStatus = StatusFailed
		report.NextSteps = NextSteps{Phase: OptimizationNeeded, Actions: []string{
			"Address performance and functional issues",
			"Re-run validation after the optimizations",
			"Consider a phased rollout",
		}}
	}
}
