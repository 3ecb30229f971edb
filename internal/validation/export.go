package validation

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

const (
	summarySheet = "Summary"
	checksSheet  = "Checks"
)

// WriteXLSX exports the report as a workbook with a summary sheet and one row
// per check.
func (r *Report) WriteXLSX(path string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return err
	}
	if _, err := f.NewSheet(checksSheet); err != nil {
		return err
	}

	s := r.Summary
	summary := [][]any{
		{"Timestamp", s.Timestamp},
		{"Total", s.TotalTests},
		{"Passed", s.TotalPassed},
		{"Failed", s.TotalFailed},
		{"Success rate", s.SuccessRate},
		{"Status", s.OverallStatus},
		{"Severity", string(s.Severity)},
		{"Verdict", string(r.Verdict())},
	}
	for i, row := range summary {
		if err := f.SetSheetRow(summarySheet, fmt.Sprintf("A%d", i+1), &row); err != nil {
			return err
		}
	}

	row := len(summary) + 2
	for _, rec := range r.Recommendations {
		line := []any{string(rec.Priority), rec.Category, rec.Issue, rec.Recommendation, rec.Impact}
		if err := f.SetSheetRow(summarySheet, fmt.Sprintf("A%d", row), &line); err != nil {
			return err
		}
		row++
	}

	header := []any{"Category", "Check", "Result", "Duration (ms)", "Details", "Recommendation"}
	if err := f.SetSheetRow(checksSheet, "A1", &header); err != nil {
		return err
	}
	row = 2
	for _, c := range r.Categories {
		for _, ch := range c.Checks {
			status := "FAIL"
			if ch.Passed {
				status = "PASS"
			}
			line := []any{c.Category.Title(), ch.Name, status, ch.Duration.Milliseconds(), ch.Details, ch.Recommendation}
			if err := f.SetSheetRow(checksSheet, fmt.Sprintf("A%d", row), &line); err != nil {
				return err
			}
			row++
		}
	}

	return f.SaveAs(path)
}
