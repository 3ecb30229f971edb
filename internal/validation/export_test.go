package validation

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestReport_WriteXLSX(t *testing.T) {
	report := &Report{Categories: []CategoryResult{{
		Category: Security,
		Passed:   1,
		Failed:   1,
		Checks: []CheckResult{
			{Name: "Data Isolation", Passed: true, Details: "ok", Duration: 3 * time.Millisecond},
			{Name: "Input Validation", Details: "accepted bad email", Recommendation: "Enhance input validation"},
		},
	}}}
	synthesize(report, "2024-01-01T00:00:00Z")

	path := filepath.Join(t.TempDir(), "report.xlsx")
	require.NoError(t, report.WriteXLSX(path))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	verdict, err := f.GetCellValue(summarySheet, "B8")
	require.NoError(t, err)
	assert.Equal(t, string(FixesRequired), verdict)

	rows, err := f.GetRows(checksSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Security", "Input Validation", "FAIL", "0", "accepted bad email", "Enhance input validation"}, rows[2])
}
