package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/emrgen/salesdb"
	"github.com/emrgen/salesdb/internal/validation"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func validateCmd() *cobra.Command {
	var xlsx string
	var asJSON bool
	command := &cobra.Command{
		Use:   "validate",
		Short: "run the validation suite against the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *salesdb.Client) error {
				report := c.Validation.Run(ctx)

				if asJSON {
					enc := json.NewEncoder(os.Stdout)
					enc.SetIndent("", "  ")
					if err := enc.Encode(report); err != nil {
						return err
					}
				} else {
					printReport(report)
				}

				if xlsx != "" {
					if err := report.WriteXLSX(xlsx); err != nil {
						return printError(err)
					}
					color.Green("report written to %s", xlsx)
				}

				if report.Verdict() == validation.FixesRequired {
					return fmt.Errorf("validation failed with %d critical issues", report.Summary.TotalFailed)
				}

				return nil
			})
		},
	}

	command.Flags().StringVar(&xlsx, "xlsx", "", "also write the report to an xlsx workbook")
	command.Flags().BoolVar(&asJSON, "json", false, "print the report as json")

	return command
}

func printReport(report *validation.Report) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Category", "Check", "Result", "Details"})
	table.SetAutoMergeCells(true)
	table.SetRowLine(true)

	for _, c := range report.Categories {
		for _, check := range c.Checks {
			result := color.GreenString("PASS")
			if !check.Passed {
				result = color.RedString("FAIL")
			}
			table.Append([]string{c.Category.Title(), check.Name, result, check.Details})
		}
	}
	table.Render()

	s := report.Summary
	line := fmt.Sprintf("%d/%d passed (%s) %s", s.TotalPassed, s.TotalTests, s.SuccessRate, report.Verdict())
	switch report.Verdict() {
	case validation.DeploymentReady:
		color.Green("%s", line)
	case validation.OptimizationNeeded:
		color.Yellow("%s", line)
	default:
		color.Red("%s", line)
	}

	for _, r := range report.Recommendations {
		fmt.Printf("  [%s] %s: %s\n", r.Priority, r.Category, r.Recommendation)
	}
}
