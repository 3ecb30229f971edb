package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/emrgen/salesdb"
	"github.com/emrgen/salesdb/internal/service"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var duplicateCmd = &cobra.Command{
	Use:   "duplicate",
	Short: "duplicate detection commands",
}

func init() {
	duplicateCmd.AddCommand(checkDuplicateCommand())
}

func checkDuplicateCommand() *cobra.Command {
	var candidate service.Candidate
	var recordID string
	command := &cobra.Command{
		Use:   "check",
		Short: "find sales resembling a customer",
		RunE: func(cmd *cobra.Command, args []string) error {
			if candidate.Name == "" && candidate.Phone == "" && candidate.Email == "" {
				color.Red("missing: one of --name --phone --email")
				return nil
			}

			return withClient(func(ctx context.Context, c *salesdb.Client) error {
				res, err := c.Duplicates.Check(ctx, candidate)
				if err != nil {
					return printError(err)
				}

				if !res.HasDuplicate {
					color.Green("no duplicates")
					return nil
				}

				table := tablewriter.NewWriter(os.Stdout)
				table.SetHeader([]string{"Sale", "Match", "Confidence", "Similarity", "Name"})
				for _, m := range res.Matches {
					name := ""
					if m.Contact != nil {
						name = m.Contact.Name
					}
					table.Append([]string{m.SaleID, m.MatchType, string(m.Confidence), fmt.Sprintf("%.2f", m.Similarity), name})
				}
				table.Render()
				color.Yellow("%d matches, confidence %s", res.MatchCount, res.Confidence)

				if recordID != "" {
					if _, err := c.Duplicates.StoreMatch(ctx, recordID, res); err != nil {
						return printError(err)
					}
					color.Green("match stored for %s", recordID)
				}

				return nil
			})
		},
	}

	command.Flags().StringVarP(&candidate.Name, "name", "n", "", "customer name")
	command.Flags().StringVarP(&candidate.Phone, "phone", "p", "", "customer phone")
	command.Flags().StringVarP(&candidate.Email, "email", "e", "", "customer email")
	command.Flags().StringVar(&recordID, "record-id", "", "store the match under this record")

	return command
}
