package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/emrgen/salesdb"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func statsCmd() *cobra.Command {
	var filters map[string]string
	command := &cobra.Command{
		Use:   "stats",
		Short: "appliance statistics",
		Example: `salesdb stats
salesdb stats --filter type=Fridge --filter make=Bosch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *salesdb.Client) error {
				stats, err := c.Relationships.ApplianceStatistics(ctx, filters)
				if err != nil {
					return printError(err)
				}

				fmt.Printf("appliances: %d  total value: %s  average cost: %s\n",
					stats.TotalCount, stats.TotalValue.StringFixed(2), stats.AverageCost.StringFixed(2))

				table := tablewriter.NewWriter(os.Stdout)
				table.SetHeader([]string{"Group", "Value", "Count"})
				table.SetAutoMergeCells(true)
				for _, group := range []struct {
					name   string
					counts map[string]int
				}{
					{"type", stats.ByType},
					{"make", stats.ByMake},
					{"age", stats.ByAge},
				} {
					keys := make([]string, 0, len(group.counts))
					for k := range group.counts {
						keys = append(keys, k)
					}
					sort.Strings(keys)
					for _, k := range keys {
						table.Append([]string{group.name, k, itoa(group.counts[k])})
					}
				}
				table.Render()

				return nil
			})
		},
	}

	command.Flags().StringToStringVarP(&filters, "filter", "f", nil, "field=value filters")

	return command
}
