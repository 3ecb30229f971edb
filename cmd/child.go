package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/emrgen/salesdb"
	"github.com/emrgen/salesdb/internal/model"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var childCmd = &cobra.Command{
	Use:   "child",
	Short: "appliance, boiler and field value commands",
}

var saleCmd = &cobra.Command{
	Use:   "sale",
	Short: "sale commands",
}

func init() {
	childCmd.AddCommand(addChildCommand())
	childCmd.AddCommand(updateChildCommand())
	childCmd.AddCommand(removeChildCommand())
	childCmd.AddCommand(listChildrenCommand())

	saleCmd.AddCommand(deleteSaleCommand())
}

// parseData decodes a --data flag as a json object.
func parseData(data string) (map[string]any, error) {
	fields := map[string]any{}
	if data == "" {
		return fields, nil
	}
	if err := json.Unmarshal([]byte(data), &fields); err != nil {
		return nil, fmt.Errorf("--data is not a json object: %w", err)
	}

	return fields, nil
}

func addChildCommand() *cobra.Command {
	var data string
	command := &cobra.Command{
		Use:   "add <sale-id> <appliance|boiler|field>",
		Short: "add a child to a sale",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := model.ParseChildType(args[1])
			if err != nil {
				return printError(err)
			}
			fields, err := parseData(data)
			if err != nil {
				return printError(err)
			}

			return withClient(func(ctx context.Context, c *salesdb.Client) error {
				id, err := c.Relationships.AddChild(ctx, args[0], t, fields)
				if err != nil {
					return printError(err)
				}

				fmt.Println(id)
				return nil
			})
		},
	}

	command.Flags().StringVarP(&data, "data", "d", "", "child fields as a json object")

	return command
}

func updateChildCommand() *cobra.Command {
	var data string
	command := &cobra.Command{
		Use:   "update <child-id>",
		Short: "patch a child",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if checkMissingFlags(cmd, []string{"data"}) {
				return nil
			}
			patch, err := parseData(data)
			if err != nil {
				return printError(err)
			}

			return withClient(func(ctx context.Context, c *salesdb.Client) error {
				child, err := c.Relationships.UpdateChild(ctx, args[0], patch)
				if err != nil {
					return printError(err)
				}

				color.Green("%s %s is at version %d", child.Type, child.ID, model.AsInt64(child.Fields["version"]))
				return nil
			})
		},
	}

	command.Flags().StringVarP(&data, "data", "d", "", "fields to change as a json object (required)")

	return command
}

func removeChildCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "remove <child-id>",
		Short: "remove a child and unlink it from its sale",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *salesdb.Client) error {
				if err := c.Relationships.RemoveChild(ctx, args[0]); err != nil {
					return printError(err)
				}

				color.Green("removed %s", args[0])
				return nil
			})
		},
	}

	return command
}

func listChildrenCommand() *cobra.Command {
	var noCache bool
	command := &cobra.Command{
		Use:   "list <sale-id>",
		Short: "list the children of a sale",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *salesdb.Client) error {
				agg, err := c.Relationships.GetAggregate(ctx, args[0], !noCache)
				if err != nil {
					return printError(err)
				}

				table := tablewriter.NewWriter(os.Stdout)
				table.SetHeader([]string{"Type", "ID", "Status", "Version", "Fields"})
				for _, child := range agg.All() {
					table.Append([]string{
						string(child.Type),
						child.ID,
						model.AsString(child.Fields["status"]),
						itoa(int(model.AsInt64(child.Fields["version"]))),
						fieldNames(child.Fields),
					})
				}
				table.Render()

				return nil
			})
		},
	}

	command.Flags().BoolVar(&noCache, "no-cache", false, "read through to the store")

	return command
}

func deleteSaleCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "delete <sale-id>",
		Short: "delete a sale and all of its children",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *salesdb.Client) error {
				res, err := c.Relationships.CascadeDelete(ctx, args[0])
				if err != nil {
					return printError(err)
				}

				for _, t := range model.ChildTypes() {
					if n := res.Deleted[t]; n > 0 {
						fmt.Printf("  %s: %d\n", t, n)
					}
				}
				color.Green("deleted sale %s", res.SaleID)

				return nil
			})
		},
	}

	return command
}

func fieldNames(fields map[string]any) string {
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)

	return fmt.Sprint(names)
}

func itoa(n int) string {
	return fmt.Sprintf("%d", n)
}
