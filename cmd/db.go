package cmd

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/emrgen/salesdb"
	"github.com/emrgen/salesdb/internal/migration"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "migration and backup commands",
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "migration backup commands",
}

func init() {
	dbCmd.AddCommand(migrateCommand())
	dbCmd.AddCommand(rollbackCommand())
	dbCmd.AddCommand(checkpointsCommand())
	dbCmd.AddCommand(backupCmd)

	backupCmd.AddCommand(listBackupsCommand())
	backupCmd.AddCommand(exportBackupCommand())
	backupCmd.AddCommand(importBackupCommand())
	backupCmd.AddCommand(pruneBackupsCommand())
}

func migrateCommand() *cobra.Command {
	var policy string
	command := &cobra.Command{
		Use:   "migrate",
		Short: "migrate embedded appliances and boilers into normalized collections",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *salesdb.Client) error {
				m := c.Migrations
				if cmd.Flags().Changed("policy") {
					p, err := migration.ParseFailurePolicy(policy)
					if err != nil {
						return printError(err)
					}
					m = c.MigrationsWith(migration.WithPolicy(p))
				}

				res, err := m.Run(ctx)
				printMigration(res)
				if err != nil {
					return printError(err)
				}

				color.Green("migration %s complete", res.MigrationID)
				return nil
			})
		},
	}

	command.Flags().StringVarP(&policy, "policy", "p", "", "per-sale failure policy: continue or abort")

	return command
}

func printMigration(res *migration.Result) {
	if res == nil {
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Phase", "Processed", "Successful", "Failed", "Skipped"})
	for _, row := range []struct {
		name  string
		phase *migration.PhaseResult
	}{
		{"appliances", res.Appliances},
		{"boilers", res.Boilers},
		{"dynamic fields", res.DynamicFields},
	} {
		if row.phase == nil {
			continue
		}
		table.Append([]string{row.name, itoa(row.phase.Processed), itoa(row.phase.Successful), itoa(row.phase.Failed), itoa(row.phase.Skipped)})
	}
	table.Render()

	states := make([]string, 0, len(res.Transitions))
	for _, s := range res.Transitions {
		states = append(states, string(s))
	}
	color.Cyan("%s: %s", res.MigrationID, strings.Join(states, " -> "))

	if res.RolledBack {
		color.Yellow("migration was rolled back: %s", res.Error)
	}
}

func rollbackCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "rollback <migration-id>",
		Short: "restore the backup taken before a migration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *salesdb.Client) error {
				if err := c.Migrations.Rollback(ctx, args[0]); err != nil {
					return printError(err)
				}

				color.Green("rolled back %s", args[0])
				return nil
			})
		},
	}

	return command
}

func checkpointsCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "checkpoints <migration-id>",
		Short: "list the entities a migration created per sale",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *salesdb.Client) error {
				checkpoints, err := c.Migrations.Checkpoints(ctx, args[0])
				if err != nil {
					return printError(err)
				}

				table := tablewriter.NewWriter(os.Stdout)
				table.SetHeader([]string{"Sale", "Type", "Entities", "Timestamp"})
				for _, cp := range checkpoints {
					table.Append([]string{cp.SaleID, cp.EntityType, strings.Join(cp.EntityIDs, ","), cp.Timestamp})
				}
				table.Render()

				return nil
			})
		},
	}

	return command
}

func listBackupsCommand() *cobra.Command {
	var asJSON bool
	command := &cobra.Command{
		Use:   "list",
		Short: "list migration backups",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *salesdb.Client) error {
				backups, err := c.Migrations.ListBackups(ctx)
				if err != nil {
					return printError(err)
				}

				if asJSON {
					enc := json.NewEncoder(os.Stdout)
					enc.SetIndent("", "  ")
					return enc.Encode(backups)
				}

				table := tablewriter.NewWriter(os.Stdout)
				table.SetHeader([]string{"Migration", "Created", "Collections"})
				for _, b := range backups {
					table.Append([]string{b.MigrationID, b.CreatedAt.Format(time.RFC3339), strings.Join(b.Collections, ",")})
				}
				table.Render()

				return nil
			})
		},
	}

	command.Flags().BoolVar(&asJSON, "json", false, "print as json")

	return command
}

func exportBackupCommand() *cobra.Command {
	var file string
	command := &cobra.Command{
		Use:   "export <migration-id>",
		Short: "write a backup to a file, compressed by extension (.gz .br .lz4)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if checkMissingFlags(cmd, []string{"file"}) {
				return nil
			}

			return withClient(func(ctx context.Context, c *salesdb.Client) error {
				if err := c.Migrations.ExportBackup(ctx, args[0], file); err != nil {
					return printError(err)
				}

				color.Green("backup %s written to %s", args[0], file)
				return nil
			})
		},
	}

	command.Flags().StringVarP(&file, "file", "f", "", "output file (required)")

	return command
}

func importBackupCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "import <file>",
		Short: "store a backup file written by export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *salesdb.Client) error {
				snap, err := c.Migrations.ImportBackup(ctx, args[0])
				if err != nil {
					return printError(err)
				}

				color.Green("backup %s imported", snap.MigrationID)
				return nil
			})
		},
	}

	return command
}

func pruneBackupsCommand() *cobra.Command {
	var retention time.Duration
	command := &cobra.Command{
		Use:   "prune",
		Short: "delete backups older than the retention, keeping the newest",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *salesdb.Client) error {
				if !cmd.Flags().Changed("retention") {
					retention = c.Config.BackupRetention
				}

				removed, err := c.Migrations.PruneBackups(ctx, retention)
				if err != nil {
					return printError(err)
				}

				if len(removed) == 0 {
					color.Yellow("nothing to prune")
					return nil
				}
				for _, id := range removed {
					color.Green("removed %s", id)
				}

				return nil
			})
		},
	}

	command.Flags().DurationVarP(&retention, "retention", "r", 0, "maximum backup age, defaults to BACKUP_RETENTION")

	return command
}
