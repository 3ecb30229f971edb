package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/emrgen/salesdb"
	"github.com/emrgen/salesdb/internal/config"
	"github.com/emrgen/salesdb/internal/model"
	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "salesdb",
	Short: "sale record relationship and migration tool",
	Example: `salesdb context issue --user admin-1 --role admin
salesdb db migrate
salesdb db rollback <migration-id>
salesdb validate --xlsx report.xlsx
salesdb child add <sale-id> appliance --data '{"type":"Fridge"}'
salesdb child list <sale-id>
salesdb duplicate check --phone "07400 123456"
salesdb serve`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(contextCommand)
	rootCmd.AddCommand(childCmd)
	rootCmd.AddCommand(saleCmd)
	rootCmd.AddCommand(duplicateCmd)
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.SetHelpCommand(&cobra.Command{Use: "no-help", Hidden: true})

	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	cobra.EnableCommandSorting = false
}

// openClient loads the configuration and connects the backends.
func openClient(ctx context.Context) (*salesdb.Client, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	config.SetupLogger(cfg)

	return salesdb.New(ctx, cfg)
}

// withClient runs fn with a connected client and the principal of the saved
// context token.
func withClient(fn func(ctx context.Context, c *salesdb.Client) error) error {
	ctx := context.Background()

	c, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logrus.Warnf("close: %v", err)
		}
	}()

	if token := readContext().Token; token != "" {
		p, err := c.Tokens.Verify(token)
		if err != nil {
			color.Red("saved context token is invalid, run `salesdb context issue` again")
			return err
		}
		ctx = model.WithPrincipal(ctx, p)
	}

	return fn(ctx, c)
}

func checkMissingFlags(cmd *cobra.Command, required []string) bool {
	var missing []string
	for _, name := range required {
		if f := cmd.Flags().Lookup(name); f != nil && !f.Changed {
			missing = append(missing, "--"+name)
		}
	}

	if len(missing) > 0 {
		color.Red("missing: %s\n", strings.Join(missing, " "))
		cmd.Println("")
		_ = cmd.Usage()
		return true
	}

	return false
}

func printError(err error) error {
	color.Red("%v", err)
	return fmt.Errorf("command failed: %w", err)
}
