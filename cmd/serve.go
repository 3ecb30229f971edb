package cmd

import (
	"context"

	"github.com/emrgen/salesdb/internal/server"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var port string
	command := &cobra.Command{
		Use:   "serve",
		Short: "start the http server and scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			c, err := openClient(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.Jobs.Start(); err != nil {
				return err
			}
			defer c.Jobs.Stop()

			if port == "" {
				port = c.Config.HTTPPort
			}

			return server.NewServer(server.Services{
				Store:         c.Store,
				Relationships: c.Relationships,
				Duplicates:    c.Duplicates,
				Migrations:    c.Migrations,
				Validation:    c.Validation,
				Tokens:        c.Tokens,
				Gatherer:      c.Registry,
			}).Start(port)
		},
	}

	command.Flags().StringVar(&port, "port", "", "http port, defaults to HTTP_PORT")

	return command
}
