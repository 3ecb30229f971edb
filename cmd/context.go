package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/emrgen/salesdb/internal/config"
	"github.com/emrgen/salesdb/internal/model"
	"github.com/emrgen/salesdb/internal/module"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	configFileName = "salesdb"
	configDir      = "./.tmp"
)

var contextCommand = &cobra.Command{
	Use:   "context",
	Short: "context commands",
}

func init() {
	contextCommand.AddCommand(setContextCommand())
	contextCommand.AddCommand(issueContextCommand())
	contextCommand.AddCommand(currentContextCommand())
	contextCommand.AddCommand(resetContextCommand())
}

type Context struct {
	Token string `mapstructure:"token"`
}

// saves the context info to the config file in ./.tmp
func setContextCommand() *cobra.Command {
	var token string
	command := &cobra.Command{
		Use:   "set",
		Short: "set the access token used by other commands",
		Run: func(cmd *cobra.Command, args []string) {
			if token == "" {
				color.Red(`missing: --token`)
				return
			}

			writeContext(Context{Token: token})
		},
	}

	command.Flags().StringVarP(&token, "token", "t", "", "token")

	return command
}

// issueContextCommand signs a token with the local JWT secret, for operators
// running the tool next to the store.
func issueContextCommand() *cobra.Command {
	var user, role string
	command := &cobra.Command{
		Use:   "issue",
		Short: "issue and save a token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if checkMissingFlags(cmd, []string{"user"}) {
				return nil
			}

			cfg, err := config.LoadConfig()
			if err != nil {
				return printError(err)
			}

			token, err := module.NewTokenService(cfg.JWTSecret, cfg.TokenTTL).Issue(model.Principal{ID: user, Role: role})
			if err != nil {
				return printError(err)
			}

			writeContext(Context{Token: token})
			if !cmd.Flags().Changed("quiet") {
				fmt.Println(token)
			}

			return nil
		},
	}

	command.Flags().StringVarP(&user, "user", "u", "", "user id (required)")
	command.Flags().StringVarP(&role, "role", "r", "", "role, looked up under users/<id>/role when empty")
	command.Flags().BoolP("quiet", "q", false, "do not print the token")

	return command
}

func currentContextCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "current",
		Short: "current context",
		RunE: func(cmd *cobra.Command, args []string) error {
			token := readContext().Token
			if token == "" {
				color.Yellow("no context set")
				return nil
			}

			cfg, err := config.LoadConfig()
			if err != nil {
				return printError(err)
			}
			p, err := module.NewTokenService(cfg.JWTSecret, cfg.TokenTTL).Verify(token)
			if err != nil {
				color.Red("token is not valid here: %v", err)
				return nil
			}

			role := p.Role
			if role == "" {
				role = "(stored role)"
			}
			color.Green("user: %s role: %s", p.ID, role)

			return nil
		},
	}

	return command
}

func resetContextCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "reset",
		Short: "reset context",
		Run: func(cmd *cobra.Command, args []string) {
			writeContext(Context{})
		},
	}

	return command
}

func contextPath() string {
	return filepath.Join(configDir, configFileName+".yml")
}

func writeContext(context Context) {
	if err := os.MkdirAll(configDir, os.ModePerm); err != nil {
		fmt.Println("error creating config dir: ", err)
		return
	}

	v := viper.New()
	v.SetConfigType("yml")
	v.Set("context.token", context.Token)

	if err := v.WriteConfigAs(contextPath()); err != nil {
		fmt.Println("error writing config file: ", err)
	} else {
		fmt.Println("context saved")
	}
}

func readContext() Context {
	var ctx Context

	if _, err := os.Stat(contextPath()); os.IsNotExist(err) {
		return ctx
	}

	v := viper.New()
	v.SetConfigFile(contextPath())
	v.SetConfigType("yml")

	if err := v.ReadInConfig(); err != nil {
		fmt.Println("error reading config file: ", err)
		return ctx
	}

	if err := v.UnmarshalKey("context", &ctx); err != nil {
		fmt.Println("error unmarshalling config file: ", err)
	}

	return ctx
}
