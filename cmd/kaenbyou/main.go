package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"kaenbyou/cmd/internal/app"

	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "kaenbyou",
		Short:         "Chat message synchronization and event relay server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newServeCommand(), newMigrateCommand())
	return cmd
}

// loadConfig reads the environment and applies the flags that were set on
// the command line.
func loadConfig(cmd *cobra.Command) (app.Config, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return app.Config{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.HTTPAddr, _ = flags.GetString("addr")
	}
	if flags.Changed("config") {
		cfg.ConfigFile, _ = flags.GetString("config")
	}
	if flags.Changed("database-url") {
		cfg.DatabaseURL, _ = flags.GetString("database-url")
	}
	return cfg, nil
}

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync engine, the event stream and the REST API",
		Example: `  kaenbyou serve
  kaenbyou serve --addr 127.0.0.1:5140 --config bots.yaml
  KAENBYOU_DATABASE_URL=sqlite:file:kaenbyou.db kaenbyou serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return app.Serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides KAENBYOU_HTTP_ADDR)")
	cmd.Flags().String("config", "", "YAML file listing bots and webhooks (overrides KAENBYOU_CONFIG)")
	cmd.Flags().String("database-url", "", "store DSN (overrides KAENBYOU_DATABASE_URL)")
	return cmd
}

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the message store schema",
		Example: `  KAENBYOU_DATABASE_URL=postgres://localhost/kaenbyou kaenbyou migrate
  kaenbyou migrate --database-url sqlite:file:kaenbyou.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return app.Migrate(cmd.Context(), cfg)
		},
	}
	cmd.Flags().String("database-url", "", "store DSN (overrides KAENBYOU_DATABASE_URL)")
	return cmd
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "kaenbyou:", err)
		cancel()
		os.Exit(1)
	}
}
