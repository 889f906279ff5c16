package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/baxromumarov/estate-hunter/internal/app"
	"github.com/baxromumarov/estate-hunter/internal/config"
)

const flagDatabaseURL = "db"

var databaseURL string

func init() {
	RootCmd.PersistentFlags().StringVar(&databaseURL, flagDatabaseURL, "", "Postgres connection string (env: DATABASE_URL)")

	RootCmd.AddCommand(newMigrateCmd())
	RootCmd.AddCommand(newRunCmd())
	RootCmd.AddCommand(newRunAllCmd())
	RootCmd.AddCommand(newReconcileCmd())
	RootCmd.AddCommand(newImportJobsCmd())
	RootCmd.AddCommand(newFetchCmd())
}

// RootCmd is the operator CLI for one-off pipeline tasks.
var RootCmd = &cobra.Command{
	Use:          "estate-tools",
	Short:        "Operator commands for the estate-hunter pipeline",
	SilenceUsage: true,
}

// loadConfig applies the --db flag over the environment and file settings.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if cmd.Flags().Changed(flagDatabaseURL) {
		if err := os.Setenv("DATABASE_URL", databaseURL); err != nil {
			return nil, err
		}
	}
	return config.Load()
}

// withApp builds the pipeline, runs fn and releases connections.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.New(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
