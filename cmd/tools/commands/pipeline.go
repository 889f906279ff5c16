package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/baxromumarov/estate-hunter/internal/app"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Store.RunMigrations(ctx); err != nil {
					return fmt.Errorf("run migrations: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Migrations executed successfully")
				return nil
			})
		},
	}
}

func newRunCmd() *cobra.Command {
	var jobID string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one job across its enabled providers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				report, err := a.Orchestrator.RunJobByID(ctx, jobID)
				if err != nil {
					return fmt.Errorf("run job %s: %w", jobID, err)
				}
				return printJSON(cmd.OutOrStdout(), summarize(report))
			})
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "job id to run")
	_ = cmd.MarkFlagRequired("job")
	return cmd
}

func newRunAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-all",
		Short: "Run every enabled job once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				reports, err := a.Orchestrator.RunAll(ctx)
				if err != nil {
					return err
				}
				out := make([]runSummary, 0, len(reports))
				for _, r := range reports {
					out = append(out, summarize(r))
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
}

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Re-check stored listings and deactivate the ones that are gone",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				report, err := a.Reconciler.Run(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
}
