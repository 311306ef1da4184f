package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/kirillkom/trade-evidence/internal/bootstrap"
)

var closeCmd = &cobra.Command{
	Use:   "close <case-id>",
	Short: "Close a case; further uploads and review actions are rejected",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			c, err := app.Cases.Close(ctx, args[0], actor)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), c)
		})
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile <case-id>",
	Short: "Reconcile extracted fields into the canonical view",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			view, err := app.Evaluator.Reconcile(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), view)
		})
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate <case-id>",
	Short: "Run validation rules and recompute the case status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			summary, err := app.Evaluator.RunValidation(ctx, args[0])
			if err != nil {
				return err
			}
			if _, err := app.Evaluator.Recompute(ctx, args[0]); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), summary)
		})
	},
}

var auditLimit int

var auditCmd = &cobra.Command{
	Use:   "audit <case-id>",
	Short: "Print the most recent audit entries of a case",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			entries, err := app.Audit.ListByCase(ctx, args[0], auditLimit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), entries)
		})
	},
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Readiness metrics for cases and suppliers",
}

var caseMetricsCmd = &cobra.Command{
	Use:   "case <case-id>",
	Short: "Readiness metrics for one case",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			m, err := app.Readiness.CaseMetrics(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), m)
		})
	},
}

var supplierMetricsCmd = &cobra.Command{
	Use:   "supplier <supplier-id>",
	Short: "Readiness metrics across all cases of a supplier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			m, err := app.Readiness.SupplierMetrics(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), m)
		})
	},
}

func init() {
	auditCmd.Flags().IntVar(&auditLimit, "limit", 50, "maximum number of entries")
	metricsCmd.AddCommand(caseMetricsCmd, supplierMetricsCmd)
	rootCmd.AddCommand(closeCmd, reconcileCmd, validateCmd, auditCmd, metricsCmd)
}
