package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kirillkom/trade-evidence/internal/bootstrap"
	"github.com/kirillkom/trade-evidence/internal/core/domain"
)

var processCmd = &cobra.Command{
	Use:   "process <document-id>",
	Short: "Run text extraction, classification and field extraction for one document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			if err := app.Processor.ProcessByID(ctx, args[0]); err != nil {
				return err
			}
			doc, err := app.Documents.GetByID(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), doc)
		})
	},
}

var processCaseCmd = &cobra.Command{
	Use:   "process-case <case-id>",
	Short: "Process every pending document of a case",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			result, err := app.Processor.ProcessCase(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		})
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry <document-id>",
	Short: "Reset a failed document and queue it again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			doc, err := app.Processor.Retry(ctx, args[0], actor)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), doc)
		})
	},
}

var classifyCmd = &cobra.Command{
	Use:   "classify <document-id> <doc-type>",
	Short: "Override the document type and queue re-extraction",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		docType, ok := domain.ParseDocType(strings.ToLower(strings.TrimSpace(args[1])))
		if !ok {
			return fmt.Errorf("unknown document type %q", args[1])
		}
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			doc, err := app.Processor.Reclassify(ctx, args[0], docType, actor)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), doc)
		})
	},
}

var reextractCmd = &cobra.Command{
	Use:   "reextract <document-id>",
	Short: "Extract fields again for an already classified document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			report, err := app.Processor.Reextract(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		})
	},
}

func init() {
	rootCmd.AddCommand(processCmd, processCaseCmd, retryCmd, classifyCmd, reextractCmd)
}
