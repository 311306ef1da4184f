package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kirillkom/trade-evidence/internal/bootstrap"
	"github.com/kirillkom/trade-evidence/internal/config"
	"github.com/kirillkom/trade-evidence/internal/observability/logging"
)

const serviceName = "evidencectl"

var (
	cfg      config.Config
	logLevel string
	actor    string
)

var rootCmd = &cobra.Command{
	Use:   "evidencectl",
	Short: "Operate trade evidence cases from the command line",
	Long: `evidencectl runs pipeline stages and review actions against the same
database, queue and storage as the API and worker services.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		level := cfg.LogLevel
		if logLevel != "" {
			level = logLevel
		}
		slog.SetDefault(logging.NewJSONLoggerTo(os.Stderr, serviceName, level))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL")
	rootCmd.PersistentFlags().StringVar(&actor, "actor", "operator", "actor recorded in the audit log")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// withApp wires the full application for one command and tears it down afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, app *bootstrap.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Service: serviceName})
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(ctx, app)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
