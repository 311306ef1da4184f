package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	mcpadapter "github.com/kirillkom/trade-evidence/internal/adapters/mcp"
	"github.com/kirillkom/trade-evidence/internal/bootstrap"
	"github.com/kirillkom/trade-evidence/internal/config"
	"github.com/kirillkom/trade-evidence/internal/observability/logging"
)

const (
	serviceName = "mcp"
	version     = "1.0.0"
)

func main() {
	cfg := config.Load()
	// stdout is reserved for the stdio transport.
	slog.SetDefault(logging.NewJSONLoggerTo(os.Stderr, serviceName, cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Service: serviceName})
	if err != nil {
		slog.Error("bootstrap_failed", "error", err.Error())
		os.Exit(1)
	}
	defer app.Close()

	srv := mcpadapter.NewServer(version, mcpadapter.Dependencies{
		Cases:     app.Cases,
		Evaluator: app.Evaluator,
		Readiness: app.Readiness,
	})

	switch strings.ToLower(cfg.MCPTransport) {
	case "http":
		slog.Info("mcp_http_listening", "port", cfg.MCPPort)
		err = srv.ServeHTTP(ctx, ":"+cfg.MCPPort)
	default:
		err = srv.ServeStdio()
	}
	if err != nil {
		slog.Error("mcp_server_failed", "transport", cfg.MCPTransport, "error", err.Error())
		os.Exit(1)
	}
}
