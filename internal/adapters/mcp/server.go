// Package mcpadapter exposes read-only case projections as MCP tools.
package mcpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/trade-evidence/internal/core/domain"
	"github.com/kirillkom/trade-evidence/internal/core/ports"
)

const serverName = "trade-evidence"

type Dependencies struct {
	Cases     ports.CaseManager
	Evaluator ports.CaseEvaluator
	Readiness ports.ReadinessReporter
}

type Server struct {
	deps Dependencies
	mcp  *server.MCPServer
}

func NewServer(version string, deps Dependencies) *Server {
	s := &Server{
		deps: deps,
		mcp: server.NewMCPServer(
			serverName,
			version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
	}
	s.registerTools()
	return s
}

func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// ServeHTTP runs the streamable HTTP transport until ctx is done.
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.mcp)
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		slog.Info("mcp_http_shutdown", "addr", addr)
		return httpServer.Shutdown(context.WithoutCancel(ctx))
	}
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("case_status",
		mcp.WithDescription("Current status of a trade case, including readiness timestamps."),
		mcp.WithString("case_id", mcp.Required(), mcp.Description("Case identifier")),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.caseStatus)

	s.mcp.AddTool(mcp.NewTool("canonical_view",
		mcp.WithDescription("Reconciled canonical fields of a case with their evidence (document, page, snippet)."),
		mcp.WithString("case_id", mcp.Required(), mcp.Description("Case identifier")),
		mcp.WithBoolean("buyer_only", mcp.Description("Only resolved, buyer-visible fields")),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.canonicalView)

	s.mcp.AddTool(mcp.NewTool("checklist",
		mcp.WithDescription("Checklist items produced by validation for a case."),
		mcp.WithString("case_id", mcp.Required(), mcp.Description("Case identifier")),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.checklist)

	s.mcp.AddTool(mcp.NewTool("case_readiness",
		mcp.WithDescription("Readiness metrics of a case: coverage, conflict rate, days to ready, tier counts."),
		mcp.WithString("case_id", mcp.Required(), mcp.Description("Case identifier")),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.caseReadiness)

	s.mcp.AddTool(mcp.NewTool("supplier_readiness",
		mcp.WithDescription("Readiness metrics aggregated over all cases of a supplier."),
		mcp.WithString("supplier_id", mcp.Required(), mcp.Description("Supplier identifier")),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.supplierReadiness)
}

func (s *Server) caseStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	caseID, err := req.RequireString("case_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	c, err := s.deps.Cases.Get(ctx, caseID)
	if err != nil {
		return toolError("case_status", err)
	}
	return jsonResult(c)
}

func (s *Server) canonicalView(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	caseID, err := req.RequireString("case_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	views, err := s.deps.Evaluator.CanonicalView(ctx, caseID, req.GetBool("buyer_only", false))
	if err != nil {
		return toolError("canonical_view", err)
	}
	if views == nil {
		views = []domain.CanonicalFieldView{}
	}
	return jsonResult(map[string]any{"case_id": caseID, "fields": views})
}

func (s *Server) checklist(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	caseID, err := req.RequireString("case_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	items, err := s.deps.Evaluator.Checklist(ctx, caseID)
	if err != nil {
		return toolError("checklist", err)
	}
	if items == nil {
		items = []domain.ChecklistItem{}
	}
	return jsonResult(map[string]any{"case_id": caseID, "items": items})
}

func (s *Server) caseReadiness(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	caseID, err := req.RequireString("case_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	m, err := s.deps.Readiness.CaseMetrics(ctx, caseID)
	if err != nil {
		return toolError("case_readiness", err)
	}
	return jsonResult(m)
}

func (s *Server) supplierReadiness(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	supplierID, err := req.RequireString("supplier_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	m, err := s.deps.Readiness.SupplierMetrics(ctx, supplierID)
	if err != nil {
		return toolError("supplier_readiness", err)
	}
	return jsonResult(m)
}

// toolError reports caller mistakes as tool results and everything else as protocol errors.
func toolError(tool string, err error) (*mcp.CallToolResult, error) {
	if domain.IsNotFound(err) || domain.IsKind(err, domain.ErrInvalidInput) {
		return mcp.NewToolResultError(err.Error()), nil
	}
	slog.Error("mcp_tool_failed", "tool", tool, "error", err.Error())
	return nil, fmt.Errorf("%s: %w", tool, err)
}

func jsonResult(payload any) (*mcp.CallToolResult, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(raw)), nil
}
