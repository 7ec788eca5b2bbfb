// Package mcpserver exposes research turns as Model Context Protocol tools.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/db"
	svc "github.com/Kocoro-lab/Shannon/go/deepresearch/internal/server"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/session"
)

// Version is set at build time via ldflags.
var Version = "dev"

const instructions = `deep_research runs a multi-agent research session and returns a cited markdown report.
When the result starts with "CLARIFICATION NEEDED", answer the question by calling deep_research
again with the same session_id.`

// New builds an MCP server with the research tools registered
func New(service *svc.Service) *server.MCPServer {
	s := server.NewMCPServer(
		"deepresearch",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)
	t := &researchTools{svc: service}
	s.AddTool(t.researchDefinition(), t.handleResearch)
	s.AddTool(t.reportDefinition(), t.handleReport)
	return s
}

// ServeStdio blocks serving s over stdin/stdout
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

type researchTools struct {
	svc *svc.Service
}

func (t *researchTools) researchDefinition() mcp.Tool {
	return mcp.NewTool("deep_research",
		mcp.WithDescription("Research a question with a supervisor and parallel researchers, then write a report."),
		mcp.WithString("message",
			mcp.Required(),
			mcp.Description("The research question, or the answer to a clarifying question"),
		),
		mcp.WithString("session_id",
			mcp.Description("Continue an existing session; omit to start a new one"),
		),
	)
}

func (t *researchTools) reportDefinition() mcp.Tool {
	return mcp.NewTool("get_report",
		mcp.WithDescription("Fetch the latest report of a research session."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session to read")),
	)
}

func (t *researchTools) handleResearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	message := strings.TrimSpace(req.GetString("message", ""))
	if message == "" {
		return mcp.NewToolResultError("'message' is required"), nil
	}
	resp, err := t.svc.Research(ctx, svc.Request{
		SessionID: req.GetString("session_id", ""),
		Message:   message,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("research failed: %v", err)), nil
	}
	if resp.Status == session.StatusAwaitingClarification {
		return mcp.NewToolResultText(fmt.Sprintf("CLARIFICATION NEEDED (session_id: %s)\n\n%s", resp.SessionID, resp.Question)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("session_id: %s\n\n%s", resp.SessionID, resp.Report)), nil
}

func (t *researchTools) handleReport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("session_id", "")
	if id == "" {
		return mcp.NewToolResultError("'session_id' is required"), nil
	}
	rec, err := t.svc.Report(ctx, id)
	if errors.Is(err, db.ErrNotFound) || errors.Is(err, session.ErrSessionNotFound) {
		return mcp.NewToolResultError("no report for session " + id), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("loading report: %v", err)), nil
	}
	return mcp.NewToolResultText(rec.Report), nil
}
