package mcpserver

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/Iron-Ham/automaker/internal/engine"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Tool is the shape every handler in this package has.
type Tool interface {
	Definition() mcp.Tool
	Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// Tools returns every tool bound to e, in registration order.
func Tools(e *engine.Engine) []Tool {
	return []Tool{
		NewBoardTool(e),
		NewListTool(e),
		NewGetTool(e),
		NewCreateTool(e),
		NewEditTool(e),
		NewDeleteTool(e),
		NewAddDependencyTool(e),
		NewRemoveDependencyTool(e),
		NewPriorityTool(e),
		NewStartTool(e),
		NewStopTool(e),
		NewFollowUpTool(e),
		NewTransitionTool(e, TransitionApprove),
		NewTransitionTool(e, TransitionApprovePlan),
		NewTransitionTool(e, TransitionCommit),
		NewConfigureTool(e),
		NewSuggestTool(e),
		NewSuggestionListTool(e),
		NewAcceptTool(e),
	}
}

// New creates the MCP server with every engine tool registered. The caller
// owns e and must close it after the server stops.
func New(e *engine.Engine) *server.MCPServer {
	s := server.NewMCPServer(
		"automaker",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)
	for _, t := range Tools(e) {
		s.AddTool(t.Definition(), t.Handle)
	}
	return s
}

// Serve runs the server over stdio until the client disconnects.
func Serve(e *engine.Engine) error {
	return server.ServeStdio(New(e))
}

const instructions = `automaker runs AI agents against the features on a kanban board.

Typical flow: feature_create, optionally dependency_add, then feature_start
(or scheduler_configure auto_mode=true). Finished work waits in
waiting_approval: review it, then feature_approve and feature_commit, or
send feature_follow_up instructions. Use board_status to see progress.`
