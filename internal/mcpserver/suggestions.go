package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Iron-Ham/automaker/internal/engine"
	"github.com/Iron-Ham/automaker/internal/suggest"
)

// SuggestTool handles the suggestions_generate MCP tool.
type SuggestTool struct {
	engine *engine.Engine
}

// NewSuggestTool creates a SuggestTool.
func NewSuggestTool(e *engine.Engine) *SuggestTool {
	return &SuggestTool{engine: e}
}

// Definition returns the MCP tool definition for suggestions_generate.
func (t *SuggestTool) Definition() mcp.Tool {
	return mcp.NewTool("suggestions_generate",
		mcp.WithDescription(
			"Analyze the project with a read-only agent and propose missing features. "+
				"Blocks until the analysis finishes; a running analysis is replaced.",
		),
	)
}

// Handle processes the suggestions_generate tool call.
func (t *SuggestTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := t.engine.GenerateSuggestions(ctx)
	if err != nil {
		return failure("generate suggestions", err), nil
	}
	if res.Aborted {
		return mcp.NewToolResultText("Analysis aborted."), nil
	}
	return mcp.NewToolResultText(renderSuggestions(res.Suggestions)), nil
}

// SuggestionListTool handles the suggestions_list MCP tool.
type SuggestionListTool struct {
	engine *engine.Engine
}

// NewSuggestionListTool creates a SuggestionListTool.
func NewSuggestionListTool(e *engine.Engine) *SuggestionListTool {
	return &SuggestionListTool{engine: e}
}

// Definition returns the MCP tool definition for suggestions_list.
func (t *SuggestionListTool) Definition() mcp.Tool {
	return mcp.NewTool("suggestions_list",
		mcp.WithDescription("List suggestions from the last analysis that have not been accepted."),
	)
}

// Handle processes the suggestions_list tool call.
func (t *SuggestionListTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(renderSuggestions(t.engine.Suggestions())), nil
}

// AcceptTool handles the suggestions_accept MCP tool.
type AcceptTool struct {
	engine *engine.Engine
}

// NewAcceptTool creates an AcceptTool.
func NewAcceptTool(e *engine.Engine) *AcceptTool {
	return &AcceptTool{engine: e}
}

// Definition returns the MCP tool definition for suggestions_accept.
func (t *AcceptTool) Definition() mcp.Tool {
	return mcp.NewTool("suggestions_accept",
		mcp.WithDescription("Turn a suggestion into a backlog feature."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Suggestion id")),
	)
}

// Handle processes the suggestions_accept tool call.
func (t *AcceptTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, bad := requiredID(req)
	if bad != nil {
		return bad, nil
	}
	f, err := t.engine.AcceptSuggestion(ctx, id)
	if err != nil {
		return failure("accept suggestion", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Feature created from suggestion: %s\nID: %s", f.DisplayTitle(), f.ID)), nil
}

func renderSuggestions(items []suggest.Suggestion) string {
	if len(items) == 0 {
		return "No suggestions."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Suggestions (%d)\n", len(items))
	for _, s := range items {
		fmt.Fprintf(&sb, "\n### %s\n\n- **ID**: `%s`\n- **Category**: %s\n- **Priority**: %g\n", s.Description, s.ID, s.Category, s.Priority)
		if s.Reasoning != "" {
			fmt.Fprintf(&sb, "- **Why**: %s\n", s.Reasoning)
		}
		for i, step := range s.Steps {
			fmt.Fprintf(&sb, "  %d. %s\n", i+1, step)
		}
	}
	return sb.String()
}
