package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Iron-Ham/automaker/internal/engine"
	"github.com/Iron-Ham/automaker/internal/feature"
)

// BoardTool handles the board_status MCP tool.
type BoardTool struct {
	engine *engine.Engine
}

// NewBoardTool creates a BoardTool.
func NewBoardTool(e *engine.Engine) *BoardTool {
	return &BoardTool{engine: e}
}

// Definition returns the MCP tool definition for board_status.
func (t *BoardTool) Definition() mcp.Tool {
	return mcp.NewTool("board_status",
		mcp.WithDescription("Show the kanban board: features per column, running features and scheduler settings."),
	)
}

// Handle processes the board_status tool call.
func (t *BoardTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap := t.engine.Snapshot()

	var sb strings.Builder
	sb.WriteString("## Board\n\n")
	fmt.Fprintf(&sb, "- **Running**: %d/%d\n", len(snap.Running), snap.Budget)
	fmt.Fprintf(&sb, "- **Auto mode**: %s\n", onOff(snap.AutoMode))
	fmt.Fprintf(&sb, "- **Dependency blocking**: %s\n", onOff(snap.EnforceDependencies))
	if snap.SuggestionsRunning {
		sb.WriteString("- **Suggestions**: analysis running\n")
	} else if snap.PendingSuggestions > 0 {
		fmt.Fprintf(&sb, "- **Suggestions**: %d pending\n", snap.PendingSuggestions)
	}

	cols := snap.ByStatus()
	for _, status := range feature.Statuses() {
		views := cols[status]
		fmt.Fprintf(&sb, "\n### %s (%d)\n\n", status, len(views))
		for _, v := range views {
			sb.WriteString(featureLine(v.Feature))
			var tags []string
			if v.Running {
				tags = append(tags, "running")
			}
			if len(v.BlockedBy) > 0 && v.Status == feature.StatusBacklog {
				tags = append(tags, "blocked by "+strings.Join(v.BlockedBy, ", "))
			}
			if v.HasContext {
				tags = append(tags, "has context")
			}
			if v.JustFinished {
				tags = append(tags, "just finished")
			}
			if len(tags) > 0 {
				fmt.Fprintf(&sb, " (%s)", strings.Join(tags, "; "))
			}
			sb.WriteString("\n")
		}
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// ConfigureTool handles the scheduler_configure MCP tool.
type ConfigureTool struct {
	engine *engine.Engine
}

// NewConfigureTool creates a ConfigureTool.
func NewConfigureTool(e *engine.Engine) *ConfigureTool {
	return &ConfigureTool{engine: e}
}

// Definition returns the MCP tool definition for scheduler_configure.
func (t *ConfigureTool) Definition() mcp.Tool {
	return mcp.NewTool("scheduler_configure",
		mcp.WithDescription(
			"Change scheduler settings for this session. Lowering concurrency never stops running features.",
		),
		mcp.WithNumber("concurrency", mcp.Description("Concurrency budget, clamped to 1..10")),
		mcp.WithBoolean("dependency_blocking", mcp.Description("Refuse to start features with unfinished dependencies")),
		mcp.WithBoolean("auto_mode", mcp.Description("Start eligible backlog features automatically")),
	)
}

// Handle processes the scheduler_configure tool call.
func (t *ConfigureTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var changed []string
	if _, ok := req.GetArguments()["concurrency"]; ok {
		n := t.engine.SetConcurrency(intArg(req, "concurrency", 0))
		changed = append(changed, fmt.Sprintf("concurrency=%d", n))
	}
	if v, ok := optionalBool(req, "dependency_blocking"); ok {
		t.engine.SetDependencyBlocking(v)
		changed = append(changed, "dependency_blocking="+onOff(v))
	}
	if v, ok := optionalBool(req, "auto_mode"); ok {
		if err := t.engine.SetAutoMode(v); err != nil {
			return failure("set auto mode", err), nil
		}
		changed = append(changed, "auto_mode="+onOff(v))
	}
	if len(changed) == 0 {
		return mcp.NewToolResultError("nothing to change: pass concurrency, dependency_blocking or auto_mode"), nil
	}
	return mcp.NewToolResultText("Scheduler updated: " + strings.Join(changed, ", ")), nil
}
