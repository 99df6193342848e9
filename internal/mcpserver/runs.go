package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Iron-Ham/automaker/internal/engine"
	"github.com/Iron-Ham/automaker/internal/feature"
	"github.com/Iron-Ham/automaker/internal/scheduler"
)

// StartTool handles the feature_start MCP tool.
type StartTool struct {
	engine *engine.Engine
}

// NewStartTool creates a StartTool.
func NewStartTool(e *engine.Engine) *StartTool {
	return &StartTool{engine: e}
}

// Definition returns the MCP tool definition for feature_start.
func (t *StartTool) Definition() mcp.Tool {
	return mcp.NewTool("feature_start",
		mcp.WithDescription(
			"Request an agent run for a feature. The request is rejected when the feature is already running, "+
				"blocked by unfinished dependencies or the concurrency budget is full.",
		),
		mcp.WithString("id", mcp.Required(), mcp.Description("Feature id")),
		mcp.WithBoolean("resume", mcp.Description("Continue from the persisted agent output (default: false)")),
	)
}

// Handle processes the feature_start tool call.
func (t *StartTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, bad := requiredID(req)
	if bad != nil {
		return bad, nil
	}
	resume, _ := optionalBool(req, "resume")

	var (
		task scheduler.RunningTask
		err  error
	)
	if resume {
		task, err = t.engine.Resume(ctx, id)
	} else {
		task, err = t.engine.Start(ctx, id)
	}
	if err != nil {
		return failure("start feature", err), nil
	}
	return mcp.NewToolResultText(describeTask(task)), nil
}

func describeTask(t scheduler.RunningTask) string {
	kind := t.Kind.String()
	if t.Planning {
		kind += " (planning)"
	}
	return fmt.Sprintf("Started %s run for %s at %s", kind, t.FeatureID, t.StartedAt.Format("15:04:05"))
}

// StopTool handles the feature_stop MCP tool.
type StopTool struct {
	engine *engine.Engine
}

// NewStopTool creates a StopTool.
func NewStopTool(e *engine.Engine) *StopTool {
	return &StopTool{engine: e}
}

// Definition returns the MCP tool definition for feature_stop.
func (t *StopTool) Definition() mcp.Tool {
	return mcp.NewTool("feature_stop",
		mcp.WithDescription(
			"Force-stop a feature. A running execution is aborted; an in_progress feature left over "+
				"from an interrupted run goes back to the backlog.",
		),
		mcp.WithString("id", mcp.Required(), mcp.Description("Feature id")),
	)
}

// Handle processes the feature_stop tool call.
func (t *StopTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, bad := requiredID(req)
	if bad != nil {
		return bad, nil
	}
	changed, err := t.engine.Stop(ctx, id)
	if err != nil {
		return failure("stop feature", err), nil
	}
	if !changed {
		return mcp.NewToolResultText(fmt.Sprintf("%s is not running.", id)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Stop requested for %s.", id)), nil
}

// FollowUpTool handles the feature_follow_up MCP tool.
type FollowUpTool struct {
	engine *engine.Engine
}

// NewFollowUpTool creates a FollowUpTool.
func NewFollowUpTool(e *engine.Engine) *FollowUpTool {
	return &FollowUpTool{engine: e}
}

// Definition returns the MCP tool definition for feature_follow_up.
func (t *FollowUpTool) Definition() mcp.Tool {
	return mcp.NewTool("feature_follow_up",
		mcp.WithDescription("Send further instructions to a feature that is waiting for approval."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Feature id")),
		mcp.WithString("instructions", mcp.Required(), mcp.Description("What to change or add")),
	)
}

// Handle processes the feature_follow_up tool call.
func (t *FollowUpTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, bad := requiredID(req)
	if bad != nil {
		return bad, nil
	}
	instructions := strings.TrimSpace(req.GetString("instructions", ""))
	if instructions == "" {
		return mcp.NewToolResultError("'instructions' is required"), nil
	}
	task, err := t.engine.FollowUp(ctx, id, instructions)
	if err != nil {
		return failure("send follow-up", err), nil
	}
	return mcp.NewToolResultText(describeTask(task)), nil
}

// Transition names handled by TransitionTool.
const (
	TransitionApprove     = "approve"
	TransitionApprovePlan = "approve_plan"
	TransitionCommit      = "commit"
)

// TransitionTool handles the manual lifecycle moves: feature_approve,
// feature_approve_plan and feature_commit.
type TransitionTool struct {
	engine *engine.Engine
	kind   string
}

// NewTransitionTool creates the tool for one of the Transition* kinds.
func NewTransitionTool(e *engine.Engine, kind string) *TransitionTool {
	return &TransitionTool{engine: e, kind: kind}
}

// Definition returns the MCP tool definition.
func (t *TransitionTool) Definition() mcp.Tool {
	var desc string
	switch t.kind {
	case TransitionApprove:
		desc = "Approve a feature's completed work (waiting_approval to verified)."
	case TransitionApprovePlan:
		desc = "Approve a generated plan so the implementation run can be scheduled."
	default:
		desc = "Mark a verified feature as committed (verified to completed)."
	}
	return mcp.NewTool("feature_"+t.kind,
		mcp.WithDescription(desc),
		mcp.WithString("id", mcp.Required(), mcp.Description("Feature id")),
	)
}

// Handle processes the tool call.
func (t *TransitionTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, bad := requiredID(req)
	if bad != nil {
		return bad, nil
	}
	var (
		f   feature.Feature
		err error
	)
	switch t.kind {
	case TransitionApprove:
		f, err = t.engine.Approve(ctx, id)
	case TransitionApprovePlan:
		f, err = t.engine.ApprovePlan(ctx, id)
	default:
		f, err = t.engine.Commit(ctx, id)
	}
	if err != nil {
		return failure(strings.ReplaceAll(t.kind, "_", " "), err), nil
	}
	return mcp.NewToolResultText(featureLine(f)), nil
}
