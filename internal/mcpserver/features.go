package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Iron-Ham/automaker/internal/engine"
	"github.com/Iron-Ham/automaker/internal/feature"
	"github.com/Iron-Ham/automaker/internal/store"
)

// ListTool handles the feature_list MCP tool.
type ListTool struct {
	engine *engine.Engine
}

// NewListTool creates a ListTool.
func NewListTool(e *engine.Engine) *ListTool {
	return &ListTool{engine: e}
}

// Definition returns the MCP tool definition for feature_list.
func (t *ListTool) Definition() mcp.Tool {
	return mcp.NewTool("feature_list",
		mcp.WithDescription("List features in board order, optionally filtered by status."),
		mcp.WithString("status",
			mcp.Description("Only list features in this status"),
			mcp.Enum(statusNames()...),
		),
	)
}

// Handle processes the feature_list tool call.
func (t *ListTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := feature.Status(req.GetString("status", ""))
	if status != "" && !status.Valid() {
		return mcp.NewToolResultError(fmt.Sprintf("unknown status %q", status)), nil
	}

	var sb strings.Builder
	n := 0
	for _, f := range t.engine.Features() {
		if status != "" && f.Status != status {
			continue
		}
		sb.WriteString(featureLine(f))
		sb.WriteString("\n")
		n++
	}
	if n == 0 {
		return mcp.NewToolResultText("No features."), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("## Features (%d)\n\n%s", n, sb.String())), nil
}

func statusNames() []string {
	var out []string
	for _, s := range feature.Statuses() {
		out = append(out, string(s))
	}
	return out
}

// GetTool handles the feature_get MCP tool.
type GetTool struct {
	engine *engine.Engine
}

// NewGetTool creates a GetTool.
func NewGetTool(e *engine.Engine) *GetTool {
	return &GetTool{engine: e}
}

// Definition returns the MCP tool definition for feature_get.
func (t *GetTool) Definition() mcp.Tool {
	return mcp.NewTool("feature_get",
		mcp.WithDescription("Return one feature as JSON, optionally with its persisted agent output."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Feature id")),
		mcp.WithBoolean("include_context", mcp.Description("Include the agent output log (default: false)")),
	)
}

// Handle processes the feature_get tool call.
func (t *GetTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, bad := requiredID(req)
	if bad != nil {
		return bad, nil
	}
	f, err := t.engine.Feature(id)
	if err != nil {
		return failure("get feature", err), nil
	}
	if withCtx, _ := optionalBool(req, "include_context"); !withCtx {
		return jsonResult(f)
	}
	text, err := t.engine.Context(id)
	if err != nil {
		return failure("read context", err), nil
	}
	return jsonResult(struct {
		feature.Feature
		Context string `json:"context"`
	}{f, text})
}

// CreateTool handles the feature_create MCP tool.
type CreateTool struct {
	engine *engine.Engine
}

// NewCreateTool creates a CreateTool.
func NewCreateTool(e *engine.Engine) *CreateTool {
	return &CreateTool{engine: e}
}

// Definition returns the MCP tool definition for feature_create.
func (t *CreateTool) Definition() mcp.Tool {
	return mcp.NewTool("feature_create",
		mcp.WithDescription("Add a feature to the backlog."),
		mcp.WithString("description", mcp.Required(), mcp.Description("What the agent should build")),
		mcp.WithString("title", mcp.Description("Short title")),
		mcp.WithString("category", mcp.Description("Board category")),
		mcp.WithArray("steps",
			mcp.Description("Verification steps"),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithArray("dependencies",
			mcp.Description("Ids of features this one depends on"),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithNumber("priority", mcp.Description("Scheduling priority, lower runs first (0 = unset)")),
		mcp.WithString("model", mcp.Description("Model override")),
		mcp.WithString("thinking_level",
			mcp.Description("Extended thinking budget"),
			mcp.Enum(thinkingNames()...),
		),
		mcp.WithBoolean("skip_tests", mcp.Description("Skip automated tests; success goes straight to verified")),
		mcp.WithBoolean("require_plan_approval", mcp.Description("Generate a plan for approval before implementing")),
	)
}

// Handle processes the feature_create tool call.
func (t *CreateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	desc := strings.TrimSpace(req.GetString("description", ""))
	if desc == "" {
		return mcp.NewToolResultError("'description' is required"), nil
	}
	steps, _ := stringsArg(req, "steps")
	deps, _ := stringsArg(req, "dependencies")
	skip, _ := optionalBool(req, "skip_tests")
	plan, _ := optionalBool(req, "require_plan_approval")

	f, err := t.engine.CreateFeature(ctx, store.Draft{
		Title:               req.GetString("title", ""),
		Category:            req.GetString("category", ""),
		Description:         desc,
		Steps:               steps,
		Dependencies:        deps,
		Priority:            intArg(req, "priority", 0),
		Model:               req.GetString("model", ""),
		ThinkingLevel:       feature.ThinkingLevel(req.GetString("thinking_level", "")),
		SkipTests:           skip,
		RequirePlanApproval: plan,
	})
	if err != nil {
		return failure("create feature", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Feature created: %s\nID: %s", f.DisplayTitle(), f.ID)), nil
}

func thinkingNames() []string {
	var out []string
	for _, l := range feature.ThinkingLevels() {
		out = append(out, string(l))
	}
	return out
}

// EditTool handles the feature_edit MCP tool.
type EditTool struct {
	engine *engine.Engine
}

// NewEditTool creates an EditTool.
func NewEditTool(e *engine.Engine) *EditTool {
	return &EditTool{engine: e}
}

// Definition returns the MCP tool definition for feature_edit.
func (t *EditTool) Definition() mcp.Tool {
	return mcp.NewTool("feature_edit",
		mcp.WithDescription("Edit a feature's metadata. Omitted fields are left unchanged."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Feature id")),
		mcp.WithString("title", mcp.Description("New title")),
		mcp.WithString("category", mcp.Description("New category")),
		mcp.WithString("description", mcp.Description("New description")),
		mcp.WithArray("steps",
			mcp.Description("Replacement verification steps"),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithString("model", mcp.Description("Model override")),
		mcp.WithString("thinking_level",
			mcp.Description("Extended thinking budget"),
			mcp.Enum(thinkingNames()...),
		),
		mcp.WithBoolean("skip_tests", mcp.Description("Skip automated tests")),
		mcp.WithBoolean("require_plan_approval", mcp.Description("Require plan approval")),
	)
}

// Handle processes the feature_edit tool call.
func (t *EditTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, bad := requiredID(req)
	if bad != nil {
		return bad, nil
	}

	var p store.Patch
	if v, ok := optionalString(req, "title"); ok {
		p.Title = &v
	}
	if v, ok := optionalString(req, "category"); ok {
		p.Category = &v
	}
	if v, ok := optionalString(req, "description"); ok {
		p.Description = &v
	}
	if v, ok := stringsArg(req, "steps"); ok {
		p.Steps = &v
	}
	if v, ok := optionalString(req, "model"); ok {
		p.Model = &v
	}
	if v, ok := optionalString(req, "thinking_level"); ok {
		level := feature.ThinkingLevel(v)
		p.ThinkingLevel = &level
	}
	if v, ok := optionalBool(req, "skip_tests"); ok {
		p.SkipTests = &v
	}
	if v, ok := optionalBool(req, "require_plan_approval"); ok {
		p.RequirePlanApproval = &v
	}

	f, err := t.engine.EditFeature(ctx, id, p)
	if err != nil {
		return failure("edit feature", err), nil
	}
	return mcp.NewToolResultText("Feature updated:\n" + featureLine(f)), nil
}

// DeleteTool handles the feature_delete MCP tool.
type DeleteTool struct {
	engine *engine.Engine
}

// NewDeleteTool creates a DeleteTool.
func NewDeleteTool(e *engine.Engine) *DeleteTool {
	return &DeleteTool{engine: e}
}

// Definition returns the MCP tool definition for feature_delete.
func (t *DeleteTool) Definition() mcp.Tool {
	return mcp.NewTool("feature_delete",
		mcp.WithDescription(
			"Delete a feature. A running execution is stopped first, the id is removed from every "+
				"dependent and the agent output log is deleted.",
		),
		mcp.WithString("id", mcp.Required(), mcp.Description("Feature id")),
	)
}

// Handle processes the feature_delete tool call.
func (t *DeleteTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, bad := requiredID(req)
	if bad != nil {
		return bad, nil
	}
	if err := t.engine.DeleteFeature(ctx, id); err != nil {
		return failure("delete feature", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Feature deleted: %s", id)), nil
}

// DependencyTool handles the dependency_add and dependency_remove MCP tools.
type DependencyTool struct {
	engine *engine.Engine
	remove bool
}

// NewAddDependencyTool creates the dependency_add tool.
func NewAddDependencyTool(e *engine.Engine) *DependencyTool {
	return &DependencyTool{engine: e}
}

// NewRemoveDependencyTool creates the dependency_remove tool.
func NewRemoveDependencyTool(e *engine.Engine) *DependencyTool {
	return &DependencyTool{engine: e, remove: true}
}

// Definition returns the MCP tool definition.
func (t *DependencyTool) Definition() mcp.Tool {
	name, desc := "dependency_add", "Record that target depends on source. Edges that would create a cycle are rejected."
	if t.remove {
		name, desc = "dependency_remove", "Remove the edge 'target depends on source'."
	}
	return mcp.NewTool(name,
		mcp.WithDescription(desc),
		mcp.WithString("source", mcp.Required(), mcp.Description("Prerequisite feature id")),
		mcp.WithString("target", mcp.Required(), mcp.Description("Dependent feature id")),
	)
}

// Handle processes the tool call.
func (t *DependencyTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source := strings.TrimSpace(req.GetString("source", ""))
	target := strings.TrimSpace(req.GetString("target", ""))
	if source == "" || target == "" {
		return mcp.NewToolResultError("'source' and 'target' are required"), nil
	}

	if t.remove {
		removed, err := t.engine.RemoveDependency(ctx, source, target)
		if err != nil {
			return failure("remove dependency", err), nil
		}
		if !removed {
			return mcp.NewToolResultText(fmt.Sprintf("%s does not depend on %s.", target, source)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Dependency removed: %s no longer depends on %s.", target, source)), nil
	}

	added, err := t.engine.AddDependency(ctx, source, target)
	if err != nil {
		return failure("add dependency", err), nil
	}
	if !added {
		return mcp.NewToolResultText(fmt.Sprintf("%s already depends on %s.", target, source)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Dependency added: %s depends on %s.", target, source)), nil
}

// PriorityTool handles the feature_priority MCP tool.
type PriorityTool struct {
	engine *engine.Engine
}

// NewPriorityTool creates a PriorityTool.
func NewPriorityTool(e *engine.Engine) *PriorityTool {
	return &PriorityTool{engine: e}
}

// Definition returns the MCP tool definition for feature_priority.
func (t *PriorityTool) Definition() mcp.Tool {
	return mcp.NewTool("feature_priority",
		mcp.WithDescription("Set the priority auto mode uses to order candidates. Lower runs first; 0 clears it."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Feature id")),
		mcp.WithNumber("priority", mcp.Required(), mcp.Description("Priority (0 = unset)")),
	)
}

// Handle processes the feature_priority tool call.
func (t *PriorityTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, bad := requiredID(req)
	if bad != nil {
		return bad, nil
	}
	if _, ok := req.GetArguments()["priority"]; !ok {
		return mcp.NewToolResultError("'priority' is required"), nil
	}
	f, err := t.engine.SetPriority(ctx, id, intArg(req, "priority", 0))
	if err != nil {
		return failure("set priority", err), nil
	}
	return mcp.NewToolResultText("Priority set:\n" + featureLine(f)), nil
}
