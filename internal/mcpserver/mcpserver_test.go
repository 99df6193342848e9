package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/automaker/internal/agent/agenttest"
	"github.com/Iron-Ham/automaker/internal/engine"
	"github.com/Iron-Ham/automaker/internal/feature"
	"github.com/Iron-Ham/automaker/internal/logging"
)

func newTestEngine(t *testing.T, runner *agenttest.Runner) *engine.Engine {
	t.Helper()
	if runner == nil {
		runner = agenttest.New(agenttest.Text("<summary>done</summary>"), agenttest.Result("ok"))
	}
	e, err := engine.Open(context.Background(), "/proj", engine.Options{
		Fs:     afero.NewMemMapFs(),
		Runner: runner,
		Logger: logging.NopLogger(),
		Init:   true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func makeReq(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func call(t *testing.T, tl Tool, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	res, err := tl.Handle(context.Background(), makeReq(args))
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func resultText(r *mcp.CallToolResult) string {
	if r == nil {
		return ""
	}
	for _, c := range r.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func createFeature(t *testing.T, e *engine.Engine, desc string) string {
	t.Helper()
	res := call(t, NewCreateTool(e), map[string]any{"description": desc, "category": "core"})
	require.False(t, res.IsError, resultText(res))
	fs := e.Features()
	return fs[len(fs)-1].ID
}

func TestTools_Definitions(t *testing.T) {
	e := newTestEngine(t, nil)
	seen := map[string]bool{}
	for _, tl := range Tools(e) {
		def := tl.Definition()
		assert.NotEmpty(t, def.Description, def.Name)
		assert.False(t, seen[def.Name], "duplicate tool %s", def.Name)
		seen[def.Name] = true
	}
	for _, name := range []string{"feature_create", "feature_start", "feature_stop", "feature_approve", "feature_approve_plan", "feature_commit", "dependency_add", "suggestions_accept"} {
		assert.True(t, seen[name], name)
	}

	def := NewCreateTool(e).Definition()
	assert.Contains(t, def.InputSchema.Required, "description")
	assert.Contains(t, def.InputSchema.Properties, "steps")
}

func TestCreateListGet(t *testing.T) {
	e := newTestEngine(t, nil)

	res := call(t, NewCreateTool(e), map[string]any{})
	assert.True(t, res.IsError)

	res = call(t, NewCreateTool(e), map[string]any{
		"title":       "Login",
		"description": "add a login form",
		"steps":       []any{"open /login", " ", "submit"},
		"priority":    float64(2),
	})
	require.False(t, res.IsError, resultText(res))
	assert.Contains(t, resultText(res), "Feature created: Login")

	f := e.Features()[0]
	assert.Equal(t, []string{"open /login", "submit"}, f.Steps)
	assert.Equal(t, 2, f.Priority)

	res = call(t, NewListTool(e), map[string]any{"status": "backlog"})
	assert.Contains(t, resultText(res), "**Login**")
	res = call(t, NewListTool(e), map[string]any{"status": "verified"})
	assert.Equal(t, "No features.", resultText(res))
	res = call(t, NewListTool(e), map[string]any{"status": "bogus"})
	assert.True(t, res.IsError)

	res = call(t, NewGetTool(e), map[string]any{"id": f.ID, "include_context": true})
	require.False(t, res.IsError, resultText(res))
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(resultText(res)), &got))
	assert.Equal(t, f.ID, got["id"])
	assert.Contains(t, got, "context")

	res = call(t, NewGetTool(e), map[string]any{"id": "missing"})
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(res), "not found")
}

func TestEditAndPriority(t *testing.T) {
	e := newTestEngine(t, nil)
	id := createFeature(t, e, "x")

	res := call(t, NewEditTool(e), map[string]any{"id": id, "title": "Renamed", "skip_tests": true, "steps": "a\nb"})
	require.False(t, res.IsError, resultText(res))
	f, err := e.Feature(id)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", f.Title)
	assert.True(t, f.SkipTests)
	assert.Equal(t, []string{"a", "b"}, f.Steps)
	assert.Equal(t, "x", f.Description)

	res = call(t, NewEditTool(e), map[string]any{"id": id, "thinking_level": "enormous"})
	assert.True(t, res.IsError)

	res = call(t, NewPriorityTool(e), map[string]any{"id": id})
	assert.True(t, res.IsError)
	res = call(t, NewPriorityTool(e), map[string]any{"id": id, "priority": float64(4)})
	require.False(t, res.IsError, resultText(res))
	f, _ = e.Feature(id)
	assert.Equal(t, 4, f.Priority)
}

func TestDependencies(t *testing.T) {
	e := newTestEngine(t, nil)
	a := createFeature(t, e, "a")
	b := createFeature(t, e, "b")
	add := NewAddDependencyTool(e)

	res := call(t, add, map[string]any{"source": a, "target": b})
	assert.Contains(t, resultText(res), "Dependency added")
	res = call(t, add, map[string]any{"source": a, "target": b})
	assert.Contains(t, resultText(res), "already depends")
	res = call(t, add, map[string]any{"source": b, "target": a})
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(res), "cycle")
	res = call(t, add, map[string]any{"source": a})
	assert.True(t, res.IsError)

	res = call(t, NewStartTool(e), map[string]any{"id": b})
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(res), "blocked")
	assert.Contains(t, resultText(res), "retry once running features finish")

	rm := NewRemoveDependencyTool(e)
	res = call(t, rm, map[string]any{"source": a, "target": b})
	assert.Contains(t, resultText(res), "Dependency removed")
	res = call(t, rm, map[string]any{"source": a, "target": b})
	assert.Contains(t, resultText(res), "does not depend")
}

func TestRunLifecycle(t *testing.T) {
	e := newTestEngine(t, nil)
	id := createFeature(t, e, "x")

	res := call(t, NewStartTool(e), map[string]any{"id": id})
	require.False(t, res.IsError, resultText(res))
	assert.Contains(t, resultText(res), "Started start run")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.WaitIdle(ctx))

	res = call(t, NewTransitionTool(e, TransitionCommit), map[string]any{"id": id})
	assert.True(t, res.IsError, "commit requires verified")

	res = call(t, NewFollowUpTool(e), map[string]any{"id": id})
	assert.True(t, res.IsError)

	res = call(t, NewTransitionTool(e, TransitionApprove), map[string]any{"id": id})
	require.False(t, res.IsError, resultText(res))
	res = call(t, NewTransitionTool(e, TransitionCommit), map[string]any{"id": id})
	require.False(t, res.IsError, resultText(res))

	f, err := e.Feature(id)
	require.NoError(t, err)
	assert.Equal(t, feature.StatusCompleted, f.Status)

	res = call(t, NewStopTool(e), map[string]any{"id": id})
	assert.Contains(t, resultText(res), "is not running")
}

func TestStopRunning(t *testing.T) {
	hold := make(chan struct{})
	runner := agenttest.New(agenttest.Hold(hold))
	e := newTestEngine(t, runner)
	id := createFeature(t, e, "x")

	res := call(t, NewStartTool(e), map[string]any{"id": id})
	require.False(t, res.IsError, resultText(res))
	<-runner.Invoked()

	res = call(t, NewStopTool(e), map[string]any{"id": id})
	assert.Contains(t, resultText(res), "Stop requested")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.WaitIdle(ctx))
	f, err := e.Feature(id)
	require.NoError(t, err)
	assert.Equal(t, feature.StatusBacklog, f.Status)
}

func TestConfigureAndBoard(t *testing.T) {
	e := newTestEngine(t, nil)
	createFeature(t, e, "x")

	res := call(t, NewConfigureTool(e), map[string]any{})
	assert.True(t, res.IsError)

	res = call(t, NewConfigureTool(e), map[string]any{"concurrency": float64(50), "dependency_blocking": false})
	require.False(t, res.IsError, resultText(res))
	assert.Equal(t, "Scheduler updated: concurrency=10, dependency_blocking=off", resultText(res))

	text := resultText(call(t, NewBoardTool(e), nil))
	assert.Contains(t, text, "- **Running**: 0/10")
	assert.Contains(t, text, "### backlog (1)")
	assert.Contains(t, text, "### completed (0)")
}

func TestSuggestions(t *testing.T) {
	runner := agenttest.New(agenttest.Text(`[{"category":"UI","description":"Dark mode","steps":["toggle"],"priority":1}]`))
	e := newTestEngine(t, runner)

	text := resultText(call(t, NewSuggestionListTool(e), nil))
	assert.Equal(t, "No suggestions.", text)

	res := call(t, NewSuggestTool(e), nil)
	require.False(t, res.IsError, resultText(res))
	assert.Contains(t, resultText(res), "### Dark mode")

	s := e.Suggestions()
	require.Len(t, s, 1)
	res = call(t, NewAcceptTool(e), map[string]any{"id": s[0].ID})
	require.False(t, res.IsError, resultText(res))
	assert.True(t, strings.HasPrefix(resultText(res), "Feature created from suggestion"))
	assert.Len(t, e.Features(), 1)
	assert.Empty(t, e.Suggestions())

	res = call(t, NewAcceptTool(e), map[string]any{"id": s[0].ID})
	assert.True(t, res.IsError)
}

func TestNew(t *testing.T) {
	e := newTestEngine(t, nil)
	assert.NotNil(t, New(e))
}
