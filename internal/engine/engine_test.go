package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/automaker/internal/agent"
	"github.com/Iron-Ham/automaker/internal/agent/agenttest"
	"github.com/Iron-Ham/automaker/internal/config"
	"github.com/Iron-Ham/automaker/internal/errors"
	"github.com/Iron-Ham/automaker/internal/event"
	"github.com/Iron-Ham/automaker/internal/feature"
	"github.com/Iron-Ham/automaker/internal/logging"
	"github.com/Iron-Ham/automaker/internal/store"
)

const projectDir = "/proj"

func openEngine(t *testing.T, runner agent.Runner, mutate func(*config.Config)) *Engine {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	e, err := Open(context.Background(), projectDir, Options{
		Config: cfg,
		Fs:     afero.NewMemMapFs(),
		Runner: runner,
		Logger: logging.NopLogger(),
		Init:   true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func waitIdle(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.WaitIdle(ctx))
}

func create(t *testing.T, e *Engine, desc string) feature.Feature {
	t.Helper()
	f, err := e.CreateFeature(context.Background(), store.Draft{Category: "core", Description: desc})
	require.NoError(t, err)
	return f
}

func succeeding() *agenttest.Runner {
	return agenttest.New(
		agenttest.Text("working on it\n<summary>done</summary>"),
		agenttest.Result("ok"),
	)
}

func TestOpen_RequiresInit(t *testing.T) {
	_, err := Open(context.Background(), projectDir, Options{
		Fs:     afero.NewMemMapFs(),
		Runner: succeeding(),
		Logger: logging.NopLogger(),
	})
	assert.ErrorIs(t, err, errors.ErrNotInitialized)
}

func TestEngine_Lifecycle(t *testing.T) {
	ctx := context.Background()
	e := openEngine(t, succeeding(), nil)
	f := create(t, e, "add login form")

	_, err := e.Start(ctx, f.ID)
	require.NoError(t, err)
	waitIdle(t, e)

	got, err := e.Feature(f.ID)
	require.NoError(t, err)
	assert.Equal(t, feature.StatusWaitingApproval, got.Status)
	assert.Equal(t, "done", got.Summary)

	text, err := e.Context(f.ID)
	require.NoError(t, err)
	assert.Contains(t, text, "working on it")

	snap := e.Snapshot()
	require.Len(t, snap.Features, 1)
	assert.True(t, snap.Features[0].HasContext)
	assert.True(t, snap.Features[0].JustFinished)
	assert.False(t, snap.Features[0].Running)

	got, err = e.Approve(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, feature.StatusVerified, got.Status)

	got, err = e.Commit(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, feature.StatusCompleted, got.Status)

	_, err = e.Commit(ctx, f.ID)
	assert.ErrorIs(t, err, errors.ErrInvalidTransition)
}

func TestEngine_Dependencies(t *testing.T) {
	ctx := context.Background()
	e := openEngine(t, succeeding(), nil)
	a := create(t, e, "a")
	b := create(t, e, "b")

	added, err := e.AddDependency(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = e.AddDependency(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.False(t, added, "duplicate edge is a no-op")

	_, err = e.AddDependency(ctx, b.ID, a.ID)
	assert.ErrorIs(t, err, errors.ErrCycleRejected)

	_, err = e.AddDependency(ctx, a.ID, a.ID)
	assert.ErrorIs(t, err, errors.ErrInvalidInput)

	snap := e.Snapshot()
	assert.Equal(t, []string{a.ID}, snap.Features[1].BlockedBy)

	_, err = e.Start(ctx, b.ID)
	assert.ErrorIs(t, err, errors.ErrBlocked)

	e.SetDependencyBlocking(false)
	_, err = e.Start(ctx, b.ID)
	require.NoError(t, err)
	waitIdle(t, e)

	removed, err := e.RemoveDependency(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestEngine_DeleteRunningFeature(t *testing.T) {
	ctx := context.Background()
	hold := make(chan struct{})
	runner := agenttest.New(agenttest.Text("partial"), agenttest.Hold(hold))
	e := openEngine(t, runner, nil)

	a := create(t, e, "a")
	b := create(t, e, "b")
	_, err := e.AddDependency(ctx, a.ID, b.ID)
	require.NoError(t, err)

	_, err = e.Start(ctx, a.ID)
	require.NoError(t, err)
	<-runner.Invoked()

	require.NoError(t, e.DeleteFeature(ctx, a.ID))

	_, err = e.Feature(a.ID)
	assert.ErrorIs(t, err, errors.ErrFeatureNotFound)
	assert.False(t, e.files.HasContext(a.ID))
	assert.Empty(t, e.Snapshot().Running)

	got, err := e.Feature(b.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Dependencies)

	assert.ErrorIs(t, e.DeleteFeature(ctx, "missing"), errors.ErrFeatureNotFound)
}

func TestEngine_StopAndResume(t *testing.T) {
	ctx := context.Background()
	runner := &agenttest.Runner{Script: func(inv agent.Invocation) []agenttest.Step {
		return []agenttest.Step{agenttest.Fail(errors.New("agent crashed"))}
	}}
	e := openEngine(t, runner, nil)
	f := create(t, e, "flaky")

	_, err := e.Start(ctx, f.ID)
	require.NoError(t, err)
	waitIdle(t, e)

	got, err := e.Feature(f.ID)
	require.NoError(t, err)
	assert.Equal(t, feature.StatusInProgress, got.Status)
	assert.Contains(t, got.Error, "agent crashed")

	changed, err := e.Stop(ctx, f.ID)
	require.NoError(t, err)
	assert.True(t, changed)

	got, err = e.Feature(f.ID)
	require.NoError(t, err)
	assert.Equal(t, feature.StatusBacklog, got.Status)
	assert.Empty(t, got.Error)

	changed, err = e.Stop(ctx, f.ID)
	require.NoError(t, err)
	assert.False(t, changed, "stopping an idle backlog feature is a no-op")

	runner.Script = nil
	_, err = e.Resume(ctx, f.ID)
	require.NoError(t, err)
	waitIdle(t, e)
	calls := runner.Calls()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[1].Prompt, "Previous Work")
}

func TestEngine_FollowUp(t *testing.T) {
	ctx := context.Background()
	e := openEngine(t, succeeding(), nil)
	f := create(t, e, "x")

	_, err := e.FollowUp(ctx, f.ID, "  ")
	assert.ErrorIs(t, err, errors.ErrInvalidInput)

	_, err = e.Start(ctx, f.ID)
	require.NoError(t, err)
	waitIdle(t, e)

	_, err = e.FollowUp(ctx, f.ID, "also handle logout")
	require.NoError(t, err)
	waitIdle(t, e)

	got, err := e.Feature(f.ID)
	require.NoError(t, err)
	assert.Equal(t, feature.StatusWaitingApproval, got.Status)

	text, err := e.Context(f.ID)
	require.NoError(t, err)
	assert.Contains(t, text, "also handle logout")
}

func TestEngine_AutoMode(t *testing.T) {
	e := openEngine(t, succeeding(), func(c *config.Config) { c.Engine.MaxConcurrency = 1 })
	a := create(t, e, "a")
	b := create(t, e, "b")
	_, err := e.AddDependency(context.Background(), a.ID, b.ID)
	require.NoError(t, err)

	started, sub := e.SubscribeChan(event.TypeFeatureStarted, 8)
	defer e.Unsubscribe(sub)

	require.NoError(t, e.SetAutoMode(true))
	assert.True(t, e.Snapshot().AutoMode)

	// b stays blocked: a only reaches waiting_approval.
	waitIdle(t, e)
	ev := <-started
	assert.Equal(t, a.ID, ev.(event.FeatureStartedEvent).FeatureID)

	_, err = e.Approve(context.Background(), a.ID)
	require.NoError(t, err)
	waitIdle(t, e)

	got, err := e.Feature(b.ID)
	require.NoError(t, err)
	assert.Equal(t, feature.StatusWaitingApproval, got.Status)
}

func TestEngine_Settings(t *testing.T) {
	e := openEngine(t, succeeding(), nil)

	var budgets []int
	e.Subscribe(event.TypeBudgetChanged, func(ev event.Event) {
		budgets = append(budgets, ev.(event.BudgetChangedEvent).Budget)
	})

	assert.Equal(t, 10, e.SetConcurrency(50))
	assert.Equal(t, 1, e.SetConcurrency(0))
	assert.Equal(t, []int{10, 1}, budgets)
	assert.Equal(t, 1, e.Snapshot().Budget)

	e.SetDependencyBlocking(false)
	assert.False(t, e.Snapshot().EnforceDependencies)
}

func TestEngine_ApplyLive(t *testing.T) {
	e := openEngine(t, succeeding(), nil)
	var keys []string
	e.Subscribe(event.TypeConfigChanged, func(ev event.Event) {
		keys = append(keys, ev.(event.ConfigChangedEvent).Key)
	})

	e.applyLive(config.LiveChange{Key: config.KeyMaxConcurrency, Value: 7})
	e.applyLive(config.LiveChange{Key: config.KeyDependencyBlocking, Value: false})

	snap := e.Snapshot()
	assert.Equal(t, 7, snap.Budget)
	assert.False(t, snap.EnforceDependencies)
	assert.Equal(t, []string{config.KeyMaxConcurrency, config.KeyDependencyBlocking}, keys)
}

func TestEngine_Suggestions(t *testing.T) {
	ctx := context.Background()
	runner := agenttest.New(agenttest.Text("```json\n" +
		`[{"category":"UI","description":"Dark mode","steps":["add toggle"],"priority":2},` +
		`{"description":"Search","priority":1}]` +
		"\n```"))
	e := openEngine(t, runner, nil)

	res, err := e.GenerateSuggestions(ctx)
	require.NoError(t, err)
	require.Len(t, res.Suggestions, 2)
	assert.Equal(t, "Search", res.Suggestions[0].Description)
	assert.Equal(t, 2, e.Snapshot().PendingSuggestions)

	f, err := e.AcceptSuggestion(ctx, res.Suggestions[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "UI", f.Category)
	assert.Equal(t, "Dark mode", f.Description)
	assert.Equal(t, []string{"add toggle"}, f.Steps)
	assert.Equal(t, feature.StatusBacklog, f.Status)

	assert.Len(t, e.Suggestions(), 1)
	_, err = e.AcceptSuggestion(ctx, res.Suggestions[1].ID)
	assert.Error(t, err)
}

func TestEngine_CloseAbortsRuns(t *testing.T) {
	hold := make(chan struct{})
	runner := agenttest.New(agenttest.Hold(hold))
	e := openEngine(t, runner, nil)
	f := create(t, e, "long")

	_, err := e.Start(context.Background(), f.ID)
	require.NoError(t, err)
	<-runner.Invoked()

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	got, err := e.store.Get(f.ID)
	require.NoError(t, err)
	assert.Equal(t, feature.StatusBacklog, got.Status)
}

func TestEngine_RunLock(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	open := func(init bool) *Engine {
		e, err := Open(ctx, dir, Options{Runner: succeeding(), Logger: logging.NopLogger(), Init: init})
		require.NoError(t, err)
		t.Cleanup(func() { _ = e.Close() })
		return e
	}

	first := open(true)
	f := create(t, first, "shared feature")
	require.NoError(t, first.SetAutoMode(true))
	waitIdle(t, first)

	second := open(false)
	require.Len(t, second.Features(), 1)

	_, err := second.Start(ctx, f.ID)
	assert.ErrorIs(t, err, errors.ErrProjectBusy)
	assert.ErrorIs(t, second.SetAutoMode(true), errors.ErrProjectBusy)
	_, err = second.GenerateSuggestions(ctx)
	assert.ErrorIs(t, err, errors.ErrProjectBusy)

	// Metadata edits do not need the lock.
	_, err = second.SetPriority(ctx, f.ID, 3)
	assert.NoError(t, err)

	require.NoError(t, first.Close())
	assert.NoError(t, second.SetAutoMode(false))
	assert.NoError(t, second.SetAutoMode(true))
}

func TestEngine_HandlersMayReadSnapshot(t *testing.T) {
	e := openEngine(t, agenttest.New(agenttest.Result("ok")), nil)
	ctx := context.Background()
	var reads atomic.Int32
	e.Subscribe(event.TypeFeatureChanged, func(event.Event) {
		_ = e.Snapshot()
		reads.Add(1)
	})

	a, err := e.CreateFeature(ctx, store.Draft{Description: "a"})
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() {
		_, err := e.Start(ctx, a.ID)
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Start blocked behind a handler reading the snapshot")
	}

	_, err = e.CreateFeature(ctx, store.Draft{Description: "b"})
	require.NoError(t, err)
	require.NoError(t, e.SetAutoMode(true))

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, e.WaitIdle(waitCtx))
	for _, f := range e.Features() {
		assert.Equal(t, feature.StatusWaitingApproval, f.Status, f.Description)
	}
	assert.Positive(t, reads.Load())
}
