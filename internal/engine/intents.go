package engine

import (
	"context"
	"slices"
	"strings"

	"github.com/Iron-Ham/automaker/internal/errors"
	"github.com/Iron-Ham/automaker/internal/event"
	"github.com/Iron-Ham/automaker/internal/feature"
	"github.com/Iron-Ham/automaker/internal/scheduler"
	"github.com/Iron-Ham/automaker/internal/store"
	"github.com/Iron-Ham/automaker/internal/suggest"
)

// -----------------------------------------------------------------------------
// Feature metadata
// -----------------------------------------------------------------------------

// CreateFeature adds a backlog feature.
func (e *Engine) CreateFeature(ctx context.Context, d store.Draft) (feature.Feature, error) {
	return e.store.Create(ctx, d)
}

// EditFeature applies a metadata patch.
func (e *Engine) EditFeature(ctx context.Context, id string, p store.Patch) (feature.Feature, error) {
	return e.store.Edit(ctx, id, p)
}

// Feature returns one feature.
func (e *Engine) Feature(id string) (feature.Feature, error) {
	return e.store.Get(id)
}

// Features returns every feature in insertion order.
func (e *Engine) Features() []feature.Feature {
	return e.store.List()
}

// DeleteFeature removes a feature. A running execution is stopped and its
// outcome recorded before the record goes away; the id is stripped from
// every dependent and the context file is removed.
func (e *Engine) DeleteFeature(ctx context.Context, id string) error {
	if _, err := e.store.Get(id); err != nil {
		return err
	}
	if err := e.stopAndWait(ctx, id); err != nil {
		return err
	}
	if err := e.store.Delete(ctx, id); err != nil {
		return err
	}
	if err := e.files.Delete(id); err != nil {
		e.logger.Warn("failed to delete context file", "feature_id", id, "error", err)
	}
	return nil
}

// stopAndWait cancels id's run, if any, and blocks until the scheduler has
// recorded its outcome.
func (e *Engine) stopAndWait(ctx context.Context, id string) error {
	ch, sub := e.bus.SubscribeChan(event.TypeFeatureFinished, 16)
	defer e.bus.Unsubscribe(sub)

	if !e.sched.RequestStop(id) {
		return nil
	}
	for e.sched.IsRunning(id) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if f, isFinish := ev.(event.FeatureFinishedEvent); isFinish && f.FeatureID == id {
				return nil
			}
		}
	}
	return nil
}

// AddDependency records that target depends on source. Adding an existing
// edge is a no-op reporting false.
func (e *Engine) AddDependency(ctx context.Context, source, target string) (bool, error) {
	return e.store.AddDependency(ctx, source, target)
}

// RemoveDependency deletes the edge and reports whether it existed.
func (e *Engine) RemoveDependency(ctx context.Context, source, target string) (bool, error) {
	return e.store.RemoveDependency(ctx, source, target)
}

// SetPriority sets the explicit scheduling priority; 0 clears it.
func (e *Engine) SetPriority(ctx context.Context, id string, priority int) (feature.Feature, error) {
	return e.store.SetPriority(ctx, id, priority)
}

// -----------------------------------------------------------------------------
// Runs
// -----------------------------------------------------------------------------

// Start requests a fresh run.
func (e *Engine) Start(ctx context.Context, id string) (scheduler.RunningTask, error) {
	if err := e.claimRuns(); err != nil {
		return scheduler.RunningTask{}, err
	}
	return e.sched.RequestStart(ctx, id, scheduler.StartOptions{})
}

// Resume requests a run that continues from the persisted context.
func (e *Engine) Resume(ctx context.Context, id string) (scheduler.RunningTask, error) {
	if err := e.claimRuns(); err != nil {
		return scheduler.RunningTask{}, err
	}
	return e.sched.RequestStart(ctx, id, scheduler.StartOptions{Resume: true})
}

// FollowUp sends further instructions to a feature awaiting approval.
func (e *Engine) FollowUp(ctx context.Context, id, instructions string) (scheduler.RunningTask, error) {
	if strings.TrimSpace(instructions) == "" {
		return scheduler.RunningTask{}, errors.NewValidationError("follow-up instructions are required").WithField("instructions")
	}
	if err := e.claimRuns(); err != nil {
		return scheduler.RunningTask{}, err
	}
	return e.sched.RequestStart(ctx, id, scheduler.StartOptions{FollowUp: instructions})
}

// Stop force-stops a feature. A running execution is cancelled and recorded
// as aborted; an in_progress feature with no live run (left over from a
// previous process) is returned to backlog, unless another process holds
// the run lock. It reports whether anything changed.
func (e *Engine) Stop(ctx context.Context, id string) (bool, error) {
	if e.sched.RequestStop(id) {
		return true, nil
	}
	f, err := e.store.Get(id)
	if err != nil {
		return false, err
	}
	if f.Status != feature.StatusInProgress || e.sched.IsRunning(id) {
		return false, nil
	}
	if err := e.claimRuns(); err != nil {
		return false, err
	}
	if _, err := e.store.ForceStop(ctx, id); err != nil {
		return false, err
	}
	return true, nil
}

// ApprovePlan approves a generated plan so implementation can start.
func (e *Engine) ApprovePlan(ctx context.Context, id string) (feature.Feature, error) {
	return e.store.ApprovePlan(ctx, id)
}

// Approve moves a feature awaiting approval to verified.
func (e *Engine) Approve(ctx context.Context, id string) (feature.Feature, error) {
	return e.store.Approve(ctx, id)
}

// Commit marks a verified feature completed.
func (e *Engine) Commit(ctx context.Context, id string) (feature.Feature, error) {
	return e.store.Commit(ctx, id)
}

// Context returns the persisted agent output for id.
func (e *Engine) Context(id string) (string, error) {
	if _, err := e.store.Get(id); err != nil {
		return "", err
	}
	return e.files.Read(id)
}

// -----------------------------------------------------------------------------
// Scheduler settings
// -----------------------------------------------------------------------------

// SetConcurrency changes the budget and returns the clamped value.
func (e *Engine) SetConcurrency(n int) int {
	return e.sched.SetBudget(n)
}

// SetDependencyBlocking toggles dependency enforcement at admission.
func (e *Engine) SetDependencyBlocking(enforce bool) {
	e.sched.SetEnforceDependencies(enforce)
}

// SetAutoMode toggles the auto-mode driver. Enabling it claims the run lock.
func (e *Engine) SetAutoMode(enabled bool) error {
	if enabled {
		if err := e.claimRuns(); err != nil {
			return err
		}
	}
	e.sched.EnableAutoMode(enabled)
	return nil
}

// WaitIdle blocks until nothing is running and, with auto mode on, nothing
// is eligible to run. It returns early with ctx's error.
func (e *Engine) WaitIdle(ctx context.Context) error {
	ch, sub := e.bus.SubscribeChan("*", 64)
	defer e.bus.Unsubscribe(sub)
	for {
		if e.idle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

func (e *Engine) idle() bool {
	if len(e.sched.RunningIDs()) > 0 {
		return false
	}
	return !e.sched.AutoMode() || len(e.sched.Eligible()) == 0
}

// -----------------------------------------------------------------------------
// Suggestions
// -----------------------------------------------------------------------------

// GenerateSuggestions runs a project analysis and keeps its result for
// AcceptSuggestion. A running analysis is replaced.
func (e *Engine) GenerateSuggestions(ctx context.Context) (suggest.Result, error) {
	if err := e.claimRuns(); err != nil {
		return suggest.Result{}, err
	}
	res, err := e.suggester.Generate(ctx)
	if err != nil || res.Aborted {
		return res, err
	}
	e.mu.Lock()
	e.suggestions = slices.Clone(res.Suggestions)
	e.mu.Unlock()
	return res, nil
}

// StopSuggestions aborts the running analysis, if any.
func (e *Engine) StopSuggestions() {
	e.suggester.Stop()
}

// Suggestions returns the suggestions from the last completed analysis that
// have not been accepted.
func (e *Engine) Suggestions() []suggest.Suggestion {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.suggestions)
}

// AcceptSuggestion turns a suggestion into a backlog feature and drops it
// from the pending list.
func (e *Engine) AcceptSuggestion(ctx context.Context, suggestionID string) (feature.Feature, error) {
	e.mu.Lock()
	i := slices.IndexFunc(e.suggestions, func(s suggest.Suggestion) bool { return s.ID == suggestionID })
	if i < 0 {
		e.mu.Unlock()
		return feature.Feature{}, errors.NewNotFoundError("suggestion", suggestionID)
	}
	s := e.suggestions[i]
	e.mu.Unlock()

	f, err := e.store.Create(ctx, store.Draft{
		Category:    s.Category,
		Description: s.Description,
		Steps:       s.Steps,
	})
	if err != nil {
		return feature.Feature{}, err
	}

	e.mu.Lock()
	e.suggestions = slices.DeleteFunc(e.suggestions, func(x suggest.Suggestion) bool { return x.ID == suggestionID })
	e.mu.Unlock()
	return f, nil
}
