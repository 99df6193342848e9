package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/automaker/internal/errors"
	"github.com/Iron-Ham/automaker/internal/event"
	"github.com/Iron-Ham/automaker/internal/executor"
	"github.com/Iron-Ham/automaker/internal/feature"
	"github.com/Iron-Ham/automaker/internal/store"
)

// fakeExec blocks each run until the test finishes it or it is cancelled.
type fakeExec struct {
	mu       sync.Mutex
	results  map[string]chan executor.Outcome
	requests map[string]executor.Request
	current  int
	peak     int
	started  chan string
}

func newFakeExec() *fakeExec {
	return &fakeExec{
		results:  make(map[string]chan executor.Outcome),
		requests: make(map[string]executor.Request),
		started:  make(chan string, 100),
	}
}

func (f *fakeExec) ch(id string) chan executor.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.results[id]
	if !ok {
		c = make(chan executor.Outcome, 1)
		f.results[id] = c
	}
	return c
}

func (f *fakeExec) Execute(ctx context.Context, req executor.Request) executor.Outcome {
	f.mu.Lock()
	f.current++
	f.peak = max(f.peak, f.current)
	f.requests[req.Feature.ID] = req
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.current--
		f.mu.Unlock()
	}()

	f.started <- req.Feature.ID
	select {
	case out := <-f.ch(req.Feature.ID):
		return out
	case <-ctx.Done():
		return executor.Outcome{Result: feature.OutcomeAborted}
	}
}

func (f *fakeExec) finish(id string, out executor.Outcome) {
	f.ch(id) <- out
}

func (f *fakeExec) request(id string) executor.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[id]
}

func (f *fakeExec) peakConcurrency() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak
}

type contextSet map[string]bool

func (c contextSet) HasContext(id string) bool { return c[id] }

type harness struct {
	sched *Scheduler
	store *store.Store
	exec  *fakeExec
	bus   *event.Bus
}

func newHarness(t *testing.T, cfg Config, contexts ContextChecker) *harness {
	t.Helper()
	bus := event.NewBus()
	var n int
	var mu sync.Mutex
	st, err := store.New(context.Background(), store.NewFileRepository(afero.NewMemMapFs(), "/state"),
		store.WithBus(bus),
		store.WithIDGenerator(func() string {
			mu.Lock()
			defer mu.Unlock()
			n++
			return fmt.Sprintf("f%d", n)
		}),
	)
	require.NoError(t, err)
	ex := newFakeExec()
	s := New(st, ex, contexts, bus, cfg, nil)
	t.Cleanup(s.Close)
	return &harness{sched: s, store: st, exec: ex, bus: bus}
}

func (h *harness) create(t *testing.T, d store.Draft) feature.Feature {
	t.Helper()
	if d.Description == "" {
		d.Description = "work"
	}
	f, err := h.store.Create(context.Background(), d)
	require.NoError(t, err)
	return f
}

func (h *harness) waitStarted(t *testing.T) string {
	t.Helper()
	select {
	case id := <-h.exec.started:
		return id
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a run to start")
		return ""
	}
}

func (h *harness) waitFinished(t *testing.T, ch <-chan event.Event) event.FeatureFinishedEvent {
	t.Helper()
	select {
	case e := <-ch:
		return e.(event.FeatureFinishedEvent)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a run to finish")
		return event.FeatureFinishedEvent{}
	}
}

func (h *harness) status(t *testing.T, id string) feature.Status {
	t.Helper()
	f, err := h.store.Get(id)
	require.NoError(t, err)
	return f.Status
}

func TestRequestStart_AdmitsAndRuns(t *testing.T) {
	h := newHarness(t, Config{Budget: 2, EnforceDependencies: true}, nil)
	f := h.create(t, store.Draft{Title: "A"})
	finished, _ := h.bus.SubscribeChan(event.TypeFeatureFinished, 4)
	started, _ := h.bus.SubscribeChan(event.TypeFeatureStarted, 4)

	task, err := h.sched.RequestStart(context.Background(), f.ID, StartOptions{})
	require.NoError(t, err)
	assert.Equal(t, f.ID, task.FeatureID)
	assert.Equal(t, store.RunStart, task.Kind)
	assert.Equal(t, f.ID, h.waitStarted(t))
	assert.True(t, h.sched.IsRunning(f.ID))
	assert.Equal(t, feature.StatusInProgress, h.status(t, f.ID))
	require.Len(t, started, 1)

	h.exec.finish(f.ID, executor.Outcome{Result: feature.OutcomeSucceeded, Summary: "done"})
	ev := h.waitFinished(t, finished)
	assert.Equal(t, "succeeded", ev.Outcome)
	assert.Equal(t, string(feature.StatusWaitingApproval), ev.Status)

	assert.False(t, h.sched.IsRunning(f.ID))
	got, err := h.store.Get(f.ID)
	require.NoError(t, err)
	assert.Equal(t, "done", got.Summary)
	assert.Nil(t, got.StartedAt)
	assert.NotNil(t, got.JustFinishedAt)
}

func TestRequestStart_Rejections(t *testing.T) {
	h := newHarness(t, Config{Budget: 1, EnforceDependencies: true}, nil)
	a := h.create(t, store.Draft{Title: "A"})
	b := h.create(t, store.Draft{Title: "B"})
	c := h.create(t, store.Draft{Title: "C", Dependencies: []string{a.ID}})
	rejected, _ := h.bus.SubscribeChan(event.TypeAdmissionRejected, 8)

	_, err := h.sched.RequestStart(context.Background(), a.ID, StartOptions{})
	require.NoError(t, err)

	_, err = h.sched.RequestStart(context.Background(), a.ID, StartOptions{})
	assert.ErrorIs(t, err, errors.ErrAlreadyRunning)

	_, err = h.sched.RequestStart(context.Background(), c.ID, StartOptions{})
	assert.ErrorIs(t, err, errors.ErrBlocked)
	var se *errors.SchedulingError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, []string{a.ID}, se.BlockedBy)

	_, err = h.sched.RequestStart(context.Background(), b.ID, StartOptions{})
	assert.ErrorIs(t, err, errors.ErrBudgetExceeded)

	_, err = h.sched.RequestStart(context.Background(), "missing", StartOptions{})
	assert.ErrorIs(t, err, errors.ErrFeatureNotFound)

	require.Len(t, rejected, 3)
	reasons := []string{}
	for range 3 {
		reasons = append(reasons, (<-rejected).(event.AdmissionRejectedEvent).Reason)
	}
	assert.Equal(t, []string{ReasonAlreadyRunning, ReasonBlocked, ReasonBudget}, reasons)

	// Rejected features never enter the store as in_progress.
	assert.Equal(t, feature.StatusBacklog, h.status(t, b.ID))
	assert.Equal(t, feature.StatusBacklog, h.status(t, c.ID))
}

func TestRequestStart_BlockingDisabled(t *testing.T) {
	h := newHarness(t, Config{Budget: 2, EnforceDependencies: false}, nil)
	a := h.create(t, store.Draft{Title: "A"})
	c := h.create(t, store.Draft{Title: "C", Dependencies: []string{a.ID}})

	_, err := h.sched.RequestStart(context.Background(), c.ID, StartOptions{})
	assert.NoError(t, err)
}

func TestRequestStart_NeverExceedsBudget(t *testing.T) {
	const budget = 3
	h := newHarness(t, Config{Budget: budget}, nil)
	var ids []string
	for i := range 12 {
		ids = append(ids, h.create(t, store.Draft{Title: fmt.Sprintf("F%d", i)}).ID)
	}

	var mu sync.Mutex
	admitted := map[string]int{}
	var wg sync.WaitGroup
	for range 4 {
		for _, id := range ids {
			wg.Go(func() {
				if _, err := h.sched.RequestStart(context.Background(), id, StartOptions{}); err == nil {
					mu.Lock()
					admitted[id]++
					mu.Unlock()
				}
			})
		}
	}
	wg.Wait()

	assert.Len(t, admitted, budget)
	for id, n := range admitted {
		assert.Equal(t, 1, n, "feature %s admitted twice", id)
	}
	assert.Len(t, h.sched.Running(), budget)
	for range budget {
		h.waitStarted(t)
	}
	assert.LessOrEqual(t, h.exec.peakConcurrency(), budget)
}

func TestScenario_DependencyUnblocksLaterAdmission(t *testing.T) {
	h := newHarness(t, Config{Budget: 2, EnforceDependencies: true}, nil)
	a := h.create(t, store.Draft{Title: "A"})
	b := h.create(t, store.Draft{Title: "B"})
	c := h.create(t, store.Draft{Title: "C", Dependencies: []string{a.ID}})
	finished, _ := h.bus.SubscribeChan(event.TypeFeatureFinished, 8)

	results := make(map[string]error)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, id := range []string{a.ID, b.ID, c.ID} {
		wg.Go(func() {
			_, err := h.sched.RequestStart(context.Background(), id, StartOptions{})
			mu.Lock()
			results[id] = err
			mu.Unlock()
		})
	}
	wg.Wait()

	assert.NoError(t, results[a.ID])
	assert.NoError(t, results[b.ID])
	assert.ErrorIs(t, results[c.ID], errors.ErrBlocked)

	h.exec.finish(a.ID, executor.Outcome{Result: feature.OutcomeSucceeded, Summary: "a"})
	h.waitFinished(t, finished)
	_, err := h.store.Approve(context.Background(), a.ID)
	require.NoError(t, err)

	h.waitStarted(t)
	h.waitStarted(t)
	h.sched.EnableAutoMode(true)
	assert.Equal(t, c.ID, h.waitStarted(t))
	assert.True(t, h.sched.IsRunning(b.ID))
}

func TestRequestStop(t *testing.T) {
	h := newHarness(t, Config{Budget: 2}, nil)
	f := h.create(t, store.Draft{Title: "A"})
	finished, _ := h.bus.SubscribeChan(event.TypeFeatureFinished, 4)

	assert.False(t, h.sched.RequestStop(f.ID), "stopping an idle feature is a no-op")

	_, err := h.sched.RequestStart(context.Background(), f.ID, StartOptions{})
	require.NoError(t, err)
	h.waitStarted(t)

	assert.True(t, h.sched.RequestStop(f.ID))
	ev := h.waitFinished(t, finished)
	assert.Equal(t, "aborted", ev.Outcome)
	assert.Equal(t, feature.StatusBacklog, h.status(t, f.ID))
	assert.False(t, h.sched.IsRunning(f.ID))

	// Stop after completion is tolerated.
	assert.False(t, h.sched.RequestStop(f.ID))
}

func TestFailureKeepsInProgressAndFreesSlot(t *testing.T) {
	h := newHarness(t, Config{Budget: 1}, nil)
	a := h.create(t, store.Draft{Title: "A"})
	b := h.create(t, store.Draft{Title: "B"})
	finished, _ := h.bus.SubscribeChan(event.TypeFeatureFinished, 4)

	_, err := h.sched.RequestStart(context.Background(), a.ID, StartOptions{})
	require.NoError(t, err)
	h.waitStarted(t)
	h.exec.finish(a.ID, executor.Outcome{Result: feature.OutcomeFailed, Error: "boom"})
	ev := h.waitFinished(t, finished)
	assert.Equal(t, "boom", ev.Error)

	got, err := h.store.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, feature.StatusInProgress, got.Status)
	assert.Equal(t, "boom", got.Error)

	_, err = h.sched.RequestStart(context.Background(), b.ID, StartOptions{})
	assert.NoError(t, err)

	// The flagged feature is resumable once a slot frees.
	h.waitStarted(t)
	h.exec.finish(b.ID, executor.Outcome{Result: feature.OutcomeSucceeded})
	h.waitFinished(t, finished)
	task, err := h.sched.RequestStart(context.Background(), a.ID, StartOptions{Resume: true})
	require.NoError(t, err)
	assert.Equal(t, store.RunResume, task.Kind)
	h.waitStarted(t)
	assert.True(t, h.exec.request(a.ID).Resume)
}

func TestFollowUpAbortReturnsToWaitingApproval(t *testing.T) {
	h := newHarness(t, Config{Budget: 1}, nil)
	f := h.create(t, store.Draft{Title: "A"})
	finished, _ := h.bus.SubscribeChan(event.TypeFeatureFinished, 4)

	_, err := h.sched.RequestStart(context.Background(), f.ID, StartOptions{})
	require.NoError(t, err)
	h.waitStarted(t)
	h.exec.finish(f.ID, executor.Outcome{Result: feature.OutcomeSucceeded, Summary: "v1"})
	h.waitFinished(t, finished)

	task, err := h.sched.RequestStart(context.Background(), f.ID, StartOptions{FollowUp: "add tests"})
	require.NoError(t, err)
	assert.Equal(t, store.RunFollowUp, task.Kind)
	h.waitStarted(t)
	assert.Equal(t, "add tests", h.exec.request(f.ID).FollowUp)

	h.sched.RequestStop(f.ID)
	h.waitFinished(t, finished)
	assert.Equal(t, feature.StatusWaitingApproval, h.status(t, f.ID))
}

func TestPlanningRun(t *testing.T) {
	h := newHarness(t, Config{Budget: 1}, nil)
	f := h.create(t, store.Draft{Title: "A", RequirePlanApproval: true})
	finished, _ := h.bus.SubscribeChan(event.TypeFeatureFinished, 4)

	task, err := h.sched.RequestStart(context.Background(), f.ID, StartOptions{})
	require.NoError(t, err)
	assert.True(t, task.Planning)
	h.waitStarted(t)
	assert.True(t, h.exec.request(f.ID).Planning)

	h.exec.finish(f.ID, executor.Outcome{Result: feature.OutcomeSucceeded, Summary: "the plan"})
	h.waitFinished(t, finished)
	got, err := h.store.Get(f.ID)
	require.NoError(t, err)
	assert.Equal(t, feature.StatusWaitingApproval, got.Status)
	require.NotNil(t, got.PlanSpec)
	assert.Equal(t, "the plan", got.PlanSpec.Content)

	_, err = h.store.ApprovePlan(context.Background(), f.ID)
	require.NoError(t, err)
	task, err = h.sched.RequestStart(context.Background(), f.ID, StartOptions{})
	require.NoError(t, err)
	assert.False(t, task.Planning)
}

func TestSetBudget(t *testing.T) {
	h := newHarness(t, Config{Budget: 3}, nil)
	changes, _ := h.bus.SubscribeChan(event.TypeBudgetChanged, 4)

	assert.Equal(t, MaxBudget, h.sched.SetBudget(50))
	assert.Equal(t, MinBudget, h.sched.SetBudget(0))
	assert.Equal(t, MinBudget, h.sched.SetBudget(-3))
	assert.Equal(t, MinBudget, h.sched.Budget())
	assert.Len(t, changes, 2)

	assert.Equal(t, DefaultBudget, ClampBudget(0))
	assert.Equal(t, 7, ClampBudget(7))
}

func TestLoweringBudgetDoesNotPreempt(t *testing.T) {
	h := newHarness(t, Config{Budget: 3}, nil)
	var ids []string
	for i := range 3 {
		f := h.create(t, store.Draft{Title: fmt.Sprintf("F%d", i)})
		ids = append(ids, f.ID)
		_, err := h.sched.RequestStart(context.Background(), f.ID, StartOptions{})
		require.NoError(t, err)
	}
	extra := h.create(t, store.Draft{Title: "extra"})

	h.sched.SetBudget(1)
	assert.Len(t, h.sched.Running(), 3)
	for _, id := range ids {
		assert.True(t, h.sched.IsRunning(id))
	}

	_, err := h.sched.RequestStart(context.Background(), extra.ID, StartOptions{})
	assert.ErrorIs(t, err, errors.ErrBudgetExceeded)
}

func TestAutoMode_OrderAndResume(t *testing.T) {
	h := newHarness(t, Config{Budget: 1, EnforceDependencies: true}, contextSet{})
	first := h.create(t, store.Draft{Title: "first"})
	urgent := h.create(t, store.Draft{Title: "urgent", Priority: 1})
	blocked := h.create(t, store.Draft{Title: "blocked", Dependencies: []string{first.ID}, Priority: 1})
	_ = blocked
	finished, _ := h.bus.SubscribeChan(event.TypeFeatureFinished, 8)

	assert.Equal(t, []string{urgent.ID, first.ID}, h.sched.Eligible())

	h.sched.EnableAutoMode(true)
	assert.True(t, h.sched.AutoMode())
	assert.Equal(t, urgent.ID, h.waitStarted(t))

	h.exec.finish(urgent.ID, executor.Outcome{Result: feature.OutcomeSucceeded})
	h.waitFinished(t, finished)
	assert.Equal(t, first.ID, h.waitStarted(t))
	running := h.sched.Running()
	require.Len(t, running, 1)
	assert.True(t, running[0].Auto)
}

func TestAutoMode_ResumesFeaturesWithContext(t *testing.T) {
	ctxs := contextSet{}
	h := newHarness(t, Config{Budget: 1}, ctxs)
	f := h.create(t, store.Draft{Title: "A"})
	ctxs[f.ID] = true

	h.sched.EnableAutoMode(true)
	h.waitStarted(t)
	assert.True(t, h.exec.request(f.ID).Resume)
	assert.Equal(t, store.RunResume, h.sched.Running()[0].Kind)
}

func TestAutoMode_PicksUpNewFeatures(t *testing.T) {
	h := newHarness(t, Config{Budget: 2, AutoMode: true}, nil)
	f := h.create(t, store.Draft{Title: "late"})
	assert.Equal(t, f.ID, h.waitStarted(t))
}

func TestAutoModeDisabled_DoesNothing(t *testing.T) {
	h := newHarness(t, Config{Budget: 2}, nil)
	h.create(t, store.Draft{Title: "A"})
	select {
	case id := <-h.exec.started:
		t.Fatalf("unexpected start of %s", id)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClose(t *testing.T) {
	h := newHarness(t, Config{Budget: 2}, nil)
	f := h.create(t, store.Draft{Title: "A"})
	other := h.create(t, store.Draft{Title: "B"})
	_, err := h.sched.RequestStart(context.Background(), f.ID, StartOptions{})
	require.NoError(t, err)
	h.waitStarted(t)

	h.sched.Close()
	assert.Empty(t, h.sched.Running())
	assert.Equal(t, feature.StatusBacklog, h.status(t, f.ID))

	_, err = h.sched.RequestStart(context.Background(), other.ID, StartOptions{})
	assert.ErrorIs(t, err, errors.ErrSchedulerClosed)

	assert.NotPanics(t, h.sched.Close)
}

type panicExec struct{}

func (panicExec) Execute(context.Context, executor.Request) executor.Outcome { panic("agent exploded") }

func TestPanickingRunIsContained(t *testing.T) {
	bus := event.NewBus()
	st, err := store.New(context.Background(), store.NewFileRepository(afero.NewMemMapFs(), "/state"), store.WithBus(bus))
	require.NoError(t, err)
	s := New(st, panicExec{}, nil, bus, Config{Budget: 1}, nil)
	finished, _ := bus.SubscribeChan(event.TypeFeatureFinished, 1)

	f, err := st.Create(context.Background(), store.Draft{Description: "x"})
	require.NoError(t, err)
	_, err = s.RequestStart(context.Background(), f.ID, StartOptions{})
	require.NoError(t, err)

	select {
	case e := <-finished:
		assert.Equal(t, "failed", e.(event.FeatureFinishedEvent).Outcome)
	case <-time.After(3 * time.Second):
		t.Fatal("no finish event")
	}
	assert.NotPanics(t, s.Close)
	got, err := st.Get(f.ID)
	require.NoError(t, err)
	assert.Equal(t, "execution panicked: agent exploded", got.Error)
	assert.Empty(t, s.Running())
}

func TestAutoMode_LeavesStoppedFeaturesAlone(t *testing.T) {
	// Ids are generated as f1, f2, ... so the context can be declared up front.
	h := newHarness(t, Config{Budget: 1, AutoMode: true}, contextSet{"f1": true})
	finished, _ := h.bus.SubscribeChan(event.TypeFeatureFinished, 4)
	f := h.create(t, store.Draft{Title: "A"})
	require.Equal(t, f.ID, h.waitStarted(t))
	assert.True(t, h.exec.request(f.ID).Resume)

	require.True(t, h.sched.RequestStop(f.ID))
	assert.Equal(t, "aborted", h.waitFinished(t, finished).Outcome)
	assert.Equal(t, feature.StatusBacklog, h.status(t, f.ID))
	assert.Empty(t, h.sched.Eligible())

	select {
	case id := <-h.exec.started:
		t.Fatalf("auto mode restarted stopped feature %s", id)
	case <-time.After(150 * time.Millisecond):
	}

	t.Run("explicit resume releases the hold", func(t *testing.T) {
		_, err := h.sched.RequestStart(context.Background(), f.ID, StartOptions{Resume: true})
		require.NoError(t, err)
		h.waitStarted(t)
		h.sched.RequestStop(f.ID)
		h.waitFinished(t, finished)
		assert.Empty(t, h.sched.Eligible(), "stopped again")
	})

	t.Run("switching auto mode back on releases the hold", func(t *testing.T) {
		h.sched.EnableAutoMode(false)
		h.sched.EnableAutoMode(true)
		assert.Equal(t, f.ID, h.waitStarted(t))
	})
}

func TestBusHandlersMayQueryScheduler(t *testing.T) {
	h := newHarness(t, Config{Budget: 2}, nil)
	var mu sync.Mutex
	var seen []int
	h.bus.Subscribe(event.TypeFeatureChanged, func(event.Event) {
		n := len(h.sched.Running())
		mu.Lock()
		seen = append(seen, n)
		mu.Unlock()
	})
	a := h.create(t, store.Draft{Title: "A"})

	done := make(chan error, 1)
	go func() {
		_, err := h.sched.RequestStart(context.Background(), a.ID, StartOptions{})
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("RequestStart blocked behind a feature.changed handler")
	}
	assert.Equal(t, a.ID, h.waitStarted(t))

	b := h.create(t, store.Draft{Title: "B"})
	h.sched.EnableAutoMode(true)
	assert.Equal(t, b.ID, h.waitStarted(t))
	assert.Len(t, h.sched.Running(), 2)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, seen, 1, "the reserved slot is visible while the feature moves to in_progress")
}
