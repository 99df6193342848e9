// Package scheduler admits features for execution. It enforces the
// concurrency budget, dependency blocking and at most one run per feature,
// and drives auto mode.
//
// Admission is a single critical section: the running-set check, the
// budget check and the slot reservation all happen under one mutex, so
// concurrent RequestStart calls can never over-admit. The store transition
// to in_progress happens after the mutex is released, because the store
// announces it on the bus and handlers may query the scheduler.
// Lock order is Scheduler.mu then the store's own lock.
package scheduler

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/Iron-Ham/automaker/internal/depgraph"
	"github.com/Iron-Ham/automaker/internal/errors"
	"github.com/Iron-Ham/automaker/internal/event"
	"github.com/Iron-Ham/automaker/internal/executor"
	"github.com/Iron-Ham/automaker/internal/feature"
	"github.com/Iron-Ham/automaker/internal/logging"
	"github.com/Iron-Ham/automaker/internal/store"
)

// Budget bounds.
const (
	MinBudget     = 1
	MaxBudget     = 10
	DefaultBudget = 3
)

// Rejection reasons carried by scheduler.rejected events.
const (
	ReasonAlreadyRunning = "already_running"
	ReasonBlocked        = "blocked"
	ReasonBudget         = "budget_exceeded"
	ReasonClosed         = "closed"
	ReasonInvalid        = "invalid"
)

// Executor runs one feature. executor.Controller satisfies it.
type Executor interface {
	Execute(ctx context.Context, req executor.Request) executor.Outcome
}

// ContextChecker reports whether a feature has resumable context.
type ContextChecker interface {
	HasContext(id string) bool
}

// Config is the initial scheduler state.
type Config struct {
	Budget              int
	EnforceDependencies bool
	AutoMode            bool
}

// StartOptions selects the kind of run.
type StartOptions struct {
	Resume bool
	// FollowUp holds instructions for a follow-up run on a feature awaiting
	// approval. Non-empty means follow-up.
	FollowUp string
	auto     bool
}

// RunningTask is the live record of one admitted run.
type RunningTask struct {
	FeatureID string
	StartedAt time.Time
	Kind      store.RunKind
	Planning  bool
	Auto      bool

	cancel context.CancelFunc
}

// Scheduler owns the running set.
type Scheduler struct {
	store    *store.Store
	exec     Executor
	contexts ContextChecker
	bus      *event.Bus
	logger   *logging.Logger
	now      func() time.Time

	mu      sync.Mutex
	running map[string]*RunningTask
	// held are features the user stopped; auto mode skips them until they
	// are started explicitly or auto mode is switched on again.
	held    map[string]struct{}
	budget  int
	enforce bool
	auto    bool
	closed  bool

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         conc.WaitGroup
	kickCh     chan struct{}
	loopDone   chan struct{}
	subID      string
	closeOnce  sync.Once
}

// New creates a scheduler and starts its auto-mode driver. contexts may be
// nil, in which case auto mode always starts fresh runs.
func New(st *store.Store, exec Executor, contexts ContextChecker, bus *event.Bus, cfg Config, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if bus == nil {
		bus = event.NewBus()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		store:      st,
		exec:       exec,
		contexts:   contexts,
		bus:        bus,
		logger:     logger.WithComponent("scheduler"),
		now:        time.Now,
		running:    make(map[string]*RunningTask),
		held:       make(map[string]struct{}),
		budget:     ClampBudget(cfg.Budget),
		enforce:    cfg.EnforceDependencies,
		auto:       cfg.AutoMode,
		baseCtx:    ctx,
		baseCancel: cancel,
		kickCh:     make(chan struct{}, 1),
		loopDone:   make(chan struct{}),
	}
	s.subID = bus.Subscribe(event.TypeFeatureChanged, func(event.Event) { s.kick() })
	go s.autoLoop()
	if s.auto {
		s.kick()
	}
	return s
}

// ClampBudget forces n into [MinBudget, MaxBudget]; zero means default.
func ClampBudget(n int) int {
	if n == 0 {
		return DefaultBudget
	}
	return max(MinBudget, min(MaxBudget, n))
}

// RequestStart admits a feature and hands it to the executor. Admission
// failures are returned as *errors.SchedulingError and published as
// scheduler.rejected events; they never touch the store.
func (s *Scheduler) RequestStart(ctx context.Context, id string, opts StartOptions) (RunningTask, error) {
	s.mu.Lock()
	a, err := s.reserveLocked(ctx, id, opts)
	s.mu.Unlock()

	if err == nil {
		err = <-a.begun
	}
	if err != nil {
		var se *errors.SchedulingError
		if errors.As(err, &se) {
			s.bus.Publish(event.NewAdmissionRejectedEvent(id, rejectionReason(err), se.BlockedBy))
		}
		if errors.GetSeverity(err) >= errors.SeverityError {
			s.logger.Warn("start failed", "feature_id", id, "error", err)
		} else {
			s.logger.Debug("start rejected", "feature_id", id, "error", err)
		}
		return RunningTask{}, err
	}
	s.announce(a.task)
	return *a.task, nil
}

// admission is a reserved slot whose feature has not yet been moved to
// in_progress. begun receives the outcome of that transition.
type admission struct {
	task  *RunningTask
	begun chan error
}

// reserveLocked performs the atomic admission check, takes a slot in the
// running set and launches the run goroutine, which moves the feature to
// in_progress before executing it. Callers hold s.mu and must wait on the
// admission's begun channel after releasing it.
func (s *Scheduler) reserveLocked(ctx context.Context, id string, opts StartOptions) (*admission, error) {
	if s.closed {
		return nil, errors.NewSchedulingError(errors.ErrSchedulerClosed, id)
	}
	if _, ok := s.running[id]; ok {
		return nil, errors.NewSchedulingError(errors.ErrAlreadyRunning, id)
	}

	all := s.store.List()
	f, ok := feature.Find(all, id)
	if !ok {
		return nil, errors.NewNotFoundError("feature", id)
	}

	kind := store.RunStart
	switch {
	case opts.FollowUp != "":
		kind = store.RunFollowUp
	case opts.Resume:
		kind = store.RunResume
	}

	if kind != store.RunFollowUp && s.enforce {
		if blocking := depgraph.BlockingDependencies(f, all); len(blocking) > 0 {
			return nil, errors.NewSchedulingError(errors.ErrBlocked, id).WithBlockedBy(blocking)
		}
	}
	if len(s.running) >= s.budget {
		return nil, errors.NewSchedulingError(errors.ErrBudgetExceeded, id).WithBudget(s.budget)
	}

	planning := kind != store.RunFollowUp && f.NeedsPlan()
	runCtx, cancel := context.WithCancel(s.baseCtx)
	task := &RunningTask{
		FeatureID: id,
		StartedAt: s.now(),
		Kind:      kind,
		Planning:  planning,
		Auto:      opts.auto,
		cancel:    cancel,
	}
	s.running[id] = task
	if !opts.auto {
		delete(s.held, id)
	}

	a := &admission{task: task, begun: make(chan error, 1)}
	req := executor.Request{
		Features: all,
		Resume:   kind == store.RunResume,
		FollowUp: opts.FollowUp,
		Planning: planning,
	}
	s.wg.Go(func() { s.begin(ctx, runCtx, a, req) })
	return a, nil
}

// begin moves the reserved feature to in_progress and runs it. A failed
// transition gives the slot back without touching the feature.
func (s *Scheduler) begin(ctx, runCtx context.Context, a *admission, req executor.Request) {
	t := a.task
	f, err := s.store.BeginRun(ctx, t.FeatureID, t.Kind)
	if err != nil {
		t.cancel()
		s.release(t)
		a.begun <- err
		return
	}
	a.begun <- nil
	req.Feature = f
	s.run(runCtx, t, req)
}

func (s *Scheduler) release(t *RunningTask) {
	s.mu.Lock()
	if s.running[t.FeatureID] == t {
		delete(s.running, t.FeatureID)
	}
	s.mu.Unlock()
}

func (s *Scheduler) announce(t *RunningTask) {
	s.logger.Info("feature started", "feature_id", t.FeatureID, "kind", t.Kind.String(), "planning", t.Planning, "auto", t.Auto)
	s.bus.Publish(event.NewFeatureStartedEvent(t.FeatureID, t.Kind == store.RunResume, t.Kind == store.RunFollowUp, t.Auto))
}

// run executes the feature and records the outcome. A panicking executor
// is recorded as a failed run so the slot is always freed.
func (s *Scheduler) run(ctx context.Context, t *RunningTask, req executor.Request) {
	var out executor.Outcome
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("run panicked", "feature_id", t.FeatureID, "panic", fmt.Sprint(r))
			out = executor.Outcome{Result: feature.OutcomeFailed, Error: fmt.Sprintf("execution panicked: %v", r)}
		}
		s.finish(t, out)
	}()
	out = s.exec.Execute(ctx, req)
}

// finish records the outcome, frees the slot and wakes auto mode, in that
// order, so a feature is never observed as both free and unfinished.
func (s *Scheduler) finish(t *RunningTask, out executor.Outcome) {
	t.cancel()
	log := s.logger.WithFeature(t.FeatureID)

	status := ""
	f, err := s.store.FinishRun(context.Background(), t.FeatureID, store.RunResult{
		Outcome:  out.Result,
		Summary:  out.Summary,
		Error:    out.Error,
		FollowUp: t.Kind == store.RunFollowUp,
		Planning: t.Planning,
	})
	if err != nil {
		// Deleted mid-run, or the store failed to persist.
		log.Warn("failed to record run outcome", "outcome", string(out.Result), "error", err)
	} else {
		status = string(f.Status)
	}

	s.release(t)

	s.bus.Publish(event.NewFeatureFinishedEvent(t.FeatureID, string(out.Result), status, out.Error, out.Duration))
	s.kick()
}

// RequestStop cancels the feature's run. It reports whether a run was
// signalled. Either way auto mode stops picking the feature up until it is
// started explicitly or auto mode is switched on again.
func (s *Scheduler) RequestStop(id string) bool {
	s.mu.Lock()
	s.held[id] = struct{}{}
	t, ok := s.running[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.logger.Info("stop requested", "feature_id", id)
	t.cancel()
	return true
}

// SetBudget changes the concurrency budget. Lowering it never preempts
// running tasks. Returns the clamped value.
func (s *Scheduler) SetBudget(n int) int {
	n = max(MinBudget, min(MaxBudget, n))
	s.mu.Lock()
	changed := s.budget != n
	s.budget = n
	s.mu.Unlock()
	if changed {
		s.logger.Info("budget changed", "budget", n)
		s.bus.Publish(event.NewBudgetChangedEvent(n))
		s.kick()
	}
	return n
}

// Budget returns the current concurrency budget.
func (s *Scheduler) Budget() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.budget
}

// SetEnforceDependencies toggles dependency blocking for future admissions.
func (s *Scheduler) SetEnforceDependencies(enforce bool) {
	s.mu.Lock()
	s.enforce = enforce
	s.mu.Unlock()
	s.kick()
}

// EnforceDependencies reports whether dependency blocking is on.
func (s *Scheduler) EnforceDependencies() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enforce
}

// EnableAutoMode turns the auto-mode driver on or off. Turning it off does
// not stop runs it already started.
func (s *Scheduler) EnableAutoMode(enabled bool) {
	s.mu.Lock()
	changed := s.auto != enabled
	s.auto = enabled
	if changed && enabled {
		clear(s.held)
	}
	s.mu.Unlock()
	if !changed {
		return
	}
	s.logger.Info("auto mode changed", "enabled", enabled)
	s.bus.Publish(event.NewAutoModeChangedEvent(enabled))
	s.kick()
}

// AutoMode reports whether auto mode is on.
func (s *Scheduler) AutoMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auto
}

// Running returns the running tasks ordered by start time.
func (s *Scheduler) Running() []RunningTask {
	s.mu.Lock()
	out := make([]RunningTask, 0, len(s.running))
	for _, t := range s.running {
		out = append(out, *t)
	}
	s.mu.Unlock()
	slices.SortFunc(out, func(a, b RunningTask) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.FeatureID, b.FeatureID)
	})
	for i := range out {
		out[i].cancel = nil
	}
	return out
}

// RunningIDs returns the ids of running features.
func (s *Scheduler) RunningIDs() []string {
	tasks := s.Running()
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.FeatureID
	}
	return ids
}

// IsRunning reports whether id has a running task.
func (s *Scheduler) IsRunning(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[id]
	return ok
}

// Close cancels every run and waits for them to record their outcome.
// Admissions after Close fail with errors.ErrSchedulerClosed.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.bus.Unsubscribe(s.subID)
		s.baseCancel()
		<-s.loopDone
		if r := s.wg.WaitAndRecover(); r != nil {
			s.logger.Error("run panicked", "panic", r.String())
		}
	})
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, errors.ErrAlreadyRunning):
		return ReasonAlreadyRunning
	case errors.Is(err, errors.ErrBlocked):
		return ReasonBlocked
	case errors.Is(err, errors.ErrBudgetExceeded):
		return ReasonBudget
	case errors.Is(err, errors.ErrSchedulerClosed):
		return ReasonClosed
	default:
		return ReasonInvalid
	}
}
