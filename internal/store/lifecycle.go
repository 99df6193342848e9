package store

import (
	"context"

	"github.com/Iron-Ham/automaker/internal/errors"
	"github.com/Iron-Ham/automaker/internal/feature"
)

// RunKind says why a run is starting.
type RunKind int

const (
	// RunStart is a fresh run of a backlog feature.
	RunStart RunKind = iota
	// RunResume continues from persisted context.
	RunResume
	// RunFollowUp reopens a feature awaiting approval with new instructions.
	RunFollowUp
)

func (k RunKind) String() string {
	switch k {
	case RunResume:
		return "resume"
	case RunFollowUp:
		return "follow-up"
	default:
		return "start"
	}
}

// BeginRun moves a feature into in_progress for a new run: startedAt is
// set and any previous error cleared. Allowed from backlog (start, resume),
// from a non-running in_progress feature (start, resume) and from
// waiting_approval (follow-up). The scheduler guarantees the feature is not
// already running.
func (s *Store) BeginRun(ctx context.Context, id string, kind RunKind) (feature.Feature, error) {
	return s.update(ctx, id, func(f *feature.Feature, _ []feature.Feature) error {
		switch {
		case kind == RunFollowUp && f.Status == feature.StatusWaitingApproval:
		case kind != RunFollowUp && (f.Status == feature.StatusBacklog || f.Status == feature.StatusInProgress):
		default:
			return transitionError(f, kind.String())
		}
		now := s.now()
		f.Status = feature.StatusInProgress
		f.StartedAt = &now
		f.Error = ""
		f.JustFinishedAt = nil
		return nil
	})
}

// RunResult is the terminal outcome of one run.
type RunResult struct {
	Outcome feature.Outcome
	Summary string // succeeded runs
	Error   string // failed runs
	// FollowUp marks the run as a follow-up on previously finished work.
	FollowUp bool
	// Planning marks the run as producing a plan rather than an implementation.
	Planning bool
}

// FinishRun applies a run's outcome. Success routes to waiting_approval
// (or verified when tests are skipped, or waiting_approval with a generated
// plan for planning runs). An abort returns the feature to backlog, or to
// waiting_approval when it was a follow-up on work that already has a
// summary. A failure keeps it in_progress with the error recorded.
// startedAt is cleared in every case.
func (s *Store) FinishRun(ctx context.Context, id string, res RunResult) (feature.Feature, error) {
	return s.update(ctx, id, func(f *feature.Feature, _ []feature.Feature) error {
		if f.Status != feature.StatusInProgress {
			return transitionError(f, "finish run")
		}
		now := s.now()
		f.StartedAt = nil

		switch res.Outcome {
		case feature.OutcomeSucceeded:
			f.Error = ""
			f.JustFinishedAt = &now
			switch {
			case res.Planning:
				f.Status = feature.StatusWaitingApproval
				f.PlanSpec = &feature.PlanSpec{
					Status:      feature.PlanGenerated,
					Content:     res.Summary,
					GeneratedAt: &now,
				}
			case f.SkipTests:
				f.Status = feature.StatusVerified
				f.Summary = res.Summary
			default:
				f.Status = feature.StatusWaitingApproval
				f.Summary = res.Summary
			}
		case feature.OutcomeAborted:
			f.Error = ""
			if res.FollowUp && f.Summary != "" {
				f.Status = feature.StatusWaitingApproval
			} else {
				f.Status = feature.StatusBacklog
			}
		case feature.OutcomeFailed:
			f.Error = res.Error
			if f.Error == "" {
				f.Error = errors.ErrExecution.Error()
			}
		default:
			return errors.NewValidationError("unknown outcome").WithField("outcome").WithValue(res.Outcome)
		}
		return nil
	})
}

// ForceStop returns a non-running in_progress feature (typically one
// flagged with an error) to backlog.
func (s *Store) ForceStop(ctx context.Context, id string) (feature.Feature, error) {
	return s.update(ctx, id, func(f *feature.Feature, _ []feature.Feature) error {
		if f.Status != feature.StatusInProgress {
			return transitionError(f, "force stop")
		}
		f.Status = feature.StatusBacklog
		f.StartedAt = nil
		f.Error = ""
		return nil
	})
}

// ApprovePlan approves a generated plan and returns the feature to backlog
// so its implementation run can be scheduled.
func (s *Store) ApprovePlan(ctx context.Context, id string) (feature.Feature, error) {
	return s.update(ctx, id, func(f *feature.Feature, _ []feature.Feature) error {
		if f.Status != feature.StatusWaitingApproval {
			return transitionError(f, "approve plan")
		}
		if f.PlanSpec == nil || f.PlanSpec.Status != feature.PlanGenerated {
			return errors.NewFeatureError("approve plan", errors.ErrNoPlan).WithFeatureID(f.ID).WithStatus(string(f.Status))
		}
		now := s.now()
		f.PlanSpec.Status = feature.PlanApproved
		f.PlanSpec.ApprovedAt = &now
		f.Status = feature.StatusBacklog
		f.JustFinishedAt = nil
		return nil
	})
}

// Approve marks reviewed work as verified. A feature whose plan has not
// been approved has no implementation to verify yet.
func (s *Store) Approve(ctx context.Context, id string) (feature.Feature, error) {
	return s.update(ctx, id, func(f *feature.Feature, _ []feature.Feature) error {
		if f.Status != feature.StatusWaitingApproval {
			return transitionError(f, "approve")
		}
		if planPending(f) {
			return errors.NewFeatureError("approve", errors.ErrPlanPending).WithFeatureID(f.ID).WithStatus(string(f.Status))
		}
		f.Status = feature.StatusVerified
		f.PlanSpec = nil
		return nil
	})
}

// Commit archives a feature as completed.
func (s *Store) Commit(ctx context.Context, id string) (feature.Feature, error) {
	return s.update(ctx, id, func(f *feature.Feature, _ []feature.Feature) error {
		if f.Status != feature.StatusWaitingApproval && f.Status != feature.StatusVerified {
			return transitionError(f, "commit")
		}
		if planPending(f) {
			return errors.NewFeatureError("commit", errors.ErrPlanPending).WithFeatureID(f.ID).WithStatus(string(f.Status))
		}
		f.Status = feature.StatusCompleted
		f.PlanSpec = nil
		return nil
	})
}

func planPending(f *feature.Feature) bool {
	return f.PlanSpec != nil && f.PlanSpec.Status == feature.PlanGenerated
}
