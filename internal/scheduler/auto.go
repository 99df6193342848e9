package scheduler

import (
	"context"
	"slices"

	"github.com/Iron-Ham/automaker/internal/depgraph"
	"github.com/Iron-Ham/automaker/internal/errors"
	"github.com/Iron-Ham/automaker/internal/feature"
)

// kick wakes the auto-mode driver. Kicks coalesce; it never blocks and
// never takes s.mu, so it is safe from bus handlers.
func (s *Scheduler) kick() {
	select {
	case s.kickCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) autoLoop() {
	defer close(s.loopDone)
	for {
		select {
		case <-s.baseCtx.Done():
			return
		case <-s.kickCh:
			s.fill()
		}
	}
}

// fill starts eligible backlog features until the budget is used up.
func (s *Scheduler) fill() {
	s.mu.Lock()
	if !s.auto || s.closed {
		s.mu.Unlock()
		return
	}
	var reserved []*admission
	for _, f := range s.candidatesLocked() {
		if len(s.running) >= s.budget {
			break
		}
		resume := s.contexts != nil && s.contexts.HasContext(f.ID)
		a, err := s.reserveLocked(context.Background(), f.ID, StartOptions{Resume: resume, auto: true})
		if err != nil {
			if errors.IsAdmissionFailure(err) {
				s.logger.Debug("auto start skipped", "feature_id", f.ID, "error", err)
			} else {
				s.logger.Warn("auto start failed", "feature_id", f.ID, "error", err)
			}
			continue
		}
		reserved = append(reserved, a)
	}
	s.mu.Unlock()

	for _, a := range reserved {
		if err := <-a.begun; err != nil {
			s.logger.Warn("auto start failed", "feature_id", a.task.FeatureID, "error", err)
			continue
		}
		s.announce(a.task)
	}
}

// Eligible returns the features auto mode would start next, in selection
// order, ignoring the budget.
func (s *Scheduler) Eligible() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	cands := s.candidatesLocked()
	ids := make([]string, len(cands))
	for i, f := range cands {
		ids[i] = f.ID
	}
	return ids
}

// candidatesLocked lists non-running, unblocked backlog features that the
// user has not stopped, ordered by explicit priority (unset last) then
// insertion order.
func (s *Scheduler) candidatesLocked() []feature.Feature {
	all := s.store.List()
	var out []feature.Feature
	for _, f := range all {
		if f.Status != feature.StatusBacklog {
			continue
		}
		if _, running := s.running[f.ID]; running {
			continue
		}
		if _, held := s.held[f.ID]; held {
			continue
		}
		if depgraph.IsBlocked(f, all, s.enforce) {
			continue
		}
		out = append(out, f)
	}
	slices.SortStableFunc(out, func(a, b feature.Feature) int {
		return comparePriority(a.Priority, b.Priority)
	})
	return out
}

func comparePriority(a, b int) int {
	switch {
	case a == b:
		return 0
	case a == 0:
		return 1
	case b == 0:
		return -1
	case a < b:
		return -1
	default:
		return 1
	}
}
