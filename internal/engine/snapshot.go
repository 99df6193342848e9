package engine

import (
	"time"

	"github.com/Iron-Ham/automaker/internal/depgraph"
	"github.com/Iron-Ham/automaker/internal/event"
	"github.com/Iron-Ham/automaker/internal/feature"
)

// FeatureView is a feature plus the derived state a board needs.
type FeatureView struct {
	feature.Feature
	Running      bool      `json:"running"`
	HasContext   bool      `json:"hasContext"`
	BlockedBy    []string  `json:"blockedBy,omitempty"`
	JustFinished bool      `json:"justFinished"`
	RunningSince time.Time `json:"runningSince,omitzero"`
}

// Snapshot is a consistent-enough picture of the engine for rendering.
// Features keep insertion order.
type Snapshot struct {
	Features            []FeatureView `json:"features"`
	Running             []string      `json:"running"`
	Budget              int           `json:"budget"`
	AutoMode            bool          `json:"autoMode"`
	EnforceDependencies bool          `json:"enforceDependencies"`
	SuggestionsRunning  bool          `json:"suggestionsRunning"`
	PendingSuggestions  int           `json:"pendingSuggestions"`
}

// Snapshot captures the current board state.
func (e *Engine) Snapshot() Snapshot {
	all := e.store.List()
	tasks := e.sched.Running()
	since := make(map[string]time.Time, len(tasks))
	running := make([]string, 0, len(tasks))
	for _, t := range tasks {
		since[t.FeatureID] = t.StartedAt
		running = append(running, t.FeatureID)
	}

	now := time.Now()
	views := make([]FeatureView, 0, len(all))
	for _, f := range all {
		start, isRunning := since[f.ID]
		views = append(views, FeatureView{
			Feature:      f,
			Running:      isRunning,
			HasContext:   e.files.HasContext(f.ID),
			BlockedBy:    depgraph.BlockingDependencies(f, all),
			JustFinished: f.IsJustFinished(now),
			RunningSince: start,
		})
	}

	e.mu.Lock()
	pending := len(e.suggestions)
	e.mu.Unlock()

	return Snapshot{
		Features:            views,
		Running:             running,
		Budget:              e.sched.Budget(),
		AutoMode:            e.sched.AutoMode(),
		EnforceDependencies: e.sched.EnforceDependencies(),
		SuggestionsRunning:  e.suggester.Running(),
		PendingSuggestions:  pending,
	}
}

// ByStatus groups the snapshot's features into board columns.
func (s Snapshot) ByStatus() map[feature.Status][]FeatureView {
	cols := make(map[feature.Status][]FeatureView, len(feature.Statuses()))
	for _, v := range s.Features {
		cols[v.Status] = append(cols[v.Status], v)
	}
	return cols
}

// Subscribe registers handler for eventType ("*" for all). Handlers run
// synchronously on the publisher's goroutine.
func (e *Engine) Subscribe(eventType string, handler event.Handler) string {
	return e.bus.Subscribe(eventType, handler)
}

// SubscribeChan delivers events on a buffered channel that drops when full.
func (e *Engine) SubscribeChan(eventType string, buffer int) (<-chan event.Event, string) {
	return e.bus.SubscribeChan(eventType, buffer)
}

// Unsubscribe removes a subscription made with Subscribe or SubscribeChan.
func (e *Engine) Unsubscribe(id string) bool {
	return e.bus.Unsubscribe(id)
}
