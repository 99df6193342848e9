// Package feature defines the unit of work tracked by automaker and its
// lifecycle vocabulary.
package feature

import (
	"slices"
	"time"
)

// Status is a feature's lifecycle state. Exactly one is authoritative at a time.
type Status string

const (
	StatusBacklog         Status = "backlog"
	StatusInProgress      Status = "in_progress"
	StatusWaitingApproval Status = "waiting_approval"
	StatusVerified        Status = "verified"
	StatusCompleted       Status = "completed"
)

// Statuses returns every status in board column order.
func Statuses() []Status {
	return []Status{StatusBacklog, StatusInProgress, StatusWaitingApproval, StatusVerified, StatusCompleted}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return slices.Contains(Statuses(), s)
}

// SatisfiesDependency reports whether a prerequisite in this status
// unblocks its dependents.
func (s Status) SatisfiesDependency() bool {
	return s == StatusVerified || s == StatusCompleted
}

// ThinkingLevel controls the extended-thinking budget given to the agent.
type ThinkingLevel string

const (
	ThinkingNone       ThinkingLevel = "none"
	ThinkingLow        ThinkingLevel = "low"
	ThinkingMedium     ThinkingLevel = "medium"
	ThinkingHigh       ThinkingLevel = "high"
	ThinkingUltrathink ThinkingLevel = "ultrathink"
)

// ThinkingLevels lists the accepted thinking levels.
func ThinkingLevels() []ThinkingLevel {
	return []ThinkingLevel{ThinkingNone, ThinkingLow, ThinkingMedium, ThinkingHigh, ThinkingUltrathink}
}

// Valid reports whether l is a known level. The empty level is valid and
// means "use the configured default".
func (l ThinkingLevel) Valid() bool {
	return l == "" || slices.Contains(ThinkingLevels(), l)
}

// TokenBudget is the thinking token allowance for the level.
func (l ThinkingLevel) TokenBudget() int {
	switch l {
	case ThinkingLow:
		return 1024
	case ThinkingMedium:
		return 10000
	case ThinkingHigh:
		return 16000
	case ThinkingUltrathink:
		return 32000
	default:
		return 0
	}
}

// PlanStatus tracks a generated plan through approval.
type PlanStatus string

const (
	PlanGenerated PlanStatus = "generated"
	PlanApproved  PlanStatus = "approved"
)

// PlanSpec is a plan produced by a planning run. Implementation does not
// start until the user approves it.
type PlanSpec struct {
	Status      PlanStatus `json:"status"`
	Content     string     `json:"content"`
	GeneratedAt *time.Time `json:"generatedAt,omitempty"`
	ApprovedAt  *time.Time `json:"approvedAt,omitempty"`
}

// JustFinishedWindow is how long a finished feature stays highlighted.
const JustFinishedWindow = 2 * time.Minute

// Feature is a unit of user-requested work. JSON names match
// feature_list.json.
type Feature struct {
	ID                  string        `json:"id"`
	Title               string        `json:"title,omitempty"`
	Category            string        `json:"category"`
	Description         string        `json:"description"`
	Steps               []string      `json:"steps"`
	Status              Status        `json:"status"`
	Dependencies        []string      `json:"dependencies,omitempty"`
	Priority            int           `json:"priority,omitempty"` // 0 = unset, lower runs first
	StartedAt           *time.Time    `json:"startedAt,omitempty"`
	JustFinishedAt      *time.Time    `json:"justFinishedAt,omitempty"`
	Error               string        `json:"error,omitempty"`
	Summary             string        `json:"summary,omitempty"`
	Model               string        `json:"model,omitempty"`
	ThinkingLevel       ThinkingLevel `json:"thinkingLevel,omitempty"`
	SkipTests           bool          `json:"skipTests,omitempty"`
	BranchName          string        `json:"branchName,omitempty"`
	RequirePlanApproval bool          `json:"requirePlanApproval,omitempty"`
	PlanSpec            *PlanSpec     `json:"planSpec,omitempty"`
	CreatedAt           time.Time     `json:"createdAt"`
}

// Clone returns a deep copy.
func (f Feature) Clone() Feature {
	c := f
	c.Steps = slices.Clone(f.Steps)
	c.Dependencies = slices.Clone(f.Dependencies)
	c.StartedAt = cloneTime(f.StartedAt)
	c.JustFinishedAt = cloneTime(f.JustFinishedAt)
	if f.PlanSpec != nil {
		p := *f.PlanSpec
		p.GeneratedAt = cloneTime(p.GeneratedAt)
		p.ApprovedAt = cloneTime(p.ApprovedAt)
		c.PlanSpec = &p
	}
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// CloneAll deep-copies a slice of features.
func CloneAll(fs []Feature) []Feature {
	out := make([]Feature, len(fs))
	for i := range fs {
		out[i] = fs[i].Clone()
	}
	return out
}

// Normalize repairs records loaded from disk or built from user input:
// steps are never nil, dependencies are unique and never self-referencing.
func (f *Feature) Normalize() {
	if f.Steps == nil {
		f.Steps = []string{}
	}
	if len(f.Dependencies) == 0 {
		f.Dependencies = nil
		return
	}
	seen := make(map[string]bool, len(f.Dependencies))
	deps := f.Dependencies[:0:0]
	for _, id := range f.Dependencies {
		if id == "" || id == f.ID || seen[id] {
			continue
		}
		seen[id] = true
		deps = append(deps, id)
	}
	if len(deps) == 0 {
		deps = nil
	}
	f.Dependencies = deps
}

// DependsOn reports whether id is a direct dependency.
func (f Feature) DependsOn(id string) bool {
	return slices.Contains(f.Dependencies, id)
}

// DisplayTitle is the title, or a short id-based fallback.
func (f Feature) DisplayTitle() string {
	if f.Title != "" {
		return f.Title
	}
	id := f.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return "Task (" + id + ")"
}

// IsJustFinished reports whether the feature finished successfully within
// JustFinishedWindow of now.
func (f Feature) IsJustFinished(now time.Time) bool {
	if f.Status != StatusWaitingApproval || f.Error != "" || f.JustFinishedAt == nil {
		return false
	}
	return now.Sub(*f.JustFinishedAt) < JustFinishedWindow
}

// Find returns the feature with id and whether it was found.
func Find(fs []Feature, id string) (Feature, bool) {
	for _, f := range fs {
		if f.ID == id {
			return f, true
		}
	}
	return Feature{}, false
}

// Index maps ids to features.
func Index(fs []Feature) map[string]Feature {
	m := make(map[string]Feature, len(fs))
	for _, f := range fs {
		m[f.ID] = f
	}
	return m
}

// Outcome is how an agent run ended.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeAborted   Outcome = "aborted"
	OutcomeFailed    Outcome = "failed"
)

// NeedsPlan reports whether the next run of f must be a planning run: plan
// approval is required and no approved plan exists yet.
func (f Feature) NeedsPlan() bool {
	return f.RequirePlanApproval && (f.PlanSpec == nil || f.PlanSpec.Status != PlanApproved)
}
