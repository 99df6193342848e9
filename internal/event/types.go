package event

import "time"

// Event is implemented by everything published on the Bus.
type Event interface {
	// EventType identifies the event. Convention: "category.action".
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type names. Subscribers match on these strings.
const (
	TypeFeatureChanged        = "feature.changed"
	TypeFeatureStarted        = "feature.started"
	TypeFeatureFinished       = "feature.finished"
	TypeFeatureProgress       = "feature.progress"
	TypeFeatureToolUse        = "feature.tool_use"
	TypeFeatureContextChanged = "feature.context_changed"
	TypeAdmissionRejected     = "scheduler.rejected"
	TypeBudgetChanged         = "scheduler.budget_changed"
	TypeAutoModeChanged       = "scheduler.auto_mode_changed"
	TypeSuggestionsProgress   = "suggestions.progress"
	TypeSuggestionsToolUse    = "suggestions.tool_use"
	TypeSuggestionsComplete   = "suggestions.complete"
	TypeConfigChanged         = "config.changed"
)

type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Feature store events
// -----------------------------------------------------------------------------

// ChangeKind says what happened to a feature record.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
)

// FeatureChangedEvent is emitted after every committed store mutation.
type FeatureChangedEvent struct {
	baseEvent
	FeatureID string
	Kind      ChangeKind
	Status    string // status after the change; empty for deletions
}

func NewFeatureChangedEvent(featureID string, kind ChangeKind, status string) FeatureChangedEvent {
	return FeatureChangedEvent{
		baseEvent: newBaseEvent(TypeFeatureChanged),
		FeatureID: featureID,
		Kind:      kind,
		Status:    status,
	}
}

// FeatureContextChangedEvent is emitted when a feature's persisted agent
// context file is written or removed.
type FeatureContextChangedEvent struct {
	baseEvent
	FeatureID  string
	HasContext bool
}

func NewFeatureContextChangedEvent(featureID string, hasContext bool) FeatureContextChangedEvent {
	return FeatureContextChangedEvent{
		baseEvent:  newBaseEvent(TypeFeatureContextChanged),
		FeatureID:  featureID,
		HasContext: hasContext,
	}
}

// -----------------------------------------------------------------------------
// Execution events
// -----------------------------------------------------------------------------

// FeatureStartedEvent is emitted once a feature has been admitted and its
// agent run launched.
type FeatureStartedEvent struct {
	baseEvent
	FeatureID string
	Resume    bool
	FollowUp  bool
	Auto      bool // admitted by the auto-mode driver
}

func NewFeatureStartedEvent(featureID string, resume, followUp, auto bool) FeatureStartedEvent {
	return FeatureStartedEvent{
		baseEvent: newBaseEvent(TypeFeatureStarted),
		FeatureID: featureID,
		Resume:    resume,
		FollowUp:  followUp,
		Auto:      auto,
	}
}

// FeatureFinishedEvent is emitted after a run's outcome has been applied to
// the store and its slot released.
type FeatureFinishedEvent struct {
	baseEvent
	FeatureID string
	Outcome   string // succeeded, aborted or failed
	Status    string // feature status after the outcome was applied
	Error     string
	Duration  time.Duration
}

func NewFeatureFinishedEvent(featureID, outcome, status, errMsg string, d time.Duration) FeatureFinishedEvent {
	return FeatureFinishedEvent{
		baseEvent: newBaseEvent(TypeFeatureFinished),
		FeatureID: featureID,
		Outcome:   outcome,
		Status:    status,
		Error:     errMsg,
		Duration:  d,
	}
}

// FeatureProgressEvent carries a text delta streamed by the agent.
type FeatureProgressEvent struct {
	baseEvent
	FeatureID string
	Text      string
}

func NewFeatureProgressEvent(featureID, text string) FeatureProgressEvent {
	return FeatureProgressEvent{
		baseEvent: newBaseEvent(TypeFeatureProgress),
		FeatureID: featureID,
		Text:      text,
	}
}

// FeatureToolUseEvent reports a tool invocation by the agent.
type FeatureToolUseEvent struct {
	baseEvent
	FeatureID string
	Tool      string
	Input     string
}

func NewFeatureToolUseEvent(featureID, tool, input string) FeatureToolUseEvent {
	return FeatureToolUseEvent{
		baseEvent: newBaseEvent(TypeFeatureToolUse),
		FeatureID: featureID,
		Tool:      tool,
		Input:     input,
	}
}

// -----------------------------------------------------------------------------
// Scheduler events
// -----------------------------------------------------------------------------

// AdmissionRejectedEvent is emitted when a start request is not admitted.
// Reason is one of "already_running", "blocked", "budget_exceeded".
type AdmissionRejectedEvent struct {
	baseEvent
	FeatureID string
	Reason    string
	BlockedBy []string
}

func NewAdmissionRejectedEvent(featureID, reason string, blockedBy []string) AdmissionRejectedEvent {
	return AdmissionRejectedEvent{
		baseEvent: newBaseEvent(TypeAdmissionRejected),
		FeatureID: featureID,
		Reason:    reason,
		BlockedBy: append([]string(nil), blockedBy...),
	}
}

// BudgetChangedEvent reports a new concurrency budget.
type BudgetChangedEvent struct {
	baseEvent
	Budget int
}

func NewBudgetChangedEvent(budget int) BudgetChangedEvent {
	return BudgetChangedEvent{baseEvent: newBaseEvent(TypeBudgetChanged), Budget: budget}
}

// AutoModeChangedEvent reports auto mode being switched on or off.
type AutoModeChangedEvent struct {
	baseEvent
	Enabled bool
}

func NewAutoModeChangedEvent(enabled bool) AutoModeChangedEvent {
	return AutoModeChangedEvent{baseEvent: newBaseEvent(TypeAutoModeChanged), Enabled: enabled}
}

// -----------------------------------------------------------------------------
// Suggestion events
// -----------------------------------------------------------------------------

// SuggestionsProgressEvent carries analysis text as it streams.
type SuggestionsProgressEvent struct {
	baseEvent
	Text string
}

func NewSuggestionsProgressEvent(text string) SuggestionsProgressEvent {
	return SuggestionsProgressEvent{baseEvent: newBaseEvent(TypeSuggestionsProgress), Text: text}
}

// SuggestionsToolUseEvent reports a tool call made during analysis.
type SuggestionsToolUseEvent struct {
	baseEvent
	Tool  string
	Input string
}

func NewSuggestionsToolUseEvent(tool, input string) SuggestionsToolUseEvent {
	return SuggestionsToolUseEvent{
		baseEvent: newBaseEvent(TypeSuggestionsToolUse),
		Tool:      tool,
		Input:     input,
	}
}

// SuggestionsCompleteEvent ends an analysis. Error is set when the run
// failed or was stopped; a parse failure is not an error and yields Count 0.
type SuggestionsCompleteEvent struct {
	baseEvent
	Count   int
	Aborted bool
	Error   string
}

func NewSuggestionsCompleteEvent(count int, aborted bool, errMsg string) SuggestionsCompleteEvent {
	return SuggestionsCompleteEvent{
		baseEvent: newBaseEvent(TypeSuggestionsComplete),
		Count:     count,
		Aborted:   aborted,
		Error:     errMsg,
	}
}

// ConfigChangedEvent is emitted when a live-reloadable setting changes on disk.
type ConfigChangedEvent struct {
	baseEvent
	Key   string
	Value any
}

func NewConfigChangedEvent(key string, value any) ConfigChangedEvent {
	return ConfigChangedEvent{baseEvent: newBaseEvent(TypeConfigChanged), Key: key, Value: value}
}
