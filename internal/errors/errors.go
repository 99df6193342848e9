// Package errors provides centralized error definitions and error handling utilities
// for the automaker engine. It defines domain-specific errors, semantic error types,
// error constructors with context wrapping, and error classification helpers.
//
// # Error Types
//
// Domain-specific errors represent failures from a specific subsystem:
//   - FeatureError: feature store mutations (validation, transitions, cycles)
//   - SchedulingError: admission failures from the task scheduler
//   - ExecutionError: agent invocation failures recorded on a feature
//
// Semantic errors represent common error conditions:
//   - NotFoundError: resource not found
//   - ValidationError: invalid input or state
//
// # Usage
//
//	err := errors.NewSchedulingError(errors.ErrBlocked, "feat-1").WithBlockedBy([]string{"feat-0"})
//
//	if errors.Is(err, errors.ErrBlocked) { ... }
//
//	var schedErr *errors.SchedulingError
//	if errors.As(err, &schedErr) { ... }
//
// Scheduling and validation errors never enter the feature store; execution
// errors are attached to the feature's error field instead of being returned
// to the caller that requested the start.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Feature store sentinel errors
var (
	// ErrFeatureNotFound indicates that no feature has the requested id.
	ErrFeatureNotFound = New("feature not found")
	// ErrCycleRejected indicates that a dependency edge would make the graph cyclic.
	ErrCycleRejected = New("dependency would create a cycle")
	// ErrSelfDependency indicates that a feature was asked to depend on itself.
	ErrSelfDependency = New("feature cannot depend on itself")
	// ErrUnknownDependency indicates that a dependency id does not exist.
	ErrUnknownDependency = New("unknown dependency")
	// ErrInvalidTransition indicates a lifecycle transition not allowed from the current status.
	ErrInvalidTransition = New("invalid status transition")
	// ErrNoPlan indicates a plan approval was requested for a feature without a generated plan.
	ErrNoPlan = New("no generated plan awaiting approval")
	// ErrPlanPending indicates approve or commit was requested while only a plan exists.
	ErrPlanPending = New("plan awaiting approval; approve the plan and run the implementation first")
)

// Scheduler sentinel errors
var (
	// ErrAlreadyRunning indicates the feature already has an active execution.
	ErrAlreadyRunning = New("feature already running")
	// ErrBlocked indicates the feature has unmet dependencies.
	ErrBlocked = New("feature blocked by dependencies")
	// ErrBudgetExceeded indicates the concurrency budget is exhausted.
	ErrBudgetExceeded = New("concurrency budget exceeded")
	// ErrSchedulerClosed indicates the scheduler has been shut down.
	ErrSchedulerClosed = New("scheduler closed")
)

// Execution sentinel errors
var (
	// ErrAborted indicates a user- or system-initiated cancellation. It is not a failure.
	ErrAborted = New("execution aborted")
	// ErrExecution indicates the agent invocation failed.
	ErrExecution = New("execution failed")
	// ErrParse indicates a structured result could not be extracted from agent output.
	ErrParse = New("could not parse agent output")
	// ErrAnalysisRunning indicates a suggestion analysis is already active.
	ErrAnalysisRunning = New("analysis already running")
)

// General sentinel errors
var (
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
	// ErrNotInitialized indicates the project directory has no .automaker layout.
	ErrNotInitialized = New("project not initialized")
	// ErrProjectBusy indicates another process holds the project's run lock.
	ErrProjectBusy = New("another automaker process is running agents for this project")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// AutomakerError is the base interface for all automaker errors.
// It extends the standard error interface with additional methods for
// error handling and classification.
type AutomakerError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the error message is safe to display
	// to end users.
	IsUserFacing() bool
}

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Unwrap() error { return e.cause }

func (e *baseError) Severity() Severity { return e.severity }

func (e *baseError) IsRetryable() bool { return e.retryable }

func (e *baseError) IsUserFacing() bool { return e.userFacing }

// bracketed renders "prefix [k=v, ...]: message: cause".
func (e *baseError) bracketed(prefix string, parts []string) string {
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", prefix, strings.Join(parts, ", "))
	}
	if e.message == "" && e.cause != nil {
		return fmt.Sprintf("%s: %v", prefix, e.cause)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// FeatureError represents errors raised by feature store mutations.
//
// Example:
//
//	err := errors.NewFeatureError("add dependency", errors.ErrCycleRejected).WithFeatureID("f-2")
//	fmt.Println(err) // "feature error [feature=f-2]: add dependency: dependency would create a cycle"
type FeatureError struct {
	baseError
	FeatureID string
	Status    string
}

// NewFeatureError creates a new FeatureError.
func NewFeatureError(message string, cause error) *FeatureError {
	return &FeatureError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityWarning,
			userFacing: true,
		},
	}
}

// WithFeatureID adds a feature ID to the error context.
func (e *FeatureError) WithFeatureID(id string) *FeatureError {
	e.FeatureID = id
	return e
}

// WithStatus records the feature status the operation was attempted from.
func (e *FeatureError) WithStatus(status string) *FeatureError {
	e.Status = status
	return e
}

// Error returns the formatted error message.
func (e *FeatureError) Error() string {
	var parts []string
	if e.FeatureID != "" {
		parts = append(parts, "feature="+e.FeatureID)
	}
	if e.Status != "" {
		parts = append(parts, "status="+e.Status)
	}
	return e.bracketed("feature error", parts)
}

// SchedulingError represents an admission failure from the scheduler. The
// cause is one of ErrAlreadyRunning, ErrBlocked, ErrBudgetExceeded or
// ErrSchedulerClosed. Admission failures are non-fatal notices.
type SchedulingError struct {
	baseError
	FeatureID string
	BlockedBy []string
	Budget    int
}

// NewSchedulingError creates a new SchedulingError for the given reason.
func NewSchedulingError(reason error, featureID string) *SchedulingError {
	return &SchedulingError{
		baseError: baseError{
			cause:      reason,
			severity:   SeverityInfo,
			retryable:  !Is(reason, ErrSchedulerClosed),
			userFacing: true,
		},
		FeatureID: featureID,
	}
}

// WithBlockedBy records the dependency ids that block the feature.
func (e *SchedulingError) WithBlockedBy(ids []string) *SchedulingError {
	e.BlockedBy = append([]string(nil), ids...)
	return e
}

// WithBudget records the concurrency budget in effect.
func (e *SchedulingError) WithBudget(n int) *SchedulingError {
	e.Budget = n
	return e
}

// Error returns the formatted error message.
func (e *SchedulingError) Error() string {
	parts := []string{"feature=" + e.FeatureID}
	if len(e.BlockedBy) > 0 {
		parts = append(parts, "blocked_by="+strings.Join(e.BlockedBy, "|"))
	}
	if e.Budget > 0 {
		parts = append(parts, fmt.Sprintf("budget=%d", e.Budget))
	}
	return e.bracketed("not admitted", parts)
}

// ExecutionError represents an agent invocation failure for a feature.
type ExecutionError struct {
	baseError
	FeatureID string
	Model     string
}

// NewExecutionError creates a new ExecutionError wrapping the agent failure.
func NewExecutionError(featureID string, cause error) *ExecutionError {
	return &ExecutionError{
		baseError: baseError{
			message:    ErrExecution.Error(),
			cause:      cause,
			severity:   SeverityError,
			retryable:  true,
			userFacing: true,
		},
		FeatureID: featureID,
	}
}

// WithModel records the model the invocation used.
func (e *ExecutionError) WithModel(model string) *ExecutionError {
	e.Model = model
	return e
}

// Error returns the formatted error message.
func (e *ExecutionError) Error() string {
	parts := []string{"feature=" + e.FeatureID}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	return e.bracketed("execution error", parts)
}

// Is reports ErrExecution for every ExecutionError.
func (e *ExecutionError) Is(target error) bool {
	return target == ErrExecution
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("feature", "abc123")
//	fmt.Println(err) // "feature 'abc123' not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity:   SeverityWarning,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Is matches ErrFeatureNotFound when the missing resource is a feature.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrFeatureNotFound && e.ResourceType == "feature"
}

// ValidationError represents invalid input or state.
//
// Example:
//
//	err := errors.NewValidationError("description cannot be empty").WithField("description")
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, "field="+e.Field)
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}
	return e.bracketed("validation error", parts)
}

// Is matches ErrInvalidInput for every ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry, such as a budget or dependency admission failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ae AutomakerError
	if As(err, &ae) {
		return ae.IsRetryable()
	}
	return false
}

// IsUserFacing returns true if the error message is safe to display to end users.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	var ae AutomakerError
	if As(err, &ae) {
		return ae.IsUserFacing()
	}
	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement AutomakerError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}
	var ae AutomakerError
	if As(err, &ae) {
		return ae.Severity()
	}
	return SeverityError
}

// IsAdmissionFailure reports whether err is a scheduler admission failure.
func IsAdmissionFailure(err error) bool {
	var se *SchedulingError
	return As(err, &se)
}

// IsAborted reports whether err represents a cancellation rather than a failure.
func IsAborted(err error) bool {
	return Is(err, ErrAborted)
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
