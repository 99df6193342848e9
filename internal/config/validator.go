package config

import (
	"fmt"
	"net"
	"slices"
	"strings"

	"github.com/Iron-Ham/automaker/internal/feature"
	"github.com/Iron-Ham/automaker/internal/logging"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "engine.max_concurrency")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// logLevels lists the accepted logging.level values, lower-cased.
func logLevels() []string {
	levels := logging.ValidLevels()
	for i, l := range levels {
		levels[i] = strings.ToLower(l)
	}
	return levels
}

func validBackends() []string {
	return []string{BackendJSON, BackendSQLite}
}

// validPermissionModes returns the permission modes the agent CLI accepts
func validPermissionModes() []string {
	return []string{"default", "acceptEdits", "plan", "bypassPermissions"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError
	errs = append(errs, c.validateEngine()...)
	errs = append(errs, c.validateAgent()...)
	errs = append(errs, c.validateSuggestions()...)
	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateLogging()...)
	errs = append(errs, c.validateMetrics()...)
	return errs
}

func (c *Config) validateEngine() []ValidationError {
	var errs []ValidationError

	if c.Engine.MaxConcurrency < MinConcurrency || c.Engine.MaxConcurrency > MaxConcurrency {
		errs = append(errs, ValidationError{
			Field:   "engine.max_concurrency",
			Value:   c.Engine.MaxConcurrency,
			Message: fmt.Sprintf("must be between %d and %d", MinConcurrency, MaxConcurrency),
		})
	}
	if c.Engine.AncestorDepth < 0 {
		errs = append(errs, ValidationError{
			Field:   "engine.ancestor_depth",
			Value:   c.Engine.AncestorDepth,
			Message: "must be non-negative",
		})
	}
	if c.Engine.RunTimeoutMinutes < 0 {
		errs = append(errs, ValidationError{
			Field:   "engine.run_timeout_minutes",
			Value:   c.Engine.RunTimeoutMinutes,
			Message: "must be non-negative",
		})
	}
	return errs
}

func (c *Config) validateAgent() []ValidationError {
	var errs []ValidationError

	if strings.TrimSpace(c.Agent.Command) == "" {
		errs = append(errs, ValidationError{
			Field:   "agent.command",
			Value:   c.Agent.Command,
			Message: "must not be empty",
		})
	}
	if !feature.ThinkingLevel(c.Agent.ThinkingLevel).Valid() {
		levels := make([]string, 0, len(feature.ThinkingLevels()))
		for _, l := range feature.ThinkingLevels() {
			levels = append(levels, string(l))
		}
		errs = append(errs, ValidationError{
			Field:   "agent.thinking_level",
			Value:   c.Agent.ThinkingLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(levels, ", ")),
		})
	}
	errs = append(errs, validatePermissionMode("agent.permission_mode", c.Agent.PermissionMode)...)
	if c.Agent.MaxTurns < 0 {
		errs = append(errs, ValidationError{
			Field:   "agent.max_turns",
			Value:   c.Agent.MaxTurns,
			Message: "must be non-negative",
		})
	}
	return errs
}

func (c *Config) validateSuggestions() []ValidationError {
	var errs []ValidationError

	if c.Suggestions.MaxTurns < 0 {
		errs = append(errs, ValidationError{
			Field:   "suggestions.max_turns",
			Value:   c.Suggestions.MaxTurns,
			Message: "must be non-negative",
		})
	}
	errs = append(errs, validatePermissionMode("suggestions.permission_mode", c.Suggestions.PermissionMode)...)
	return errs
}

func validatePermissionMode(field, mode string) []ValidationError {
	if mode == "" || slices.Contains(validPermissionModes(), mode) {
		return nil
	}
	return []ValidationError{{
		Field:   field,
		Value:   mode,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(validPermissionModes(), ", ")),
	}}
}

func (c *Config) validateStorage() []ValidationError {
	var errs []ValidationError

	if !slices.Contains(validBackends(), c.Storage.Backend) {
		errs = append(errs, ValidationError{
			Field:   "storage.backend",
			Value:   c.Storage.Backend,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validBackends(), ", ")),
		})
	}
	if strings.TrimSpace(c.Storage.Dir) == "" {
		errs = append(errs, ValidationError{
			Field:   "storage.dir",
			Value:   c.Storage.Dir,
			Message: "must not be empty",
		})
	}
	return errs
}

func (c *Config) validateLogging() []ValidationError {
	var errs []ValidationError

	if c.Logging.Level != "" && !slices.Contains(logLevels(), strings.ToLower(c.Logging.Level)) {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(logLevels(), ", ")),
		})
	}

	const maxLogSizeMB = 1000
	if c.Logging.MaxSizeMB <= 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	} else if c.Logging.MaxSizeMB > maxLogSizeMB {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}
	return errs
}

func (c *Config) validateMetrics() []ValidationError {
	if c.Metrics.Listen == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
		return []ValidationError{{
			Field:   "metrics.listen",
			Value:   c.Metrics.Listen,
			Message: "must be host:port",
		}}
	}
	return nil
}
