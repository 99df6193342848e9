// Package suggest runs a whole-project analysis with the coding agent and
// turns its answer into a ranked list of suggested features.
package suggest

import (
	"context"
	"encoding/json"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/Iron-Ham/automaker/internal/agent"
	"github.com/Iron-Ham/automaker/internal/errors"
	"github.com/Iron-Ham/automaker/internal/event"
	"github.com/Iron-Ham/automaker/internal/executor"
	"github.com/Iron-Ham/automaker/internal/logging"
	"github.com/Iron-Ham/automaker/internal/prompt"
)

// Defaults for the analysis run.
const (
	DefaultModel          = "claude-sonnet-4-20250514"
	DefaultMaxTurns       = 50
	DefaultPermissionMode = "acceptEdits"
	DefaultCategory       = "Uncategorized"
	fallbackDescription   = "No description"
)

// DefaultTools are read-only exploration tools.
var DefaultTools = []string{"Read", "Glob", "Grep", "Bash"}

// Suggestion is one normalized suggested feature.
type Suggestion struct {
	ID          string   `json:"id"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	Steps       []string `json:"steps"`
	Priority    float64  `json:"priority"`
	Reasoning   string   `json:"reasoning"`
}

// Result is the outcome of one analysis.
type Result struct {
	Suggestions []Suggestion
	Aborted     bool
}

// Config controls the analysis invocation.
type Config struct {
	WorkDir        string
	Model          string
	MaxTurns       int
	AllowedTools   []string
	PermissionMode string
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.MaxTurns <= 0 {
		c.MaxTurns = DefaultMaxTurns
	}
	if len(c.AllowedTools) == 0 {
		c.AllowedTools = slices.Clone(DefaultTools)
	}
	if c.PermissionMode == "" {
		c.PermissionMode = DefaultPermissionMode
	}
	return c
}

// Generator runs at most one analysis at a time. It is not subject to the
// scheduler's concurrency budget.
type Generator struct {
	runner agent.Runner
	bus    *event.Bus
	logger *logging.Logger
	cfg    Config
	newID  func() string

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Generator.
func New(runner agent.Runner, bus *event.Bus, cfg Config, logger *logging.Logger) *Generator {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Generator{
		runner: runner,
		bus:    bus,
		logger: logger.WithComponent("suggest"),
		cfg:    cfg.withDefaults(),
		newID:  func() string { return "suggestion-" + uuid.NewString() },
	}
}

// Running reports whether an analysis is in progress.
func (g *Generator) Running() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cancel != nil
}

// Generate analyzes the project. An analysis already in progress is
// stopped first. Cancellation yields an aborted result, not an error; agent
// failures are returned. Unparseable output yields zero suggestions.
func (g *Generator) Generate(ctx context.Context) (Result, error) {
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	for {
		g.mu.Lock()
		if g.cancel == nil {
			g.cancel = cancel
			g.done = done
			g.mu.Unlock()
			break
		}
		prevCancel, prevDone := g.cancel, g.done
		g.mu.Unlock()
		g.logger.Info("stopping previous analysis")
		prevCancel()
		<-prevDone
	}

	defer func() {
		cancel()
		g.mu.Lock()
		if g.done == done {
			g.cancel = nil
			g.done = nil
		}
		g.mu.Unlock()
		close(done)
	}()

	g.logger.Info("analysis started", "model", g.cfg.Model)
	g.publish(event.NewSuggestionsProgressEvent("Starting project analysis...\n"))

	res, err := g.run(runCtx)
	switch {
	case err != nil:
		g.logger.Warn("analysis failed", "error", err)
		g.publish(event.NewSuggestionsCompleteEvent(0, false, err.Error()))
	case res.Aborted:
		g.logger.Info("analysis aborted")
		g.publish(event.NewSuggestionsCompleteEvent(0, true, ""))
	default:
		g.logger.Info("analysis complete", "suggestions", len(res.Suggestions))
		g.publish(event.NewSuggestionsCompleteEvent(len(res.Suggestions), false, ""))
	}
	return res, err
}

func (g *Generator) run(ctx context.Context) (Result, error) {
	stream, err := g.runner.Invoke(ctx, agent.Invocation{
		Prompt:         prompt.SuggestionsPrompt,
		SystemPrompt:   prompt.SuggestionsSystemPrompt,
		Model:          g.cfg.Model,
		AllowedTools:   g.cfg.AllowedTools,
		WorkDir:        g.cfg.WorkDir,
		PermissionMode: g.cfg.PermissionMode,
		MaxTurns:       g.cfg.MaxTurns,
	})
	if err != nil {
		if ctx.Err() != nil {
			return Result{Aborted: true}, nil
		}
		return Result{}, errors.Wrap(err, "start analysis")
	}
	defer stream.Close()

	var response strings.Builder
	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, agent.ErrAborted) {
				return Result{Aborted: true}, nil
			}
			return Result{}, errors.Wrap(err, "analysis")
		}
		switch msg.Type {
		case agent.MessageText:
			response.WriteString(msg.Text)
			g.publish(event.NewSuggestionsProgressEvent(msg.Text))
		case agent.MessageToolUse:
			g.publish(event.NewSuggestionsToolUseEvent(msg.ToolName, msg.ToolInput))
		case agent.MessageResult:
			if msg.IsError {
				return Result{}, errors.Wrap(errors.New(msg.Text), "analysis")
			}
		}
	}
	if ctx.Err() != nil {
		return Result{Aborted: true}, nil
	}

	suggestions, err := g.Parse(response.String())
	if err != nil {
		g.logger.Warn("could not parse suggestions", "error", err)
		return Result{Suggestions: []Suggestion{}}, nil
	}
	return Result{Suggestions: suggestions}, nil
}

// Stop cancels the running analysis, if any, and waits for it to end.
func (g *Generator) Stop() {
	g.mu.Lock()
	cancel, done := g.cancel, g.done
	g.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Parse extracts and normalizes suggestions from agent output using the
// generator's id source.
func (g *Generator) Parse(text string) ([]Suggestion, error) {
	return ParseSuggestions(text, g.newID)
}

func (g *Generator) publish(e event.Event) {
	if g.bus != nil {
		g.bus.Publish(e)
	}
}

// ParseSuggestions extracts the JSON array from text and normalizes it.
// The error wraps errors.ErrParse.
func ParseSuggestions(text string, newID func() string) ([]Suggestion, error) {
	items, err := executor.ExtractJSONArray(text)
	if err != nil {
		return nil, err
	}
	return Normalize(items, newID), nil
}

// Normalize applies the suggestion defaults: a synthetic id, "Uncategorized"
// for a missing category, the title (or a fallback) for a missing
// description, empty steps, and the 1-based position for a missing or
// non-numeric priority. Non-object items are dropped before positions are
// counted. The result is stably sorted by ascending priority.
func Normalize(items []json.RawMessage, newID func() string) []Suggestion {
	out := make([]Suggestion, 0, len(items))
	for _, raw := range items {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
			continue
		}
		position := len(out) + 1
		s := Suggestion{
			ID:          newID(),
			Category:    stringField(obj, "category"),
			Description: stringField(obj, "description"),
			Steps:       stepsField(obj),
			Priority:    float64(position),
			Reasoning:   stringField(obj, "reasoning"),
		}
		if s.Category == "" {
			s.Category = DefaultCategory
		}
		if s.Description == "" {
			s.Description = stringField(obj, "title")
		}
		if s.Description == "" {
			s.Description = fallbackDescription
		}
		if p, ok := numberField(obj, "priority"); ok {
			s.Priority = p
		}
		out = append(out, s)
	}
	slices.SortStableFunc(out, func(a, b Suggestion) int {
		switch {
		case a.Priority < b.Priority:
			return -1
		case a.Priority > b.Priority:
			return 1
		default:
			return 0
		}
	})
	return out
}

func stringField(obj map[string]json.RawMessage, key string) string {
	var s string
	if raw, ok := obj[key]; ok && json.Unmarshal(raw, &s) == nil {
		return s
	}
	return ""
}

func numberField(obj map[string]json.RawMessage, key string) (float64, bool) {
	var n float64
	if raw, ok := obj[key]; ok && json.Unmarshal(raw, &n) == nil {
		return n, true
	}
	return 0, false
}

func stepsField(obj map[string]json.RawMessage) []string {
	var raw []json.RawMessage
	if r, ok := obj["steps"]; !ok || json.Unmarshal(r, &raw) != nil {
		return []string{}
	}
	steps := make([]string, 0, len(raw))
	for _, r := range raw {
		var s string
		if json.Unmarshal(r, &s) == nil {
			steps = append(steps, s)
		}
	}
	return steps
}
