// Package executor runs a single agent invocation for a feature, streams its
// output, persists resumable context and classifies how the run ended.
package executor

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Iron-Ham/automaker/internal/agent"
	"github.com/Iron-Ham/automaker/internal/contextfile"
	"github.com/Iron-Ham/automaker/internal/depgraph"
	"github.com/Iron-Ham/automaker/internal/errors"
	"github.com/Iron-Ham/automaker/internal/event"
	"github.com/Iron-Ham/automaker/internal/feature"
	"github.com/Iron-Ham/automaker/internal/logging"
	"github.com/Iron-Ham/automaker/internal/prompt"
)

// Config holds agent defaults for feature runs.
type Config struct {
	WorkDir        string
	Model          string // used when the feature has none
	ThinkingLevel  feature.ThinkingLevel
	PermissionMode string
	AllowedTools   []string
	MaxTurns       int
	AncestorDepth  int
	// Timeout bounds a single run; zero means none. A run that hits it
	// fails rather than aborts.
	Timeout time.Duration
}

// Request is one run of one feature.
type Request struct {
	Feature feature.Feature
	// Features is the collection snapshot used for ancestor context.
	Features []feature.Feature
	Resume   bool
	// FollowUp carries instructions for a follow-up run.
	FollowUp string
	Planning bool
}

// Outcome is how a run ended.
type Outcome struct {
	Result   feature.Outcome
	Summary  string
	Error    string
	Duration time.Duration
}

// Controller executes feature runs. It is safe for concurrent use; each
// Execute call is independent.
type Controller struct {
	runner  agent.Runner
	files   *contextfile.Store
	bus     *event.Bus
	logger  *logging.Logger
	cfg     Config
	builder *prompt.FeatureBuilder
	now     func() time.Time
}

// New creates a Controller.
func New(runner agent.Runner, files *contextfile.Store, bus *event.Bus, cfg Config, logger *logging.Logger) *Controller {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if cfg.AncestorDepth <= 0 {
		cfg.AncestorDepth = depgraph.DefaultAncestorDepth
	}
	return &Controller{
		runner:  runner,
		files:   files,
		bus:     bus,
		logger:  logger.WithComponent("executor"),
		cfg:     cfg,
		builder: prompt.NewFeatureBuilder(),
		now:     time.Now,
	}
}

// Execute runs req to completion or cancellation. It never returns an
// error: every failure is reported in the Outcome.
func (c *Controller) Execute(ctx context.Context, req Request) Outcome {
	f := req.Feature
	log := c.logger.WithFeature(f.ID)
	start := c.now()

	out := c.run(ctx, req, log)
	out.Duration = c.now().Sub(start)

	switch out.Result {
	case feature.OutcomeSucceeded:
		log.Info("run succeeded", "duration", out.Duration)
	case feature.OutcomeAborted:
		log.Info("run aborted", "duration", out.Duration)
	default:
		log.Warn("run failed", "error", out.Error, "duration", out.Duration)
	}
	return out
}

func (c *Controller) run(ctx context.Context, req Request, log *logging.Logger) Outcome {
	f := req.Feature

	prior := c.prepareContext(req, log)

	text, err := c.builder.Build(&prompt.Context{
		Feature:      f,
		Ancestors:    depgraph.Ancestors(f, req.Features, c.cfg.AncestorDepth),
		PriorContext: prior,
		FollowUp:     req.FollowUp,
		Resume:       req.Resume,
		Planning:     req.Planning,
	})
	if err != nil {
		return failed(errors.NewExecutionError(f.ID, err))
	}

	runCtx := ctx
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	model := f.Model
	if model == "" {
		model = c.cfg.Model
	}
	thinking := f.ThinkingLevel
	if thinking == "" {
		thinking = c.cfg.ThinkingLevel
	}
	inv := agent.Invocation{
		Prompt:         text,
		SystemPrompt:   prompt.SystemPrompt(req.Planning),
		Model:          model,
		AllowedTools:   c.cfg.AllowedTools,
		WorkDir:        c.cfg.WorkDir,
		PermissionMode: c.cfg.PermissionMode,
		MaxTurns:       c.cfg.MaxTurns,
		ThinkingLevel:  thinking,
		Resume:         req.Resume,
	}
	if req.Planning {
		inv.AllowedTools = readOnlyTools(c.cfg.AllowedTools)
	}

	stream, err := c.runner.Invoke(runCtx, inv)
	if err != nil {
		return c.classify(ctx, runCtx, f.ID, model, err)
	}
	defer stream.Close()

	var response strings.Builder
	var result agent.Message
	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return c.classify(ctx, runCtx, f.ID, model, err)
		}
		switch msg.Type {
		case agent.MessageText:
			response.WriteString(msg.Text)
			c.publish(event.NewFeatureProgressEvent(f.ID, msg.Text))
			c.appendContext(f.ID, msg.Text, log)
		case agent.MessageToolUse:
			c.publish(event.NewFeatureToolUseEvent(f.ID, msg.ToolName, msg.ToolInput))
			c.appendContext(f.ID, formatToolUse(msg), log)
		case agent.MessageResult:
			result = msg
		}
	}
	if err := runCtx.Err(); err != nil {
		return c.classify(ctx, runCtx, f.ID, model, err)
	}
	if result.IsError {
		msg := result.Text
		if msg == "" {
			msg = "agent reported an error"
		}
		return failed(errors.NewExecutionError(f.ID, errors.New(msg)).WithModel(model))
	}

	summary := ExtractSummary(response.String())
	if summary == "" {
		summary = strings.TrimSpace(result.Text)
	}
	if summary == "" && req.Planning {
		summary = strings.TrimSpace(response.String())
	}
	return Outcome{Result: feature.OutcomeSucceeded, Summary: summary}
}

// prepareContext resets the context file for a fresh run and returns the
// prior context for resume and follow-up runs.
func (c *Controller) prepareContext(req Request, log *logging.Logger) string {
	id := req.Feature.ID
	if !req.Resume && req.FollowUp == "" {
		header := fmt.Sprintf("# %s\n\nStarted %s\n\n", req.Feature.DisplayTitle(), c.now().UTC().Format(time.RFC3339))
		if err := c.files.Reset(id, header); err != nil {
			log.Warn("failed to reset context file", "error", err)
		}
		return ""
	}
	prior, err := c.files.Read(id)
	if err != nil {
		log.Warn("failed to read context file", "error", err)
	}
	marker := "\n\n---\n\n## Resumed " + c.now().UTC().Format(time.RFC3339) + "\n\n"
	if req.FollowUp != "" {
		marker = "\n\n---\n\n## Follow-up\n\n" + req.FollowUp + "\n\n"
	}
	c.appendContext(id, marker, log)
	return prior
}

// classify maps a stream or invoke error to an outcome. Cancellation of the
// caller's context and agent.ErrAborted are aborts; a run timeout and
// everything else are failures.
func (c *Controller) classify(parent, runCtx context.Context, id, model string, err error) Outcome {
	switch {
	case parent.Err() != nil:
		return Outcome{Result: feature.OutcomeAborted}
	case runCtx.Err() != nil:
		return failed(errors.NewExecutionError(id, fmt.Errorf("timed out after %s", c.cfg.Timeout)).WithModel(model))
	case errors.IsAborted(err):
		return Outcome{Result: feature.OutcomeAborted}
	default:
		return failed(errors.NewExecutionError(id, err).WithModel(model))
	}
}

func failed(err *errors.ExecutionError) Outcome {
	msg := errors.ErrExecution.Error()
	if cause := errors.Unwrap(err); cause != nil && cause.Error() != "" {
		msg = cause.Error()
	}
	return Outcome{Result: feature.OutcomeFailed, Error: msg}
}

func (c *Controller) publish(e event.Event) {
	if c.bus != nil {
		c.bus.Publish(e)
	}
}

func (c *Controller) appendContext(id, text string, log *logging.Logger) {
	if err := c.files.Append(id, text); err != nil {
		log.Warn("failed to append context", "error", err)
	}
}

func formatToolUse(m agent.Message) string {
	if m.ToolInput == "" || m.ToolInput == "null" {
		return fmt.Sprintf("\n[tool] %s\n", m.ToolName)
	}
	return fmt.Sprintf("\n[tool] %s %s\n", m.ToolName, m.ToolInput)
}

var writeTools = map[string]bool{"Write": true, "Edit": true, "MultiEdit": true, "NotebookEdit": true}

func readOnlyTools(tools []string) []string {
	out := make([]string, 0, len(tools))
	for _, t := range tools {
		if !writeTools[t] {
			out = append(out, t)
		}
	}
	return out
}
