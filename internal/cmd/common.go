package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/automaker/internal/agent"
	"github.com/Iron-Ham/automaker/internal/config"
	"github.com/Iron-Ham/automaker/internal/engine"
	"github.com/Iron-Ham/automaker/internal/event"
	"github.com/Iron-Ham/automaker/internal/feature"
	"github.com/Iron-Ham/automaker/internal/scheduler"
	"github.com/Iron-Ham/automaker/internal/tui/styles"
	"github.com/Iron-Ham/automaker/internal/util"
)

// Test seams. Production uses the OS filesystem and the claude CLI.
var (
	newFs     = afero.NewOsFs
	newRunner = func(*config.Config) agent.Runner { return nil }
)

// openOptions tunes openEngine for a command.
type openOptions struct {
	// live enables config file watching for long-running commands.
	live bool
	// mutate adjusts the loaded config before the engine starts.
	mutate func(*config.Config)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func openEngine(ctx context.Context, o openOptions) (*engine.Engine, error) {
	dir, err := projectDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if !o.live {
		// Only long-running commands drive auto mode.
		cfg.Engine.AutoMode = false
	}
	if o.mutate != nil {
		o.mutate(cfg)
	}
	opts := engine.Options{
		Config: cfg,
		Fs:     newFs(),
		Runner: newRunner(cfg),
	}
	if o.live {
		opts.Viper = viper.GetViper()
	}
	e, err := engine.Open(ctx, dir, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open project: %w", err)
	}
	return e, nil
}

// withEngine opens the project engine, runs fn and closes the engine.
func withEngine(cmd *cobra.Command, o openOptions, fn func(ctx context.Context, e *engine.Engine) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := openEngine(ctx, o)
	if err != nil {
		return err
	}
	runErr := fn(ctx, e)
	if err := e.Close(); err != nil && runErr == nil {
		runErr = fmt.Errorf("failed to close project: %w", err)
	}
	return runErr
}

// eventPrinter writes engine events to a terminal as they arrive.
type eventPrinter struct {
	mu     sync.Mutex
	w      io.Writer
	filter func(featureID string) bool
	names  map[string]string
}

func newEventPrinter(w io.Writer, e *engine.Engine, filter func(string) bool) *eventPrinter {
	p := &eventPrinter{w: w, filter: filter, names: map[string]string{}}
	for _, f := range e.Features() {
		p.names[f.ID] = f.DisplayTitle()
	}
	return p
}

func (p *eventPrinter) label(id string) string {
	if name, ok := p.names[id]; ok {
		return name
	}
	return util.ShortID(id)
}

func (p *eventPrinter) handle(ev event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch e := ev.(type) {
	case event.FeatureStartedEvent:
		if p.allowed(e.FeatureID) {
			kind := "start"
			switch {
			case e.FollowUp:
				kind = "follow-up"
			case e.Resume:
				kind = "resume"
			}
			fmt.Fprintln(p.w, styles.Primary.Render(fmt.Sprintf("▶ %s (%s)", p.label(e.FeatureID), kind)))
		}
	case event.FeatureProgressEvent:
		if p.allowed(e.FeatureID) {
			fmt.Fprint(p.w, e.Text)
		}
	case event.FeatureToolUseEvent:
		if p.allowed(e.FeatureID) {
			fmt.Fprintln(p.w, styles.Muted.Render(fmt.Sprintf("  [%s] %s", e.Tool, util.Truncate(e.Input, 100))))
		}
	case event.FeatureFinishedEvent:
		if p.allowed(e.FeatureID) {
			fmt.Fprintln(p.w, finishLine(p.label(e.FeatureID), e))
		}
	case event.AdmissionRejectedEvent:
		if p.allowed(e.FeatureID) && e.Reason != scheduler.ReasonBudget {
			fmt.Fprintln(p.w, styles.Warning.Render(fmt.Sprintf("✗ %s not started: %s", p.label(e.FeatureID), e.Reason)))
		}
	case event.SuggestionsProgressEvent:
		fmt.Fprint(p.w, e.Text)
	case event.SuggestionsToolUseEvent:
		fmt.Fprintln(p.w, styles.Muted.Render(fmt.Sprintf("  [%s] %s", e.Tool, util.Truncate(e.Input, 100))))
	case event.ConfigChangedEvent:
		fmt.Fprintln(p.w, styles.Muted.Render(fmt.Sprintf("config: %s = %v", e.Key, e.Value)))
	}
}

func (p *eventPrinter) allowed(id string) bool {
	return p.filter == nil || p.filter(id)
}

func finishLine(label string, e event.FeatureFinishedEvent) string {
	switch feature.Outcome(e.Outcome) {
	case feature.OutcomeSucceeded:
		return styles.Success.Render(fmt.Sprintf("✓ %s finished in %s (%s)", label, e.Duration.Round(time.Second), e.Status))
	case feature.OutcomeAborted:
		return styles.Warning.Render(fmt.Sprintf("■ %s stopped (%s)", label, e.Status))
	default:
		return styles.Error.Render(fmt.Sprintf("✗ %s failed: %s", label, e.Error))
	}
}

