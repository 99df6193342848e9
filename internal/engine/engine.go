// Package engine is the orchestration facade for one open project. It wires
// the feature store, scheduler, execution controller, suggestion generator
// and event bus together, and exposes the intents a rendering layer (CLI,
// MCP server) issues plus snapshot and subscription outputs.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/automaker/internal/agent"
	"github.com/Iron-Ham/automaker/internal/config"
	"github.com/Iron-Ham/automaker/internal/contextfile"
	"github.com/Iron-Ham/automaker/internal/errors"
	"github.com/Iron-Ham/automaker/internal/event"
	"github.com/Iron-Ham/automaker/internal/executor"
	"github.com/Iron-Ham/automaker/internal/feature"
	"github.com/Iron-Ham/automaker/internal/logging"
	"github.com/Iron-Ham/automaker/internal/metrics"
	"github.com/Iron-Ham/automaker/internal/project"
	"github.com/Iron-Ham/automaker/internal/scheduler"
	"github.com/Iron-Ham/automaker/internal/store"
	"github.com/Iron-Ham/automaker/internal/suggest"
	"github.com/Iron-Ham/automaker/internal/watch"
)

// Options customizes Open. Zero values select production defaults.
type Options struct {
	// Config defaults to config.Default().
	Config *config.Config
	// Viper, when set and backed by a config file, enables live reload of
	// the engine settings.
	Viper *viper.Viper
	// Fs defaults to the OS filesystem. The context watcher only runs on
	// the OS filesystem.
	Fs afero.Fs
	// Runner defaults to the claude CLI.
	Runner agent.Runner
	// Logger defaults to {state}/logs/debug.log when logging is enabled.
	Logger *logging.Logger
	// Registry receives the Prometheus metrics; a private one is created
	// when nil.
	Registry *prometheus.Registry
	// Init creates the project layout when missing instead of failing.
	Init bool
}

// Engine is the per-project orchestration state. Create with Open and
// release with Close.
type Engine struct {
	layout project.Layout
	cfg    *config.Config
	fs     afero.Fs
	logger *logging.Logger
	ownLog bool

	bus       *event.Bus
	repo      store.Repository
	store     *store.Store
	files     *contextfile.Store
	exec      *executor.Controller
	sched     *scheduler.Scheduler
	suggester *suggest.Generator
	watcher   *watch.ContextWatcher
	collector *metrics.Collector
	registry  *prometheus.Registry
	metricSrv *metrics.Server
	cfgWatch  *config.Watcher

	lockMu  sync.Mutex
	runLock *project.RunLock // nil when not on the OS filesystem

	mu          sync.Mutex
	suggestions []suggest.Suggestion
	closeOnce   sync.Once
}

// Open loads the project at dir and starts its engine.
func Open(ctx context.Context, dir string, opts Options) (*Engine, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	layout := project.NewLayout(dir, cfg.Storage.StateDir(dir))

	if opts.Init {
		if _, err := project.Init(fs, layout); err != nil {
			return nil, errors.Wrap(err, "init project")
		}
	} else if err := project.EnsureInitialized(fs, layout); err != nil {
		return nil, err
	}

	e := &Engine{layout: layout, cfg: cfg, fs: fs, logger: opts.Logger}
	if _, ok := fs.(*afero.OsFs); ok {
		e.runLock = project.NewRunLock(layout)
	}
	if e.logger == nil {
		l, err := newLogger(cfg, layout)
		if err != nil {
			return nil, err
		}
		e.logger = l
		e.ownLog = true
	}
	e.logger = e.logger.WithProject(dir)

	e.bus = event.NewBus()
	e.bus.SetLogger(e.logger)

	repo, err := store.Open(fs, layout.StateDir, cfg.Storage.Backend)
	if err != nil {
		e.closeLogger()
		return nil, errors.Wrap(err, "open repository")
	}
	e.repo = repo

	st, err := store.New(ctx, repo, store.WithBus(e.bus), store.WithLogger(e.logger))
	if err != nil {
		_ = repo.Close()
		e.closeLogger()
		return nil, err
	}
	e.store = st

	if err := fs.MkdirAll(layout.AgentsContextDir(), 0o755); err != nil {
		_ = repo.Close()
		e.closeLogger()
		return nil, errors.Wrap(err, "create context dir")
	}
	e.files = contextfile.New(fs, layout.AgentsContextDir())

	runner := opts.Runner
	if runner == nil {
		runner = agent.NewClaudeRunner(cfg.Agent.Command, e.logger)
	}
	e.exec = executor.New(runner, e.files, e.bus, executor.Config{
		WorkDir:        dir,
		Model:          cfg.Agent.Model,
		ThinkingLevel:  feature.ThinkingLevel(cfg.Agent.ThinkingLevel),
		PermissionMode: cfg.Agent.PermissionMode,
		AllowedTools:   cfg.Agent.AllowedTools,
		MaxTurns:       cfg.Agent.MaxTurns,
		AncestorDepth:  cfg.Engine.AncestorDepth,
		Timeout:        cfg.Engine.RunTimeout(),
	}, e.logger)

	e.registry = opts.Registry
	if e.registry == nil {
		e.registry = prometheus.NewRegistry()
	}
	autoMode := cfg.Engine.AutoMode
	if autoMode {
		if err := e.claimRuns(); err != nil {
			e.logger.Warn("auto mode not started", "error", err)
			autoMode = false
		}
	}
	e.collector = metrics.NewCollector(e.bus, metrics.NewMetrics(e.registry), scheduler.ClampBudget(cfg.Engine.MaxConcurrency), autoMode)

	e.suggester = suggest.New(runner, e.bus, suggest.Config{
		WorkDir:        dir,
		Model:          cfg.Suggestions.Model,
		MaxTurns:       cfg.Suggestions.MaxTurns,
		AllowedTools:   cfg.Suggestions.AllowedTools,
		PermissionMode: cfg.Suggestions.PermissionMode,
	}, e.logger)

	e.sched = scheduler.New(st, e.exec, e.files, e.bus, scheduler.Config{
		Budget:              cfg.Engine.MaxConcurrency,
		EnforceDependencies: cfg.Engine.DependencyBlocking,
		AutoMode:            autoMode,
	}, e.logger)

	if _, ok := fs.(*afero.OsFs); ok {
		w, err := watch.NewContextWatcher(e.files, e.bus, e.logger)
		if err != nil {
			e.logger.Warn("context watcher disabled", "error", err)
		} else {
			ids := make([]string, 0)
			for _, f := range st.List() {
				ids = append(ids, f.ID)
			}
			w.Seed(ids)
			w.Start()
			e.watcher = w
		}
	}

	if cfg.Metrics.Listen != "" {
		srv, err := metrics.Serve(cfg.Metrics.Listen, e.registry, e.logger)
		if err != nil {
			e.logger.Warn("metrics endpoint disabled", "error", err)
		} else {
			e.metricSrv = srv
		}
	}

	if opts.Viper != nil {
		e.cfgWatch = config.NewWatcher(opts.Viper, cfg, e.applyLive, e.logger)
		e.cfgWatch.Start()
	}

	e.logger.Info("project opened", "features", len(st.List()), "backend", cfg.Storage.Backend)
	return e, nil
}

func newLogger(cfg *config.Config, layout project.Layout) (*logging.Logger, error) {
	if !cfg.Logging.Enabled {
		return logging.NopLogger(), nil
	}
	return logging.NewLogger(layout.LogsDir(), cfg.Logging.Level, logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
}

// applyLive applies a config file edit to the running engine.
func (e *Engine) applyLive(c config.LiveChange) {
	e.logger.Info("config changed", "key", c.Key, "value", c.Value)
	switch c.Key {
	case config.KeyMaxConcurrency:
		if n, ok := c.Value.(int); ok {
			e.sched.SetBudget(n)
		}
	case config.KeyDependencyBlocking:
		if b, ok := c.Value.(bool); ok {
			e.sched.SetEnforceDependencies(b)
		}
	case config.KeyAutoMode:
		if b, ok := c.Value.(bool); ok {
			if err := e.SetAutoMode(b); err != nil {
				e.logger.Warn("auto mode not started", "error", err)
				return
			}
		}
	}
	e.bus.Publish(event.NewConfigChangedEvent(c.Key, c.Value))
}

// Close stops analysis and every run, waits for outcomes to be recorded and
// releases the project's resources.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.suggester.Stop()
		e.sched.Close()
		if e.watcher != nil {
			e.watcher.Stop()
		}
		if e.metricSrv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = e.metricSrv.Close(ctx)
			cancel()
		}
		e.collector.Stop()
		e.releaseRuns()
		err = e.repo.Close()
		e.logger.Info("project closed")
		e.bus.Clear()
		e.closeLogger()
	})
	return err
}

// claimRuns takes the project's run lock before the first agent run of this
// process. It fails with errors.ErrProjectBusy while another process holds it.
func (e *Engine) claimRuns() error {
	if e.runLock == nil {
		return nil
	}
	e.lockMu.Lock()
	defer e.lockMu.Unlock()
	if e.runLock.Held() {
		return nil
	}
	ok, err := e.runLock.TryLock()
	if err != nil {
		return errors.Wrap(err, "acquire run lock")
	}
	if !ok {
		return errors.ErrProjectBusy
	}
	e.logger.Debug("run lock acquired", "path", e.runLock.Path())
	return nil
}

func (e *Engine) releaseRuns() {
	if e.runLock == nil {
		return
	}
	e.lockMu.Lock()
	defer e.lockMu.Unlock()
	if err := e.runLock.Unlock(); err != nil {
		e.logger.Warn("failed to release run lock", "error", err)
	}
}

func (e *Engine) closeLogger() {
	if e.ownLog {
		_ = e.logger.Close()
	}
}

// Layout returns the project's paths.
func (e *Engine) Layout() project.Layout { return e.layout }

// Config returns the configuration the engine was opened with.
func (e *Engine) Config() *config.Config { return e.cfg }

// Registry returns the Prometheus registry holding the engine's metrics.
func (e *Engine) Registry() *prometheus.Registry { return e.registry }

// Logger returns the project logger.
func (e *Engine) Logger() *logging.Logger { return e.logger }
