package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/automaker/internal/logging"
)

// Keys that take effect without reopening the project.
const (
	KeyMaxConcurrency     = "engine.max_concurrency"
	KeyDependencyBlocking = "engine.dependency_blocking"
	KeyAutoMode           = "engine.auto_mode"
)

// LiveChange is one live-reloadable setting that changed on disk.
type LiveChange struct {
	Key   string
	Value any
}

// Watcher re-reads the config file when it changes and reports changes to
// the live-reloadable engine settings. Invalid edits are logged and ignored.
type Watcher struct {
	mu       sync.Mutex
	v        *viper.Viper
	current  EngineConfig
	onChange func(LiveChange)
	logger   *logging.Logger
}

// NewWatcher prepares a watcher seeded with the currently applied config.
// Call Start to begin watching; viper must have a config file.
func NewWatcher(v *viper.Viper, applied *Config, onChange func(LiveChange), logger *logging.Logger) *Watcher {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Watcher{
		v:        v,
		current:  applied.Engine,
		onChange: onChange,
		logger:   logger.WithComponent("config"),
	}
}

// Start registers with viper's fsnotify watch. It is a no-op when no config
// file was read.
func (w *Watcher) Start() {
	if w.v.ConfigFileUsed() == "" {
		w.logger.Debug("no config file in use, live reload disabled")
		return
	}
	w.v.OnConfigChange(w.handle)
	w.v.WatchConfig()
}

func (w *Watcher) handle(e fsnotify.Event) {
	if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
		return
	}
	cfg, err := loadFrom(w.v)
	if err != nil {
		w.logger.Warn("ignoring invalid config change", "file", e.Name, "error", err)
		return
	}

	w.mu.Lock()
	prev := w.current
	w.current = cfg.Engine
	w.mu.Unlock()

	var changes []LiveChange
	if prev.MaxConcurrency != cfg.Engine.MaxConcurrency {
		changes = append(changes, LiveChange{Key: KeyMaxConcurrency, Value: cfg.Engine.MaxConcurrency})
	}
	if prev.DependencyBlocking != cfg.Engine.DependencyBlocking {
		changes = append(changes, LiveChange{Key: KeyDependencyBlocking, Value: cfg.Engine.DependencyBlocking})
	}
	if prev.AutoMode != cfg.Engine.AutoMode {
		changes = append(changes, LiveChange{Key: KeyAutoMode, Value: cfg.Engine.AutoMode})
	}
	for _, c := range changes {
		w.logger.Info("config changed", "key", c.Key, "value", c.Value)
		w.onChange(c)
	}
}
