// Package watch observes the agents-context directory so observers learn
// when a feature gains or loses resumable context without polling.
package watch

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/automaker/internal/contextfile"
	"github.com/Iron-Ham/automaker/internal/event"
	"github.com/Iron-Ham/automaker/internal/logging"
)

const debounceInterval = 50 * time.Millisecond

// ContextWatcher publishes feature.context_changed whenever a context
// file's has-context state flips.
type ContextWatcher struct {
	watcher *fsnotify.Watcher
	files   *contextfile.Store
	bus     *event.Bus
	logger  *logging.Logger

	mu    sync.Mutex
	known map[string]bool // feature id -> last published hasContext

	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewContextWatcher watches files.Dir(), which must exist.
func NewContextWatcher(files *contextfile.Store, bus *event.Bus, logger *logging.Logger) (*ContextWatcher, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(files.Dir()); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", files.Dir(), err)
	}
	return &ContextWatcher{
		watcher: w,
		files:   files,
		bus:     bus,
		logger:  logger.WithComponent("watch"),
		known:   make(map[string]bool),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Seed records the current state of ids so only later flips are published.
func (cw *ContextWatcher) Seed(ids []string) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	for _, id := range ids {
		cw.known[id] = cw.files.HasContext(id)
	}
}

// Start begins processing filesystem events.
func (cw *ContextWatcher) Start() {
	go cw.loop()
}

// Stop ends the watch and waits for the loop to exit. Safe to call twice.
func (cw *ContextWatcher) Stop() {
	cw.stopOnce.Do(func() {
		close(cw.stopCh)
		_ = cw.watcher.Close()
	})
	<-cw.done
}

func (cw *ContextWatcher) loop() {
	defer close(cw.done)

	// Editors and appenders emit bursts; collect them briefly.
	timer := time.NewTimer(debounceInterval)
	if !timer.Stop() {
		<-timer.C
	}
	pending := make(map[string]struct{})

	for {
		select {
		case <-cw.stopCh:
			return

		case ev, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			id, ok := contextfile.FeatureID(ev.Name)
			if !ok {
				continue
			}
			pending[id] = struct{}{}
			timer.Reset(debounceInterval)

		case <-timer.C:
			for id := range pending {
				cw.check(id)
			}
			clear(pending)

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Warn("watch error", "error", err)
		}
	}
}

func (cw *ContextWatcher) check(id string) {
	has := cw.files.HasContext(id)

	cw.mu.Lock()
	prev, seen := cw.known[id]
	cw.known[id] = has
	cw.mu.Unlock()

	if seen && prev == has {
		return
	}
	if !seen && !has {
		return
	}
	cw.logger.Debug("context changed", "feature_id", id, "has_context", has)
	cw.bus.Publish(event.NewFeatureContextChangedEvent(id, has))
}
