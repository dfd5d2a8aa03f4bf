package config

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DebounceDelay is the default delay for debouncing file system events.
// Editors typically produce several write/rename events per save.
const DebounceDelay = 200 * time.Millisecond

// ReloadFunc receives the freshly parsed configuration after the settings
// file changes. Implementations must be safe for concurrent use.
type ReloadFunc func(cfg *Config)

// Watcher monitors the settings file and reloads it on change.
// Only the tunables matter to subscribers; credential changes still require
// a restart because the Slack connections are built at startup.
//
// Thread-safety: all public methods are safe for concurrent use.
type Watcher struct {
	path     string
	onReload ReloadFunc
	logger   *slog.Logger

	watcher *fsnotify.Watcher

	debounceDelay time.Duration
	debounceMu    sync.Mutex
	debounceTimer *time.Timer

	// done signals the event loop to stop.
	done chan struct{}
	// stopped is closed when the event loop has exited.
	stopped chan struct{}
}

// NewWatcher creates a watcher for the settings file at path.
// Call Start() to begin watching and Close() when done.
func NewWatcher(path string, onReload ReloadFunc, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the parent directory: the settings file may not exist yet, and
	// atomic-save editors replace the file (Remove+Create) which would drop
	// a direct watch.
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	return &Watcher{
		path:          path,
		onReload:      onReload,
		logger:        logger,
		watcher:       fsw,
		debounceDelay: DebounceDelay,
		done:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}, nil
}

// SetDebounceDelay sets the debounce delay for batching rapid changes.
// Must be called before Start().
func (w *Watcher) SetDebounceDelay(d time.Duration) {
	w.debounceDelay = d
}

// Start begins the event processing loop.
func (w *Watcher) Start() {
	go w.eventLoop()
}

// Close stops the watcher and releases resources.
// After Close returns, no more reloads will be delivered.
func (w *Watcher) Close() error {
	close(w.done)
	err := w.watcher.Close()
	<-w.stopped // Wait for event loop to exit
	w.debounceMu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
		w.debounceTimer = nil
	}
	w.debounceMu.Unlock()
	return err
}

// eventLoop processes fsnotify events and debounces reloads.
func (w *Watcher) eventLoop() {
	defer close(w.stopped)

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Warn("Settings watcher error", "error", err)
			}
		}
	}
}

// handleEvent filters for changes to the settings file itself.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != filepath.Clean(w.path) {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return
	}

	if w.logger != nil {
		w.logger.Debug("Settings file changed", "path", w.path, "op", event.Op.String())
	}

	w.debounceMu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounceDelay, w.reload)
	w.debounceMu.Unlock()
}

// reload parses the settings file and notifies the subscriber.
// Parse failures keep the previous configuration in effect.
func (w *Watcher) reload() {
	select {
	case <-w.done:
		return
	default:
	}

	cfg, err := Load(w.path)
	if err != nil {
		if w.logger != nil {
			w.logger.Warn("Ignoring invalid settings file", "path", w.path, "error", err)
		}
		return
	}

	if w.logger != nil {
		w.logger.Info("Settings reloaded",
			"path", w.path,
			"timeout", cfg.Ask.Timeout,
			"poll_interval", cfg.Ask.PollInterval,
		)
	}

	if w.onReload != nil {
		w.onReload(cfg)
	}
}
