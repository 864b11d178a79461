package config

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DebounceDelay is the default delay for debouncing file system events.
const DebounceDelay = 100 * time.Millisecond

// SettingsChangeFunc receives the reloaded settings when the settings file changes.
type SettingsChangeFunc func(Settings)

// SettingsWatcher monitors the settings file for changes and reloads it.
// Editors typically write files with a rename-over dance, so the watcher
// watches the parent directory and filters events for the settings file.
//
// Thread-safety: All public methods are safe for concurrent use.
type SettingsWatcher struct {
	mu sync.Mutex

	// watcher is the underlying fsnotify watcher.
	watcher *fsnotify.Watcher

	// path is the absolute path of the watched settings file.
	path string

	// onChange is called with the reloaded settings after a change.
	onChange SettingsChangeFunc

	// debounceDelay is the delay before reloading after a change.
	debounceDelay time.Duration
	debounceTimer *time.Timer

	logger *slog.Logger

	// done signals the event loop to stop.
	done chan struct{}
	// stopped is closed when the event loop has exited.
	stopped chan struct{}
}

// NewSettingsWatcher creates a watcher for the settings file at path.
// Call Start() to begin watching and Close() when done.
func NewSettingsWatcher(path string, onChange SettingsChangeFunc, logger *slog.Logger) (*SettingsWatcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	sw := &SettingsWatcher{
		watcher:       watcher,
		path:          absPath,
		onChange:      onChange,
		debounceDelay: DebounceDelay,
		logger:        logger,
		done:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	// Watch the parent directory so rename-over saves are observed.
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return nil, err
	}

	return sw, nil
}

// SetDebounceDelay sets the debounce delay for batching rapid changes.
// Must be called before Start().
func (sw *SettingsWatcher) SetDebounceDelay(d time.Duration) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.debounceDelay = d
}

// Start begins the event processing loop.
func (sw *SettingsWatcher) Start() {
	go sw.eventLoop()
}

// Close stops the watcher and releases resources.
// After Close returns, no more change notifications are delivered.
func (sw *SettingsWatcher) Close() error {
	close(sw.done)
	err := sw.watcher.Close()
	<-sw.stopped // Wait for event loop to exit
	return err
}

// eventLoop processes fsnotify events and debounces reloads.
func (sw *SettingsWatcher) eventLoop() {
	defer close(sw.stopped)

	for {
		select {
		case <-sw.done:
			return

		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			sw.handleEvent(event)

		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			if sw.logger != nil {
				sw.logger.Warn("Settings watcher error", "error", err)
			}
		}
	}
}

// handleEvent processes a single fsnotify event.
func (sw *SettingsWatcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != sw.path {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return
	}

	if sw.logger != nil {
		sw.logger.Debug("Settings file changed", "path", sw.path, "op", event.Op.String())
	}

	sw.mu.Lock()
	if sw.debounceTimer != nil {
		sw.debounceTimer.Stop()
	}
	sw.debounceTimer = time.AfterFunc(sw.debounceDelay, sw.reload)
	sw.mu.Unlock()
}

// reload re-reads the settings file and notifies the subscriber.
func (sw *SettingsWatcher) reload() {
	settings, err := LoadSettings(sw.path)
	if err != nil {
		if sw.logger != nil {
			sw.logger.Warn("Failed to reload settings", "path", sw.path, "error", err)
		}
		return
	}

	if sw.onChange != nil {
		sw.onChange(settings)
	}
}
