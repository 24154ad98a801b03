// Package configwatch detects changes to the on-disk configuration file and
// triggers a reload through the command bus. It prefers fsnotify and falls
// back to mtime polling when the watcher cannot be created, so a reload
// still fires on filesystems (network mounts, some containers) where inotify
// is unavailable.
package configwatch

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"fleetmcp/internal/bus"
	"fleetmcp/pkg/logging"
)

// DefaultDebounce coalesces the burst of events an editor save often
// produces into a single reload.
const DefaultDebounce = 1 * time.Second

// DefaultPollInterval is used only in the polling fallback.
const DefaultPollInterval = 5 * time.Second

// Watcher watches a single configuration file and sends a
// ReloadConfigurationCommand on the command bus whenever it changes.
type Watcher struct {
	mu sync.Mutex

	configPath   string
	commandBus   *bus.CommandBus
	debounce     time.Duration
	pollInterval time.Duration

	fsWatcher *fsnotify.Watcher
	stopCh    chan struct{}
	running   bool

	debounceTimer *time.Timer
	lastModTime   time.Time
}

// New creates a watcher for configPath. commandBus must already have a
// handler registered for bus.ReloadConfigurationCommand.
func New(configPath string, commandBus *bus.CommandBus) *Watcher {
	return &Watcher{
		configPath:   configPath,
		commandBus:   commandBus,
		debounce:     DefaultDebounce,
		pollInterval: DefaultPollInterval,
	}
}

// Start begins watching. It tries fsnotify first, falling back to mtime
// polling if the watcher can't be created (e.g. inotify limits reached, or
// unsupported filesystem).
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.mu.Unlock()

	if info, err := os.Stat(w.configPath); err == nil {
		w.lastModTime = info.ModTime()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Warn("ConfigWatch", "fsnotify unavailable (%v), falling back to polling", err)
		go w.pollLoop()
		return nil
	}

	dir := filepath.Dir(w.configPath)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		logging.Warn("ConfigWatch", "failed to watch %s (%v), falling back to polling", dir, err)
		go w.pollLoop()
		return nil
	}

	w.mu.Lock()
	w.fsWatcher = watcher
	w.mu.Unlock()

	go w.watchLoop()
	logging.Info("ConfigWatch", "watching %s for configuration changes", w.configPath)
	return nil
}

// Stop ends the watch loop, whichever mode it is running in.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	w.running = false
	close(w.stopCh)

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	if w.fsWatcher != nil {
		_ = w.fsWatcher.Close()
		w.fsWatcher = nil
	}
	logging.Info("ConfigWatch", "stopped")
}

func (w *Watcher) watchLoop() {
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.configPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			logging.Error("ConfigWatch", err, "filesystem watcher error")
		}
	}
}

func (w *Watcher) pollLoop() {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			info, err := os.Stat(w.configPath)
			if err != nil {
				continue
			}
			w.mu.Lock()
			changed := info.ModTime().After(w.lastModTime)
			if changed {
				w.lastModTime = info.ModTime()
			}
			w.mu.Unlock()
			if changed {
				w.scheduleReload()
			}
		}
	}
}

// scheduleReload debounces rapid successive change notifications into a
// single command-bus send.
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounce, w.triggerReload)
}

func (w *Watcher) triggerReload() {
	cmd := bus.ReloadConfigurationCommand{
		Path:        w.configPath,
		Graceful:    true,
		RequestedBy: "config_watcher",
	}
	logging.Info("ConfigWatch", "triggering configuration reload: %s", w.configPath)
	if _, err := w.commandBus.Send(cmd); err != nil {
		logging.Error("ConfigWatch", err, "configuration reload failed")
	}
}
