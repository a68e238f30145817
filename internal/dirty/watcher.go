package dirty

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher refreshes the tracker's current snapshot when the configuration
// document is edited outside the dashboard (external tooling writing the
// file directly). The parent directory is watched rather than the file
// itself so atomic rename-into-place writes are observed.
type Watcher struct {
	path    string
	tracker *Tracker
	logger  *slog.Logger
	watcher *fsnotify.Watcher
}

// NewWatcher creates a configuration file watcher.
func NewWatcher(path string, tracker *Tracker, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:    path,
		tracker: tracker,
		logger:  logger,
	}
}

// Start begins watching until ctx is cancelled. Watcher setup failures are
// logged and swallowed; the watcher is an optional convenience.
func (w *Watcher) Start(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("config watcher unavailable", "error", err)
		return
	}
	w.watcher = watcher

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		w.logger.Warn("watching config directory", "dir", dir, "error", err)
		_ = watcher.Close()
		return
	}

	go w.loop(ctx)
}

func (w *Watcher) loop(ctx context.Context) {
	defer func() {
		_ = w.watcher.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.reload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		w.logger.Warn("reloading config document", "error", err)
		return
	}
	snap, err := ParseDocument(data)
	if err != nil {
		w.logger.Warn("parsing externally edited config document", "error", err)
		return
	}
	w.logger.Debug("config document changed on disk, refreshing current snapshot")
	w.tracker.SetCurrent(snap)
}
