package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/logging"
)

// Watcher reloads path whenever it changes on disk and invokes onChange
// with the freshly parsed, validated Config. A parse/validate failure
// is logged and the prior config is kept in force, since a bad edit to
// a live config file must not take down a running bridge (spec.md §6,
// "hot reload never tears down a running source on an invalid edit").
type Watcher struct {
	path     string
	log      logging.Logger
	onChange func(*Config)
}

// NewWatcher builds a Watcher for path. Call Run to start watching.
func NewWatcher(path string, log logging.Logger, onChange func(*Config)) *Watcher {
	return &Watcher{path: path, log: log, onChange: onChange}
}

// Run watches until ctx is cancelled. It watches the containing
// directory rather than the file itself, since editors commonly
// replace a config file via rename rather than in-place write, which
// fsnotify only observes reliably at the directory level.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				w.log.Warn("config reload failed, keeping prior config", "path", w.path, "error", err)
				continue
			}
			w.log.Info("config reloaded", "path", w.path)
			w.onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("config watcher error", "error", err)
		}
	}
}
