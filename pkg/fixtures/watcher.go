package fixtures

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/platinummonkey/registrygate/pkg/observability"
	"github.com/platinummonkey/registrygate/pkg/storage"
)

// Target receives loaded snapshots
type Target interface {
	Replace(s storage.Snapshot)
}

// Apply loads path into target once
func Apply(path string, target Target) error {
	snapshot, err := LoadFile(path)
	if err != nil {
		return err
	}
	target.Replace(snapshot)
	return nil
}

// Watcher reloads a fixture file into a target whenever it changes. A
// reload that fails to parse or validate leaves the previous content in
// place.
type Watcher struct {
	path    string
	target  Target
	logger  *observability.Logger
	watcher *fsnotify.Watcher

	// reloaded is signalled after every reload attempt; used by tests
	reloaded chan error
}

// NewWatcher watches the directory holding path, so that editors which
// replace the file by rename are still seen
func NewWatcher(path string, target Target, logger *observability.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}
	return &Watcher{
		path:    filepath.Clean(path),
		target:  target,
		logger:  logger,
		watcher: w,
	}, nil
}

// Run processes file events until ctx is done, then closes the watcher
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()
	defer observability.RecoverPanic(w.logger, "fixture watcher")

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("fixture watcher error")
		}
	}
}

func (w *Watcher) reload() {
	err := Apply(w.path, w.target)
	if err != nil {
		w.logger.WithError(err).WithField("path", w.path).Error("failed to reload fixtures, keeping previous content")
	} else {
		w.logger.WithField("path", w.path).Info("fixtures reloaded")
	}
	if w.reloaded != nil {
		select {
		case w.reloaded <- err:
		default:
		}
	}
}
