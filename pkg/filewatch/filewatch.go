// Package filewatch reports saves to a single file, including saves that
// rename a temporary file over it.
package filewatch

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Debounce coalesces the burst of events a single save produces.
const Debounce = 200 * time.Millisecond

// Watch calls onSave with the absolute path of path once per save, after
// the events of that save have settled. It watches the parent directory so
// an atomic rename over path, which replaces the watched inode, is still
// seen. Runs until ctx is cancelled.
func Watch(ctx context.Context, path string, onSave func(abs string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return err
	}

	slog.Info("config: watching for changes", "path", abs)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				pending = time.After(Debounce)
			}

		case <-pending:
			pending = nil
			onSave(abs)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}
