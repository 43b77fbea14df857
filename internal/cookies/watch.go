package cookies

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch follows writes made to the jar file by other processes and feeds
// them to the listeners. The parent directory is watched because atomic
// writers replace the file. Watch blocks until ctx is done.
func (j *FileJar) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	dir := filepath.Dir(j.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch cookie jar directory %s: %w", dir, err)
	}
	slog.Info("watching cookie jar", "path", j.path)

	name := filepath.Base(j.path)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			if err := j.reload(); err != nil {
				slog.Warn("failed to reload cookie jar", "path", j.path, "error", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("cookie jar watcher error", "error", err)
		}
	}
}
