package policy

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/gatewarden/gatewarden/pkg/config"
)

// Watch reloads the registry whenever the config file changes. A config
// that fails to load or validate is logged and skipped; the running
// snapshot stays in place. Watch returns after the watcher is installed
// and stops when the context is canceled.
func (r *Registry) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}

	// Watch the directory, not the file: editors and config management
	// tools typically replace the file, which would orphan a file watch.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	target := filepath.Clean(path)

	go func() {
		defer func() { _ = watcher.Close() }()

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}

				cfg, err := config.LoadFromFile(path)
				if err != nil {
					slog.Warn("Config reload skipped", "path", path, "error", err)
					continue
				}
				if err := r.Reload(cfg); err != nil {
					slog.Warn("Policy reload skipped", "path", path, "error", err)
					continue
				}
				slog.Info("Policy reloaded", "path", path)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("Config watcher error", "error", err)
			}
		}
	}()

	return nil
}
