package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 250 * time.Millisecond

// WatchFileConfig reloads the YAML file whenever it changes and hands every
// valid version to apply. Invalid versions are logged and skipped. It blocks
// until ctx is done.
//
// The parent directory is watched rather than the file, so editors that
// save by rename keep triggering reloads.
func WatchFileConfig(ctx context.Context, log *slog.Logger, path string, apply func(FileConfig)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watch: %w", err)
	}
	defer w.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config watch: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("config watch: %w", err)
	}
	log.Info("config.watch.start", "path", abs)

	timer := time.NewTimer(reloadDebounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				timer.Reset(reloadDebounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("config.watch.error", "err", err)
		case <-timer.C:
			cfg, err := LoadFileConfig(abs)
			if err != nil {
				log.Warn("config.reload.fail", "path", abs, "err", err)
				continue
			}
			log.Info("config.reload", "path", abs, "webhooks", len(cfg.Webhooks))
			apply(cfg)
		}
	}
}
