package config

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/haasonsaas/livecanvas/internal/debounce"
)

const defaultReloadDelay = 200 * time.Millisecond

// WatchOptions configures Watch.
type WatchOptions struct {
	// Delay coalesces bursts of writes (editors often write, rename and
	// chmod in quick succession). Zero means 200ms.
	Delay    time.Duration
	Logger   *slog.Logger
	OnReload func(*Config)
}

// Watch reloads path whenever it changes and passes every config that
// loads and validates to OnReload. Invalid edits are logged and skipped so
// the last good config stays in effect. Files pulled in with $include are
// not watched. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, opts WatchOptions) error {
	if opts.OnReload == nil {
		return errors.New("config: watch needs an OnReload callback")
	}
	if opts.Delay <= 0 {
		opts.Delay = defaultReloadDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "config-watch")

	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	// Watch the directory so atomic rename-over saves are seen.
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		return err
	}

	reload := debounce.NewCoalescer(
		debounce.WithDelay[string](opts.Delay),
		debounce.WithOnFire(func(p string) {
			cfg, err := Load(p)
			if err != nil {
				logger.Warn("config reload rejected, keeping previous config", "path", p, "error", err)
				return
			}
			logger.Info("config reloaded", "path", p)
			opts.OnReload(cfg)
		}),
	)
	defer reload.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(evt.Name) != absPath {
				continue
			}
			if evt.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				reload.Trigger(absPath)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watch error", "error", err)
		}
	}
}
