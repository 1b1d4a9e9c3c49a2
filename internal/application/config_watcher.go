package application

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultReloadDebounce collapses the burst of events an editor produces
// when saving a file.
const DefaultReloadDebounce = 250 * time.Millisecond

// ConfigWatcher reloads a config file whenever it changes on disk and hands
// every valid result to OnChange. Invalid edits are logged and skipped, so
// the last good config stays in effect.
type ConfigWatcher struct {
	Path     string
	Debounce time.Duration
	OnChange func(Config)
	Logger   *slog.Logger
}

// Run watches until ctx is done. The parent directory is watched rather
// than the file so that rename-on-save editors keep being observed.
func (w *ConfigWatcher) Run(ctx context.Context) error {
	if w.OnChange == nil {
		return fmt.Errorf("config watcher: OnChange is required")
	}
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}
	debounce := w.Debounce
	if debounce <= 0 {
		debounce = DefaultReloadDebounce
	}

	target, err := filepath.Abs(w.Path)
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("config watcher: watch %s: %w", filepath.Dir(target), err)
	}

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				timer.Reset(debounce)
			}

		case <-timerC:
			timer, timerC = nil, nil
			cfg, err := LoadConfig(target)
			if err != nil {
				logger.Warn("config reload rejected", slog.String("path", target), slog.String("error", err.Error()))
				continue
			}
			logger.Info("config reloaded", slog.String("path", target))
			w.OnChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watch error", slog.String("error", err.Error()))
		}
	}
}
