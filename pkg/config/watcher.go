package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches the configuration file for changes and triggers reloads.
// It debounces rapid write sequences (editors often write a file several
// times in quick succession) into a single reload.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
}

// WatcherConfig configures the file watcher.
type WatcherConfig struct {
	// Path is the configuration file to watch. Required.
	Path string

	// DebounceInterval is the quiet period required before a reload fires.
	// Default: 250ms
	DebounceInterval time.Duration
}

// NewWatcher creates a configuration file watcher.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("watch path cannot be empty")
	}
	if cfg.DebounceInterval == 0 {
		cfg.DebounceInterval = 250 * time.Millisecond
	}

	return &Watcher{
		path:     cfg.Path,
		debounce: cfg.DebounceInterval,
		logger:   slog.Default().With("component", "config.watcher"),
	}, nil
}

// Watch blocks, invoking onReload after the watched file changes, until the
// context is cancelled. Reload errors are logged, not fatal: the previous
// configuration stays in effect.
//
// The parent directory is watched rather than the file itself so that
// rename-based atomic writes (the common editor and configmap pattern)
// are observed.
func (w *Watcher) Watch(ctx context.Context, onReload func() error) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %q: %w", dir, err)
	}

	w.logger.Info("config watcher started", "path", w.path)

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watch channel closed")
			}
			if !w.relevant(event) {
				continue
			}
			// Restart the debounce window on every relevant event.
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerCh = timer.C
			} else {
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(w.debounce)
			}

		case <-timerCh:
			timer = nil
			timerCh = nil
			w.logger.Info("config change detected, reloading", "path", w.path)
			if err := onReload(); err != nil {
				w.logger.Error("config reload failed, keeping previous configuration",
					"error", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watch error channel closed")
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

// relevant reports whether an event affects the watched file.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != filepath.Clean(w.path) {
		return false
	}
	return event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Rename)
}
