package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/voxdesk/voxdesk/pkg/telemetry"
)

// reloadDelay coalesces the burst of events editors produce on save.
const reloadDelay = 500 * time.Millisecond

// ReloadFunc receives every successfully reloaded configuration.
type ReloadFunc func(*Config) error

// Watcher reloads a config file when it changes.
type Watcher struct {
	path    string
	delay   time.Duration
	logger  *telemetry.Logger
	watcher *fsnotify.Watcher

	mu    sync.Mutex
	timer *time.Timer
	done  chan struct{}
}

// Watch starts watching path and calls fn with each reloaded config until
// ctx is cancelled. The directory is watched rather than the file so
// editors that replace the file on save are still seen. A reload that
// fails to parse or validate is logged and skipped.
func Watch(ctx context.Context, path string, fn ReloadFunc, logger *telemetry.Logger) (*Watcher, error) {
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", abs, err)
	}

	w := &Watcher{
		path:    abs,
		delay:   reloadDelay,
		logger:  logger.NewComponentLogger("config"),
		watcher: fw,
		done:    make(chan struct{}),
	}
	go w.processEvents(ctx, fn)

	w.logger.WithField("path", abs).Info("Started watching configuration file")
	return w, nil
}

// Done is closed once the watcher has stopped.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

func (w *Watcher) processEvents(ctx context.Context, fn ReloadFunc) {
	defer close(w.done)
	defer w.stopTimer()
	defer w.watcher.Close()

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

			w.logger.WithField("op", event.Op.String()).Debug("Configuration file changed")
			w.schedule(ctx, fn)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Error("Watcher error")
		}
	}
}

// schedule debounces reloads.
func (w *Watcher) schedule(ctx context.Context, fn ReloadFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.delay, func() {
		if ctx.Err() != nil {
			return
		}
		if err := w.reload(fn); err != nil {
			w.logger.WithError(err).Error("Failed to reload configuration")
		}
	})
}

func (w *Watcher) reload(fn ReloadFunc) error {
	cfg, err := Load(w.path)
	if err != nil {
		return err
	}
	if err := fn(cfg); err != nil {
		return fmt.Errorf("failed to apply reloaded configuration: %w", err)
	}
	w.logger.Info("Configuration reloaded successfully")
	return nil
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}
