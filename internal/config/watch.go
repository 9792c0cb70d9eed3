package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads tunable configuration when the local config file changes.
// Only values that are safe to swap at runtime are propagated; anything that
// requires a restart (ports, data directories) keeps its boot-time value.
type Watcher struct {
	path     string
	dir      string
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.RWMutex
	current *Config
	onSwap  []func(*Config)

	fsw     *fsnotify.Watcher
	stopCh  chan struct{}
	stopped bool
}

// NewWatcher creates a watcher for the local config file in dir.
// The initial config is the already-loaded boot configuration.
func NewWatcher(dir string, initial *Config, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:     LocalConfigPath(dir),
		dir:      dir,
		debounce: 250 * time.Millisecond,
		logger:   logger,
		current:  initial,
		fsw:      fsw,
		stopCh:   make(chan struct{}),
	}

	// Watch the directory, not the file: editors replace files on save and
	// a watch on the old inode would go stale.
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	return w, nil
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnReload registers a callback invoked with each successfully reloaded config.
func (w *Watcher) OnReload(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onSwap = append(w.onSwap, fn)
}

// Start begins watching until the context is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	go w.loop(ctx)
}

// Stop stops the watcher. Safe to call multiple times.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	close(w.stopCh)
	_ = w.fsw.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.isConfigEvent(event) {
				continue
			}
			// Debounce: editors emit several events per save.
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerCh = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", slog.String("error", err.Error()))
		case <-timerCh:
			timer = nil
			timerCh = nil
			w.reload()
		}
	}
}

func (w *Watcher) isConfigEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	name := filepath.Base(event.Name)
	return name == "mnemo.yaml" || name == "mnemo.yml"
}

func (w *Watcher) reload() {
	cfg, err := Load(w.dir)
	if err != nil {
		// Keep the last good config; a half-saved file must not take the
		// service down.
		w.logger.Warn("config reload failed, keeping previous",
			slog.String("error", err.Error()))
		return
	}

	w.mu.Lock()
	prev := w.current
	w.current = cfg
	callbacks := make([]func(*Config), len(w.onSwap))
	copy(callbacks, w.onSwap)
	w.mu.Unlock()

	w.logger.Info("config reloaded",
		slog.String("path", w.path),
		slog.Bool("retrieval_changed", prev.Retrieval != cfg.Retrieval))

	for _, fn := range callbacks {
		fn(cfg)
	}
}
