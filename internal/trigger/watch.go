package trigger

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/JonMunkholm/flatetl/internal/logging"
)

// DefaultDebounce is the quiet period after the last matching event before
// a run starts.
const DefaultDebounce = 500 * time.Millisecond

// Watcher starts a run when files matching pattern are created or written
// in dir. Bursts of events collapse into one run after the debounce
// period. If a run is active when the period ends, the watcher waits
// another period and tries again.
type Watcher struct {
	dir      string
	pattern  string
	debounce time.Duration
	guard    *Guard
	run      RunFunc

	watcher *fsnotify.Watcher

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher starts watching dir.
func NewWatcher(dir, pattern string, debounce time.Duration, guard *Guard, run RunFunc) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid watch pattern %q: %w", pattern, err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	return &Watcher{
		dir:      dir,
		pattern:  pattern,
		debounce: debounce,
		guard:    guard,
		run:      run,
		watcher:  fw,
	}, nil
}

// Run handles events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) {
	logger := logging.FromContext(ctx)
	logger.Info("watching raw directory", "dir", w.dir, "pattern", w.pattern, "debounce", w.debounce)

	defer w.stopTimer()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if matched, _ := filepath.Match(w.pattern, filepath.Base(event.Name)); !matched {
				continue
			}
			logger.Debug("file activity", "name", event.Name, "op", event.Op.String())
			w.arm(ctx)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("watcher error", "error", err)
		}
	}
}

// arm (re)starts the debounce timer.
func (w *Watcher) arm(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() { w.fire(ctx) })
}

func (w *Watcher) fire(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	err := w.guard.Do(ctx, "watch", w.run)
	if errors.Is(err, ErrRunInProgress) {
		logging.FromContext(ctx).Debug("run in progress, deferring watch trigger")
		w.arm(ctx)
	}
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.stopTimer()
	return w.watcher.Close()
}
