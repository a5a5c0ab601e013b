package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/harrison/ingestagent/internal/logger"
)

// DefaultDebounceDelay coalesces bursts of events when no settle time is set.
const DefaultDebounceDelay = 100 * time.Millisecond

// settleMargin keeps a wake-up from landing on the exact settle boundary,
// where a file's mtime and the round's clock can disagree by a tick.
const settleMargin = 500 * time.Millisecond

// WakeDebounce returns the debounce for a given settle time. A round woken
// by events starts only once the newest file has had strictly longer than
// settle to age.
func WakeDebounce(settle time.Duration) time.Duration {
	if settle <= 0 {
		return DefaultDebounceDelay
	}
	return settle + settleMargin
}

// Watcher turns filesystem events in watched directories into wake-up
// signals for the Scheduler. Polling still finds every file; events only
// shorten the idle wait.
type Watcher struct {
	watcher  *fsnotify.Watcher
	dirs     map[string]bool
	parents  map[string]bool
	debounce time.Duration
	log      logger.Logger

	wake chan struct{}
	done chan struct{}

	mu     sync.Mutex
	timer  *time.Timer
	closed bool
}

// NewWatcher watches dirs and each of their parents, so a directory that is
// removed and recreated is picked up again. Missing directories are not an
// error.
func NewWatcher(dirs []string, debounce time.Duration, log logger.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounceDelay
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	w := &Watcher{
		watcher:  fsw,
		dirs:     make(map[string]bool, len(dirs)),
		parents:  make(map[string]bool, len(dirs)),
		debounce: debounce,
		log:      log,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	for _, dir := range dirs {
		dir = filepath.Clean(dir)
		w.dirs[dir] = true
		w.parents[filepath.Dir(dir)] = true
	}
	for parent := range w.parents {
		w.add(parent)
	}
	for dir := range w.dirs {
		w.add(dir)
	}

	return w, nil
}

// add registers path, skipping directories that do not exist or cannot be
// read.
func (w *Watcher) add(path string) {
	if err := w.watcher.Add(path); err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
			w.log.LogDebug("not watching directory", "directory", path, "error", err)
			return
		}
		w.log.LogWarn("cannot watch directory", "directory", path, "error", err)
	}
}

// Wake returns the channel that receives a value after a debounced burst of
// events.
func (w *Watcher) Wake() <-chan struct{} {
	return w.wake
}

// Run processes events until ctx is cancelled or Close is called.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.LogWarn("filesystem watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	path := filepath.Clean(event.Name)

	if w.dirs[path] {
		// The watched directory itself changed in its parent.
		if event.Has(fsnotify.Create) {
			w.log.LogInfo("watched directory reappeared", "directory", path)
			w.add(path)
			w.nudge()
		}
		return
	}

	if !w.dirs[filepath.Dir(path)] {
		return
	}
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	w.nudge()
}

// nudge (re)starts the debounce timer.
func (w *Watcher) nudge() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.fire)
}

func (w *Watcher) fire() {
	select {
	case w.wake <- struct{}{}:
	default:
		// A wake-up is already pending.
	}
}

// Close stops the watcher. Safe to call more than once.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	close(w.done)
	return w.watcher.Close()
}
