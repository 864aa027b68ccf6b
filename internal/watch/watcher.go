// Package watch implements the long-running controller daemon: the
// synchronization watcher that reconciles the in-memory state with external
// writes to the persisted store, and the wiring for the inactivity-completion
// autopilot.
package watch

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher observes the .quartet control directory for filesystem changes
// made by the worker process and triggers a reconciliation after a quiet
// debounce window. The worker writes in bursts (state record, output blob,
// in either order); debouncing collapses a burst into one reload instead of
// reloading on every intermediate, partially-consistent write.
type Watcher struct {
	dir      string
	debounce time.Duration
	reload   func()

	fsw  *fsnotify.Watcher
	done chan struct{}

	// Single-slot pending timer: each new event cancels and replaces the
	// previous one, never stacking.
	mu    sync.Mutex
	timer *time.Timer
}

func NewWatcher(quartetDir string, debounce time.Duration, reload func()) *Watcher {
	return &Watcher{
		dir:      quartetDir,
		debounce: debounce,
		reload:   reload,
		done:     make(chan struct{}),
	}
}

// Start begins watching the store root and its outputs subdirectory.
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	w.fsw = fsw

	if err := fsw.Add(w.dir); err != nil {
		fsw.Close()
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	// outputs/ may not exist until the first save; ignore the add failure
	// and rely on the root watch catching its creation.
	_ = fsw.Add(filepath.Join(w.dir, "outputs"))

	go w.loop()
	return nil
}

// Stop cancels any pending reload and closes the underlying watcher.
func (w *Watcher) Stop() {
	if w.fsw != nil {
		w.fsw.Close()
	}
	<-w.done

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *Watcher) loop() {
	defer close(w.done)

	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) {
				continue
			}
			if w.shouldIgnore(event.Name) {
				continue
			}
			if event.Has(fsnotify.Create) {
				// A newly created outputs/ dir needs its own watch.
				if filepath.Base(event.Name) == "outputs" {
					_ = w.fsw.Add(event.Name)
				}
			}
			w.debounceReload()
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}

// shouldIgnore filters the store's own noise: backups, temp files from
// atomic writes, and the bookkeeping subdirectories.
func (w *Watcher) shouldIgnore(name string) bool {
	base := filepath.Base(name)
	if strings.HasSuffix(base, ".bak") || strings.HasPrefix(base, ".quartet-tmp-") {
		return true
	}
	rel, err := filepath.Rel(w.dir, name)
	if err != nil {
		return false
	}
	switch firstComponent(rel) {
	case "quarantine", "logs", "locks":
		return true
	}
	return false
}

func firstComponent(rel string) string {
	rel = filepath.ToSlash(rel)
	if i := strings.IndexByte(rel, '/'); i >= 0 {
		return rel[:i]
	}
	return rel
}

func (w *Watcher) debounceReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}
