package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ActivityFeed recursively watches the project workspace and reports file
// save events as workspace-relative paths. It feeds the autopilot monitor;
// filtering of ignored directories happens both here (directories are never
// added to the watch set) and in the monitor (per-event).
type ActivityFeed struct {
	root    string
	skip    func(relPath string) bool
	onEvent func(relPath string)
	fsw     *fsnotify.Watcher
}

func NewActivityFeed(root string, skip func(relPath string) bool, onEvent func(relPath string)) *ActivityFeed {
	return &ActivityFeed{
		root:    root,
		skip:    skip,
		onEvent: onEvent,
	}
}

// Run watches until the context is cancelled.
func (f *ActivityFeed) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create workspace watcher: %w", err)
	}
	f.fsw = fsw
	defer fsw.Close()

	if err := f.addTree(f.root); err != nil {
		return fmt.Errorf("watch workspace %s: %w", f.root, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			rel, err := filepath.Rel(f.root, event.Name)
			if err != nil || f.skip(rel) {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = f.addTree(event.Name)
					continue
				}
			}
			f.onEvent(rel)
		case _, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
		}
	}
}

func (f *ActivityFeed) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(f.root, path)
		if relErr == nil && rel != "." && f.skip(rel) {
			return filepath.SkipDir
		}
		return f.fsw.Add(path)
	})
}
