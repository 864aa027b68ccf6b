package watch

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"quartet/internal/model"
	"quartet/internal/pipeline"
	"quartet/internal/store"
	"quartet/internal/worker"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LogLevelDebug},
		{"info", LogLevelInfo},
		{"warn", LogLevelWarn},
		{"warning", LogLevelWarn},
		{"error", LogLevelError},
		{"ERROR", LogLevelError},
		{"", LogLevelInfo},
		{"bogus", LogLevelInfo},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// An external worker write must flow through the debounced watcher into the
// controller's in-memory state.
func TestDaemon_ReconcilesExternalWorkerWrite(t *testing.T) {
	root := t.TempDir()
	quartetDir := filepath.Join(root, ".quartet")
	st := store.New(quartetDir)

	c := pipeline.New(st)
	defer c.Close()
	if err := c.Start("Add auth"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	cfg := model.Config{Watcher: model.WatcherConfig{DebounceMs: 100}}
	var logBuf bytes.Buffer
	d := newDaemon(quartetDir, cfg, c, &logBuf, nil)

	if err := d.watcher.Start(); err != nil {
		t.Fatalf("watcher.Start: %v", err)
	}
	defer d.watcher.Stop()

	// Separate-process write path: the worker surface touches only the store.
	if _, err := worker.New(st).WriteOutput(model.AgentPlanner, "worker plan"); err != nil {
		t.Fatalf("WriteOutput: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if c.CurrentPhase() == model.PhasePlanReview {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if got := c.CurrentPhase(); got != model.PhasePlanReview {
		t.Fatalf("controller phase = %s, want plan_review after reconcile", got)
	}

	snap := c.State()
	if snap.Outputs[model.AgentPlanner] != "worker plan" {
		t.Errorf("reloaded output = %q", snap.Outputs[model.AgentPlanner])
	}
}

func TestDaemon_LockPreventsSecondInstance(t *testing.T) {
	root := t.TempDir()
	quartetDir := filepath.Join(root, ".quartet")
	if err := os.MkdirAll(filepath.Join(quartetDir, "locks"), 0755); err != nil {
		t.Fatal(err)
	}
	st := store.New(quartetDir)

	c1 := pipeline.New(st)
	defer c1.Close()
	var buf1 bytes.Buffer
	d1 := newDaemon(quartetDir, model.Config{}, c1, &buf1, nil)
	if err := d1.fileLock.TryLock(); err != nil {
		t.Fatalf("first lock: %v", err)
	}
	defer d1.fileLock.Unlock()

	c2 := pipeline.New(st)
	defer c2.Close()
	var buf2 bytes.Buffer
	d2 := newDaemon(quartetDir, model.Config{}, c2, &buf2, nil)
	if err := d2.Run(); err == nil {
		t.Fatal("second daemon Run should fail while lock is held")
	} else if !strings.Contains(err.Error(), "lock") {
		t.Errorf("error = %v, want lock failure", err)
	}
}

func TestActivityFeed_ReportsWorkspaceSaves(t *testing.T) {
	root := t.TempDir()
	for _, sub := range []string{".quartet", "src"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0755); err != nil {
			t.Fatal(err)
		}
	}

	got := make(chan string, 16)
	skip := func(rel string) bool {
		rel = filepath.ToSlash(rel)
		return rel == ".quartet" || strings.HasPrefix(rel, ".quartet/")
	}
	feed := NewActivityFeed(root, skip, func(rel string) { got <- rel })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx) }()

	// Let the initial walk complete.
	time.Sleep(200 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(root, "src", "auth.go"), []byte("package auth"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, ".quartet", "state.yaml"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case rel := <-got:
		if filepath.ToSlash(rel) != "src/auth.go" {
			t.Errorf("event = %q, want src/auth.go", rel)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no workspace event received")
	}

	// Control-directory writes never surface.
	select {
	case rel := <-got:
		if strings.HasPrefix(filepath.ToSlash(rel), ".quartet") {
			t.Errorf("control-dir event leaked: %q", rel)
		}
	case <-time.After(300 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not stop on cancel")
	}
}
