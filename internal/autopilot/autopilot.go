// Package autopilot implements the inactivity-completion heuristic: while an
// agent is responsible for the current phase, workspace file activity is
// counted, and once activity goes quiet for a configured period the work is
// deemed complete and an output is saved on the agent's behalf.
package autopilot

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Pipeline is the slice of the controller the monitor needs: an activity
// gate and the save operation the quiet timer fires into.
type Pipeline interface {
	IsAgentActive() bool
	SaveOutput(content string) error
}

// Monitor watches workspace activity and completes the active agent's work
// after a quiet period with no further saves.
type Monitor struct {
	pipeline Pipeline
	quiet    time.Duration
	ignore   []string
	logf     func(format string, args ...any)

	// Single-slot quiet timer: every qualifying event cancels and replaces
	// the pending one, so the timer only fires after true inactivity.
	mu    sync.Mutex
	timer *time.Timer
	count int
}

// New creates a monitor. ignoreDirs are workspace-relative directory names
// whose contents never count as activity; the control directory and .git are
// always ignored.
func New(p Pipeline, quiet time.Duration, ignoreDirs []string, logf func(format string, args ...any)) *Monitor {
	ignore := append([]string{".quartet", ".git"}, ignoreDirs...)
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Monitor{
		pipeline: p,
		quiet:    quiet,
		ignore:   ignore,
		logf:     logf,
	}
}

// OnActivity records one workspace file event. Events under ignored
// directories are dropped, and activity only arms the timer while an agent
// is actually responsible for the current phase.
func (m *Monitor) OnActivity(relPath string) {
	if m.Ignored(relPath) {
		return
	}
	if !m.pipeline.IsAgentActive() {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.count++
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.quiet, m.fire)
}

// Ignored reports whether a workspace-relative path falls under an ignored
// directory.
func (m *Monitor) Ignored(relPath string) bool {
	rel := filepath.ToSlash(relPath)
	for _, dir := range m.ignore {
		prefix := strings.TrimSuffix(filepath.ToSlash(dir), "/")
		if rel == prefix || strings.HasPrefix(rel, prefix+"/") {
			return true
		}
	}
	return false
}

// Stop cancels any pending completion.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.count = 0
}

func (m *Monitor) fire() {
	m.mu.Lock()
	count := m.count
	m.count = 0
	m.timer = nil
	m.mu.Unlock()

	// The pipeline may have moved on (human approved, worker saved) between
	// arming and firing; re-check before acting.
	if !m.pipeline.IsAgentActive() {
		m.logf("autopilot: quiet period elapsed but no agent active, skipping")
		return
	}

	content := fmt.Sprintf(
		"Work completed automatically: %d workspace file save(s) observed, then no activity for %s.",
		count, m.quiet,
	)
	if err := m.pipeline.SaveOutput(content); err != nil {
		m.logf("autopilot: auto-save failed: %v", err)
		return
	}
	m.logf("autopilot: auto-saved output after %d file save(s)", count)
}
