// Package model defines the data structures for quartet's configuration,
// pipeline state and the static phase/agent tables.
package model

type Config struct {
	Project   ProjectConfig   `yaml:"project"`
	Quartet   QuartetConfig   `yaml:"quartet"`
	Agents    AgentsConfig    `yaml:"agents"`
	Watcher   WatcherConfig   `yaml:"watcher"`
	Autopilot AutopilotConfig `yaml:"autopilot"`
	Notify    NotifyConfig    `yaml:"notify"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ProjectConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type QuartetConfig struct {
	Version     string `yaml:"version"`
	Created     string `yaml:"created"`
	ProjectRoot string `yaml:"project_root"`
}

type AgentsConfig struct {
	Models map[string]string `yaml:"models,omitempty"`
}

type WatcherConfig struct {
	DebounceMs int `yaml:"debounce_ms"`
}

type AutopilotConfig struct {
	Enabled        bool     `yaml:"enabled"`
	QuietPeriodSec int      `yaml:"quiet_period_sec"`
	IgnoreDirs     []string `yaml:"ignore_dirs"`
}

type NotifyConfig struct {
	Enabled bool `yaml:"enabled"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

const (
	DefaultDebounceMs     = 500
	DefaultQuietPeriodSec = 5
	MinQuietPeriodSec     = 2
	MaxQuietPeriodSec     = 30
)

// DebounceMillis returns the watcher debounce with the default applied.
func (c WatcherConfig) DebounceMillis() int {
	if c.DebounceMs <= 0 {
		return DefaultDebounceMs
	}
	return c.DebounceMs
}

// QuietPeriod returns the autopilot quiet period clamped to the 2-30s range.
func (c AutopilotConfig) QuietPeriod() int {
	s := c.QuietPeriodSec
	if s == 0 {
		s = DefaultQuietPeriodSec
	}
	if s < MinQuietPeriodSec {
		s = MinQuietPeriodSec
	}
	if s > MaxQuietPeriodSec {
		s = MaxQuietPeriodSec
	}
	return s
}

// ModelFor resolves the model label for an agent, falling back to the
// agent table default. The label is opaque to the state machine.
func (c AgentsConfig) ModelFor(agent AgentDefinition) string {
	if m, ok := c.Models[string(agent.ID)]; ok && m != "" {
		return m
	}
	return agent.DefaultModel
}
