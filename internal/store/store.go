// Package store implements the durable, shared, lock-free record of pipeline
// state and per-agent outputs under the .quartet/ control directory.
//
// The on-disk copy is written by both the controller process and the
// autonomous worker process. There is no locking, versioning or
// optimistic-concurrency token: two racing writers produce last-write-wins
// over the whole structured record. The actors are human-paced, so the race
// window is an accepted property of the design, not a defect to patch.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	yamlv3 "gopkg.in/yaml.v3"

	"quartet/internal/model"
	yamlutil "quartet/internal/yaml"
)

const (
	StateFileName = "state.yaml"
	OutputsDir    = "outputs"
	outputExt     = ".md"
)

type Store struct {
	dir string
}

// New returns a store rooted at the given .quartet directory.
func New(quartetDir string) *Store {
	return &Store{dir: quartetDir}
}

func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) StatePath() string {
	return filepath.Join(s.dir, StateFileName)
}

func (s *Store) OutputPath(agent model.AgentID) string {
	return filepath.Join(s.dir, OutputsDir, string(agent)+outputExt)
}

// Load returns the persisted pipeline state. A missing record yields the
// default idle state. A corrupt record is quarantined and the .bak sibling is
// tried; if that also fails the default state is returned. Corruption
// degrades to "fresh pipeline" and is never surfaced as an error.
func (s *Store) Load() *model.PipelineState {
	path := s.StatePath()

	state, err := s.readState(path)
	if err == nil {
		return state
	}
	if os.IsNotExist(err) {
		return model.NewDefaultState(time.Now())
	}

	// Corrupt record: preserve the evidence, then attempt backup recovery.
	if qerr := yamlutil.Quarantine(s.dir, path); qerr != nil {
		return model.NewDefaultState(time.Now())
	}
	if rerr := yamlutil.RestoreFromBackup(path); rerr == nil {
		if state, err := s.readState(path); err == nil {
			return state
		}
	}
	return model.NewDefaultState(time.Now())
}

func (s *Store) readState(path string) (*model.PipelineState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var state model.PipelineState
	if err := yamlv3.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if state.SchemaVersion != model.CurrentSchemaVersion {
		return nil, fmt.Errorf("unsupported schema_version %d (expected %d)", state.SchemaVersion, model.CurrentSchemaVersion)
	}
	if state.FileType != model.PipelineStateFileType {
		return nil, fmt.Errorf("unexpected file_type %q (expected %q)", state.FileType, model.PipelineStateFileType)
	}
	if !model.KnownPhase(state.CurrentPhase) {
		return nil, fmt.Errorf("unknown current_phase %q", state.CurrentPhase)
	}
	if state.Outputs == nil {
		state.Outputs = map[model.AgentID]string{}
	}
	return &state, nil
}

// Save overwrites the structured record in full and refreshes updated_at.
func (s *Store) Save(state *model.PipelineState) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	state.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	return yamlutil.AtomicWrite(s.StatePath(), state)
}

// SaveOutput durably writes one agent's output blob, independent of the
// structured record. The blob is the integration point for the worker
// process, which may read it without parsing the state record.
func (s *Store) SaveOutput(agent model.AgentID, content string) error {
	dir := filepath.Join(s.dir, OutputsDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create outputs dir: %w", err)
	}

	// Outputs are free text, not YAML: temp-write and rename without the
	// structured-record validation step.
	tmp, err := os.CreateTemp(dir, ".quartet-tmp-*"+outputExt)
	if err != nil {
		return fmt.Errorf("create temp output: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.WriteString(content); err != nil {
		return fmt.Errorf("write temp output: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp output: %w", err)
	}
	if err := os.Rename(tmpName, s.OutputPath(agent)); err != nil {
		return fmt.Errorf("rename output: %w", err)
	}
	return nil
}

// ReadOutput returns one agent's output blob. The second return value is
// false when the agent has not produced output yet.
func (s *Store) ReadOutput(agent model.AgentID) (string, bool, error) {
	data, err := os.ReadFile(s.OutputPath(agent))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read output %s: %w", agent, err)
	}
	return string(data), true, nil
}

// ReadAllOutputs returns every output blob present, keyed by agent.
func (s *Store) ReadAllOutputs() (map[model.AgentID]string, error) {
	out := map[model.AgentID]string{}
	for _, agent := range model.Agents {
		content, ok, err := s.ReadOutput(agent.ID)
		if err != nil {
			return nil, err
		}
		if ok {
			out[agent.ID] = content
		}
	}
	return out, nil
}

// Clear removes the state record (and its backup) and all output blobs, then
// recreates the empty outputs directory.
func (s *Store) Clear() error {
	if err := os.Remove(s.StatePath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove state: %w", err)
	}
	if err := os.Remove(s.StatePath() + ".bak"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove state backup: %w", err)
	}
	outputsDir := filepath.Join(s.dir, OutputsDir)
	if err := os.RemoveAll(outputsDir); err != nil {
		return fmt.Errorf("remove outputs: %w", err)
	}
	if err := os.MkdirAll(outputsDir, 0755); err != nil {
		return fmt.Errorf("recreate outputs dir: %w", err)
	}
	return nil
}
