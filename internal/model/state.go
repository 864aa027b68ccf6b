package model

import (
	"time"

	"github.com/google/uuid"
)

// HistoryAction labels one entry in the pipeline audit trail.
type HistoryAction string

const (
	ActionStarted     HistoryAction = "started"
	ActionOutputSaved HistoryAction = "output_saved"
	ActionEntered     HistoryAction = "entered"
	ActionApproved    HistoryAction = "approved"
	ActionRejected    HistoryAction = "rejected"
)

type HistoryEntry struct {
	ID        string        `yaml:"id"`
	Phase     Phase         `yaml:"phase"`
	Action    HistoryAction `yaml:"action"`
	Timestamp string        `yaml:"timestamp"`
	Detail    string        `yaml:"detail,omitempty"`
}

// PipelineState is the structured record shared between the controller and
// the worker process. The on-disk copy is not exclusively owned by either:
// both overwrite it whole, last write wins.
type PipelineState struct {
	SchemaVersion   int                `yaml:"schema_version"`
	FileType        string             `yaml:"file_type"`
	CurrentPhase    Phase              `yaml:"current_phase"`
	TaskDescription string             `yaml:"task_description"`
	Outputs         map[AgentID]string `yaml:"outputs"`
	History         []HistoryEntry     `yaml:"history"`
	CreatedAt       string             `yaml:"created_at"`
	UpdatedAt       string             `yaml:"updated_at"`
}

const (
	CurrentSchemaVersion  = 1
	PipelineStateFileType = "pipeline_state"
)

// NewDefaultState returns a fresh idle pipeline with empty outputs and history.
func NewDefaultState(now time.Time) *PipelineState {
	ts := now.UTC().Format(time.RFC3339)
	return &PipelineState{
		SchemaVersion:   CurrentSchemaVersion,
		FileType:        PipelineStateFileType,
		CurrentPhase:    PhaseIdle,
		TaskDescription: "",
		Outputs:         map[AgentID]string{},
		History:         []HistoryEntry{},
		CreatedAt:       ts,
		UpdatedAt:       ts,
	}
}

// AppendHistory appends one event to the audit trail. History is append-only:
// entries are never mutated, reordered or removed except by a full reset.
func (s *PipelineState) AppendHistory(phase Phase, action HistoryAction, detail string, now time.Time) {
	s.History = append(s.History, HistoryEntry{
		ID:        uuid.NewString(),
		Phase:     phase,
		Action:    action,
		Timestamp: now.UTC().Format(time.RFC3339),
		Detail:    detail,
	})
}

// Clone returns a deep copy, used to hand state to observers without aliasing
// the controller's in-memory copy.
func (s *PipelineState) Clone() *PipelineState {
	out := *s
	out.Outputs = make(map[AgentID]string, len(s.Outputs))
	for k, v := range s.Outputs {
		out.Outputs[k] = v
	}
	out.History = append([]HistoryEntry(nil), s.History...)
	return &out
}
