// Package worker exposes the tool surface used by the autonomous worker
// process. It operates directly on the persisted store — it runs in a
// separate OS process and must not assume an in-process controller exists —
// and applies the same save-output transition the controller does, through
// the shared pipeline.ApplyOutput function.
package worker

import (
	"fmt"
	"time"

	"quartet/internal/model"
	"quartet/internal/pipeline"
	"quartet/internal/store"
)

type Surface struct {
	store *store.Store
}

func New(st *store.Store) *Surface {
	return &Surface{store: st}
}

// TaskView is the worker-facing snapshot of the pipeline: what to do, where
// the pipeline stands, and which upstream outputs are available.
type TaskView struct {
	Phase           model.Phase     `json:"phase"`
	TaskDescription string          `json:"task_description"`
	ActiveAgent     model.AgentID   `json:"active_agent,omitempty"`
	Requires        []model.AgentID `json:"requires,omitempty"`
	OutputsPresent  []model.AgentID `json:"outputs_present"`
	UpdatedAt       string          `json:"updated_at"`
}

// ReadTask returns the current task and status.
func (s *Surface) ReadTask() TaskView {
	state := s.store.Load()

	view := TaskView{
		Phase:           state.CurrentPhase,
		TaskDescription: state.TaskDescription,
		OutputsPresent:  []model.AgentID{},
		UpdatedAt:       state.UpdatedAt,
	}
	if agent, ok := model.AgentForPhase(state.CurrentPhase); ok {
		view.ActiveAgent = agent.ID
		view.Requires = agent.Requires
	}
	for _, agent := range model.Agents {
		if _, ok := state.Outputs[agent.ID]; ok {
			view.OutputsPresent = append(view.OutputsPresent, agent.ID)
		}
	}
	return view
}

// ReadOutput returns one agent's output blob, or ok=false if not produced.
func (s *Surface) ReadOutput(agent model.AgentID) (string, bool, error) {
	if !model.KnownAgent(agent) {
		return "", false, fmt.Errorf("unknown agent %q", agent)
	}
	return s.store.ReadOutput(agent)
}

// ReadAllOutputs returns every output blob present.
func (s *Surface) ReadAllOutputs() (map[model.AgentID]string, error) {
	return s.store.ReadAllOutputs()
}

// WriteOutput records an agent's output against the store and applies the
// review-phase transition, producing the same post-state the controller's
// SaveOutput would for the same input. The named agent must be the one
// active in the current phase.
func (s *Surface) WriteOutput(agent model.AgentID, content string) (model.Phase, error) {
	if !model.KnownAgent(agent) {
		return "", fmt.Errorf("unknown agent %q", agent)
	}

	state := s.store.Load()
	active, ok := model.AgentForPhase(state.CurrentPhase)
	if !ok {
		return "", &pipeline.NoActiveAgentError{Op: "write output", Phase: state.CurrentPhase}
	}
	if active.ID != agent {
		return "", &pipeline.InvalidTransitionError{
			Op:    fmt.Sprintf("write output for %s", agent),
			Phase: state.CurrentPhase,
		}
	}

	if err := s.store.SaveOutput(agent, content); err != nil {
		return "", fmt.Errorf("persist output blob: %w", err)
	}
	if _, err := pipeline.ApplyOutput(state, content, time.Now()); err != nil {
		return "", err
	}
	if err := s.store.Save(state); err != nil {
		return "", fmt.Errorf("persist state: %w", err)
	}
	return state.CurrentPhase, nil
}
