package pipeline

import (
	"time"

	"quartet/internal/model"
)

// ApplyOutput applies the save-output transition to a pipeline state in
// place: record the active agent's output, append the audit entries, and
// advance to that agent's review phase.
//
// Both writer paths go through this function — the in-process controller and
// the worker process operating directly on the store — so that the same input
// always produces the same post-state regardless of which process wrote it.
// Guard failure leaves the state untouched.
func ApplyOutput(state *model.PipelineState, content string, now time.Time) (model.AgentDefinition, error) {
	agent, ok := model.AgentForPhase(state.CurrentPhase)
	if !ok {
		return model.AgentDefinition{}, &NoActiveAgentError{Op: "save output", Phase: state.CurrentPhase}
	}

	if state.Outputs == nil {
		state.Outputs = map[model.AgentID]string{}
	}
	state.Outputs[agent.ID] = content
	state.AppendHistory(agent.WorkPhase, model.ActionOutputSaved, string(agent.ID), now)
	state.CurrentPhase = agent.ReviewPhase
	state.AppendHistory(agent.ReviewPhase, model.ActionEntered, "", now)

	return agent, nil
}
