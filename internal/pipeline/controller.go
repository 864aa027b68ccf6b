// Package pipeline implements the four-stage state machine that coordinates
// planner, implementer, reviewer and test agents across human-gated review
// checkpoints.
//
// The controller exclusively owns the in-memory state for the lifetime of its
// process. The on-disk copy is a shared resource also written by the worker
// process; Reload is the sole mechanism for observing those external writes.
package pipeline

import (
	"fmt"
	"sync"
	"time"

	"quartet/internal/events"
	"quartet/internal/model"
	"quartet/internal/store"
)

// Controller owns the in-memory pipeline state and applies transitions.
// Every mutating operation runs the same sequence: guard, mutate, append
// history, persist, notify. Guard failures are typed errors with no
// mutation. A persist failure is returned to the caller and suppresses the
// notification; the in-memory mutation is retained, an accepted
// inconsistency window until the next successful save.
type Controller struct {
	mu    sync.Mutex
	store *store.Store
	bus   *events.Bus
	state *model.PipelineState
}

// New creates a controller over the given store, loading whatever state is
// currently persisted (or the default idle state).
func New(st *store.Store) *Controller {
	return &Controller{
		store: st,
		bus:   events.NewBus(16),
		state: st.Load(),
	}
}

// Subscribe registers an observer for controller announcements.
// Returns an unsubscribe function.
func (c *Controller) Subscribe(t events.EventType, fn events.Subscriber) func() {
	return c.bus.Subscribe(t, fn)
}

// Close releases the observer bus.
func (c *Controller) Close() {
	c.bus.Close()
}

// State returns a deep copy of the current in-memory state.
func (c *Controller) State() *model.PipelineState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// CurrentPhase returns the phase currently in effect.
func (c *Controller) CurrentPhase() model.Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.CurrentPhase
}

// CanStart reports whether Start is legal (idle or completed).
func (c *Controller) CanStart() bool {
	p := c.CurrentPhase()
	return p == model.PhaseIdle || p == model.PhaseCompleted
}

// CanApprove reports whether Approve is legal in the current phase.
func (c *Controller) CanApprove() bool {
	return model.IsReviewPhase(c.CurrentPhase())
}

// CanReject reports whether Reject is legal in the current phase.
func (c *Controller) CanReject() bool {
	return model.IsReviewPhase(c.CurrentPhase())
}

// IsAgentActive reports whether the current phase has a responsible agent.
func (c *Controller) IsAgentActive() bool {
	_, ok := model.AgentForPhase(c.CurrentPhase())
	return ok
}

// ActiveAgent returns the agent responsible for the current phase, if any.
func (c *Controller) ActiveAgent() (model.AgentDefinition, bool) {
	return model.AgentForPhase(c.CurrentPhase())
}

// Start begins a new pipeline run. Legal only from idle or completed.
// Outputs and history are reset, the task description is recorded, and the
// pipeline enters planning.
func (c *Controller) Start(taskDescription string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p := c.state.CurrentPhase; p != model.PhaseIdle && p != model.PhaseCompleted {
		return &InvalidTransitionError{Op: "start", Phase: p}
	}

	now := time.Now()
	fresh := model.NewDefaultState(now)
	fresh.TaskDescription = taskDescription
	fresh.CurrentPhase = model.PhasePlanning
	fresh.AppendHistory(model.PhasePlanning, model.ActionStarted, taskDescription, now)

	if err := c.store.Save(fresh); err != nil {
		return fmt.Errorf("persist start: %w", err)
	}
	c.state = fresh

	c.publishPhaseChanged()
	return nil
}

// SaveOutput records the active agent's output, writes the durable blob,
// and advances to that agent's review phase. Legal only in a work phase.
func (c *Controller) SaveOutput(content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	agent, ok := model.AgentForPhase(c.state.CurrentPhase)
	if !ok {
		return &NoActiveAgentError{Op: "save output", Phase: c.state.CurrentPhase}
	}

	// Blob first: if the disk is unwritable we fail before any mutation.
	if err := c.store.SaveOutput(agent.ID, content); err != nil {
		return fmt.Errorf("persist output blob: %w", err)
	}

	if _, err := ApplyOutput(c.state, content, time.Now()); err != nil {
		return err
	}
	if err := c.store.Save(c.state); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}

	c.bus.Publish(events.EventOutputSaved, events.Payload{
		Phase: agent.WorkPhase,
		Agent: agent.ID,
	})
	c.publishPhaseChanged()
	return nil
}

// Approve accepts the output under review and advances along the linear
// phase order. Legal only in a review phase (testing included).
func (c *Controller) Approve() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	from := c.state.CurrentPhase
	if !model.IsReviewPhase(from) {
		return &InvalidTransitionError{Op: "approve", Phase: from}
	}

	now := time.Now()
	next := model.NextPhaseAfterApproval(from)
	c.state.AppendHistory(from, model.ActionApproved, "", now)
	c.state.CurrentPhase = next
	c.state.AppendHistory(next, model.ActionEntered, "", now)

	if err := c.store.Save(c.state); err != nil {
		return fmt.Errorf("persist approve: %w", err)
	}

	c.publishPhaseChanged()
	return nil
}

// Reject sends the work under review back to its retry phase. The retried
// agent's previous output is kept and simply overwritten on the next save.
func (c *Controller) Reject(feedback string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	from := c.state.CurrentPhase
	if !model.IsReviewPhase(from) {
		return &InvalidTransitionError{Op: "reject", Phase: from}
	}

	detail := feedback
	if detail == "" {
		detail = "no feedback provided"
	}

	now := time.Now()
	retry := model.RetryPhaseFor(from)
	c.state.AppendHistory(from, model.ActionRejected, detail, now)
	c.state.CurrentPhase = retry
	c.state.AppendHistory(retry, model.ActionEntered, "", now)

	if err := c.store.Save(c.state); err != nil {
		return fmt.Errorf("persist reject: %w", err)
	}

	c.publishPhaseChanged()
	return nil
}

// Reset unconditionally clears every persisted artifact and returns the
// pipeline to the default idle state.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Clear(); err != nil {
		return fmt.Errorf("clear store: %w", err)
	}

	fresh := model.NewDefaultState(time.Now())
	if err := c.store.Save(fresh); err != nil {
		return fmt.Errorf("persist reset: %w", err)
	}
	c.state = fresh

	c.bus.Publish(events.EventPipelineReset, events.Payload{Phase: model.PhaseIdle})
	c.publishPhaseChanged()
	return nil
}

// Reload replaces the in-memory state with whatever is currently persisted,
// discarding the in-memory copy, and re-announces the phase now in effect.
// This is the sole mechanism for observing writes made by the worker process.
func (c *Controller) Reload() model.Phase {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = c.store.Load()
	c.publishPhaseChanged()
	return c.state.CurrentPhase
}

// publishPhaseChanged announces the current phase. Callers hold c.mu.
func (c *Controller) publishPhaseChanged() {
	payload := events.Payload{Phase: c.state.CurrentPhase}
	if agent, ok := model.AgentForPhase(c.state.CurrentPhase); ok {
		payload.Agent = agent.ID
	}
	c.bus.Publish(events.EventPhaseChanged, payload)
}
