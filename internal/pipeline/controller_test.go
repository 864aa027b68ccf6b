package pipeline

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"quartet/internal/events"
	"quartet/internal/model"
	"quartet/internal/store"
)

func newTestController(t *testing.T) (*Controller, *store.Store) {
	t.Helper()
	st := store.New(filepath.Join(t.TempDir(), ".quartet"))
	c := New(st)
	t.Cleanup(c.Close)
	return c, st
}

// advanceTo drives a fresh pipeline to the given phase through the public
// operations only.
func advanceTo(t *testing.T, c *Controller, target model.Phase) {
	t.Helper()
	if err := c.Start("test task"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for c.CurrentPhase() != target {
		switch {
		case c.IsAgentActive():
			if err := c.SaveOutput("output for " + string(c.CurrentPhase())); err != nil {
				t.Fatalf("SaveOutput in %s: %v", c.CurrentPhase(), err)
			}
		case c.CanApprove():
			if err := c.Approve(); err != nil {
				t.Fatalf("Approve in %s: %v", c.CurrentPhase(), err)
			}
		default:
			t.Fatalf("cannot advance from %s toward %s", c.CurrentPhase(), target)
		}
	}
}

func TestStart_FromIdle(t *testing.T) {
	c, _ := newTestController(t)

	if !c.CanStart() {
		t.Fatal("CanStart = false in idle")
	}
	if err := c.Start("Add auth"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	state := c.State()
	if state.CurrentPhase != model.PhasePlanning {
		t.Errorf("phase = %s, want planning", state.CurrentPhase)
	}
	if state.TaskDescription != "Add auth" {
		t.Errorf("task = %q, want %q", state.TaskDescription, "Add auth")
	}
	if len(state.History) != 1 || state.History[0].Action != model.ActionStarted {
		t.Errorf("history = %+v, want one started entry", state.History)
	}
}

func TestStart_IllegalMidPipeline(t *testing.T) {
	c, _ := newTestController(t)

	if err := c.Start("task"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	before := c.State()

	err := c.Start("another task")
	if !IsInvalidTransition(err) {
		t.Fatalf("second Start error = %v, want InvalidTransitionError", err)
	}

	after := c.State()
	if after.TaskDescription != before.TaskDescription {
		t.Error("illegal Start mutated task description")
	}
	if len(after.History) != len(before.History) {
		t.Error("illegal Start appended history")
	}
}

func TestSaveOutput_AdvancesToReviewPhase(t *testing.T) {
	c, st := newTestController(t)

	if err := c.Start("Add auth"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.SaveOutput("plan text"); err != nil {
		t.Fatalf("SaveOutput: %v", err)
	}

	state := c.State()
	if state.CurrentPhase != model.PhasePlanReview {
		t.Errorf("phase = %s, want plan_review", state.CurrentPhase)
	}
	if state.Outputs[model.AgentPlanner] != "plan text" {
		t.Errorf("outputs.planner = %q", state.Outputs[model.AgentPlanner])
	}

	// The standalone blob is written as well as the record entry.
	blob, ok, err := st.ReadOutput(model.AgentPlanner)
	if err != nil || !ok {
		t.Fatalf("ReadOutput: ok=%v err=%v", ok, err)
	}
	if blob != "plan text" {
		t.Errorf("blob = %q", blob)
	}

	// output_saved in the work phase, entered in the review phase.
	n := len(state.History)
	if n < 2 {
		t.Fatalf("history too short: %d", n)
	}
	if state.History[n-2].Action != model.ActionOutputSaved || state.History[n-2].Phase != model.PhasePlanning {
		t.Errorf("penultimate entry = %+v", state.History[n-2])
	}
	if state.History[n-1].Action != model.ActionEntered || state.History[n-1].Phase != model.PhasePlanReview {
		t.Errorf("last entry = %+v", state.History[n-1])
	}
}

func TestSaveOutput_NoActiveAgent(t *testing.T) {
	c, _ := newTestController(t)

	// idle
	if err := c.SaveOutput("text"); !IsNoActiveAgent(err) {
		t.Errorf("SaveOutput in idle = %v, want NoActiveAgentError", err)
	}

	// review phase
	advanceTo(t, c, model.PhasePlanReview)
	if err := c.SaveOutput("text"); !IsNoActiveAgent(err) {
		t.Errorf("SaveOutput in plan_review = %v, want NoActiveAgentError", err)
	}
}

func TestApprove_AdvancesLinearly(t *testing.T) {
	c, _ := newTestController(t)
	advanceTo(t, c, model.PhasePlanReview)

	if !c.CanApprove() {
		t.Fatal("CanApprove = false in plan_review")
	}
	if err := c.Approve(); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if got := c.CurrentPhase(); got != model.PhaseImplementing {
		t.Errorf("phase = %s, want implementing", got)
	}
}

func TestApprove_IllegalInWorkPhase(t *testing.T) {
	c, _ := newTestController(t)
	advanceTo(t, c, model.PhaseImplementing)

	if c.CanApprove() || c.CanReject() {
		t.Error("CanApprove/CanReject = true in implementing")
	}
	if err := c.Approve(); !IsInvalidTransition(err) {
		t.Errorf("Approve = %v, want InvalidTransitionError", err)
	}
	if err := c.Reject("needs refactor"); !IsInvalidTransition(err) {
		t.Errorf("Reject = %v, want InvalidTransitionError", err)
	}
}

func TestReject_ReturnsToRetryPhaseKeepingOutput(t *testing.T) {
	c, _ := newTestController(t)
	advanceTo(t, c, model.PhaseImplReview)

	previous := c.State().Outputs[model.AgentImplementer]
	if previous == "" {
		t.Fatal("implementer output missing before reject")
	}

	if err := c.Reject("needs refactor"); err != nil {
		t.Fatalf("Reject: %v", err)
	}

	state := c.State()
	if state.CurrentPhase != model.PhaseImplementing {
		t.Errorf("phase = %s, want implementing", state.CurrentPhase)
	}
	if state.Outputs[model.AgentImplementer] != previous {
		t.Error("reject cleared the retried agent's output")
	}

	var found bool
	for _, h := range state.History {
		if h.Action == model.ActionRejected && h.Detail == "needs refactor" {
			found = true
		}
	}
	if !found {
		t.Error("no rejected history entry with feedback text")
	}

	// A subsequent save simply overwrites.
	if err := c.SaveOutput("second attempt"); err != nil {
		t.Fatalf("SaveOutput after reject: %v", err)
	}
	if got := c.State().Outputs[model.AgentImplementer]; got != "second attempt" {
		t.Errorf("outputs.implementer = %q, want second attempt", got)
	}
}

// Every review phase must send a rejection exactly where RetryPhaseFor says.
func TestReject_MatchesRetryTable(t *testing.T) {
	reviewPhases := []model.Phase{
		model.PhasePlanReview,
		model.PhaseImplReview,
		model.PhaseReviewDone,
		model.PhaseTesting,
	}
	for _, review := range reviewPhases {
		c, _ := newTestController(t)
		advanceTo(t, c, review)

		if err := c.Reject(""); err != nil {
			t.Fatalf("Reject in %s: %v", review, err)
		}
		want := model.RetryPhaseFor(review)
		if got := c.CurrentPhase(); got != want {
			t.Errorf("reject from %s landed in %s, want %s", review, got, want)
		}
	}
}

func TestReject_EmptyFeedbackGetsPlaceholder(t *testing.T) {
	c, _ := newTestController(t)
	advanceTo(t, c, model.PhasePlanReview)

	if err := c.Reject(""); err != nil {
		t.Fatalf("Reject: %v", err)
	}

	state := c.State()
	var detail string
	for _, h := range state.History {
		if h.Action == model.ActionRejected {
			detail = h.Detail
		}
	}
	if detail == "" {
		t.Error("rejected entry has no placeholder detail")
	}
}

func TestTesting_SaveOutputCompletes(t *testing.T) {
	c, _ := newTestController(t)
	advanceTo(t, c, model.PhaseTesting)

	if err := c.SaveOutput("all green"); err != nil {
		t.Fatalf("SaveOutput in testing: %v", err)
	}
	if got := c.CurrentPhase(); got != model.PhaseCompleted {
		t.Errorf("phase = %s, want completed", got)
	}
	if got := c.State().Outputs[model.AgentTest]; got != "all green" {
		t.Errorf("outputs.test = %q", got)
	}

	// completed is terminal: start becomes legal again, approve does not.
	if !c.CanStart() {
		t.Error("CanStart = false in completed")
	}
	if err := c.Approve(); !IsInvalidTransition(err) {
		t.Errorf("Approve in completed = %v, want InvalidTransitionError", err)
	}
	if err := c.Start("next run"); err != nil {
		t.Errorf("Start from completed: %v", err)
	}
}

func TestTesting_ApproveAlsoCompletes(t *testing.T) {
	c, _ := newTestController(t)
	advanceTo(t, c, model.PhaseTesting)

	// testing is treated as a review phase for approve/reject.
	if !c.CanApprove() {
		t.Fatal("CanApprove = false in testing")
	}
	if err := c.Approve(); err != nil {
		t.Fatalf("Approve in testing: %v", err)
	}
	if got := c.CurrentPhase(); got != model.PhaseCompleted {
		t.Errorf("phase = %s, want completed", got)
	}
}

func TestReset_AlwaysYieldsFreshIdle(t *testing.T) {
	c, st := newTestController(t)
	advanceTo(t, c, model.PhaseReviewing)

	if err := c.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	state := c.State()
	if state.CurrentPhase != model.PhaseIdle {
		t.Errorf("phase = %s, want idle", state.CurrentPhase)
	}
	if len(state.Outputs) != 0 || len(state.History) != 0 {
		t.Errorf("reset state not empty: %+v", state)
	}

	// Output blobs are deleted too.
	all, err := st.ReadAllOutputs()
	if err != nil {
		t.Fatalf("ReadAllOutputs: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("output blobs survive reset: %v", all)
	}
}

func TestStartThenReset_FromIdleToo(t *testing.T) {
	c, _ := newTestController(t)

	if err := c.Start("task"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	state := c.State()
	if state.CurrentPhase != model.PhaseIdle || len(state.Outputs) != 0 || len(state.History) != 0 {
		t.Errorf("start+reset state = %+v, want fresh idle", state)
	}
}

func TestReload_Idempotent(t *testing.T) {
	c, _ := newTestController(t)
	advanceTo(t, c, model.PhaseImplReview)

	first := c.Reload()
	s1 := c.State()
	second := c.Reload()
	s2 := c.State()

	if first != second {
		t.Errorf("reload phases differ: %s vs %s", first, second)
	}
	if s1.CurrentPhase != s2.CurrentPhase || s1.TaskDescription != s2.TaskDescription {
		t.Errorf("reloaded states differ: %+v vs %+v", s1, s2)
	}
	if len(s1.History) != len(s2.History) {
		t.Errorf("reloaded history lengths differ: %d vs %d", len(s1.History), len(s2.History))
	}
}

func TestReload_ObservesExternalWrite(t *testing.T) {
	c, st := newTestController(t)
	advanceTo(t, c, model.PhaseImplementing)

	// Simulate the worker process writing directly to the shared store.
	external := st.Load()
	if _, err := ApplyOutput(external, "worker diff", time.Now()); err != nil {
		t.Fatalf("ApplyOutput: %v", err)
	}
	if err := st.Save(external); err != nil {
		t.Fatalf("external save: %v", err)
	}

	if got := c.CurrentPhase(); got != model.PhaseImplementing {
		t.Fatalf("controller saw external write without reload: %s", got)
	}

	if got := c.Reload(); got != model.PhaseImplReview {
		t.Errorf("Reload = %s, want impl_review", got)
	}
	if got := c.State().Outputs[model.AgentImplementer]; got != "worker diff" {
		t.Errorf("outputs.implementer = %q, want worker diff", got)
	}
}

func TestNotifications_SaveOutputFiresBoth(t *testing.T) {
	c, _ := newTestController(t)

	var mu sync.Mutex
	var outputEvents, phaseEvents []events.Event

	unsub1 := c.Subscribe(events.EventOutputSaved, func(e events.Event) {
		mu.Lock()
		outputEvents = append(outputEvents, e)
		mu.Unlock()
	})
	defer unsub1()
	unsub2 := c.Subscribe(events.EventPhaseChanged, func(e events.Event) {
		mu.Lock()
		phaseEvents = append(phaseEvents, e)
		mu.Unlock()
	})
	defer unsub2()

	if err := c.Start("task"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.SaveOutput("plan"); err != nil {
		t.Fatalf("SaveOutput: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	if len(outputEvents) != 1 {
		t.Fatalf("output_saved events = %d, want 1", len(outputEvents))
	}
	if outputEvents[0].Payload.Agent != model.AgentPlanner {
		t.Errorf("output_saved agent = %s, want planner", outputEvents[0].Payload.Agent)
	}

	// start and the save-output transition each announce a phase change.
	if len(phaseEvents) != 2 {
		t.Fatalf("phase_changed events = %d, want 2", len(phaseEvents))
	}
	if phaseEvents[1].Payload.Phase != model.PhasePlanReview {
		t.Errorf("final phase_changed = %s, want plan_review", phaseEvents[1].Payload.Phase)
	}
}

func TestNotifications_ResetFiresResetThenIdle(t *testing.T) {
	c, _ := newTestController(t)
	advanceTo(t, c, model.PhasePlanning)

	var mu sync.Mutex
	resetCount := 0
	var lastPhase model.Phase

	unsub1 := c.Subscribe(events.EventPipelineReset, func(e events.Event) {
		mu.Lock()
		resetCount++
		mu.Unlock()
	})
	defer unsub1()
	unsub2 := c.Subscribe(events.EventPhaseChanged, func(e events.Event) {
		mu.Lock()
		lastPhase = e.Payload.Phase
		mu.Unlock()
	})
	defer unsub2()

	if err := c.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if resetCount != 1 {
		t.Errorf("pipeline_reset events = %d, want 1", resetCount)
	}
	if lastPhase != model.PhaseIdle {
		t.Errorf("phase_changed after reset = %s, want idle", lastPhase)
	}
}

func TestFullScenario_AddAuth(t *testing.T) {
	c, _ := newTestController(t)

	if err := c.Start("Add auth"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := c.CurrentPhase(); got != model.PhasePlanning {
		t.Fatalf("phase = %s, want planning", got)
	}

	if err := c.SaveOutput("plan text"); err != nil {
		t.Fatalf("SaveOutput plan: %v", err)
	}
	if got := c.CurrentPhase(); got != model.PhasePlanReview {
		t.Fatalf("phase = %s, want plan_review", got)
	}
	if got := c.State().Outputs[model.AgentPlanner]; got != "plan text" {
		t.Fatalf("outputs.planner = %q", got)
	}

	if err := c.Approve(); err != nil {
		t.Fatalf("Approve plan: %v", err)
	}
	if got := c.CurrentPhase(); got != model.PhaseImplementing {
		t.Fatalf("phase = %s, want implementing", got)
	}

	// Rejecting mid-work is illegal.
	if err := c.Reject("needs refactor"); !IsInvalidTransition(err) {
		t.Fatalf("Reject in implementing = %v, want InvalidTransitionError", err)
	}

	if err := c.SaveOutput("impl v1"); err != nil {
		t.Fatalf("SaveOutput impl: %v", err)
	}
	if err := c.Reject("needs refactor"); err != nil {
		t.Fatalf("Reject impl: %v", err)
	}
	if got := c.CurrentPhase(); got != model.PhaseImplementing {
		t.Fatalf("phase after reject = %s, want implementing", got)
	}
	if got := c.State().Outputs[model.AgentImplementer]; got != "impl v1" {
		t.Fatalf("outputs.implementer after reject = %q, want impl v1", got)
	}
}
