package model

type AgentID string

const (
	AgentPlanner     AgentID = "planner"
	AgentImplementer AgentID = "implementer"
	AgentReviewer    AgentID = "reviewer"
	AgentTest        AgentID = "test"
)

// AgentDefinition describes one of the four fixed pipeline roles.
type AgentDefinition struct {
	ID           AgentID
	WorkPhase    Phase
	ReviewPhase  Phase
	Requires     []AgentID
	DefaultModel string
}

// Agents is the static four-stage pipeline table, in execution order.
// The test agent's review phase is completed: saving test output finishes
// the pipeline without an intermediate review phase.
var Agents = []AgentDefinition{
	{
		ID:           AgentPlanner,
		WorkPhase:    PhasePlanning,
		ReviewPhase:  PhasePlanReview,
		Requires:     nil,
		DefaultModel: "sonnet",
	},
	{
		ID:           AgentImplementer,
		WorkPhase:    PhaseImplementing,
		ReviewPhase:  PhaseImplReview,
		Requires:     []AgentID{AgentPlanner},
		DefaultModel: "sonnet",
	},
	{
		ID:           AgentReviewer,
		WorkPhase:    PhaseReviewing,
		ReviewPhase:  PhaseReviewDone,
		Requires:     []AgentID{AgentPlanner, AgentImplementer},
		DefaultModel: "sonnet",
	},
	{
		ID:           AgentTest,
		WorkPhase:    PhaseTesting,
		ReviewPhase:  PhaseCompleted,
		Requires:     []AgentID{AgentImplementer, AgentReviewer},
		DefaultModel: "haiku",
	},
}

// AgentForPhase maps a work phase to its responsible agent. Review, idle and
// terminal phases have no agent.
func AgentForPhase(p Phase) (AgentDefinition, bool) {
	for _, a := range Agents {
		if a.WorkPhase == p {
			return a, true
		}
	}
	return AgentDefinition{}, false
}

func AgentByID(id AgentID) (AgentDefinition, bool) {
	for _, a := range Agents {
		if a.ID == id {
			return a, true
		}
	}
	return AgentDefinition{}, false
}

func KnownAgent(id AgentID) bool {
	_, ok := AgentByID(id)
	return ok
}
