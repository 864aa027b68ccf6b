package model

type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhasePlanning     Phase = "planning"
	PhasePlanReview   Phase = "plan_review"
	PhaseImplementing Phase = "implementing"
	PhaseImplReview   Phase = "impl_review"
	PhaseReviewing    Phase = "reviewing"
	PhaseReviewDone   Phase = "review_done"
	PhaseTesting      Phase = "testing"
	PhaseCompleted    Phase = "completed"
)

// phaseOrder is the fixed linear progression after idle. Approval advances
// along this sequence; there is no other forward path.
var phaseOrder = []Phase{
	PhasePlanning,
	PhasePlanReview,
	PhaseImplementing,
	PhaseImplReview,
	PhaseReviewing,
	PhaseReviewDone,
	PhaseTesting,
	PhaseCompleted,
}

var knownPhases = map[Phase]bool{
	PhaseIdle:         true,
	PhasePlanning:     true,
	PhasePlanReview:   true,
	PhaseImplementing: true,
	PhaseImplReview:   true,
	PhaseReviewing:    true,
	PhaseReviewDone:   true,
	PhaseTesting:      true,
	PhaseCompleted:    true,
}

var workPhases = map[Phase]bool{
	PhasePlanning:     true,
	PhaseImplementing: true,
	PhaseReviewing:    true,
	PhaseTesting:      true,
}

// reviewPhases are the phases awaiting a human accept/reject decision.
// testing is included: its review is folded into the phase itself, so
// approve/reject apply to it directly.
var reviewPhases = map[Phase]bool{
	PhasePlanReview: true,
	PhaseImplReview: true,
	PhaseReviewDone: true,
	PhaseTesting:    true,
}

// retryPhases maps a review phase to the work phase a rejection returns to.
// Rejected reviews and failed tests both send work back to implementing, not
// to the reviewer or tester: review and test are deterministic re-evaluations,
// the implementation is the fault locus.
var retryPhases = map[Phase]Phase{
	PhasePlanReview: PhasePlanning,
	PhaseImplReview: PhaseImplementing,
	PhaseReviewDone: PhaseImplementing,
	PhaseTesting:    PhaseImplementing,
}

func KnownPhase(p Phase) bool {
	return knownPhases[p]
}

// IsWorkPhase reports whether an agent is actively responsible for p.
func IsWorkPhase(p Phase) bool {
	return workPhases[p]
}

// IsReviewPhase reports whether approve/reject are legal in p.
func IsReviewPhase(p Phase) bool {
	return reviewPhases[p]
}

func IsTerminal(p Phase) bool {
	return p == PhaseCompleted
}

// NextPhaseAfterApproval returns the phase immediately following p in the
// linear order. The last phase and unrecognized phases map to completed.
func NextPhaseAfterApproval(p Phase) Phase {
	for i, candidate := range phaseOrder {
		if candidate == p && i+1 < len(phaseOrder) {
			return phaseOrder[i+1]
		}
	}
	return PhaseCompleted
}

// RetryPhaseFor returns the work phase a rejection of p returns to. Phases
// without a retry target map to themselves.
func RetryPhaseFor(p Phase) Phase {
	if target, ok := retryPhases[p]; ok {
		return target
	}
	return p
}
