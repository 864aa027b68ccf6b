package pipeline

import (
	"errors"
	"fmt"

	"quartet/internal/model"
)

// InvalidTransitionError reports an operation that is not legal in the
// pipeline's current phase. Recoverable: the caller should re-check the
// predicates or prompt the user.
type InvalidTransitionError struct {
	Op    string
	Phase model.Phase
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s is not legal in phase %q", e.Op, e.Phase)
}

// NoActiveAgentError reports an agent-scoped operation invoked while no
// agent is active (idle, review or completed phase).
type NoActiveAgentError struct {
	Op    string
	Phase model.Phase
}

func (e *NoActiveAgentError) Error() string {
	return fmt.Sprintf("no active agent: %s requires a work phase, current phase is %q", e.Op, e.Phase)
}

func IsInvalidTransition(err error) bool {
	var e *InvalidTransitionError
	return errors.As(err, &e)
}

func IsNoActiveAgent(err error) bool {
	var e *NoActiveAgentError
	return errors.As(err, &e)
}
