package domain

import "fmt"

// validTransitions maps from-state to allowed to-states.
var validTransitions = map[JobStatus]map[JobStatus]bool{
	JobStatusPending: {
		JobStatusProcessing: true, // generation call started
	},
	JobStatusProcessing: {
		JobStatusDone:  true,
		JobStatusError: true,
	},
	JobStatusDone: {
		JobStatusProcessing: true, // refinement
	},
	// error is terminal; a new submission is required.
	JobStatusError: {},
}

// ValidateTransition checks if a job state transition is allowed.
func ValidateTransition(from, to JobStatus) error {
	allowed, ok := validTransitions[from]
	if !ok {
		return fmt.Errorf("%w: unknown source state %q", ErrInvalidTransition, from)
	}
	if !allowed[to] {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// IsTerminal reports whether no in-flight call can move the job any further
// without a new user action.
func IsTerminal(status JobStatus) bool {
	return status == JobStatusDone || status == JobStatusError
}

// CanRefine reports whether a refinement may start from status.
func CanRefine(status JobStatus) bool {
	return status == JobStatusDone
}
