package model

import "fmt"

// ProjectState is the lifecycle state of a whole project run.
type ProjectState string

const (
	ProjectStatePending   ProjectState = "pending"
	ProjectStateRunning   ProjectState = "running"
	ProjectStateCompleted ProjectState = "completed"
	ProjectStateFailed    ProjectState = "failed"
)

// PhaseState is the lifecycle state of a single phase within a run.
type PhaseState string

const (
	PhaseStatePending   PhaseState = "pending"
	PhaseStateRunning   PhaseState = "running"
	PhaseStateCompleted PhaseState = "completed"
	PhaseStateFailed    PhaseState = "failed"
	PhaseStateSkipped   PhaseState = "skipped"
)

var terminalProjectStates = map[ProjectState]bool{
	ProjectStateCompleted: true,
	ProjectStateFailed:    true,
}

// A terminal phase still leaves the project resumable; these states only
// end the phase's part in the current pass over the plan.
var terminalPhaseStates = map[PhaseState]bool{
	PhaseStateCompleted: true,
	PhaseStateFailed:    true,
	PhaseStateSkipped:   true,
}

var validProjectTransitions = map[ProjectState]map[ProjectState]bool{
	ProjectStatePending: {
		ProjectStateRunning: true,
		ProjectStateFailed:  true,
	},
	ProjectStateRunning: {
		ProjectStateCompleted: true,
		ProjectStateFailed:    true,
	},
}

var validPhaseTransitions = map[PhaseState]map[PhaseState]bool{
	PhaseStatePending: {
		PhaseStateRunning: true,
		PhaseStateSkipped: true,
	},
	// Pending re-queues a phase found mid-run after a crash.
	PhaseStateRunning: {
		PhaseStateCompleted: true,
		PhaseStateFailed:    true,
		PhaseStateSkipped:   true,
		PhaseStatePending:   true,
	},
	// Gate rejection re-queues completed intermediates and the failed
	// phase itself; resume marks prior completions skipped.
	PhaseStateCompleted: {
		PhaseStateSkipped: true,
		PhaseStatePending: true,
	},
	// A failed phase can be re-queued by retry or waved through by a
	// skip decision on its escalation.
	PhaseStateFailed: {
		PhaseStatePending: true,
		PhaseStateSkipped: true,
	},
	PhaseStateSkipped: {
		PhaseStatePending: true,
	},
}

func IsProjectTerminal(s ProjectState) bool {
	return terminalProjectStates[s]
}

func IsPhaseTerminal(s PhaseState) bool {
	return terminalPhaseStates[s]
}

func ValidateProjectTransition(from, to ProjectState) error {
	if IsProjectTerminal(from) {
		return fmt.Errorf("cannot transition from terminal project state %q", from)
	}
	allowed, ok := validProjectTransitions[from]
	if !ok {
		return fmt.Errorf("unknown project state %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid project transition: %q → %q", from, to)
	}
	return nil
}

func ValidatePhaseTransition(from, to PhaseState) error {
	allowed, ok := validPhaseTransitions[from]
	if !ok {
		return fmt.Errorf("unknown phase state %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid phase transition: %q → %q", from, to)
	}
	return nil
}
