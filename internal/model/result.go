package model

import "time"

// PhaseResult is the in-memory outcome of one phase execution attempt.
// It is never persisted directly; the runner folds it into PhaseStatus.
type PhaseResult struct {
	PhaseID     string
	Success     bool
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Error       string
	Retries     int

	// Set when the phase emitted a sub-plan artifact in its output.
	HasPlan  bool
	PlanPath string
}

// GateResult is a quality gate verdict. Details carries evaluator
// findings (issues, warnings, recommendations, findings) that the
// rejection policy turns into feedback.
type GateResult struct {
	Passed   bool
	GateType string
	Message  string
	Details  map[string]any
}

// RejectionResult is the rejection policy's decision after a gate
// rejected a phase. ShouldContinue false stops the run.
type RejectionResult struct {
	Action         RejectionAction
	TargetPhase    string
	Feedback       string
	Message        string
	Escalation     *Escalation
	ShouldContinue bool
}

// Escalation is the payload surfaced to a human when a gate rejection
// escalates. It is persisted both on the project status and as its own
// record under .helix/escalations.
type Escalation struct {
	ProjectID string         `yaml:"project_id" json:"project_id"`
	PhaseID   string         `yaml:"phase_id" json:"phase_id"`
	GateType  string         `yaml:"gate_type" json:"gate_type"`
	Message   string         `yaml:"message" json:"message"`
	Details   map[string]any `yaml:"details,omitempty" json:"details,omitempty"`
	Channel   string         `yaml:"channel,omitempty" json:"channel,omitempty"`
	RaisedAt  string         `yaml:"raised_at" json:"raised_at"`
}
