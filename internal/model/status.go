package model

import "time"

// PhaseStatus is the persisted record of one phase within status.yaml.
// Timestamps are UTC RFC3339 strings; pointers distinguish "never
// happened" from zero values.
type PhaseStatus struct {
	State           PhaseState `yaml:"state" json:"state"`
	StartedAt       *string    `yaml:"started_at" json:"started_at"`
	CompletedAt     *string    `yaml:"completed_at" json:"completed_at"`
	DurationSeconds float64    `yaml:"duration_seconds" json:"duration_seconds"`
	Retries         int        `yaml:"retries" json:"retries"`
	Error           *string    `yaml:"error" json:"error"`
	OutputFiles     []string   `yaml:"output_files,omitempty" json:"output_files,omitempty"`
}

// ProjectStatus is the full persisted run state, written atomically to
// .helix/status.yaml after every transition.
type ProjectStatus struct {
	SchemaVersion   int                     `yaml:"schema_version" json:"schema_version"`
	FileType        string                  `yaml:"file_type" json:"file_type"`
	ProjectID       string                  `yaml:"project_id" json:"project_id"`
	RunID           string                  `yaml:"run_id,omitempty" json:"run_id,omitempty"`
	State           ProjectState            `yaml:"state" json:"state"`
	TotalPhases     int                     `yaml:"total_phases" json:"total_phases"`
	CompletedPhases int                     `yaml:"completed_phases" json:"completed_phases"`
	Error           *string                 `yaml:"error" json:"error"`
	UpdatedAt       string                  `yaml:"updated_at,omitempty" json:"updated_at,omitempty"`
	Phases          map[string]*PhaseStatus `yaml:"phases" json:"phases"`
	Escalation      *Escalation             `yaml:"escalation,omitempty" json:"escalation,omitempty"`
}

// NewProjectStatus builds the initial pending status for a declared
// plan, one pending phase record per declaration.
func NewProjectStatus(projectID string, decls []PhaseDeclaration) *ProjectStatus {
	st := &ProjectStatus{
		ProjectID:   projectID,
		State:       ProjectStatePending,
		TotalPhases: len(decls),
		Phases:      make(map[string]*PhaseStatus, len(decls)),
	}
	for _, d := range decls {
		st.Phases[d.ID] = &PhaseStatus{State: PhaseStatePending}
	}
	return st
}

// EnsurePhase returns the record for id, creating a pending one when the
// plan grew since the status was written.
func (s *ProjectStatus) EnsurePhase(id string) *PhaseStatus {
	if s.Phases == nil {
		s.Phases = make(map[string]*PhaseStatus)
	}
	ph, ok := s.Phases[id]
	if !ok {
		ph = &PhaseStatus{State: PhaseStatePending}
		s.Phases[id] = ph
	}
	return ph
}

// Recount refreshes the derived counters from the phase map. A skipped
// phase counts as accounted-for progress just like a completed one.
func (s *ProjectStatus) Recount() {
	s.TotalPhases = len(s.Phases)
	n := 0
	for _, ph := range s.Phases {
		if ph.State == PhaseStateCompleted || ph.State == PhaseStateSkipped {
			n++
		}
	}
	s.CompletedPhases = n
}

// AllPhasesDone reports whether every phase reached completed or
// skipped, the precondition for marking the project completed.
func (s *ProjectStatus) AllPhasesDone() bool {
	for _, ph := range s.Phases {
		if ph.State != PhaseStateCompleted && ph.State != PhaseStateSkipped {
			return false
		}
	}
	return true
}

// Reset clears a phase record back to a fresh pending entry, keeping
// the accumulated retry count.
func (p *PhaseStatus) Reset() {
	retries := p.Retries
	*p = PhaseStatus{State: PhaseStatePending, Retries: retries}
}

// NowUTC is the canonical timestamp format persisted in engine files.
func NowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// StringPtr adapts a literal for the nullable string fields above.
func StringPtr(s string) *string {
	return &s
}
