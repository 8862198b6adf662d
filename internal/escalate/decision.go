package escalate

import (
	"fmt"

	"github.com/uke16/Helix-sub002/internal/model"
)

// ApplyDecision mutates project status according to a resolved record:
// retry re-queues the escalated phase, skip marks it skipped, fail
// ends the project. The caller persists the status afterwards.
func ApplyDecision(st *model.ProjectStatus, rec *Record) error {
	if rec.Status != StatusResolved {
		return fmt.Errorf("escalation for phase %s is still pending", rec.Escalation.PhaseID)
	}

	phaseID := rec.Escalation.PhaseID
	ph, ok := st.Phases[phaseID]
	if !ok {
		return fmt.Errorf("escalated phase %s not found in project %s", phaseID, st.ProjectID)
	}

	switch rec.Decision {
	case DecisionRetry:
		if err := model.ValidatePhaseTransition(ph.State, model.PhaseStatePending); err != nil {
			return fmt.Errorf("re-queue phase %s: %w", phaseID, err)
		}
		ph.Reset()

	case DecisionSkip:
		if err := model.ValidatePhaseTransition(ph.State, model.PhaseStateSkipped); err != nil {
			return fmt.Errorf("skip phase %s: %w", phaseID, err)
		}
		ph.State = model.PhaseStateSkipped
		ph.CompletedAt = model.StringPtr(model.NowUTC())

	case DecisionFail:
		if err := model.ValidateProjectTransition(st.State, model.ProjectStateFailed); err != nil {
			return fmt.Errorf("fail project %s: %w", st.ProjectID, err)
		}
		st.State = model.ProjectStateFailed
		st.Error = model.StringPtr(fmt.Sprintf("escalation on phase %s resolved as fail", phaseID))

	default:
		return fmt.Errorf("unknown decision %q on escalation for phase %s", rec.Decision, phaseID)
	}

	st.Escalation = nil
	st.Recount()
	return nil
}
