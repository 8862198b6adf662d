// Package reject turns a failed quality gate into an orchestration
// decision: retry an earlier phase, skip, fail the project, or
// escalate to a human.
package reject

import (
	"fmt"

	"github.com/uke16/Helix-sub002/internal/model"
)

// Decide maps a gate rejection to the action the run should take.
// currentRetry is how many gate-driven retries the phase has already
// consumed. Decide never returns nil.
func Decide(phaseID string, gr *model.GateResult, rc *model.RejectionConfig, currentRetry int) *model.RejectionResult {
	if rc == nil {
		return fail(fmt.Sprintf("quality gate %s rejected phase %s and no on_rejection handler is declared: %s",
			gr.GateType, phaseID, gr.Message))
	}

	switch rc.Action {
	case model.ActionRetry:
		maxRetries := rc.EffectiveMaxRetries()
		if currentRetry >= maxRetries {
			return fail(fmt.Sprintf("phase %s: retry limit reached (%d/%d), last rejection: %s",
				phaseID, currentRetry, maxRetries, gr.Message))
		}
		if rc.TargetPhase == "" {
			return fail(fmt.Sprintf("phase %s: on_rejection declares retry without a target_phase", phaseID))
		}
		return &model.RejectionResult{
			Action:         model.ActionRetry,
			TargetPhase:    rc.TargetPhase,
			Feedback:       BuildFeedback(gr, rc.FeedbackTemplate),
			Message:        fmt.Sprintf("retrying from phase %s (%d/%d): %s", rc.TargetPhase, currentRetry+1, maxRetries, gr.Message),
			ShouldContinue: true,
		}

	case model.ActionSkip:
		return &model.RejectionResult{
			Action:         model.ActionSkip,
			Message:        fmt.Sprintf("phase %s skipped after rejection: %s", phaseID, gr.Message),
			ShouldContinue: true,
		}

	case model.ActionEscalate:
		return &model.RejectionResult{
			Action:  model.ActionEscalate,
			Message: fmt.Sprintf("phase %s escalated for human review: %s", phaseID, gr.Message),
			Escalation: &model.Escalation{
				PhaseID:  phaseID,
				GateType: gr.GateType,
				Message:  gr.Message,
				Details:  gr.Details,
				Channel:  rc.EscalationChannel,
				RaisedAt: model.NowUTC(),
			},
			ShouldContinue: false,
		}

	case model.ActionFail:
		return fail(fmt.Sprintf("phase %s failed its quality gate: %s", phaseID, gr.Message))

	default:
		return fail(fmt.Sprintf("phase %s: unknown on_rejection action %q, failing project", phaseID, rc.Action))
	}
}

func fail(msg string) *model.RejectionResult {
	return &model.RejectionResult{
		Action:         model.ActionFail,
		Message:        msg,
		ShouldContinue: false,
	}
}
