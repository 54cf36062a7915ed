// Package runtime provides the PipelineRunner - pipeline orchestration engine.
//
// Control flow is an explicit transition function over the seven fixed
// stages plus the critic's re-entry loop. No shared mutable global: all
// state flows through the envelope, and the transition function is pure.
package runtime

import (
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/envelope"
)

// Decision is the transition function's verdict on what happens after a
// stage completes.
type Decision struct {
	// Next is the stage to run next; empty when Terminal is set.
	Next string
	// Reenter means the envelope must be sent back to intent (clearing
	// stage outputs 2-6) before running Next.
	Reenter bool
	// ReenterFocus carries the critic's suggested focus into the next cycle.
	ReenterFocus string
	// Terminal means the pipeline stops; Reason says why.
	Terminal bool
	Reason   envelope.TerminationReason
	// RunIntegration means integration still runs before the terminal event
	// (critic_rejected at the cycle limit produces a best-effort answer).
	RunIntegration bool
	// ClarificationQuestion is set when the pipeline terminates by asking
	// the user a question instead of answering.
	ClarificationQuestion string
}

// NextStage is the only legal source of CurrentStage mutations. It maps
// (completed stage, that stage's decoded output, cycle budget) to what runs
// next.
func NextStage(completed string, env *envelope.Envelope) Decision {
	switch completed {
	case envelope.StagePerception:
		return Decision{Next: envelope.StageIntent}

	case envelope.StageIntent:
		raw, ok := env.StageOutput(envelope.StageIntent)
		if ok {
			if intent, err := envelope.DecodeIntentOutput(raw); err == nil && intent.ClarificationRequired {
				return Decision{
					Terminal:              true,
					Reason:                envelope.TerminationCompleted,
					ClarificationQuestion: clarificationQuestion(intent),
				}
			}
		}
		return Decision{Next: envelope.StagePlanner}

	case envelope.StagePlanner:
		return Decision{Next: envelope.StageExecutor}

	case envelope.StageExecutor:
		return Decision{Next: envelope.StageSynthesizer}

	case envelope.StageSynthesizer:
		return Decision{Next: envelope.StageCritic}

	case envelope.StageCritic:
		raw, ok := env.StageOutput(envelope.StageCritic)
		if !ok {
			return Decision{Terminal: true, Reason: envelope.TerminationInternalError}
		}
		critic, err := envelope.DecodeCriticOutput(raw)
		if err != nil {
			return Decision{Terminal: true, Reason: envelope.TerminationInternalError}
		}

		switch critic.Verdict {
		case envelope.CriticApprove:
			return Decision{Next: envelope.StageIntegration}
		case envelope.CriticClarify:
			question := critic.Reason
			if question == "" {
				question = "Could you clarify what you are asking about?"
			}
			return Decision{
				Terminal:              true,
				Reason:                envelope.TerminationCompleted,
				ClarificationQuestion: question,
			}
		case envelope.CriticReject:
			if env.CanReenter() {
				return Decision{
					Next:         envelope.StageIntent,
					Reenter:      true,
					ReenterFocus: critic.SuggestedReintentFocus,
				}
			}
			return Decision{
				Terminal:       true,
				Reason:         envelope.TerminationCriticRejected,
				RunIntegration: true,
			}
		default:
			return Decision{Terminal: true, Reason: envelope.TerminationInternalError}
		}

	case envelope.StageIntegration:
		return Decision{Terminal: true, Reason: envelope.TerminationCompleted}

	default:
		return Decision{Terminal: true, Reason: envelope.TerminationInternalError}
	}
}

func clarificationQuestion(intent envelope.IntentOutput) string {
	if intent.ClarificationQuestion != "" {
		return intent.ClarificationQuestion
	}
	return "The question was empty or could not be understood. What would you like to know about the repository?"
}
