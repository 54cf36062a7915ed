package pipeline

import (
	"fmt"
	"path"
	"strings"

	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/agents"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/envelope"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/evidence"
)

// validIntents is the closed set the intent stage may emit.
var validIntents = map[envelope.IntentClass]bool{
	envelope.IntentFindSymbol: true,
	envelope.IntentTraceFlow:  true,
	envelope.IntentExplain:    true,
	envelope.IntentSearch:     true,
	envelope.IntentHistory:    true,
}

// intentPost validates the intent stage's parsed output. An unknown intent
// class is coerced to "search" rather than failing the request: exploration
// beats a hard error on a soft classification.
func intentPost(deps Deps) agents.OutputHook {
	return func(env *envelope.Envelope, output map[string]any) (*envelope.Envelope, error) {
		intent, err := envelope.DecodeIntentOutput(output)
		if err != nil {
			return env, &agents.ErrMalformedOutput{Stage: envelope.StageIntent, Cause: err}
		}

		if !validIntents[intent.ClassifiedIntent] {
			deps.Logger.Warning("intent_class_coerced",
				"request_id", env.RequestID,
				"got", string(intent.ClassifiedIntent),
			)
			output["classified_intent"] = string(envelope.IntentSearch)
			env.SetStageOutput(envelope.StageIntent, output)
		}

		return env, nil
	}
}

// plannerPost enforces the planner's contract on the parsed plan:
//   - steps may only name search_code or read_code;
//   - a read_code path must be grounded: surfaced by a prior search_code
//     in this or an earlier cycle, or preceded by a search_code in the
//     same plan;
//   - on a cold path (no prior citations, no session context) the first
//     step must be a search_code.
//
// Violations fail the stage: a plan outside the contract is malformed
// planner output.
func plannerPost(deps Deps) agents.OutputHook {
	return func(env *envelope.Envelope, output map[string]any) (*envelope.Envelope, error) {
		plan, err := envelope.DecodePlannerOutput(output)
		if err != nil {
			return env, &agents.ErrMalformedOutput{Stage: envelope.StagePlanner, Cause: err}
		}

		if len(plan.Steps) > deps.Exec.MaxPlanSteps {
			plan.Steps = plan.Steps[:deps.Exec.MaxPlanSteps]
			deps.Logger.Warning("plan_truncated",
				"request_id", env.RequestID,
				"max_steps", deps.Exec.MaxPlanSteps,
			)
			trimmed, mapErr := envelope.ToMap(plan)
			if mapErr != nil {
				return env, mapErr
			}
			env.SetStageOutput(envelope.StagePlanner, trimmed)
		}

		if err := validatePlanDiscipline(env, plan); err != nil {
			return env, &agents.ErrMalformedOutput{Stage: envelope.StagePlanner, Cause: err}
		}

		return env, nil
	}
}

// validatePlanDiscipline implements the search-first rules.
func validatePlanDiscipline(env *envelope.Envelope, plan envelope.PlannerOutput) error {
	knownPaths := citationPaths(env.Citations())
	coldPath := len(knownPaths) == 0 && sessionDigest(env) == ""

	searchSeen := false
	for i, step := range plan.Steps {
		switch step.ToolName {
		case envelope.ToolSearchCode:
			searchSeen = true
		case envelope.ToolReadCode:
			if i == 0 && coldPath {
				return fmt.Errorf("first step on a cold path must be search_code, got read_code")
			}
			p, _ := step.Arguments["path"].(string)
			if p == "" {
				return fmt.Errorf("step %d: read_code requires a path argument", i)
			}
			if !searchSeen && !knownPaths[p] {
				return fmt.Errorf("step %d: read_code path %q was not surfaced by any search_code", i, p)
			}
		default:
			return fmt.Errorf("step %d: unknown tool %q; only search_code and read_code are plannable", i, step.ToolName)
		}
	}
	return nil
}

func citationPaths(citations []string) map[string]bool {
	paths := make(map[string]bool, len(citations))
	for _, c := range citations {
		if idx := strings.LastIndex(c, ":"); idx > 0 {
			paths[c[:idx]] = true
			// A bare filename is enough to justify a read: the planner may
			// cite either form.
			paths[path.Base(c[:idx])] = true
		}
	}
	return paths
}

func sessionDigest(env *envelope.Envelope) string {
	raw, ok := env.StageOutput(envelope.StagePerception)
	if !ok {
		return ""
	}
	perception, err := envelope.DecodePerceptionOutput(raw)
	if err != nil {
		return ""
	}
	return perception.SessionContextDigest
}

// synthesizerPost validates the synthesizer's parsed claims. Claims are
// allowed to be empty (an honest "no evidence found"); claims with empty
// citation lists stay - the critic, not the synthesizer hook, judges them.
func synthesizerPost(deps Deps) agents.OutputHook {
	return func(env *envelope.Envelope, output map[string]any) (*envelope.Envelope, error) {
		if _, err := envelope.DecodeSynthesizerOutput(output); err != nil {
			return env, &agents.ErrMalformedOutput{Stage: envelope.StageSynthesizer, Cause: err}
		}
		return env, nil
	}
}

// criticPost replaces the LLM's supportedness judgement with the structural
// one: a claim is supported iff every cited path:line appears in the
// envelope's accumulated citation set. The LLM contributes only the clarify
// verdict, the prose reason, and the suggested re-entry focus.
func criticPost(deps Deps) agents.OutputHook {
	return func(env *envelope.Envelope, output map[string]any) (*envelope.Envelope, error) {
		llmView, err := envelope.DecodeCriticOutput(output)
		if err != nil {
			return env, &agents.ErrMalformedOutput{Stage: envelope.StageCritic, Cause: err}
		}

		rawSynth, ok := env.StageOutput(envelope.StageSynthesizer)
		if !ok {
			return env, fmt.Errorf("critic ran without synthesizer output")
		}
		synth, err := envelope.DecodeSynthesizerOutput(rawSynth)
		if err != nil {
			return env, fmt.Errorf("decoding synthesizer output: %w", err)
		}

		// Clarify passes through: the model is telling us the question,
		// not the evidence, is the problem.
		if llmView.Verdict == envelope.CriticClarify {
			return env, nil
		}

		verdict, unsupported, missing := evidence.Validate(synth.Claims, env.Citations())
		structural := evidence.BuildCriticOutput(verdict, unsupported, missing, llmView.SuggestedReintentFocus)
		if llmView.Reason != "" {
			structural.Reason = llmView.Reason + " (" + structural.Reason + ")"
		}

		merged, err := envelope.ToMap(structural)
		if err != nil {
			return env, err
		}
		env.SetStageOutput(envelope.StageCritic, merged)

		deps.Logger.Info("critic_verdict",
			"request_id", env.RequestID,
			"verdict", string(structural.Verdict),
			"unsupported", len(structural.UnsupportedClaims),
			"cycle", env.ReintentCycles,
		)

		return env, nil
	}
}

// integrationPost validates the LLM-worded integration output and enforces
// citation closure on it: cited sources outside the accumulated set are
// dropped.
func integrationPost(deps Deps) agents.OutputHook {
	return func(env *envelope.Envelope, output map[string]any) (*envelope.Envelope, error) {
		integration, err := envelope.DecodeIntegrationOutput(output)
		if err != nil {
			return env, &agents.ErrMalformedOutput{Stage: envelope.StageIntegration, Cause: err}
		}

		var kept []string
		for _, c := range integration.CitedSources {
			if env.HasCitation(c) {
				kept = append(kept, c)
			}
		}
		if len(kept) != len(integration.CitedSources) {
			integration.CitedSources = kept
			cleaned, mapErr := envelope.ToMap(integration)
			if mapErr != nil {
				return env, mapErr
			}
			env.SetStageOutput(envelope.StageIntegration, cleaned)
		}

		return env, nil
	}
}
