package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/agents"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/config"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/envelope"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/testutil"
)

func testDeps() Deps {
	return Deps{
		Exec:   config.DefaultExecutionConfig(),
		Logger: testutil.NewMockLogger(),
	}
}

// =============================================================================
// INTENT POST-HOOK
// =============================================================================

func TestIntentPost_ValidIntentPasses(t *testing.T) {
	env := envelope.New("r1", "", "q")
	output := map[string]any{
		"classified_intent": "find_symbol",
		"goals":             []any{"g"},
	}
	env.SetStageOutput(envelope.StageIntent, output)

	_, err := intentPost(testDeps())(env, output)
	require.NoError(t, err)
}

func TestIntentPost_UnknownIntentCoercedToSearch(t *testing.T) {
	env := envelope.New("r1", "", "q")
	output := map[string]any{
		"classified_intent": "hallucinate",
		"goals":             []any{"g"},
	}
	env.SetStageOutput(envelope.StageIntent, output)

	_, err := intentPost(testDeps())(env, output)
	require.NoError(t, err)

	raw, _ := env.StageOutput(envelope.StageIntent)
	intent, err := envelope.DecodeIntentOutput(raw)
	require.NoError(t, err)
	assert.Equal(t, envelope.IntentSearch, intent.ClassifiedIntent)
}

// =============================================================================
// PLANNER POST-HOOK: PLAN DISCIPLINE
// =============================================================================

func planOutput(steps ...map[string]any) map[string]any {
	anySteps := make([]any, len(steps))
	for i, s := range steps {
		anySteps[i] = s
	}
	return map[string]any{"steps": anySteps}
}

func searchStep(query string) map[string]any {
	return map[string]any{
		"tool_name": "search_code",
		"arguments": map[string]any{"query": query},
		"rationale": "search for " + query,
	}
}

func readStep(path string) map[string]any {
	return map[string]any{
		"tool_name": "read_code",
		"arguments": map[string]any{"path": path},
		"rationale": "read " + path,
	}
}

func TestPlannerPost_SearchOnlyPlanPasses(t *testing.T) {
	env := envelope.New("r1", "", "q")
	output := planOutput(searchStep("login"))
	env.SetStageOutput(envelope.StagePlanner, output)

	_, err := plannerPost(testDeps())(env, output)
	assert.NoError(t, err)
}

func TestPlannerPost_ReadAfterSearchInSamePlanPasses(t *testing.T) {
	env := envelope.New("r1", "", "q")
	output := planOutput(searchStep("login"), readStep("src/auth/login.py"))
	env.SetStageOutput(envelope.StagePlanner, output)

	_, err := plannerPost(testDeps())(env, output)
	assert.NoError(t, err)
}

func TestPlannerPost_ReadOfCitedPathPasses(t *testing.T) {
	env := envelope.New("r1", "", "q")
	env.AddCitation("src/auth/login.py:42")
	output := planOutput(readStep("src/auth/login.py"))
	env.SetStageOutput(envelope.StagePlanner, output)

	_, err := plannerPost(testDeps())(env, output)
	assert.NoError(t, err)
}

func TestPlannerPost_ColdPathReadFirstRejected(t *testing.T) {
	env := envelope.New("r1", "", "q")
	output := planOutput(readStep("src/auth/login.py"))
	env.SetStageOutput(envelope.StagePlanner, output)

	_, err := plannerPost(testDeps())(env, output)
	require.Error(t, err)
	var malformed *agents.ErrMalformedOutput
	assert.ErrorAs(t, err, &malformed)
}

func TestPlannerPost_UngroundedReadRejected(t *testing.T) {
	env := envelope.New("r1", "", "q")
	env.AddCitation("src/other.py:1") // warm path, but the wrong file
	output := planOutput(readStep("src/auth/login.py"))
	env.SetStageOutput(envelope.StagePlanner, output)

	_, err := plannerPost(testDeps())(env, output)
	require.Error(t, err)
}

func TestPlannerPost_UnknownToolRejected(t *testing.T) {
	env := envelope.New("r1", "", "q")
	output := planOutput(map[string]any{
		"tool_name": "write_code",
		"arguments": map[string]any{"path": "x"},
		"rationale": "nope",
	})
	env.SetStageOutput(envelope.StagePlanner, output)

	_, err := plannerPost(testDeps())(env, output)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write_code")
}

func TestPlannerPost_OversizedPlanTruncated(t *testing.T) {
	deps := testDeps()
	deps.Exec.MaxPlanSteps = 2

	env := envelope.New("r1", "", "q")
	output := planOutput(searchStep("a"), searchStep("b"), searchStep("c"))
	env.SetStageOutput(envelope.StagePlanner, output)

	_, err := plannerPost(deps)(env, output)
	require.NoError(t, err)

	raw, _ := env.StageOutput(envelope.StagePlanner)
	plan, err := envelope.DecodePlannerOutput(raw)
	require.NoError(t, err)
	assert.Len(t, plan.Steps, 2)
}

// =============================================================================
// CRITIC POST-HOOK: STRUCTURAL VALIDATION
// =============================================================================

func setSynthesizerClaims(t *testing.T, env *envelope.Envelope, claims ...envelope.Claim) {
	t.Helper()
	output, err := envelope.ToMap(envelope.SynthesizerOutput{Claims: claims})
	require.NoError(t, err)
	env.SetStageOutput(envelope.StageSynthesizer, output)
}

func TestCriticPost_SupportedClaimsApproved(t *testing.T) {
	env := envelope.New("r1", "", "q")
	env.AddCitation("src/a.py:1")
	setSynthesizerClaims(t, env, envelope.Claim{
		Text: "a", SupportingCitations: []string{"src/a.py:1"},
	})

	// The model disagrees; structure wins.
	llmOutput := map[string]any{"verdict": "reject", "reason": "looks wrong to me"}
	env.SetStageOutput(envelope.StageCritic, llmOutput)

	_, err := criticPost(testDeps())(env, llmOutput)
	require.NoError(t, err)

	raw, _ := env.StageOutput(envelope.StageCritic)
	critic, err := envelope.DecodeCriticOutput(raw)
	require.NoError(t, err)
	assert.Equal(t, envelope.CriticApprove, critic.Verdict)
}

func TestCriticPost_UnsupportedClaimRejected(t *testing.T) {
	env := envelope.New("r1", "", "q")
	env.AddCitation("src/a.py:1")
	setSynthesizerClaims(t, env, envelope.Claim{
		Text: "b", SupportingCitations: []string{"src/never_observed.py:9"},
	})

	llmOutput := map[string]any{
		"verdict":                  "approve",
		"reason":                   "seems fine",
		"suggested_reintent_focus": "never_observed",
	}
	env.SetStageOutput(envelope.StageCritic, llmOutput)

	_, err := criticPost(testDeps())(env, llmOutput)
	require.NoError(t, err)

	raw, _ := env.StageOutput(envelope.StageCritic)
	critic, err := envelope.DecodeCriticOutput(raw)
	require.NoError(t, err)
	assert.Equal(t, envelope.CriticReject, critic.Verdict)
	assert.Len(t, critic.UnsupportedClaims, 1)
	assert.Contains(t, critic.MissingEvidence, "src/never_observed.py:9")
	assert.Equal(t, "never_observed", critic.SuggestedReintentFocus)
}

func TestCriticPost_ClarifyPassesThrough(t *testing.T) {
	env := envelope.New("r1", "", "q")
	setSynthesizerClaims(t, env)

	llmOutput := map[string]any{"verdict": "clarify", "reason": "which subsystem?"}
	env.SetStageOutput(envelope.StageCritic, llmOutput)

	_, err := criticPost(testDeps())(env, llmOutput)
	require.NoError(t, err)

	raw, _ := env.StageOutput(envelope.StageCritic)
	critic, err := envelope.DecodeCriticOutput(raw)
	require.NoError(t, err)
	assert.Equal(t, envelope.CriticClarify, critic.Verdict)
}

func TestCriticPost_EmptyClaimsApprove(t *testing.T) {
	env := envelope.New("r1", "", "q")
	setSynthesizerClaims(t, env)

	llmOutput := map[string]any{"verdict": "approve", "reason": "nothing to verify"}
	env.SetStageOutput(envelope.StageCritic, llmOutput)

	_, err := criticPost(testDeps())(env, llmOutput)
	require.NoError(t, err)

	raw, _ := env.StageOutput(envelope.StageCritic)
	critic, err := envelope.DecodeCriticOutput(raw)
	require.NoError(t, err)
	assert.Equal(t, envelope.CriticApprove, critic.Verdict)
}

// =============================================================================
// INTEGRATION POST-HOOK: CITATION CLOSURE
// =============================================================================

func TestIntegrationPost_DropsUnobservedSources(t *testing.T) {
	env := envelope.New("r1", "", "q")
	env.AddCitation("src/a.py:1")

	output, err := envelope.ToMap(envelope.IntegrationOutput{
		FinalResponse: "answer [src/a.py:1]",
		CitedSources:  []string{"src/a.py:1", "src/invented.py:7"},
	})
	require.NoError(t, err)
	env.SetStageOutput(envelope.StageIntegration, output)

	_, err = integrationPost(testDeps())(env, output)
	require.NoError(t, err)

	raw, _ := env.StageOutput(envelope.StageIntegration)
	integration, err := envelope.DecodeIntegrationOutput(raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"src/a.py:1"}, integration.CitedSources)
}
