package envelope

import "encoding/json"

// Stage outputs are structured, JSON-round-trippable values, one per stage
// name in Envelope.StageOutputs. They are finite tagged unions in spirit:
// callers switch on OutputKind() rather than relying on type assertions alone.

// PerceptionOutput is Perception's sole output. Perception is a pure function
// of (query, session_state); it never calls the LLM.
type PerceptionOutput struct {
	NormalizedQuery       string `json:"normalized_query"`
	IntentHints           []string `json:"intent_hints,omitempty"`
	SessionContextDigest  string `json:"session_context_digest,omitempty"`
}

func (PerceptionOutput) OutputKind() string { return StagePerception }

// IntentOutput is Intent's output: classification, goals, and ambiguity flags.
type IntentOutput struct {
	ClassifiedIntent       IntentClass `json:"classified_intent"`
	Goals                  []string    `json:"goals"`
	Ambiguities            []string    `json:"ambiguities,omitempty"`
	ClarificationRequired  bool        `json:"clarification_required"`
	ClarificationQuestion  string      `json:"clarification_question,omitempty"`
}

func (IntentOutput) OutputKind() string { return StageIntent }

// PlanStep is one planner-emitted tool invocation.
type PlanStep struct {
	ToolName  ToolName       `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
	Rationale string         `json:"rationale"`
	Goal      string         `json:"goal,omitempty"`
}

// PlannerOutput is Planner's output: an ordered tool-invocation plan.
type PlannerOutput struct {
	Steps                 []PlanStep `json:"steps"`
	ContextBudgetRemaining int       `json:"context_budget_remaining"`
}

func (PlannerOutput) OutputKind() string { return StagePlanner }

// ToolResult is the outcome of one tool invocation, per the composed-tool
// contract in the tool layer. Status is a finite tagged union.
type ToolResult struct {
	Tool           ToolName        `json:"tool"`
	Status         ToolStatus      `json:"status"`
	FoundVia       string          `json:"found_via,omitempty"`
	Data           any             `json:"data,omitempty"`
	AttemptHistory []AttemptRecord `json:"attempt_history"`
	Citations      []string        `json:"citations,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// ExecutorOutput is Executor's output: the ordered list of tool results for
// this cycle's plan.
type ExecutorOutput struct {
	Results []ToolResult `json:"results"`
}

func (ExecutorOutput) OutputKind() string { return StageExecutor }

// Claim is one synthesizer-produced factual statement with its citations.
type Claim struct {
	Text                string   `json:"text"`
	SupportingCitations []string `json:"supporting_citations"`
}

// SynthesizerOutput is Synthesizer's output: claims, each citing evidence.
type SynthesizerOutput struct {
	Claims []Claim `json:"claims"`
}

func (SynthesizerOutput) OutputKind() string { return StageSynthesizer }

// CriticOutput is Critic's output: the verdict plus supporting detail used
// either to drive re-entry or to qualify the final answer.
type CriticOutput struct {
	Verdict                CriticVerdict `json:"verdict"`
	UnsupportedClaims      []Claim       `json:"unsupported_claims,omitempty"`
	MissingEvidence        []string      `json:"missing_evidence,omitempty"`
	Reason                 string        `json:"reason"`
	SuggestedReintentFocus string        `json:"suggested_reintent_focus,omitempty"`
}

func (CriticOutput) OutputKind() string { return StageCritic }

// IntegrationOutput is Integration's output: the final, citation-anchored answer.
type IntegrationOutput struct {
	FinalResponse string   `json:"final_response"`
	CitedSources  []string `json:"cited_sources"`
}

func (IntegrationOutput) OutputKind() string { return StageIntegration }

// StageOutput is implemented by every stage output type, giving the runtime
// an exhaustive switch target instead of ad hoc type assertions.
type StageOutput interface {
	OutputKind() string
}

// Stage outputs are stored in the envelope as the raw JSON-shaped maps the
// stages produced, so persistence and replay round-trip without a schema.
// The decode helpers below convert a stored map into its typed form for the
// consumers that need structure: the transition function, the critic, the
// context builders.

func decodeOutput(raw any, target any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}

// DecodePerceptionOutput converts a stored perception output map.
func DecodePerceptionOutput(raw any) (PerceptionOutput, error) {
	var out PerceptionOutput
	err := decodeOutput(raw, &out)
	return out, err
}

// DecodeIntentOutput converts a stored intent output map.
func DecodeIntentOutput(raw any) (IntentOutput, error) {
	var out IntentOutput
	err := decodeOutput(raw, &out)
	return out, err
}

// DecodePlannerOutput converts a stored planner output map.
func DecodePlannerOutput(raw any) (PlannerOutput, error) {
	var out PlannerOutput
	err := decodeOutput(raw, &out)
	return out, err
}

// DecodeExecutorOutput converts a stored executor output map.
func DecodeExecutorOutput(raw any) (ExecutorOutput, error) {
	var out ExecutorOutput
	err := decodeOutput(raw, &out)
	return out, err
}

// DecodeSynthesizerOutput converts a stored synthesizer output map.
func DecodeSynthesizerOutput(raw any) (SynthesizerOutput, error) {
	var out SynthesizerOutput
	err := decodeOutput(raw, &out)
	return out, err
}

// DecodeCriticOutput converts a stored critic output map.
func DecodeCriticOutput(raw any) (CriticOutput, error) {
	var out CriticOutput
	err := decodeOutput(raw, &out)
	return out, err
}

// DecodeIntegrationOutput converts a stored integration output map.
func DecodeIntegrationOutput(raw any) (IntegrationOutput, error) {
	var out IntegrationOutput
	err := decodeOutput(raw, &out)
	return out, err
}

// ToMap converts a typed stage output into its stored map form.
func ToMap(output StageOutput) (map[string]any, error) {
	data, err := json.Marshal(output)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

var (
	_ StageOutput = PerceptionOutput{}
	_ StageOutput = IntentOutput{}
	_ StageOutput = PlannerOutput{}
	_ StageOutput = ExecutorOutput{}
	_ StageOutput = SynthesizerOutput{}
	_ StageOutput = CriticOutput{}
	_ StageOutput = IntegrationOutput{}
)
