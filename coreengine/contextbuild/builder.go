// Package contextbuild assembles the bounded LLM inputs for each pipeline
// stage from prior envelope state.
//
// Every LLM stage gets a builder that selects only the prior outputs that
// stage needs, compacts tool results down to capped snippets, and inlines a
// literal listing of accumulated citations where validation depends on it.
// The snippet caps are what keep a long exploration inside the provider's
// context window.
package contextbuild

import (
	"fmt"
	"strings"

	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/config"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/envelope"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/typeutil"
)

// TokenCounter counts tokens for prompt budgeting.
type TokenCounter interface {
	Count(text string) int
}

// Builder produces per-stage prompt inputs.
type Builder struct {
	exec    *config.ExecutionConfig
	counter TokenCounter
}

// NewBuilder creates a context builder with the given bounds. A nil counter
// falls back to a character heuristic for budget reporting only.
func NewBuilder(exec *config.ExecutionConfig, counter TokenCounter) *Builder {
	if exec == nil {
		exec = config.DefaultExecutionConfig()
	}
	return &Builder{exec: exec, counter: counter}
}

// =============================================================================
// TOOL RESULT SUMMARIZATION
// =============================================================================

// ToolResultSummary is the compacted form of one tool result: status plus at
// most MaxItemsPerToolCall snippets of at most MaxSnippetChars characters.
type ToolResultSummary struct {
	Tool     string   `json:"tool"`
	Status   string   `json:"status"`
	FoundVia string   `json:"found_via,omitempty"`
	Snippets []string `json:"snippets,omitempty"`
}

// SummarizeToolResult compacts one tool result for prompt inclusion.
func (b *Builder) SummarizeToolResult(result envelope.ToolResult) ToolResultSummary {
	summary := ToolResultSummary{
		Tool:     string(result.Tool),
		Status:   string(result.Status),
		FoundVia: result.FoundVia,
	}

	data, ok := typeutil.SafeMapStringAny(result.Data)
	if !ok {
		return summary
	}

	maxItems := b.exec.MaxItemsPerToolCall
	maxChars := b.exec.MaxSnippetChars

	// search_code: one snippet per match.
	if matches, ok := typeutil.SafeSlice(data["matches"]); ok {
		for _, m := range matches {
			if len(summary.Snippets) >= maxItems {
				break
			}
			match, ok := typeutil.SafeMapStringAny(m)
			if !ok {
				continue
			}
			path := typeutil.SafeStringDefault(match["path"], "")
			line := typeutil.SafeIntDefault(match["line"], 0)
			snippet := typeutil.SafeStringDefault(match["snippet"], "")
			summary.Snippets = append(summary.Snippets,
				clip(fmt.Sprintf("%s:%d %s", path, line, snippet), maxChars))
		}
		return summary
	}

	// read_code: one snippet for the slice.
	if text, ok := typeutil.SafeString(data["text"]); ok {
		path := typeutil.SafeStringDefault(data["path"], "")
		line := typeutil.SafeIntDefault(data["start_line"], 0)
		summary.Snippets = append(summary.Snippets,
			clip(fmt.Sprintf("%s:%d\n%s", path, line, text), maxChars))
		return summary
	}

	// read_code miss with candidates: list them.
	if candidates, ok := typeutil.SafeStringSlice(data["candidates"]); ok {
		for _, c := range candidates {
			if len(summary.Snippets) >= maxItems {
				break
			}
			summary.Snippets = append(summary.Snippets, clip(c, maxChars))
		}
	}

	return summary
}

// summarizeExecutor compacts the whole executor output for prompt inclusion.
func (b *Builder) summarizeExecutor(env *envelope.Envelope) []ToolResultSummary {
	raw, ok := env.StageOutput(envelope.StageExecutor)
	if !ok {
		return nil
	}
	out, err := envelope.DecodeExecutorOutput(raw)
	if err != nil {
		return nil
	}
	summaries := make([]ToolResultSummary, 0, len(out.Results))
	for _, r := range out.Results {
		summaries = append(summaries, b.SummarizeToolResult(r))
	}
	return summaries
}

// =============================================================================
// PER-STAGE BUILDERS
// =============================================================================

// IntentPrompt builds the intent stage input: the normalized query plus, on
// re-entry, the critic's suggested focus. Nothing else.
func (b *Builder) IntentPrompt(env *envelope.Envelope) (string, error) {
	var sb strings.Builder

	sb.WriteString("Classify the intent of this question about a source repository.\n")
	sb.WriteString("Intents: find_symbol, trace_flow, explain, search, history.\n")
	sb.WriteString("Set clarification_required only for empty or incomprehensible input; otherwise explore first.\n\n")

	query := env.Query
	if raw, ok := env.StageOutput(envelope.StagePerception); ok {
		if perception, err := envelope.DecodePerceptionOutput(raw); err == nil && perception.NormalizedQuery != "" {
			query = perception.NormalizedQuery
			if perception.SessionContextDigest != "" {
				sb.WriteString("Session context: " + clip(perception.SessionContextDigest, b.exec.MaxSnippetChars) + "\n")
			}
		}
	}
	sb.WriteString("Question: " + query + "\n")

	if focus := env.ReintentFocus(); focus != "" {
		sb.WriteString("\nA previous attempt lacked evidence. Refocus on: " + focus + "\n")
	}

	sb.WriteString("\nRespond as JSON: {\"classified_intent\": ..., \"goals\": [...], \"ambiguities\": [...], \"clarification_required\": bool, \"clarification_question\": \"...\"}\n")
	return sb.String(), nil
}

// PlannerPrompt builds the planner input: the classified intent and goals,
// a summary of any executor results stored in the envelope, and the known
// citation locations. Re-entry clears the executor output, so results of an
// earlier cycle reach the planner only through the citation list.
func (b *Builder) PlannerPrompt(env *envelope.Envelope) (string, error) {
	raw, ok := env.StageOutput(envelope.StageIntent)
	if !ok {
		return "", fmt.Errorf("planner context requires intent output")
	}
	intent, err := envelope.DecodeIntentOutput(raw)
	if err != nil {
		return "", fmt.Errorf("decoding intent output: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("Plan a sequence of read-only tool calls to answer this question.\n")
	sb.WriteString("Available tools: search_code(query, scope?, kind?), read_code(path, start_line?, end_line?).\n")
	sb.WriteString("Rules: never read_code a path that no prior search_code surfaced, either earlier in this request or earlier in this plan. Begin with search_code when no prior results exist.\n\n")

	sb.WriteString("Intent: " + string(intent.ClassifiedIntent) + "\n")
	sb.WriteString("Goals:\n")
	for _, goal := range intent.Goals {
		sb.WriteString("- " + goal + "\n")
	}

	if summaries := b.summarizeExecutor(env); len(summaries) > 0 {
		sb.WriteString("\nEarlier tool results:\n")
		writeSummaries(&sb, summaries)
	}
	if cites := env.Citations(); len(cites) > 0 {
		sb.WriteString("\nKnown locations:\n")
		for _, c := range capStrings(cites, b.exec.MaxItemsPerToolCall) {
			sb.WriteString("- " + c + "\n")
		}
	}

	sb.WriteString(fmt.Sprintf("\nContext budget remaining: %d tokens.\n", b.remainingBudget(env)))
	sb.WriteString(fmt.Sprintf("Emit at most %d steps as JSON: {\"steps\": [{\"tool_name\": ..., \"arguments\": {...}, \"rationale\": ..., \"goal\": ...}], \"context_budget_remaining\": int}\n", b.exec.MaxPlanSteps))
	return sb.String(), nil
}

// remainingBudget estimates how much of the tool-derived token budget the
// plan may still spend, from the executor summaries already accumulated.
func (b *Builder) remainingBudget(env *envelope.Envelope) int {
	spent := 0
	for _, summary := range b.summarizeExecutor(env) {
		for _, snippet := range summary.Snippets {
			if b.counter != nil {
				spent += b.counter.Count(snippet)
			} else {
				spent += len(snippet) / 4
			}
		}
	}
	remaining := b.exec.MaxTotalCodeTokens - spent
	if remaining < 0 {
		return 0
	}
	return remaining
}

// SynthesizerPrompt builds the synthesizer input: the plan plus executor
// snippets plus the citation set claims must draw from.
func (b *Builder) SynthesizerPrompt(env *envelope.Envelope) (string, error) {
	var sb strings.Builder
	sb.WriteString("Write factual claims answering the question, each supported by path:line citations drawn ONLY from the evidence below.\n\n")
	sb.WriteString("Question: " + env.Query + "\n")

	if raw, ok := env.StageOutput(envelope.StagePlanner); ok {
		if plan, err := envelope.DecodePlannerOutput(raw); err == nil {
			sb.WriteString("\nPlan executed:\n")
			for _, step := range plan.Steps {
				sb.WriteString(fmt.Sprintf("- %s: %s\n", step.ToolName, step.Rationale))
			}
		}
	}

	summaries := b.summarizeExecutor(env)
	if len(summaries) > 0 {
		sb.WriteString("\nEvidence:\n")
		writeSummaries(&sb, summaries)
	}

	sb.WriteString("\nCitable locations:\n")
	for _, c := range env.Citations() {
		sb.WriteString("- " + c + "\n")
	}

	sb.WriteString("\nRespond as JSON: {\"claims\": [{\"text\": ..., \"supporting_citations\": [\"path:line\", ...]}]}\n")
	sb.WriteString("If the evidence does not answer the question, emit no claims.\n")
	return sb.String(), nil
}

// CriticPrompt builds the critic input: the claims plus a literal listing of
// the cumulative citation set, so validation is self-contained.
func (b *Builder) CriticPrompt(env *envelope.Envelope) (string, error) {
	raw, ok := env.StageOutput(envelope.StageSynthesizer)
	if !ok {
		return "", fmt.Errorf("critic context requires synthesizer output")
	}
	synth, err := envelope.DecodeSynthesizerOutput(raw)
	if err != nil {
		return "", fmt.Errorf("decoding synthesizer output: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("Validate these claims. A claim is supported only if every cited path:line appears in the observed evidence list below. A claim with no citations is unsupported.\n\n")

	sb.WriteString("Claims:\n")
	for i, claim := range synth.Claims {
		sb.WriteString(fmt.Sprintf("%d. %s [%s]\n", i+1, claim.Text, strings.Join(claim.SupportingCitations, ", ")))
	}

	sb.WriteString("\nObserved evidence (cumulative, all cycles):\n")
	for _, c := range env.Citations() {
		sb.WriteString("- " + c + "\n")
	}

	sb.WriteString("\nRespond as JSON: {\"verdict\": \"approve\"|\"reject\"|\"clarify\", \"unsupported_claims\": [...], \"missing_evidence\": [...], \"reason\": ..., \"suggested_reintent_focus\": \"...\"}\n")
	return sb.String(), nil
}

// IntegrationPrompt builds the optional integration-stage input: everything,
// summarized.
func (b *Builder) IntegrationPrompt(env *envelope.Envelope) (string, error) {
	var sb strings.Builder
	sb.WriteString("Format the final answer. Place an inline [path:line] citation after every factual statement, then list cited sources.\n\n")
	sb.WriteString("Question: " + env.Query + "\n")

	if raw, ok := env.StageOutput(envelope.StageSynthesizer); ok {
		if synth, err := envelope.DecodeSynthesizerOutput(raw); err == nil {
			sb.WriteString("\nVerified claims:\n")
			for _, claim := range synth.Claims {
				sb.WriteString(fmt.Sprintf("- %s [%s]\n", claim.Text, strings.Join(claim.SupportingCitations, ", ")))
			}
		}
	}
	if raw, ok := env.StageOutput(envelope.StageCritic); ok {
		if critic, err := envelope.DecodeCriticOutput(raw); err == nil && len(critic.UnsupportedClaims) > 0 {
			sb.WriteString("\nUnverified claims (qualify these explicitly):\n")
			for _, claim := range critic.UnsupportedClaims {
				sb.WriteString("- " + claim.Text + "\n")
			}
		}
	}

	sb.WriteString("\nCited sources:\n")
	for _, c := range env.Citations() {
		sb.WriteString("- " + c + "\n")
	}

	sb.WriteString("\nRespond as JSON: {\"final_response\": ..., \"cited_sources\": [...]}\n")
	return sb.String(), nil
}

// =============================================================================
// HELPERS
// =============================================================================

func writeSummaries(sb *strings.Builder, summaries []ToolResultSummary) {
	for _, s := range summaries {
		line := fmt.Sprintf("[%s %s", s.Tool, s.Status)
		if s.FoundVia != "" {
			line += " via " + s.FoundVia
		}
		sb.WriteString(line + "]\n")
		for _, snippet := range s.Snippets {
			sb.WriteString("  " + strings.ReplaceAll(snippet, "\n", "\n  ") + "\n")
		}
	}
}

func clip(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max]
}

func capStrings(in []string, max int) []string {
	if max <= 0 || len(in) <= max {
		return in
	}
	return in[:max]
}
