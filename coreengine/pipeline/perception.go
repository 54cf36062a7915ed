package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/agents"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/envelope"
)

// intentHintKeywords maps query vocabulary to intent hints. Perception only
// hints; intent classification belongs to the intent stage.
var intentHintKeywords = map[string]string{
	"where":   string(envelope.IntentFindSymbol),
	"defined": string(envelope.IntentFindSymbol),
	"definition": string(envelope.IntentFindSymbol),
	"how":     string(envelope.IntentExplain),
	"why":     string(envelope.IntentExplain),
	"explain": string(envelope.IntentExplain),
	"flow":    string(envelope.IntentTraceFlow),
	"calls":   string(envelope.IntentTraceFlow),
	"trace":   string(envelope.IntentTraceFlow),
	"history": string(envelope.IntentHistory),
	"changed": string(envelope.IntentHistory),
	"commit":  string(envelope.IntentHistory),
	"find":    string(envelope.IntentSearch),
	"search":  string(envelope.IntentSearch),
	"list":    string(envelope.IntentSearch),
}

// perceptionCore is the perception stage: a pure function of (query,
// session_state). It trims the query, derives intent hints, and digests any
// persisted session state. No LLM.
func perceptionCore(deps Deps) agents.CoreFunc {
	return func(ctx context.Context, env *envelope.Envelope) (map[string]any, error) {
		normalized := strings.Join(strings.Fields(env.Query), " ")

		hints := deriveIntentHints(normalized)

		digest := ""
		if deps.Sessions != nil && env.SessionID != "" {
			if state, err := deps.Sessions.LoadState(ctx, env.SessionID); err == nil && len(state) > 0 {
				digest = digestSession(state)
			}
		}

		output, err := envelope.ToMap(envelope.PerceptionOutput{
			NormalizedQuery:      normalized,
			IntentHints:          hints,
			SessionContextDigest: digest,
		})
		if err != nil {
			return nil, err
		}
		return output, nil
	}
}

func deriveIntentHints(query string) []string {
	lower := strings.ToLower(query)
	seen := make(map[string]bool)
	var hints []string
	for _, word := range strings.Fields(lower) {
		word = strings.Trim(word, "?.,!:;\"'")
		if hint, ok := intentHintKeywords[word]; ok && !seen[hint] {
			seen[hint] = true
			hints = append(hints, hint)
		}
	}
	return hints
}

// digestSession reduces a persisted envelope snapshot to a one-line digest.
// The full prior state never enters a prompt; only this summary does.
func digestSession(state []byte) string {
	var prior envelope.Envelope
	if err := prior.UnmarshalJSON(state); err != nil {
		return ""
	}
	cites := prior.Citations()
	if prior.Query == "" && len(cites) == 0 {
		return ""
	}
	digest := fmt.Sprintf("previous question: %q", prior.Query)
	if len(cites) > 0 {
		shown := cites
		if len(shown) > 5 {
			shown = shown[:5]
		}
		digest += "; known locations: " + strings.Join(shown, ", ")
	}
	return digest
}
