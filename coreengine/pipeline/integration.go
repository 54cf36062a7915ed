package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/agents"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/envelope"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/typeutil"
)

// integrationCore is the templated integration stage: it renders the final
// answer from the verified claims with an inline citation after every
// factual statement, and lists cited sources. Deterministic wording keeps
// the full pipeline reproducible under mocks.
func integrationCore(deps Deps) agents.CoreFunc {
	return func(ctx context.Context, env *envelope.Envelope) (map[string]any, error) {
		var sb strings.Builder
		var cited []string
		seen := make(map[string]bool)

		addCite := func(c string) {
			if !seen[c] {
				seen[c] = true
				cited = append(cited, c)
			}
		}

		synth, haveSynth := decodeSynth(env)
		critic, haveCritic := decodeCritic(env)

		switch env.TerminationReason {
		case envelope.TerminationQuotaExceeded:
			sb.WriteString("The analysis reached its resource budget before completing.")
			if cites := env.Citations(); len(cites) > 0 {
				sb.WriteString(" Evidence gathered so far:\n")
				for _, c := range cites {
					sb.WriteString(fmt.Sprintf("- [%s]\n", c))
					addCite(c)
				}
			} else {
				sb.WriteString(" No evidence was gathered before the budget ran out.")
			}

		case envelope.TerminationCriticRejected:
			writeClaims(&sb, supportedClaims(synth, critic), addCite)
			if haveCritic && len(critic.UnsupportedClaims) > 0 {
				sb.WriteString("\nUnverified (no supporting evidence was found in the repository):\n")
				for _, claim := range critic.UnsupportedClaims {
					sb.WriteString("- " + claim.Text + " [unverified]\n")
				}
			}

		default:
			if !haveSynth || len(synth.Claims) == 0 {
				sb.WriteString(noEvidenceResponse(env))
				for _, c := range env.Citations() {
					addCite(c)
				}
			} else {
				writeClaims(&sb, synth.Claims, addCite)
			}
		}

		output, err := envelope.ToMap(envelope.IntegrationOutput{
			FinalResponse: strings.TrimRight(sb.String(), "\n"),
			CitedSources:  cited,
		})
		if err != nil {
			return nil, err
		}
		return output, nil
	}
}

func writeClaims(sb *strings.Builder, claims []envelope.Claim, addCite func(string)) {
	for _, claim := range claims {
		sb.WriteString(claim.Text)
		for _, c := range claim.SupportingCitations {
			sb.WriteString(fmt.Sprintf(" [%s]", c))
			addCite(c)
		}
		sb.WriteString("\n")
	}
}

// supportedClaims filters the synthesizer's claims down to the ones the
// critic did not flag.
func supportedClaims(synth envelope.SynthesizerOutput, critic envelope.CriticOutput) []envelope.Claim {
	flagged := make(map[string]bool, len(critic.UnsupportedClaims))
	for _, claim := range critic.UnsupportedClaims {
		flagged[claim.Text] = true
	}
	var kept []envelope.Claim
	for _, claim := range synth.Claims {
		if !flagged[claim.Text] {
			kept = append(kept, claim)
		}
	}
	return kept
}

// noEvidenceResponse renders the empty-claims answer. For a failed read_code
// the candidate list from the attempt trail is surfaced, citing nothing that
// was not observed.
func noEvidenceResponse(env *envelope.Envelope) string {
	var sb strings.Builder
	sb.WriteString("No supporting evidence was found in the repository for this question.")

	if candidates := readCodeCandidates(env); len(candidates) > 0 {
		sb.WriteString(" Closest candidates:\n")
		for _, c := range candidates {
			sb.WriteString("- " + c + "\n")
		}
	}
	return sb.String()
}

// readCodeCandidates pulls candidate paths out of not_found read_code
// results in the executor output.
func readCodeCandidates(env *envelope.Envelope) []string {
	raw, ok := env.StageOutput(envelope.StageExecutor)
	if !ok {
		return nil
	}
	out, ok := typeutil.SafeMapStringAny(raw)
	if !ok {
		return nil
	}
	results, ok := typeutil.SafeSlice(out["results"])
	if !ok {
		return nil
	}

	var candidates []string
	seen := make(map[string]bool)
	for _, r := range results {
		result, ok := typeutil.SafeMapStringAny(r)
		if !ok {
			continue
		}
		if typeutil.SafeStringDefault(result["tool"], "") != string(envelope.ToolReadCode) {
			continue
		}
		data, ok := typeutil.SafeMapStringAny(result["data"])
		if !ok {
			continue
		}
		list, _ := typeutil.SafeStringSlice(data["candidates"])
		for _, c := range list {
			if !seen[c] {
				seen[c] = true
				candidates = append(candidates, c)
			}
		}
	}
	return candidates
}

func decodeSynth(env *envelope.Envelope) (envelope.SynthesizerOutput, bool) {
	raw, ok := env.StageOutput(envelope.StageSynthesizer)
	if !ok {
		return envelope.SynthesizerOutput{}, false
	}
	out, err := envelope.DecodeSynthesizerOutput(raw)
	return out, err == nil
}

func decodeCritic(env *envelope.Envelope) (envelope.CriticOutput, bool) {
	raw, ok := env.StageOutput(envelope.StageCritic)
	if !ok {
		return envelope.CriticOutput{}, false
	}
	out, err := envelope.DecodeCriticOutput(raw)
	return out, err == nil
}
