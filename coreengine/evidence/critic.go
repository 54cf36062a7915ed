package evidence

import (
	"fmt"

	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/envelope"
)

// Validate runs the critic's citation-validation algorithm: every claim's
// cited path:line must appear in the envelope's accumulated citation set
// (not the current stage's, not the LLM's memory). A claim with no
// citations at all is unsupported.
//
// This is a pure function so the runner can apply the check without
// reaching into LLM state: the verdict depends only on what the envelope
// has actually observed.
func Validate(claims []envelope.Claim, accumulated []string) (verdict envelope.CriticVerdict, unsupported []envelope.Claim, missing []string) {
	known := make(map[string]bool, len(accumulated))
	for _, c := range accumulated {
		known[c] = true
	}

	missingSet := make(map[string]bool)
	for _, claim := range claims {
		if len(claim.SupportingCitations) == 0 {
			unsupported = append(unsupported, claim)
			continue
		}
		supported := true
		for _, cite := range claim.SupportingCitations {
			if !known[cite] {
				supported = false
				if !missingSet[cite] {
					missingSet[cite] = true
					missing = append(missing, cite)
				}
			}
		}
		if !supported {
			unsupported = append(unsupported, claim)
		}
	}

	if len(unsupported) == 0 {
		return envelope.CriticApprove, nil, nil
	}
	return envelope.CriticReject, unsupported, missing
}

// BuildCriticOutput turns a Validate verdict into the stage's structured
// output, filling in a plain-language reason.
func BuildCriticOutput(verdict envelope.CriticVerdict, unsupported []envelope.Claim, missing []string, reintentFocus string) envelope.CriticOutput {
	reason := "all claims are supported by accumulated citations"
	if verdict == envelope.CriticReject {
		reason = fmt.Sprintf("%d claim(s) cite evidence not present in the accumulated citation set", len(unsupported))
	}
	return envelope.CriticOutput{
		Verdict:                verdict,
		UnsupportedClaims:      unsupported,
		MissingEvidence:        missing,
		Reason:                 reason,
		SuggestedReintentFocus: reintentFocus,
	}
}
