package tools

import (
	"context"

	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/envelope"
)

// StrategyResult is what one fallback strategy produces: a normalized hit
// list plus the citations it establishes.
type StrategyResult struct {
	Hits      []LocateHit
	Citations []string
}

// LocateHit is the normalized shape every strategy's raw result is mapped
// into before being folded into a ToolResult's data, so search_code and
// read_code don't leak per-strategy result shapes (symbol match vs. grep
// match vs. vector hit) to their caller.
type LocateHit struct {
	Path    string  `json:"path"`
	Line    int     `json:"line"`
	Kind    string  `json:"kind,omitempty"`
	Snippet string  `json:"snippet,omitempty"`
	Score   float64 `json:"score,omitempty"`
}

// StrategyFunc runs one fallback strategy. It returns a nil-or-empty result
// (not an error) for a clean miss; an error is reserved for a hard failure
// of the strategy itself (e.g. a malformed regex), which aborts the chain.
type StrategyFunc func(ctx context.Context, args map[string]any) (*StrategyResult, error)

// Strategy names one step of a fallback chain, in the fixed order the
// composed tool declares it.
type Strategy struct {
	Name string
	Run  StrategyFunc
}

// FallbackChain executes an ordered list of strategies, stopping at the
// first one that produces a non-empty result. Every attempt, hit or miss,
// is appended to the attempt history in order. The attempt trail is what
// lets a caller see exactly which lookups were tried and in what order.
type FallbackChain struct {
	ToolName   envelope.ToolName
	Strategies []Strategy
}

// Run tries each strategy in order against the same arguments, returning on
// the first non-empty result. It returns the winning strategy's name (for
// ToolResult.FoundVia), the accumulated attempt history, and the result
// itself (nil if every strategy missed).
func (c FallbackChain) Run(ctx context.Context, args map[string]any) (foundVia string, attempts []envelope.AttemptRecord, result *StrategyResult, err error) {
	for _, s := range c.Strategies {
		select {
		case <-ctx.Done():
			return "", attempts, nil, ctx.Err()
		default:
		}

		res, runErr := s.Run(ctx, args)
		if runErr != nil {
			attempts = append(attempts, envelope.AttemptRecord{
				Tool:     string(c.ToolName),
				Strategy: s.Name,
				Arguments: args,
				Outcome:  "error",
				Detail:   runErr.Error(),
			})
			return "", attempts, nil, runErr
		}
		if res != nil && len(res.Hits) > 0 {
			attempts = append(attempts, envelope.AttemptRecord{
				Tool:     string(c.ToolName),
				Strategy: s.Name,
				Arguments: args,
				Outcome:  "hit",
			})
			return s.Name, attempts, res, nil
		}
		attempts = append(attempts, envelope.AttemptRecord{
			Tool:     string(c.ToolName),
			Strategy: s.Name,
			Arguments: args,
			Outcome:  "miss",
		})
	}
	return "", attempts, nil, nil
}
