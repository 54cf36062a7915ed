package tools

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/envelope"
)

// classifyQuery looks at the query string to guess whether it reads as a
// qualified/dotted symbol name, a free-text phrase, or a path-like string.
// A conclusive classification promotes the matching strategies to the front
// of the fallback chain; an inconclusive one ("") leaves the fixed
// exact->partial->grep->grep-ci->semantic order untouched, so attempt
// ordering stays deterministic whenever the classifier has nothing to say.
func classifyQuery(query string) (kindHint string) {
	q := strings.TrimSpace(query)
	switch {
	case strings.Contains(q, "/") || strings.Contains(q, "\\"):
		return "path"
	case symbolLike.MatchString(q):
		return "symbol"
	default:
		return ""
	}
}

var symbolLike = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

// NewSearchCodeHandler builds the search_code composed tool: a five-strategy
// deterministic fallback chain (exact symbol, partial symbol, case-sensitive
// grep, case-insensitive grep, semantic/vector search) over the storage
// collaborator. It returns on the first strategy producing any result;
// not_found is reported only once every strategy has missed.
func NewSearchCodeHandler(store Storage, bounds ContextBounds) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		query, _ := args["query"].(string)
		scope, _ := args["scope"].(string)
		kind, _ := args["kind"].(string)
		if kind == "" {
			kind = classifyQuery(query)
		}

		strategies := []Strategy{
			{Name: "exact_symbol", Run: exactSymbolStrategy(store)},
			{Name: "partial_symbol", Run: partialSymbolStrategy(store)},
			{Name: "grep_case_sensitive", Run: grepStrategy(store, true, bounds.MaxGrepResults)},
			{Name: "grep_case_insensitive", Run: grepStrategy(store, false, bounds.MaxGrepResults)},
			{Name: "semantic_search", Run: semanticStrategy(store, bounds.MaxSymbolResults)},
		}

		chain := FallbackChain{
			ToolName:   envelope.ToolSearchCode,
			Strategies: reorderForKind(kind, strategies),
		}

		foundVia, attempts, res, err := chain.Run(ctx, map[string]any{"query": query, "scope": scope})
		if err != nil {
			return toolResultError(envelope.ToolSearchCode, attempts, err), nil
		}
		if res == nil {
			return toolResultNotFound(envelope.ToolSearchCode, attempts), nil
		}

		citations := make([]string, 0, len(res.Hits))
		matches := make([]map[string]any, 0, len(res.Hits))
		for _, h := range res.Hits {
			citations = append(citations, fmt.Sprintf("%s:%d", h.Path, h.Line))
			matches = append(matches, map[string]any{
				"path": h.Path, "line": h.Line, "kind": h.Kind, "snippet": snippet(h.Snippet, 512),
			})
		}

		return map[string]any{
			"tool":            string(envelope.ToolSearchCode),
			"status":          string(envelope.ToolStatusSuccess),
			"found_via":       foundVia,
			"data":            map[string]any{"matches": matches},
			"attempt_history": attempts,
			"citations":       citations,
		}, nil
	}
}

// reorderForKind promotes the strategies most likely to hit for a
// conclusively classified query to the front of the chain: symbol-shaped
// queries start with the symbol-index lookups, path-shaped queries with the
// grep passes. Relative order among promoted and remaining strategies is
// preserved; an inconclusive kind leaves the chain untouched. The chain
// contract is unchanged either way: first non-empty result wins, not_found
// only after all five miss.
func reorderForKind(kind string, strategies []Strategy) []Strategy {
	var lead map[string]bool
	switch kind {
	case "symbol":
		lead = map[string]bool{"exact_symbol": true, "partial_symbol": true}
	case "path":
		lead = map[string]bool{"grep_case_sensitive": true, "grep_case_insensitive": true}
	default:
		return strategies
	}

	ordered := make([]Strategy, 0, len(strategies))
	for _, s := range strategies {
		if lead[s.Name] {
			ordered = append(ordered, s)
		}
	}
	for _, s := range strategies {
		if !lead[s.Name] {
			ordered = append(ordered, s)
		}
	}
	return ordered
}

func exactSymbolStrategy(store Storage) StrategyFunc {
	return func(ctx context.Context, args map[string]any) (*StrategyResult, error) {
		query, _ := args["query"].(string)
		scope, _ := args["scope"].(string)
		matches, err := store.FindSymbolExact(ctx, query, scope)
		if err != nil {
			return nil, err
		}
		return symbolMatchesToResult(matches), nil
	}
}

func partialSymbolStrategy(store Storage) StrategyFunc {
	return func(ctx context.Context, args map[string]any) (*StrategyResult, error) {
		query, _ := args["query"].(string)
		scope, _ := args["scope"].(string)
		matches, err := store.FindSymbolPartial(ctx, query, scope)
		if err != nil {
			return nil, err
		}
		return symbolMatchesToResult(matches), nil
	}
}

func grepStrategy(store Storage, caseSensitive bool, limit int) StrategyFunc {
	return func(ctx context.Context, args map[string]any) (*StrategyResult, error) {
		query, _ := args["query"].(string)
		scope, _ := args["scope"].(string)
		matches, err := store.Grep(ctx, regexp.QuoteMeta(query), caseSensitive, scope, limit)
		if err != nil {
			return nil, err
		}
		hits := make([]LocateHit, 0, len(matches))
		for _, m := range matches {
			hits = append(hits, LocateHit{Path: m.Path, Line: m.Line, Kind: "grep", Snippet: m.Excerpt})
		}
		return &StrategyResult{Hits: hits}, nil
	}
}

func semanticStrategy(store Storage, limit int) StrategyFunc {
	return func(ctx context.Context, args map[string]any) (*StrategyResult, error) {
		query, _ := args["query"].(string)
		scope, _ := args["scope"].(string)
		matches, err := store.SemanticSearch(ctx, query, scope, limit)
		if err != nil {
			return nil, err
		}
		hits := make([]LocateHit, 0, len(matches))
		for _, m := range matches {
			hits = append(hits, LocateHit{Path: m.Path, Line: m.Line, Kind: "semantic", Snippet: m.Snippet, Score: m.Score})
		}
		return &StrategyResult{Hits: hits}, nil
	}
}

func symbolMatchesToResult(matches []SymbolMatch) *StrategyResult {
	hits := make([]LocateHit, 0, len(matches))
	for _, m := range matches {
		hits = append(hits, LocateHit{Path: m.Path, Line: m.Line, Kind: m.Kind, Snippet: m.Symbol})
	}
	return &StrategyResult{Hits: hits}
}

func snippet(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func toolResultNotFound(tool envelope.ToolName, attempts []envelope.AttemptRecord) map[string]any {
	return map[string]any{
		"tool":            string(tool),
		"status":          string(envelope.ToolStatusNotFound),
		"attempt_history": attempts,
	}
}

func toolResultError(tool envelope.ToolName, attempts []envelope.AttemptRecord, err error) map[string]any {
	return map[string]any{
		"tool":            string(tool),
		"status":          string(envelope.ToolStatusError),
		"attempt_history": attempts,
		"error":           err.Error(),
	}
}
