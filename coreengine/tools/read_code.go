package tools

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/envelope"
)

// TokenCounter counts tokens in a string. The context builders and the
// read_code token-cap enforcement both depend on this rather than a
// rune/byte heuristic.
type TokenCounter interface {
	Count(text string) int
}

// extensionSwaps pairs source/stub extensions the way a typical repo does;
// read_code's second fallback strategy tries the paired extension when the
// literal path misses.
var extensionSwaps = map[string][]string{
	".py":  {".pyi"},
	".pyi": {".py"},
	".ts":  {".tsx", ".d.ts"},
	".tsx": {".ts"},
	".js":  {".jsx"},
	".jsx": {".js"},
}

// NewReadCodeHandler builds the read_code composed tool: exact path ->
// extension swap -> glob by filename anywhere in scope -> glob by stem
// (candidate list only, no content) fallback chain, bounded by a per-file
// token cap.
func NewReadCodeHandler(store Storage, counter TokenCounter, bounds ContextBounds) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		p, _ := args["path"].(string)
		startLine := intArg(args, "start_line", 0)
		endLine := intArg(args, "end_line", 0)

		chain := FallbackChain{
			ToolName: envelope.ToolReadCode,
			Strategies: []Strategy{
				{Name: "exact_path", Run: exactPathStrategy(store, startLine, endLine)},
				{Name: "extension_swap", Run: extensionSwapStrategy(store, startLine, endLine)},
				{Name: "glob_by_filename", Run: globByFilenameStrategy(store)},
				{Name: "glob_by_stem", Run: globByStemStrategy(store)},
			},
		}

		foundVia, attempts, res, err := chain.Run(ctx, map[string]any{"path": p})
		if err != nil {
			return toolResultError(envelope.ToolReadCode, attempts, err), nil
		}
		if res == nil {
			return toolResultNotFound(envelope.ToolReadCode, attempts), nil
		}

		// The glob strategies return a candidate list with no content; only
		// exact_path/extension_swap hits carry a citable line + content.
		if foundVia == "glob_by_filename" || foundVia == "glob_by_stem" {
			candidates := make([]string, 0, len(res.Hits))
			for _, h := range res.Hits {
				candidates = append(candidates, h.Path)
			}
			return map[string]any{
				"tool":            string(envelope.ToolReadCode),
				"status":          string(envelope.ToolStatusNotFound),
				"found_via":       foundVia,
				"data":            map[string]any{"candidates": candidates},
				"attempt_history": attempts,
			}, nil
		}

		hit := res.Hits[0]
		text := hit.Snippet
		if counter != nil && counter.Count(text) > bounds.MaxFileSliceTokens {
			text = truncateToTokenBudget(text, counter, bounds.MaxFileSliceTokens)
		}
		return map[string]any{
			"tool":      string(envelope.ToolReadCode),
			"status":    string(envelope.ToolStatusSuccess),
			"found_via": foundVia,
			"data": map[string]any{
				"path": hit.Path, "start_line": hit.Line, "text": text,
			},
			"attempt_history": attempts,
			"citations":       []string{fmt.Sprintf("%s:%d", hit.Path, hit.Line)},
		}, nil
	}
}

func exactPathStrategy(store Storage, startLine, endLine int) StrategyFunc {
	return func(ctx context.Context, args map[string]any) (*StrategyResult, error) {
		p, _ := args["path"].(string)
		slice, err := store.ReadFile(ctx, p, startLine, endLine)
		if err != nil {
			return nil, nil // treat read failure as a miss for this strategy; hard I/O errors bubble from exactly one place, the storage adapter's own logs
		}
		if slice == nil {
			return nil, nil
		}
		return &StrategyResult{Hits: []LocateHit{{
			Path: slice.Path, Line: firstLine(slice), Snippet: strings.Join(slice.Lines, "\n"),
		}}}, nil
	}
}

func extensionSwapStrategy(store Storage, startLine, endLine int) StrategyFunc {
	return func(ctx context.Context, args map[string]any) (*StrategyResult, error) {
		p, _ := args["path"].(string)
		ext := path.Ext(p)
		swaps, ok := extensionSwaps[ext]
		if !ok {
			return nil, nil
		}
		base := strings.TrimSuffix(p, ext)
		for _, alt := range swaps {
			slice, err := store.ReadFile(ctx, base+alt, startLine, endLine)
			if err == nil && slice != nil {
				return &StrategyResult{Hits: []LocateHit{{
					Path: slice.Path, Line: firstLine(slice), Snippet: strings.Join(slice.Lines, "\n"),
				}}}, nil
			}
		}
		return nil, nil
	}
}

func globByFilenameStrategy(store Storage) StrategyFunc {
	return func(ctx context.Context, args map[string]any) (*StrategyResult, error) {
		p, _ := args["path"].(string)
		name := path.Base(p)
		matches, err := store.GlobFiles(ctx, name, "")
		if err != nil {
			return nil, nil
		}
		return globMatchesToResult(matches), nil
	}
}

func globByStemStrategy(store Storage) StrategyFunc {
	return func(ctx context.Context, args map[string]any) (*StrategyResult, error) {
		p, _ := args["path"].(string)
		name := path.Base(p)
		stem := strings.TrimSuffix(name, path.Ext(name))
		matches, err := store.GlobFiles(ctx, stem+"*", "")
		if err != nil {
			return nil, nil
		}
		return globMatchesToResult(matches), nil
	}
}

func globMatchesToResult(matches []string) *StrategyResult {
	if len(matches) == 0 {
		return nil
	}
	hits := make([]LocateHit, 0, len(matches))
	for _, m := range matches {
		hits = append(hits, LocateHit{Path: m})
	}
	return &StrategyResult{Hits: hits}
}

func firstLine(s *FileSlice) int {
	if s.StartLine > 0 {
		return s.StartLine
	}
	return 1
}

func truncateToTokenBudget(text string, counter TokenCounter, maxTokens int) string {
	lo, hi := 0, len(text)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if counter.Count(text[:mid]) <= maxTokens {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return text[:lo]
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}
