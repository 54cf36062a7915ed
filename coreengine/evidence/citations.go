// Package evidence extracts path:line citations from tool output and
// validates that synthesized claims only ever cite evidence the envelope has
// actually accumulated.
package evidence

import (
	"fmt"

	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/envelope"
)

// ExtractFromToolResult pulls the path:line citations a single ToolResult
// establishes, per the per-tool rules: search_code cites each match's
// path+line; read_code cites path + the first line number of the returned
// slice. A not_found or error result never yields a citation.
func ExtractFromToolResult(result envelope.ToolResult) []string {
	if result.Status != envelope.ToolStatusSuccess {
		return nil
	}
	if len(result.Citations) > 0 {
		return result.Citations
	}

	data, ok := result.Data.(map[string]any)
	if !ok {
		return nil
	}

	switch result.Tool {
	case envelope.ToolSearchCode:
		return extractSearchCodeCitations(data)
	case envelope.ToolReadCode:
		return extractReadCodeCitation(data)
	default:
		return nil
	}
}

func extractSearchCodeCitations(data map[string]any) []string {
	var citations []string
	appendMatch := func(m map[string]any) {
		path, _ := m["path"].(string)
		line := intValue(m["line"])
		if path != "" && line > 0 {
			citations = append(citations, fmt.Sprintf("%s:%d", path, line))
		}
	}

	switch matches := data["matches"].(type) {
	case []map[string]any:
		for _, m := range matches {
			appendMatch(m)
		}
	case []any:
		// JSON round-tripped results decode to []any.
		for _, raw := range matches {
			if m, ok := raw.(map[string]any); ok {
				appendMatch(m)
			}
		}
	}
	return citations
}

func extractReadCodeCitation(data map[string]any) []string {
	path, _ := data["path"].(string)
	startLine := intValue(data["start_line"])
	if path == "" || startLine <= 0 {
		return nil
	}
	return []string{fmt.Sprintf("%s:%d", path, startLine)}
}

// intValue handles both native ints and JSON-decoded float64 line numbers.
func intValue(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}
