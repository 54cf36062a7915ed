package tools

import (
	"fmt"
	"strings"

	"github.com/jeeves-cluster-organization/codeanalysis/commbus"
)

// ToolErrorDetails is the standardized error shape for a failed tool call.
type ToolErrorDetails struct {
	ErrorType string         `json:"error_type"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

// ToolErrorFromError wraps a Go error into ToolErrorDetails.
func ToolErrorFromError(err error) *ToolErrorDetails {
	return &ToolErrorDetails{ErrorType: fmt.Sprintf("%T", err), Message: err.Error()}
}

// Evidence is one citable observation extracted from a tool's raw output,
// ahead of the evidence package's citation-extraction pass.
type Evidence struct {
	Location   string  `json:"location"` // path:line
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence"`
}

// NormalizeStatus maps a loosely-typed status value coming out of a storage
// adapter or a primitive into one of the four ToolStatus values.
func NormalizeStatus(raw string, hasError bool) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "success", "ok", "hit":
		return "success"
	case "not_found", "miss", "":
		if hasError {
			return "error"
		}
		return "not_found"
	case "tool_unavailable", "unavailable":
		return "tool_unavailable"
	default:
		if hasError {
			return "error"
		}
		return "success"
	}
}

// RiskLevel re-exports the canonical commbus enum; the registry only ever
// accepts commbus.RiskLevelReadOnly, but callers compare against the shared
// type rather than a tools-local duplicate.
type RiskLevel = commbus.RiskLevel

const riskReadOnly = commbus.RiskLevelReadOnly

// Category re-exports the canonical commbus tool category: primitive
// (FS/index/git/vector) tools versus composed (fallback-chain) tools. Only
// composed tools are ever planner-invokable.
type Category = commbus.ToolCategory

const (
	CategoryPrimitive = commbus.ToolCategoryPrimitive
	CategoryComposed  = commbus.ToolCategoryComposed
)
