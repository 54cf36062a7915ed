package tools

import "github.com/jeeves-cluster-organization/codeanalysis/coreengine/config"

// ContextBounds are the per-request limits on tool-derived context. The
// code-token total, files-per-query, LLM-call and agent-hop limits reach the
// accountant's quota; exceeding one of them terminates the request with
// quota_exceeded. The tree depth, file-slice token, grep result and symbol
// result limits are used by the tools themselves as per-call caps (tree
// depth, read_code text, grep matches, semantic and similar-file matches);
// going past them truncates that call's result and does not terminate the
// request.
type ContextBounds struct {
	MaxTreeDepth        int
	MaxFileSliceTokens  int
	MaxGrepResults      int
	MaxSymbolResults    int
	MaxFilesPerQuery    int
	MaxTotalCodeTokens  int
	MaxLLMCallsPerQuery int
	MaxAgentHopsPerQuery int
}

// DefaultContextBounds returns the bounds table.
func DefaultContextBounds() ContextBounds {
	return ContextBounds{
		MaxTreeDepth:         10,
		MaxFileSliceTokens:   4000,
		MaxGrepResults:       50,
		MaxSymbolResults:     100,
		MaxFilesPerQuery:     10,
		MaxTotalCodeTokens:   25000,
		MaxLLMCallsPerQuery:  10,
		MaxAgentHopsPerQuery: 21,
	}
}

// ContextBoundsFromConfig derives the bounds table from the execution
// knobs, keeping the executor and the config on one source of truth.
func ContextBoundsFromConfig(exec *config.ExecutionConfig) ContextBounds {
	if exec == nil {
		return DefaultContextBounds()
	}
	return ContextBounds{
		MaxTreeDepth:         exec.MaxTreeDepth,
		MaxFileSliceTokens:   exec.MaxFileSliceTokens,
		MaxGrepResults:       exec.MaxGrepResults,
		MaxSymbolResults:     exec.MaxSymbolResults,
		MaxFilesPerQuery:     exec.MaxFilesPerQuery,
		MaxTotalCodeTokens:   exec.MaxTotalCodeTokens,
		MaxLLMCallsPerQuery:  exec.MaxLLMCallsPerQuery,
		MaxAgentHopsPerQuery: exec.MaxAgentHopsPerQuery,
	}
}
