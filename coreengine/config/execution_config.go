// Package config provides engine configuration - NO infrastructure URLs.
//
// This module contains ONLY configuration that is relevant to pipeline
// execution:
//   - Timeouts
//   - Limits and context bounds
//   - Stage behavior toggles
//
// Infrastructure configuration (listen address, database path, repository
// root, LLM credentials) lives in AppConfig, loaded from the YAML document
// the deployment ships.
package config

import (
	"sync"
)

// ExecutionConfig holds pipeline execution configuration.
//
// This configuration is infrastructure-agnostic and can be used regardless
// of what backends (LLM, storage) are being used.
type ExecutionConfig struct {
	// Re-entry Control
	MaxReintentCycles int `json:"max_reintent_cycles"` // Critic-driven returns to intent

	// Execution Limits
	MaxPlanSteps  int `json:"max_plan_steps"`
	MaxLLMRetries int `json:"max_llm_retries"` // Retries of a stage on malformed LLM output

	// Timeouts (seconds)
	LLMTimeout      int `json:"llm_timeout"`
	ExecutorTimeout int `json:"executor_timeout"`
	ToolTimeout     int `json:"tool_timeout"`
	StageTimeout    int `json:"stage_timeout"` // Per-stage soft timeout

	// Context Bounds (tools.ContextBounds describes where each is applied)
	MaxTreeDepth         int `json:"max_tree_depth"`
	MaxFileSliceTokens   int `json:"max_file_slice_tokens"`
	MaxGrepResults       int `json:"max_grep_results"`
	MaxSymbolResults     int `json:"max_symbol_results"`
	MaxFilesPerQuery     int `json:"max_files_per_query"`
	MaxTotalCodeTokens   int `json:"max_total_code_tokens"`
	MaxLLMCallsPerQuery  int `json:"max_llm_calls_per_query"`
	MaxAgentHopsPerQuery int `json:"max_agent_hops_per_query"`

	// Snippet Extraction (context builders)
	MaxSnippetChars    int `json:"max_snippet_chars"`
	MaxItemsPerToolCall int `json:"max_items_per_tool_call"`

	// Stage Behavior
	IntegrationUsesLLM bool `json:"integration_uses_llm"` // false = templated final answer

	// Logging
	LogLevel string `json:"log_level"`
}

// DefaultExecutionConfig returns an ExecutionConfig with default values.
func DefaultExecutionConfig() *ExecutionConfig {
	return &ExecutionConfig{
		// Re-entry Control
		MaxReintentCycles: 2,

		// Execution Limits
		MaxPlanSteps:  8,
		MaxLLMRetries: 1,

		// Timeouts (seconds)
		LLMTimeout:      120,
		ExecutorTimeout: 60,
		ToolTimeout:     30,
		StageTimeout:    300,

		// Context Bounds
		MaxTreeDepth:         10,
		MaxFileSliceTokens:   4000,
		MaxGrepResults:       50,
		MaxSymbolResults:     100,
		MaxFilesPerQuery:     10,
		MaxTotalCodeTokens:   25000,
		MaxLLMCallsPerQuery:  10,
		MaxAgentHopsPerQuery: 21,

		// Snippet Extraction
		MaxSnippetChars:     512,
		MaxItemsPerToolCall: 10,

		// Stage Behavior
		IntegrationUsesLLM: false,

		// Logging
		LogLevel: "INFO",
	}
}

// ExecutionConfigFromMap creates ExecutionConfig from a map.
// Unknown keys are ignored.
func ExecutionConfigFromMap(config map[string]any) *ExecutionConfig {
	c := DefaultExecutionConfig()

	intKeys := map[string]*int{
		"max_reintent_cycles":      &c.MaxReintentCycles,
		"max_plan_steps":           &c.MaxPlanSteps,
		"max_llm_retries":          &c.MaxLLMRetries,
		"llm_timeout":              &c.LLMTimeout,
		"executor_timeout":         &c.ExecutorTimeout,
		"tool_timeout":             &c.ToolTimeout,
		"stage_timeout":            &c.StageTimeout,
		"max_tree_depth":           &c.MaxTreeDepth,
		"max_file_slice_tokens":    &c.MaxFileSliceTokens,
		"max_grep_results":         &c.MaxGrepResults,
		"max_symbol_results":       &c.MaxSymbolResults,
		"max_files_per_query":      &c.MaxFilesPerQuery,
		"max_total_code_tokens":    &c.MaxTotalCodeTokens,
		"max_llm_calls_per_query":  &c.MaxLLMCallsPerQuery,
		"max_agent_hops_per_query": &c.MaxAgentHopsPerQuery,
		"max_snippet_chars":        &c.MaxSnippetChars,
		"max_items_per_tool_call":  &c.MaxItemsPerToolCall,
	}
	for key, target := range intKeys {
		if v, ok := config[key].(int); ok {
			*target = v
		} else if v, ok := config[key].(float64); ok {
			*target = int(v)
		}
	}

	if v, ok := config["integration_uses_llm"].(bool); ok {
		c.IntegrationUsesLLM = v
	}
	if v, ok := config["log_level"].(string); ok {
		c.LogLevel = v
	}

	return c
}

// ToMap converts config to a map.
func (c *ExecutionConfig) ToMap() map[string]any {
	return map[string]any{
		"max_reintent_cycles":      c.MaxReintentCycles,
		"max_plan_steps":           c.MaxPlanSteps,
		"max_llm_retries":          c.MaxLLMRetries,
		"llm_timeout":              c.LLMTimeout,
		"executor_timeout":         c.ExecutorTimeout,
		"tool_timeout":             c.ToolTimeout,
		"stage_timeout":            c.StageTimeout,
		"max_tree_depth":           c.MaxTreeDepth,
		"max_file_slice_tokens":    c.MaxFileSliceTokens,
		"max_grep_results":         c.MaxGrepResults,
		"max_symbol_results":       c.MaxSymbolResults,
		"max_files_per_query":      c.MaxFilesPerQuery,
		"max_total_code_tokens":    c.MaxTotalCodeTokens,
		"max_llm_calls_per_query":  c.MaxLLMCallsPerQuery,
		"max_agent_hops_per_query": c.MaxAgentHopsPerQuery,
		"max_snippet_chars":        c.MaxSnippetChars,
		"max_items_per_tool_call":  c.MaxItemsPerToolCall,
		"integration_uses_llm":     c.IntegrationUsesLLM,
		"log_level":                c.LogLevel,
	}
}

// =============================================================================
// CONFIG PROVIDER INTERFACE (Dependency Injection)
// =============================================================================

// ConfigProvider provides configuration values.
// Use this interface for dependency injection instead of global state.
type ConfigProvider interface {
	// GetExecutionConfig returns the execution configuration.
	GetExecutionConfig() *ExecutionConfig
}

// DefaultConfigProvider provides the global configuration.
// This is the default implementation that uses the global singleton.
type DefaultConfigProvider struct{}

// GetExecutionConfig returns the global execution configuration.
func (p *DefaultConfigProvider) GetExecutionConfig() *ExecutionConfig {
	return GetGlobalExecutionConfig()
}

// StaticConfigProvider provides a static configuration.
// Useful for testing with specific config values.
type StaticConfigProvider struct {
	Config *ExecutionConfig
}

// GetExecutionConfig returns the static configuration.
func (p *StaticConfigProvider) GetExecutionConfig() *ExecutionConfig {
	if p.Config == nil {
		return DefaultExecutionConfig()
	}
	return p.Config
}

// NewStaticConfigProvider creates a new StaticConfigProvider.
func NewStaticConfigProvider(config *ExecutionConfig) *StaticConfigProvider {
	return &StaticConfigProvider{Config: config}
}

// =============================================================================
// GLOBAL CONFIG (set at process bootstrap, before serving begins)
// =============================================================================

var (
	globalExecutionConfig *ExecutionConfig
	configMu              sync.RWMutex
)

// GetGlobalExecutionConfig gets the global execution configuration instance.
// Returns the injected config or defaults.
// Prefer using ConfigProvider interface for new code.
func GetGlobalExecutionConfig() *ExecutionConfig {
	configMu.RLock()
	defer configMu.RUnlock()

	if globalExecutionConfig == nil {
		return DefaultExecutionConfig()
	}
	return globalExecutionConfig
}

// SetExecutionConfig sets the execution configuration instance.
// Called once at bootstrap after the YAML document has been parsed.
func SetExecutionConfig(config *ExecutionConfig) {
	configMu.Lock()
	defer configMu.Unlock()

	globalExecutionConfig = config
}

// ResetExecutionConfig resets execution config to nil (useful for testing).
// After reset, GetGlobalExecutionConfig() will return defaults.
func ResetExecutionConfig() {
	configMu.Lock()
	defer configMu.Unlock()

	globalExecutionConfig = nil
}
