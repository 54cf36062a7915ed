// Package config provides pipeline and stage configuration for Go-native orchestration.
package config

import (
	"fmt"
)

// StageKind distinguishes deterministic stages from LLM-backed ones.
type StageKind string

const (
	// StageKindDeterministic runs pure Go logic: no LLM call.
	StageKindDeterministic StageKind = "deterministic"
	// StageKindLLM builds a bounded prompt and calls the provider, re-asking
	// on malformed output up to the stage's MaxRetries times.
	StageKindLLM StageKind = "llm"
)

// StageConfig is the declarative stage configuration.
// Each of the seven pipeline stages is a value of this type; the runtime is
// generic over the list, so stage behavior is configured, not subclassed.
type StageConfig struct {
	// Identity
	Name       string    `json:"name"`        // Unique stage name
	Kind       StageKind `json:"kind"`        // deterministic or llm
	StageOrder int       `json:"stage_order"` // Execution order in pipeline

	// Capability Flags
	HasTools bool `json:"has_tools"` // Whether stage executes tools (executor only)

	// LLM Configuration
	ModelRole   string   `json:"model_role,omitempty"`  // Role for LLM provider factory
	PromptKey   string   `json:"prompt_key,omitempty"`  // Prompt registry key
	Temperature *float64 `json:"temperature,omitempty"` // LLM temperature override
	MaxTokens   *int     `json:"max_tokens,omitempty"`  // Max tokens for LLM response

	// Output Configuration
	OutputKey            string   `json:"output_key"`             // Key in envelope stage outputs
	RequiredOutputFields []string `json:"required_output_fields"` // Fields that must be present

	// Bounds
	TimeoutSeconds int `json:"timeout_seconds"` // Stage-specific timeout
	MaxRetries     int `json:"max_retries"`     // Max retries on malformed LLM output
}

// Validate validates the stage configuration.
func (c *StageConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("StageConfig.Name is required")
	}
	switch c.Kind {
	case StageKindDeterministic, StageKindLLM:
	default:
		return fmt.Errorf("stage '%s' has unknown kind %q", c.Name, c.Kind)
	}
	if c.OutputKey == "" {
		c.OutputKey = c.Name // Default to stage name
	}
	if c.Kind == StageKindLLM && c.ModelRole == "" {
		return fmt.Errorf("stage '%s' is llm-kind but has no model_role", c.Name)
	}
	return nil
}

// PipelineConfig defines the ordered sequence of stages plus global bounds.
type PipelineConfig struct {
	Name   string         `json:"name"`   // Pipeline name for logging/metrics
	Stages []*StageConfig `json:"stages"` // Ordered list of stage configs

	// Global Configuration
	MaxReintentCycles     int `json:"max_reintent_cycles"`     // Critic-driven re-entries
	MaxLLMCalls           int `json:"max_llm_calls"`           // Max total LLM calls
	MaxAgentHops          int `json:"max_agent_hops"`          // Max stage transitions
	DefaultTimeoutSeconds int `json:"default_timeout_seconds"` // Default stage timeout

	// Stage Behavior
	IntegrationUsesLLM bool `json:"integration_uses_llm"` // false = templated final answer
}

// NewPipelineConfig creates a new pipeline config with defaults.
func NewPipelineConfig(name string) *PipelineConfig {
	return &PipelineConfig{
		Name:                  name,
		Stages:                make([]*StageConfig, 0),
		MaxReintentCycles:     2,
		MaxLLMCalls:           10,
		MaxAgentHops:          21,
		DefaultTimeoutSeconds: 300,
	}
}

// AddStage adds a stage to the pipeline.
func (p *PipelineConfig) AddStage(stage *StageConfig) error {
	if err := stage.Validate(); err != nil {
		return err
	}
	p.Stages = append(p.Stages, stage)
	return nil
}

// Validate validates the pipeline configuration.
func (p *PipelineConfig) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("PipelineConfig.Name is required")
	}
	if len(p.Stages) == 0 {
		return fmt.Errorf("pipeline '%s' has no stages", p.Name)
	}

	// Validate each stage and unique names; fill in missing order and timeouts
	names := make(map[string]bool)
	for i, stage := range p.Stages {
		if err := stage.Validate(); err != nil {
			return err
		}
		if names[stage.Name] {
			return fmt.Errorf("duplicate stage name: %s", stage.Name)
		}
		names[stage.Name] = true
		if stage.StageOrder == 0 {
			stage.StageOrder = i
		}
		if stage.TimeoutSeconds == 0 {
			stage.TimeoutSeconds = p.DefaultTimeoutSeconds
		}
	}

	return nil
}

// GetStage gets a stage config by name.
func (p *PipelineConfig) GetStage(name string) *StageConfig {
	for _, stage := range p.Stages {
		if stage.Name == name {
			return stage
		}
	}
	return nil
}

// GetStageOrder returns ordered list of stage names.
func (p *PipelineConfig) GetStageOrder() []string {
	order := make([]string, len(p.Stages))
	for i, stage := range p.Stages {
		order[i] = stage.Name
	}
	return order
}

// DefaultAnalysisPipeline returns the seven-stage code-analysis pipeline:
// perception, intent, planner, executor, synthesizer, critic, integration.
// Perception and executor are deterministic; the rest call the LLM
// (integration only when IntegrationUsesLLM is set).
func DefaultAnalysisPipeline(exec *ExecutionConfig) *PipelineConfig {
	if exec == nil {
		exec = DefaultExecutionConfig()
	}

	p := NewPipelineConfig("code_analysis")
	p.MaxReintentCycles = exec.MaxReintentCycles
	p.MaxLLMCalls = exec.MaxLLMCallsPerQuery
	p.MaxAgentHops = exec.MaxAgentHopsPerQuery
	p.DefaultTimeoutSeconds = exec.StageTimeout
	p.IntegrationUsesLLM = exec.IntegrationUsesLLM

	stages := []*StageConfig{
		{Name: "perception", Kind: StageKindDeterministic, StageOrder: 0,
			RequiredOutputFields: []string{"normalized_query"}},
		{Name: "intent", Kind: StageKindLLM, StageOrder: 1, ModelRole: "intent",
			PromptKey: "intent", MaxRetries: exec.MaxLLMRetries,
			RequiredOutputFields: []string{"classified_intent", "goals"}},
		{Name: "planner", Kind: StageKindLLM, StageOrder: 2, ModelRole: "planner",
			PromptKey: "planner", MaxRetries: exec.MaxLLMRetries,
			RequiredOutputFields: []string{"steps"}},
		{Name: "executor", Kind: StageKindDeterministic, StageOrder: 3, HasTools: true,
			TimeoutSeconds:       exec.ExecutorTimeout,
			RequiredOutputFields: []string{"results"}},
		{Name: "synthesizer", Kind: StageKindLLM, StageOrder: 4, ModelRole: "synthesizer",
			PromptKey: "synthesizer", MaxRetries: exec.MaxLLMRetries,
			RequiredOutputFields: []string{"claims"}},
		{Name: "critic", Kind: StageKindLLM, StageOrder: 5, ModelRole: "critic",
			PromptKey: "critic", MaxRetries: exec.MaxLLMRetries,
			RequiredOutputFields: []string{"verdict", "reason"}},
		{Name: "integration", Kind: StageKindDeterministic, StageOrder: 6,
			RequiredOutputFields: []string{"final_response"}},
	}
	if p.IntegrationUsesLLM {
		stages[6].Kind = StageKindLLM
		stages[6].ModelRole = "integration"
		stages[6].PromptKey = "integration"
		stages[6].MaxRetries = exec.MaxLLMRetries
	}

	for _, s := range stages {
		p.Stages = append(p.Stages, s)
	}
	return p
}
