// Package agents provides the Stage - single stage class driven by configuration.
//
// Each of the seven pipeline stages is a Stage value: a StageConfig plus the
// pre_process/core/post_process hooks the capability layer sets on it. There
// is no stage class hierarchy; deterministic and LLM-backed stages differ
// only in configuration and hooks.
package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jeeves-cluster-organization/codeanalysis/commbus"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/config"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/envelope"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// LLMProvider is the interface for LLM providers, re-exported from commbus.
type LLMProvider = commbus.LLMProvider

// Logger is the interface for structured logging, re-exported from commbus.
type Logger = commbus.Logger

// EventContext is the interface for stage event emission.
type EventContext interface {
	EmitStageStarted(stageName string, cycle int) error
	EmitStageCompleted(stageName string, cycle int, status string, summary string, durationMS int, err error) error
}

// PromptRegistry is the interface for prompt lookup.
type PromptRegistry interface {
	Get(key string, context map[string]any) (string, error)
}

// Accountant is the resource-tracking collaborator. The runtime calls
// CheckQuota at stage boundaries; stages and the tool executor call the
// record operations as they spend.
type Accountant interface {
	RecordLLMCall(requestID string, tokensIn, tokensOut int)
	RecordToolCall(name, requestID string)
	CheckQuota(requestID string) (ok bool, reason string)
}

// ProcessHook is a function called before core processing; it compacts or
// augments the stage input.
type ProcessHook func(env *envelope.Envelope) (*envelope.Envelope, error)

// OutputHook is a function called with the stage's raw output; it validates,
// parses, and may reject the output as malformed.
type OutputHook func(env *envelope.Envelope, output map[string]any) (*envelope.Envelope, error)

// CoreFunc runs a deterministic stage's core logic (perception, executor,
// templated integration). LLM-kind stages leave this nil and get llmProcess.
type CoreFunc func(ctx context.Context, env *envelope.Envelope) (map[string]any, error)

// MockHandler generates mock output for deterministic testing. Substituting
// it for the core is the only supported test seam for the LLM.
type MockHandler func(env *envelope.Envelope) (map[string]any, error)

// PromptBuilder assembles the bounded LLM input for this stage from prior
// envelope state. Set by the capability layer's context builders.
type PromptBuilder func(env *envelope.Envelope) (string, error)

var tracer = otel.Tracer("codeanalysis/agents")

// ErrMalformedOutput wraps an LLM response that failed JSON extraction or
// required-field validation, after the configured retries were spent.
type ErrMalformedOutput struct {
	Stage string
	Cause error
}

func (e *ErrMalformedOutput) Error() string {
	return fmt.Sprintf("stage '%s' produced malformed output: %v", e.Stage, e.Cause)
}

func (e *ErrMalformedOutput) Unwrap() error { return e.Cause }

// Stage is the single stage class that handles all stage kinds via configuration.
type Stage struct {
	Config     *config.StageConfig
	Name       string
	Logger     Logger
	LLM        LLMProvider
	EventCtx   EventContext
	Prompts    PromptRegistry
	Accountant Accountant
	UseMock    bool

	// Hooks (set by capability layer)
	PreProcess  ProcessHook
	Core        CoreFunc
	PostProcess OutputHook
	MockHandler MockHandler
	Prompt      PromptBuilder
}

// NewStage creates a new Stage.
func NewStage(cfg *config.StageConfig, logger Logger, llm LLMProvider) (*Stage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Kind == config.StageKindLLM && llm == nil {
		return nil, fmt.Errorf("stage '%s' is llm-kind but no llm provider", cfg.Name)
	}

	return &Stage{
		Config: cfg,
		Name:   cfg.Name,
		Logger: logger.Bind("stage", cfg.Name),
		LLM:    llm,
	}, nil
}

// SetEventContext sets the event context for this stage.
func (s *Stage) SetEventContext(ctx EventContext) {
	s.EventCtx = ctx
}

// Process processes an envelope through this stage. On success the stage's
// structured output has been stored under Config.OutputKey and the post
// hook has run; the transition decision belongs to the runtime, not here.
func (s *Stage) Process(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
	// Create tracing span
	ctx, span := tracer.Start(ctx, "stage.process",
		attribute.String("codeanalysis.stage.name", s.Name),
		attribute.String("codeanalysis.request.id", env.RequestID),
	)
	defer span.End()

	startTime := time.Now()
	llmCalls := 0

	env.ResourceUsage.AgentHops++
	s.emitStarted(env)
	s.Logger.Info(fmt.Sprintf("%s_started", s.Name), "request_id", env.RequestID, "cycle", env.ReintentCycles)

	var output map[string]any
	var err error

	defer func() {
		durationMS := int(time.Since(startTime).Milliseconds())

		// Set span attributes
		span.SetAttributes(
			attribute.Int("codeanalysis.llm.calls", llmCalls),
			attribute.Int("duration_ms", durationMS),
		)

		if err != nil {
			observability.RecordStageExecution(s.Name, "error", durationMS)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.Logger.Error(fmt.Sprintf("%s_error", s.Name), "error", err.Error(), "duration_ms", durationMS)
			s.emitCompleted(env, "failed", err.Error(), durationMS, err)
		} else {
			observability.RecordStageExecution(s.Name, "success", durationMS)
			span.SetStatus(codes.Ok, "success")
			s.Logger.Info(fmt.Sprintf("%s_completed", s.Name), "duration_ms", durationMS)
			s.emitCompleted(env, "completed", summarizeOutput(output), durationMS, nil)
		}
	}()

	// Pre-process hook
	if s.PreProcess != nil {
		env, err = s.PreProcess(env)
		if err != nil {
			return env, err
		}
	}

	// Main processing based on capabilities
	switch {
	case s.UseMock && s.MockHandler != nil:
		output, err = s.MockHandler(env)
	case s.Config.Kind == config.StageKindLLM:
		output, err = s.llmProcessWithRetry(ctx, env, &llmCalls)
	case s.Core != nil:
		output, err = s.Core(ctx, env)
	default:
		err = fmt.Errorf("stage '%s' is deterministic but has no core hook", s.Name)
	}

	if err != nil {
		return env, err
	}

	// Validate required fields
	if err = s.validateOutput(output); err != nil {
		err = &ErrMalformedOutput{Stage: s.Name, Cause: err}
		return env, err
	}

	// Store output in envelope
	env.SetStageOutput(s.Config.OutputKey, output)

	// Post-process hook
	if s.PostProcess != nil {
		env, err = s.PostProcess(env, output)
		if err != nil {
			return env, err
		}
	}

	return env, nil
}

// llmProcessWithRetry retries once on malformed output per the error policy:
// the first parse failure re-asks the model, the second is fatal.
func (s *Stage) llmProcessWithRetry(ctx context.Context, env *envelope.Envelope, llmCalls *int) (map[string]any, error) {
	retries := s.Config.MaxRetries
	if retries < 0 {
		retries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		output, err := s.llmProcess(ctx, env, llmCalls)
		if err == nil {
			if fieldErr := s.validateOutput(output); fieldErr != nil {
				err = &ErrMalformedOutput{Stage: s.Name, Cause: fieldErr}
			} else {
				return output, nil
			}
		}
		lastErr = err

		var malformed *ErrMalformedOutput
		if !errors.As(err, &malformed) {
			return nil, err // transport/timeout errors are not retried here
		}
		s.Logger.Warning(fmt.Sprintf("%s_malformed_output", s.Name),
			"attempt", attempt+1,
			"error", err.Error(),
		)
	}
	return nil, lastErr
}

func (s *Stage) llmProcess(ctx context.Context, env *envelope.Envelope, llmCalls *int) (map[string]any, error) {
	// Build prompt
	prompt, err := s.buildPrompt(env)
	if err != nil {
		return nil, fmt.Errorf("building prompt for '%s': %w", s.Name, err)
	}

	// Build options
	opts := commbus.CompletionOptions{
		Model:    s.Config.ModelRole,
		JSONOnly: true,
	}
	if s.Config.MaxTokens != nil {
		opts.MaxTokens = *s.Config.MaxTokens
	}
	if s.Config.Temperature != nil {
		opts.Temperature = s.Config.Temperature
	}

	// Call LLM
	completion, err := s.LLM.Complete(ctx, prompt, opts)
	if err != nil {
		return nil, fmt.Errorf("llm completion failed: %w", err)
	}

	*llmCalls++
	env.ResourceUsage.LLMCalls++
	env.ResourceUsage.TokensIn += completion.TokensIn
	env.ResourceUsage.TokensOut += completion.TokensOut
	if s.Accountant != nil {
		s.Accountant.RecordLLMCall(env.RequestID, completion.TokensIn, completion.TokensOut)
	}

	s.Logger.Debug(fmt.Sprintf("%s_llm_response", s.Name),
		"response_length", len(completion.Text),
		"response_preview", truncate(completion.Text, 200),
	)

	// Parse JSON response
	output, err := extractAndParseJSON(completion.Text)
	if err != nil {
		return nil, &ErrMalformedOutput{Stage: s.Name, Cause: err}
	}

	return output, nil
}

func (s *Stage) buildPrompt(env *envelope.Envelope) (string, error) {
	// Context-builder hook takes precedence: it assembles the bounded input.
	if s.Prompt != nil {
		return s.Prompt(env)
	}

	// Registry lookup
	if s.Prompts != nil && s.Config.PromptKey != "" {
		prompt, err := s.Prompts.Get(s.Config.PromptKey, map[string]any{
			"query":      env.Query,
			"session_id": env.SessionID,
		})
		if err == nil {
			return prompt, nil
		}
		s.Logger.Warning(fmt.Sprintf("%s_prompt_registry_error", s.Name), "error", err.Error(), "key", s.Config.PromptKey)
	}

	// Fallback: minimal prompt
	return fmt.Sprintf("Process this request: %s", env.Query), nil
}

func (s *Stage) validateOutput(output map[string]any) error {
	for _, field := range s.Config.RequiredOutputFields {
		if _, exists := output[field]; !exists {
			return fmt.Errorf("stage '%s' output missing required field: %s", s.Name, field)
		}
	}
	return nil
}

func (s *Stage) emitStarted(env *envelope.Envelope) {
	if s.EventCtx != nil {
		_ = s.EventCtx.EmitStageStarted(s.Name, env.ReintentCycles)
	}
}

func (s *Stage) emitCompleted(env *envelope.Envelope, status, summary string, durationMS int, err error) {
	if s.EventCtx != nil {
		_ = s.EventCtx.EmitStageCompleted(s.Name, env.ReintentCycles, status, summary, durationMS, err)
	}
}

// Helper functions

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func summarizeOutput(output map[string]any) string {
	if output == nil {
		return ""
	}
	keys := make([]string, 0, len(output))
	for k := range output {
		keys = append(keys, k)
	}
	data, err := json.Marshal(keys)
	if err != nil {
		return ""
	}
	return string(data)
}

func extractAndParseJSON(text string) (map[string]any, error) {
	// Try direct parse first
	var result map[string]any
	if err := json.Unmarshal([]byte(text), &result); err == nil {
		return result, nil
	}

	// Try to find JSON object in text
	start := -1
	braceCount := 0
	for i, c := range text {
		if c == '{' {
			if start == -1 {
				start = i
			}
			braceCount++
		} else if c == '}' {
			braceCount--
			if braceCount == 0 && start != -1 {
				jsonStr := text[start : i+1]
				if err := json.Unmarshal([]byte(jsonStr), &result); err == nil {
					return result, nil
				}
			}
		}
	}

	return nil, fmt.Errorf("no valid JSON object found in response")
}
