// Package llm provides LLM provider adapters implementing the canonical
// commbus.LLMProvider protocol. The engine only ever sees Complete and
// Stream; transport, authentication, and retry policy live here.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/jeeves-cluster-organization/codeanalysis/commbus"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/observability"
)

const defaultMaxTokens = 2000

// jsonOnlySystemPrompt constrains the model to a single JSON object, which
// is what every LLM stage's post-hook expects to parse.
const jsonOnlySystemPrompt = "Respond with a single JSON object and nothing else: no prose, no code fences."

// AnthropicProvider implements commbus.LLMProvider over the Anthropic API.
type AnthropicProvider struct {
	client anthropic.Client
	model  anthropic.Model
	logger commbus.Logger
}

// NewAnthropicProvider creates a provider for the given model.
func NewAnthropicProvider(apiKey, model string, logger commbus.Logger) *AnthropicProvider {
	return &AnthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
		logger: logger,
	}
}

// Complete implements commbus.LLMProvider.
func (p *AnthropicProvider) Complete(ctx context.Context, prompt string, opts commbus.CompletionOptions) (*commbus.Completion, error) {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	model := p.model
	// Options carry a model role; an explicit real model id wins, roles keep
	// the provider default.
	if opts.Model != "" && isModelID(opts.Model) {
		model = anthropic.Model(opts.Model)
	}

	params := anthropic.MessageNewParams{
		Model:     model,
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if opts.Temperature != nil {
		params.Temperature = anthropic.Float(*opts.Temperature)
	}
	if opts.JSONOnly {
		params.System = []anthropic.TextBlockParam{{
			Text: jsonOnlySystemPrompt,
			Type: "text",
		}}
	}

	start := time.Now()
	resp, err := p.client.Messages.New(ctx, params)
	durationMS := int(time.Since(start).Milliseconds())

	if err != nil {
		observability.RecordLLMCall("anthropic", string(model), "error", durationMS)
		if p.logger != nil {
			p.logger.Error("anthropic_completion_failed", "model", string(model), "error", err.Error())
		}
		return nil, fmt.Errorf("anthropic completion: %w", err)
	}
	if resp == nil || len(resp.Content) == 0 {
		observability.RecordLLMCall("anthropic", string(model), "error", durationMS)
		return nil, fmt.Errorf("anthropic completion: empty response")
	}

	var text string
	for i := range resp.Content {
		block := &resp.Content[i]
		if block.Type == "text" {
			text += block.AsText().Text
		}
	}

	observability.RecordLLMCall("anthropic", string(model), "success", durationMS)
	return &commbus.Completion{
		Text:      text,
		TokensIn:  int(resp.Usage.InputTokens),
		TokensOut: int(resp.Usage.OutputTokens),
	}, nil
}

// Stream implements commbus.LLMProvider. Deltas are delivered at completion
// granularity: one content chunk followed by the final marker carrying the
// token counts.
func (p *AnthropicProvider) Stream(ctx context.Context, prompt string, opts commbus.CompletionOptions) (<-chan commbus.CompletionDelta, error) {
	ch := make(chan commbus.CompletionDelta, 2)
	go func() {
		defer close(ch)
		completion, err := p.Complete(ctx, prompt, opts)
		if err != nil {
			ch <- commbus.CompletionDelta{Final: true}
			return
		}
		ch <- commbus.CompletionDelta{Delta: completion.Text}
		ch <- commbus.CompletionDelta{
			Final:     true,
			TokensIn:  completion.TokensIn,
			TokensOut: completion.TokensOut,
		}
	}()
	return ch, nil
}

// isModelID distinguishes a concrete model identifier ("claude-...") from a
// pipeline model role ("planner", "critic").
func isModelID(s string) bool {
	return len(s) > 7 && s[:7] == "claude-"
}

var _ commbus.LLMProvider = (*AnthropicProvider)(nil)
