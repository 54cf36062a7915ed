package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jeeves-cluster-organization/codeanalysis/commbus"
)

// MockProvider is a deterministic in-process LLM provider. Responses are
// either scripted by prompt substring or drained from a FIFO queue. It backs
// the "mock" provider config and any test that drives the pipeline without
// stage-level mock handlers.
type MockProvider struct {
	mu        sync.Mutex
	responses []string          // FIFO queue, consumed first
	scripted  map[string]string // prompt substring -> response
	calls     []string          // prompts received, in order
	failWith  error
}

// NewMockProvider creates an empty mock provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{scripted: make(map[string]string)}
}

// Enqueue appends responses to the FIFO queue.
func (p *MockProvider) Enqueue(responses ...string) *MockProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = append(p.responses, responses...)
	return p
}

// Script registers a response returned whenever the prompt contains substr.
// The queue takes precedence over scripted responses.
func (p *MockProvider) Script(substr, response string) *MockProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripted[substr] = response
	return p
}

// FailWith makes every subsequent call return err.
func (p *MockProvider) FailWith(err error) *MockProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failWith = err
	return p
}

// Calls returns the prompts received so far, in order.
func (p *MockProvider) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.calls))
	copy(out, p.calls)
	return out
}

// Complete implements commbus.LLMProvider.
func (p *MockProvider) Complete(ctx context.Context, prompt string, opts commbus.CompletionOptions) (*commbus.Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, prompt)

	if p.failWith != nil {
		return nil, p.failWith
	}

	var text string
	switch {
	case len(p.responses) > 0:
		text = p.responses[0]
		p.responses = p.responses[1:]
	default:
		found := false
		for substr, response := range p.scripted {
			if strings.Contains(prompt, substr) {
				text = response
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("mock provider: no scripted response for prompt %q", truncatePrompt(prompt))
		}
	}

	// Rough token accounting keeps usage counters meaningful in tests.
	return &commbus.Completion{
		Text:      text,
		TokensIn:  len(prompt) / 4,
		TokensOut: len(text) / 4,
	}, nil
}

// Stream implements commbus.LLMProvider.
func (p *MockProvider) Stream(ctx context.Context, prompt string, opts commbus.CompletionOptions) (<-chan commbus.CompletionDelta, error) {
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

func truncatePrompt(s string) string {
	if len(s) <= 80 {
		return s
	}
	return s[:80] + "..."
}

var _ commbus.LLMProvider = (*MockProvider)(nil)
