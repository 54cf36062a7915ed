package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/codeanalysis/commbus"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/config"
)

// =============================================================================
// MOCK PROVIDER
// =============================================================================

func TestMockProvider_QueueDrainsInOrder(t *testing.T) {
	p := NewMockProvider().Enqueue(`{"a":1}`, `{"b":2}`)

	first, err := p.Complete(context.Background(), "prompt one", commbus.CompletionOptions{})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, first.Text)

	second, err := p.Complete(context.Background(), "prompt two", commbus.CompletionOptions{})
	require.NoError(t, err)
	assert.Equal(t, `{"b":2}`, second.Text)

	assert.Equal(t, []string{"prompt one", "prompt two"}, p.Calls())
}

func TestMockProvider_ScriptedBySubstring(t *testing.T) {
	p := NewMockProvider().Script("classify", `{"classified_intent":"search"}`)

	resp, err := p.Complete(context.Background(), "please classify this question", commbus.CompletionOptions{})
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "search")

	_, err = p.Complete(context.Background(), "unrelated prompt", commbus.CompletionOptions{})
	require.Error(t, err, "unscripted prompts are loud, not silent")
}

func TestMockProvider_FailWith(t *testing.T) {
	p := NewMockProvider().FailWith(errors.New("transport down"))
	_, err := p.Complete(context.Background(), "anything", commbus.CompletionOptions{})
	require.Error(t, err)
}

func TestMockProvider_TokenAccounting(t *testing.T) {
	p := NewMockProvider().Enqueue("response text")
	resp, err := p.Complete(context.Background(), "a reasonably sized prompt", commbus.CompletionOptions{})
	require.NoError(t, err)
	assert.Greater(t, resp.TokensIn, 0)
	assert.Greater(t, resp.TokensOut, 0)
}

func TestMockProvider_StreamDelivers(t *testing.T) {
	p := NewMockProvider().Enqueue("streamed answer")
	ch, err := p.Stream(context.Background(), "prompt", commbus.CompletionOptions{})
	require.NoError(t, err)

	var text string
	var sawFinal bool
	for delta := range ch {
		text += delta.Delta
		if delta.Final {
			sawFinal = true
			assert.Greater(t, delta.TokensOut, 0)
		}
	}
	assert.Equal(t, "streamed answer", text)
	assert.True(t, sawFinal)
}

func TestMockProvider_RespectsCancelledContext(t *testing.T) {
	p := NewMockProvider().Enqueue("never delivered")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Complete(ctx, "prompt", commbus.CompletionOptions{})
	require.Error(t, err)
}

// =============================================================================
// TOKEN COUNTER
// =============================================================================

func TestTokenCounter_Count(t *testing.T) {
	counter, err := NewTokenCounter()
	require.NoError(t, err)

	assert.Equal(t, 0, counter.Count(""))
	short := counter.Count("hello world")
	long := counter.Count("hello world, this is a much longer piece of text about code analysis")
	assert.Greater(t, short, 0)
	assert.Greater(t, long, short)
}

func TestTokenCounter_WithinLimit(t *testing.T) {
	counter, err := NewTokenCounter()
	require.NoError(t, err)

	assert.True(t, counter.WithinLimit("tiny", 100))
	assert.False(t, counter.WithinLimit("one two three four five six", 2))
}

func TestTokenCounter_NilFallback(t *testing.T) {
	var counter *TokenCounter
	assert.Equal(t, len("abcdefgh")/4, counter.Count("abcdefgh"))
}

// =============================================================================
// HASH EMBEDDER
// =============================================================================

func TestHashEmbedder_DeterministicUnitVectors(t *testing.T) {
	e := NewHashEmbedder(384)
	ctx := context.Background()

	a, err := e.Embed(ctx, "func login(user string)")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "func login(user string)")
	require.NoError(t, err)
	assert.Equal(t, a, b, "embedding is deterministic")
	assert.Len(t, a, 384)

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-5, "vectors are unit length")
}

func TestHashEmbedder_DifferentTextsDiffer(t *testing.T) {
	e := NewHashEmbedder(384)
	ctx := context.Background()

	a, err := e.Embed(ctx, "login handler")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "database migration")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestHashEmbedder_Batch(t *testing.T) {
	e := NewHashEmbedder(16)
	out, err := e.EmbedBatch(context.Background(), []string{"one", "two"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, 16, e.Dimension())
}

// =============================================================================
// FACTORY
// =============================================================================

func TestSingleProviderFactory(t *testing.T) {
	p := NewMockProvider()
	factory := SingleProviderFactory(p)
	assert.Same(t, commbus.LLMProvider(p), factory("planner"))
	assert.Same(t, commbus.LLMProvider(p), factory("critic"))
}

func TestNewProviderFromConfig(t *testing.T) {
	t.Run("mock", func(t *testing.T) {
		p, err := NewProviderFromConfig(config.LLMConfig{Provider: "mock"}, nil)
		require.NoError(t, err)
		assert.IsType(t, &MockProvider{}, p)
	})

	t.Run("anthropic requires key", func(t *testing.T) {
		t.Setenv("TEST_ANTHROPIC_KEY", "")
		_, err := NewProviderFromConfig(config.LLMConfig{
			Provider: "anthropic", Model: "claude-sonnet-4-20250514", APIKeyEnv: "TEST_ANTHROPIC_KEY",
		}, nil)
		require.Error(t, err)
	})

	t.Run("anthropic with key", func(t *testing.T) {
		t.Setenv("TEST_ANTHROPIC_KEY", "sk-test")
		p, err := NewProviderFromConfig(config.LLMConfig{
			Provider: "anthropic", Model: "claude-sonnet-4-20250514", APIKeyEnv: "TEST_ANTHROPIC_KEY",
		}, nil)
		require.NoError(t, err)
		assert.IsType(t, &AnthropicProvider{}, p)
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := NewProviderFromConfig(config.LLMConfig{Provider: "oracle"}, nil)
		require.Error(t, err)
	})
}

func TestIsModelID(t *testing.T) {
	assert.True(t, isModelID("claude-sonnet-4-20250514"))
	assert.False(t, isModelID("planner"))
	assert.False(t, isModelID(""))
}
