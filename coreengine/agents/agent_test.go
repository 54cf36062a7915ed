package agents

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/config"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/envelope"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/llm"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/testutil"
)

func llmStageConfig() *config.StageConfig {
	return &config.StageConfig{
		Name:                 "intent",
		Kind:                 config.StageKindLLM,
		ModelRole:            "intent",
		MaxRetries:           1,
		RequiredOutputFields: []string{"classified_intent"},
	}
}

func deterministicStageConfig() *config.StageConfig {
	return &config.StageConfig{
		Name: "perception",
		Kind: config.StageKindDeterministic,
	}
}

func TestNewStage_Validation(t *testing.T) {
	logger := testutil.NewMockLogger()

	t.Run("llm stage requires provider", func(t *testing.T) {
		_, err := NewStage(llmStageConfig(), logger, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no llm provider")
	})

	t.Run("deterministic stage needs none", func(t *testing.T) {
		stage, err := NewStage(deterministicStageConfig(), logger, nil)
		require.NoError(t, err)
		assert.Equal(t, "perception", stage.Name)
	})
}

func TestStageProcess_DeterministicCore(t *testing.T) {
	stage, err := NewStage(deterministicStageConfig(), testutil.NewMockLogger(), nil)
	require.NoError(t, err)
	stage.Core = func(ctx context.Context, env *envelope.Envelope) (map[string]any, error) {
		return map[string]any{"normalized_query": env.Query}, nil
	}

	env := envelope.New("r1", "", "hello")
	env, err = stage.Process(context.Background(), env)
	require.NoError(t, err)

	raw, ok := env.StageOutput("perception")
	require.True(t, ok)
	assert.Equal(t, "hello", raw.(map[string]any)["normalized_query"])
	assert.Equal(t, 1, env.ResourceUsage.AgentHops)
}

func TestStageProcess_DeterministicWithoutCoreFails(t *testing.T) {
	stage, err := NewStage(deterministicStageConfig(), testutil.NewMockLogger(), nil)
	require.NoError(t, err)

	_, err = stage.Process(context.Background(), envelope.New("r1", "", "q"))
	require.Error(t, err)
}

func TestStageProcess_LLMParsesJSONAndRecordsUsage(t *testing.T) {
	provider := llm.NewMockProvider().Enqueue(`{"classified_intent": "explain"}`)
	stage, err := NewStage(llmStageConfig(), testutil.NewMockLogger(), provider)
	require.NoError(t, err)

	acct := testutil.NewMockAccountant()
	stage.Accountant = acct

	env := envelope.New("r1", "", "q")
	env, err = stage.Process(context.Background(), env)
	require.NoError(t, err)

	raw, ok := env.StageOutput("intent")
	require.True(t, ok)
	assert.Equal(t, "explain", raw.(map[string]any)["classified_intent"])
	assert.Equal(t, 1, env.ResourceUsage.LLMCalls)
	assert.Greater(t, env.ResourceUsage.TokensIn, 0)
	assert.Equal(t, 1, acct.LLMCalls)
}

func TestStageProcess_MalformedOutputRetriedOnce(t *testing.T) {
	provider := llm.NewMockProvider().Enqueue(
		"this is not json at all",
		`{"classified_intent": "search"}`,
	)
	stage, err := NewStage(llmStageConfig(), testutil.NewMockLogger(), provider)
	require.NoError(t, err)

	env := envelope.New("r1", "", "q")
	env, err = stage.Process(context.Background(), env)
	require.NoError(t, err, "one malformed response is retried")
	assert.Len(t, provider.Calls(), 2)

	raw, _ := env.StageOutput("intent")
	assert.Equal(t, "search", raw.(map[string]any)["classified_intent"])
}

func TestStageProcess_SecondMalformedOutputIsFatal(t *testing.T) {
	provider := llm.NewMockProvider().Enqueue("garbage one", "garbage two")
	stage, err := NewStage(llmStageConfig(), testutil.NewMockLogger(), provider)
	require.NoError(t, err)

	_, err = stage.Process(context.Background(), envelope.New("r1", "", "q"))
	require.Error(t, err)
	var malformed *ErrMalformedOutput
	assert.ErrorAs(t, err, &malformed)
	assert.Len(t, provider.Calls(), 2, "exactly one retry")
}

func TestStageProcess_MissingRequiredFieldRetried(t *testing.T) {
	provider := llm.NewMockProvider().Enqueue(
		`{"wrong_field": true}`,
		`{"classified_intent": "history"}`,
	)
	stage, err := NewStage(llmStageConfig(), testutil.NewMockLogger(), provider)
	require.NoError(t, err)

	env := envelope.New("r1", "", "q")
	env, err = stage.Process(context.Background(), env)
	require.NoError(t, err)

	raw, _ := env.StageOutput("intent")
	assert.Equal(t, "history", raw.(map[string]any)["classified_intent"])
}

func TestStageProcess_TransportErrorNotRetried(t *testing.T) {
	provider := llm.NewMockProvider().FailWith(errors.New("connection reset"))
	stage, err := NewStage(llmStageConfig(), testutil.NewMockLogger(), provider)
	require.NoError(t, err)

	_, err = stage.Process(context.Background(), envelope.New("r1", "", "q"))
	require.Error(t, err)
	assert.Len(t, provider.Calls(), 1, "transport errors are fatal, not retried here")
}

func TestStageProcess_MockHandlerSubstitutesLLM(t *testing.T) {
	provider := llm.NewMockProvider() // would fail: nothing scripted
	stage, err := NewStage(llmStageConfig(), testutil.NewMockLogger(), provider)
	require.NoError(t, err)

	stage.UseMock = true
	stage.MockHandler = func(env *envelope.Envelope) (map[string]any, error) {
		return map[string]any{"classified_intent": "find_symbol"}, nil
	}

	env := envelope.New("r1", "", "q")
	env, err = stage.Process(context.Background(), env)
	require.NoError(t, err)
	assert.Empty(t, provider.Calls(), "the mock handler is the only LLM substitution point")

	raw, _ := env.StageOutput("intent")
	assert.Equal(t, "find_symbol", raw.(map[string]any)["classified_intent"])
}

func TestStageProcess_HooksRunInOrder(t *testing.T) {
	stage, err := NewStage(deterministicStageConfig(), testutil.NewMockLogger(), nil)
	require.NoError(t, err)

	var order []string
	stage.PreProcess = func(env *envelope.Envelope) (*envelope.Envelope, error) {
		order = append(order, "pre")
		return env, nil
	}
	stage.Core = func(ctx context.Context, env *envelope.Envelope) (map[string]any, error) {
		order = append(order, "core")
		return map[string]any{}, nil
	}
	stage.PostProcess = func(env *envelope.Envelope, output map[string]any) (*envelope.Envelope, error) {
		order = append(order, "post")
		return env, nil
	}

	_, err = stage.Process(context.Background(), envelope.New("r1", "", "q"))
	require.NoError(t, err)
	assert.Equal(t, []string{"pre", "core", "post"}, order)
}

func TestStageProcess_PostHookErrorPropagates(t *testing.T) {
	stage, err := NewStage(deterministicStageConfig(), testutil.NewMockLogger(), nil)
	require.NoError(t, err)
	stage.Core = func(ctx context.Context, env *envelope.Envelope) (map[string]any, error) {
		return map[string]any{}, nil
	}
	stage.PostProcess = func(env *envelope.Envelope, output map[string]any) (*envelope.Envelope, error) {
		return env, errors.New("rejected by post hook")
	}

	_, err = stage.Process(context.Background(), envelope.New("r1", "", "q"))
	require.Error(t, err)
}

func TestStageProcess_EmitsEvents(t *testing.T) {
	stage, err := NewStage(deterministicStageConfig(), testutil.NewMockLogger(), nil)
	require.NoError(t, err)
	stage.Core = func(ctx context.Context, env *envelope.Envelope) (map[string]any, error) {
		return map[string]any{}, nil
	}

	ec := testutil.NewMockEventContext()
	stage.SetEventContext(ec)

	_, err = stage.Process(context.Background(), envelope.New("r1", "", "q"))
	require.NoError(t, err)

	require.Len(t, ec.Events, 2)
	assert.Equal(t, "started", ec.Events[0].Kind)
	assert.Equal(t, "completed", ec.Events[1].Kind)
	assert.Equal(t, "completed", ec.Events[1].Status)
}

func TestExtractAndParseJSON(t *testing.T) {
	t.Run("direct object", func(t *testing.T) {
		out, err := extractAndParseJSON(`{"a": 1}`)
		require.NoError(t, err)
		assert.Equal(t, float64(1), out["a"])
	})

	t.Run("object embedded in prose", func(t *testing.T) {
		out, err := extractAndParseJSON("Here you go:\n```\n{\"verdict\": \"approve\"}\n```")
		require.NoError(t, err)
		assert.Equal(t, "approve", out["verdict"])
	})

	t.Run("nested braces", func(t *testing.T) {
		out, err := extractAndParseJSON(`prefix {"outer": {"inner": 2}} suffix`)
		require.NoError(t, err)
		assert.NotNil(t, out["outer"])
	})

	t.Run("no json", func(t *testing.T) {
		_, err := extractAndParseJSON("nothing here")
		require.Error(t, err)
	})
}
