package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/config"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/envelope"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/testutil"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/tools"
)

func executorDeps(t *testing.T, storage *testutil.InMemoryStorage, acct *testutil.MockAccountant) Deps {
	t.Helper()
	exec := config.DefaultExecutionConfig()
	registry, err := tools.BuildRegistry(storage, nil, tools.ContextBoundsFromConfig(exec))
	require.NoError(t, err)
	return Deps{
		Exec:       exec,
		Logger:     testutil.NewMockLogger(),
		Registry:   registry,
		Accountant: acct,
	}
}

func envWithPlan(t *testing.T, steps ...map[string]any) *envelope.Envelope {
	t.Helper()
	env := envelope.New("r1", "", "q")
	env.SetStageOutput(envelope.StagePlanner, planOutput(steps...))
	return env
}

func TestExecutor_SearchSuccessExtractsCitations(t *testing.T) {
	storage := testutil.NewInMemoryStorage().AddSymbol("login", "src/auth/login.py", "function", 42)
	acct := testutil.NewMockAccountant()
	deps := executorDeps(t, storage, acct)

	env := envWithPlan(t, searchStep("login"))
	output, err := executorCore(deps)(context.Background(), env)
	require.NoError(t, err)

	out, err := envelope.DecodeExecutorOutput(output)
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.Equal(t, envelope.ToolStatusSuccess, out.Results[0].Status)
	assert.Equal(t, "exact_symbol", out.Results[0].FoundVia)

	assert.Equal(t, []string{"src/auth/login.py:42"}, env.Citations())
	assert.Equal(t, []string{"search_code"}, acct.ToolCalls)
	assert.Greater(t, acct.CodeTokens, 0, "successful results charge code tokens")
	assert.Len(t, env.AttemptHistory, 1)
}

func TestExecutor_UnregisteredToolMarkedUnavailableAndPlanContinues(t *testing.T) {
	storage := testutil.NewInMemoryStorage().AddSymbol("login", "src/auth/login.py", "function", 42)
	acct := testutil.NewMockAccountant()
	deps := executorDeps(t, storage, acct)

	// BuildRegistry only registers read-only tools; "summarize_code" is
	// simply absent.
	env := envWithPlan(t,
		map[string]any{"tool_name": "summarize_code", "arguments": map[string]any{}, "rationale": "r"},
		searchStep("login"),
	)

	// The planner hook rejects unknown tool names before execution, so
	// drive the executor directly with the raw plan.
	output, err := executorCore(deps)(context.Background(), env)
	require.NoError(t, err)

	out, err := envelope.DecodeExecutorOutput(output)
	require.NoError(t, err)
	require.Len(t, out.Results, 2)
	assert.Equal(t, envelope.ToolStatusToolUnavailable, out.Results[0].Status)
	assert.Equal(t, envelope.ToolStatusSuccess, out.Results[1].Status, "the plan continues past an unavailable tool")
}

func TestExecutor_InvalidArgumentsFailTheStage(t *testing.T) {
	storage := testutil.NewInMemoryStorage()
	deps := executorDeps(t, storage, testutil.NewMockAccountant())

	env := envWithPlan(t, map[string]any{
		"tool_name": "search_code",
		"arguments": map[string]any{"qurey": "typo"},
		"rationale": "r",
	})

	_, err := executorCore(deps)(context.Background(), env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_arguments")
}

func TestExecutor_NotFoundIsNormalSignal(t *testing.T) {
	storage := testutil.NewInMemoryStorage()
	deps := executorDeps(t, storage, testutil.NewMockAccountant())

	env := envWithPlan(t, searchStep("ghost"), searchStep("phantom"))
	output, err := executorCore(deps)(context.Background(), env)
	require.NoError(t, err)

	out, err := envelope.DecodeExecutorOutput(output)
	require.NoError(t, err)
	require.Len(t, out.Results, 2, "not_found never stops the plan")
	for _, r := range out.Results {
		assert.Equal(t, envelope.ToolStatusNotFound, r.Status)
	}
	assert.Empty(t, env.Citations())

	// All five search strategies attempted per miss.
	assert.Len(t, env.AttemptHistory, 10)
}

func TestExecutor_BudgetStopsRemainingSteps(t *testing.T) {
	storage := testutil.NewInMemoryStorage().AddSymbol("login", "src/auth/login.py", "function", 42)
	acct := testutil.NewMockAccountant()
	acct.DenyFromCheck = 1 // the check after the first step is denied
	deps := executorDeps(t, storage, acct)

	env := envWithPlan(t, searchStep("login"), searchStep("login"), searchStep("login"))
	output, err := executorCore(deps)(context.Background(), env)
	require.NoError(t, err)

	out, err := envelope.DecodeExecutorOutput(output)
	require.NoError(t, err)
	assert.Len(t, out.Results, 1, "the plan stops once the budget is spent")
}

func TestExecutor_NoPlanYieldsEmptyResults(t *testing.T) {
	deps := executorDeps(t, testutil.NewInMemoryStorage(), testutil.NewMockAccountant())
	env := envelope.New("r1", "", "q")

	output, err := executorCore(deps)(context.Background(), env)
	require.NoError(t, err)

	results, ok := output["results"].([]any)
	require.True(t, ok)
	assert.Empty(t, results)
}

func TestExecutor_ReadCodeChargesFileRead(t *testing.T) {
	storage := testutil.NewInMemoryStorage().
		AddFile("src/auth/login.py", "def login(user):", "    pass")
	acct := testutil.NewMockAccountant()
	deps := executorDeps(t, storage, acct)

	env := envWithPlan(t, readStep("src/auth/login.py"))
	_, err := executorCore(deps)(context.Background(), env)
	require.NoError(t, err)

	assert.Equal(t, 1, acct.FilesRead)
	assert.Equal(t, []string{"src/auth/login.py:1"}, env.Citations())
}
