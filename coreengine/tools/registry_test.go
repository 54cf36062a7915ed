package tools

import (
	"context"
	"testing"

	"github.com/jeeves-cluster-organization/codeanalysis/commbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopHandler(ctx context.Context, args map[string]any) (map[string]any, error) {
	return map[string]any{}, nil
}

func TestRegisterRejectsNonReadOnlyAtRegistrationTime(t *testing.T) {
	r := NewRegistry()

	err := r.Register(&Definition{Name: "delete_file", Category: CategoryPrimitive, Risk: commbus.RiskLevelWrite, Handler: noopHandler})
	require.Error(t, err, "a write-capable tool must be refused at registration time, not when it is later called")
	assert.False(t, r.Has("delete_file"))

	err = r.Register(&Definition{Name: "rm_rf", Category: CategoryPrimitive, Risk: commbus.RiskLevelDestructive, Handler: noopHandler})
	require.Error(t, err)
	assert.False(t, r.Has("rm_rf"))
}

func TestRegisterAcceptsReadOnly(t *testing.T) {
	r := NewRegistry()
	err := r.Register(&Definition{Name: "read_file", Category: CategoryPrimitive, Risk: commbus.RiskLevelReadOnly, Handler: noopHandler})
	require.NoError(t, err)
	assert.True(t, r.Has("read_file"))
}

func TestFreezeRejectsLateRegistration(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Definition{Name: "a", Risk: commbus.RiskLevelReadOnly, Handler: noopHandler}))
	r.Freeze()
	err := r.Register(&Definition{Name: "b", Risk: commbus.RiskLevelReadOnly, Handler: noopHandler})
	assert.Error(t, err)
}

func TestExecuteRejectsUnknownArguments(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Definition{
		Name: "read_file", Risk: commbus.RiskLevelReadOnly,
		Schema:  ParamSchema{Required: []string{"path"}},
		Handler: noopHandler,
	}))

	_, err := r.Execute(context.Background(), "read_file", map[string]any{"path": "a.go", "bogus": 1})
	assert.Error(t, err)

	_, err = r.Execute(context.Background(), "read_file", map[string]any{})
	assert.Error(t, err, "missing required argument must be rejected")
}

func TestExecuteUnregisteredToolIsUnavailable(t *testing.T) {
	r := NewRegistry()
	_, err := r.Execute(context.Background(), "nonexistent", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tool_unavailable")
}

func TestPlannerVisibleOnlyListsComposedTools(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Definition{Name: "search_code", Category: CategoryComposed, Risk: commbus.RiskLevelReadOnly, Handler: noopHandler}))
	require.NoError(t, r.Register(&Definition{Name: "read_file", Category: CategoryPrimitive, Risk: commbus.RiskLevelReadOnly, Handler: noopHandler}))

	visible := r.PlannerVisible()
	assert.Equal(t, []string{"search_code"}, visible)
}
