package grpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/service"
)

// =============================================================================
// END-TO-END: UNARY QUERY
// =============================================================================

func TestQuery_EndToEnd(t *testing.T) {
	engine := newTestEngine(t)
	client := newBufconnClient(t, engine)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := client.Query(ctx, service.Request{Query: "Where is login defined?"})
	require.NoError(t, err)

	assert.Equal(t, "completed", resp.TerminationReason)
	assert.Equal(t, 0, resp.ReintentCycles)
	assert.Contains(t, resp.FinalResponse, "[src/auth/login.py:42]")
	assert.Contains(t, resp.Citations, "src/auth/login.py:42")
	assert.NotEmpty(t, resp.RequestID)
}

func TestQuery_UsageAccounted(t *testing.T) {
	engine := newTestEngine(t)
	client := newBufconnClient(t, engine)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := client.Query(ctx, service.Request{Query: "Where is login defined?"})
	require.NoError(t, err)

	// One planned tool call; seven stage hops on the approve path.
	assert.Equal(t, 1, resp.Usage.ToolCalls)
	assert.Equal(t, 7, resp.Usage.AgentHops)
}

// =============================================================================
// END-TO-END: STREAMING QUERY
// =============================================================================

func TestQueryStream_EndToEnd(t *testing.T) {
	engine := newTestEngine(t)
	client := newBufconnClient(t, engine)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	events, err := client.QueryStream(ctx, service.Request{Query: "Where is login defined?"})
	require.NoError(t, err)

	var stages []string
	var sawTerminal bool
	for ev := range events {
		switch {
		case ev.Stage != nil:
			if ev.Stage.Status == "started" {
				stages = append(stages, ev.Stage.Stage)
			}
		case ev.Terminal != nil:
			sawTerminal = true
			assert.Equal(t, "completed", string(ev.Terminal.TerminationReason))
			assert.Contains(t, ev.Terminal.Citations, "src/auth/login.py:42")
		}
	}

	require.True(t, sawTerminal, "stream must end with a terminal event")
	assert.Equal(t, []string{
		"perception", "intent", "planner", "executor", "synthesizer", "critic", "integration",
	}, stages, "stage events arrive in stage order")
}

// =============================================================================
// EVENT LOG
// =============================================================================

func TestQuery_AppendsEventLog(t *testing.T) {
	engine := newTestEngine(t)
	client := newBufconnClient(t, engine)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := client.Query(ctx, service.Request{Query: "Where is login defined?"})
	require.NoError(t, err)

	types, err := engine.Store.EventsForRequest(ctx, resp.RequestID)
	require.NoError(t, err)
	require.NotEmpty(t, types)
	assert.Equal(t, "request_admitted", types[0])
	assert.Equal(t, "terminal", types[len(types)-1])
}

// =============================================================================
// ERROR SURFACE
// =============================================================================

func TestQuery_DecodesArbitraryOptions(t *testing.T) {
	engine := newTestEngine(t)
	client := newBufconnClient(t, engine)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	zero := 0
	resp, err := client.Query(ctx, service.Request{
		Query:   "Where is login defined?",
		Options: &service.RequestOptions{MaxReintent: &zero},
	})
	require.NoError(t, err)
	assert.Equal(t, "completed", resp.TerminationReason)
}
