package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/envelope"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/testutil"
)

func TestPerception_NormalizesQuery(t *testing.T) {
	deps := testDeps()
	env := envelope.New("r1", "", "  Where   is \tlogin   defined?  ")

	output, err := perceptionCore(deps)(context.Background(), env)
	require.NoError(t, err)

	perception, err := envelope.DecodePerceptionOutput(output)
	require.NoError(t, err)
	assert.Equal(t, "Where is login defined?", perception.NormalizedQuery)
}

func TestPerception_IntentHints(t *testing.T) {
	deps := testDeps()

	cases := map[string][]string{
		"Where is login defined?":        {"find_symbol"},
		"Explain how errors are handled": {"explain"},
		"Trace the request flow":         {"trace_flow"},
		"When was this file changed?":    {"history"},
		"zzz qqq":                        nil,
	}

	for query, want := range cases {
		env := envelope.New("r1", "", query)
		output, err := perceptionCore(deps)(context.Background(), env)
		require.NoError(t, err)

		perception, err := envelope.DecodePerceptionOutput(output)
		require.NoError(t, err)
		assert.Equal(t, want, perception.IntentHints, query)
	}
}

func TestPerception_SessionDigest(t *testing.T) {
	storage := testutil.NewInMemoryStorage()

	// A previous request in the same session left a snapshot behind.
	prior := envelope.New("req-0", "sess-1", "how does auth work?")
	prior.AddCitation("src/auth/login.py:42")
	snapshot, err := prior.MarshalJSON()
	require.NoError(t, err)
	require.NoError(t, storage.SaveState(context.Background(), "sess-1", snapshot))

	deps := testDeps()
	deps.Sessions = storage

	env := envelope.New("req-1", "sess-1", "and where is logout?")
	output, err := perceptionCore(deps)(context.Background(), env)
	require.NoError(t, err)

	perception, err := envelope.DecodePerceptionOutput(output)
	require.NoError(t, err)
	assert.Contains(t, perception.SessionContextDigest, "how does auth work?")
	assert.Contains(t, perception.SessionContextDigest, "src/auth/login.py:42")
}

func TestPerception_NoSessionNoDigest(t *testing.T) {
	deps := testDeps()
	deps.Sessions = testutil.NewInMemoryStorage()

	env := envelope.New("req-1", "", "q")
	output, err := perceptionCore(deps)(context.Background(), env)
	require.NoError(t, err)

	perception, err := envelope.DecodePerceptionOutput(output)
	require.NoError(t, err)
	assert.Empty(t, perception.SessionContextDigest)
}
