package grpc

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/jeeves-cluster-organization/codeanalysis/commbus"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/agents"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/config"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/envelope"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/kernel"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/llm"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/pipeline"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/runtime"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/service"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/store"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/tools"
)

// testLogger is a no-op structured logger for tests.
type testLogger struct{}

func (l testLogger) Debug(msg string, args ...any)        {}
func (l testLogger) Info(msg string, args ...any)         {}
func (l testLogger) Warning(msg string, args ...any)      {}
func (l testLogger) Error(msg string, args ...any)        {}
func (l testLogger) Bind(args ...any) commbus.Logger      { return l }
func (l testLogger) Warn(msg string, keysAndValues ...any) {}

// testEngine is a fully wired engine over an in-memory repository, with
// mock handlers standing in for the LLM stages.
type testEngine struct {
	Facade *service.Facade
	Store  *store.Store
	Kernel *kernel.Kernel
	Runner *runtime.PipelineRunner
}

// newTestEngine builds an engine whose store is seeded with
// src/auth/login.py defining login at line 42, and whose LLM stages are
// mocked to plan one search_code("login") call and cite the hit.
func newTestEngine(t *testing.T) *testEngine {
	t.Helper()

	logger := testLogger{}
	dbPath := filepath.Join(t.TempDir(), "engine.db")
	st, err := store.Open(dbPath, store.Options{}, logger)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	seedLoginFixture(t, st)

	exec := config.DefaultExecutionConfig()
	pipelineCfg := config.DefaultAnalysisPipeline(exec)

	counter, err := llm.NewTokenCounter()
	if err != nil {
		t.Fatalf("token counter: %v", err)
	}

	registry, err := tools.BuildRegistry(st, counter, tools.ContextBoundsFromConfig(exec))
	if err != nil {
		t.Fatalf("building registry: %v", err)
	}

	k := kernel.NewKernel(logger, &kernel.KernelConfig{
		DefaultQuota:     kernel.QuotaFromExecutionConfig(exec),
		DefaultRateLimit: &kernel.RateLimitConfig{RequestsPerMinute: 10000, RequestsPerHour: 100000, RequestsPerDay: 1000000},
	})
	accountant := kernel.NewAccountant(k)

	provider := llm.NewMockProvider()
	stages, err := pipeline.BuildStages(pipelineCfg, pipeline.Deps{
		Exec:       exec,
		Logger:     logger,
		LLMFactory: llm.SingleProviderFactory(provider),
		Registry:   registry,
		Counter:    counter,
		Accountant: accountant,
		Sessions:   st,
	})
	if err != nil {
		t.Fatalf("building stages: %v", err)
	}

	runner, err := runtime.NewPipelineRunner(pipelineCfg, stages, logger, accountant)
	if err != nil {
		t.Fatalf("building runner: %v", err)
	}
	runner.Persistence = st
	runner.SetMocks(loginScenarioMocks())

	bus := commbus.NewInMemoryCommBus(5*time.Second, logger)
	facade := service.NewFacade(runner, k, bus, st, logger)

	return &testEngine{Facade: facade, Store: st, Kernel: k, Runner: runner}
}

// seedLoginFixture inserts the canonical fixture file and its symbol row.
func seedLoginFixture(t *testing.T, st *store.Store) {
	t.Helper()

	content := ""
	for i := 1; i < 42; i++ {
		content += fmt.Sprintf("# line %d\n", i)
	}
	content += "def login(user):\n    return session_for(user)\n"

	if _, err := st.DB().Exec(
		`INSERT INTO files (path, content, language, indexed_at) VALUES (?, ?, 'python', ?)`,
		"src/auth/login.py", content, time.Now().UTC()); err != nil {
		t.Fatalf("seeding files: %v", err)
	}
	if _, err := st.DB().Exec(
		`INSERT INTO code_index (path, symbol, kind, line_start, line_end, language) VALUES (?, 'login', 'function', 42, 43, 'python')`,
		"src/auth/login.py"); err != nil {
		t.Fatalf("seeding code_index: %v", err)
	}
}

// loginScenarioMocks returns deterministic stage outputs for the
// find-symbol scenario: one search, one claim, one approval.
func loginScenarioMocks() map[string]agents.MockHandler {
	return map[string]agents.MockHandler{
		envelope.StageIntent: func(env *envelope.Envelope) (map[string]any, error) {
			return map[string]any{
				"classified_intent":      "find_symbol",
				"goals":                  []any{"locate the definition of login"},
				"clarification_required": false,
			}, nil
		},
		envelope.StagePlanner: func(env *envelope.Envelope) (map[string]any, error) {
			return map[string]any{
				"steps": []any{
					map[string]any{
						"tool_name": "search_code",
						"arguments": map[string]any{"query": "login"},
						"rationale": "locate the symbol before reading anything",
					},
				},
				"context_budget_remaining": 20000,
			}, nil
		},
		envelope.StageSynthesizer: func(env *envelope.Envelope) (map[string]any, error) {
			return map[string]any{
				"claims": []any{
					map[string]any{
						"text":                 "login is defined in src/auth/login.py",
						"supporting_citations": []any{"src/auth/login.py:42"},
					},
				},
			}, nil
		},
		envelope.StageCritic: func(env *envelope.Envelope) (map[string]any, error) {
			return map[string]any{
				"verdict": "approve",
				"reason":  "claims cite observed evidence",
			}, nil
		},
	}
}

// newBufconnClient serves the engine over an in-process listener and
// returns a connected client.
func newBufconnClient(t *testing.T, engine *testEngine) *AnalysisClient {
	t.Helper()

	listener := bufconn.Listen(1 << 20)
	server := NewServer(NewAnalysisServer(engine.Facade, testLogger{}), testLogger{})

	go func() {
		_ = server.Serve(listener)
	}()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dialing bufconn: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return NewAnalysisClient(conn)
}
