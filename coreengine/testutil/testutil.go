// Package testutil provides shared test utilities and mocks for integration tests.
//
// All mocks in this package are designed for testing the coreengine components
// in isolation without requiring external dependencies.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jeeves-cluster-organization/codeanalysis/commbus"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/envelope"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/tools"
)

// =============================================================================
// MOCK LOGGER
// =============================================================================

// MockLogger captures log entries for assertion.
type MockLogger struct {
	mu      sync.Mutex
	Entries []LogEntry
}

// LogEntry is one captured log call.
type LogEntry struct {
	Level   string
	Message string
	Fields  []any
}

// NewMockLogger creates an empty mock logger.
func NewMockLogger() *MockLogger {
	return &MockLogger{}
}

func (m *MockLogger) log(level, msg string, fields []any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entries = append(m.Entries, LogEntry{Level: level, Message: msg, Fields: fields})
}

func (m *MockLogger) Debug(msg string, args ...any)   { m.log("debug", msg, args) }
func (m *MockLogger) Info(msg string, args ...any)    { m.log("info", msg, args) }
func (m *MockLogger) Warning(msg string, args ...any) { m.log("warning", msg, args) }
func (m *MockLogger) Warn(msg string, args ...any)    { m.log("warning", msg, args) }
func (m *MockLogger) Error(msg string, args ...any)   { m.log("error", msg, args) }

// Bind returns the same logger; binding context is irrelevant for capture.
func (m *MockLogger) Bind(args ...any) commbus.Logger { return m }

// Messages returns the captured messages at the given level ("" = all).
func (m *MockLogger) Messages(level string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.Entries {
		if level == "" || e.Level == level {
			out = append(out, e.Message)
		}
	}
	return out
}

// Contains reports whether any captured message contains substr.
func (m *MockLogger) Contains(substr string) bool {
	for _, msg := range m.Messages("") {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

// =============================================================================
// MOCK EVENT CONTEXT
// =============================================================================

// StageEvent is one captured stage lifecycle emission.
type StageEvent struct {
	Stage    string
	Cycle    int
	Kind     string // "started", "completed"
	Status   string
	Summary  string
	Duration int
	Err      error
}

// MockEventContext captures stage event emissions.
type MockEventContext struct {
	mu     sync.Mutex
	Events []StageEvent
}

// NewMockEventContext creates an empty mock event context.
func NewMockEventContext() *MockEventContext {
	return &MockEventContext{}
}

// EmitStageStarted implements agents.EventContext.
func (m *MockEventContext) EmitStageStarted(stageName string, cycle int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, StageEvent{Stage: stageName, Cycle: cycle, Kind: "started"})
	return nil
}

// EmitStageCompleted implements agents.EventContext.
func (m *MockEventContext) EmitStageCompleted(stageName string, cycle int, status, summary string, durationMS int, err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, StageEvent{
		Stage: stageName, Cycle: cycle, Kind: "completed",
		Status: status, Summary: summary, Duration: durationMS, Err: err,
	})
	return nil
}

// StartedStages returns the stage names that emitted "started", in order.
func (m *MockEventContext) StartedStages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.Events {
		if e.Kind == "started" {
			out = append(out, e.Stage)
		}
	}
	return out
}

// =============================================================================
// MOCK ACCOUNTANT
// =============================================================================

// MockAccountant implements the accountant contract with scripted quota
// behavior.
type MockAccountant struct {
	mu sync.Mutex

	LLMCalls   int
	ToolCalls  []string
	CodeTokens int
	FilesRead  int
	Cycles     int
	Checks     int

	// DenyFromCheck makes CheckQuota fail from the Nth check onward
	// (0 = never deny).
	DenyFromCheck int
	DenyReason    string
}

// NewMockAccountant creates a permissive accountant.
func NewMockAccountant() *MockAccountant {
	return &MockAccountant{DenyReason: "max_total_code_tokens_exceeded"}
}

// RecordLLMCall implements the accountant contract.
func (m *MockAccountant) RecordLLMCall(requestID string, tokensIn, tokensOut int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LLMCalls++
}

// RecordToolCall implements the accountant contract.
func (m *MockAccountant) RecordToolCall(name, requestID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ToolCalls = append(m.ToolCalls, name)
}

// RecordCodeTokens implements the executor's bounds extension.
func (m *MockAccountant) RecordCodeTokens(requestID string, tokens, files int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CodeTokens += tokens
	m.FilesRead += files
}

// RecordReintentCycle implements the re-entry extension.
func (m *MockAccountant) RecordReintentCycle(requestID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Cycles++
}

// CheckQuota implements the accountant contract.
func (m *MockAccountant) CheckQuota(requestID string) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Checks++
	if m.DenyFromCheck > 0 && m.Checks >= m.DenyFromCheck {
		return false, m.DenyReason
	}
	return true, ""
}

// =============================================================================
// IN-MEMORY STORAGE
// =============================================================================

// InMemoryStorage is a scriptable tools.Storage for pipeline tests: symbol
// and grep fixtures plus whole files, no database.
type InMemoryStorage struct {
	mu sync.Mutex

	Symbols  map[string][]tools.SymbolMatch // symbol name -> matches
	GrepHits map[string][]tools.GrepMatch   // pattern substring -> matches
	Files    map[string][]string            // path -> lines
	Sessions map[string][]byte
	EventLog []string
}

// NewInMemoryStorage creates an empty in-memory storage.
func NewInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{
		Symbols:  make(map[string][]tools.SymbolMatch),
		GrepHits: make(map[string][]tools.GrepMatch),
		Files:    make(map[string][]string),
		Sessions: make(map[string][]byte),
	}
}

// AddSymbol scripts an exact-symbol hit.
func (s *InMemoryStorage) AddSymbol(name, path, kind string, line int) *InMemoryStorage {
	s.Symbols[name] = append(s.Symbols[name], tools.SymbolMatch{Path: path, Symbol: name, Kind: kind, Line: line})
	return s
}

// AddFile scripts file content.
func (s *InMemoryStorage) AddFile(path string, lines ...string) *InMemoryStorage {
	s.Files[path] = lines
	return s
}

func (s *InMemoryStorage) FindSymbolExact(ctx context.Context, name, scope string) ([]tools.SymbolMatch, error) {
	return s.Symbols[name], nil
}

func (s *InMemoryStorage) FindSymbolPartial(ctx context.Context, name, scope string) ([]tools.SymbolMatch, error) {
	var out []tools.SymbolMatch
	for symbol, matches := range s.Symbols {
		if strings.Contains(symbol, name) {
			out = append(out, matches...)
		}
	}
	return out, nil
}

func (s *InMemoryStorage) Grep(ctx context.Context, pattern string, caseSensitive bool, scope string, limit int) ([]tools.GrepMatch, error) {
	for substr, hits := range s.GrepHits {
		if strings.Contains(pattern, substr) {
			if limit > 0 && len(hits) > limit {
				return hits[:limit], nil
			}
			return hits, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStorage) SemanticSearch(ctx context.Context, query, scope string, limit int) ([]tools.VectorMatch, error) {
	return nil, nil
}

func (s *InMemoryStorage) FindSimilarFiles(ctx context.Context, path string, limit int) ([]tools.VectorMatch, error) {
	return nil, nil
}

func (s *InMemoryStorage) ReadFile(ctx context.Context, path string, startLine, endLine int) (*tools.FileSlice, error) {
	lines, ok := s.Files[path]
	if !ok {
		return nil, nil
	}
	if startLine <= 0 {
		startLine = 1
	}
	if endLine <= 0 || endLine > len(lines) {
		endLine = len(lines)
	}
	if startLine > len(lines) {
		return nil, nil
	}
	return &tools.FileSlice{Path: path, StartLine: startLine, Lines: lines[startLine-1 : endLine]}, nil
}

func (s *InMemoryStorage) GlobFiles(ctx context.Context, pattern, scope string) ([]string, error) {
	var out []string
	for path := range s.Files {
		if strings.Contains(path, strings.TrimSuffix(pattern, "*")) {
			out = append(out, path)
		}
	}
	return out, nil
}

func (s *InMemoryStorage) Tree(ctx context.Context, root string, maxDepth int) ([]tools.TreeEntry, error) {
	var out []tools.TreeEntry
	for path := range s.Files {
		out = append(out, tools.TreeEntry{Path: path, Depth: strings.Count(path, "/") + 1})
	}
	return out, nil
}

func (s *InMemoryStorage) GetFileSymbols(ctx context.Context, path string) ([]tools.SymbolMatch, error) {
	var out []tools.SymbolMatch
	for _, matches := range s.Symbols {
		for _, m := range matches {
			if m.Path == path {
				out = append(out, m)
			}
		}
	}
	return out, nil
}

func (s *InMemoryStorage) GetImports(ctx context.Context, path string) ([]string, error) {
	return nil, nil
}

func (s *InMemoryStorage) GetImporters(ctx context.Context, path string) ([]string, error) {
	return nil, nil
}

func (s *InMemoryStorage) GitLog(ctx context.Context, path string, limit int) ([]tools.GitLogEntry, error) {
	return nil, nil
}

func (s *InMemoryStorage) GitBlame(ctx context.Context, path string) ([]tools.GitBlameLine, error) {
	return nil, nil
}

func (s *InMemoryStorage) GitDiff(ctx context.Context, ref string) ([]tools.GitDiffHunk, error) {
	return nil, nil
}

func (s *InMemoryStorage) GitStatus(ctx context.Context) ([]string, error) { return nil, nil }

func (s *InMemoryStorage) SaveSession(ctx context.Context, sessionID string, state []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Sessions[sessionID] = state
	return nil
}

func (s *InMemoryStorage) LoadSession(ctx context.Context, sessionID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Sessions[sessionID], nil
}

// LoadState implements the perception stage's session loader.
func (s *InMemoryStorage) LoadState(ctx context.Context, sessionID string) ([]byte, error) {
	return s.LoadSession(ctx, sessionID)
}

// SaveState implements the runtime's persistence adapter.
func (s *InMemoryStorage) SaveState(ctx context.Context, sessionID string, state []byte) error {
	return s.SaveSession(ctx, sessionID, state)
}

func (s *InMemoryStorage) AppendEvent(ctx context.Context, requestID, eventType string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.EventLog = append(s.EventLog, requestID+":"+eventType)
	return nil
}

var _ tools.Storage = (*InMemoryStorage)(nil)

// =============================================================================
// ENVELOPE HELPERS
// =============================================================================

// NewTestEnvelope creates an envelope ready to run perception.
func NewTestEnvelope(query string) *envelope.Envelope {
	return envelope.New("req-test", "sess-test", query)
}

// AssertTerminated returns an error unless the envelope terminated with the
// given reason.
func AssertTerminated(env *envelope.Envelope, reason envelope.TerminationReason) error {
	if !env.Terminated {
		return fmt.Errorf("envelope is not terminated")
	}
	if env.TerminationReason != reason {
		return fmt.Errorf("terminated with %q, expected %q", env.TerminationReason, reason)
	}
	return nil
}
