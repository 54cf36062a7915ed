package envelope

import (
	"encoding/json"
	"fmt"
	"time"
)

// AttemptRecord is one entry in a tool's fallback-strategy attempt trail.
type AttemptRecord struct {
	Tool      string    `json:"tool"`
	Strategy  string    `json:"strategy"`
	Arguments any       `json:"arguments,omitempty"`
	Outcome   string    `json:"outcome"` // "hit", "miss", "error"
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// ResourceUsage is the cumulative counters tracked against a request.
type ResourceUsage struct {
	LLMCalls  int `json:"llm_calls"`
	ToolCalls int `json:"tool_calls"`
	AgentHops int `json:"agent_hops"`
	TokensIn  int `json:"tokens_in"`
	TokensOut int `json:"tokens_out"`
}

// Event is a stage-boundary notification emitted on the runtime's outbound channel.
type Event struct {
	RequestID string      `json:"request_id"`
	Stage     string      `json:"stage"`
	Status    EventStatus `json:"status"`
	Summary   string      `json:"summary"`
	Timestamp time.Time   `json:"timestamp"`
}

// Envelope is the mutable per-request working memory owned exclusively by the
// pipeline runtime for the duration of one request. Only the runtime task for
// a given request mutates it; everyone else gets read-only snapshots.
type Envelope struct {
	RequestID         string
	SessionID         string
	Query             string
	CurrentStage      string
	StageOutputs      map[string]any // stage name -> structured output (see stages.go)
	stageOrderSeen    []string       // insertion order, for replay
	AttemptHistory    []AttemptRecord
	citations         []string // ordered, de-duplicated
	citationSet       map[string]bool
	ReintentCycles    int
	ResourceUsage     ResourceUsage
	Terminated        bool
	TerminationReason TerminationReason
	CreatedAt         time.Time
}

// New creates an envelope admitted for the given query, ready to run Perception.
func New(requestID, sessionID, query string) *Envelope {
	return &Envelope{
		RequestID:    requestID,
		SessionID:    sessionID,
		Query:        query,
		CurrentStage: StagePerception,
		StageOutputs: make(map[string]any),
		citationSet:  make(map[string]bool),
		CreatedAt:    time.Now().UTC(),
	}
}

// SetStageOutput records a stage's structured output, preserving insertion order.
// A stage name appears at most once per cycle; Reenter clears stages 2-6 before the
// next cycle writes them again.
func (e *Envelope) SetStageOutput(stage string, output any) {
	if _, exists := e.StageOutputs[stage]; !exists {
		e.stageOrderSeen = append(e.stageOrderSeen, stage)
	}
	e.StageOutputs[stage] = output
}

// StageOutput fetches a previously recorded stage output, if any.
func (e *Envelope) StageOutput(stage string) (any, bool) {
	v, ok := e.StageOutputs[stage]
	return v, ok
}

// AddCitation appends a path:line citation to the monotonically growing set,
// de-duplicating while preserving first-seen order.
func (e *Envelope) AddCitation(c string) {
	if c == "" || e.citationSet[c] {
		return
	}
	e.citationSet[c] = true
	e.citations = append(e.citations, c)
}

// AddCitations appends many citations in order.
func (e *Envelope) AddCitations(cs []string) {
	for _, c := range cs {
		e.AddCitation(c)
	}
}

// Citations returns the ordered, de-duplicated citation set observed so far.
func (e *Envelope) Citations() []string {
	out := make([]string, len(e.citations))
	copy(out, e.citations)
	return out
}

// HasCitation reports whether a path:line has been observed in this request.
func (e *Envelope) HasCitation(c string) bool {
	return e.citationSet[c]
}

// AppendAttempt records one fallback-strategy attempt. Attempt history is
// never cleared, including across re-entry cycles.
func (e *Envelope) AppendAttempt(rec AttemptRecord) {
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}
	e.AttemptHistory = append(e.AttemptHistory, rec)
}

// CanReenter reports whether another critic-driven re-entry is still within budget.
func (e *Envelope) CanReenter() bool {
	return e.ReintentCycles < MaxReintentCycles
}

// Reenter sends the envelope back to Intent: clears outputs of stages 2-6,
// preserves citations and attempt history, and bumps the cycle counter.
// Returns an error if the cycle budget is already exhausted.
func (e *Envelope) Reenter(focus string) error {
	if !e.CanReenter() {
		return fmt.Errorf("reintent cycle budget exhausted: %d >= %d", e.ReintentCycles, MaxReintentCycles)
	}
	e.ReintentCycles++
	for stage := range reentryStages {
		delete(e.StageOutputs, stage)
	}
	e.stageOrderSeen = filterOut(e.stageOrderSeen, reentryStages)
	e.CurrentStage = StageIntent
	if focus != "" {
		e.StageOutputs[reintentFocusKey] = focus
		e.stageOrderSeen = append(e.stageOrderSeen, reintentFocusKey)
	}
	return nil
}

const reintentFocusKey = "__reintent_focus__"

// ReintentFocus returns the suggested focus carried from the critic into the
// next Intent invocation, if any.
func (e *Envelope) ReintentFocus() string {
	v, ok := e.StageOutputs[reintentFocusKey]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Terminate marks the envelope terminated. Once true, no further stage runs
// and no further state is mutated except observability counters.
func (e *Envelope) Terminate(reason TerminationReason) {
	if e.Terminated {
		return
	}
	e.Terminated = true
	e.TerminationReason = reason
}

func filterOut(order []string, drop map[string]bool) []string {
	out := order[:0:0]
	for _, s := range order {
		if !drop[s] {
			out = append(out, s)
		}
	}
	return out
}

// Clone returns a deep copy suitable for handing to observers without risking
// mutation of the runtime's own copy.
func (e *Envelope) Clone() *Envelope {
	c := &Envelope{
		RequestID:         e.RequestID,
		SessionID:         e.SessionID,
		Query:             e.Query,
		CurrentStage:      e.CurrentStage,
		ReintentCycles:    e.ReintentCycles,
		ResourceUsage:     e.ResourceUsage,
		Terminated:        e.Terminated,
		TerminationReason: e.TerminationReason,
		CreatedAt:         e.CreatedAt,
	}
	c.StageOutputs = make(map[string]any, len(e.StageOutputs))
	for k, v := range e.StageOutputs {
		c.StageOutputs[k] = v
	}
	c.stageOrderSeen = append([]string(nil), e.stageOrderSeen...)
	c.AttemptHistory = append([]AttemptRecord(nil), e.AttemptHistory...)
	c.citations = append([]string(nil), e.citations...)
	c.citationSet = make(map[string]bool, len(e.citationSet))
	for k, v := range e.citationSet {
		c.citationSet[k] = v
	}
	return c
}

// snapshot is the JSON-serializable form of an Envelope, used for persistence
// (session_state) and for replay in idempotency tests.
type snapshot struct {
	RequestID         string            `json:"request_id"`
	SessionID         string            `json:"session_id"`
	Query             string            `json:"query"`
	CurrentStage      string            `json:"current_stage"`
	StageOrder        []string          `json:"stage_order"`
	StageOutputs      map[string]any    `json:"stage_outputs"`
	AttemptHistory    []AttemptRecord   `json:"attempt_history"`
	Citations         []string          `json:"citations"`
	ReintentCycles    int               `json:"reintent_cycles"`
	ResourceUsage     ResourceUsage     `json:"resource_usage"`
	Terminated        bool              `json:"terminated"`
	TerminationReason TerminationReason `json:"termination_reason"`
	CreatedAt         time.Time         `json:"created_at"`
}

// MarshalJSON serializes the envelope for session_state persistence and replay.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshot{
		RequestID:         e.RequestID,
		SessionID:         e.SessionID,
		Query:             e.Query,
		CurrentStage:      e.CurrentStage,
		StageOrder:        e.stageOrderSeen,
		StageOutputs:      e.StageOutputs,
		AttemptHistory:    e.AttemptHistory,
		Citations:         e.citations,
		ReintentCycles:    e.ReintentCycles,
		ResourceUsage:     e.ResourceUsage,
		Terminated:        e.Terminated,
		TerminationReason: e.TerminationReason,
		CreatedAt:         e.CreatedAt,
	})
}

// UnmarshalJSON restores an envelope from a persisted snapshot. Used by the
// idempotent-replay path: re-running the runtime on a terminated envelope
// must yield the same terminal event without issuing any external calls.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	e.RequestID = s.RequestID
	e.SessionID = s.SessionID
	e.Query = s.Query
	e.CurrentStage = s.CurrentStage
	e.stageOrderSeen = s.StageOrder
	e.StageOutputs = s.StageOutputs
	if e.StageOutputs == nil {
		e.StageOutputs = make(map[string]any)
	}
	e.AttemptHistory = s.AttemptHistory
	e.ReintentCycles = s.ReintentCycles
	e.ResourceUsage = s.ResourceUsage
	e.Terminated = s.Terminated
	e.TerminationReason = s.TerminationReason
	e.CreatedAt = s.CreatedAt
	e.citationSet = make(map[string]bool, len(s.Citations))
	e.citations = nil
	e.AddCitations(s.Citations)
	return nil
}
