// Package envelope holds the per-request working memory that flows through the
// seven-stage pipeline, plus the tagged unions its stages produce and consume.
package envelope

// Stage names, fixed order. These are the only legal values of Envelope.CurrentStage.
const (
	StagePerception  = "perception"
	StageIntent      = "intent"
	StagePlanner     = "planner"
	StageExecutor    = "executor"
	StageSynthesizer = "synthesizer"
	StageCritic      = "critic"
	StageIntegration = "integration"
)

// stageOrder is the fixed traversal order absent re-entry.
var stageOrder = []string{
	StagePerception,
	StageIntent,
	StagePlanner,
	StageExecutor,
	StageSynthesizer,
	StageCritic,
	StageIntegration,
}

// reentryStages are the stages whose outputs are cleared on a critic-driven re-entry.
var reentryStages = map[string]bool{
	StageIntent:      true,
	StagePlanner:     true,
	StageExecutor:    true,
	StageSynthesizer: true,
	StageCritic:      true,
}

// MaxReintentCycles bounds how many times the critic may send the envelope back to Intent.
const MaxReintentCycles = 2

// TerminationReason is why a request stopped advancing through the pipeline.
type TerminationReason string

const (
	TerminationNone           TerminationReason = ""
	TerminationCompleted      TerminationReason = "completed"
	TerminationCriticRejected TerminationReason = "critic_rejected"
	TerminationCycleLimit     TerminationReason = "cycle_limit"
	TerminationQuotaExceeded  TerminationReason = "quota_exceeded"
	TerminationCancelled      TerminationReason = "cancelled"
	TerminationInternalError  TerminationReason = "internal_error"
)

// IntentClass is the classified intent of a query.
type IntentClass string

const (
	IntentFindSymbol IntentClass = "find_symbol"
	IntentTraceFlow  IntentClass = "trace_flow"
	IntentExplain    IntentClass = "explain"
	IntentSearch     IntentClass = "search"
	IntentHistory    IntentClass = "history"
)

// ToolName enumerates the only tool names the planner may emit.
type ToolName string

const (
	ToolSearchCode ToolName = "search_code"
	ToolReadCode   ToolName = "read_code"
)

// ToolStatus is the outcome of a single tool invocation.
type ToolStatus string

const (
	ToolStatusSuccess        ToolStatus = "success"
	ToolStatusNotFound       ToolStatus = "not_found"
	ToolStatusToolUnavailable ToolStatus = "tool_unavailable"
	ToolStatusError          ToolStatus = "error"
)

// CriticVerdict is the critic stage's judgement on the synthesizer's claims.
type CriticVerdict string

const (
	CriticApprove CriticVerdict = "approve"
	CriticReject  CriticVerdict = "reject"
	CriticClarify CriticVerdict = "clarify"
)

// EventStatus is the lifecycle status carried by a stage-boundary event.
type EventStatus string

const (
	EventStarted   EventStatus = "started"
	EventCompleted EventStatus = "completed"
	EventFailed    EventStatus = "failed"
)
