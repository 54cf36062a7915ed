// Package kernel implements OS-level abstractions for request admission and
// resource accounting.
//
// This package provides process lifecycle management, resource quotas,
// and scheduling primitives similar to an operating system kernel. It is
// the reference implementation behind the pipeline's accountant handle:
// the runtime only ever sees the record/check operations, never the
// process table.
//
// Key concepts:
//   - ProcessState: Process lifecycle states (NEW -> RUNNING -> TERMINATED)
//   - ResourceQuota: cgroups-style resource limits
//   - ProcessControlBlock: Kernel's view of a running request
package kernel

import (
	"time"

	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/config"
)

// =============================================================================
// Process States (mirrors OS process lifecycle)
// =============================================================================

// ProcessState represents the lifecycle state of a process.
// State transitions:
//
//	NEW -> READY -> RUNNING -> (WAITING | BLOCKED | TERMINATED)
//	WAITING -> READY (on event)
//	BLOCKED -> READY (on resource available)
type ProcessState string

const (
	// ProcessStateNew indicates a newly created process, not yet scheduled.
	ProcessStateNew ProcessState = "new"
	// ProcessStateReady indicates the process is ready to run, waiting for CPU.
	ProcessStateReady ProcessState = "ready"
	// ProcessStateRunning indicates the process is currently executing.
	ProcessStateRunning ProcessState = "running"
	// ProcessStateWaiting indicates the process is waiting on an LLM or tool call.
	ProcessStateWaiting ProcessState = "waiting"
	// ProcessStateBlocked indicates the process is blocked on a resource.
	ProcessStateBlocked ProcessState = "blocked"
	// ProcessStateTerminated indicates the process has finished execution.
	ProcessStateTerminated ProcessState = "terminated"
	// ProcessStateZombie indicates the process terminated but not yet cleaned up.
	ProcessStateZombie ProcessState = "zombie"
)

// IsTerminal returns true if this is a terminal state.
func (s ProcessState) IsTerminal() bool {
	return s == ProcessStateTerminated || s == ProcessStateZombie
}

// CanSchedule returns true if the process can be scheduled.
func (s ProcessState) CanSchedule() bool {
	return s == ProcessStateNew || s == ProcessStateReady
}

// IsRunnable returns true if the process is ready to run.
func (s ProcessState) IsRunnable() bool {
	return s == ProcessStateReady
}

// =============================================================================
// Scheduling Priority
// =============================================================================

// SchedulingPriority represents the scheduling priority level.
type SchedulingPriority string

const (
	// PriorityRealtime is the highest priority (system critical).
	PriorityRealtime SchedulingPriority = "realtime"
	// PriorityHigh is for user-interactive queries.
	PriorityHigh SchedulingPriority = "high"
	// PriorityNormal is the default priority.
	PriorityNormal SchedulingPriority = "normal"
	// PriorityLow is for background reindexing work.
	PriorityLow SchedulingPriority = "low"
	// PriorityIdle is only scheduled when nothing else to do.
	PriorityIdle SchedulingPriority = "idle"
)

// Weight returns the scheduling weight (higher = more priority).
func (p SchedulingPriority) Weight() int {
	switch p {
	case PriorityRealtime:
		return 100
	case PriorityHigh:
		return 75
	case PriorityNormal:
		return 50
	case PriorityLow:
		return 25
	case PriorityIdle:
		return 1
	default:
		return 50
	}
}

// =============================================================================
// Resource Quotas (mirrors cgroups)
// =============================================================================

// ResourceQuota defines cgroups-style resource limits for one request.
// Enforces resource constraints at the kernel level:
//   - Token limits (memory equivalent)
//   - Call limits (CPU time equivalent)
//   - Time limits (wall clock)
type ResourceQuota struct {
	// Token limits (like memory limits)
	MaxTotalCodeTokens int `json:"max_total_code_tokens"`
	MaxInputTokens     int `json:"max_input_tokens"`
	MaxOutputTokens    int `json:"max_output_tokens"`

	// Call limits (like CPU time)
	MaxLLMCalls       int `json:"max_llm_calls"`
	MaxToolCalls      int `json:"max_tool_calls"`
	MaxAgentHops      int `json:"max_agent_hops"`
	MaxFilesPerQuery  int `json:"max_files_per_query"`
	MaxReintentCycles int `json:"max_reintent_cycles"`

	// Time limits
	TimeoutSeconds     int `json:"timeout_seconds"`
	SoftTimeoutSeconds int `json:"soft_timeout_seconds"` // Warn before hard timeout

	// Rate limits (per-session) - uses existing RateLimitConfig
	RateLimitRPM   int `json:"rate_limit_rpm,omitempty"`   // Requests per minute
	RateLimitRPH   int `json:"rate_limit_rph,omitempty"`   // Requests per hour
	RateLimitBurst int `json:"rate_limit_burst,omitempty"` // Burst allowance
}

// DefaultQuota returns the default resource limits, matching the executor's
// context-bound table.
func DefaultQuota() *ResourceQuota {
	return QuotaFromExecutionConfig(config.DefaultExecutionConfig())
}

// QuotaFromExecutionConfig derives a per-request quota from the execution
// knobs, so the accountant and the executor agree on one bound table.
func QuotaFromExecutionConfig(exec *config.ExecutionConfig) *ResourceQuota {
	return &ResourceQuota{
		MaxTotalCodeTokens: exec.MaxTotalCodeTokens,
		MaxInputTokens:     65536,
		MaxOutputTokens:    16384,
		MaxLLMCalls:        exec.MaxLLMCallsPerQuery,
		MaxToolCalls:       exec.MaxPlanSteps * (exec.MaxReintentCycles + 1),
		MaxAgentHops:       exec.MaxAgentHopsPerQuery,
		MaxFilesPerQuery:   exec.MaxFilesPerQuery,
		MaxReintentCycles:  exec.MaxReintentCycles,
		TimeoutSeconds:     exec.StageTimeout,
		SoftTimeoutSeconds: exec.StageTimeout * 4 / 5,
	}
}

// =============================================================================
// Resource Usage
// =============================================================================

// ResourceUsage tracks current resource consumption for a process.
type ResourceUsage struct {
	LLMCalls       int     `json:"llm_calls"`
	ToolCalls      int     `json:"tool_calls"`
	AgentHops      int     `json:"agent_hops"`
	ReintentCycles int     `json:"reintent_cycles"`
	TokensIn       int     `json:"tokens_in"`
	TokensOut      int     `json:"tokens_out"`
	CodeTokens     int     `json:"code_tokens"` // Tool-derived tokens fed to the LLM
	FilesRead      int     `json:"files_read"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

// ExceedsQuota checks if usage exceeds quota. Returns the reason or empty string.
func (u *ResourceUsage) ExceedsQuota(q *ResourceQuota) string {
	if u.LLMCalls > q.MaxLLMCalls {
		return "max_llm_calls_exceeded"
	}
	if u.ToolCalls > q.MaxToolCalls {
		return "max_tool_calls_exceeded"
	}
	if u.AgentHops > q.MaxAgentHops {
		return "max_agent_hops_exceeded"
	}
	if u.CodeTokens > q.MaxTotalCodeTokens {
		return "max_total_code_tokens_exceeded"
	}
	if u.FilesRead > q.MaxFilesPerQuery {
		return "max_files_per_query_exceeded"
	}
	if u.ReintentCycles > q.MaxReintentCycles {
		return "max_reintent_cycles_exceeded"
	}
	if q.TimeoutSeconds > 0 && u.ElapsedSeconds > float64(q.TimeoutSeconds) {
		return "timeout_exceeded"
	}
	return ""
}

// Clone returns a copy of the usage.
func (u *ResourceUsage) Clone() *ResourceUsage {
	c := *u
	return &c
}

// =============================================================================
// Process Control Block (PCB)
// =============================================================================

// ProcessControlBlock is the kernel's metadata about a running "process"
// (one analysis request). The actual request state is in the envelope; this
// tracks:
//   - Scheduling state
//   - Resource accounting
//   - Termination bookkeeping
type ProcessControlBlock struct {
	// Identity. PID equals the request id: one process per request.
	PID       string `json:"pid"`
	RequestID string `json:"request_id"`
	SessionID string `json:"session_id"`

	// State
	State    ProcessState       `json:"state"`
	Priority SchedulingPriority `json:"priority"`

	// Resource tracking
	Quota *ResourceQuota `json:"quota"`
	Usage *ResourceUsage `json:"usage"`

	// Scheduling timestamps
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	LastScheduledAt *time.Time `json:"last_scheduled_at,omitempty"`

	// Current execution
	CurrentStage      string `json:"current_stage,omitempty"`
	TerminationReason string `json:"termination_reason,omitempty"`
}

// NewProcessControlBlock creates a new PCB with default values.
func NewProcessControlBlock(pid, requestID, sessionID string) *ProcessControlBlock {
	now := time.Now().UTC()
	return &ProcessControlBlock{
		PID:       pid,
		RequestID: requestID,
		SessionID: sessionID,
		State:     ProcessStateNew,
		Priority:  PriorityNormal,
		Quota:     DefaultQuota(),
		Usage:     &ResourceUsage{},
		CreatedAt: now,
	}
}

// CanSchedule checks if process can be scheduled.
func (pcb *ProcessControlBlock) CanSchedule() bool {
	return pcb.State.CanSchedule()
}

// IsRunnable checks if process is runnable.
func (pcb *ProcessControlBlock) IsRunnable() bool {
	return pcb.State.IsRunnable()
}

// IsTerminated checks if process has terminated.
func (pcb *ProcessControlBlock) IsTerminated() bool {
	return pcb.State.IsTerminal()
}

// Start transitions process to RUNNING state.
func (pcb *ProcessControlBlock) Start() {
	now := time.Now().UTC()
	pcb.State = ProcessStateRunning
	pcb.StartedAt = &now
	pcb.LastScheduledAt = &now
}

// Complete transitions process to TERMINATED state.
func (pcb *ProcessControlBlock) Complete(reason string) {
	now := time.Now().UTC()
	pcb.State = ProcessStateTerminated
	pcb.CompletedAt = &now
	pcb.TerminationReason = reason
	if pcb.StartedAt != nil {
		pcb.Usage.ElapsedSeconds = now.Sub(*pcb.StartedAt).Seconds()
	}
}

// Block transitions process to BLOCKED state.
func (pcb *ProcessControlBlock) Block(reason string) {
	pcb.State = ProcessStateBlocked
	pcb.TerminationReason = reason
}

// Resume transitions process from WAITING/BLOCKED to READY.
func (pcb *ProcessControlBlock) Resume() {
	pcb.State = ProcessStateReady
	pcb.TerminationReason = ""
}

// RecordLLMCall records an LLM call.
func (pcb *ProcessControlBlock) RecordLLMCall(tokensIn, tokensOut int) {
	pcb.Usage.LLMCalls++
	pcb.Usage.TokensIn += tokensIn
	pcb.Usage.TokensOut += tokensOut
}

// RecordToolCall records a tool call.
func (pcb *ProcessControlBlock) RecordToolCall() {
	pcb.Usage.ToolCalls++
}

// RecordAgentHop records a stage transition.
func (pcb *ProcessControlBlock) RecordAgentHop() {
	pcb.Usage.AgentHops++
}

// RecordCodeTokens records tool-derived code tokens and file reads.
func (pcb *ProcessControlBlock) RecordCodeTokens(tokens, files int) {
	pcb.Usage.CodeTokens += tokens
	pcb.Usage.FilesRead += files
}

// CheckQuota checks if usage exceeds quota.
func (pcb *ProcessControlBlock) CheckQuota() string {
	return pcb.Usage.ExceedsQuota(pcb.Quota)
}

// =============================================================================
// Kernel Events
// =============================================================================

// KernelEventType represents types of kernel events.
type KernelEventType string

const (
	KernelEventProcessCreated      KernelEventType = "process.created"
	KernelEventProcessStateChanged KernelEventType = "process.state_changed"
	KernelEventResourceExhausted   KernelEventType = "resource.exhausted"
)

// KernelEvent represents an event emitted by the kernel.
// These are OS-level events, not application events.
type KernelEvent struct {
	EventType KernelEventType `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
	RequestID string          `json:"request_id"`
	SessionID string          `json:"session_id"`
	PID       string          `json:"pid,omitempty"`
	Data      map[string]any  `json:"data,omitempty"`
}

// NewKernelEvent creates a new kernel event.
func NewKernelEvent(eventType KernelEventType, pid, requestID, sessionID string) *KernelEvent {
	return &KernelEvent{
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
		SessionID: sessionID,
		PID:       pid,
	}
}

// ProcessCreatedEvent creates a process.created event.
func ProcessCreatedEvent(pcb *ProcessControlBlock) *KernelEvent {
	evt := NewKernelEvent(KernelEventProcessCreated, pcb.PID, pcb.RequestID, pcb.SessionID)
	evt.Data = map[string]any{
		"priority": string(pcb.Priority),
	}
	return evt
}

// ProcessStateChangedEvent creates a process.state_changed event.
func ProcessStateChangedEvent(pcb *ProcessControlBlock, oldState ProcessState) *KernelEvent {
	evt := NewKernelEvent(KernelEventProcessStateChanged, pcb.PID, pcb.RequestID, pcb.SessionID)
	evt.Data = map[string]any{
		"old_state": string(oldState),
		"new_state": string(pcb.State),
	}
	return evt
}

// ResourceExhaustedEvent creates a resource.exhausted event.
func ResourceExhaustedEvent(pcb *ProcessControlBlock, resource string, usage, quota int) *KernelEvent {
	evt := NewKernelEvent(KernelEventResourceExhausted, pcb.PID, pcb.RequestID, pcb.SessionID)
	evt.Data = map[string]any{
		"resource": resource,
		"usage":    usage,
		"quota":    quota,
	}
	return evt
}
