// Package commbus provides CommBus Message Definitions.
//
// This module defines all message types for the code-analysis engine's
// communication bus. Messages are organized by domain.
//
// Categories:
//   - EVENT: Fire-and-forget, fan-out to subscribers
//   - QUERY: Request-response, single handler
//   - COMMAND: Fire-and-forget, single handler
package commbus

// =============================================================================
// MESSAGE CATEGORIES
// =============================================================================

// MessageCategory represents message routing categories.
type MessageCategory string

const (
	// MessageCategoryEvent represents fire-and-forget, fan-out to all subscribers.
	MessageCategoryEvent MessageCategory = "event"
	// MessageCategoryQuery represents request-response, single handler.
	MessageCategoryQuery MessageCategory = "query"
	// MessageCategoryCommand represents fire-and-forget, single handler.
	MessageCategoryCommand MessageCategory = "command"
)

// HealthStatus represents canonical health status values.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusUnknown   HealthStatus = "unknown"
)

// =============================================================================
// STAGE LIFECYCLE EVENTS
// =============================================================================

// StageStarted is emitted when a pipeline stage begins processing.
// Subscribers: telemetry, the RPC stream bridge, trace logging.
type StageStarted struct {
	Stage     string         `json:"stage"`
	SessionID string         `json:"session_id"`
	RequestID string         `json:"request_id"`
	Cycle     int            `json:"cycle"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Category implements the Message interface.
func (m *StageStarted) Category() string { return string(MessageCategoryEvent) }

// StageCompleted is emitted when a pipeline stage finishes processing.
// Subscribers: telemetry, the RPC stream bridge, trace logging.
type StageCompleted struct {
	Stage      string  `json:"stage"`
	SessionID  string  `json:"session_id"`
	RequestID  string  `json:"request_id"`
	Cycle      int     `json:"cycle"`
	Status     string  `json:"status"` // "completed", "failed"
	Summary    string  `json:"summary"`
	DurationMS int     `json:"duration_ms"`
	Error      *string `json:"error,omitempty"`
}

// Category implements the Message interface.
func (m *StageCompleted) Category() string { return string(MessageCategoryEvent) }

// StageTransition is emitted when the pipeline moves to a new stage,
// including the critic-driven return to intent.
type StageTransition struct {
	SessionID string `json:"session_id"`
	RequestID string `json:"request_id"`
	FromStage string `json:"from_stage"`
	ToStage   string `json:"to_stage"`
	Cycle     int    `json:"cycle"`
}

// Category implements the Message interface.
func (m *StageTransition) Category() string { return string(MessageCategoryEvent) }

// =============================================================================
// TOOL EXECUTION EVENTS
// =============================================================================

// ToolStarted is emitted when a planned tool invocation begins.
// Subscribers: telemetry, the RPC stream bridge.
type ToolStarted struct {
	ToolName    string            `json:"tool_name"`
	SessionID   string            `json:"session_id"`
	RequestID   string            `json:"request_id"`
	StepNumber  int               `json:"step_number"`
	TotalSteps  int               `json:"total_steps"`
	ArgsPreview map[string]string `json:"args_preview,omitempty"`
}

// Category implements the Message interface.
func (m *ToolStarted) Category() string { return string(MessageCategoryEvent) }

// ToolCompleted is emitted when a planned tool invocation finishes.
// Subscribers: telemetry, the RPC stream bridge.
type ToolCompleted struct {
	ToolName        string  `json:"tool_name"`
	SessionID       string  `json:"session_id"`
	RequestID       string  `json:"request_id"`
	Status          string  `json:"status"` // "success", "not_found", "tool_unavailable", "error"
	FoundVia        string  `json:"found_via,omitempty"`
	AttemptCount    int     `json:"attempt_count"`
	CitationCount   int     `json:"citation_count"`
	ExecutionTimeMS int     `json:"execution_time_ms"`
	Error           *string `json:"error,omitempty"`
}

// Category implements the Message interface.
func (m *ToolCompleted) Category() string { return string(MessageCategoryEvent) }

// =============================================================================
// REQUEST LIFECYCLE EVENTS
// =============================================================================

// RequestAdmitted is emitted when a query is admitted and its envelope created.
type RequestAdmitted struct {
	SessionID string `json:"session_id"`
	RequestID string `json:"request_id"`
	Query     string `json:"query"`
}

// Category implements the Message interface.
func (m *RequestAdmitted) Category() string { return string(MessageCategoryEvent) }

// RequestTerminated is emitted exactly once per request, after the terminal
// event has been produced and usage recorded.
type RequestTerminated struct {
	SessionID         string   `json:"session_id"`
	RequestID         string   `json:"request_id"`
	TerminationReason string   `json:"termination_reason"`
	ReintentCycles    int      `json:"reintent_cycles"`
	Citations         []string `json:"citations,omitempty"`
	DurationMS        int      `json:"duration_ms"`
}

// Category implements the Message interface.
func (m *RequestTerminated) Category() string { return string(MessageCategoryEvent) }

// CriticVerdictReached is emitted after each critic evaluation, including
// rejected cycles that re-enter the pipeline.
type CriticVerdictReached struct {
	SessionID        string `json:"session_id"`
	RequestID        string `json:"request_id"`
	Verdict          string `json:"verdict"` // "approve", "reject", "clarify"
	Cycle            int    `json:"cycle"`
	UnsupportedCount int    `json:"unsupported_count"`
}

// Category implements the Message interface.
func (m *CriticVerdictReached) Category() string { return string(MessageCategoryEvent) }

// QuotaExceeded is emitted when the accountant rejects a request at a stage
// boundary.
type QuotaExceeded struct {
	SessionID string `json:"session_id"`
	RequestID string `json:"request_id"`
	Resource  string `json:"resource"`
	Stage     string `json:"stage"`
}

// Category implements the Message interface.
func (m *QuotaExceeded) Category() string { return string(MessageCategoryEvent) }

// =============================================================================
// DOMAIN EVENTS
// =============================================================================

// GoalCompleted is emitted when an intent goal was covered during analysis.
type GoalCompleted struct {
	SessionID string   `json:"session_id"`
	RequestID string   `json:"request_id"`
	GoalText  string   `json:"goal_text"`
	Evidence  []string `json:"evidence,omitempty"`
}

// Category implements the Message interface.
func (m *GoalCompleted) Category() string { return string(MessageCategoryEvent) }

// ClarificationRequested is emitted when the pipeline terminates with a
// clarification question instead of an answer.
type ClarificationRequested struct {
	SessionID string `json:"session_id"`
	RequestID string `json:"request_id"`
	Question  string `json:"question"`
}

// Category implements the Message interface.
func (m *ClarificationRequested) Category() string { return string(MessageCategoryEvent) }

// ResponseChunk is a streaming response chunk from the integration stage.
type ResponseChunk struct {
	SessionID string `json:"session_id"`
	RequestID string `json:"request_id"`
	Content   string `json:"content"`
	IsFinal   bool   `json:"is_final"`
}

// Category implements the Message interface.
func (m *ResponseChunk) Category() string { return string(MessageCategoryEvent) }

// =============================================================================
// CONFIG QUERIES
// =============================================================================

// GetSettings queries application settings.
type GetSettings struct {
	Key *string `json:"key,omitempty"` // nil = get all settings
}

// Category implements the Message interface.
func (m *GetSettings) Category() string { return string(MessageCategoryQuery) }

// IsQuery implements the Query interface.
func (m *GetSettings) IsQuery() {}

// SettingsResponse is the response for GetSettings query.
type SettingsResponse struct {
	Values map[string]any `json:"values"`
}

// =============================================================================
// HEALTH CHECK QUERIES
// =============================================================================

// HealthCheckRequest requests health check from a component.
type HealthCheckRequest struct {
	Component string `json:"component"` // "llm", "storage", "tools"
}

// Category implements the Message interface.
func (m *HealthCheckRequest) Category() string { return string(MessageCategoryQuery) }

// IsQuery implements the Query interface.
func (m *HealthCheckRequest) IsQuery() {}

// HealthCheckResponse is the response for HealthCheckRequest.
type HealthCheckResponse struct {
	Component string         `json:"component"`
	Status    string         `json:"status"` // "healthy", "degraded", "unhealthy"
	Details   map[string]any `json:"details,omitempty"`
	LatencyMS *int           `json:"latency_ms,omitempty"`
}

// =============================================================================
// TOOL CATALOG QUERIES
// =============================================================================

// GetToolCatalog queries tool catalog information.
type GetToolCatalog struct {
	ToolNames       []string `json:"tool_names,omitempty"` // nil = get all exposed tools
	IncludeInternal bool     `json:"include_internal"`
}

// Category implements the Message interface.
func (m *GetToolCatalog) Category() string { return string(MessageCategoryQuery) }

// IsQuery implements the Query interface.
func (m *GetToolCatalog) IsQuery() {}

// ToolCatalogResponse is the response for GetToolCatalog query.
type ToolCatalogResponse struct {
	Tools         []map[string]any `json:"tools"`
	PlannerPrompt string           `json:"planner_prompt"`
}

// =============================================================================
// PROMPT REGISTRY QUERIES
// =============================================================================

// GetPrompt queries a prompt template.
type GetPrompt struct {
	Name    string         `json:"name"`
	Version string         `json:"version"`
	Context map[string]any `json:"context,omitempty"`
}

// Category implements the Message interface.
func (m *GetPrompt) Category() string { return string(MessageCategoryQuery) }

// IsQuery implements the Query interface.
func (m *GetPrompt) IsQuery() {}

// PromptResponse is the response for GetPrompt query.
type PromptResponse struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Template string `json:"template"`
	Found    bool   `json:"found"`
}

// =============================================================================
// COMMANDS
// =============================================================================

// CancelRequest asks the runtime to cooperatively cancel an in-flight request.
// The runtime finishes the current stage, marks the envelope terminated with
// reason "cancelled", and emits the terminal event.
type CancelRequest struct {
	RequestID string `json:"request_id"`
	Reason    string `json:"reason,omitempty"`
}

// Category implements the Message interface.
func (m *CancelRequest) Category() string { return string(MessageCategoryCommand) }

// InvalidateCache is a command to invalidate understanding-cache entries.
type InvalidateCache struct {
	CacheName string  `json:"cache_name"`
	Key       *string `json:"key,omitempty"` // nil = invalidate all
}

// Category implements the Message interface.
func (m *InvalidateCache) Category() string { return string(MessageCategoryCommand) }

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// TypedMessage is an optional interface for messages that can provide their own type name.
// This is useful for dynamically-typed messages like those from the RPC layer.
type TypedMessage interface {
	Message
	MessageType() string
}

// GetMessageType returns the type name of a message for routing.
func GetMessageType(msg Message) string {
	// First check if the message can provide its own type
	if typed, ok := msg.(TypedMessage); ok {
		return typed.MessageType()
	}

	// Otherwise use the static type switch
	switch msg.(type) {
	case *StageStarted:
		return "StageStarted"
	case *StageCompleted:
		return "StageCompleted"
	case *StageTransition:
		return "StageTransition"
	case *ToolStarted:
		return "ToolStarted"
	case *ToolCompleted:
		return "ToolCompleted"
	case *RequestAdmitted:
		return "RequestAdmitted"
	case *RequestTerminated:
		return "RequestTerminated"
	case *CriticVerdictReached:
		return "CriticVerdictReached"
	case *QuotaExceeded:
		return "QuotaExceeded"
	case *GoalCompleted:
		return "GoalCompleted"
	case *ClarificationRequested:
		return "ClarificationRequested"
	case *ResponseChunk:
		return "ResponseChunk"
	case *GetSettings:
		return "GetSettings"
	case *HealthCheckRequest:
		return "HealthCheckRequest"
	case *GetToolCatalog:
		return "GetToolCatalog"
	case *GetPrompt:
		return "GetPrompt"
	case *CancelRequest:
		return "CancelRequest"
	case *InvalidateCache:
		return "InvalidateCache"
	default:
		return "Unknown"
	}
}
