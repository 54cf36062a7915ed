// Package kernel provides the engine kernel - unified admission and accounting.
//
// The Kernel composes:
//   - LifecycleManager (process scheduler)
//   - ResourceTracker (cgroups)
//   - RateLimiter (sliding window rate limiting)
//
// This is the main entry point for request admission: the service façade
// submits one process per analysis request, and the pipeline runtime talks
// to the kernel only through the Accountant handle.
package kernel

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// =============================================================================
// Kernel Configuration
// =============================================================================

// KernelConfig configures the kernel.
type KernelConfig struct {
	// Default resource quota for new processes
	DefaultQuota *ResourceQuota `json:"default_quota"`
	// Default rate limit configuration
	DefaultRateLimit *RateLimitConfig `json:"default_rate_limit"`
	// Enable telemetry/metrics
	EnableTelemetry bool `json:"enable_telemetry"`
}

// DefaultKernelConfig returns default kernel configuration.
func DefaultKernelConfig() *KernelConfig {
	return &KernelConfig{
		DefaultQuota:     DefaultQuota(),
		DefaultRateLimit: DefaultRateLimitConfig(),
		EnableTelemetry:  true,
	}
}

// =============================================================================
// Kernel
// =============================================================================

// Kernel is the central coordinator for process lifecycle and resource
// management.
//
// OS Analogy:
//
//	The Kernel is like a microkernel. It doesn't execute the actual work
//	(that's the pipeline runtime), but it manages the lifecycle, resources,
//	and admission of every request.
//
// Usage:
//
//	kernel := NewKernel(logger, nil)
//
//	// Submit a process
//	pcb, err := kernel.Submit(pid, requestID, sessionID, PriorityNormal, nil)
//
//	// Record resource usage
//	kernel.RecordLLMCall(pid, tokensIn, tokensOut)
//
//	// Check quota
//	if exceeded := kernel.CheckQuota(pid); exceeded != "" {
//	    // Handle quota exceeded
//	}
type Kernel struct {
	config *KernelConfig
	logger Logger

	// Subsystems
	lifecycle   *LifecycleManager
	resources   *ResourceTracker
	rateLimiter *RateLimiter

	// Event listeners
	eventHandlers []KernelEventHandler
	eventMu       sync.RWMutex

	// Kernel state
	startedAt time.Time
}

// KernelEventHandler handles kernel events.
type KernelEventHandler func(*KernelEvent)

// NewKernel creates a new kernel with the given configuration.
func NewKernel(logger Logger, config *KernelConfig) *Kernel {
	if config == nil {
		config = DefaultKernelConfig()
	}

	k := &Kernel{
		config:        config,
		logger:        logger,
		lifecycle:     NewLifecycleManager(config.DefaultQuota),
		resources:     NewResourceTracker(config.DefaultQuota, logger),
		rateLimiter:   NewRateLimiter(config.DefaultRateLimit),
		eventHandlers: []KernelEventHandler{},
		startedAt:     time.Now().UTC(),
	}

	if logger != nil {
		logger.Info("kernel_initialized",
			"max_llm_calls", config.DefaultQuota.MaxLLMCalls,
			"max_agent_hops", config.DefaultQuota.MaxAgentHops,
			"max_total_code_tokens", config.DefaultQuota.MaxTotalCodeTokens,
		)
	}

	return k
}

// =============================================================================
// Subsystem Access
// =============================================================================

// Lifecycle returns the lifecycle manager.
func (k *Kernel) Lifecycle() *LifecycleManager {
	return k.lifecycle
}

// Resources returns the resource tracker.
func (k *Kernel) Resources() *ResourceTracker {
	return k.resources
}

// RateLimiter returns the rate limiter.
func (k *Kernel) RateLimiter() *RateLimiter {
	return k.rateLimiter
}

// =============================================================================
// Process Lifecycle
// =============================================================================

// Submit creates a new process with the given parameters.
// Returns the PCB in NEW state.
func (k *Kernel) Submit(
	pid, requestID, sessionID string,
	priority SchedulingPriority,
	quota *ResourceQuota,
) (*ProcessControlBlock, error) {
	if quota == nil {
		quota = k.config.DefaultQuota
	}

	// Create PCB
	pcb, err := k.lifecycle.Submit(pid, requestID, sessionID, priority, quota)
	if err != nil {
		return nil, err
	}

	// Allocate resources
	k.resources.Allocate(pid, quota)

	// Emit event
	k.emitEvent(ProcessCreatedEvent(pcb))

	if k.logger != nil {
		k.logger.Info("process_submitted",
			"pid", pid,
			"request_id", requestID,
			"session_id", sessionID,
			"priority", string(priority),
		)
	}

	return pcb, nil
}

// Schedule schedules a process for execution (NEW -> READY).
func (k *Kernel) Schedule(pid string) error {
	pcb := k.lifecycle.GetProcess(pid)
	if pcb == nil {
		return fmt.Errorf("unknown pid: %s", pid)
	}

	oldState := pcb.State
	err := k.lifecycle.Schedule(pid)
	if err != nil {
		return err
	}

	// Emit state change event
	k.emitEvent(ProcessStateChangedEvent(pcb, oldState))

	return nil
}

// GetNextRunnable returns the next process to run (transitions READY -> RUNNING).
func (k *Kernel) GetNextRunnable() *ProcessControlBlock {
	return k.lifecycle.GetNextRunnable()
}

// TransitionState transitions a process to a new state.
func (k *Kernel) TransitionState(pid string, newState ProcessState, reason string) error {
	pcb := k.lifecycle.GetProcess(pid)
	if pcb == nil {
		return fmt.Errorf("unknown pid: %s", pid)
	}

	oldState := pcb.State
	err := k.lifecycle.TransitionState(pid, newState, reason)
	if err != nil {
		return err
	}

	// Emit state change event
	k.emitEvent(ProcessStateChangedEvent(pcb, oldState))

	return nil
}

// Terminate terminates a process.
func (k *Kernel) Terminate(pid, reason string, force bool) error {
	pcb := k.lifecycle.GetProcess(pid)
	if pcb == nil {
		return fmt.Errorf("unknown pid: %s", pid)
	}

	oldState := pcb.State
	err := k.lifecycle.Terminate(pid, reason, force)
	if err != nil {
		return err
	}

	// Release resources
	k.resources.Release(pid)

	// Emit state change event
	k.emitEvent(ProcessStateChangedEvent(pcb, oldState))

	if k.logger != nil {
		k.logger.Info("process_terminated",
			"pid", pid,
			"reason", reason,
			"force", force,
		)
	}

	return nil
}

// GetProcess returns a process by ID.
func (k *Kernel) GetProcess(pid string) *ProcessControlBlock {
	return k.lifecycle.GetProcess(pid)
}

// ListProcesses returns processes matching criteria.
func (k *Kernel) ListProcesses(state *ProcessState, sessionID string) []*ProcessControlBlock {
	return k.lifecycle.ListProcesses(state, sessionID)
}

// =============================================================================
// Resource Management
// =============================================================================

// RecordLLMCall records an LLM call and checks quota.
// Returns quota exceeded reason if any, empty string otherwise.
func (k *Kernel) RecordLLMCall(pid string, tokensIn, tokensOut int) string {
	k.resources.RecordLLMCall(pid, tokensIn, tokensOut)
	exceeded := k.resources.CheckQuota(pid)

	if exceeded != "" {
		pcb := k.lifecycle.GetProcess(pid)
		if pcb != nil {
			usage := k.resources.GetUsage(pid)
			quota := k.resources.GetQuota(pid)
			k.emitEvent(ResourceExhaustedEvent(pcb, exceeded, usage.LLMCalls, quota.MaxLLMCalls))
		}
	}

	return exceeded
}

// RecordToolCall records a tool call and checks quota.
func (k *Kernel) RecordToolCall(pid string) string {
	k.resources.RecordToolCall(pid)
	return k.resources.CheckQuota(pid)
}

// RecordAgentHop records a stage transition and checks quota.
func (k *Kernel) RecordAgentHop(pid string) string {
	k.resources.RecordAgentHop(pid)
	return k.resources.CheckQuota(pid)
}

// RecordCodeTokens records tool-derived code tokens and file reads, then
// checks quota. This is how the executor's context bounds reach the
// accountant.
func (k *Kernel) RecordCodeTokens(pid string, tokens, files int) string {
	k.resources.RecordCodeTokens(pid, tokens, files)
	exceeded := k.resources.CheckQuota(pid)

	if exceeded != "" {
		pcb := k.lifecycle.GetProcess(pid)
		if pcb != nil {
			usage := k.resources.GetUsage(pid)
			quota := k.resources.GetQuota(pid)
			k.emitEvent(ResourceExhaustedEvent(pcb, exceeded, usage.CodeTokens, quota.MaxTotalCodeTokens))
		}
	}

	return exceeded
}

// RecordReintentCycle records one critic-driven re-entry and checks quota.
func (k *Kernel) RecordReintentCycle(pid string) string {
	k.resources.RecordReintentCycle(pid)
	return k.resources.CheckQuota(pid)
}

// CheckQuota checks if a process has exceeded its quota.
func (k *Kernel) CheckQuota(pid string) string {
	return k.resources.CheckQuota(pid)
}

// GetUsage returns resource usage for a process.
func (k *Kernel) GetUsage(pid string) *ResourceUsage {
	return k.resources.GetUsage(pid)
}

// GetRemainingBudget returns remaining resource budget for a process.
func (k *Kernel) GetRemainingBudget(pid string) *ResourceBudget {
	return k.resources.GetRemainingBudget(pid)
}

// =============================================================================
// Rate Limiting
// =============================================================================

// CheckRateLimit checks if a request is within rate limits.
func (k *Kernel) CheckRateLimit(sessionID, endpoint string, record bool) *RateLimitResult {
	return k.rateLimiter.CheckRateLimit(sessionID, endpoint, record)
}

// GetRateLimitUsage returns rate limit usage for a session/endpoint.
func (k *Kernel) GetRateLimitUsage(sessionID, endpoint string) map[string]map[string]any {
	return k.rateLimiter.GetUsage(sessionID, endpoint)
}

// =============================================================================
// Event System
// =============================================================================

// OnEvent registers an event handler.
func (k *Kernel) OnEvent(handler KernelEventHandler) {
	k.eventMu.Lock()
	defer k.eventMu.Unlock()
	k.eventHandlers = append(k.eventHandlers, handler)
}

// emitEvent emits an event to all handlers.
func (k *Kernel) emitEvent(event *KernelEvent) {
	k.eventMu.RLock()
	handlers := make([]KernelEventHandler, len(k.eventHandlers))
	copy(handlers, k.eventHandlers)
	k.eventMu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

// =============================================================================
// System Status
// =============================================================================

// GetSystemStatus returns overall system status.
func (k *Kernel) GetSystemStatus() map[string]any {
	processCounts := k.lifecycle.GetProcessCount()
	resourceUsage := k.resources.GetSystemUsage()

	return map[string]any{
		"processes": map[string]any{
			"total":       k.lifecycle.GetTotalProcesses(),
			"queue_depth": k.lifecycle.GetQueueDepth(),
			"by_state":    processCounts,
		},
		"resources":      resourceUsage,
		"uptime_seconds": time.Since(k.startedAt).Seconds(),
	}
}

// GetRequestStatus returns status of a specific request/process.
func (k *Kernel) GetRequestStatus(pid string) map[string]any {
	pcb := k.lifecycle.GetProcess(pid)
	if pcb == nil {
		return nil
	}

	usage := k.resources.GetUsage(pid)
	remaining := k.resources.GetRemainingBudget(pid)

	status := map[string]any{
		"pid":           pid,
		"state":         string(pcb.State),
		"priority":      string(pcb.Priority),
		"current_stage": pcb.CurrentStage,
		"created_at":    pcb.CreatedAt.Format(time.RFC3339),
	}

	if pcb.StartedAt != nil {
		status["started_at"] = pcb.StartedAt.Format(time.RFC3339)
	}
	if pcb.TerminationReason != "" {
		status["termination_reason"] = pcb.TerminationReason
	}

	if usage != nil {
		status["usage"] = map[string]any{
			"llm_calls":       usage.LLMCalls,
			"tool_calls":      usage.ToolCalls,
			"agent_hops":      usage.AgentHops,
			"code_tokens":     usage.CodeTokens,
			"elapsed_seconds": usage.ElapsedSeconds,
		}
	}

	if remaining != nil {
		status["remaining"] = remaining
	}

	return status
}

// =============================================================================
// Shutdown
// =============================================================================

// ShutdownError aggregates multiple errors that occurred during shutdown.
type ShutdownError struct {
	Errors []error
}

// Error returns a string representation of the shutdown errors.
func (e *ShutdownError) Error() string {
	if len(e.Errors) == 0 {
		return "shutdown completed with no errors"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("shutdown error: %v", e.Errors[0])
	}
	return fmt.Sprintf("shutdown completed with %d errors", len(e.Errors))
}

// Unwrap returns the first error for compatibility with errors.Is/As.
func (e *ShutdownError) Unwrap() error {
	if len(e.Errors) > 0 {
		return e.Errors[0]
	}
	return nil
}

// Shutdown gracefully shuts down the kernel.
// Returns a ShutdownError if any processes failed to terminate.
func (k *Kernel) Shutdown(ctx context.Context) error {
	if k.logger != nil {
		k.logger.Info("kernel_shutdown_initiated")
	}

	var errs []error

	// Terminate all running processes
	for _, pcb := range k.lifecycle.ListProcesses(nil, "") {
		// Check context cancellation
		select {
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("shutdown cancelled: %w", ctx.Err()))
			if k.logger != nil {
				k.logger.Warn("shutdown_cancelled", "error", ctx.Err().Error())
			}
			return &ShutdownError{Errors: errs}
		default:
		}

		if !pcb.IsTerminated() {
			if err := k.Terminate(pcb.PID, "kernel_shutdown", true); err != nil {
				errs = append(errs, fmt.Errorf("failed to terminate %s: %w", pcb.PID, err))
				if k.logger != nil {
					k.logger.Warn("shutdown_terminate_failed",
						"pid", pcb.PID,
						"error", err.Error(),
					)
				}
			}
		}
	}

	if k.logger != nil {
		k.logger.Info("kernel_shutdown_completed", "errors", len(errs))
	}

	if len(errs) > 0 {
		return &ShutdownError{Errors: errs}
	}
	return nil
}
