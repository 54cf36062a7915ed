package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jeeves-cluster-organization/codeanalysis/commbus"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/agents"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/config"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/envelope"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/kernel"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/observability"
)

// TerminalEvent is the last event of every request: the final response, the
// citations observed, why the request stopped, and what it spent.
type TerminalEvent struct {
	RequestID         string                     `json:"request_id"`
	FinalResponse     string                     `json:"final_response"`
	CitedSources      []string                   `json:"cited_sources,omitempty"`
	Citations         []string                   `json:"citations,omitempty"`
	TerminationReason envelope.TerminationReason `json:"termination_reason"`
	Explanation       string                     `json:"explanation,omitempty"`
	Usage             envelope.ResourceUsage     `json:"usage"`
	ReintentCycles    int                        `json:"reintent_cycles"`
	Timestamp         time.Time                  `json:"timestamp"`
}

// Event is one element of a request's outbound stream: either a stage
// boundary notification or the terminal event. Exactly one field is set.
type Event struct {
	Stage    *envelope.Event `json:"stage,omitempty"`
	Terminal *TerminalEvent  `json:"terminal,omitempty"`
}

// RunOptions configures how the pipeline runs.
type RunOptions struct {
	// Stream: send events to the returned channel as stages complete.
	Stream bool
}

// PersistenceAdapter handles session-state persistence. State is the
// envelope's serialized snapshot, opaque to the adapter.
type PersistenceAdapter interface {
	SaveState(ctx context.Context, sessionID string, state []byte) error
	LoadState(ctx context.Context, sessionID string) ([]byte, error)
}

// reintentRecorder is the optional accountant extension for cycle tracking.
type reintentRecorder interface {
	RecordReintentCycle(requestID string)
}

// hopRecorder is the optional accountant extension for stage-hop tracking.
type hopRecorder interface {
	RecordAgentHop(requestID string) string
}

// PipelineRunner executes the seven-stage pipeline for one request at a
// time. One runner serves many requests concurrently; each request's
// envelope is owned by exactly one Execute call for its whole lifetime.
type PipelineRunner struct {
	Config      *config.PipelineConfig
	Logger      commbus.Logger
	Accountant  agents.Accountant
	Persistence PersistenceAdapter

	stages map[string]*agents.Stage
}

// NewPipelineRunner creates a runner over pre-built stages. The stage map
// must contain every name in cfg's stage order.
func NewPipelineRunner(
	cfg *config.PipelineConfig,
	stages map[string]*agents.Stage,
	logger commbus.Logger,
	accountant agents.Accountant,
) (*PipelineRunner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, name := range cfg.GetStageOrder() {
		if _, ok := stages[name]; !ok {
			return nil, fmt.Errorf("pipeline '%s' has no stage implementation for '%s'", cfg.Name, name)
		}
	}

	runner := &PipelineRunner{
		Config:     cfg,
		Logger:     logger.Bind("pipeline", cfg.Name),
		Accountant: accountant,
		stages:     stages,
	}

	for _, stage := range stages {
		stage.Accountant = accountant
	}

	runner.Logger.Info("runtime_stages_built",
		"stage_count", len(stages),
		"stages", cfg.GetStageOrder(),
	)

	return runner, nil
}

// SetEventContext sets the event context for all stages.
func (r *PipelineRunner) SetEventContext(ctx agents.EventContext) {
	for _, stage := range r.stages {
		stage.SetEventContext(ctx)
	}
}

// SetMocks installs mock handlers and flips every stage into mock mode.
// This is the only supported test substitution point for the LLM.
func (r *PipelineRunner) SetMocks(mocks map[string]agents.MockHandler) {
	for name, stage := range r.stages {
		if handler, ok := mocks[name]; ok {
			stage.MockHandler = handler
			stage.UseMock = true
		}
	}
}

// =============================================================================
// EXECUTION
// =============================================================================

// Execute runs the pipeline to termination. The returned channel carries
// stage events in stage order, ending with exactly one terminal event; it is
// closed after the terminal event. With Stream unset the channel is still
// returned, pre-buffered, so callers can replay the trail.
//
// Re-running a terminated envelope yields the same terminal event and
// performs no stage processing and no external calls.
func (r *PipelineRunner) Execute(ctx context.Context, env *envelope.Envelope, opts RunOptions) (*envelope.Envelope, <-chan Event, error) {
	// The buffer holds a full worst-case trail, so a consumer that only
	// drains after termination never blocks the producer.
	bufSize := len(r.Config.Stages)*(r.Config.MaxReintentCycles+1)*2 + 8
	events := make(chan Event, bufSize)

	startTime := time.Now()

	r.Logger.Info("pipeline_started",
		"request_id", env.RequestID,
		"session_id", env.SessionID,
		"stream", opts.Stream,
	)

	// Idempotent replay: a terminated envelope re-emits its terminal event
	// and nothing else.
	if env.Terminated {
		events <- Event{Terminal: r.buildTerminalEvent(env)}
		close(events)
		return env, events, nil
	}

	if env.CurrentStage == "" {
		env.CurrentStage = envelope.StagePerception
	}

	// The runner task is the envelope's single writer until the channel
	// closes; callers must not touch env before then.
	go func() {
		defer close(events)

		r.runSequential(ctx, env, events)

		durationMS := int(time.Since(startTime).Milliseconds())
		observability.RecordPipelineExecution(r.Config.Name, string(env.TerminationReason), durationMS)

		events <- Event{Terminal: r.buildTerminalEvent(env)}

		r.Logger.Info("pipeline_completed",
			"request_id", env.RequestID,
			"termination_reason", string(env.TerminationReason),
			"reintent_cycles", env.ReintentCycles,
			"citations", len(env.Citations()),
			"duration_ms", durationMS,
		)
	}()

	return env, events, nil
}

// Run runs the pipeline and returns only the terminal event.
func (r *PipelineRunner) Run(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, *TerminalEvent, error) {
	resultEnv, events, err := r.Execute(ctx, env, RunOptions{})
	if err != nil {
		return resultEnv, nil, err
	}
	var terminal *TerminalEvent
	for ev := range events {
		if ev.Terminal != nil {
			terminal = ev.Terminal
		}
	}
	return resultEnv, terminal, nil
}

// runSequential advances the envelope stage by stage until a terminal
// decision. It is the only writer of env for the duration of the call.
func (r *PipelineRunner) runSequential(ctx context.Context, env *envelope.Envelope, events chan<- Event) {
	criticRetried := false

	for !env.Terminated {
		// Cooperative cancellation at the stage boundary.
		if ctx.Err() != nil {
			r.Logger.Info("pipeline_cancelled",
				"request_id", env.RequestID,
				"stage", env.CurrentStage,
			)
			env.Terminate(envelope.TerminationCancelled)
			return
		}

		// The accountant decides whether the request may continue; the
		// runner implements no quota logic of its own.
		if r.Accountant != nil {
			if ok, reason := r.Accountant.CheckQuota(env.RequestID); !ok {
				r.Logger.Warning("pipeline_quota_exceeded", "request_id", env.RequestID, "reason", reason)
				observability.RecordQuotaRejection(reason)
				r.terminateQuotaExceeded(ctx, env, events, reason)
				return
			}
		}

		stageName := env.CurrentStage
		stage, ok := r.stages[stageName]
		if !ok {
			r.Logger.Error("pipeline_unknown_stage",
				"request_id", env.RequestID,
				"stage", stageName,
			)
			env.Terminate(envelope.TerminationInternalError)
			return
		}

		r.emitStageEvent(events, env, stageName, envelope.EventStarted, "")

		processedEnv, err := r.processStage(ctx, stage, env)
		if err != nil {
			// Parent cancellation surfaces as an error from the stage's
			// LLM or tool call; it is a cancellation, not a failure.
			if ctx.Err() != nil {
				r.emitStageEvent(events, env, stageName, envelope.EventFailed, "cancelled")
				env.Terminate(envelope.TerminationCancelled)
				return
			}

			// Critic soft-timeout gets one retry inside the current cycle.
			if stageName == envelope.StageCritic && errors.Is(err, context.DeadlineExceeded) && !criticRetried {
				criticRetried = true
				r.Logger.Warning("critic_timeout_retry", "request_id", env.RequestID)
				processedEnv, err = r.processStage(ctx, stage, env)
			}
			if err != nil {
				r.emitStageEvent(events, env, stageName, envelope.EventFailed, err.Error())
				r.Logger.Error("pipeline_stage_failed",
					"request_id", env.RequestID,
					"stage", stageName,
					"error", err.Error(),
				)
				env.Terminate(envelope.TerminationInternalError)
				return
			}
		}
		env = processedEnv

		if rec, ok := r.Accountant.(hopRecorder); ok && r.Accountant != nil {
			rec.RecordAgentHop(env.RequestID)
		}

		r.emitStageEvent(events, env, stageName, envelope.EventCompleted, "")
		r.persistState(ctx, env)

		// Transition. The decision function is the only legal source of
		// CurrentStage mutations.
		decision := NextStage(stageName, env)

		switch {
		case decision.Terminal && decision.ClarificationQuestion != "":
			r.writeClarification(env, decision.ClarificationQuestion)
			env.Terminate(decision.Reason)
			return

		case decision.Terminal && decision.RunIntegration:
			// Best-effort integration, qualified with the unsupported
			// claims, then the rejected termination.
			env.TerminationReason = decision.Reason
			r.runIntegrationBestEffort(ctx, env, events)
			env.Terminate(decision.Reason)
			return

		case decision.Terminal:
			env.Terminate(decision.Reason)
			return

		case decision.Reenter:
			observability.RecordReintentCycle(r.Config.Name)
			if rec, ok := r.Accountant.(reintentRecorder); ok && r.Accountant != nil {
				rec.RecordReintentCycle(env.RequestID)
			}
			if err := env.Reenter(decision.ReenterFocus); err != nil {
				// CanReenter was consulted by the transition function, so
				// this is a programmer error, not a runtime condition.
				r.Logger.Error("pipeline_reenter_failed", "request_id", env.RequestID, "error", err.Error())
				env.Terminate(envelope.TerminationInternalError)
				return
			}
			criticRetried = false
			r.Logger.Info("pipeline_reentered",
				"request_id", env.RequestID,
				"cycle", env.ReintentCycles,
				"focus", decision.ReenterFocus,
			)

		default:
			env.CurrentStage = decision.Next
		}
	}
}

// processStage runs one stage under its timeout with panic recovery.
func (r *PipelineRunner) processStage(ctx context.Context, stage *agents.Stage, env *envelope.Envelope) (*envelope.Envelope, error) {
	timeout := time.Duration(stage.Config.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = time.Duration(r.Config.DefaultTimeoutSeconds) * time.Second
	}
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return kernel.SafeExecuteWithResult(kernelLogger{r.Logger}, "stage_"+stage.Name, func() (*envelope.Envelope, error) {
		return stage.Process(stageCtx, env)
	})
}

// terminateQuotaExceeded runs the "limits reached" integration pass and
// terminates the request.
func (r *PipelineRunner) terminateQuotaExceeded(ctx context.Context, env *envelope.Envelope, events chan<- Event, reason string) {
	r.Logger.Info("pipeline_terminating_on_quota",
		"request_id", env.RequestID,
		"resource", reason,
		"stage", env.CurrentStage,
	)
	env.TerminationReason = envelope.TerminationQuotaExceeded
	r.runIntegrationBestEffort(ctx, env, events)
	env.Terminate(envelope.TerminationQuotaExceeded)
}

// runIntegrationBestEffort invokes the integration stage ignoring failures:
// a request that is already terminating must still produce its final event.
func (r *PipelineRunner) runIntegrationBestEffort(ctx context.Context, env *envelope.Envelope, events chan<- Event) {
	stage, ok := r.stages[envelope.StageIntegration]
	if !ok {
		return
	}
	if _, done := env.StageOutput(envelope.StageIntegration); done {
		return
	}

	env.CurrentStage = envelope.StageIntegration
	r.emitStageEvent(events, env, envelope.StageIntegration, envelope.EventStarted, "")
	if _, err := r.processStage(ctx, stage, env); err != nil {
		r.Logger.Warning("integration_best_effort_failed",
			"request_id", env.RequestID,
			"error", err.Error(),
		)
		r.emitStageEvent(events, env, envelope.StageIntegration, envelope.EventFailed, err.Error())
		return
	}
	r.emitStageEvent(events, env, envelope.StageIntegration, envelope.EventCompleted, "")
}

// writeClarification records a clarification question as the final response.
func (r *PipelineRunner) writeClarification(env *envelope.Envelope, question string) {
	output, err := envelope.ToMap(envelope.IntegrationOutput{
		FinalResponse: question,
		CitedSources:  env.Citations(),
	})
	if err != nil {
		return
	}
	env.SetStageOutput(envelope.StageIntegration, output)
}

// persistState saves the envelope snapshot if persistence is configured and
// the request belongs to a session.
func (r *PipelineRunner) persistState(ctx context.Context, env *envelope.Envelope) {
	if r.Persistence == nil || env.SessionID == "" {
		return
	}
	snapshot, err := env.MarshalJSON()
	if err != nil {
		r.Logger.Warning("state_snapshot_error", "request_id", env.RequestID, "error", err.Error())
		return
	}
	if err := r.Persistence.SaveState(ctx, env.SessionID, snapshot); err != nil {
		r.Logger.Warning("state_persist_error",
			"session_id", env.SessionID,
			"error", err.Error(),
		)
	}
}

// emitStageEvent sends one stage boundary event.
func (r *PipelineRunner) emitStageEvent(events chan<- Event, env *envelope.Envelope, stage string, status envelope.EventStatus, summary string) {
	events <- Event{Stage: &envelope.Event{
		RequestID: env.RequestID,
		Stage:     stage,
		Status:    status,
		Summary:   summary,
		Timestamp: time.Now().UTC(),
	}}
}

// buildTerminalEvent assembles the terminal event from the envelope.
func (r *PipelineRunner) buildTerminalEvent(env *envelope.Envelope) *TerminalEvent {
	terminal := &TerminalEvent{
		RequestID:         env.RequestID,
		Citations:         env.Citations(),
		TerminationReason: env.TerminationReason,
		Usage:             env.ResourceUsage,
		ReintentCycles:    env.ReintentCycles,
		Timestamp:         time.Now().UTC(),
	}

	if raw, ok := env.StageOutput(envelope.StageIntegration); ok {
		if integration, err := envelope.DecodeIntegrationOutput(raw); err == nil {
			terminal.FinalResponse = integration.FinalResponse
			terminal.CitedSources = integration.CitedSources
		}
	}

	terminal.Explanation = explainTermination(env.TerminationReason)
	return terminal
}

// explainTermination renders the plain-language explanation carried by every
// non-completed terminal event.
func explainTermination(reason envelope.TerminationReason) string {
	switch reason {
	case envelope.TerminationCompleted:
		return ""
	case envelope.TerminationCriticRejected:
		return "Some statements could not be verified against the repository; they are marked as unverified in the answer."
	case envelope.TerminationCycleLimit:
		return "The analysis re-entered its exploration loop too many times and was stopped."
	case envelope.TerminationQuotaExceeded:
		return "The request reached its resource budget before the analysis finished; partial findings are included."
	case envelope.TerminationCancelled:
		return "The request was cancelled before the analysis finished."
	case envelope.TerminationInternalError:
		return "An internal error stopped the analysis."
	default:
		return ""
	}
}

// kernelLogger adapts the commbus logger to the kernel's logger interface.
type kernelLogger struct {
	logger commbus.Logger
}

func (l kernelLogger) Debug(msg string, keysAndValues ...any) { l.logger.Debug(msg, keysAndValues...) }
func (l kernelLogger) Info(msg string, keysAndValues ...any)  { l.logger.Info(msg, keysAndValues...) }
func (l kernelLogger) Warn(msg string, keysAndValues ...any) {
	l.logger.Warning(msg, keysAndValues...)
}
func (l kernelLogger) Error(msg string, keysAndValues ...any) { l.logger.Error(msg, keysAndValues...) }
