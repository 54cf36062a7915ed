// Package service provides the engine façade: accept a query, admit it with
// the kernel, run the pipeline, and hand back either a single terminal
// result or the full event stream.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeeves-cluster-organization/codeanalysis/commbus"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/envelope"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/kernel"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/runtime"
)

// Request is one analysis query.
type Request struct {
	Query     string          `json:"query"`
	SessionID string          `json:"session_id,omitempty"`
	Options   *RequestOptions `json:"options,omitempty"`
}

// RequestOptions tune one request.
type RequestOptions struct {
	// MaxReintent lowers the critic re-entry budget below the default.
	MaxReintent *int `json:"max_reintent,omitempty"`
	// Deadline bounds the request's wall clock.
	Deadline *time.Time `json:"deadline,omitempty"`
}

// Response is the single-shot result of a query.
type Response struct {
	RequestID         string                 `json:"request_id"`
	FinalResponse     string                 `json:"final_response"`
	Citations         []string               `json:"citations,omitempty"`
	TerminationReason string                 `json:"termination_reason"`
	Explanation       string                 `json:"explanation,omitempty"`
	Usage             envelope.ResourceUsage `json:"usage"`
	ReintentCycles    int                    `json:"reintent_cycles"`
}

// EventSink receives the append-only analysis event log.
type EventSink interface {
	AppendEvent(ctx context.Context, requestID, eventType string, payload []byte) error
}

// Facade accepts queries and runs them through the pipeline. It is safe for
// concurrent use: each request owns one runner invocation and one envelope.
type Facade struct {
	Runner *runtime.PipelineRunner
	Kernel *kernel.Kernel
	Bus    commbus.CommBus
	Events EventSink
	Logger commbus.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewFacade wires the façade and registers its bus handlers.
func NewFacade(runner *runtime.PipelineRunner, k *kernel.Kernel, bus commbus.CommBus, events EventSink, logger commbus.Logger) *Facade {
	f := &Facade{
		Runner:  runner,
		Kernel:  k,
		Bus:     bus,
		Events:  events,
		Logger:  logger.Bind("component", "facade"),
		cancels: make(map[string]context.CancelFunc),
	}
	f.registerBusHandlers()
	return f
}

// Query runs a request to completion and returns the terminal result.
func (f *Facade) Query(ctx context.Context, req Request) (*Response, error) {
	events, requestID, err := f.start(ctx, req)
	if err != nil {
		return nil, err
	}

	var terminal *runtime.TerminalEvent
	for ev := range events {
		if ev.Terminal != nil {
			terminal = ev.Terminal
		}
	}
	if terminal == nil {
		return nil, fmt.Errorf("request %s produced no terminal event", requestID)
	}

	return &Response{
		RequestID:         requestID,
		FinalResponse:     terminal.FinalResponse,
		Citations:         terminal.Citations,
		TerminationReason: string(terminal.TerminationReason),
		Explanation:       terminal.Explanation,
		Usage:             terminal.Usage,
		ReintentCycles:    terminal.ReintentCycles,
	}, nil
}

// QueryStream runs a request and returns its event stream: stage events in
// stage order, ending with exactly one terminal event, after which the
// channel closes.
func (f *Facade) QueryStream(ctx context.Context, req Request) (<-chan runtime.Event, string, error) {
	events, requestID, err := f.start(ctx, req)
	return events, requestID, err
}

// Cancel cooperatively cancels an in-flight request: the current stage
// finishes, the envelope terminates with reason "cancelled".
func (f *Facade) Cancel(requestID string) bool {
	f.mu.Lock()
	cancel, ok := f.cancels[requestID]
	f.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// start admits a request and spawns its runner task. The returned channel
// relays the runner's events after mirroring them to the bus and the event
// log.
func (f *Facade) start(ctx context.Context, req Request) (<-chan runtime.Event, string, error) {
	// An empty query is admitted: the intent stage turns it into a
	// clarification question rather than an error.
	requestID := uuid.NewString()
	sessionID := req.SessionID

	// Admission: rate limit by session, then create the process record.
	if f.Kernel != nil {
		if result := f.Kernel.CheckRateLimit(sessionID, "/query", true); !result.Allowed {
			return nil, "", fmt.Errorf("rate_limited: retry after %.1fs", result.RetryAfter)
		}

		quota := f.quotaFor(req.Options)
		if _, err := f.Kernel.Submit(requestID, requestID, sessionID, kernel.PriorityNormal, quota); err != nil {
			return nil, "", fmt.Errorf("admission failed: %w", err)
		}
		if err := f.Kernel.Schedule(requestID); err != nil {
			return nil, "", fmt.Errorf("admission failed: %w", err)
		}
		f.Kernel.GetNextRunnable()
	}

	env := envelope.New(requestID, sessionID, req.Query)

	runCtx, cancel := context.WithCancel(ctx)
	if req.Options != nil && req.Options.Deadline != nil {
		runCtx, cancel = context.WithDeadline(ctx, *req.Options.Deadline)
	}
	f.mu.Lock()
	f.cancels[requestID] = cancel
	f.mu.Unlock()

	f.publish(&commbus.RequestAdmitted{SessionID: sessionID, RequestID: requestID, Query: req.Query})
	f.logEvent(requestID, "request_admitted", map[string]any{"query": req.Query})

	out := make(chan runtime.Event, 64)
	started := time.Now()

	go func() {
		defer close(out)
		defer func() {
			cancel()
			f.mu.Lock()
			delete(f.cancels, requestID)
			f.mu.Unlock()
		}()

		resultEnv, events, err := f.Runner.Execute(runCtx, env, runtime.RunOptions{Stream: true})
		if err != nil {
			f.Logger.Error("runner_failed", "request_id", requestID, "error", err.Error())
			return
		}

		for ev := range events {
			f.mirror(requestID, sessionID, ev)
			out <- ev
		}

		f.finish(resultEnv, requestID, sessionID, started)
	}()

	return out, requestID, nil
}

// quotaFor derives the per-request quota from options.
func (f *Facade) quotaFor(opts *RequestOptions) *kernel.ResourceQuota {
	if opts == nil || opts.MaxReintent == nil {
		return nil
	}
	quota := kernel.DefaultQuota()
	if *opts.MaxReintent < quota.MaxReintentCycles {
		quota.MaxReintentCycles = *opts.MaxReintent
	}
	return quota
}

// mirror publishes one runner event to the bus and the event log.
func (f *Facade) mirror(requestID, sessionID string, ev runtime.Event) {
	switch {
	case ev.Stage != nil:
		msg := &commbus.StageCompleted{
			Stage:     ev.Stage.Stage,
			SessionID: sessionID,
			RequestID: requestID,
			Status:    string(ev.Stage.Status),
			Summary:   ev.Stage.Summary,
		}
		if ev.Stage.Status == envelope.EventStarted {
			f.publish(&commbus.StageStarted{Stage: ev.Stage.Stage, SessionID: sessionID, RequestID: requestID})
		} else {
			f.publish(msg)
		}
		f.logEvent(requestID, "stage_"+string(ev.Stage.Status), map[string]any{"stage": ev.Stage.Stage})

	case ev.Terminal != nil:
		f.logEvent(requestID, "terminal", map[string]any{
			"termination_reason": string(ev.Terminal.TerminationReason),
			"citations":          len(ev.Terminal.Citations),
		})
	}
}

// finish records usage and emits the terminated lifecycle messages. The
// envelope is destroyed after this: nothing else holds it.
func (f *Facade) finish(env *envelope.Envelope, requestID, sessionID string, started time.Time) {
	durationMS := int(time.Since(started).Milliseconds())

	if f.Kernel != nil {
		_ = f.Kernel.Terminate(requestID, string(env.TerminationReason), true)
	}

	f.publish(&commbus.RequestTerminated{
		SessionID:         sessionID,
		RequestID:         requestID,
		TerminationReason: string(env.TerminationReason),
		ReintentCycles:    env.ReintentCycles,
		Citations:         env.Citations(),
		DurationMS:        durationMS,
	})
}

func (f *Facade) publish(msg commbus.Message) {
	if f.Bus == nil {
		return
	}
	if err := f.Bus.Publish(context.Background(), msg); err != nil {
		f.Logger.Warning("bus_publish_failed", "message_type", commbus.GetMessageType(msg), "error", err.Error())
	}
}

func (f *Facade) logEvent(requestID, eventType string, payload map[string]any) {
	if f.Events == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := f.Events.AppendEvent(context.Background(), requestID, eventType, data); err != nil {
		f.Logger.Warning("event_log_append_failed", "request_id", requestID, "error", err.Error())
	}
}

// registerBusHandlers wires the commands and queries the façade serves.
func (f *Facade) registerBusHandlers() {
	if f.Bus == nil {
		return
	}

	_ = f.Bus.RegisterHandler("CancelRequest", func(ctx context.Context, msg commbus.Message) (any, error) {
		cancelMsg, ok := msg.(*commbus.CancelRequest)
		if !ok {
			return nil, fmt.Errorf("unexpected message type")
		}
		return f.Cancel(cancelMsg.RequestID), nil
	})

	_ = f.Bus.RegisterHandler("GetRequestUsage", func(ctx context.Context, msg commbus.Message) (any, error) {
		usageMsg, ok := msg.(*commbus.GetRequestUsage)
		if !ok {
			return nil, fmt.Errorf("unexpected message type")
		}
		if f.Kernel == nil {
			return nil, fmt.Errorf("no kernel configured")
		}
		return f.Kernel.GetRequestStatus(usageMsg.RequestID), nil
	})

	_ = f.Bus.RegisterHandler("HealthCheckRequest", func(ctx context.Context, msg commbus.Message) (any, error) {
		return &commbus.HealthCheckResponse{
			Component: "engine",
			Status:    string(commbus.HealthStatusHealthy),
		}, nil
	})
}
