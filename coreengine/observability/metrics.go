// Package observability provides Prometheus metrics instrumentation for the coreengine.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// PIPELINE METRICS
// =============================================================================

var (
	pipelineExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codeanalysis_pipeline_executions_total",
			Help: "Total number of pipeline executions",
		},
		[]string{"pipeline", "termination_reason"},
	)

	pipelineDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codeanalysis_pipeline_duration_seconds",
			Help:    "Pipeline execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"pipeline"},
	)

	reintentCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codeanalysis_reintent_cycles_total",
			Help: "Total number of critic-driven re-entry cycles",
		},
		[]string{"pipeline"},
	)
)

// =============================================================================
// STAGE METRICS
// =============================================================================

var (
	stageExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codeanalysis_stage_executions_total",
			Help: "Total number of stage executions",
		},
		[]string{"stage", "status"}, // status: success, error
	)

	stageDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codeanalysis_stage_duration_seconds",
			Help:    "Stage execution duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"stage"},
	)
)

// =============================================================================
// LLM METRICS
// =============================================================================

var (
	llmCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codeanalysis_llm_calls_total",
			Help: "Total number of LLM API calls",
		},
		[]string{"provider", "model", "status"}, // status: success, error
	)

	llmDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codeanalysis_llm_duration_seconds",
			Help:    "LLM call duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "model"},
	)
)

// =============================================================================
// TOOL METRICS
// =============================================================================

var (
	toolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codeanalysis_tool_calls_total",
			Help: "Total number of tool invocations",
		},
		[]string{"tool", "status", "found_via"},
	)

	toolDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codeanalysis_tool_duration_seconds",
			Help:    "Tool invocation duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"tool"},
	)
)

// =============================================================================
// EVIDENCE METRICS
// =============================================================================

var (
	citationsExtractedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codeanalysis_citations_extracted_total",
			Help: "Total number of path:line citations extracted from tool results",
		},
		[]string{"tool"},
	)

	quotaRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codeanalysis_quota_rejections_total",
			Help: "Total number of requests terminated by the accountant",
		},
		[]string{"resource"},
	)
)

// =============================================================================
// GRPC METRICS
// =============================================================================

var (
	grpcRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codeanalysis_grpc_requests_total",
			Help: "Total gRPC requests",
		},
		[]string{"method", "status"}, // status: OK, InvalidArgument, Internal, etc.
	)

	grpcRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codeanalysis_grpc_request_duration_seconds",
			Help:    "gRPC request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"method"},
	)
)

// =============================================================================
// PUBLIC API
// =============================================================================

// RecordPipelineExecution records pipeline execution metrics.
// This should be called after the terminal event has been produced.
func RecordPipelineExecution(pipeline string, terminationReason string, durationMS int) {
	pipelineExecutionsTotal.WithLabelValues(pipeline, terminationReason).Inc()
	pipelineDurationSeconds.WithLabelValues(pipeline).Observe(float64(durationMS) / 1000.0)
}

// RecordReintentCycle records one critic-driven re-entry.
func RecordReintentCycle(pipeline string) {
	reintentCyclesTotal.WithLabelValues(pipeline).Inc()
}

// RecordStageExecution records stage execution metrics.
// This should be called after stage processing completes.
func RecordStageExecution(stage string, status string, durationMS int) {
	stageExecutionsTotal.WithLabelValues(stage, status).Inc()
	stageDurationSeconds.WithLabelValues(stage).Observe(float64(durationMS) / 1000.0)
}

// RecordLLMCall records LLM call metrics.
// This should be called after LLM completion finishes.
func RecordLLMCall(provider string, model string, status string, durationMS int) {
	llmCallsTotal.WithLabelValues(provider, model, status).Inc()
	llmDurationSeconds.WithLabelValues(provider, model).Observe(float64(durationMS) / 1000.0)
}

// RecordToolCall records tool invocation metrics.
// This should be called by the executor stage after each planned step.
func RecordToolCall(tool string, status string, foundVia string, durationMS int) {
	toolCallsTotal.WithLabelValues(tool, status, foundVia).Inc()
	toolDurationSeconds.WithLabelValues(tool).Observe(float64(durationMS) / 1000.0)
}

// RecordCitations records citations extracted from one tool result.
func RecordCitations(tool string, count int) {
	if count > 0 {
		citationsExtractedTotal.WithLabelValues(tool).Add(float64(count))
	}
}

// RecordQuotaRejection records an accountant-driven termination.
func RecordQuotaRejection(resource string) {
	quotaRejectionsTotal.WithLabelValues(resource).Inc()
}

// RecordGRPCRequest records gRPC request metrics.
// This should be called from gRPC interceptors.
func RecordGRPCRequest(method string, status string, durationMS int) {
	grpcRequestsTotal.WithLabelValues(method, status).Inc()
	grpcRequestDurationSeconds.WithLabelValues(method).Observe(float64(durationMS) / 1000.0)
}
