package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/agents"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/envelope"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/evidence"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/observability"
)

// executorCore is the executor stage: it iterates the planner's steps in
// order, invokes each named tool through the registry, extracts citations,
// and accumulates attempt history. No LLM.
//
// Error policy, per step:
//   - unregistered tool: mark the step tool_unavailable, continue the plan;
//   - invalid arguments (schema rejection): the stage fails - the planner
//     produced malformed output;
//   - handler error: mark the step error and stop early;
//   - not_found: a normal signal, never stops the plan.
//
// The executor also enforces the context bounds: every successful result's
// tool-derived tokens are charged to the accountant, and the plan stops as
// soon as the accountant reports the budget spent.
func executorCore(deps Deps) agents.CoreFunc {
	return func(ctx context.Context, env *envelope.Envelope) (map[string]any, error) {
		rawPlan, ok := env.StageOutput(envelope.StagePlanner)
		if !ok {
			return map[string]any{"results": []any{}}, nil
		}
		plan, err := envelope.DecodePlannerOutput(rawPlan)
		if err != nil {
			return nil, fmt.Errorf("decoding plan: %w", err)
		}

		results := make([]map[string]any, 0, len(plan.Steps))

	steps:
		for i, step := range plan.Steps {
			// Cooperative cancellation between tool calls: the current call
			// finishes, the remaining plan does not start.
			select {
			case <-ctx.Done():
				break steps
			default:
			}

			name := string(step.ToolName)
			if !deps.Registry.Has(name) {
				deps.Logger.Warning("executor_tool_unavailable",
					"request_id", env.RequestID,
					"tool", name,
					"step", i,
				)
				results = append(results, map[string]any{
					"tool":   name,
					"status": string(envelope.ToolStatusToolUnavailable),
					"error":  fmt.Sprintf("tool %q is not registered", name),
				})
				continue
			}

			start := time.Now()
			raw, execErr := deps.Registry.Execute(ctx, name, step.Arguments)
			durationMS := int(time.Since(start).Milliseconds())

			if deps.Accountant != nil {
				deps.Accountant.RecordToolCall(name, env.RequestID)
			}
			env.ResourceUsage.ToolCalls++

			if execErr != nil {
				if strings.HasPrefix(execErr.Error(), "invalid_arguments") {
					return nil, fmt.Errorf("step %d (%s): %w", i, name, execErr)
				}
				observability.RecordToolCall(name, string(envelope.ToolStatusError), "", durationMS)
				results = append(results, map[string]any{
					"tool":   name,
					"status": string(envelope.ToolStatusError),
					"error":  execErr.Error(),
				})
				// Hard tool failure stops the plan; synthesis works with
				// what was gathered so far.
				break
			}

			result, decodeErr := decodeToolResult(raw)
			if decodeErr != nil {
				return nil, fmt.Errorf("step %d (%s): malformed tool result: %w", i, name, decodeErr)
			}

			// Accumulate the attempt trail on the envelope.
			for _, attempt := range result.AttemptHistory {
				env.AppendAttempt(attempt)
			}

			// Extract and accumulate citations.
			citations := evidence.ExtractFromToolResult(result)
			env.AddCitations(citations)
			observability.RecordCitations(name, len(citations))
			observability.RecordToolCall(name, string(result.Status), result.FoundVia, durationMS)

			// Charge tool-derived tokens and file reads against the bounds.
			if result.Status == envelope.ToolStatusSuccess {
				tokens := countResultTokens(deps, result)
				files := 0
				if result.Tool == envelope.ToolReadCode {
					files = 1
				}
				if rec, ok := deps.Accountant.(CodeTokenRecorder); ok && deps.Accountant != nil {
					rec.RecordCodeTokens(env.RequestID, tokens, files)
				}
			}

			results = append(results, raw)

			// Stop executing further steps once the budget is spent; the
			// runner turns the exhausted budget into quota_exceeded before
			// the next LLM call.
			if deps.Accountant != nil {
				if ok, reason := deps.Accountant.CheckQuota(env.RequestID); !ok {
					deps.Logger.Warning("executor_budget_exhausted",
						"request_id", env.RequestID,
						"reason", reason,
						"steps_executed", i+1,
					)
					break
				}
			}
		}

		anyResults := make([]any, len(results))
		for i, r := range results {
			anyResults[i] = r
		}
		return map[string]any{"results": anyResults}, nil
	}
}

// decodeToolResult converts a registry handler's raw map into the typed
// ToolResult shape.
func decodeToolResult(raw map[string]any) (envelope.ToolResult, error) {
	var result envelope.ToolResult
	data, err := json.Marshal(raw)
	if err != nil {
		return result, err
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, err
	}
	if result.Status == "" {
		return result, fmt.Errorf("tool result has no status")
	}
	return result, nil
}

// countResultTokens measures the tool-derived text a result contributes to
// downstream prompts.
func countResultTokens(deps Deps, result envelope.ToolResult) int {
	data, err := json.Marshal(result.Data)
	if err != nil {
		return 0
	}
	if deps.Counter != nil {
		return deps.Counter.Count(string(data))
	}
	return len(data) / 4
}
