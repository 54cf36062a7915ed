// Package kernel provides the kernel-backed accountant.
//
// The pipeline runtime never sees the kernel directly: it holds an explicit
// accountant handle with three core operations (record LLM call, record
// tool call, check quota) plus extensions: code tokens for the executor,
// agent hops and re-intent cycles for the runner. Accountant is that handle, backed by the kernel's resource tracker. PID equals the
// request id, so callers pass request ids everywhere.
package kernel

// Accountant adapts the kernel to the accountant contract consumed by the
// pipeline runtime and the tool executor.
type Accountant struct {
	kernel *Kernel
}

// NewAccountant creates an accountant handle over the kernel.
func NewAccountant(k *Kernel) *Accountant {
	return &Accountant{kernel: k}
}

// RecordLLMCall records one LLM call with its token counts.
func (a *Accountant) RecordLLMCall(requestID string, tokensIn, tokensOut int) {
	a.kernel.RecordLLMCall(requestID, tokensIn, tokensOut)
}

// RecordToolCall records one tool invocation.
func (a *Accountant) RecordToolCall(name, requestID string) {
	a.kernel.RecordToolCall(requestID)
	_ = name // tool name appears in metrics, not in quota accounting
}

// RecordCodeTokens records tool-derived code tokens and file reads against
// the executor's context bounds.
func (a *Accountant) RecordCodeTokens(requestID string, tokens, files int) {
	a.kernel.RecordCodeTokens(requestID, tokens, files)
}

// RecordAgentHop records one stage transition.
func (a *Accountant) RecordAgentHop(requestID string) string {
	return a.kernel.RecordAgentHop(requestID)
}

// RecordReintentCycle records one critic-driven re-entry.
func (a *Accountant) RecordReintentCycle(requestID string) {
	a.kernel.RecordReintentCycle(requestID)
}

// CheckQuota reports whether the request may keep running. The runtime
// honours whatever this returns; it implements no quota logic of its own.
func (a *Accountant) CheckQuota(requestID string) (bool, string) {
	reason := a.kernel.CheckQuota(requestID)
	return reason == "", reason
}
