// Package tools implements the read-only codebase-exploration tool layer:
// a registry of primitives plus two planner-invokable composed tools
// (search_code, read_code), each a deterministic fallback chain.
package tools

import (
	"context"
	"fmt"
	"sync"
)

// ParamSchema is a minimal per-argument schema used to reject unknown or
// mistyped arguments before a tool handler ever runs.
type ParamSchema struct {
	Required []string
	Optional []string
}

// Validate rejects unknown arguments and checks required ones are present.
func (s ParamSchema) Validate(args map[string]any) error {
	known := make(map[string]bool, len(s.Required)+len(s.Optional))
	for _, k := range s.Required {
		known[k] = true
	}
	for _, k := range s.Optional {
		known[k] = true
	}
	for k := range args {
		if !known[k] {
			return fmt.Errorf("invalid_arguments: unknown argument %q", k)
		}
	}
	for _, k := range s.Required {
		if _, ok := args[k]; !ok {
			return fmt.Errorf("invalid_arguments: missing required argument %q", k)
		}
	}
	return nil
}

// Handler executes one tool invocation against validated arguments.
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// Definition is a registered tool's metadata and implementation.
type Definition struct {
	Name     string
	Category Category
	Risk     RiskLevel
	Schema   ParamSchema
	Handler  Handler
}

// Registry is a name -> Definition lookup table. Registrations taken during
// startup are expected to be frozen (via Freeze) before serving begins; the
// registry itself is a mutable global only during that bootstrap window.
//
// The registry rejects any attempt to register a write-capable tool: this
// core is read-only by construction, not by convention.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*Definition
	frozen bool
}

// NewRegistry creates an empty, unfrozen registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Definition)}
}

// Register adds a tool definition. Fails at registration time — not at call
// time — for three reasons: empty name, nil handler, or a non-read-only risk
// level. The last of these is the hard requirement: this registry can never
// hold a write-capable tool, regardless of what a caller asks it to register.
func (r *Registry) Register(def *Definition) error {
	if def == nil {
		return fmt.Errorf("invalid_arguments: nil tool definition")
	}
	if def.Name == "" {
		return fmt.Errorf("invalid_arguments: tool name is required")
	}
	if def.Handler == nil {
		return fmt.Errorf("invalid_arguments: tool handler is required for %q", def.Name)
	}
	if def.Risk != riskReadOnly {
		return fmt.Errorf("read_only violation: tool %q declares risk level %q; only %q is permitted", def.Name, def.Risk, riskReadOnly)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("registry is frozen: cannot register %q after startup", def.Name)
	}
	r.tools[def.Name] = def
	return nil
}

// Freeze prevents any further registration. Called once, after startup
// registrations are complete and before the service façade accepts traffic.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Execute validates arguments against the named tool's schema and invokes it.
// Returns an "invalid_arguments" error (unknown or missing argument) or a
// "tool_unavailable" error (unregistered name) without ever calling the
// handler — both are registry-contract failures, not tool-logic failures.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	r.mu.RLock()
	def, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("tool_unavailable: %q is not registered", name)
	}
	if err := def.Schema.Validate(args); err != nil {
		return nil, err
	}
	return def.Handler(ctx, args)
}

// Has reports whether a tool name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Get returns a tool's definition, if registered.
func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tools[name]
	return def, ok
}

// List returns all registered tool names (the "list_tools" primitive's
// backing data).
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// PlannerVisible returns the names the planner is allowed to emit: the
// composed tools only, never the primitives behind them.
func (r *Registry) PlannerVisible() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for name, def := range r.tools {
		if def.Category == CategoryComposed {
			names = append(names, name)
		}
	}
	return names
}
