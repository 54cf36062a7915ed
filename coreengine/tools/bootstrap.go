package tools

import (
	"context"
	"fmt"
)

// BuildRegistry registers every primitive and both composed tools against
// the given storage collaborator, then freezes the registry. This is the
// only place primitive tool names are wired up; none of them are exposed to
// the planner (Registry.PlannerVisible only ever returns search_code and
// read_code).
func BuildRegistry(store Storage, counter TokenCounter, bounds ContextBounds) (*Registry, error) {
	r := NewRegistry()

	composed := []*Definition{
		{
			Name: "search_code", Category: CategoryComposed, Risk: riskReadOnly,
			Schema:  ParamSchema{Required: []string{"query"}, Optional: []string{"scope", "kind"}},
			Handler: NewSearchCodeHandler(store, bounds),
		},
		{
			Name: "read_code", Category: CategoryComposed, Risk: riskReadOnly,
			Schema:  ParamSchema{Required: []string{"path"}, Optional: []string{"start_line", "end_line"}},
			Handler: NewReadCodeHandler(store, counter, bounds),
		},
	}

	primitives := primitiveDefinitions(store, bounds)
	primitives = append(primitives, &Definition{
		Name: "list_tools", Category: CategoryPrimitive, Risk: riskReadOnly,
		Schema:  ParamSchema{},
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			return map[string]any{"tools": r.List()}, nil
		},
	})

	for _, def := range append(composed, primitives...) {
		if err := r.Register(def); err != nil {
			return nil, fmt.Errorf("building registry: %w", err)
		}
	}

	r.Freeze()
	return r, nil
}

func primitiveDefinitions(store Storage, bounds ContextBounds) []*Definition {
	return []*Definition{
		{Name: "read_file", Category: CategoryPrimitive, Risk: riskReadOnly,
			Schema: ParamSchema{Required: []string{"path"}, Optional: []string{"start_line", "end_line"}},
			Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				p, _ := args["path"].(string)
				slice, err := store.ReadFile(ctx, p, intArg(args, "start_line", 0), intArg(args, "end_line", 0))
				if err != nil {
					return nil, err
				}
				return map[string]any{"path": slice.Path, "start_line": slice.StartLine, "lines": slice.Lines}, nil
			}},
		{Name: "glob_files", Category: CategoryPrimitive, Risk: riskReadOnly,
			Schema: ParamSchema{Required: []string{"pattern"}, Optional: []string{"scope"}},
			Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				pattern, _ := args["pattern"].(string)
				scope, _ := args["scope"].(string)
				matches, err := store.GlobFiles(ctx, pattern, scope)
				if err != nil {
					return nil, err
				}
				return map[string]any{"matches": matches}, nil
			}},
		{Name: "grep_search", Category: CategoryPrimitive, Risk: riskReadOnly,
			Schema: ParamSchema{Required: []string{"pattern"}, Optional: []string{"scope", "case_sensitive"}},
			Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				pattern, _ := args["pattern"].(string)
				scope, _ := args["scope"].(string)
				cs, _ := args["case_sensitive"].(bool)
				matches, err := store.Grep(ctx, pattern, cs, scope, bounds.MaxGrepResults)
				if err != nil {
					return nil, err
				}
				return map[string]any{"matches": matches}, nil
			}},
		{Name: "tree", Category: CategoryPrimitive, Risk: riskReadOnly,
			Schema: ParamSchema{Optional: []string{"root", "max_depth"}},
			Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				root, _ := args["root"].(string)
				depth := intArg(args, "max_depth", bounds.MaxTreeDepth)
				if depth > bounds.MaxTreeDepth {
					depth = bounds.MaxTreeDepth
				}
				entries, err := store.Tree(ctx, root, depth)
				if err != nil {
					return nil, err
				}
				return map[string]any{"entries": entries}, nil
			}},
		{Name: "find_symbol", Category: CategoryPrimitive, Risk: riskReadOnly,
			Schema: ParamSchema{Required: []string{"name"}, Optional: []string{"scope"}},
			Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				name, _ := args["name"].(string)
				scope, _ := args["scope"].(string)
				matches, err := store.FindSymbolExact(ctx, name, scope)
				if err != nil {
					return nil, err
				}
				return map[string]any{"matches": matches}, nil
			}},
		{Name: "get_file_symbols", Category: CategoryPrimitive, Risk: riskReadOnly,
			Schema: ParamSchema{Required: []string{"path"}},
			Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				p, _ := args["path"].(string)
				matches, err := store.GetFileSymbols(ctx, p)
				if err != nil {
					return nil, err
				}
				return map[string]any{"symbols": matches}, nil
			}},
		{Name: "get_imports", Category: CategoryPrimitive, Risk: riskReadOnly,
			Schema: ParamSchema{Required: []string{"path"}},
			Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				p, _ := args["path"].(string)
				imports, err := store.GetImports(ctx, p)
				if err != nil {
					return nil, err
				}
				return map[string]any{"imports": imports}, nil
			}},
		{Name: "get_importers", Category: CategoryPrimitive, Risk: riskReadOnly,
			Schema: ParamSchema{Required: []string{"path"}},
			Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				p, _ := args["path"].(string)
				importers, err := store.GetImporters(ctx, p)
				if err != nil {
					return nil, err
				}
				return map[string]any{"importers": importers}, nil
			}},
		{Name: "semantic_search", Category: CategoryPrimitive, Risk: riskReadOnly,
			Schema: ParamSchema{Required: []string{"query"}, Optional: []string{"scope"}},
			Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				query, _ := args["query"].(string)
				scope, _ := args["scope"].(string)
				matches, err := store.SemanticSearch(ctx, query, scope, bounds.MaxSymbolResults)
				if err != nil {
					return nil, err
				}
				return map[string]any{"matches": matches}, nil
			}},
		{Name: "find_similar_files", Category: CategoryPrimitive, Risk: riskReadOnly,
			Schema: ParamSchema{Required: []string{"path"}},
			Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				p, _ := args["path"].(string)
				matches, err := store.FindSimilarFiles(ctx, p, bounds.MaxSymbolResults)
				if err != nil {
					return nil, err
				}
				return map[string]any{"matches": matches}, nil
			}},
		{Name: "git_log", Category: CategoryPrimitive, Risk: riskReadOnly,
			Schema: ParamSchema{Optional: []string{"path", "limit"}},
			Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				p, _ := args["path"].(string)
				entries, err := store.GitLog(ctx, p, intArg(args, "limit", 20))
				if err != nil {
					return nil, err
				}
				return map[string]any{"entries": entries}, nil
			}},
		{Name: "git_blame", Category: CategoryPrimitive, Risk: riskReadOnly,
			Schema: ParamSchema{Required: []string{"path"}},
			Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				p, _ := args["path"].(string)
				lines, err := store.GitBlame(ctx, p)
				if err != nil {
					return nil, err
				}
				return map[string]any{"lines": lines}, nil
			}},
		{Name: "git_diff", Category: CategoryPrimitive, Risk: riskReadOnly,
			Schema: ParamSchema{Optional: []string{"ref"}},
			Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				ref, _ := args["ref"].(string)
				hunks, err := store.GitDiff(ctx, ref)
				if err != nil {
					return nil, err
				}
				return map[string]any{"hunks": hunks}, nil
			}},
		{Name: "git_status", Category: CategoryPrimitive, Risk: riskReadOnly,
			Schema: ParamSchema{},
			Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				entries, err := store.GitStatus(ctx)
				if err != nil {
					return nil, err
				}
				return map[string]any{"entries": entries}, nil
			}},
	}
}
