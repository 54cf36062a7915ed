package store

import (
	"context"
	"database/sql"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/tools"
)

// =============================================================================
// SYMBOL LOOKUP
// =============================================================================

// FindSymbolExact returns code-index rows whose symbol matches name exactly.
func (s *Store) FindSymbolExact(ctx context.Context, name, scope string) ([]tools.SymbolMatch, error) {
	return s.querySymbols(ctx,
		`SELECT path, symbol, kind, line_start FROM code_index WHERE symbol = ? ORDER BY path, line_start`,
		scope, name)
}

// FindSymbolPartial returns code-index rows whose symbol contains name.
func (s *Store) FindSymbolPartial(ctx context.Context, name, scope string) ([]tools.SymbolMatch, error) {
	return s.querySymbols(ctx,
		`SELECT path, symbol, kind, line_start FROM code_index WHERE symbol LIKE ? ORDER BY path, line_start`,
		scope, "%"+name+"%")
}

// GetFileSymbols returns every indexed symbol in one file.
func (s *Store) GetFileSymbols(ctx context.Context, p string) ([]tools.SymbolMatch, error) {
	return s.querySymbols(ctx,
		`SELECT path, symbol, kind, line_start FROM code_index WHERE path = ? ORDER BY line_start`,
		"", p)
}

func (s *Store) querySymbols(ctx context.Context, query, scope string, args ...any) ([]tools.SymbolMatch, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []tools.SymbolMatch
	for rows.Next() {
		var m tools.SymbolMatch
		if err := rows.Scan(&m.Path, &m.Symbol, &m.Kind, &m.Line); err != nil {
			return nil, err
		}
		if scope != "" && !strings.HasPrefix(m.Path, scope) {
			continue
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// =============================================================================
// GREP
// =============================================================================

// Grep runs a regex over indexed file contents, capped at limit matches.
// SQLite carries no regex engine by default, so matching happens here, line
// by line, over the scoped file set.
func (s *Store) Grep(ctx context.Context, pattern string, caseSensitive bool, scope string, limit int) ([]tools.GrepMatch, error) {
	if !caseSensitive {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid grep pattern: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT path, content FROM files ORDER BY path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []tools.GrepMatch
	for rows.Next() {
		var p, content string
		if err := rows.Scan(&p, &content); err != nil {
			return nil, err
		}
		if scope != "" && !strings.HasPrefix(p, scope) {
			continue
		}

		for i, line := range strings.Split(content, "\n") {
			if re.MatchString(line) {
				matches = append(matches, tools.GrepMatch{
					Path:    p,
					Line:    i + 1,
					Excerpt: strings.TrimSpace(line),
				})
				if limit > 0 && len(matches) >= limit {
					return matches, nil
				}
			}
		}
	}
	return matches, rows.Err()
}

// =============================================================================
// FILE READS
// =============================================================================

// ReadFile returns a bounded line-range slice of an indexed file. A missing
// file returns (nil, nil): a clean miss the fallback chain can act on.
func (s *Store) ReadFile(ctx context.Context, p string, startLine, endLine int) (*tools.FileSlice, error) {
	var content string
	err := s.db.QueryRowContext(ctx, `SELECT content FROM files WHERE path = ?`, p).Scan(&content)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	lines := strings.Split(content, "\n")
	if startLine <= 0 {
		startLine = 1
	}
	if endLine <= 0 || endLine > len(lines) {
		endLine = len(lines)
	}
	if startLine > len(lines) {
		return nil, nil
	}

	return &tools.FileSlice{
		Path:      p,
		StartLine: startLine,
		Lines:     lines[startLine-1 : endLine],
	}, nil
}

// GlobFiles returns indexed paths whose base name matches pattern. Patterns
// without glob metacharacters match as exact base names or path suffixes.
func (s *Store) GlobFiles(ctx context.Context, pattern, scope string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path FROM files ORDER BY path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	literal := !strings.ContainsAny(pattern, "*?[")

	var matches []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		if scope != "" && !strings.HasPrefix(p, scope) {
			continue
		}

		base := path.Base(p)
		switch {
		case literal && (base == pattern || strings.HasSuffix(p, "/"+pattern) || p == pattern):
			matches = append(matches, p)
		case !literal:
			if ok, _ := path.Match(pattern, base); ok {
				matches = append(matches, p)
			}
		}
	}
	return matches, rows.Err()
}

// =============================================================================
// TREE
// =============================================================================

// Tree enumerates the indexed directory structure under root, depth-bounded.
func (s *Store) Tree(ctx context.Context, root string, maxDepth int) ([]tools.TreeEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path FROM files ORDER BY path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	root = strings.TrimSuffix(root, "/")
	seen := make(map[string]bool)
	var entries []tools.TreeEntry

	add := func(p string, isDir bool, depth int) {
		if seen[p] {
			return
		}
		seen[p] = true
		entries = append(entries, tools.TreeEntry{Path: p, IsDir: isDir, Depth: depth})
	}

	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}

		rel := p
		if root != "" {
			if !strings.HasPrefix(p, root+"/") && p != root {
				continue
			}
			rel = strings.TrimPrefix(p, root+"/")
		}

		parts := strings.Split(rel, "/")
		for depth := 1; depth <= len(parts); depth++ {
			if maxDepth > 0 && depth > maxDepth {
				break
			}
			prefix := strings.Join(parts[:depth], "/")
			if root != "" {
				prefix = root + "/" + prefix
			}
			add(prefix, depth < len(parts), depth)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// =============================================================================
// IMPORT GRAPH
// =============================================================================

// GetImports returns what a file imports.
func (s *Store) GetImports(ctx context.Context, p string) ([]string, error) {
	return s.queryStrings(ctx, `SELECT imported FROM code_imports WHERE path = ? ORDER BY imported`, p)
}

// GetImporters returns the files that import the given module/path.
func (s *Store) GetImporters(ctx context.Context, imported string) ([]string, error) {
	return s.queryStrings(ctx, `SELECT path FROM code_imports WHERE imported = ? ORDER BY path`, imported)
}

// Store satisfies the full capability set the tool layer consumes.
var _ tools.Storage = (*Store)(nil)

func (s *Store) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
