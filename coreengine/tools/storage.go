package tools

import "context"

// SymbolMatch is one hit from an exact/partial/fuzzy symbol lookup.
type SymbolMatch struct {
	Path   string
	Symbol string
	Kind   string
	Line   int
}

// GrepMatch is one hit from a regex grep over indexed files.
type GrepMatch struct {
	Path    string
	Line    int
	Excerpt string
}

// VectorMatch is one hit from a semantic/vector-similarity search.
type VectorMatch struct {
	Path     string
	Line     int
	Score    float64
	Snippet  string
}

// FileSlice is a bounded line-range read of a file.
type FileSlice struct {
	Path      string
	StartLine int
	Lines     []string
}

// TreeEntry is one node in a depth-bounded directory listing.
type TreeEntry struct {
	Path  string
	IsDir bool
	Depth int
}

// GitLogEntry, GitBlameLine, GitDiffHunk back the read-only git primitives.
type GitLogEntry struct {
	Commit  string
	Author  string
	Summary string
}

type GitBlameLine struct {
	Line   int
	Commit string
	Author string
}

type GitDiffHunk struct {
	Path string
	Text string
}

// Storage is the capability set the core consumes from its persistence
// collaborator, per the external-interfaces contract: symbol lookup, regex
// grep, vector search, file read, directory enumeration, read-only git
// operations, plus key/value session state and an append-only event log.
// The core never depends on a concrete database; every primitive tool is a
// thin wrapper over this interface.
type Storage interface {
	FindSymbolExact(ctx context.Context, name, scope string) ([]SymbolMatch, error)
	FindSymbolPartial(ctx context.Context, name, scope string) ([]SymbolMatch, error)
	Grep(ctx context.Context, pattern string, caseSensitive bool, scope string, limit int) ([]GrepMatch, error)
	SemanticSearch(ctx context.Context, query string, scope string, limit int) ([]VectorMatch, error)
	FindSimilarFiles(ctx context.Context, path string, limit int) ([]VectorMatch, error)

	ReadFile(ctx context.Context, path string, startLine, endLine int) (*FileSlice, error)
	GlobFiles(ctx context.Context, pattern string, scope string) ([]string, error)
	Tree(ctx context.Context, root string, maxDepth int) ([]TreeEntry, error)
	GetFileSymbols(ctx context.Context, path string) ([]SymbolMatch, error)
	GetImports(ctx context.Context, path string) ([]string, error)
	GetImporters(ctx context.Context, path string) ([]string, error)

	GitLog(ctx context.Context, path string, limit int) ([]GitLogEntry, error)
	GitBlame(ctx context.Context, path string) ([]GitBlameLine, error)
	GitDiff(ctx context.Context, ref string) ([]GitDiffHunk, error)
	GitStatus(ctx context.Context) ([]string, error)

	SaveSession(ctx context.Context, sessionID string, state []byte) error
	LoadSession(ctx context.Context, sessionID string) ([]byte, error)
	AppendEvent(ctx context.Context, requestID, eventType string, payload []byte) error
}
