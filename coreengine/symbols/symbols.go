// Package symbols extracts symbol and import information from source files
// using tree-sitter grammars. It is the concrete indexer behind the code
// index: symbol rows, import edges, and the line spans citations point at.
package symbols

import (
	"context"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
)

// Symbol is one extracted definition.
type Symbol struct {
	Name      string
	Kind      string // "function", "method", "class", "type", "const", "var"
	LineStart int    // 1-based
	LineEnd   int    // 1-based, inclusive
}

// FileInfo is everything the indexer extracts from one file.
type FileInfo struct {
	Language string
	Symbols  []Symbol
	Imports  []string
}

// languageByExtension maps file extensions to grammars.
var languageByExtension = map[string]string{
	".go":  "go",
	".py":  "python",
	".pyi": "python",
	".js":  "javascript",
	".jsx": "javascript",
	".ts":  "javascript", // approximate: the javascript grammar covers most TS surface
	".tsx": "javascript",
}

// DetectLanguage returns the grammar name for a path, or "" when the file
// is not parseable.
func DetectLanguage(path string) string {
	return languageByExtension[strings.ToLower(filepath.Ext(path))]
}

func grammarFor(language string) *sitter.Language {
	switch language {
	case "go":
		return golang.GetLanguage()
	case "python":
		return python.GetLanguage()
	case "javascript":
		return javascript.GetLanguage()
	default:
		return nil
	}
}

// Extract parses source and returns its symbols and imports. Files in
// languages without a grammar return an empty FileInfo, not an error: they
// are still grep-able and readable, just not symbol-indexed.
func Extract(ctx context.Context, path string, source []byte) (*FileInfo, error) {
	language := DetectLanguage(path)
	info := &FileInfo{Language: language}

	grammar := grammarFor(language)
	if grammar == nil {
		return info, nil
	}

	parser := sitter.NewParser()
	parser.SetLanguage(grammar)

	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	root := tree.RootNode()
	walk(root, source, language, info)
	return info, nil
}

// walk collects definitions and imports from the syntax tree.
func walk(node *sitter.Node, source []byte, language string, info *FileInfo) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child == nil {
			continue
		}

		switch kind := classify(child.Type(), language); kind {
		case "":
			// Not a definition node; recurse for nested declarations
			// (methods in classes, const blocks, etc).
			walk(child, source, language, info)
		case "import":
			info.Imports = append(info.Imports, importTargets(child, source, language)...)
		default:
			if name := definitionName(child, source); name != "" {
				info.Symbols = append(info.Symbols, Symbol{
					Name:      name,
					Kind:      kind,
					LineStart: int(child.StartPoint().Row) + 1,
					LineEnd:   int(child.EndPoint().Row) + 1,
				})
			}
			// Class bodies carry methods; keep walking.
			if kind == "class" {
				walk(child, source, language, info)
			}
		}
	}
}

// classify maps a node type to a symbol kind, or "import", or "".
func classify(nodeType, language string) string {
	switch language {
	case "go":
		switch nodeType {
		case "function_declaration":
			return "function"
		case "method_declaration":
			return "method"
		case "type_declaration":
			return "type"
		case "const_declaration":
			return "const"
		case "var_declaration":
			return "var"
		case "import_declaration", "import_spec":
			return "import"
		}
	case "python":
		switch nodeType {
		case "function_definition":
			return "function"
		case "class_definition":
			return "class"
		case "import_statement", "import_from_statement":
			return "import"
		}
	case "javascript":
		switch nodeType {
		case "function_declaration", "generator_function_declaration":
			return "function"
		case "method_definition":
			return "method"
		case "class_declaration":
			return "class"
		case "import_statement":
			return "import"
		}
	}
	return ""
}

// definitionName extracts the identifier of a definition node.
func definitionName(node *sitter.Node, source []byte) string {
	if name := node.ChildByFieldName("name"); name != nil {
		return name.Content(source)
	}
	// Go type_declaration wraps type_spec; dig one level.
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child == nil {
			continue
		}
		if name := child.ChildByFieldName("name"); name != nil {
			return name.Content(source)
		}
	}
	return ""
}

// importTargets extracts the imported modules/paths from an import node.
func importTargets(node *sitter.Node, source []byte, language string) []string {
	switch language {
	case "go":
		// import_declaration holds import_spec(s) whose path child is a
		// string literal.
		var targets []string
		for _, lit := range findAll(node, source, "interpreted_string_literal") {
			targets = append(targets, strings.Trim(lit, "\"`"))
		}
		return targets
	case "python":
		if name := node.ChildByFieldName("module_name"); name != nil {
			return []string{name.Content(source)}
		}
		if names := findAll(node, source, "dotted_name"); len(names) > 0 {
			return names[:1]
		}
		return nil
	case "javascript":
		if lits := findAll(node, source, "string"); len(lits) > 0 {
			return []string{strings.Trim(lits[0], "\"'`")}
		}
		return nil
	}
	return nil
}

// findAll returns the contents of every descendant of the given type.
func findAll(node *sitter.Node, source []byte, nodeType string) []string {
	if node.Type() == nodeType {
		return []string{node.Content(source)}
	}
	var out []string
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child == nil {
			continue
		}
		out = append(out, findAll(child, source, nodeType)...)
	}
	return out
}
