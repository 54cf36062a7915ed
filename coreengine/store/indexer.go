package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/symbols"
)

// skipDirs are directories the indexer never descends into.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	".venv":        true,
	"dist":         true,
	"build":        true,
}

const maxIndexedFileBytes = 1 << 20 // 1 MiB

// IndexStats summarizes one indexing pass.
type IndexStats struct {
	Files   int
	Symbols int
	Imports int
	Skipped int
}

// IndexRepo walks the repository root, stores file contents, and extracts
// symbols and imports into the code index. With an embedder configured,
// each symbol row also gets an embedding of its name and kind for the
// semantic search strategy.
func (s *Store) IndexRepo(ctx context.Context, root string) (*IndexStats, error) {
	stats := &IndexStats{}

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		name := d.Name()
		if d.IsDir() {
			if skipDirs[name] || (strings.HasPrefix(name, ".") && p != root) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}

		info, err := d.Info()
		if err != nil || info.Size() > maxIndexedFileBytes {
			stats.Skipped++
			return nil
		}

		content, err := os.ReadFile(p)
		if err != nil {
			stats.Skipped++
			return nil
		}
		if !utf8.Valid(content) {
			stats.Skipped++
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			rel = p
		}
		rel = filepath.ToSlash(rel)

		if err := s.indexFile(ctx, rel, content, stats); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return stats, err
	}

	if s.logger != nil {
		s.logger.Info("repo_indexed",
			"root", root,
			"files", stats.Files,
			"symbols", stats.Symbols,
			"imports", stats.Imports,
			"skipped", stats.Skipped,
		)
	}
	return stats, nil
}

// indexFile stores one file's content, symbols, and imports.
func (s *Store) indexFile(ctx context.Context, rel string, content []byte, stats *IndexStats) error {
	info, err := symbols.Extract(ctx, rel, content)
	if err != nil {
		stats.Skipped++
		return nil
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO files (path, content, language, indexed_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET content = excluded.content, language = excluded.language, indexed_at = excluded.indexed_at`,
		rel, string(content), info.Language, time.Now().UTC()); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM code_index WHERE path = ?`, rel); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM code_imports WHERE path = ?`, rel); err != nil {
		return err
	}

	for _, sym := range info.Symbols {
		var embedding []byte
		if s.embedder != nil {
			if vec, err := s.embedder.Embed(ctx, sym.Kind+" "+sym.Name); err == nil {
				embedding = encodeEmbedding(vec)
			}
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO code_index (path, symbol, kind, line_start, line_end, language, embedding)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rel, sym.Name, sym.Kind, sym.LineStart, sym.LineEnd, info.Language, embedding); err != nil {
			return err
		}
		stats.Symbols++
	}

	for _, imported := range info.Imports {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO code_imports (path, imported) VALUES (?, ?)`, rel, imported); err != nil {
			return err
		}
		stats.Imports++
	}

	stats.Files++
	return nil
}

// Fingerprint returns the content-addressed key used by the understanding
// cache.
func Fingerprint(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
