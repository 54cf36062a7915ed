package store

import (
	"context"
	"encoding/binary"
	"math"
	"sort"
	"strings"

	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/tools"
)

// EmbeddingDim is the dimensionality of the code-index embedding column.
const EmbeddingDim = 384

// vecExtensionLoaded reports whether the sqlite-vec extension is compiled
// in (see init_vec.go). The similarity search does not consult it: nearest
// always computes cosine similarity in Go over the stored embedding blobs.
var vecExtensionLoaded = false

// SemanticSearch embeds the query and returns the nearest indexed symbols
// by cosine similarity. Without an embedder it reports a clean miss so the
// fallback chain moves on.
func (s *Store) SemanticSearch(ctx context.Context, query, scope string, limit int) ([]tools.VectorMatch, error) {
	if s.embedder == nil {
		return nil, nil
	}

	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	return s.nearest(ctx, queryVec, scope, limit, "")
}

// FindSimilarFiles returns files whose indexed symbols embed near the given
// file's own symbols.
func (s *Store) FindSimilarFiles(ctx context.Context, p string, limit int) ([]tools.VectorMatch, error) {
	if s.embedder == nil {
		return nil, nil
	}

	anchor, err := s.fileCentroid(ctx, p)
	if err != nil || anchor == nil {
		return nil, err
	}

	matches, err := s.nearest(ctx, anchor, "", limit+8, p)
	if err != nil {
		return nil, err
	}

	// Collapse symbol hits to one entry per file.
	seen := make(map[string]bool)
	var files []tools.VectorMatch
	for _, m := range matches {
		if seen[m.Path] {
			continue
		}
		seen[m.Path] = true
		files = append(files, m)
		if limit > 0 && len(files) >= limit {
			break
		}
	}
	return files, nil
}

// nearest scans embeddings and ranks by cosine similarity. excludePath
// drops a file's own symbols from its similarity results.
func (s *Store) nearest(ctx context.Context, queryVec []float32, scope string, limit int, excludePath string) ([]tools.VectorMatch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, symbol, line_start, embedding FROM code_index WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []tools.VectorMatch
	for rows.Next() {
		var p, symbol string
		var line int
		var blob []byte
		if err := rows.Scan(&p, &symbol, &line, &blob); err != nil {
			return nil, err
		}
		if scope != "" && !strings.HasPrefix(p, scope) {
			continue
		}
		if excludePath != "" && p == excludePath {
			continue
		}

		vec := decodeEmbedding(blob)
		if len(vec) != len(queryVec) {
			continue
		}

		matches = append(matches, tools.VectorMatch{
			Path:    p,
			Line:    line,
			Score:   cosineSimilarity(queryVec, vec),
			Snippet: symbol,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// fileCentroid averages a file's symbol embeddings.
func (s *Store) fileCentroid(ctx context.Context, p string) ([]float32, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT embedding FROM code_index WHERE path = ? AND embedding IS NOT NULL`, p)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sum []float32
	count := 0
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, err
		}
		vec := decodeEmbedding(blob)
		if len(vec) == 0 {
			continue
		}
		if sum == nil {
			sum = make([]float32, len(vec))
		}
		if len(vec) != len(sum) {
			continue
		}
		for i, v := range vec {
			sum[i] += v
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	for i := range sum {
		sum[i] /= float32(count)
	}
	return sum, nil
}

// =============================================================================
// EMBEDDING ENCODING
// =============================================================================

// encodeEmbedding serializes a float32 vector as little-endian bytes, the
// layout sqlite-vec expects for vector columns.
func encodeEmbedding(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeEmbedding deserializes a little-endian float32 vector.
func decodeEmbedding(blob []byte) []float32 {
	if len(blob) == 0 || len(blob)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec
}

// cosineSimilarity computes the cosine of the angle between two vectors.
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
