package llm

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	"github.com/jeeves-cluster-organization/codeanalysis/commbus"
)

// HashEmbedder is a deterministic, dependency-free embedding provider: each
// token hashes into a bucket of a fixed-dimension vector, normalized to unit
// length. It gives the vector column and the semantic-search strategy a
// working local backend; a model-backed provider plugs in behind the same
// commbus.EmbeddingProvider protocol.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder creates an embedder with the given dimensionality.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 384
	}
	return &HashEmbedder{dim: dim}
}

// Embed implements commbus.EmbeddingProvider.
func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, e.dim)
	for _, token := range tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(token))
		bucket := int(h.Sum32()) % e.dim
		if bucket < 0 {
			bucket += e.dim
		}
		// Alternate sign by a second hash bit so vectors spread instead of
		// piling into the positive orthant.
		if h.Sum32()&1 == 0 {
			vec[bucket]++
		} else {
			vec[bucket]--
		}
	}

	normalize(vec)
	return vec, nil
}

// EmbedBatch implements commbus.EmbeddingProvider.
func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimension implements commbus.EmbeddingProvider.
func (e *HashEmbedder) Dimension() int {
	return e.dim
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
}

func normalize(vec []float32) {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
}

var _ commbus.EmbeddingProvider = (*HashEmbedder)(nil)
