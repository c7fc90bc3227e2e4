package debate

import (
	"context"
	"fmt"
	"math"

	"github.com/cloudwego/eino/components/embedding"
	lru "github.com/hashicorp/golang-lru/v2"
)

// EmbeddingSimilarity scores texts by the cosine similarity of their embeddings,
// clamped to [0, 1]. Vectors are cached by text so a transcript is embedded once.
type EmbeddingSimilarity struct {
	embedder embedding.Embedder
	cache    *lru.Cache[string, []float64]
}

func NewEmbeddingSimilarity(embedder embedding.Embedder, cacheSize int) (*EmbeddingSimilarity, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, err := lru.New[string, []float64](cacheSize)
	if err != nil {
		return nil, err
	}
	return &EmbeddingSimilarity{embedder: embedder, cache: cache}, nil
}

func (s *EmbeddingSimilarity) Score(ctx context.Context, a, b string) (float64, error) {
	vectors, err := s.vectors(ctx, a, b)
	if err != nil {
		return 0, err
	}
	return cosine(vectors[0], vectors[1]), nil
}

func (s *EmbeddingSimilarity) vectors(ctx context.Context, texts ...string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	var missing []string
	for i, text := range texts {
		if v, ok := s.cache.Get(text); ok {
			out[i] = v
			continue
		}
		missing = append(missing, text)
	}
	if len(missing) > 0 {
		embedded, err := s.embedder.EmbedStrings(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("embed strings: %w", err)
		}
		if len(embedded) != len(missing) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(embedded), len(missing))
		}
		fresh := make(map[string][]float64, len(missing))
		for i, text := range missing {
			fresh[text] = embedded[i]
			s.cache.Add(text, embedded[i])
		}
		for i, text := range texts {
			if out[i] == nil {
				out[i] = fresh[text]
			}
		}
	}
	return out, nil
}

func cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return math.Max(0, math.Min(1, sim))
}
