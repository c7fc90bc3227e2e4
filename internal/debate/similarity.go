package debate

import (
	"context"
	"strings"
	"unicode"
)

// Similarity scores two texts in [0, 1]. Identical inputs must score identically.
type Similarity interface {
	Score(ctx context.Context, a, b string) (float64, error)
}

// Novelty returns the fraction of current that is new relative to prior, in [0, 1].
type Novelty interface {
	Novelty(ctx context.Context, current, prior string) (float64, error)
}

// SimilarityFunc adapts a function to Similarity.
type SimilarityFunc func(ctx context.Context, a, b string) (float64, error)

func (f SimilarityFunc) Score(ctx context.Context, a, b string) (float64, error) { return f(ctx, a, b) }

// LexicalSimilarity is the Jaccard index of the two word sets.
type LexicalSimilarity struct{}

func (LexicalSimilarity) Score(_ context.Context, a, b string) (float64, error) {
	wa, wb := wordSet(a), wordSet(b)
	if len(wa) == 0 && len(wb) == 0 {
		return 1, nil
	}
	inter := 0
	for w := range wa {
		if _, ok := wb[w]; ok {
			inter++
		}
	}
	union := len(wa) + len(wb) - inter
	return float64(inter) / float64(union), nil
}

// LexicalNovelty is the share of distinct words in current that never appeared in prior.
type LexicalNovelty struct{}

func (LexicalNovelty) Novelty(_ context.Context, current, prior string) (float64, error) {
	cur := wordSet(current)
	if len(cur) == 0 {
		return 0, nil
	}
	seen := wordSet(prior)
	fresh := 0
	for w := range cur {
		if _, ok := seen[w]; !ok {
			fresh++
		}
	}
	return float64(fresh) / float64(len(cur)), nil
}

func wordSet(text string) map[string]struct{} {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}
