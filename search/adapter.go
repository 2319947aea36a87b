// Package search wraps similarity search over stored embeddings with a
// lexical fallback for memories that have none. It is a pure read path
// over the memory table; nothing here mutates data.
package search

import (
	"context"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/mnemo/repository"
	"github.com/BaSui01/mnemo/types"
)

// Result is one search hit. Score semantics depend on the search mode:
// cosine similarity in [-1, 1] for SimilaritySearch, a normalized lexical
// match score in [0, 1] for TextSearch.
type Result struct {
	Memory types.Memory
	Score  float64
}

// AdapterConfig configures the adapter.
type AdapterConfig struct {
	// Dimension, when positive, validates query vectors.
	Dimension int
}

// Adapter runs similarity and text search over the repository.
type Adapter struct {
	repo      repository.Repository
	dimension int
	logger    *zap.Logger
}

// NewAdapter creates the adapter over repo.
func NewAdapter(repo repository.Repository, cfg AdapterConfig, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		repo:      repo,
		dimension: cfg.Dimension,
		logger:    logger.With(zap.String("component", "vector_adapter")),
	}
}

// SimilaritySearch returns up to limit memories ordered by cosine
// similarity to query, highest first. Ties break by most-recent
// created_at, then by id for determinism. Memories without an embedding
// are skipped.
func (a *Adapter) SimilaritySearch(ctx context.Context, query types.Vector, f repository.Filter, limit int) ([]Result, error) {
	if limit <= 0 {
		return []Result{}, nil
	}
	if len(query) == 0 {
		return nil, types.ValidationError("query vector is required")
	}
	if a.dimension > 0 && len(query) != a.dimension {
		return nil, types.ValidationError("query vector dimension mismatch: got %d want %d", len(query), a.dimension)
	}

	candidates, err := a.repo.List(ctx, candidateFilter(f))
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(candidates))
	for _, m := range candidates {
		if len(m.Embedding) == 0 {
			continue
		}
		results = append(results, Result{
			Memory: m,
			Score:  cosineSimilarity(query, m.Embedding),
		})
	}

	sortResults(results)
	if limit < len(results) {
		results = results[:limit]
	}
	return results, nil
}

// TextSearch returns up to limit memories ordered by a normalized
// lexical match score in [0, 1]: the fraction of query terms found in
// the title, content or tags. Memories matching no term are dropped.
func (a *Adapter) TextSearch(ctx context.Context, query string, f repository.Filter, limit int) ([]Result, error) {
	if limit <= 0 {
		return []Result{}, nil
	}
	terms := tokenize(query)
	if len(terms) == 0 {
		return []Result{}, nil
	}

	candidates, err := a.repo.List(ctx, candidateFilter(f))
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(candidates))
	for _, m := range candidates {
		score := lexicalScore(&m, terms)
		if score <= 0 {
			continue
		}
		results = append(results, Result{Memory: m, Score: score})
	}

	sortResults(results)
	if limit < len(results) {
		results = results[:limit]
	}
	return results, nil
}

// candidateFilter strips the limit so scoring sees every matching row;
// the caller re-applies its limit after ranking.
func candidateFilter(f repository.Filter) repository.Filter {
	f.Limit = 0
	return f
}

func sortResults(results []Result) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if !results[i].Memory.CreatedAt.Equal(results[j].Memory.CreatedAt) {
			return results[i].Memory.CreatedAt.After(results[j].Memory.CreatedAt)
		}
		return results[i].Memory.ID < results[j].Memory.ID
	})
}

func tokenize(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	seen := make(map[string]struct{}, len(fields))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, `.,;:!?"'()[]{}`)
		if f == "" {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		terms = append(terms, f)
	}
	return terms
}

func lexicalScore(m *types.Memory, terms []string) float64 {
	haystack := strings.ToLower(m.Title + " " + m.Content + " " + strings.Join([]string(m.Tags), " "))
	matched := 0
	for _, term := range terms {
		if strings.Contains(haystack, term) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
