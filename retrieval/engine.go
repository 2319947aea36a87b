// Package retrieval implements the two recall modes of the memory store:
// plain semantic/text recall and the weighted composite-scoring recall.
package retrieval

import (
	"context"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/mnemo/config"
	"github.com/BaSui01/mnemo/repository"
	"github.com/BaSui01/mnemo/search"
	"github.com/BaSui01/mnemo/types"
)

// weightSumTolerance bounds how far alpha+beta+gamma may drift from 1.0
// before a diagnostic is logged. Weights are never renormalized: callers
// may intentionally emphasize one factor, so a non-convex combination is
// accepted as given.
const weightSumTolerance = 0.01

// Query carries one recall request. The embedding, when present, was
// already resolved by the caller; an empty vector means the provider was
// unavailable and text search applies.
type Query struct {
	Text      string
	Embedding types.Vector
	Filter    repository.Filter
	Limit     int
}

// ScoredResult is a weighted-recall hit with its factor breakdown.
type ScoredResult struct {
	Memory     types.Memory `json:"memory"`
	Relevance  float64      `json:"relevance"`
	Importance float64      `json:"importance"`
	Recency    float64      `json:"recency"`
	Composite  float64      `json:"composite"`
}

// Engine resolves recall requests against the vector adapter and the
// repository, and writes one access-log entry per returned memory before
// the call returns.
type Engine struct {
	repo    repository.Repository
	adapter *search.Adapter
	cfg     config.RetrievalConfig
	logger  *zap.Logger
	now     func() time.Time
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	Retrieval config.RetrievalConfig

	// Now injects a clock for tests. Defaults to time.Now.
	Now func() time.Time
}

// NewEngine creates a retrieval engine.
func NewEngine(repo repository.Repository, adapter *search.Adapter, cfg EngineConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	retrievalCfg := cfg.Retrieval
	if retrievalCfg.OverfetchFactor <= 0 {
		retrievalCfg.OverfetchFactor = config.DefaultRetrievalConfig().OverfetchFactor
	}
	if retrievalCfg.RecencyHalfLifeDays <= 0 {
		retrievalCfg.RecencyHalfLifeDays = config.DefaultRetrievalConfig().RecencyHalfLifeDays
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		repo:    repo,
		adapter: adapter,
		cfg:     retrievalCfg,
		logger:  logger.With(zap.String("component", "retrieval_engine")),
		now:     now,
	}
}

// Recall returns the top-limit memories ordered by raw search score:
// cosine similarity when the query embedding is present, lexical match
// otherwise. An empty query returns the highest-importance memories.
// A limit of zero or less returns an empty sequence, not an error.
func (e *Engine) Recall(ctx context.Context, q Query) ([]search.Result, error) {
	if q.Limit <= 0 {
		return []search.Result{}, nil
	}

	results, err := e.rank(ctx, q, q.Limit)
	if err != nil {
		return nil, err
	}

	if err := e.logReturned(ctx, results, types.AccessRecall); err != nil {
		return nil, err
	}
	return results, nil
}

// RecallWeighted re-ranks search candidates by the composite score
//
//	alpha*relevance + beta*importance + gamma*recency
//
// where relevance is the search score normalized into [0, 1], importance
// is the stored field and recency is exp(-ageDays/halfLife). Candidates
// are drawn from an overfetched superset so high-importance or recent
// memories that rank low on raw relevance still compete. Ties break by
// id ascending. An empty query zeroes the relevance term for every
// candidate rather than erroring.
func (e *Engine) RecallWeighted(ctx context.Context, q Query, alpha, beta, gamma float64) ([]ScoredResult, error) {
	if q.Limit <= 0 {
		return []ScoredResult{}, nil
	}

	if sum := alpha + beta + gamma; math.Abs(sum-1.0) > weightSumTolerance {
		e.logger.Warn("composite weights do not sum to 1.0; scores are not a convex combination",
			zap.Float64("alpha", alpha),
			zap.Float64("beta", beta),
			zap.Float64("gamma", gamma),
			zap.Float64("sum", sum))
	}

	candidates, err := e.candidates(ctx, q)
	if err != nil {
		return nil, err
	}

	now := e.now()
	scored := make([]ScoredResult, 0, len(candidates))
	for _, c := range candidates {
		relevance := c.relevance
		recency := e.recencyScore(&c.memory, now)
		scored = append(scored, ScoredResult{
			Memory:     c.memory,
			Relevance:  relevance,
			Importance: c.memory.Importance,
			Recency:    recency,
			Composite:  alpha*relevance + beta*c.memory.Importance + gamma*recency,
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Composite != scored[j].Composite {
			return scored[i].Composite > scored[j].Composite
		}
		return scored[i].Memory.ID < scored[j].Memory.ID
	})
	if q.Limit < len(scored) {
		scored = scored[:q.Limit]
	}

	ids := make([]string, 0, len(scored))
	for _, s := range scored {
		ids = append(ids, s.Memory.ID)
	}
	if err := e.repo.LogAccessBatch(ctx, ids, types.AccessWeightedRecall); err != nil {
		return nil, err
	}
	return scored, nil
}

type candidate struct {
	memory    types.Memory
	relevance float64
}

// candidates draws the overfetched superset for weighted recall. The
// relevance of each candidate is already normalized into [0, 1].
func (e *Engine) candidates(ctx context.Context, q Query) ([]candidate, error) {
	overfetch := q.Limit * e.cfg.OverfetchFactor

	switch {
	case len(q.Embedding) > 0:
		results, err := e.adapter.SimilaritySearch(ctx, q.Embedding, q.Filter, overfetch)
		if err != nil {
			return nil, err
		}
		out := make([]candidate, 0, len(results))
		for _, r := range results {
			out = append(out, candidate{memory: r.Memory, relevance: normalizeCosine(r.Score)})
		}
		return out, nil

	case q.Text != "":
		results, err := e.adapter.TextSearch(ctx, q.Text, q.Filter, overfetch)
		if err != nil {
			return nil, err
		}
		out := make([]candidate, 0, len(results))
		for _, r := range results {
			out = append(out, candidate{memory: r.Memory, relevance: r.Score})
		}
		return out, nil

	default:
		// Empty query: rank on importance and recency alone.
		f := q.Filter
		f.Limit = overfetch
		rows, err := e.repo.List(ctx, f)
		if err != nil {
			return nil, err
		}
		out := make([]candidate, 0, len(rows))
		for _, m := range rows {
			out = append(out, candidate{memory: m})
		}
		return out, nil
	}
}

// rank produces the plain-recall ordering.
func (e *Engine) rank(ctx context.Context, q Query, limit int) ([]search.Result, error) {
	switch {
	case len(q.Embedding) > 0:
		return e.adapter.SimilaritySearch(ctx, q.Embedding, q.Filter, limit)
	case q.Text != "":
		return e.adapter.TextSearch(ctx, q.Text, q.Filter, limit)
	default:
		f := q.Filter
		f.Limit = 0
		rows, err := e.repo.List(ctx, f)
		if err != nil {
			return nil, err
		}
		sort.Slice(rows, func(i, j int) bool {
			if rows[i].Importance != rows[j].Importance {
				return rows[i].Importance > rows[j].Importance
			}
			return rows[i].CreatedAt.After(rows[j].CreatedAt)
		})
		if limit < len(rows) {
			rows = rows[:limit]
		}
		out := make([]search.Result, 0, len(rows))
		for _, m := range rows {
			out = append(out, search.Result{Memory: m})
		}
		return out, nil
	}
}

func (e *Engine) logReturned(ctx context.Context, results []search.Result, accessType string) error {
	if len(results) == 0 {
		return nil
	}
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.Memory.ID)
	}
	return e.repo.LogAccessBatch(ctx, ids, accessType)
}

// recencyScore computes exp(-ageDays/halfLife). Age counts from the last
// access when one is recorded, else from creation, so an untouched
// week-old memory scores about 0.5 under the default half-life.
func (e *Engine) recencyScore(m *types.Memory, now time.Time) float64 {
	basis := m.CreatedAt
	if m.LastAccessedAt != nil && m.LastAccessedAt.After(basis) {
		basis = *m.LastAccessedAt
	}
	ageDays := now.Sub(basis).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Exp(-ageDays / e.cfg.RecencyHalfLifeDays)
}

// normalizeCosine maps cosine similarity from [-1, 1] into [0, 1],
// preserving order so pure-relevance weighted recall ranks exactly like
// plain similarity search.
func normalizeCosine(s float64) float64 {
	return types.Clamp01((s + 1) / 2)
}
