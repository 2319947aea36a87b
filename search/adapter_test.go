package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/mnemo/repository"
	"github.com/BaSui01/mnemo/types"
)

var fixedNow = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

func setupAdapter(t *testing.T) (*Adapter, repository.Repository) {
	t.Helper()
	repo := repository.NewFallbackRepository(repository.FallbackRepositoryConfig{
		Now: func() time.Time { return fixedNow },
	}, zap.NewNop())
	adapter := NewAdapter(repo, AdapterConfig{Dimension: 3}, zap.NewNop())
	return adapter, repo
}

func storeWithEmbedding(t *testing.T, repo repository.Repository, content string, vec types.Vector) string {
	t.Helper()
	id, err := repo.Insert(context.Background(), &types.Memory{
		ProjectKey: "proj",
		SessionKey: "sess",
		MemoryType: "note",
		Content:    content,
		Importance: 0.5,
		Embedding:  vec,
	})
	require.NoError(t, err)
	return id
}

func TestSimilaritySearch_OrdersByCosine(t *testing.T) {
	adapter, repo := setupAdapter(t)
	ctx := context.Background()

	aligned := storeWithEmbedding(t, repo, "aligned", types.Vector{1, 0, 0})
	oblique := storeWithEmbedding(t, repo, "oblique", types.Vector{1, 1, 0})
	opposed := storeWithEmbedding(t, repo, "opposed", types.Vector{-1, 0, 0})

	results, err := adapter.SimilaritySearch(ctx, types.Vector{1, 0, 0}, repository.Filter{}, 10)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, aligned, results[0].Memory.ID)
	assert.Equal(t, oblique, results[1].Memory.ID)
	assert.Equal(t, opposed, results[2].Memory.ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.InDelta(t, -1.0, results[2].Score, 1e-9)
}

func TestSimilaritySearch_SkipsMemoriesWithoutEmbedding(t *testing.T) {
	adapter, repo := setupAdapter(t)
	ctx := context.Background()

	storeWithEmbedding(t, repo, "embedded", types.Vector{0, 1, 0})
	storeWithEmbedding(t, repo, "bare", nil)

	results, err := adapter.SimilaritySearch(ctx, types.Vector{0, 1, 0}, repository.Filter{}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "embedded", results[0].Memory.Content)
}

func TestSimilaritySearch_DimensionMismatch(t *testing.T) {
	adapter, _ := setupAdapter(t)

	_, err := adapter.SimilaritySearch(context.Background(), types.Vector{1, 0}, repository.Filter{}, 10)
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
}

func TestSimilaritySearch_NonPositiveLimit(t *testing.T) {
	adapter, _ := setupAdapter(t)

	results, err := adapter.SimilaritySearch(context.Background(), types.Vector{1, 0, 0}, repository.Filter{}, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestTextSearch_RanksByTermFraction(t *testing.T) {
	adapter, repo := setupAdapter(t)
	ctx := context.Background()

	full := storeWithEmbedding(t, repo, "the database connection pool saturated", nil)
	partial := storeWithEmbedding(t, repo, "database schema notes", nil)
	storeWithEmbedding(t, repo, "unrelated grocery list", nil)

	results, err := adapter.TextSearch(ctx, "database pool", repository.Filter{}, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, full, results[0].Memory.ID)
	assert.Equal(t, 1.0, results[0].Score)
	assert.Equal(t, partial, results[1].Memory.ID)
	assert.Equal(t, 0.5, results[1].Score)
}

func TestTextSearch_MatchesTagsAndTitle(t *testing.T) {
	adapter, repo := setupAdapter(t)
	ctx := context.Background()

	id, err := repo.Insert(ctx, &types.Memory{
		ProjectKey: "proj",
		MemoryType: "note",
		Title:      "Deployment checklist",
		Content:    "steps for the release",
		Tags:       types.StringSet{"kubernetes"},
		Importance: 0.5,
	})
	require.NoError(t, err)

	results, err := adapter.TextSearch(ctx, "kubernetes deployment", repository.Filter{}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].Memory.ID)
	assert.Equal(t, 1.0, results[0].Score)
}

func TestTextSearch_EmptyQuery(t *testing.T) {
	adapter, repo := setupAdapter(t)
	storeWithEmbedding(t, repo, "something", nil)

	results, err := adapter.TextSearch(context.Background(), "   ", repository.Filter{}, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestTextSearch_RespectsFilter(t *testing.T) {
	adapter, repo := setupAdapter(t)
	ctx := context.Background()

	storeWithEmbedding(t, repo, "database notes", nil)
	_, err := repo.Insert(ctx, &types.Memory{
		ProjectKey: "other",
		MemoryType: "note",
		Content:    "database notes elsewhere",
		Importance: 0.5,
	})
	require.NoError(t, err)

	results, err := adapter.TextSearch(ctx, "database", repository.Filter{ProjectKey: "proj"}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "proj", results[0].Memory.ProjectKey)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float64{1, 2, 3}, []float64{2, 4, 6}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.Equal(t, 0.0, cosineSimilarity([]float64{1, 0}, []float64{1}))
	assert.Equal(t, 0.0, cosineSimilarity(nil, nil))
	assert.Equal(t, 0.0, cosineSimilarity([]float64{0, 0}, []float64{1, 1}))
}
