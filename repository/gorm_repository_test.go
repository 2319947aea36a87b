package repository

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"github.com/BaSui01/mnemo/config"
	"github.com/BaSui01/mnemo/internal/database"
	"github.com/BaSui01/mnemo/internal/migration"
	"github.com/BaSui01/mnemo/types"
)

var testClock = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

func setupTestRepo(t *testing.T) *GormRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	logger := zaptest.NewLogger(t)
	require.NoError(t, migration.Migrate(db, logger))

	// In-memory sqlite gives every new connection a fresh database, so
	// the pool is pinned to a single connection.
	pool, err := database.NewPoolManager(db, config.PoolConfig{
		MaxConns:       1,
		AcquireTimeout: 5 * time.Second,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return NewGormRepository(pool, GormRepositoryConfig{
		Now: func() time.Time { return testClock },
	}, logger)
}

func sampleMemory(project string) *types.Memory {
	return &types.Memory{
		ProjectKey: project,
		SessionKey: "session-1",
		MemoryType: "decision",
		Title:      "Switch to gorm",
		Content:    "We decided to use gorm for the persistence layer",
		Tags:       types.StringSet{"architecture", "database"},
		Importance: 0.7,
	}
}

func TestGormRepository_InsertAndGet(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	m := sampleMemory("proj-a")
	id, err := repo.Insert(ctx, m)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Switch to gorm", got.Title)
	assert.Equal(t, 0.7, got.Importance)
	assert.True(t, got.CreatedAt.Equal(testClock))
	assert.True(t, got.Tags.Contains("database"))
}

func TestGormRepository_GetNotFound(t *testing.T) {
	repo := setupTestRepo(t)

	_, err := repo.GetByID(context.Background(), "no-such-id")
	require.Error(t, err)
	assert.True(t, types.IsNotFound(err))
}

func TestGormRepository_UpdateMergesFields(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	m := sampleMemory("proj-a")
	id, err := repo.Insert(ctx, m)
	require.NoError(t, err)

	title := "Switch to gorm (revised)"
	importance := 0.9
	got, err := repo.Update(ctx, id, UpdateFields{
		Title:      &title,
		Importance: &importance,
		AddTags:    []string{"database", "orm"},
	})
	require.NoError(t, err)
	assert.Equal(t, title, got.Title)
	assert.Equal(t, 0.9, got.Importance)
	// AddTags dedupes against existing tags.
	assert.ElementsMatch(t, []string{"architecture", "database", "orm"}, []string(got.Tags))
	// Untouched fields survive.
	assert.Equal(t, m.Content, got.Content)
}

func TestGormRepository_UpdateClampsImportance(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	id, err := repo.Insert(ctx, sampleMemory("proj-a"))
	require.NoError(t, err)

	over := 1.5
	got, err := repo.Update(ctx, id, UpdateFields{Importance: &over})
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Importance)
}

func TestGormRepository_DeleteNotFound(t *testing.T) {
	repo := setupTestRepo(t)

	err := repo.Delete(context.Background(), "no-such-id")
	require.Error(t, err)
	assert.True(t, types.IsNotFound(err))
}

func TestGormRepository_ListFilters(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	_, err := repo.Insert(ctx, sampleMemory("proj-a"))
	require.NoError(t, err)

	other := sampleMemory("proj-b")
	other.MemoryType = "learning"
	other.Importance = 0.2
	_, err = repo.Insert(ctx, other)
	require.NoError(t, err)

	rows, err := repo.List(ctx, Filter{ProjectKey: "proj-a"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "proj-a", rows[0].ProjectKey)

	rows, err = repo.List(ctx, Filter{MinImportance: 0.5})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "decision", rows[0].MemoryType)

	rows, err = repo.List(ctx, Filter{Tags: []string{"architecture", "database"}})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = repo.List(ctx, Filter{Tags: []string{"nonexistent"}})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestGormRepository_ExpiredExcludedAndDeleted(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	live := sampleMemory("proj-a")
	_, err := repo.Insert(ctx, live)
	require.NoError(t, err)

	expired := sampleMemory("proj-a")
	past := testClock.Add(-time.Hour)
	expired.ExpiresAt = &past
	expiredID, err := repo.Insert(ctx, expired)
	require.NoError(t, err)

	rows, err := repo.List(ctx, Filter{ProjectKey: "proj-a"})
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	rows, err = repo.List(ctx, Filter{ProjectKey: "proj-a", IncludeExpired: true})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	ids, err := repo.ListExpired(ctx, testClock)
	require.NoError(t, err)
	assert.Equal(t, []string{expiredID}, ids)

	removed, err := repo.DeleteExpired(ctx, testClock)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = repo.GetByID(ctx, expiredID)
	assert.True(t, types.IsNotFound(err))
}

func TestGormRepository_LogAccessBatchDenormalizes(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	id, err := repo.Insert(ctx, sampleMemory("proj-a"))
	require.NoError(t, err)

	require.NoError(t, repo.LogAccessBatch(ctx, []string{id}, types.AccessRecall))
	require.NoError(t, repo.LogAccessBatch(ctx, []string{id}, types.AccessRecall))

	got, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.AccessCount)
	require.NotNil(t, got.LastAccessedAt)
	assert.True(t, got.LastAccessedAt.Equal(testClock))

	n, err := repo.CountAccessesSince(ctx, id, testClock.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = repo.CountAccessesSince(ctx, id, testClock.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestGormRepository_EmbeddingLifecycle(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	id, err := repo.Insert(ctx, sampleMemory("proj-a"))
	require.NoError(t, err)

	missing, err := repo.ListMissingEmbeddings(ctx, 10)
	require.NoError(t, err)
	require.Len(t, missing, 1)

	require.NoError(t, repo.SetEmbedding(ctx, id, types.Vector{0.1, 0.2, 0.3}))

	missing, err = repo.ListMissingEmbeddings(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, missing)

	got, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.Vector{0.1, 0.2, 0.3}, got.Embedding)
}

func TestGormRepository_Relationships(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	a, err := repo.Insert(ctx, sampleMemory("proj-a"))
	require.NoError(t, err)
	b, err := repo.Insert(ctx, sampleMemory("proj-a"))
	require.NoError(t, err)

	require.NoError(t, repo.AddRelationship(ctx, &types.MemoryRelationship{
		FromID:           a,
		ToID:             b,
		RelationshipType: "supersedes",
		Strength:         0.8,
	}))

	edges, err := repo.Related(ctx, a)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, b, edges[0].ToID)

	// The edge is visible from both endpoints.
	edges, err = repo.Related(ctx, b)
	require.NoError(t, err)
	assert.Len(t, edges, 1)
}

func TestGormRepository_Stats(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	id, err := repo.Insert(ctx, sampleMemory("proj-a"))
	require.NoError(t, err)
	require.NoError(t, repo.SetEmbedding(ctx, id, types.Vector{0.5}))
	require.NoError(t, repo.LogAccess(ctx, id, types.AccessRecall))

	stats, err := repo.Stats(ctx, testClock)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalMemories)
	assert.Equal(t, int64(1), stats.WithEmbeddings)
	assert.Equal(t, int64(0), stats.Expired)
	assert.Equal(t, int64(1), stats.AccessLogEntries)
}
