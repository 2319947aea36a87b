package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/mnemo/types"
)

// FallbackRepository is the in-process degraded-mode store. It implements
// the same contract as the gorm repository but keeps everything in maps,
// so nothing survives a process restart. Selected once at init when the
// backing database is unreachable; callers only ever see the capability
// flag, never a connection failure.
type FallbackRepository struct {
	mu        sync.RWMutex
	memories  map[string]*types.Memory
	accessLog []types.MemoryAccessLogEntry
	edges     []types.MemoryRelationship
	logger    *zap.Logger
	now       func() time.Time
}

// FallbackRepositoryConfig configures a FallbackRepository.
type FallbackRepositoryConfig struct {
	// Now injects a clock for tests. Defaults to time.Now.
	Now func() time.Time
}

// NewFallbackRepository creates the in-process store.
func NewFallbackRepository(cfg FallbackRepositoryConfig, logger *zap.Logger) *FallbackRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &FallbackRepository{
		memories: make(map[string]*types.Memory),
		logger:   logger.With(zap.String("component", "repository_fallback")),
		now:      now,
	}
}

// Mode implements Repository.
func (r *FallbackRepository) Mode() string { return ModeFallback }

func cloneMemory(m *types.Memory) *types.Memory {
	out := *m
	out.Tags = append(types.StringSet(nil), m.Tags...)
	out.Embedding = append(types.Vector(nil), m.Embedding...)
	if m.EmotionalContext != nil {
		ctx := make(types.JSONMap, len(m.EmotionalContext))
		for k, v := range m.EmotionalContext {
			ctx[k] = v
		}
		out.EmotionalContext = ctx
	}
	if m.LastAccessedAt != nil {
		t := *m.LastAccessedAt
		out.LastAccessedAt = &t
	}
	if m.ExpiresAt != nil {
		t := *m.ExpiresAt
		out.ExpiresAt = &t
	}
	return &out
}

// Insert implements Repository.
func (r *FallbackRepository) Insert(ctx context.Context, m *types.Memory) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m == nil {
		return "", types.ValidationError("memory is nil")
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := r.now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	m.Importance = types.Clamp01(m.Importance)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.memories[m.ID] = cloneMemory(m)
	return m.ID, nil
}

// GetByID implements Repository.
func (r *FallbackRepository) GetByID(ctx context.Context, id string) (*types.Memory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.memories[id]
	if !ok {
		return nil, types.NotFoundError("memory", id)
	}
	return cloneMemory(m), nil
}

// Update implements Repository.
func (r *FallbackRepository) Update(ctx context.Context, id string, fields UpdateFields) (*types.Memory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.memories[id]
	if !ok {
		return nil, types.NotFoundError("memory", id)
	}
	applyUpdate(m, fields)
	m.UpdatedAt = r.now()
	return cloneMemory(m), nil
}

// Delete implements Repository.
func (r *FallbackRepository) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.memories[id]; !ok {
		return types.NotFoundError("memory", id)
	}
	delete(r.memories, id)
	return nil
}

// List implements Repository.
func (r *FallbackRepository) List(ctx context.Context, f Filter) ([]types.Memory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := r.now()

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.Memory, 0, len(r.memories))
	for _, m := range r.memories {
		if f.ProjectKey != "" && m.ProjectKey != f.ProjectKey {
			continue
		}
		if f.SessionKey != "" && m.SessionKey != f.SessionKey {
			continue
		}
		if f.MemoryType != "" && m.MemoryType != f.MemoryType {
			continue
		}
		if f.MinImportance > 0 && m.Importance < f.MinImportance {
			continue
		}
		if !f.CreatedBefore.IsZero() && !m.CreatedAt.Before(f.CreatedBefore) {
			continue
		}
		if !f.IncludeExpired && m.Expired(now) {
			continue
		}
		if !matchesTags(m, f.Tags) {
			continue
		}
		out = append(out, *cloneMemory(m))
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// ListExpired implements Repository.
func (r *FallbackRepository) ListExpired(ctx context.Context, now time.Time) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, m := range r.memories {
		if m.Expired(now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// DeleteExpired implements Repository.
func (r *FallbackRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, m := range r.memories {
		if m.Expired(now) {
			delete(r.memories, id)
			removed++
		}
	}
	return removed, nil
}

// LogAccess implements Repository.
func (r *FallbackRepository) LogAccess(ctx context.Context, memoryID, accessType string) error {
	return r.LogAccessBatch(ctx, []string{memoryID}, accessType)
}

// LogAccessBatch implements Repository.
func (r *FallbackRepository) LogAccessBatch(ctx context.Context, memoryIDs []string, accessType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(memoryIDs) == 0 {
		return nil
	}
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range memoryIDs {
		r.accessLog = append(r.accessLog, types.MemoryAccessLogEntry{
			ID:         uint(len(r.accessLog) + 1),
			MemoryID:   id,
			AccessType: accessType,
			AccessedAt: now,
			CreatedAt:  now,
		})
		if m, ok := r.memories[id]; ok {
			m.AccessCount++
			t := now
			m.LastAccessedAt = &t
		}
	}
	return nil
}

// CountAccessesSince implements Repository.
func (r *FallbackRepository) CountAccessesSince(ctx context.Context, memoryID string, since time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var count int64
	for _, e := range r.accessLog {
		if e.MemoryID != memoryID {
			continue
		}
		if !since.IsZero() && !e.AccessedAt.After(since) {
			continue
		}
		count++
	}
	return count, nil
}

// UpdateImportance implements Repository.
func (r *FallbackRepository) UpdateImportance(ctx context.Context, id string, importance float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.memories[id]
	if !ok {
		return types.NotFoundError("memory", id)
	}
	m.Importance = types.Clamp01(importance)
	m.UpdatedAt = r.now()
	return nil
}

// SetEmbedding implements Repository.
func (r *FallbackRepository) SetEmbedding(ctx context.Context, id string, vec types.Vector) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.memories[id]
	if !ok {
		return types.NotFoundError("memory", id)
	}
	m.Embedding = append(types.Vector(nil), vec...)
	m.UpdatedAt = r.now()
	return nil
}

// ListMissingEmbeddings implements Repository.
func (r *FallbackRepository) ListMissingEmbeddings(ctx context.Context, limit int) ([]types.Memory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []types.Memory
	for _, m := range r.memories {
		if len(m.Embedding) == 0 {
			out = append(out, *cloneMemory(m))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AddRelationship implements Repository.
func (r *FallbackRepository) AddRelationship(ctx context.Context, rel *types.MemoryRelationship) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rel == nil {
		return types.ValidationError("relationship is nil")
	}
	if rel.FromID == "" || rel.ToID == "" {
		return types.ValidationError("relationship requires from_id and to_id")
	}
	rel.Strength = types.Clamp01(rel.Strength)
	if rel.CreatedAt.IsZero() {
		rel.CreatedAt = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	rel.ID = uint(len(r.edges) + 1)
	r.edges = append(r.edges, *rel)
	return nil
}

// Related implements Repository.
func (r *FallbackRepository) Related(ctx context.Context, id string) ([]types.MemoryRelationship, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var edges []types.MemoryRelationship
	for _, e := range r.edges {
		if e.FromID == id || e.ToID == id {
			edges = append(edges, e)
		}
	}
	return edges, nil
}

// Stats implements Repository.
func (r *FallbackRepository) Stats(ctx context.Context, now time.Time) (TableStats, error) {
	if err := ctx.Err(); err != nil {
		return TableStats{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := TableStats{
		TotalMemories:    int64(len(r.memories)),
		Relationships:    int64(len(r.edges)),
		AccessLogEntries: int64(len(r.accessLog)),
	}
	for _, m := range r.memories {
		if len(m.Embedding) > 0 {
			stats.WithEmbeddings++
		}
		if m.Expired(now) {
			stats.Expired++
		}
	}
	return stats, nil
}
