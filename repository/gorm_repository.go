package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/mnemo/internal/database"
	"github.com/BaSui01/mnemo/types"
)

// GormRepository persists memories through the shared connection pool.
type GormRepository struct {
	pool   *database.PoolManager
	logger *zap.Logger
	now    func() time.Time
}

// GormRepositoryConfig configures a GormRepository.
type GormRepositoryConfig struct {
	// Now injects a clock for tests. Defaults to time.Now.
	Now func() time.Time
}

// NewGormRepository creates a repository over the given pool.
func NewGormRepository(pool *database.PoolManager, cfg GormRepositoryConfig, logger *zap.Logger) *GormRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &GormRepository{
		pool:   pool,
		logger: logger.With(zap.String("component", "repository_gorm")),
		now:    now,
	}
}

// Mode implements Repository.
func (r *GormRepository) Mode() string { return ModeDatabase }

// Insert implements Repository.
func (r *GormRepository) Insert(ctx context.Context, m *types.Memory) (string, error) {
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

	err := r.pool.WithConnection(ctx, func(tx *gorm.DB) error {
		return tx.Create(m).Error
	})
	if err != nil {
		return "", err
	}
	r.logger.Debug("memory stored", zap.String("id", m.ID), zap.String("type", m.MemoryType))
	return m.ID, nil
}

// GetByID implements Repository.
func (r *GormRepository) GetByID(ctx context.Context, id string) (*types.Memory, error) {
	var m types.Memory
	err := r.pool.WithConnection(ctx, func(tx *gorm.DB) error {
		return tx.Where("id = ?", id).First(&m).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.NotFoundError("memory", id)
		}
		return nil, err
	}
	return &m, nil
}

// Update implements Repository.
func (r *GormRepository) Update(ctx context.Context, id string, fields UpdateFields) (*types.Memory, error) {
	m, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	applyUpdate(m, fields)
	m.UpdatedAt = r.now()

	err = r.pool.WithConnection(ctx, func(tx *gorm.DB) error {
		return tx.Save(m).Error
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// applyUpdate merges the provided fields into m, clamping importance.
// Shared by both repository implementations.
func applyUpdate(m *types.Memory, fields UpdateFields) {
	if fields.Title != nil {
		m.Title = *fields.Title
	}
	if fields.Content != nil {
		m.Content = *fields.Content
	}
	if fields.MemoryType != nil {
		m.MemoryType = *fields.MemoryType
	}
	if fields.Importance != nil {
		m.Importance = types.Clamp01(*fields.Importance)
	}
	if fields.Tags != nil {
		m.Tags = *fields.Tags
	}
	for _, tag := range fields.AddTags {
		if !m.Tags.Contains(tag) {
			m.Tags = append(m.Tags, tag)
		}
	}
	if fields.EmotionalContext != nil {
		m.EmotionalContext = *fields.EmotionalContext
	}
	if fields.ExpiresAt != nil {
		t := *fields.ExpiresAt
		m.ExpiresAt = &t
	}
	if len(fields.Embedding) > 0 {
		m.Embedding = append(types.Vector(nil), fields.Embedding...)
	}
}

// Delete implements Repository.
func (r *GormRepository) Delete(ctx context.Context, id string) error {
	return r.pool.WithConnection(ctx, func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id).Delete(&types.Memory{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return types.NotFoundError("memory", id)
		}
		return nil
	})
}

// List implements Repository.
func (r *GormRepository) List(ctx context.Context, f Filter) ([]types.Memory, error) {
	var rows []types.Memory
	err := r.pool.WithConnection(ctx, func(tx *gorm.DB) error {
		q := tx.Model(&types.Memory{})
		if f.ProjectKey != "" {
			q = q.Where("project_key = ?", f.ProjectKey)
		}
		if f.SessionKey != "" {
			q = q.Where("session_key = ?", f.SessionKey)
		}
		if f.MemoryType != "" {
			q = q.Where("memory_type = ?", f.MemoryType)
		}
		if f.MinImportance > 0 {
			q = q.Where("importance >= ?", f.MinImportance)
		}
		if !f.CreatedBefore.IsZero() {
			q = q.Where("created_at < ?", f.CreatedBefore)
		}
		if !f.IncludeExpired {
			q = q.Where("expires_at IS NULL OR expires_at > ?", r.now())
		}
		q = q.Order("created_at DESC")
		// Tag filtering happens in Go; only cap in SQL when it cannot
		// drop rows below the limit.
		if f.Limit > 0 && len(f.Tags) == 0 {
			q = q.Limit(f.Limit)
		}
		return q.Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}

	if len(f.Tags) > 0 {
		filtered := rows[:0]
		for i := range rows {
			if matchesTags(&rows[i], f.Tags) {
				filtered = append(filtered, rows[i])
			}
		}
		rows = filtered
		if f.Limit > 0 && len(rows) > f.Limit {
			rows = rows[:f.Limit]
		}
	}
	return rows, nil
}

// ListExpired implements Repository.
func (r *GormRepository) ListExpired(ctx context.Context, now time.Time) ([]string, error) {
	var ids []string
	err := r.pool.WithConnection(ctx, func(tx *gorm.DB) error {
		return tx.Model(&types.Memory{}).
			Where("expires_at IS NOT NULL AND expires_at <= ?", now).
			Pluck("id", &ids).Error
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// DeleteExpired implements Repository.
func (r *GormRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	var removed int64
	err := r.pool.WithConnection(ctx, func(tx *gorm.DB) error {
		res := tx.Where("expires_at IS NOT NULL AND expires_at <= ?", now).Delete(&types.Memory{})
		if res.Error != nil {
			return res.Error
		}
		removed = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		r.logger.Info("expired memories removed", zap.Int64("count", removed))
	}
	return int(removed), nil
}

// LogAccess implements Repository.
func (r *GormRepository) LogAccess(ctx context.Context, memoryID, accessType string) error {
	return r.LogAccessBatch(ctx, []string{memoryID}, accessType)
}

// LogAccessBatch implements Repository.
func (r *GormRepository) LogAccessBatch(ctx context.Context, memoryIDs []string, accessType string) error {
	if len(memoryIDs) == 0 {
		return nil
	}
	now := r.now()
	entries := make([]types.MemoryAccessLogEntry, 0, len(memoryIDs))
	for _, id := range memoryIDs {
		entries = append(entries, types.MemoryAccessLogEntry{
			MemoryID:   id,
			AccessType: accessType,
			AccessedAt: now,
		})
	}
	return r.pool.WithConnection(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&entries).Error; err != nil {
			return err
		}
		return tx.Model(&types.Memory{}).
			Where("id IN ?", memoryIDs).
			UpdateColumns(map[string]any{
				"access_count":     gorm.Expr("access_count + 1"),
				"last_accessed_at": now,
			}).Error
	})
}

// CountAccessesSince implements Repository.
func (r *GormRepository) CountAccessesSince(ctx context.Context, memoryID string, since time.Time) (int64, error) {
	var count int64
	err := r.pool.WithConnection(ctx, func(tx *gorm.DB) error {
		q := tx.Model(&types.MemoryAccessLogEntry{}).Where("memory_id = ?", memoryID)
		if !since.IsZero() {
			q = q.Where("accessed_at > ?", since)
		}
		return q.Count(&count).Error
	})
	return count, err
}

// UpdateImportance implements Repository.
func (r *GormRepository) UpdateImportance(ctx context.Context, id string, importance float64) error {
	return r.pool.WithConnection(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&types.Memory{}).
			Where("id = ?", id).
			UpdateColumns(map[string]any{
				"importance": types.Clamp01(importance),
				"updated_at": r.now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return types.NotFoundError("memory", id)
		}
		return nil
	})
}

// SetEmbedding implements Repository.
func (r *GormRepository) SetEmbedding(ctx context.Context, id string, vec types.Vector) error {
	return r.pool.WithConnection(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&types.Memory{}).
			Where("id = ?", id).
			UpdateColumns(map[string]any{
				"embedding":  vec,
				"updated_at": r.now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return types.NotFoundError("memory", id)
		}
		return nil
	})
}

// ListMissingEmbeddings implements Repository.
func (r *GormRepository) ListMissingEmbeddings(ctx context.Context, limit int) ([]types.Memory, error) {
	var rows []types.Memory
	err := r.pool.WithConnection(ctx, func(tx *gorm.DB) error {
		q := tx.Model(&types.Memory{}).Where("embedding IS NULL")
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q.Order("created_at ASC").Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// AddRelationship implements Repository.
func (r *GormRepository) AddRelationship(ctx context.Context, rel *types.MemoryRelationship) error {
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
	return r.pool.WithConnection(ctx, func(tx *gorm.DB) error {
		return tx.Create(rel).Error
	})
}

// Related implements Repository.
func (r *GormRepository) Related(ctx context.Context, id string) ([]types.MemoryRelationship, error) {
	var edges []types.MemoryRelationship
	err := r.pool.WithConnection(ctx, func(tx *gorm.DB) error {
		return tx.Where("from_id = ? OR to_id = ?", id, id).Order("created_at ASC").Find(&edges).Error
	})
	if err != nil {
		return nil, err
	}
	return edges, nil
}

// Stats implements Repository.
func (r *GormRepository) Stats(ctx context.Context, now time.Time) (TableStats, error) {
	var stats TableStats
	err := r.pool.WithConnection(ctx, func(tx *gorm.DB) error {
		counts := []struct {
			model any
			dest  *int64
		}{
			{&types.Memory{}, &stats.TotalMemories},
			{&types.MemoryRelationship{}, &stats.Relationships},
			{&types.MemoryAccessLogEntry{}, &stats.AccessLogEntries},
		}
		for _, c := range counts {
			if err := tx.Model(c.model).Count(c.dest).Error; err != nil {
				return err
			}
		}
		if err := tx.Model(&types.Memory{}).
			Where("embedding IS NOT NULL").
			Count(&stats.WithEmbeddings).Error; err != nil {
			return err
		}
		return tx.Model(&types.Memory{}).
			Where("expires_at IS NOT NULL AND expires_at <= ?", now).
			Count(&stats.Expired).Error
	})
	return stats, err
}
