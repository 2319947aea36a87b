package persona

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/mnemo/internal/database"
	"github.com/BaSui01/mnemo/types"
)

// GormLedger persists the persona subsystem through the shared pool.
type GormLedger struct {
	pool   *database.PoolManager
	logger *zap.Logger
	now    func() time.Time
}

// GormLedgerConfig configures a GormLedger.
type GormLedgerConfig struct {
	// Now injects a clock for tests. Defaults to time.Now.
	Now func() time.Time
}

// NewGormLedger creates a database-backed persona ledger.
func NewGormLedger(pool *database.PoolManager, cfg GormLedgerConfig, logger *zap.Logger) *GormLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &GormLedger{
		pool:   pool,
		logger: logger.With(zap.String("component", "persona_ledger")),
		now:    now,
	}
}

// UpsertAttribute implements Ledger.
func (l *GormLedger) UpsertAttribute(ctx context.Context, attr *types.PersonaAttribute) error {
	if attr == nil {
		return types.ValidationError("persona attribute is nil")
	}
	if attr.PersonaType == "" || attr.Attribute == "" {
		return types.ValidationError("persona_type and attribute are required")
	}
	attr.Confidence = types.Clamp01(attr.Confidence)

	now := l.now()
	return l.pool.WithConnection(ctx, func(tx *gorm.DB) error {
		// Single-statement upsert: concurrent first writes for the same
		// key must not surface a unique-constraint error.
		row := types.PersonaAttribute{
			PersonaType:   attr.PersonaType,
			Attribute:     attr.Attribute,
			Value:         attr.Value,
			Confidence:    attr.Confidence,
			EvidenceCount: 1,
			FirstObserved: now,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "persona_type"}, {Name: "attribute"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"value":          attr.Value,
				"confidence":     attr.Confidence,
				"evidence_count": gorm.Expr("evidence_count + 1"),
				"updated_at":     now,
			}),
		}).Create(&row).Error
		if err != nil {
			return err
		}

		var merged types.PersonaAttribute
		if err := tx.Where("persona_type = ? AND attribute = ?", attr.PersonaType, attr.Attribute).
			First(&merged).Error; err != nil {
			return err
		}
		*attr = merged
		return nil
	})
}

// GetPersona implements Ledger.
func (l *GormLedger) GetPersona(ctx context.Context, personaType string) (PersonaView, error) {
	var rows []types.PersonaAttribute
	err := l.pool.WithConnection(ctx, func(tx *gorm.DB) error {
		q := tx.Order("persona_type ASC, attribute ASC")
		if personaType != "" {
			q = q.Where("persona_type = ?", personaType)
		}
		return q.Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}

	view := make(PersonaView)
	for _, row := range rows {
		view[row.PersonaType] = append(view[row.PersonaType], row)
	}
	return view, nil
}

// AddSelfReflection implements Ledger.
func (l *GormLedger) AddSelfReflection(ctx context.Context, r *types.SelfReflection) (string, error) {
	if r == nil || r.Content == "" {
		return "", types.ValidationError("reflection content is required")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.Confidence = types.Clamp01(r.Confidence)
	if r.CreatedAt.IsZero() {
		r.CreatedAt = l.now()
	}
	err := l.pool.WithConnection(ctx, func(tx *gorm.DB) error {
		return tx.Create(r).Error
	})
	if err != nil {
		return "", err
	}
	l.logger.Debug("self reflection recorded",
		zap.String("id", r.ID), zap.String("type", r.ReflectionType))
	return r.ID, nil
}

// AddEmotionalReflection implements Ledger.
func (l *GormLedger) AddEmotionalReflection(ctx context.Context, r *types.EmotionalReflection) (string, error) {
	if r == nil || r.Content == "" {
		return "", types.ValidationError("reflection content is required")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.MoodScore = types.ClampMood(r.MoodScore)
	if r.CreatedAt.IsZero() {
		r.CreatedAt = l.now()
	}
	err := l.pool.WithConnection(ctx, func(tx *gorm.DB) error {
		return tx.Create(r).Error
	})
	if err != nil {
		return "", err
	}
	return r.ID, nil
}

// EmotionalInsights implements Ledger.
func (l *GormLedger) EmotionalInsights(ctx context.Context, daysBack int) (*MoodInsights, error) {
	since := sinceDays(l.now(), daysBack)
	var samples []types.EmotionalReflection
	err := l.pool.WithConnection(ctx, func(tx *gorm.DB) error {
		return tx.Where("created_at >= ?", since).
			Order("created_at ASC").
			Find(&samples).Error
	})
	if err != nil {
		return nil, err
	}
	return summarize(samples), nil
}

// Counts implements Ledger.
func (l *GormLedger) Counts(ctx context.Context) (*LedgerStats, error) {
	stats := &LedgerStats{}
	err := l.pool.WithConnection(ctx, func(tx *gorm.DB) error {
		if err := tx.Model(&types.PersonaAttribute{}).Count(&stats.PersonaAttributes).Error; err != nil {
			return err
		}
		if err := tx.Model(&types.SelfReflection{}).Count(&stats.SelfReflections).Error; err != nil {
			return err
		}
		return tx.Model(&types.EmotionalReflection{}).Count(&stats.EmotionalReflections).Error
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}
