package persona

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/mnemo/types"
)

type personaKey struct {
	personaType string
	attribute   string
}

// MemoryLedger is the in-process persona ledger used while the database
// is unavailable. Contents do not survive the process.
type MemoryLedger struct {
	mu          sync.RWMutex
	attributes  map[personaKey]*types.PersonaAttribute
	reflections []types.SelfReflection
	emotional   []types.EmotionalReflection

	logger *zap.Logger
	now    func() time.Time
}

// MemoryLedgerConfig configures a MemoryLedger.
type MemoryLedgerConfig struct {
	// Now injects a clock for tests. Defaults to time.Now.
	Now func() time.Time
}

// NewMemoryLedger creates an empty in-process ledger.
func NewMemoryLedger(cfg MemoryLedgerConfig, logger *zap.Logger) *MemoryLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &MemoryLedger{
		attributes: make(map[personaKey]*types.PersonaAttribute),
		logger:     logger.With(zap.String("component", "persona_ledger_fallback")),
		now:        now,
	}
}

// UpsertAttribute implements Ledger.
func (l *MemoryLedger) UpsertAttribute(ctx context.Context, attr *types.PersonaAttribute) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if attr == nil {
		return types.ValidationError("persona attribute is nil")
	}
	if attr.PersonaType == "" || attr.Attribute == "" {
		return types.ValidationError("persona_type and attribute are required")
	}
	attr.Confidence = types.Clamp01(attr.Confidence)

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	key := personaKey{attr.PersonaType, attr.Attribute}
	if existing, ok := l.attributes[key]; ok {
		existing.Value = attr.Value
		existing.Confidence = attr.Confidence
		existing.EvidenceCount++
		existing.UpdatedAt = now
		*attr = *existing
		return nil
	}

	stored := *attr
	stored.ID = uint(len(l.attributes) + 1)
	stored.EvidenceCount = 1
	stored.FirstObserved = now
	stored.CreatedAt = now
	stored.UpdatedAt = now
	l.attributes[key] = &stored
	*attr = stored
	return nil
}

// GetPersona implements Ledger.
func (l *MemoryLedger) GetPersona(ctx context.Context, personaType string) (PersonaView, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	view := make(PersonaView)
	for key, attr := range l.attributes {
		if personaType != "" && key.personaType != personaType {
			continue
		}
		view[key.personaType] = append(view[key.personaType], *attr)
	}
	for _, attrs := range view {
		sort.Slice(attrs, func(i, j int) bool { return attrs[i].Attribute < attrs[j].Attribute })
	}
	return view, nil
}

// AddSelfReflection implements Ledger.
func (l *MemoryLedger) AddSelfReflection(ctx context.Context, r *types.SelfReflection) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
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

	l.mu.Lock()
	defer l.mu.Unlock()
	l.reflections = append(l.reflections, *r)
	return r.ID, nil
}

// AddEmotionalReflection implements Ledger.
func (l *MemoryLedger) AddEmotionalReflection(ctx context.Context, r *types.EmotionalReflection) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
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

	l.mu.Lock()
	defer l.mu.Unlock()
	l.emotional = append(l.emotional, *r)
	return r.ID, nil
}

// EmotionalInsights implements Ledger.
func (l *MemoryLedger) EmotionalInsights(ctx context.Context, daysBack int) (*MoodInsights, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	since := sinceDays(l.now(), daysBack)

	l.mu.RLock()
	defer l.mu.RUnlock()

	samples := make([]types.EmotionalReflection, 0, len(l.emotional))
	for _, s := range l.emotional {
		if !s.CreatedAt.Before(since) {
			samples = append(samples, s)
		}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].CreatedAt.Before(samples[j].CreatedAt) })
	return summarize(samples), nil
}

// Counts implements Ledger.
func (l *MemoryLedger) Counts(ctx context.Context) (*LedgerStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return &LedgerStats{
		PersonaAttributes:    int64(len(l.attributes)),
		SelfReflections:      int64(len(l.reflections)),
		EmotionalReflections: int64(len(l.emotional)),
	}, nil
}
