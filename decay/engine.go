// Package decay applies forgetting-curve importance decay to stored
// memories. The engine runs only when invoked; no sweep is scheduled
// implicitly.
package decay

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/mnemo/config"
	"github.com/BaSui01/mnemo/internal/metrics"
	"github.com/BaSui01/mnemo/repository"
	"github.com/BaSui01/mnemo/types"
)

// maxDetailChanges bounds the per-memory breakdown carried in a Result.
const maxDetailChanges = 10

// Params selects the memories to decay and overrides run behavior.
// Zero-valued fields fall back to the configured defaults.
type Params struct {
	ProjectKey string

	// MinAgeHours exempts memories younger than this from decay.
	MinAgeHours int

	// DecayFactor, AccessBoost and MaxDecay override the configured
	// curve for this run only.
	DecayFactor float64
	AccessBoost float64
	MaxDecay    float64

	// DryRun computes the deltas without writing them and without
	// advancing the last-run marker, so a later real run sees the same
	// access window.
	DryRun bool
}

// Change records the importance delta applied to one memory.
type Change struct {
	MemoryID      string  `json:"memory_id"`
	Title         string  `json:"title"`
	OldImportance float64 `json:"old_importance"`
	NewImportance float64 `json:"new_importance"`
	AgeDays       float64 `json:"age_days"`
	RecentAccess  int64   `json:"recent_access"`
}

// Result summarizes one decay run.
type Result struct {
	Examined int      `json:"examined"`
	Updated  int      `json:"updated"`
	DryRun   bool     `json:"dry_run"`
	Details  []Change `json:"details,omitempty"`
}

// Engine computes and applies importance decay. Access counts since the
// previous run offset the decay, so memories still being recalled hold
// their importance.
type Engine struct {
	repo    repository.Repository
	cfg     config.DecayConfig
	logger  *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time

	mu      sync.Mutex
	lastRun time.Time
}

// EngineConfig configures a decay Engine.
type EngineConfig struct {
	Decay config.DecayConfig

	// Now injects a clock for tests. Defaults to time.Now.
	Now func() time.Time
}

// NewEngine creates a decay engine. The metrics collector may be nil.
func NewEngine(repo repository.Repository, cfg EngineConfig, collector *metrics.Collector, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	decayCfg := cfg.Decay
	def := config.DefaultDecayConfig()
	if decayCfg.DecayFactor <= 0 {
		decayCfg.DecayFactor = def.DecayFactor
	}
	if decayCfg.AccessBoost < 0 {
		decayCfg.AccessBoost = def.AccessBoost
	}
	if decayCfg.MaxDecay <= 0 {
		decayCfg.MaxDecay = def.MaxDecay
	}
	if decayCfg.MinAgeHours <= 0 {
		decayCfg.MinAgeHours = def.MinAgeHours
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		repo:    repo,
		cfg:     decayCfg,
		logger:  logger.With(zap.String("component", "decay_engine")),
		metrics: collector,
		now:     now,
	}
}

// Run applies one decay pass. For each memory older than the minimum
// age the importance delta is
//
//	-decayFactor*(ageDays/7) + accessBoost*min(log1p(accesses), 1)
//
// where age counts from the later of creation and last access, and
// accesses are those logged since the previous run. The net loss per
// run is capped at maxDecay and the result is clamped to [0, 1].
func (e *Engine) Run(ctx context.Context, p Params) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	minAge := p.MinAgeHours
	if minAge <= 0 {
		minAge = e.cfg.MinAgeHours
	}
	decayFactor := p.DecayFactor
	if decayFactor <= 0 {
		decayFactor = e.cfg.DecayFactor
	}
	accessBoost := p.AccessBoost
	if accessBoost <= 0 {
		accessBoost = e.cfg.AccessBoost
	}
	maxDecay := p.MaxDecay
	if maxDecay <= 0 {
		maxDecay = e.cfg.MaxDecay
	}
	// On the first run the zero marker makes the whole log count as
	// recent access.
	since := e.lastRun

	filter := repository.Filter{ProjectKey: p.ProjectKey}
	rows, err := e.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	result := &Result{DryRun: p.DryRun}
	cutoff := now.Add(-time.Duration(minAge) * time.Hour)

	for i := range rows {
		m := &rows[i]
		basis := m.CreatedAt
		if m.LastAccessedAt != nil && m.LastAccessedAt.After(basis) {
			basis = *m.LastAccessedAt
		}
		if basis.After(cutoff) {
			continue
		}
		result.Examined++

		accesses, err := e.repo.CountAccessesSince(ctx, m.ID, since)
		if err != nil {
			return nil, err
		}

		ageDays := now.Sub(basis).Hours() / 24
		loss := decayFactor * (ageDays / 7)
		boost := accessBoost * math.Min(math.Log1p(float64(accesses)), 1)
		delta := boost - loss
		if delta < -maxDecay {
			delta = -maxDecay
		}

		updated := types.Clamp01(m.Importance + delta)
		if updated == m.Importance {
			continue
		}

		if !p.DryRun {
			if err := e.repo.UpdateImportance(ctx, m.ID, updated); err != nil {
				return nil, err
			}
		}
		result.Updated++
		if len(result.Details) < maxDetailChanges {
			result.Details = append(result.Details, Change{
				MemoryID:      m.ID,
				Title:         m.Title,
				OldImportance: m.Importance,
				NewImportance: updated,
				AgeDays:       ageDays,
				RecentAccess:  accesses,
			})
		}
	}

	if !p.DryRun {
		e.lastRun = now
		if e.metrics != nil {
			e.metrics.RecordDecayRun(result.Updated)
		}
	}

	e.logger.Info("decay run complete",
		zap.Int("examined", result.Examined),
		zap.Int("updated", result.Updated),
		zap.Bool("dry_run", p.DryRun))
	return result, nil
}

// SweepExpired removes memories whose expiry has passed and returns the
// number removed.
func (e *Engine) SweepExpired(ctx context.Context) (int, error) {
	removed, err := e.repo.DeleteExpired(ctx, e.now())
	if err != nil {
		return 0, err
	}
	if e.metrics != nil {
		e.metrics.RecordExpiredSweep(removed)
	}
	if removed > 0 {
		e.logger.Info("expired memories removed", zap.Int("count", removed))
	}
	return removed, nil
}
