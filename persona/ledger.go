// Package persona maintains the agent's evolving self-model: typed persona
// attributes with last-write-wins upsert semantics, and the append-only
// self-reflection and emotional-reflection ledgers.
package persona

import (
	"context"
	"time"

	"github.com/BaSui01/mnemo/types"
)

// PersonaView groups the current attributes by persona type.
type PersonaView map[string][]types.PersonaAttribute

// MoodInsights summarizes the emotional-reflection ledger over a window.
type MoodInsights struct {
	Samples     int     `json:"samples"`
	AverageMood float64 `json:"average_mood"`
	MinMood     float64 `json:"min_mood"`
	MaxMood     float64 `json:"max_mood"`

	// Trend is the mean of the second half of the window minus the mean
	// of the first half; positive means mood is improving.
	Trend float64 `json:"trend"`

	// ByType holds the average mood of each reflection type.
	ByType map[string]float64 `json:"by_type,omitempty"`
}

// LedgerStats counts the rows in each ledger table.
type LedgerStats struct {
	PersonaAttributes    int64 `json:"persona_attributes"`
	SelfReflections      int64 `json:"self_reflections"`
	EmotionalReflections int64 `json:"emotional_reflections"`
}

// Ledger is the persistence contract for the persona subsystem. The
// database-backed implementation and the in-memory fallback both satisfy
// it, so the store swaps them freely in degraded mode.
type Ledger interface {
	// UpsertAttribute records an observed attribute. When the
	// (personaType, attribute) pair already exists the new value and
	// confidence replace the old ones and the evidence count increments;
	// the first observation timestamp is preserved.
	UpsertAttribute(ctx context.Context, attr *types.PersonaAttribute) error

	// GetPersona returns the current attributes, grouped by persona
	// type. An empty personaType returns every type.
	GetPersona(ctx context.Context, personaType string) (PersonaView, error)

	// AddSelfReflection appends to the self-reflection ledger and
	// returns the assigned id.
	AddSelfReflection(ctx context.Context, r *types.SelfReflection) (string, error)

	// AddEmotionalReflection appends a mood sample and returns the
	// assigned id. MoodScore is clamped to [-1, 1].
	AddEmotionalReflection(ctx context.Context, r *types.EmotionalReflection) (string, error)

	// EmotionalInsights aggregates mood samples recorded in the last
	// daysBack days.
	EmotionalInsights(ctx context.Context, daysBack int) (*MoodInsights, error)

	// Counts reports ledger row counts.
	Counts(ctx context.Context) (*LedgerStats, error)
}

// summarize reduces a window of mood samples, assumed ordered by
// recording time ascending, into MoodInsights.
func summarize(samples []types.EmotionalReflection) *MoodInsights {
	out := &MoodInsights{Samples: len(samples)}
	if len(samples) == 0 {
		return out
	}

	out.MinMood = samples[0].MoodScore
	out.MaxMood = samples[0].MoodScore
	byType := make(map[string][]float64)
	var sum float64
	for _, s := range samples {
		sum += s.MoodScore
		if s.MoodScore < out.MinMood {
			out.MinMood = s.MoodScore
		}
		if s.MoodScore > out.MaxMood {
			out.MaxMood = s.MoodScore
		}
		byType[s.ReflectionType] = append(byType[s.ReflectionType], s.MoodScore)
	}
	out.AverageMood = sum / float64(len(samples))

	if len(samples) >= 2 {
		mid := len(samples) / 2
		out.Trend = mean(samples[mid:]) - mean(samples[:mid])
	}

	out.ByType = make(map[string]float64, len(byType))
	for t, scores := range byType {
		var s float64
		for _, v := range scores {
			s += v
		}
		out.ByType[t] = s / float64(len(scores))
	}
	return out
}

func mean(samples []types.EmotionalReflection) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s.MoodScore
	}
	return sum / float64(len(samples))
}

func sinceDays(now time.Time, daysBack int) time.Time {
	if daysBack <= 0 {
		daysBack = 30
	}
	return now.AddDate(0, 0, -daysBack)
}
