package mnemo

import (
	"context"
	"time"

	"github.com/BaSui01/mnemo/persona"
	"github.com/BaSui01/mnemo/types"
)

// PersonaInput describes one observed persona attribute.
type PersonaInput struct {
	PersonaType string             `json:"persona_type"`
	Attribute   string             `json:"attribute"`
	Value       types.PersonaValue `json:"value"`
	Confidence  float64            `json:"confidence"`
}

// UpdatePersona records an observed attribute with last-write-wins
// semantics; repeated observations of the same (type, attribute) pair
// increment its evidence count. Confidence must lie in [0, 1].
func (s *Store) UpdatePersona(ctx context.Context, in PersonaInput) (*types.PersonaAttribute, error) {
	if in.Confidence < 0 || in.Confidence > 1 {
		return nil, types.ValidationError("confidence %v outside [0, 1]", in.Confidence)
	}
	attr := &types.PersonaAttribute{
		PersonaType: in.PersonaType,
		Attribute:   in.Attribute,
		Value:       in.Value,
		Confidence:  in.Confidence,
	}
	if err := s.ledger.UpsertAttribute(ctx, attr); err != nil {
		return nil, err
	}
	return attr, nil
}

// GetPersona returns the current persona attributes grouped by type.
// An empty personaType returns every type.
func (s *Store) GetPersona(ctx context.Context, personaType string) (persona.PersonaView, error) {
	return s.ledger.GetPersona(ctx, personaType)
}

// AddSelfReflection appends an entry to the self-reflection ledger and
// returns its id. Confidence must lie in [0, 1].
func (s *Store) AddSelfReflection(ctx context.Context, reflectionType, content, situation string, confidence float64) (string, error) {
	if confidence < 0 || confidence > 1 {
		return "", types.ValidationError("confidence %v outside [0, 1]", confidence)
	}
	return s.ledger.AddSelfReflection(ctx, &types.SelfReflection{
		ReflectionType: reflectionType,
		Content:        content,
		Context:        situation,
		Confidence:     confidence,
		CreatedAt:      s.now(),
	})
}

// AddEmotionalReflection appends a mood sample to the emotional ledger
// and returns its id. MoodScore must lie in [-1, 1].
func (s *Store) AddEmotionalReflection(ctx context.Context, reflectionType, content string, moodScore float64) (string, error) {
	if moodScore < -1 || moodScore > 1 {
		return "", types.ValidationError("mood_score %v outside [-1, 1]", moodScore)
	}
	return s.ledger.AddEmotionalReflection(ctx, &types.EmotionalReflection{
		ReflectionType: reflectionType,
		Content:        content,
		MoodScore:      moodScore,
		CreatedAt:      s.now(),
	})
}

// EmotionalInsights aggregates the mood samples of the last daysBack
// days. Zero or negative daysBack defaults to 30.
func (s *Store) EmotionalInsights(ctx context.Context, daysBack int) (*persona.MoodInsights, error) {
	return s.ledger.EmotionalInsights(ctx, daysBack)
}

// SweepIntervalHint returns the configured cadence for the expiry
// sweep. The store never schedules the sweep itself.
func (s *Store) SweepIntervalHint() time.Duration {
	return s.cfg.Decay.SweepInterval
}
