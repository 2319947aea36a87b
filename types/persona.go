package types

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// PersonaValueKind discriminates the variants of a PersonaValue.
type PersonaValueKind string

const (
	PersonaString PersonaValueKind = "string"
	PersonaNumber PersonaValueKind = "number"
	PersonaBool   PersonaValueKind = "bool"
	PersonaList   PersonaValueKind = "list"
	PersonaMap    PersonaValueKind = "map"
)

// PersonaValue is a tagged variant holding one attribute value of the
// agent's self-model. Values round-trip through a JSON text column in
// their natural form (a string stores as "x", a number as 1.5, and so
// on), so readers get exhaustive switching instead of an untyped blob.
type PersonaValue struct {
	Kind PersonaValueKind

	Str  string
	Num  float64
	Bool bool
	List []PersonaValue
	Map  map[string]PersonaValue
}

// StringValue builds a string variant.
func StringValue(s string) PersonaValue { return PersonaValue{Kind: PersonaString, Str: s} }

// NumberValue builds a number variant.
func NumberValue(n float64) PersonaValue { return PersonaValue{Kind: PersonaNumber, Num: n} }

// BoolValue builds a bool variant.
func BoolValue(b bool) PersonaValue { return PersonaValue{Kind: PersonaBool, Bool: b} }

// ListValue builds a list variant.
func ListValue(items ...PersonaValue) PersonaValue {
	return PersonaValue{Kind: PersonaList, List: items}
}

// MapValue builds a map variant.
func MapValue(m map[string]PersonaValue) PersonaValue {
	return PersonaValue{Kind: PersonaMap, Map: m}
}

// MarshalJSON writes the value in its natural JSON form.
func (v PersonaValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case PersonaString:
		return json.Marshal(v.Str)
	case PersonaNumber:
		return json.Marshal(v.Num)
	case PersonaBool:
		return json.Marshal(v.Bool)
	case PersonaList:
		if v.List == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.List)
	case PersonaMap:
		if v.Map == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.Map)
	default:
		return nil, fmt.Errorf("persona value: unknown kind %q", v.Kind)
	}
}

// UnmarshalJSON infers the variant from the JSON shape.
func (v *PersonaValue) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("persona value: %w", err)
	}
	decoded, err := personaValueFrom(raw)
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}

func personaValueFrom(raw any) (PersonaValue, error) {
	switch t := raw.(type) {
	case string:
		return StringValue(t), nil
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return PersonaValue{}, fmt.Errorf("persona value: %w", err)
		}
		return NumberValue(n), nil
	case bool:
		return BoolValue(t), nil
	case []any:
		items := make([]PersonaValue, 0, len(t))
		for _, it := range t {
			pv, err := personaValueFrom(it)
			if err != nil {
				return PersonaValue{}, err
			}
			items = append(items, pv)
		}
		return PersonaValue{Kind: PersonaList, List: items}, nil
	case map[string]any:
		m := make(map[string]PersonaValue, len(t))
		for k, it := range t {
			pv, err := personaValueFrom(it)
			if err != nil {
				return PersonaValue{}, err
			}
			m[k] = pv
		}
		return PersonaValue{Kind: PersonaMap, Map: m}, nil
	case nil:
		return StringValue(""), nil
	default:
		return PersonaValue{}, fmt.Errorf("persona value: unsupported JSON type %T", raw)
	}
}

// Value implements driver.Valuer.
func (v PersonaValue) Value() (driver.Value, error) {
	data, err := v.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (v *PersonaValue) Scan(src any) error {
	if src == nil {
		*v = StringValue("")
		return nil
	}
	switch s := src.(type) {
	case []byte:
		return v.UnmarshalJSON(s)
	case string:
		return v.UnmarshalJSON([]byte(s))
	default:
		return fmt.Errorf("scan persona value: unsupported type %T", src)
	}
}

// PersonaAttribute is a keyed, confidence-weighted fact describing the
// agent's evolving self-model. Unique on (persona_type, attribute):
// storing a new value for an existing pair is an upsert, last write wins.
type PersonaAttribute struct {
	ID          uint         `gorm:"primaryKey;autoIncrement" json:"id"`
	PersonaType string       `gorm:"size:100;not null;uniqueIndex:uq_persona_type_attribute,priority:1" json:"persona_type"`
	Attribute   string       `gorm:"size:255;not null;uniqueIndex:uq_persona_type_attribute,priority:2" json:"attribute"`
	Value       PersonaValue `gorm:"type:text;not null" json:"value"`
	Confidence  float64      `gorm:"not null;default:0.5" json:"confidence"`

	// Upsert bookkeeping carried over from the persona evolution ledger.
	EvidenceCount int       `gorm:"not null;default:1" json:"evidence_count"`
	FirstObserved time.Time `json:"first_observed"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName implements gorm's table naming convention.
func (PersonaAttribute) TableName() string { return "persona_memories" }

// SelfReflection is one structured self-assessment record. Append-only.
type SelfReflection struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	ReflectionType string    `gorm:"size:100;not null" json:"reflection_type"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	Context        string    `gorm:"type:text" json:"context,omitempty"`
	Confidence     float64   `gorm:"not null;default:0.5" json:"confidence"`
	CreatedAt      time.Time `gorm:"index:idx_reflections_created" json:"created_at"`
}

// TableName implements gorm's table naming convention.
func (SelfReflection) TableName() string { return "self_reflections" }

// EmotionalReflection records an interaction mood sample. Append-only.
// MoodScore lies in [-1, 1].
type EmotionalReflection struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	ReflectionType string    `gorm:"size:100;not null" json:"reflection_type"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	MoodScore      float64   `gorm:"not null;default:0" json:"mood_score"`
	CreatedAt      time.Time `gorm:"index:idx_emotional_created" json:"created_at"`
}

// TableName implements gorm's table naming convention.
func (EmotionalReflection) TableName() string { return "emotional_reflections" }
