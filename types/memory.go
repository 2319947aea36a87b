package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Vector is a fixed-length embedding produced by an external provider.
// It is stored as a JSON text column so the same schema works on SQLite
// and PostgreSQL.
type Vector []float64

// Value implements driver.Valuer. An empty vector is stored as NULL.
func (v Vector) Value() (driver.Value, error) {
	if len(v) == 0 {
		return nil, nil
	}
	data, err := json.Marshal([]float64(v))
	if err != nil {
		return nil, fmt.Errorf("marshal vector: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (v *Vector) Scan(src any) error {
	if src == nil {
		*v = nil
		return nil
	}
	var data []byte
	switch s := src.(type) {
	case []byte:
		data = s
	case string:
		data = []byte(s)
	default:
		return fmt.Errorf("scan vector: unsupported type %T", src)
	}
	if len(data) == 0 {
		*v = nil
		return nil
	}
	var out []float64
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("scan vector: %w", err)
	}
	*v = out
	return nil
}

// StringSet is a set of tags serialized to a JSON text column.
type StringSet []string

// Value implements driver.Valuer.
func (s StringSet) Value() (driver.Value, error) {
	if len(s) == 0 {
		return nil, nil
	}
	data, err := json.Marshal([]string(s))
	if err != nil {
		return nil, fmt.Errorf("marshal tags: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (s *StringSet) Scan(src any) error {
	if src == nil {
		*s = nil
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("scan tags: unsupported type %T", src)
	}
	if len(data) == 0 {
		*s = nil
		return nil
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("scan tags: %w", err)
	}
	*s = out
	return nil
}

// Contains reports whether the set holds tag.
func (s StringSet) Contains(tag string) bool {
	for _, t := range s {
		if t == tag {
			return true
		}
	}
	return false
}

// ContainsAll reports whether the set holds every tag in tags.
func (s StringSet) ContainsAll(tags []string) bool {
	for _, t := range tags {
		if !s.Contains(t) {
			return false
		}
	}
	return true
}

// JSONMap is an arbitrary mapping serialized to a JSON text column.
// Used for the emotional context attached to a memory row.
type JSONMap map[string]any

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(map[string]any(m))
	if err != nil {
		return nil, fmt.Errorf("marshal json map: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(src any) error {
	if src == nil {
		*m = nil
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("scan json map: unsupported type %T", src)
	}
	if len(data) == 0 {
		*m = nil
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("scan json map: %w", err)
	}
	*m = out
	return nil
}

// Memory is a stored note with the metadata used for later retrieval.
//
// ID is immutable and unique. Importance is always clamped to [0, 1].
// Embedding, once set, has the fixed dimension configured for the store
// instance that produced it.
type Memory struct {
	ID         string `gorm:"primaryKey;size:36" json:"id"`
	ProjectKey string `gorm:"size:255;not null;index:idx_memories_project_session,priority:1" json:"project_key"`
	SessionKey string `gorm:"size:255;not null;index:idx_memories_project_session,priority:2" json:"session_key"`
	MemoryType string `gorm:"size:100;not null;index:idx_memories_type" json:"memory_type"`
	Title      string `gorm:"size:500" json:"title,omitempty"`
	Content    string `gorm:"type:text;not null" json:"content"`

	Tags             StringSet `gorm:"type:text" json:"tags,omitempty"`
	Importance       float64   `gorm:"not null;default:0.5;index:idx_memories_importance" json:"importance"`
	EmotionalContext JSONMap   `gorm:"type:text" json:"emotional_context,omitempty"`
	Embedding        Vector    `gorm:"type:text" json:"embedding,omitempty"`

	// Denormalized from the access log for fast decay computation.
	AccessCount    int64      `gorm:"not null;default:0" json:"access_count"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`

	CreatedAt time.Time  `gorm:"index:idx_memories_created" json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ExpiresAt *time.Time `gorm:"index" json:"expires_at,omitempty"`
}

// TableName implements gorm's table naming convention.
func (Memory) TableName() string { return "memories" }

// Expired reports whether the memory is eligible for removal at now.
func (m *Memory) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && !m.ExpiresAt.After(now)
}

// MemoryAccessLogEntry is one row per recall or update touching a memory.
// Append-only; never mutated.
type MemoryAccessLogEntry struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	MemoryID   string    `gorm:"size:36;not null;index:idx_access_log_memory_time,priority:1" json:"memory_id"`
	AccessType string    `gorm:"size:100;not null" json:"access_type"`
	AccessedAt time.Time `gorm:"not null;index:idx_access_log_memory_time,priority:2" json:"accessed_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName implements gorm's table naming convention.
func (MemoryAccessLogEntry) TableName() string { return "memory_access_log" }

// Access types written by the retrieval and repository layers.
const (
	AccessRecall         = "recall"
	AccessWeightedRecall = "weighted_recall"
	AccessUpdate         = "update"
)

// MemoryRelationship is a directed edge between two memories. The graph
// may contain cycles; consumers must not assume a DAG.
type MemoryRelationship struct {
	ID               uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	FromID           string    `gorm:"size:36;not null;index:idx_relationships_from" json:"from_id"`
	ToID             string    `gorm:"size:36;not null;index:idx_relationships_to" json:"to_id"`
	RelationshipType string    `gorm:"size:100;not null" json:"relationship_type"`
	Strength         float64   `gorm:"not null;default:0.5" json:"strength"`
	CreatedAt        time.Time `json:"created_at"`
}

// TableName implements gorm's table naming convention.
func (MemoryRelationship) TableName() string { return "memory_relationships" }

// Clamp01 clamps v to the closed interval [0, 1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ClampMood clamps v to the closed interval [-1, 1].
func ClampMood(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}
