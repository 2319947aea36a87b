// Package repository provides CRUD over the Memory entity and its access
// log. Two implementations share one contract: a gorm-backed store and an
// in-process fallback selected when the backing database is unreachable.
package repository

import (
	"context"
	"time"

	"github.com/BaSui01/mnemo/types"
)

// Storage modes reported by Mode.
const (
	ModeDatabase = "database"
	ModeFallback = "fallback"
)

// Filter narrows candidate memories for listing and search.
// Zero values mean "no constraint".
type Filter struct {
	ProjectKey    string
	SessionKey    string
	MemoryType    string
	MinImportance float64
	Tags          []string

	// CreatedBefore selects rows created strictly before the given time.
	CreatedBefore time.Time

	// IncludeExpired keeps rows whose expires_at has passed.
	IncludeExpired bool

	// Limit caps the result set; 0 means no cap.
	Limit int
}

// UpdateFields carries a partial update; nil pointers leave the column
// untouched. Importance is re-clamped to [0, 1] on write.
type UpdateFields struct {
	Title            *string
	Content          *string
	MemoryType       *string
	Importance       *float64
	Tags             *types.StringSet
	AddTags          []string
	EmotionalContext *types.JSONMap
	ExpiresAt        *time.Time

	// Embedding replaces the stored vector when non-empty.
	Embedding types.Vector
}

// TableStats summarizes row counts for the memory table family.
// Persona-family counts come from the persona ledger.
type TableStats struct {
	TotalMemories    int64 `json:"total_memories"`
	WithEmbeddings   int64 `json:"with_embeddings"`
	Expired          int64 `json:"expired"`
	Relationships    int64 `json:"relationships"`
	AccessLogEntries int64 `json:"access_log_entries"`
}

// Repository is the persistence contract for memories, their access log
// and their relationship edges. All writes are single-row and atomic at
// the storage layer.
type Repository interface {
	// Insert stores a new memory and returns its generated id.
	Insert(ctx context.Context, m *types.Memory) (string, error)

	// GetByID returns the memory or a NOT_FOUND error.
	GetByID(ctx context.Context, id string) (*types.Memory, error)

	// Update merges the provided fields, refreshes updated_at, and
	// returns the updated row or a NOT_FOUND error.
	Update(ctx context.Context, id string, fields UpdateFields) (*types.Memory, error)

	// Delete removes the memory or returns a NOT_FOUND error.
	Delete(ctx context.Context, id string) error

	// List returns memories matching the filter, newest first.
	List(ctx context.Context, f Filter) ([]types.Memory, error)

	// ListExpired returns ids of memories whose expires_at is at or
	// before now.
	ListExpired(ctx context.Context, now time.Time) ([]string, error)

	// DeleteExpired removes expired memories and returns the count.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)

	// LogAccess appends one access-log row and denormalizes the access
	// count and last-accessed time onto the memory row.
	LogAccess(ctx context.Context, memoryID, accessType string) error

	// LogAccessBatch logs one entry per id; the write completes before
	// the call returns so stats never trail a finished recall.
	LogAccessBatch(ctx context.Context, memoryIDs []string, accessType string) error

	// CountAccessesSince counts access-log rows for a memory after since.
	CountAccessesSince(ctx context.Context, memoryID string, since time.Time) (int64, error)

	// UpdateImportance writes a decayed importance value, clamped to [0, 1].
	UpdateImportance(ctx context.Context, id string, importance float64) error

	// SetEmbedding attaches a vector to an existing memory.
	SetEmbedding(ctx context.Context, id string, vec types.Vector) error

	// ListMissingEmbeddings returns up to limit memories without a vector.
	ListMissingEmbeddings(ctx context.Context, limit int) ([]types.Memory, error)

	// AddRelationship records a directed edge between two memories.
	AddRelationship(ctx context.Context, rel *types.MemoryRelationship) error

	// Related returns the edges touching a memory in either direction.
	Related(ctx context.Context, id string) ([]types.MemoryRelationship, error)

	// Stats reports row counts across all six tables.
	Stats(ctx context.Context, now time.Time) (TableStats, error)

	// Mode reports the active storage mode ("database" or "fallback").
	Mode() string
}

// matchesTags applies tag filtering that the text-column schema cannot
// express in SQL; both implementations share it.
func matchesTags(m *types.Memory, tags []string) bool {
	if len(tags) == 0 {
		return true
	}
	return m.Tags.ContainsAll(tags)
}
