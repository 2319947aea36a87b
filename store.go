package mnemo

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/mnemo/decay"
	"github.com/BaSui01/mnemo/persona"
	"github.com/BaSui01/mnemo/repository"
	"github.com/BaSui01/mnemo/retrieval"
	"github.com/BaSui01/mnemo/search"
	"github.com/BaSui01/mnemo/types"
)

// MemoryInput describes a memory to store. ProjectKey, SessionKey,
// MemoryType and Content are required. Importance must lie in [0, 1];
// nil defaults to 0.5, so an explicit 0 stays 0.
type MemoryInput struct {
	ProjectKey       string         `json:"project_key"`
	SessionKey       string         `json:"session_key"`
	MemoryType       string         `json:"memory_type"`
	Title            string         `json:"title,omitempty"`
	Content          string         `json:"content"`
	Tags             []string       `json:"tags,omitempty"`
	Importance       *float64       `json:"importance,omitempty"`
	EmotionalContext map[string]any `json:"emotional_context,omitempty"`
	TTL              time.Duration  `json:"-"`
}

// Float64Ptr returns a pointer to f, for optional fields.
func Float64Ptr(f float64) *float64 { return &f }

// UpdateRequest carries a partial memory update. Nil pointers leave the
// field unchanged. A content change triggers re-embedding.
type UpdateRequest struct {
	Title            *string         `json:"title,omitempty"`
	Content          *string         `json:"content,omitempty"`
	MemoryType       *string         `json:"memory_type,omitempty"`
	Importance       *float64        `json:"importance,omitempty"`
	Tags             *[]string       `json:"tags,omitempty"`
	AddTags          []string        `json:"add_tags,omitempty"`
	EmotionalContext *map[string]any `json:"emotional_context,omitempty"`
	ExpiresAt        *time.Time      `json:"expires_at,omitempty"`
}

// RecallRequest selects and bounds a recall. Query text is embedded when
// a provider is configured, else matched lexically. Scoping defaults to
// the given project; CrossProject opts out.
type RecallRequest struct {
	Query         string   `json:"query"`
	ProjectKey    string   `json:"project_key"`
	SessionKey    string   `json:"session_key,omitempty"`
	MemoryType    string   `json:"memory_type,omitempty"`
	MinImportance float64  `json:"min_importance,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	Limit         int      `json:"limit"`
	CrossProject  bool     `json:"cross_project,omitempty"`
}

// Weights overrides the configured composite weights for one call.
type Weights struct {
	Relevance  float64 `json:"relevance"`
	Importance float64 `json:"importance"`
	Recency    float64 `json:"recency"`
}

// StoreMemory validates and persists a memory, embedding the content
// when a provider is configured. It returns the stored row including
// the generated id.
func (s *Store) StoreMemory(ctx context.Context, in MemoryInput) (*types.Memory, error) {
	if in.ProjectKey == "" {
		return nil, types.ValidationError("project_key is required")
	}
	if in.MemoryType == "" {
		return nil, types.ValidationError("memory_type is required")
	}
	if in.Content == "" {
		return nil, types.ValidationError("content is required")
	}
	importance := 0.5
	if in.Importance != nil {
		if *in.Importance < 0 || *in.Importance > 1 {
			return nil, types.ValidationError("importance %v outside [0, 1]", *in.Importance)
		}
		importance = *in.Importance
	}

	m := &types.Memory{
		ProjectKey:       in.ProjectKey,
		SessionKey:       in.SessionKey,
		MemoryType:       in.MemoryType,
		Title:            in.Title,
		Content:          in.Content,
		Tags:             types.StringSet(in.Tags),
		Importance:       importance,
		EmotionalContext: types.JSONMap(in.EmotionalContext),
		Embedding:        s.embed(ctx, in.Content),
	}
	if in.TTL > 0 {
		exp := s.now().Add(in.TTL)
		m.ExpiresAt = &exp
	}

	if _, err := s.repo.Insert(ctx, m); err != nil {
		return nil, err
	}
	s.metrics.RecordStore(m.MemoryType)
	return m, nil
}

// GetMemory returns one memory by id.
func (s *Store) GetMemory(ctx context.Context, id string) (*types.Memory, error) {
	return s.repo.GetByID(ctx, id)
}

// UpdateMemory merges a partial update into the memory. When the content
// changes the embedding is recomputed; if the provider is unavailable
// the stale vector is dropped rather than kept.
func (s *Store) UpdateMemory(ctx context.Context, id string, req UpdateRequest) (*types.Memory, error) {
	if req.Importance != nil && (*req.Importance < 0 || *req.Importance > 1) {
		return nil, types.ValidationError("importance %v outside [0, 1]", *req.Importance)
	}

	fields := repository.UpdateFields{
		Title:      req.Title,
		Content:    req.Content,
		MemoryType: req.MemoryType,
		Importance: req.Importance,
		AddTags:    req.AddTags,
		ExpiresAt:  req.ExpiresAt,
	}
	if req.Tags != nil {
		tags := types.StringSet(*req.Tags)
		fields.Tags = &tags
	}
	if req.EmotionalContext != nil {
		ec := types.JSONMap(*req.EmotionalContext)
		fields.EmotionalContext = &ec
	}
	if req.Content != nil {
		fields.Embedding = s.embed(ctx, *req.Content)
	}

	m, err := s.repo.Update(ctx, id, fields)
	if err != nil {
		return nil, err
	}
	if req.Content != nil && len(fields.Embedding) == 0 && len(m.Embedding) > 0 {
		// The old vector no longer describes the new content.
		if err := s.repo.SetEmbedding(ctx, id, nil); err != nil {
			return nil, err
		}
		m.Embedding = nil
	}
	if err := s.repo.LogAccess(ctx, id, types.AccessUpdate); err != nil {
		return nil, err
	}
	s.metrics.RecordAccess(types.AccessUpdate)
	return m, nil
}

// DeleteMemory removes a memory by id.
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// RecallMemories returns up to req.Limit memories ranked by raw search
// score and records one access-log entry per hit.
func (s *Store) RecallMemories(ctx context.Context, req RecallRequest) ([]search.Result, error) {
	started := s.now()
	results, err := s.retriever.Recall(ctx, s.buildQuery(ctx, req))
	if err != nil {
		return nil, err
	}
	s.metrics.RecordRecall(types.AccessRecall, s.now().Sub(started))
	return results, nil
}

// RecallMemoriesWeighted ranks by the composite of relevance, importance
// and recency. A nil weights argument uses the configured defaults.
func (s *Store) RecallMemoriesWeighted(ctx context.Context, req RecallRequest, w *Weights) ([]retrieval.ScoredResult, error) {
	alpha := s.cfg.Retrieval.RelevanceWeight
	beta := s.cfg.Retrieval.ImportanceWeight
	gamma := s.cfg.Retrieval.RecencyWeight
	if w != nil {
		alpha, beta, gamma = w.Relevance, w.Importance, w.Recency
	}

	started := s.now()
	results, err := s.retriever.RecallWeighted(ctx, s.buildQuery(ctx, req), alpha, beta, gamma)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordRecall(types.AccessWeightedRecall, s.now().Sub(started))
	return results, nil
}

func (s *Store) buildQuery(ctx context.Context, req RecallRequest) retrieval.Query {
	f := repository.Filter{
		SessionKey:    req.SessionKey,
		MemoryType:    req.MemoryType,
		MinImportance: req.MinImportance,
		Tags:          req.Tags,
	}
	if !req.CrossProject {
		f.ProjectKey = req.ProjectKey
	}
	return retrieval.Query{
		Text:      req.Query,
		Embedding: s.embed(ctx, req.Query),
		Filter:    f,
		Limit:     req.Limit,
	}
}

// CleanupExpired removes memories whose expiry has passed and returns
// the number removed. The store never runs this implicitly; callers
// schedule it.
func (s *Store) CleanupExpired(ctx context.Context) (int, error) {
	return s.decayer.SweepExpired(ctx)
}

// ApplyForgetting runs one decay pass over stored importances.
func (s *Store) ApplyForgetting(ctx context.Context, p decay.Params) (*decay.Result, error) {
	return s.decayer.Run(ctx, p)
}

// BackfillEmbeddings embeds up to batchSize memories stored without a
// vector and returns the number embedded. Without a provider it is a
// no-op.
func (s *Store) BackfillEmbeddings(ctx context.Context, batchSize int) (int, error) {
	if s.embedder == nil {
		return 0, types.NewError(types.ErrEmbeddingUnavailable, "no embedding provider configured")
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	rows, err := s.repo.ListMissingEmbeddings(ctx, batchSize)
	if err != nil {
		return 0, err
	}
	embedded := 0
	for i := range rows {
		vec := s.embed(ctx, rows[i].Content)
		if len(vec) == 0 {
			continue
		}
		if err := s.repo.SetEmbedding(ctx, rows[i].ID, vec); err != nil {
			return embedded, err
		}
		embedded++
	}
	if embedded > 0 {
		s.logger.Info("embeddings backfilled", zap.Int("count", embedded))
	}
	return embedded, nil
}

// AddRelationship records a directed edge between two stored memories.
// Both endpoints must exist.
func (s *Store) AddRelationship(ctx context.Context, fromID, toID, relType string, strength float64) error {
	if fromID == "" || toID == "" || relType == "" {
		return types.ValidationError("from_id, to_id and relationship_type are required")
	}
	if _, err := s.repo.GetByID(ctx, fromID); err != nil {
		return err
	}
	if _, err := s.repo.GetByID(ctx, toID); err != nil {
		return err
	}
	return s.repo.AddRelationship(ctx, &types.MemoryRelationship{
		FromID:           fromID,
		ToID:             toID,
		RelationshipType: relType,
		Strength:         types.Clamp01(strength),
	})
}

// RelatedMemories returns the edges touching the given memory in either
// direction.
func (s *Store) RelatedMemories(ctx context.Context, id string) ([]types.MemoryRelationship, error) {
	return s.repo.Related(ctx, id)
}

// Stats aggregates table counts, ledger counts and capability flags.
type Stats struct {
	Mode               string                 `json:"mode"`
	Degraded           bool                   `json:"degraded"`
	EmbeddingAvailable bool                   `json:"embedding_available"`
	EmbeddingModel     string                 `json:"embedding_model,omitempty"`
	EmbeddingDimension int                    `json:"embedding_dimension"`
	Tables             repository.TableStats  `json:"tables"`
	Ledger             persona.LedgerStats    `json:"ledger"`
	Pool               map[string]interface{} `json:"pool,omitempty"`
}

// GetStats reports row counts and the store's current capabilities.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	tables, err := s.repo.Stats(ctx, s.now())
	if err != nil {
		return nil, err
	}
	ledger, err := s.ledger.Counts(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Mode:               s.repo.Mode(),
		Degraded:           s.degraded,
		EmbeddingAvailable: s.embedder != nil,
		EmbeddingModel:     s.cfg.Embedding.Model,
		EmbeddingDimension: s.cfg.Embedding.Dimension,
		Tables:             tables,
		Ledger:             *ledger,
	}
	if s.pool != nil {
		ps := s.pool.GetStats()
		stats.Pool = map[string]interface{}{
			"in_use":     ps.InUse,
			"idle":       ps.Idle,
			"wait_count": ps.WaitCount,
			"max_open":   ps.MaxOpenConnections,
			"open":       ps.OpenConnections,
		}
		s.metrics.SetPoolInUse(ps.InUse)
	}
	return stats, nil
}

// ProjectContext summarizes what the store knows about a project scope.
type ProjectContext struct {
	ProjectKey         string         `json:"project_key"`
	SessionKey         string         `json:"session_key,omitempty"`
	StorageMode        string         `json:"storage_mode"`
	Degraded           bool           `json:"degraded"`
	EmbeddingAvailable bool           `json:"embedding_available"`
	MemoryCount        int            `json:"memory_count"`
	Recent             []types.Memory `json:"recent,omitempty"`
}

// GetProjectContext returns the recent memories of a project scope plus
// the store's capability flags, sized for prompt injection at session
// start.
func (s *Store) GetProjectContext(ctx context.Context, projectKey, sessionKey string, limit int) (*ProjectContext, error) {
	if projectKey == "" {
		return nil, types.ValidationError("project_key is required")
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.repo.List(ctx, repository.Filter{
		ProjectKey: projectKey,
		SessionKey: sessionKey,
	})
	if err != nil {
		return nil, err
	}
	recent := rows
	if len(recent) > limit {
		recent = recent[:limit]
	}
	return &ProjectContext{
		ProjectKey:         projectKey,
		SessionKey:         sessionKey,
		StorageMode:        s.repo.Mode(),
		Degraded:           s.degraded,
		EmbeddingAvailable: s.embedder != nil,
		MemoryCount:        len(rows),
		Recent:             recent,
	}, nil
}
