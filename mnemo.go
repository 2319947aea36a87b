// Package mnemo is a persistent, queryable memory store for AI agents.
// It keeps typed memories with embeddings, importance and expiry, recalls
// them by semantic or lexical similarity with an optional composite
// ranking, applies forgetting-curve decay on demand, and maintains the
// agent's persona and reflection ledgers. When the backing database is
// unreachable the store degrades to an in-process repository instead of
// failing construction.
package mnemo

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/BaSui01/mnemo/config"
	"github.com/BaSui01/mnemo/decay"
	"github.com/BaSui01/mnemo/internal/cache"
	"github.com/BaSui01/mnemo/internal/database"
	"github.com/BaSui01/mnemo/internal/metrics"
	"github.com/BaSui01/mnemo/internal/migration"
	"github.com/BaSui01/mnemo/persona"
	"github.com/BaSui01/mnemo/repository"
	"github.com/BaSui01/mnemo/retrieval"
	"github.com/BaSui01/mnemo/search"
	"github.com/BaSui01/mnemo/types"
)

// EmbeddingProvider turns text into a fixed-dimension vector. Providers
// are injected; the store never ships one of its own.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) (types.Vector, error)
}

// Options carries the injectable collaborators of a Store. Every field
// is optional.
type Options struct {
	Logger *zap.Logger

	// Embedder resolves text to vectors. When nil the store falls back
	// to lexical search and stores memories without embeddings.
	Embedder EmbeddingProvider

	// Registerer receives the store's Prometheus collectors. Nil uses
	// the default registerer.
	Registerer prometheus.Registerer

	// Now injects a clock for tests. Defaults to time.Now.
	Now func() time.Time
}

// Store is the façade over the memory subsystems. All methods are safe
// for concurrent use.
type Store struct {
	cfg      *config.Config
	logger   *zap.Logger
	embedder EmbeddingProvider
	now      func() time.Time

	pool      *database.PoolManager
	repo      repository.Repository
	ledger    persona.Ledger
	adapter   *search.Adapter
	retriever *retrieval.Engine
	decayer   *decay.Engine
	embCache  *cache.EmbeddingCache
	metrics   *metrics.Collector

	degraded bool
}

// New builds a Store from the configuration. A database that cannot be
// reached does not fail construction: the store starts in degraded mode
// on the in-process repository and reports so through GetStats and
// GetProjectContext. Any other configuration problem is an error.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Store, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	s := &Store{
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "memory_store")),
		embedder: opts.Embedder,
		now:      now,
		metrics:  metrics.NewCollector("mnemo", opts.Registerer),
		embCache: cache.NewEmbeddingCache(cfg.Cache, logger),
	}

	pool, err := database.Open(ctx, cfg.Database, cfg.Pool, logger)
	switch {
	case err == nil:
		if err := migration.Migrate(pool.DB(), logger); err != nil {
			pool.Close()
			return nil, err
		}
		s.pool = pool
		s.repo = repository.NewGormRepository(pool, repository.GormRepositoryConfig{Now: now}, logger)
		s.ledger = persona.NewGormLedger(pool, persona.GormLedgerConfig{Now: now}, logger)

	case types.GetErrorCode(err) == types.ErrStoreUnavailable:
		s.logger.Warn("database unreachable, entering degraded mode", zap.Error(err))
		s.degraded = true
		s.repo = repository.NewFallbackRepository(repository.FallbackRepositoryConfig{Now: now}, logger)
		s.ledger = persona.NewMemoryLedger(persona.MemoryLedgerConfig{Now: now}, logger)

	default:
		return nil, err
	}
	s.metrics.SetDegraded(s.degraded)

	s.adapter = search.NewAdapter(s.repo, search.AdapterConfig{Dimension: cfg.Embedding.Dimension}, logger)
	s.retriever = retrieval.NewEngine(s.repo, s.adapter, retrieval.EngineConfig{
		Retrieval: cfg.Retrieval,
		Now:       now,
	}, logger)
	s.decayer = decay.NewEngine(s.repo, decay.EngineConfig{
		Decay: cfg.Decay,
		Now:   now,
	}, s.metrics, logger)

	s.logger.Info("memory store ready",
		zap.String("mode", s.repo.Mode()),
		zap.String("driver", cfg.Database.Driver),
		zap.Bool("embeddings", s.embedder != nil))
	return s, nil
}

// Degraded reports whether the store is running on the in-process
// fallback repository.
func (s *Store) Degraded() bool { return s.degraded }

// Mode returns the active storage mode, "database" or "fallback".
func (s *Store) Mode() string { return s.repo.Mode() }

// Close releases the connection pool and the embedding cache. Memories
// held by the fallback repository are discarded.
func (s *Store) Close() error {
	var firstErr error
	if s.embCache != nil {
		if err := s.embCache.Close(); err != nil {
			firstErr = err
		}
	}
	if s.pool != nil {
		if err := s.pool.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// embed resolves text to a vector through the cache. A nil provider or
// a provider failure yields a nil vector; storage proceeds without an
// embedding and BackfillEmbeddings can fill it in later.
func (s *Store) embed(ctx context.Context, text string) types.Vector {
	if s.embedder == nil || text == "" {
		return nil
	}
	if vec, ok := s.embCache.Get(ctx, text); ok {
		s.metrics.RecordCacheHit()
		return vec
	}
	s.metrics.RecordCacheMiss()

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		s.logger.Warn("embedding provider failed, storing without vector", zap.Error(err))
		return nil
	}
	if len(vec) != s.cfg.Embedding.Dimension {
		s.logger.Warn("embedding dimension mismatch, discarding vector",
			zap.Int("got", len(vec)),
			zap.Int("want", s.cfg.Embedding.Dimension))
		return nil
	}
	s.embCache.Set(ctx, text, vec)
	return vec
}
