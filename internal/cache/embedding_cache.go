// Package cache provides the embedding cache used to avoid re-embedding
// identical text within a store instance.
// This package is internal and should not be imported by external projects.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/mnemo/config"
	"github.com/BaSui01/mnemo/types"
)

// EmbeddingCache memoizes provider calls keyed by a hash of the input
// text. With a redis address configured, entries are shared across
// processes; otherwise a bounded in-process map is used. Either way a
// miss is never an error, just a provider round trip.
type EmbeddingCache struct {
	redis  *redis.Client
	config config.CacheConfig
	logger *zap.Logger

	mu    sync.Mutex
	local map[string]types.Vector
	order []string
}

// NewEmbeddingCache creates the cache. The redis backend is optional;
// an empty Addr selects the in-process map.
func NewEmbeddingCache(cfg config.CacheConfig, logger *zap.Logger) *EmbeddingCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = config.DefaultCacheConfig().MaxEntries
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = config.DefaultCacheConfig().DefaultTTL
	}

	c := &EmbeddingCache{
		config: cfg,
		logger: logger.With(zap.String("component", "embedding_cache")),
		local:  make(map[string]types.Vector),
	}

	if cfg.Addr != "" {
		c.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		c.logger.Info("embedding cache backed by redis", zap.String("addr", cfg.Addr))
	}

	return c
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "mnemo:emb:" + hex.EncodeToString(sum[:])
}

// Get returns the cached vector for text, if present.
func (c *EmbeddingCache) Get(ctx context.Context, text string) (types.Vector, bool) {
	key := cacheKey(text)

	if c.redis != nil {
		data, err := c.redis.Get(ctx, key).Bytes()
		if err == nil {
			var vec types.Vector
			if err := json.Unmarshal(data, &vec); err == nil {
				return vec, true
			}
			c.logger.Warn("corrupt cached embedding dropped", zap.Error(err))
			_ = c.redis.Del(ctx, key).Err()
		}
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	vec, ok := c.local[key]
	return vec, ok
}

// Set stores the vector for text. Failures are logged, never surfaced.
func (c *EmbeddingCache) Set(ctx context.Context, text string, vec types.Vector) {
	if len(vec) == 0 {
		return
	}
	key := cacheKey(text)

	if c.redis != nil {
		data, err := json.Marshal(vec)
		if err != nil {
			return
		}
		if err := c.redis.Set(ctx, key, data, c.config.DefaultTTL).Err(); err != nil {
			c.logger.Warn("embedding cache write failed", zap.Error(err))
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.local[key]; !exists {
		// Evict oldest entries once the bound is hit.
		for len(c.order) >= c.config.MaxEntries {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.local, oldest)
		}
		c.order = append(c.order, key)
	}
	c.local[key] = vec
}

// Close releases the redis client when one is configured.
func (c *EmbeddingCache) Close() error {
	if c.redis != nil {
		return c.redis.Close()
	}
	return nil
}

// Ping verifies the redis backend. The in-process backend always succeeds.
func (c *EmbeddingCache) Ping(ctx context.Context) error {
	if c.redis == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return c.redis.Ping(ctx).Err()
}
