package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/mnemo/config"
	"github.com/BaSui01/mnemo/types"
)

// PoolManager owns the bounded set of reusable database connections.
// Every connection, once acquired, is used by exactly one logical
// operation and released on every exit path before reuse.
type PoolManager struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	sem    *semaphore.Weighted
	config config.PoolConfig
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
}

// Open dials the configured backing store and wraps it in a PoolManager.
// An unreachable store is reported as STORE_UNAVAILABLE so the caller can
// switch to the in-process fallback; it is never surfaced past init.
func Open(ctx context.Context, dbCfg config.DatabaseConfig, poolCfg config.PoolConfig, logger *zap.Logger) (*PoolManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var dialector gorm.Dialector
	switch dbCfg.Driver {
	case "postgres":
		dialector = postgres.Open(dbCfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(dbCfg.DSN)
		if dbCfg.DSN == ":memory:" {
			// Each new connection to :memory: sees a fresh database;
			// pin the pool to one.
			poolCfg.MinConns = 1
			poolCfg.MaxConns = 1
		}
	default:
		return nil, types.ValidationError("unsupported database driver %q", dbCfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "backing store unreachable").WithCause(err)
	}

	pm, err := NewPoolManager(db, poolCfg, logger)
	if err != nil {
		return nil, err
	}

	if err := pm.Ping(ctx); err != nil {
		_ = pm.Close()
		return nil, types.NewError(types.ErrStoreUnavailable, "backing store unreachable").WithCause(err)
	}
	return pm, nil
}

// NewPoolManager wraps an already open gorm.DB. Used directly by tests.
func NewPoolManager(db *gorm.DB, cfg config.PoolConfig, logger *zap.Logger) (*PoolManager, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = config.DefaultPoolConfig().MaxConns
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = config.DefaultPoolConfig().AcquireTimeout
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(cfg.MinConns)
	sqlDB.SetMaxOpenConns(cfg.MaxConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pm := &PoolManager{
		db:     db,
		sqlDB:  sqlDB,
		sem:    semaphore.NewWeighted(int64(cfg.MaxConns)),
		config: cfg,
		logger: logger.With(zap.String("component", "db_pool")),
	}

	pm.logger.Info("database pool initialized",
		zap.Int("min_conns", cfg.MinConns),
		zap.Int("max_conns", cfg.MaxConns),
		zap.Duration("acquire_timeout", cfg.AcquireTimeout))

	return pm, nil
}

// Acquire reserves a pool slot and returns a request-scoped handle.
// When ctx carries no deadline the configured acquire timeout applies.
// A slot that cannot be reserved in time fails with POOL_TIMEOUT rather
// than blocking indefinitely. Callers must pair every successful Acquire
// with Release; prefer WithConnection.
func (pm *PoolManager) Acquire(ctx context.Context) (*gorm.DB, error) {
	pm.mu.RLock()
	if pm.closed {
		pm.mu.RUnlock()
		return nil, fmt.Errorf("pool is closed")
	}
	pm.mu.RUnlock()

	acquireCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, pm.config.AcquireTimeout)
		defer cancel()
	}

	if err := pm.sem.Acquire(acquireCtx, 1); err != nil {
		pm.logger.Warn("connection acquisition timed out",
			zap.Duration("timeout", pm.config.AcquireTimeout))
		return nil, types.PoolTimeoutError(err)
	}
	return pm.db.WithContext(ctx), nil
}

// Release returns a previously acquired slot to the pool.
func (pm *PoolManager) Release() {
	pm.sem.Release(1)
}

// WithConnection runs fn with an acquired connection, guaranteeing the
// slot is released on every exit path.
func (pm *PoolManager) WithConnection(ctx context.Context, fn func(tx *gorm.DB) error) error {
	conn, err := pm.Acquire(ctx)
	if err != nil {
		return err
	}
	defer pm.Release()
	return fn(conn)
}

// Ping checks the backing store connection.
func (pm *PoolManager) Ping(ctx context.Context) error {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	if pm.closed {
		return fmt.Errorf("pool is closed")
	}
	return pm.sqlDB.PingContext(ctx)
}

// DB returns the underlying gorm handle. Reserved for schema management;
// request paths go through WithConnection.
func (pm *PoolManager) DB() *gorm.DB {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.db
}

// Stats returns the raw sql.DB pool statistics.
func (pm *PoolManager) Stats() sql.DBStats {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.sqlDB.Stats()
}

// PoolStats is a friendlier snapshot of the pool state.
type PoolStats struct {
	MaxOpenConnections int           `json:"max_open_connections"`
	OpenConnections    int           `json:"open_connections"`
	InUse              int           `json:"in_use"`
	Idle               int           `json:"idle"`
	WaitCount          int64         `json:"wait_count"`
	WaitDuration       time.Duration `json:"wait_duration"`
}

// GetStats returns a friendly snapshot of the pool state.
func (pm *PoolManager) GetStats() PoolStats {
	stats := pm.Stats()
	return PoolStats{
		MaxOpenConnections: stats.MaxOpenConnections,
		OpenConnections:    stats.OpenConnections,
		InUse:              stats.InUse,
		Idle:               stats.Idle,
		WaitCount:          stats.WaitCount,
		WaitDuration:       stats.WaitDuration,
	}
}

// Close closes the pool. Safe to call more than once.
func (pm *PoolManager) Close() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.closed {
		return nil
	}
	pm.closed = true
	pm.logger.Info("closing database pool")
	return pm.sqlDB.Close()
}
