package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/BaSui01/mnemo/config"
	"github.com/BaSui01/mnemo/types"
)

func setupPool(t *testing.T, cfg config.PoolConfig) *PoolManager {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	pm, err := NewPoolManager(db, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { pm.Close() })
	return pm
}

func TestOpen_SqliteMemory(t *testing.T) {
	pm, err := Open(context.Background(), config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    ":memory:",
	}, config.DefaultPoolConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer pm.Close()

	require.NoError(t, pm.Ping(context.Background()))
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), config.DatabaseConfig{
		Driver: "oracle",
	}, config.DefaultPoolConfig(), zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
}

func TestOpen_UnreachableStore(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Open(ctx, config.DatabaseConfig{
		Driver: "postgres",
		DSN:    "host=127.0.0.1 port=1 user=nobody dbname=nothing sslmode=disable connect_timeout=1",
	}, config.DefaultPoolConfig(), zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Equal(t, types.ErrStoreUnavailable, types.GetErrorCode(err))
}

func TestAcquire_TimesOutWhenExhausted(t *testing.T) {
	pm := setupPool(t, config.PoolConfig{
		MaxConns:       1,
		AcquireTimeout: 100 * time.Millisecond,
	})
	ctx := context.Background()

	_, err := pm.Acquire(ctx)
	require.NoError(t, err)

	start := time.Now()
	_, err = pm.Acquire(ctx)
	require.Error(t, err)
	assert.Equal(t, types.ErrPoolTimeout, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	// A released slot is immediately reusable.
	pm.Release()
	_, err = pm.Acquire(ctx)
	require.NoError(t, err)
	pm.Release()
}

func TestAcquire_HonorsCallerDeadline(t *testing.T) {
	pm := setupPool(t, config.PoolConfig{
		MaxConns:       1,
		AcquireTimeout: 10 * time.Second,
	})

	_, err := pm.Acquire(context.Background())
	require.NoError(t, err)
	defer pm.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = pm.Acquire(ctx)
	require.Error(t, err)
	assert.Equal(t, types.ErrPoolTimeout, types.GetErrorCode(err))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestWithConnection_ReleasesOnError(t *testing.T) {
	pm := setupPool(t, config.PoolConfig{
		MaxConns:       1,
		AcquireTimeout: 100 * time.Millisecond,
	})
	ctx := context.Background()

	boom := errors.New("boom")
	err := pm.WithConnection(ctx, func(tx *gorm.DB) error { return boom })
	assert.ErrorIs(t, err, boom)

	// The slot came back despite the error.
	err = pm.WithConnection(ctx, func(tx *gorm.DB) error { return nil })
	require.NoError(t, err)
}

func TestAcquire_ClosedPool(t *testing.T) {
	pm := setupPool(t, config.DefaultPoolConfig())
	require.NoError(t, pm.Close())

	_, err := pm.Acquire(context.Background())
	assert.Error(t, err)
}

func TestPing_ReportsBrokenConnection(t *testing.T) {
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 mockDB,
		PreferSimpleProtocol: true,
	}), &gorm.Config{})
	require.NoError(t, err)

	pm, err := NewPoolManager(db, config.DefaultPoolConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer pm.Close()

	mock.ExpectPing().WillReturnError(errors.New("connection reset"))
	err = pm.Ping(context.Background())
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetStats_ReflectsLimits(t *testing.T) {
	pm := setupPool(t, config.PoolConfig{
		MaxConns:       3,
		AcquireTimeout: time.Second,
	})

	stats := pm.GetStats()
	assert.Equal(t, 3, stats.MaxOpenConnections)
}
