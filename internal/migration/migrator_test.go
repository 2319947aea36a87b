package migration

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func TestMigrate_CreatesAllTables(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, Migrate(db, zaptest.NewLogger(t)))

	for _, table := range []string{
		"memories",
		"memory_relationships",
		"memory_access_log",
		"persona_memories",
		"self_reflections",
		"emotional_reflections",
	} {
		assert.True(t, db.Migrator().HasTable(table), "missing table %s", table)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	logger := zaptest.NewLogger(t)
	require.NoError(t, Migrate(db, logger))
	require.NoError(t, Migrate(db, logger))
}
