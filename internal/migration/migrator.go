// Package migration owns the persisted schema: idempotent creation and
// upgrade of the six memory-store tables and their indexes.
// This package is internal and should not be imported by external projects.
package migration

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/mnemo/types"
)

// Tables lists every persisted entity in creation order.
func Tables() []any {
	return []any{
		&types.Memory{},
		&types.MemoryRelationship{},
		&types.MemoryAccessLogEntry{},
		&types.PersonaAttribute{},
		&types.SelfReflection{},
		&types.EmotionalReflection{},
	}
}

// Migrate creates or upgrades the schema. Safe to run on every init;
// AutoMigrate adds missing tables, columns and indexes and never drops.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := db.AutoMigrate(Tables()...); err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}

	logger.Info("schema migrated", zap.Int("tables", len(Tables())))
	return nil
}
