package db

import (
	"context"
	"fmt"

	"cheonkimoon/internal/db/migrations"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Migrate brings the schema up to date. Postgres gets the versioned SQL
// migrations; SQLite is auto-migrated from the models.
func Migrate(ctx context.Context, db *gorm.DB, log *zap.Logger) error {
	if db.Dialector.Name() != "postgres" {
		if err := db.WithContext(ctx).AutoMigrate(models()...); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		log.Info("database schema migrated", zap.String("mode", "auto"))
		return nil
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	applied, err := migrations.Apply(ctx, sqlDB)
	if err != nil {
		return err
	}
	log.Info("database schema migrated", zap.String("mode", "sql"), zap.Strings("applied", applied))
	return nil
}
