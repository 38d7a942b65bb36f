package db

import (
	"fmt"
	"os"
	"path/filepath"

	"cheonkimoon/internal/config"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to Postgres when a URL is configured (Supabase in
// production) and falls back to a local SQLite file otherwise.
func Open(cfg config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	if cfg.URL != "" {
		db, err := gorm.Open(postgres.Open(cfg.URL), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		log.Info("database connection established", zap.String("driver", "postgres"))
		return db, nil
	}

	dbPath := cfg.Path
	if dbPath == "" {
		dbPath = "cheonkimoon.db"
	}

	// Ensure directory exists if path contains dir
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dbPath), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}
	log.Info("database connection established", zap.String("driver", "sqlite"), zap.String("path", dbPath))
	return db, nil
}

// OpenMemory returns a private in-memory SQLite database with the schema
// migrated. Used by tests across packages.
func OpenMemory() (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	// one connection, otherwise every pooled conn gets its own empty database
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(models()...); err != nil {
		return nil, err
	}
	return db, nil
}
