package database

import (
	"fmt"

	"github.com/strata-cms/core/internal/config"
	"github.com/strata-cms/core/internal/models"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens a MySQL connection and optionally runs auto-migration.
func Connect(cfg *config.AppConfig, autoMigrate bool) (*gorm.DB, error) {
	db, err := openDB(cfg, resolveLogLevel(cfg))
	if err != nil {
		return nil, err
	}

	if autoMigrate {
		if err := Migrate(db); err != nil {
			return nil, fmt.Errorf("migration failed: %w", err)
		}
	}

	return db, nil
}

func resolveLogLevel(cfg *config.AppConfig) logger.LogLevel {
	if cfg.IsDev() {
		return logger.Info
	}
	return logger.Warn
}

func openDB(cfg *config.AppConfig, logLevel logger.LogLevel) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:               cfg.DSN,
		DefaultStringSize: 191,
	}), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
		// TranslateError maps driver duplicate-key errors onto
		// gorm.ErrDuplicatedKey. The single-active-schema and version_idx
		// invariants depend on seeing that error, not a driver string.
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	return db, nil
}

// Migrate runs GORM auto-migration for all models.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.TenantModel{},
		&models.UserModel{},
		&models.SectionModel{},
		&models.SectionSchemaModel{},
		&models.EntryModel{},
		&models.EntryVersionModel{},
		&models.ContentAuditLogModel{},
		&models.WebhookModel{},
		&models.WebhookEventModel{},
	)
}
