// Package db opens and migrates the GORM connection backing the state store.
package db

import (
	"fmt"

	"github.com/zulandar/relay/internal/config"
	"github.com/zulandar/relay/internal/store"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DSN builds a MySQL DSN from database config.
func DSN(cfg config.DatabaseConfig) string {
	return fmt.Sprintf("root@tcp(%s:%d)/%s?parseTime=true", cfg.Host, cfg.Port, cfg.Name)
}

// Connect opens a GORM connection for the configured driver. SQLite is the
// default and the only backend used in tests; MySQL serves multi-process
// deployments.
func Connect(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}
	switch cfg.Driver {
	case "sqlite":
		db, err := gorm.Open(sqlite.Open(cfg.Path), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("db: open sqlite %s: %w", cfg.Path, err)
		}
		return db, nil
	case "mysql":
		db, err := gorm.Open(mysql.Open(DSN(cfg)), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("db: connect to %s:%d/%s: %w", cfg.Host, cfg.Port, cfg.Name, err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", cfg.Driver)
	}
}

// AutoMigrate creates or updates the state store schema.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&store.Record{}); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
