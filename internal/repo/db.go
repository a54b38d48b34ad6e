// Package repo holds the GORM queries behind the processing ledger and the
// identification cache. Functions take the *gorm.DB explicitly; timing and
// state-machine rules belong to the services layer.
package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/boss-title-updater/internal/domain"
)

// MaxOpenConns bounds the pool. SQLite serializes writers, so this only
// needs to cover the workers plus the status server's readers.
const MaxOpenConns = 8

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
}

func inMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

// OpenSQLite opens or creates the ledger database at path. The parent
// directory must exist.
func OpenSQLite(path string) (*gorm.DB, error) {
	if !inMemory(path) {
		if dir := filepath.Dir(path); dir != "." {
			if _, err := os.Stat(dir); err != nil {
				return nil, fmt.Errorf("ledger directory: %w", err)
			}
		}
	}

	gl := log.With().Str("component", "ledger-db").Logger()
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.New(&gl, logger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, err
	}

	for _, p := range pragmas {
		if err := db.Exec(p).Error; err != nil {
			_ = Close(db)
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(MaxOpenConns)
		sqlDB.SetMaxIdleConns(MaxOpenConns)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	}
	return db, nil
}

// Close releases the connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// EnableTracing registers the OpenTelemetry GORM plugin so ledger and cache
// queries show up as child spans of the pipeline spans.
func EnableTracing(db *gorm.DB) error {
	return db.Use(tracing.NewPlugin(tracing.WithoutMetrics()))
}

// AutoMigrate creates or updates the ledger and cache tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.ProcessedVideo{},
		&domain.BossCacheEntry{},
	)
}
