package database

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func isPostgres(uri string) bool {
	return strings.HasPrefix(uri, "postgres://") || strings.HasPrefix(uri, "postgresql://")
}

// Open connects to postgres for postgres:// urls and to sqlite otherwise.
// A sqlite:// prefix is stripped from the path.
func Open(uri string) (*gorm.DB, error) {
	config := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}

	var dialector gorm.Dialector
	if isPostgres(uri) {
		dialector = postgres.Open(uri)
	} else {
		dialector = sqlite.Open(strings.TrimPrefix(uri, "sqlite://"))
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unable to access connection pool: %w", err)
	}
	if isPostgres(uri) {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(2)
		sqlDB.SetConnMaxIdleTime(time.Minute)
	} else {
		// sqlite allows a single writer, and every in-memory connection would
		// otherwise see its own empty database.
		sqlDB.SetMaxOpenConns(1)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	return db, nil
}

// NewDatabase opens the database and applies all migrations.
func NewDatabase(uri string) (*gorm.DB, error) {
	db, err := Open(uri)
	if err != nil {
		return nil, err
	}

	if err := GetMigrator(db).Migrate(); err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			sqlDB.Close()
		}
		return nil, fmt.Errorf("error migrating database: %w", err)
	}

	slog.Info("database ready", "dialect", db.Dialector.Name())
	return db, nil
}
