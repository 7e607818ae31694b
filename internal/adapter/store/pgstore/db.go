// Package pgstore keeps the directory and the message ledger in PostgreSQL
// through gorm.
package pgstore

import (
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Options configure the connection.
type Options struct {
	DSN     string
	LogSQL  bool
	MaxOpen int
}

// Open connects and migrates the schema.
func Open(opts Options, log *slog.Logger) (*gorm.DB, error) {
	level := logger.Error
	if opts.LogSQL {
		level = logger.Info
	}

	db, err := gorm.Open(postgres.Open(opts.DSN), &gorm.Config{
		CreateBatchSize: 500,
		Logger: logger.New(slog.NewLogLogger(log.Handler(), slog.LevelInfo), logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}

	if opts.MaxOpen > 0 {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("postgres pool: %w", err)
		}
		sqlDB.SetMaxOpenConns(opts.MaxOpen)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates the tables.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		new(recipientRow),
		new(pushHandleRow),
		new(messageRow),
		new(messageTargetRow),
		new(receiptRow),
	)
	if err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

// Close releases the underlying pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
