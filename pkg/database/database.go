// Package database provides the connection-management surface for the
// relational store used by the rest of the system, plus an instrumented
// wrapper that logs shard resolution and shutdown.
//
// The package follows the same adapter pattern as pkg/messaging and
// pkg/cache: interfaces live here, concrete drivers live in
// pkg/database/sql/adapters/{driver}.
package database

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/olegeech-me/statustracker/pkg/logger"
)

// Supported driver names.
const (
	DriverPostgres = "postgres"
)

// DB is the connection-management surface consumers depend on. Adapters in
// pkg/database/sql implement this by way of the narrower sql.SQL interface.
type DB interface {
	// Get returns the primary database connection bound to ctx.
	Get(ctx context.Context) *gorm.DB

	// GetShard returns the connection responsible for key. A single-instance
	// Postgres deployment has one shard and always returns the primary
	// connection.
	GetShard(ctx context.Context, key string) (*gorm.DB, error)

	// Close releases all database connections.
	Close() error
}

// InstrumentedDB wraps a DB to add structured logging around shard
// resolution and shutdown.
type InstrumentedDB struct {
	next DB
}

// NewInstrumentedDB wraps next with logging.
func NewInstrumentedDB(next DB) *InstrumentedDB {
	return &InstrumentedDB{next: next}
}

func (d *InstrumentedDB) Get(ctx context.Context) *gorm.DB {
	return d.next.Get(ctx)
}

func (d *InstrumentedDB) GetShard(ctx context.Context, key string) (*gorm.DB, error) {
	start := time.Now()

	db, err := d.next.GetShard(ctx, key)
	if err != nil {
		logger.L().ErrorContext(ctx, "failed to resolve shard", "key", key, "error", err, "duration", time.Since(start))
		return nil, err
	}
	return db, nil
}

func (d *InstrumentedDB) Close() error {
	logger.L().Info("closing database connections")
	return d.next.Close()
}

// gormLogWriter adapts gorm's logger.Interface to the global slog logger so
// SQL tracing shares the same format, sampling and redaction as the rest of
// the system's logs.
type gormLogWriter struct{}

// NewGORMLogger returns a gorm logger.Interface backed by logger.L().
func NewGORMLogger() gormlogger.Interface {
	return gormlogger.New(&gormLogWriter{}, gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

func (w *gormLogWriter) Printf(format string, args ...interface{}) {
	logger.L().Warn("gorm", "msg", fmt.Sprintf(format, args...))
}
