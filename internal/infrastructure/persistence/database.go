package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/leadflow/backend/internal/infrastructure/config"
)

// Database is the gorm handle shared by the lead, credential set and
// dispatch repositories.
type Database struct {
	DB *gorm.DB
}

// dial controls how long startup waits for Postgres to accept connections
type dial struct {
	attempts    int
	delay       time.Duration
	pingTimeout time.Duration
}

var startupDial = dial{attempts: 5, delay: time.Second, pingTimeout: 5 * time.Second}

// Open connects to Postgres and applies the pool limits from cfg. The server
// and the worker often start next to a database that is still booting, so
// the first ping is retried a few times with a growing delay.
func Open(ctx context.Context, cfg *config.DatabaseConfig, log gormlogger.Interface) (*Database, error) {
	return open(ctx, postgres.Open(cfg.DSN()), cfg, log, startupDial)
}

func open(ctx context.Context, dialector gorm.Dialector, cfg *config.DatabaseConfig, log gormlogger.Interface, d dial) (*Database, error) {
	if log == nil {
		log = gormlogger.Discard
	}
	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 log,
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
		DisableAutomaticPing:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", target(cfg), err)
	}
	pool, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	limitPool(pool, cfg)

	if err := waitReady(ctx, pool, d); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("database %s unreachable: %w", target(cfg), err)
	}
	return &Database{DB: gdb}, nil
}

// limitPool sizes the pool. Dispatch workers hold a connection per unit in
// flight; workers beyond MaxOpenConns wait for one.
func limitPool(pool *sql.DB, cfg *config.DatabaseConfig) {
	pool.SetMaxOpenConns(cfg.MaxOpenConns)
	pool.SetMaxIdleConns(cfg.MaxIdleConns)
	pool.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)
	pool.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTime) * time.Minute)
}

func waitReady(ctx context.Context, pool *sql.DB, d dial) error {
	var errs []error
	delay := d.delay
	for attempt := 1; ; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, d.pingTimeout)
		err := pool.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("attempt %d: %w", attempt, err))
		if attempt >= d.attempts {
			return errors.Join(errs...)
		}

		select {
		case <-ctx.Done():
			return errors.Join(append(errs, ctx.Err())...)
		case <-time.After(delay):
		}
		delay *= 2
	}
}

func target(cfg *config.DatabaseConfig) string {
	return fmt.Sprintf("%s on %s:%d", cfg.DBName, cfg.Host, cfg.Port)
}

// Ping backs the database health check.
func (d *Database) Ping(ctx context.Context) error {
	pool, err := d.DB.DB()
	if err != nil {
		return err
	}
	return pool.PingContext(ctx)
}

// Close releases the pool.
func (d *Database) Close() error {
	pool, err := d.DB.DB()
	if err != nil {
		return err
	}
	return pool.Close()
}
