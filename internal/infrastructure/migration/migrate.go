package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

// Migrator applies the lead, credential set and dispatch schema
type Migrator struct {
	m      *migrate.Migrate
	logger *zap.Logger
}

// Status is the applied version plus the migrations still to run
type Status struct {
	Version uint
	Dirty   bool
	Pending []string
}

// New reads migrations from a directory on disk.
func New(db *sql.DB, dir string, logger *zap.Logger) (*Migrator, error) {
	return open(db, logger, func(driver *postgres.Postgres) (*migrate.Migrate, error) {
		return migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	})
}

// NewEmbedded reads migrations from fsys, normally the set compiled into
// the binary.
func NewEmbedded(db *sql.DB, fsys fs.FS, logger *zap.Logger) (*Migrator, error) {
	src, err := iofs.New(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	return open(db, logger, func(driver *postgres.Postgres) (*migrate.Migrate, error) {
		return migrate.NewWithInstance("iofs", src, "postgres", driver)
	})
}

func open(db *sql.DB, logger *zap.Logger, build func(*postgres.Postgres) (*migrate.Migrate, error)) (*Migrator, error) {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}
	m, err := build(driver.(*postgres.Postgres))
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return &Migrator{m: m, logger: logger}, nil
}

// run executes op and logs the resulting version. Nothing to do is not an
// error.
func (mg *Migrator) run(op string, fn func() error) error {
	mg.logger.Info("Running migrations", zap.String("op", op))
	err := fn()
	if errors.Is(err, migrate.ErrNoChange) {
		mg.logger.Info("Schema already up to date", zap.String("op", op))
		return nil
	}
	if err != nil {
		return fmt.Errorf("migration %s failed: %w", op, err)
	}
	version, dirty, err := mg.Version()
	if err != nil {
		return err
	}
	mg.logger.Info("Migrations applied",
		zap.String("op", op),
		zap.Uint("version", version),
		zap.Bool("dirty", dirty),
	)
	return nil
}

// Up applies every pending migration.
func (mg *Migrator) Up() error { return mg.run("up", mg.m.Up) }

// Down reverts every migration, dropping the dispatch tables.
func (mg *Migrator) Down() error { return mg.run("down", mg.m.Down) }

// Steps applies n migrations; negative n rolls back.
func (mg *Migrator) Steps(n int) error {
	return mg.run(fmt.Sprintf("steps %+d", n), func() error { return mg.m.Steps(n) })
}

// Version returns the applied version, 0 on a fresh database.
func (mg *Migrator) Version() (uint, bool, error) {
	version, dirty, err := mg.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, dirty, nil
}

// Status compares the applied version with available.
func (mg *Migrator) Status(available []string) (*Status, error) {
	version, dirty, err := mg.Version()
	if err != nil {
		return nil, err
	}
	return &Status{Version: version, Dirty: dirty, Pending: pendingAfter(uint64(version), available)}, nil
}

func pendingAfter(version uint64, available []string) []string {
	var pending []string
	for _, name := range available {
		if v, ok := versionOf(name); ok && v > version {
			pending = append(pending, name)
		}
	}
	return pending
}

// Force records version as applied without running anything, to clear a
// dirty flag after a failed migration was fixed by hand.
func (mg *Migrator) Force(version int) error {
	mg.logger.Warn("Forcing migration version", zap.Int("version", version))
	if err := mg.m.Force(version); err != nil {
		return fmt.Errorf("failed to force version %d: %w", version, err)
	}
	return nil
}

func (mg *Migrator) Close() error {
	srcErr, dbErr := mg.m.Close()
	return errors.Join(srcErr, dbErr)
}
