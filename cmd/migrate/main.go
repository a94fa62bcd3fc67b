package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/leadflow/backend/internal/infrastructure/config"
	"github.com/leadflow/backend/internal/infrastructure/logger"
	"github.com/leadflow/backend/internal/infrastructure/migration"
	"github.com/leadflow/backend/migrations"
)

const (
	defaultMigrationsDir = "migrations"
	pingTimeout          = 10 * time.Second
)

// env carries what every command needs
type env struct {
	log    *zap.Logger
	dir    string // empty means the embedded set
	args   []string
	source fs.FS
}

// command is one CLI verb. Commands with a migrator get a connected one.
type command struct {
	usage    string
	minArgs  int
	needsDB  bool
	run      func(e *env) error
	runWithM func(e *env, m *migration.Migrator) error
}

var commands = map[string]command{
	"up":      {usage: "up", needsDB: true, runWithM: func(_ *env, m *migration.Migrator) error { return m.Up() }},
	"down":    {usage: "down", needsDB: true, runWithM: func(_ *env, m *migration.Migrator) error { return m.Down() }},
	"step":    {usage: "step <n>", minArgs: 1, needsDB: true, runWithM: runStep},
	"version": {usage: "version", needsDB: true, runWithM: runVersion},
	"status":  {usage: "status", needsDB: true, runWithM: runStatus},
	"force":   {usage: "force <version>", minArgs: 1, needsDB: true, runWithM: runForce},
	"create":  {usage: "create <name> [description]", minArgs: 1, run: runCreate},
	"list":    {usage: "list", run: runList},
}

func main() {
	dir := flag.String("path", "", "Read migrations from this directory instead of the embedded set")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() == 0 {
		printUsage()
		os.Exit(2)
	}
	name := flag.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", name)
		printUsage()
		os.Exit(2)
	}

	log, err := logger.New(&logger.Config{
		Level:     *logLevel,
		Format:    "console",
		Output:    "stdout",
		Component: "migrate",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	e := &env{log: log, args: flag.Args()[1:], source: migrations.FS}
	if *dir != "" {
		abs, err := filepath.Abs(*dir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid -path: %v\n", err)
			os.Exit(1)
		}
		e.dir, e.source = abs, os.DirFS(abs)
	}

	err = execute(cmd, e)
	_ = logger.Sync(log)
	if err != nil {
		log.Error("Migration command failed", zap.String("command", name), zap.Error(err))
		os.Exit(1)
	}
}

func execute(cmd command, e *env) error {
	if len(e.args) < cmd.minArgs {
		return fmt.Errorf("usage: migrate %s", cmd.usage)
	}
	if !cmd.needsDB {
		return cmd.run(e)
	}

	db, err := connect()
	if err != nil {
		return err
	}
	defer db.Close()

	var m *migration.Migrator
	if e.dir != "" {
		m, err = migration.New(db, e.dir, e.log)
	} else {
		m, err = migration.NewEmbedded(db, migrations.FS, e.log)
	}
	if err != nil {
		return err
	}
	defer func() {
		if cerr := m.Close(); cerr != nil {
			e.log.Warn("Failed to close migrator", zap.Error(cerr))
		}
	}()
	return cmd.runWithM(e, m)
}

// connect opens the database named by the LEADFLOW_DATABASE_* settings
func connect() (*sql.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to reach %s on %s:%d: %w", cfg.Database.DBName, cfg.Database.Host, cfg.Database.Port, err)
	}
	return db, nil
}

func runStep(e *env, m *migration.Migrator) error {
	n, err := strconv.Atoi(e.args[0])
	if err != nil || n == 0 {
		return fmt.Errorf("step count must be a non-zero integer, got %q", e.args[0])
	}
	return m.Steps(n)
}

func runVersion(e *env, m *migration.Migrator) error {
	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	if version == 0 {
		e.log.Info("No migrations applied")
		return nil
	}
	e.log.Info("Current schema version", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

func runStatus(e *env, m *migration.Migrator) error {
	available, err := migration.ListMigrations(e.source)
	if err != nil {
		return err
	}
	st, err := m.Status(available)
	if err != nil {
		return err
	}
	e.log.Info("Schema status",
		zap.Uint("version", st.Version),
		zap.Bool("dirty", st.Dirty),
		zap.Int("pending", len(st.Pending)),
	)
	for _, p := range st.Pending {
		fmt.Println("  pending:", p)
	}
	if st.Dirty {
		return errors.New("schema is dirty: fix the failed migration, then run force <version>")
	}
	return nil
}

func runForce(e *env, m *migration.Migrator) error {
	version, err := strconv.Atoi(e.args[0])
	if err != nil {
		return fmt.Errorf("invalid version %q", e.args[0])
	}
	return m.Force(version)
}

func runCreate(e *env) error {
	dir := e.dir
	if dir == "" {
		dir = defaultMigrationsDir
	}
	description := ""
	if len(e.args) > 1 {
		description = e.args[1]
	}
	p, err := migration.Scaffold(dir, e.args[0], description, time.Now())
	if err != nil {
		return err
	}
	e.log.Info("Migration created",
		zap.Uint64("version", p.Version),
		zap.String("up", p.UpPath),
		zap.String("down", p.DownPath),
	)
	return nil
}

func runList(e *env) error {
	available, err := migration.ListMigrations(e.source)
	if err != nil {
		return err
	}
	if len(available) == 0 {
		e.log.Info("No migrations found")
		return nil
	}
	for _, name := range available {
		fmt.Println(name)
	}
	return nil
}

func printUsage() {
	fmt.Fprint(os.Stderr, `Leadflow schema migrations

Usage: migrate [-path dir] [-log-level level] <command> [args]

  up                           apply every pending migration
  down                         revert every migration
  step <n>                     apply n migrations, or revert -n
  version                      print the applied version
  status                       print the applied version and pending migrations
  force <version>              mark version applied after a manual fix
  create <name> [description]  scaffold an up/down pair (default dir: migrations)
  list                         list the available migrations

Without -path the migrations compiled into the binary are used.
The database is read from LEADFLOW_DATABASE_HOST, _PORT, _USER, _PASSWORD,
_DBNAME and _SSLMODE.
`)
}
