package main

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fastprodman/starledger/internal/config"
	"github.com/fastprodman/starledger/internal/infra/logging"
	"github.com/fastprodman/starledger/internal/infra/pgutils"
	"github.com/fastprodman/starledger/pkg/envconf"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var schemaFS embed.FS

//go:embed test_data/*.sql
var seedFS embed.FS

type migratorConfig struct {
	Postgres config.PostgresConfig
	LogLevel slog.Level `env:"APP_LOG_LEVEL" envDefault:"INFO"`
	AppEnv   string     `env:"APP_ENV" envDefault:"PROD"`
	// SchemaVersion migrates the schema to an exact version, down if needed.
	// Zero means latest.
	SchemaVersion uint `env:"MIGRATE_SCHEMA_VERSION" envDefault:"0"`
}

// migrationSet is one embedded directory tracked in its own version table.
type migrationSet struct {
	name  string
	fsys  embed.FS
	dir   string
	table string
}

var (
	schemaSet = migrationSet{name: "schema", fsys: schemaFS, dir: "migrations", table: postgres.DefaultMigrationsTable}
	// Seed data keeps its own version table so it can evolve independently
	// of the schema.
	seedSet = migrationSet{name: "dev seed", fsys: seedFS, dir: "test_data", table: "dev_seed_migrations"}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := migrateAll(ctx)
	if err != nil {
		slog.Error("migration run failed", "error", err)
		//nolint:gocritic
		os.Exit(1)
	}

	slog.Info("migration run finished successfully")
}

func migrateAll(ctx context.Context) error {
	cfg := new(migratorConfig)

	err := envconf.Load(cfg)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.SetupJSON(cfg.LogLevel, slog.String("service", "starledger-migrator"), slog.String("env", cfg.AppEnv))

	db, err := pgutils.OpenDB(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	//nolint:errcheck
	defer db.Close()

	err = schemaSet.apply(ctx, db, logger, cfg.SchemaVersion)
	if err != nil {
		return err
	}

	if cfg.AppEnv != "DEV" {
		return nil
	}

	// seed rows depend on the full schema
	if cfg.SchemaVersion != 0 {
		logger.Warn("dev seed skipped, schema pinned", "schema_version", cfg.SchemaVersion)
		return nil
	}

	return seedSet.apply(ctx, db, logger, 0)
}

// apply runs the set up to its latest version, or to target when non-zero.
func (s migrationSet) apply(ctx context.Context, db *sql.DB, logger *slog.Logger, target uint) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("%s: acquire conn: %w", s.name, err)
	}

	driver, err := postgres.WithConnection(ctx, conn, &postgres.Config{MigrationsTable: s.table})
	if err != nil {
		//nolint:errcheck
		conn.Close()
		return fmt.Errorf("%s: init postgres driver: %w", s.name, err)
	}

	src, err := iofs.New(s.fsys, s.dir)
	if err != nil {
		//nolint:errcheck
		driver.Close()
		return fmt.Errorf("%s: iofs source: %w", s.name, err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		//nolint:errcheck
		driver.Close()
		return fmt.Errorf("%s: migrate instance: %w", s.name, err)
	}
	//nolint:errcheck
	defer m.Close()

	if target == 0 {
		err = m.Up()
	} else {
		err = m.Migrate(target)
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%s: migrate: %w", s.name, err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("%s: read version: %w", s.name, err)
	}

	logger.Info("migrations applied", "set", s.name, "table", s.table, "version", version, "dirty", dirty)

	return nil
}
