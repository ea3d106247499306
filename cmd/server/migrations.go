package main

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"

	"github.com/skeind/showrunner/internal/config"
	"github.com/skeind/showrunner/internal/platform/postgres"
)

// migrationTableName is where goose records which migrations have been
// applied.
const migrationTableName = "schema_migrations"

// migrationsSourceDir is the on-disk migrations directory. The create
// command writes new migration files here; everything else reads the
// copies embedded in the binary.
const migrationsSourceDir = "internal/platform/postgres/migrations"

// slogGooseLogger adapts goose's logger interface to slog.
type slogGooseLogger struct{}

// Printf implements the goose.Logger Printf method by forwarding messages to slog.Info
func (l *slogGooseLogger) Printf(format string, v ...interface{}) {
	slog.Info(fmt.Sprintf(format, v...))
}

// Fatalf implements the goose.Logger Fatalf method by forwarding error messages to slog.Error
// Note: Unlike the standard Fatalf behavior, this does NOT call os.Exit
// to allow main.go to handle application exit consistently
func (l *slogGooseLogger) Fatalf(format string, v ...interface{}) {
	slog.Error(fmt.Sprintf(format, v...))
}

// handleMigrations runs the given migration command against the
// configured postgres database and closes the connection again. The
// redis driver has no schema, so migration commands reject it.
func handleMigrations(cfg *config.Config, command, migrationName string, logger *slog.Logger) error {
	if cfg.Database.Driver != "postgres" {
		return fmt.Errorf("migrations require the postgres driver, configured driver is %q", cfg.Database.Driver)
	}

	db, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("Error closing database connection", "error", err)
		}
	}()

	return runMigrations(db, command, migrationName, logger)
}

// runMigrations executes one goose command using the migrations
// embedded in the binary. The create command is the exception: it
// writes a new migration skeleton into the source tree, so it only
// works from a repository checkout.
func runMigrations(db *sql.DB, command, migrationName string, logger *slog.Logger) error {
	goose.SetLogger(&slogGooseLogger{})
	goose.SetBaseFS(postgres.MigrationsFS)
	goose.SetTableName(migrationTableName)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	logger.Info("Executing migrations", "command", command)

	var err error
	switch command {
	case "up":
		err = goose.Up(db, "migrations")
	case "down":
		err = goose.Down(db, "migrations")
	case "status":
		err = goose.Status(db, "migrations")
	case "version":
		err = goose.Version(db, "migrations")
	case "create":
		if migrationName == "" {
			return fmt.Errorf("the create command requires -migration-name")
		}
		// goose embeds read from the binary, but create always targets
		// the real directory.
		goose.SetBaseFS(nil)
		err = goose.Create(db, migrationsSourceDir, migrationName, "sql")
	default:
		return fmt.Errorf("unknown migration command: %q", command)
	}
	if err != nil {
		return fmt.Errorf("goose %s failed: %w", command, err)
	}

	return nil
}
