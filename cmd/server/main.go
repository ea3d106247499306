// Package main implements the entry point for the showrunner
// coordinator, which queues generation work and hands it to worker
// nodes over their HTTP agent API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"

	"github.com/skeind/showrunner/internal/config"
	"github.com/skeind/showrunner/internal/platform/logger"
)

// main parses flags, initializes configuration and logging, and either
// runs a migration command or starts the coordinator.
func main() {
	configPath := flag.String("config", "",
		"path to a config file (default: search ./config.yaml and /etc/showrunner)")
	migrateCmd := flag.String("migrate", "",
		"run a migration command (up, down, status, version, create) and exit")
	migrationName := flag.String("migration-name", "",
		"name for a new migration (used with -migrate create)")
	flag.Parse()

	cfg, appLogger, err := initializeApp(*configPath)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	if *migrateCmd != "" {
		if err := handleMigrations(cfg, *migrateCmd, *migrationName, appLogger); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		return
	}

	if err := runServer(context.Background(), cfg, appLogger); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// initializeApp loads configuration and sets up application logging.
// Returns the loaded config, the root logger and any initialization
// error.
func initializeApp(configPath string) (*config.Config, *slog.Logger, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger, err := logger.Setup(cfg.Server)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	appLogger.Info("Server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"database_driver", cfg.Database.Driver)

	return cfg, appLogger, nil
}

// runServer connects the backing store, wires the application and runs
// it until a shutdown signal arrives.
func runServer(ctx context.Context, cfg *config.Config, appLogger *slog.Logger) error {
	stores, err := setupAppDatabase(ctx, cfg, appLogger)
	if err != nil {
		return fmt.Errorf("failed to set up database: %w", err)
	}

	app, err := newApplication(ctx, cfg, appLogger, stores)
	if err != nil {
		stores.close()
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	return app.Run(ctx)
}
