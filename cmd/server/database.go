package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	// Registers the pgx database/sql driver.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/skeind/showrunner/internal/config"
	"github.com/skeind/showrunner/internal/platform/postgres"
	redisplatform "github.com/skeind/showrunner/internal/platform/redis"
	"github.com/skeind/showrunner/internal/store"
)

// backingStores bundles the store implementations for the configured
// database driver together with the function that releases the
// underlying connection.
type backingStores struct {
	taskStore store.TaskStore
	nodeStore store.NodeStore
	close     func()
}

// setupAppDatabase connects the configured backend and builds the task
// and node stores on top of it. For the postgres driver, pending
// migrations are applied first when auto_migrate is enabled.
func setupAppDatabase(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backingStores, error) {
	switch cfg.Database.Driver {
	case "postgres":
		return setupPostgresStores(ctx, cfg, logger)
	case "redis":
		return setupRedisStores(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", cfg.Database.Driver)
	}
}

// setupPostgresStores opens a pooled connection, verifies it with a
// ping and optionally applies pending migrations.
func setupPostgresStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backingStores, error) {
	db, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	// Configure connection pool with reasonable defaults
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	logger.Info("Database connection established", "driver", "postgres")

	if cfg.Database.AutoMigrate {
		if err := runMigrations(db, "up", "", logger); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply migrations: %w", err)
		}
	}

	return &backingStores{
		taskStore: postgres.NewPostgresTaskStore(db, logger),
		nodeStore: postgres.NewPostgresNodeStore(db, logger),
		close: func() {
			if err := db.Close(); err != nil {
				logger.Error("Error closing database connection", "error", err)
			}
		},
	}, nil
}

// setupRedisStores connects to the configured Redis instance.
func setupRedisStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backingStores, error) {
	client, err := redisplatform.NewClient(ctx, cfg.Database.RedisAddr, cfg.Database.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	logger.Info("Database connection established",
		"driver", "redis",
		"db", cfg.Database.RedisDB)

	return &backingStores{
		taskStore: redisplatform.NewRedisTaskStore(client, logger),
		nodeStore: redisplatform.NewRedisNodeStore(client, logger),
		close: func() {
			if err := client.Close(); err != nil {
				logger.Error("Error closing redis connection", "error", err)
			}
		},
	}, nil
}
