// Package main implements the entry point for the repodocs API server,
// which accepts repository analysis jobs, hands them to workers through a
// durable lease-based queue, and records their progress and results.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/repodocs/repodocs-api/internal/config"
	"github.com/repodocs/repodocs-api/internal/platform/logger"
	"github.com/repodocs/repodocs-api/internal/platform/postgres"
)

func main() {
	migrateOnly := flag.Bool("migrate", false, "apply pending database migrations and exit")
	flag.Parse()

	if err := run(*migrateOnly); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}
}

// run loads configuration, wires the application together and starts the
// HTTP server. Split out of main so initialization failures surface as a
// returned error.
func run(migrateOnly bool) error {
	ctx := context.Background()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Set up structured logging using the configured log level
	appLogger, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	appLogger.Info("Server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel)

	// Establish database connection
	db, err := setupAppDatabase(cfg, appLogger)
	if err != nil {
		return fmt.Errorf("failed to set up database: %w", err)
	}

	// Apply pending schema migrations
	if err := postgres.MigrateUp(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	appLogger.Info("Database migrations applied")

	if migrateOnly {
		appLogger.Info("Migrate-only mode, exiting")
		return db.Close()
	}

	// Wire application dependencies
	app, err := newApplication(cfg, appLogger, db)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	// Run until shutdown
	return app.Run(ctx)
}
