package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/repodocs/repodocs-api/internal/config"
	"github.com/repodocs/repodocs-api/internal/events"
	"github.com/repodocs/repodocs-api/internal/platform/postgres"
	"github.com/repodocs/repodocs-api/internal/queue"
	"github.com/repodocs/repodocs-api/internal/service/callback"
	"github.com/repodocs/repodocs-api/internal/store"
)

// lifecycleAuditHandler records every queue lifecycle event in the
// application log, giving operators a flat audit trail of submissions,
// completions, dead-letters and cancellations.
type lifecycleAuditHandler struct {
	logger *slog.Logger
}

// HandleEvent logs the event with its payload fields.
func (h *lifecycleAuditHandler) HandleEvent(ctx context.Context, event *events.JobLifecycleEvent) error {
	var payload struct {
		JobID  string `json:"job_id"`
		RepoID string `json:"repo_id"`
		Status string `json:"status"`
	}

	if err := event.UnmarshalPayload(&payload); err != nil {
		h.logger.Error("failed to unmarshal lifecycle event payload",
			"error", err, "event_id", event.ID, "event_type", event.Type)
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	h.logger.Info("job lifecycle event",
		"event_type", event.Type,
		"job_id", payload.JobID,
		"repo_id", payload.RepoID,
		"status", payload.Status)
	return nil
}

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	// Configuration
	config *config.Config

	// Core services
	logger *slog.Logger
	db     *sql.DB

	// Stores (using interfaces for proper abstraction)
	jobStore store.JobStore
	logStore store.JobLogStore

	// Service interfaces
	callbackService *callback.Service
	jobQueue        *queue.Service

	// Event system
	eventEmitter events.EventEmitter

	// Background lease recovery
	reclaimer *queue.Reclaimer
}

// newApplication creates a new application instance with all dependencies initialized.
// It accepts core dependencies like configuration, logger, and database connection that
// must be established before application initialization.
func newApplication(cfg *config.Config, logger *slog.Logger, db *sql.DB) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
		db:     db,
	}

	// Initialize callback token service
	var err error
	app.callbackService, err = callback.NewService(cfg.Callback)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize callback token service: %w", err)
	}
	logger.Info("Callback token service initialized",
		"token_lifetime_hours", cfg.Callback.TokenLifetimeHours)

	// Initialize stores
	app.jobStore = postgres.NewPostgresJobStore(db, logger)
	app.logStore = postgres.NewPostgresJobLogStore(db, logger)

	// Initialize event emitter and subscribe the audit handler
	emitter := events.NewInMemoryEventEmitter(logger)
	emitter.RegisterHandler(&lifecycleAuditHandler{
		logger: logger.With("component", "lifecycle_audit"),
	})
	app.eventEmitter = emitter

	// Initialize the job queue service
	queueCfg := queue.Config{
		DefaultLease: time.Duration(cfg.Queue.DefaultLeaseSeconds) * time.Second,
		MaxAttempts:  cfg.Queue.MaxAttempts,
		Backoff: queue.Backoff{
			Base:   time.Duration(cfg.Queue.BackoffBaseMs) * time.Millisecond,
			Max:    time.Duration(cfg.Queue.BackoffMaxMs) * time.Millisecond,
			Jitter: time.Duration(cfg.Queue.BackoffJitterMs) * time.Millisecond,
		},
	}
	app.jobQueue, err = queue.NewService(
		db,
		app.jobStore,
		app.logStore,
		app.callbackService,
		app.eventEmitter,
		queueCfg,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create job queue service: %w", err)
	}

	// Initialize the lease reclaimer
	reclaimInterval := time.Duration(cfg.Queue.ReclaimIntervalSeconds) * time.Second
	app.reclaimer = queue.NewReclaimer(app.jobQueue, reclaimInterval, logger)
	app.reclaimer.Start()

	logger.Info("Application initialized successfully")
	return app, nil
}

// Run starts the application server, handling lifecycle and cleanup.
// It returns an error if the server fails to start or encounters problems.
func (app *application) Run(ctx context.Context) error {
	// Set up router using the application dependencies
	router := app.setupRouter()

	// Start the HTTP server
	err := app.startHTTPServer(ctx, router)
	if err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup() {
	// Stop the lease reclaimer
	if app.reclaimer != nil {
		app.reclaimer.Stop()
	}

	// Close database connection
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("Error closing database connection", "error", err)
		}
	}

	app.logger.Info("Application shutdown completed")
}
