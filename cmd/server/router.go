package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/repodocs/repodocs-api/internal/api"
	apiMiddleware "github.com/repodocs/repodocs-api/internal/api/middleware"
)

// setupRouter creates and configures the application router with all routes and middleware.
// It accepts the application dependencies to create handlers and register routes.
// Returns the configured router.
func (app *application) setupRouter() http.Handler {
	// Create a router
	r := chi.NewRouter()

	// Apply standard middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware) // Add trace IDs for improved error handling

	// Create API handlers using the application's services
	jobHandler := api.NewJobHandler(app.jobQueue)
	workerHandler := api.NewWorkerHandler(app.jobQueue)
	callbackAuth := apiMiddleware.NewCallbackAuthMiddleware(app.callbackService)

	// Register routes
	r.Route("/api", func(r chi.Router) {
		// Submitter-facing endpoints
		r.Post("/jobs", jobHandler.EnqueueJob)
		r.Get("/jobs", jobHandler.ListJobs)
		r.Get("/jobs/{id}", jobHandler.GetJob)
		r.Post("/jobs/{id}/cancel", jobHandler.CancelJob)
		r.Post("/jobs/{id}/request-cancel", jobHandler.RequestCancelJob)
		r.Get("/jobs/{id}/logs", jobHandler.GetJobLogs)

		// Queue observability
		r.Get("/metrics", jobHandler.GetMetrics)

		// Worker-facing endpoints. Claim is open; everything else requires
		// the per-job callback token handed out at claim time.
		r.Route("/worker", func(r chi.Router) {
			r.Post("/claim", workerHandler.ClaimJob)

			r.Route("/jobs/{id}", func(r chi.Router) {
				r.Use(callbackAuth.Authenticate)
				r.Post("/heartbeat", workerHandler.HeartbeatJob)
				r.Post("/complete", workerHandler.CompleteJob)
				r.Post("/fail", workerHandler.FailJob)
				r.Post("/logs", workerHandler.AppendJobLog)
			})
		})
	})

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, err := w.Write([]byte("OK"))
		if err != nil {
			app.logger.Error("Failed to write health check response", "error", err)
		}
	})

	return r
}
