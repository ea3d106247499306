package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/skeind/showrunner/internal/api"
	apiMiddleware "github.com/skeind/showrunner/internal/api/middleware"
)

// setupRouter creates and configures the application router with all
// routes and middleware. Operator endpoints live under /api, node
// report endpoints under /api/callbacks.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	// Apply standard middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware) // Add trace IDs for improved error handling

	// Create API handlers using the application's services
	taskHandler := api.NewTaskHandler(app.controller, app.logger)
	queueHandler := api.NewQueueHandler(app.controller, app.logger)
	nodeHandler := api.NewNodeHandler(app.controller, app.logger)
	callbackHandler := api.NewCallbackHandler(app.dispatcher, app.logger)

	// Register routes
	r.Route("/api", func(r chi.Router) {
		// Task endpoints
		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", taskHandler.Enqueue)
			r.Get("/", taskHandler.List)
			r.Get("/{id}", taskHandler.Get)
			r.Post("/{id}/cancel", taskHandler.Cancel)
			r.Post("/{id}/retry", taskHandler.Retry)
		})

		// Queue control endpoints
		r.Route("/queue", func(r chi.Router) {
			r.Get("/stats", queueHandler.Stats)
			r.Post("/pause", queueHandler.Pause)
			r.Post("/resume", queueHandler.Resume)
		})

		// Node registry endpoints
		r.Route("/nodes", func(r chi.Router) {
			r.Post("/", nodeHandler.Register)
			r.Get("/", nodeHandler.List)
			r.Get("/{id}", nodeHandler.Get)
			r.Delete("/{id}", nodeHandler.Remove)
		})

		// Node agent report endpoints
		r.Route("/callbacks", func(r chi.Router) {
			r.Post("/tasks/{id}/progress", callbackHandler.Progress)
			r.Post("/tasks/{id}/complete", callbackHandler.Complete)
			r.Post("/tasks/{id}/fail", callbackHandler.Fail)
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
