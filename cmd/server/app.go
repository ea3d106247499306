package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/skeind/showrunner/internal/config"
	"github.com/skeind/showrunner/internal/controller"
	"github.com/skeind/showrunner/internal/dispatch"
	"github.com/skeind/showrunner/internal/events"
	"github.com/skeind/showrunner/internal/generation"
	"github.com/skeind/showrunner/internal/health"
	"github.com/skeind/showrunner/internal/platform/nodehttp"
	"github.com/skeind/showrunner/internal/queue"
	"github.com/skeind/showrunner/internal/registry"
)

// application holds all the shared application dependencies to simplify
// management and ensure proper cleanup on shutdown.
type application struct {
	// Configuration
	config *config.Config

	// Core services
	logger *slog.Logger
	stores *backingStores

	// Queue state and node registry
	queue    *queue.Queue
	registry *registry.Registry

	// Event system
	emitter *events.InMemoryEventEmitter

	// Scheduling and health loops
	dispatcher *dispatch.Dispatcher
	monitor    *health.Monitor

	// Operator-facing coordination surface
	controller *controller.Controller

	// Background loop lifecycle
	loopCancel context.CancelFunc
	loops      sync.WaitGroup
}

// newApplication creates a new application instance with all
// dependencies initialized. The queue and registry are reloaded from
// the backing store so a restart resumes where the previous process
// stopped, and queue maintenance is scheduled before returning.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, stores *backingStores) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
		stores: stores,
	}

	app.queue = queue.New(stores.taskStore, logger)
	if err := app.queue.Reload(ctx); err != nil {
		return nil, fmt.Errorf("failed to reload queue: %w", err)
	}

	app.registry = registry.New(stores.nodeStore, cfg.Health.OfflineThreshold, logger)
	if err := app.registry.Reload(ctx); err != nil {
		return nil, fmt.Errorf("failed to reload node registry: %w", err)
	}

	app.emitter = events.NewInMemoryEventEmitter(logger)

	nodeClient := nodehttp.NewClient(nodehttp.Config{
		ExecuteTimeout:  cfg.Dispatch.ExecuteTimeout,
		CallbackBaseURL: callbackBaseURL(cfg.Server),
	}, logger)

	app.dispatcher = dispatch.New(app.queue, app.registry, nodeClient, app.emitter, dispatch.Config{
		PollInterval:       cfg.Dispatch.PollInterval,
		NoCandidateBackoff: cfg.Dispatch.NoCandidateBackoff,
	}, logger)

	app.monitor = health.New(app.registry, app.queue, nodeClient, app.emitter, health.Config{
		ProbeInterval:     cfg.Health.ProbeInterval,
		ProbeTimeout:      cfg.Health.ProbeTimeout,
		MaxParallelProbes: int64(cfg.Health.MaxParallelProbes),
	}, logger)

	generator, err := setupGenerator(cfg.Refill)
	if err != nil {
		return nil, fmt.Errorf("failed to set up job generator: %w", err)
	}

	app.controller = controller.New(
		app.queue,
		app.registry,
		app.dispatcher,
		app.monitor,
		generator,
		app.emitter,
		cfg.Queue,
		cfg.Refill,
		logger,
	)

	if err := app.controller.StartMaintenance(); err != nil {
		return nil, fmt.Errorf("failed to start queue maintenance: %w", err)
	}

	logger.Info("Application initialized successfully",
		"tasks_loaded", app.queue.Depth(),
		"nodes_loaded", len(app.registry.List()))
	return app, nil
}

// setupGenerator builds the refill job generator from configuration.
// Returns nil when refill is disabled and no templates are configured;
// the controller only requires a generator when refill is on.
func setupGenerator(cfg config.RefillConfig) (generation.Generator, error) {
	if !cfg.Enabled && len(cfg.Templates) == 0 {
		return nil, nil
	}

	templates := make([]generation.Template, 0, len(cfg.Templates))
	for _, tmpl := range cfg.Templates {
		templates = append(templates, generation.Template{
			Kind:    tmpl.Kind,
			Payload: tmpl.Payload,
		})
	}

	generator, err := generation.NewTemplateGenerator(templates)
	if err != nil {
		return nil, err
	}
	return generator, nil
}

// callbackBaseURL resolves the base URL node agents deliver reports
// to. Falls back to localhost on the listen port, which only works for
// single-host setups; production deployments set it explicitly.
func callbackBaseURL(cfg config.ServerConfig) string {
	if cfg.CallbackBaseURL != "" {
		return cfg.CallbackBaseURL
	}
	return fmt.Sprintf("http://localhost:%d", cfg.Port)
}

// startLoops launches the dispatch and health loops. They run until
// cleanup cancels their context.
func (app *application) startLoops(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	app.loopCancel = cancel

	app.loops.Add(2)
	go func() {
		defer app.loops.Done()
		app.dispatcher.Run(loopCtx)
	}()
	go func() {
		defer app.loops.Done()
		app.monitor.Run(loopCtx)
	}()
}

// Run starts the background loops and the HTTP server, handling
// lifecycle and cleanup. It returns when the server shuts down.
func (app *application) Run(ctx context.Context) error {
	app.startLoops(ctx)

	router := app.setupRouter()

	if err := app.startHTTPServer(ctx, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup handles graceful shutdown of application resources: the
// maintenance schedule, the background loops and the store connection.
func (app *application) cleanup() {
	if app.controller != nil {
		app.controller.StopMaintenance()
	}

	if app.loopCancel != nil {
		app.loopCancel()
		app.loops.Wait()
	}

	if app.stores != nil {
		app.stores.close()
	}

	app.logger.Info("Application shutdown completed")
}
