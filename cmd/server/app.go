package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/phrazzld/personasim/internal/api"
	"github.com/phrazzld/personasim/internal/config"
	"github.com/phrazzld/personasim/internal/events"
	"github.com/phrazzld/personasim/internal/generation"
	"github.com/phrazzld/personasim/internal/platform/cache"
	"github.com/phrazzld/personasim/internal/platform/llm"
	"github.com/phrazzld/personasim/internal/platform/telemetry"
	"github.com/phrazzld/personasim/internal/service"
	"github.com/phrazzld/personasim/internal/service/auth"
	"github.com/phrazzld/personasim/internal/task"
	"golang.org/x/sync/errgroup"
)

// cacheGCInterval is how often the persona detail cache compacts its value log.
const cacheGCInterval = 10 * time.Minute

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger

	backend *backend
	cache   *cache.PersonaDetailsCache
	gateway *llm.Gateway

	jwtService auth.JWTService
	submitter  *service.SubmissionService

	queue       *task.TaskQueue
	runner      *task.TaskRunner
	emitter     *events.InMemoryEventEmitter
	coordinator *service.CompletionCoordinator
	sweeper     *service.CompletionSweeper

	telemetryShutdown telemetry.ShutdownFunc
	cleanupOnce       sync.Once
}

// newApplication wires every component. Nothing runs until Run; on error
// whatever was opened is closed again.
func newApplication(ctx context.Context, cfg *config.Config, log *slog.Logger) (_ *application, err error) {
	app := &application{config: cfg, logger: log}
	defer func() {
		if err != nil {
			app.cleanup()
		}
	}()

	app.telemetryShutdown, err = telemetry.Init(cfg.Telemetry, version, os.Stdout)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	app.backend, err = openBackend(ctx, cfg.Database, cfg.Task.MaxAttempts, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	stores := app.backend.stores

	app.jwtService, err = auth.NewJWTService(cfg.Auth, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize JWT service: %w", err)
	}

	app.gateway, err = llm.New(ctx, cfg.LLM, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM gateway: %w", err)
	}
	batchGenerator, err := llm.NewBatchGenerator(cfg.LLM.BatchStrategy, app.gateway, cfg.LLM.BatchConcurrency)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize batch generator: %w", err)
	}
	log.Info("LLM gateway initialized",
		slog.String("provider", app.gateway.ProviderName()),
		slog.String("batch_strategy", cfg.LLM.BatchStrategy))

	app.cache, err = cache.Open(cfg.Cache, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open persona detail cache: %w", err)
	}

	app.runner = task.NewTaskRunner(app.backend.tasks, task.RunnerConfigFrom(cfg.Task), log)
	app.queue = task.NewTaskQueue(app.backend.tasks, cfg.Task.MaxAttempts, log)
	app.queue.OnEnqueue(app.runner.Notify)

	app.coordinator, err = service.NewCompletionCoordinator(
		stores.Sessions, stores.Results, app.backend.locker, app.gateway, cfg.Completion, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create completion coordinator: %w", err)
	}
	app.sweeper = service.NewCompletionSweeper(stores.Sessions, app.coordinator, cfg.Completion, log)

	app.emitter = events.NewInMemoryEventEmitter(log)
	app.emitter.RegisterHandler(events.TypeResultTerminal, app.coordinator)

	if err := app.registerHandlers(batchGenerator); err != nil {
		return nil, err
	}

	submission := service.DefaultSubmissionConfig()
	submission.DefaultLanguage = cfg.LLM.DefaultLanguage
	app.submitter, err = service.NewSubmissionService(app.backend.uow, stores, app.queue, submission, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create submission service: %w", err)
	}

	log.Info("application initialized",
		slog.String("version", version),
		slog.String("database_driver", cfg.Database.Driver))
	return app, nil
}

// registerHandlers binds one handler per task type to the runner.
func (app *application) registerHandlers(batchGenerator generation.BatchGenerator) error {
	stores := app.backend.stores

	personaHandler, err := task.NewPersonaGenerationHandler(stores.Personas, app.gateway, app.cache,
		task.PersonaGenerationConfig{
			MarkerLease:           app.config.Task.MarkerLease,
			DeadLetterMarksFailed: app.config.Task.DeadLetterMarksFailed,
		}, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create persona generation handler: %w", err)
	}

	feedbackHandler, err := task.NewFeedbackGenerationHandler(stores, app.gateway, app.emitter, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create feedback generation handler: %w", err)
	}
	feedbackHandler.WithReadinessWait(app.config.Task.NotReadyDelay, app.config.Task.NotReadyMaxWait)

	batchHandler, err := task.NewPersonaBatchHandler(app.backend.uow, stores.Personas, batchGenerator, app.queue, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create persona batch handler: %w", err)
	}

	app.runner.Register(task.TaskTypePersonaGeneration, personaHandler)
	app.runner.Register(task.TaskTypeFeedbackGeneration, feedbackHandler)
	app.runner.Register(task.TaskTypePersonaBatch, batchHandler)
	return nil
}

// router builds the HTTP handler for this application.
func (app *application) router() http.Handler {
	return api.NewRouter(api.RouterDeps{
		Submitter:  app.submitter,
		JWTService: app.jwtService,
		Health:     app.backend.health,
		Logger:     app.logger,
	})
}

// Run starts the workers, the completion sweeper and the HTTP server and
// blocks until ctx is cancelled or one of them fails.
func (app *application) Run(ctx context.Context) error {
	defer app.cleanup()

	if err := app.runner.Start(ctx); err != nil {
		return fmt.Errorf("failed to start task runner: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.sweeper.Run(gctx)
	})
	g.Go(func() error {
		app.cache.RunGC(gctx, cacheGCInterval)
		return nil
	})
	g.Go(func() error {
		return app.serveHTTP(gctx, app.router())
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup handles graceful shutdown of application resources. It is safe
// to call more than once.
func (app *application) cleanup() {
	app.cleanupOnce.Do(func() {
		if app.queue != nil {
			app.queue.Close()
		}
		if app.runner != nil {
			if err := app.runner.Stop(); err != nil && !errors.Is(err, context.Canceled) {
				app.logger.Error("task runner stopped with error", slog.String("error", err.Error()))
			}
		}
		if app.cache != nil {
			if err := app.cache.Close(); err != nil {
				app.logger.Error("error closing persona detail cache", slog.String("error", err.Error()))
			}
		}
		if app.backend != nil {
			if err := app.backend.close(); err != nil {
				app.logger.Error("error closing database connection", slog.String("error", err.Error()))
			}
		}
		if app.telemetryShutdown != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := app.telemetryShutdown(ctx); err != nil {
				app.logger.Error("error flushing traces", slog.String("error", err.Error()))
			}
		}
		app.logger.Info("application shutdown completed")
	})
}
