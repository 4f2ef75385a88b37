// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/geekcrawl/crawld/internal/api"
	"github.com/geekcrawl/crawld/internal/clock/system"
	"github.com/geekcrawl/crawld/internal/config"
	"github.com/geekcrawl/crawld/internal/crawl"
	"github.com/geekcrawl/crawld/internal/events"
	"github.com/geekcrawl/crawld/internal/logging"
	"github.com/geekcrawl/crawld/internal/metrics"
	"github.com/geekcrawl/crawld/internal/scheduler"
	"github.com/geekcrawl/crawld/internal/store"
)

// App holds all the shared, long-lived services for the application.
// It is initialized once at startup and owns the lifecycle of the
// repository, event bus, scheduler, and HTTP server.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	repo   *store.Repository
	bus    *events.Bus
	sched  *scheduler.Scheduler
	server *api.Server

	httpServer *http.Server
}

// GetLogger returns the shared zap logger instance.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// GetRepository exposes the task repository.
func (a *App) GetRepository() *store.Repository {
	return a.repo
}

// GetBus returns the event bus used for task notifications.
func (a *App) GetBus() *events.Bus {
	return a.bus
}

// GetScheduler returns the task scheduler.
func (a *App) GetScheduler() *scheduler.Scheduler {
	return a.sched
}

// NewApp creates and initializes a new App struct based on the given
// configuration. It is the central point for service initialization and
// fails fast if any critical service cannot be brought up.
func NewApp(cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	logger.Info("Initializing application services...")

	metrics.Init()

	tasksPath := filepath.Join(cfg.Storage.DataDir, cfg.Storage.TasksFile)
	repo, err := store.Open(tasksPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open task repository: %w", err)
	}
	logger.Info("Task repository opened", zap.String("path", tasksPath))

	bus := events.NewBus(cfg.Events.InboxSize, logger)

	client, err := buildCrawlClient(cfg, logger)
	if err != nil {
		return nil, err
	}

	sched := scheduler.New(
		scheduler.Config{
			Concurrency:      cfg.Scheduler.Concurrency,
			AutoDeleteDelay:  cfg.Scheduler.AutoDeleteDelay(),
			DefaultOutputDir: cfg.Defaults.OutputDir,
		},
		repo,
		bus,
		system.Clock{},
		crawl.NewRunner(client, logger),
		logger,
	)

	server := api.NewServer(repo, sched, bus, cfg, logger)

	logger.Info("Application services initialized successfully.")

	return &App{
		cfg:    cfg,
		logger: logger,
		repo:   repo,
		bus:    bus,
		sched:  sched,
		server: server,
	}, nil
}

// buildCrawlClient selects the crawl client implementation from config.
func buildCrawlClient(cfg config.Config, logger *zap.Logger) (crawl.Client, error) {
	switch cfg.Crawl.Client {
	case "simulate":
		logger.Info("Using simulated crawl client",
			zap.Int("chapters", cfg.Crawl.SimChapters),
			zap.Int("lessons_per_chapter", cfg.Crawl.SimLessons))
		return &crawl.SimClient{
			Chapters:          cfg.Crawl.SimChapters,
			LessonsPerChapter: cfg.Crawl.SimLessons,
			LessonDelay:       cfg.Crawl.SimLessonDelay(),
		}, nil
	default:
		return nil, fmt.Errorf("unknown crawl client: %s", cfg.Crawl.Client)
	}
}

// Run starts the scheduler and the HTTP server, then blocks until the
// context is cancelled or the server fails. On cancellation it drains
// in-flight work within the configured shutdown timeout.
func (a *App) Run(ctx context.Context) error {
	a.sched.Start(ctx)

	addr := fmt.Sprintf(":%d", a.cfg.Server.Port)
	a.httpServer = &http.Server{
		Addr:              addr,
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server listening", zap.String("addr", addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("Shutdown signal received, draining...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout())
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("HTTP server shutdown incomplete", zap.Error(err))
	}
	if err := a.sched.Stop(shutdownCtx); err != nil {
		a.logger.Warn("Scheduler drain incomplete", zap.Error(err))
	}
	return nil
}

// Close gracefully shuts down all services in the App container.
func (a *App) Close() {
	a.logger.Info("Shutting down application services...")
	a.bus.CloseAll()

	// Flushing the logger buffer is a best-effort attempt; stderr sync
	// failures on some platforms are expected and harmless.
	_ = a.logger.Sync()
}
