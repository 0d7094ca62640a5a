package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/lamim/optiforge/internal/api"
	"github.com/lamim/optiforge/internal/cancellation"
	"github.com/lamim/optiforge/internal/config"
	"github.com/lamim/optiforge/internal/events"
	"github.com/lamim/optiforge/internal/experiments"
	"github.com/lamim/optiforge/internal/jobs"
	"github.com/lamim/optiforge/internal/logging"
	"github.com/lamim/optiforge/internal/metrics"
	"github.com/lamim/optiforge/internal/optimization"
	"github.com/lamim/optiforge/internal/queue"
	"github.com/lamim/optiforge/internal/store"
)

// app holds the wired components shared by the commands
type app struct {
	cfg     *config.Config
	secrets *config.Secrets
	logger  *slog.Logger
	logFile *os.File
	store   *store.Store

	// set by startPipeline
	bus         *events.Bus
	queue       *queue.Queue
	dispatcher  *jobs.Dispatcher
	registry    *cancellation.Registry
	controller  *optimization.Controller
	coordinator *optimization.Coordinator
}

// newApp loads the configuration, sets up logging and opens the database
func newApp() (*app, error) {
	cfg, secrets, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	if verbose {
		level = slog.LevelDebug
	}

	logger, logFile, err := logging.Setup(os.Stdout, cfg.Logging.File, level)
	if err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}

	s, err := store.Open(cfg.Database, logger)
	if err != nil {
		closeLogFile(logFile)
		return nil, err
	}

	return &app{
		cfg:     cfg,
		secrets: secrets,
		logger:  logger,
		logFile: logFile,
		store:   s,
	}, nil
}

// startPipeline wires the bus, queue, controller and workers, then starts the queue
func (a *app) startPipeline(ctx context.Context) {
	collector := metrics.NewCollector(a.logger)

	a.bus = events.NewBus(a.logger)
	a.bus.SubscribeAll(func(e events.Event) {
		a.logger.Info("Event published", "topic", e.Topic(), "event", e)
	})

	a.queue = queue.New(a.cfg.Queue.Concurrency, a.logger, collector)
	a.dispatcher = jobs.NewDispatcher(a.queue, a.logger)
	a.registry = cancellation.NewRegistry(a.bus, a.logger)

	experimentSvc := experiments.NewService(a.store, a.bus, a.logger)
	curator := optimization.NewCurator(a.store, a.cfg.Curation, a.logger, collector)

	a.controller = optimization.NewController(a.store, a.bus, a.dispatcher, curator, experimentSvc, a.logger, collector)
	a.controller.RegisterEngine(api.EngineName, api.NewClient(a.cfg.Engine, a.secrets.EngineAPIKey, a.logger, collector))

	a.coordinator = optimization.NewCoordinator(a.store, a.controller, a.dispatcher, a.bus,
		experimentSvc, a.cfg.Queue.CancelWaitTimeout(), a.logger, collector)

	optimization.NewWorker(a.controller, a.store, a.registry, a.logger).Register(a.dispatcher)
	a.queue.Start(ctx)
}

// Close stops the queue, then releases the database and log file
func (a *app) Close() {
	if a.queue != nil {
		a.queue.Close()
	}
	if a.registry != nil {
		a.registry.Close()
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("Failed to close database", "error", err)
	}
	closeLogFile(a.logFile)
}

func closeLogFile(f *os.File) {
	if f != nil {
		_ = f.Sync()
		_ = f.Close()
	}
}
