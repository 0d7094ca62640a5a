package optimization

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/lamim/optiforge/internal/events"
	"github.com/lamim/optiforge/internal/experiments"
	"github.com/lamim/optiforge/internal/jobs"
	"github.com/lamim/optiforge/internal/metrics"
	"github.com/lamim/optiforge/internal/queue"
	"github.com/lamim/optiforge/internal/store"
	"github.com/lamim/optiforge/pkg/models"
)

// Coordinator cancels optimizations in any non-terminal phase
type Coordinator struct {
	store       *store.Store
	controller  *Controller
	dispatcher  *jobs.Dispatcher
	bus         *events.Bus
	experiments *experiments.Service
	waitTimeout time.Duration
	logger      *slog.Logger
	metrics     *metrics.Collector
}

// NewCoordinator wires a coordinator; waitTimeout bounds the wait for a signalled job
func NewCoordinator(
	s *store.Store,
	controller *Controller,
	dispatcher *jobs.Dispatcher,
	bus *events.Bus,
	experimentService *experiments.Service,
	waitTimeout time.Duration,
	logger *slog.Logger,
	collector *metrics.Collector,
) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:       s,
		controller:  controller,
		dispatcher:  dispatcher,
		bus:         bus,
		experiments: experimentService,
		waitTimeout: waitTimeout,
		logger:      logger,
		metrics:     collector,
	}
}

// Cancel stops the in-flight job of the optimization, stops its experiments
// when validation was underway and ends it with CancelledByUser
func (c *Coordinator) Cancel(ctx context.Context, optimizationUUID string) (*models.Optimization, error) {
	opt, err := c.store.FindOptimizationByUUID(ctx, optimizationUUID)
	if err != nil {
		return nil, err
	}
	if opt.Ended() {
		return nil, ErrAlreadyEnded
	}
	logger := c.logger.With("optimization_id", opt.ID)

	// once the job is signalled it leaves ending to us, so the caller going
	// away must not stop the record from reaching its terminal state
	ctx = context.WithoutCancel(ctx)

	if key, ok := jobs.CurrentKey(opt); ok {
		c.stopJob(ctx, logger, key)
	}

	current, err := c.store.FindOptimization(ctx, opt.ID)
	if err != nil {
		return nil, err
	}
	if current.ExecutedAt != nil && current.ValidatedAt == nil {
		c.stopExperiments(ctx, logger, current)
	}

	reason := CancelledByUser
	ended, err := c.controller.End(ctx, opt.ID, &reason)
	if err != nil {
		return nil, err
	}
	logger.Info("Optimization cancelled")
	return ended, nil
}

// stopJob signals the job under key, waits a bounded time for it to stop and
// removes it from the queue
func (c *Coordinator) stopJob(ctx context.Context, logger *slog.Logger, key string) {
	job, found := c.dispatcher.Lookup(key)
	if !found {
		return
	}
	jobLogger := logger.With("job_id", key)

	if !job.State.Terminal() {
		jobLogger.Info("Cancelling job", "state", job.State)
		c.bus.Publish(events.NewCancelJob(key))

		if job.State == queue.StateWaiting && c.dispatcher.Remove(key) == nil {
			return
		}

		_, err := c.dispatcher.WaitUntilFinished(ctx, key, c.waitTimeout)
		if errors.Is(err, queue.ErrWaitTimeout) {
			c.metrics.IncrementCancelWaitTimeout()
		}
		bestEffort(jobLogger, "wait for cancelled job", err)
	}

	if err := c.dispatcher.Remove(key); !errors.Is(err, queue.ErrJobNotFound) {
		bestEffort(jobLogger, "remove job", err)
	}
}

func (c *Coordinator) stopExperiments(ctx context.Context, logger *slog.Logger, opt *models.Optimization) {
	for _, id := range []*uint{opt.BaselineExperimentID, opt.OptimizedExperimentID} {
		if id == nil {
			continue
		}
		exp, err := c.store.FindExperiment(ctx, *id)
		if err != nil {
			bestEffort(logger, "load experiment", err)
			continue
		}
		if exp.StartedAt == nil || exp.FinishedAt != nil {
			continue
		}
		_, err = c.experiments.Stop(ctx, exp.ID)
		bestEffort(logger.With("experiment_id", exp.ID), "stop experiment", err)
	}
}
