package optimization

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/lamim/optiforge/internal/cancellation"
	"github.com/lamim/optiforge/internal/jobs"
	"github.com/lamim/optiforge/internal/store"
	"github.com/lamim/optiforge/pkg/models"
)

// Worker runs the optimization jobs taken from the queue
type Worker struct {
	controller *Controller
	store      *store.Store
	registry   *cancellation.Registry
	logger     *slog.Logger
}

// NewWorker creates a worker
func NewWorker(controller *Controller, s *store.Store, registry *cancellation.Registry, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{controller: controller, store: s, registry: registry, logger: logger}
}

// Register binds the three phase handlers on the dispatcher
func (w *Worker) Register(d *jobs.Dispatcher) {
	d.Handle(jobs.PhasePrepare, func(ctx context.Context, jobID string, p jobs.Payload) error {
		return w.run(ctx, jobID, p, func(ctx context.Context, opt *models.Optimization) error {
			_, err := w.controller.Prepare(ctx, opt)
			return err
		})
	})
	d.Handle(jobs.PhaseExecute, func(ctx context.Context, jobID string, p jobs.Payload) error {
		return w.run(ctx, jobID, p, func(ctx context.Context, opt *models.Optimization) error {
			_, err := w.controller.Execute(ctx, opt)
			return err
		})
	})
	d.Handle(jobs.PhaseValidate, func(ctx context.Context, jobID string, p jobs.Payload) error {
		return w.run(ctx, jobID, p, func(ctx context.Context, opt *models.Optimization) error {
			started, err := w.controller.ValidateStart(ctx, opt)
			if err != nil {
				return err
			}
			if err := cancellation.Checkpoint(ctx); err != nil {
				return err
			}
			_, err = w.controller.ValidateEnd(ctx, started)
			return err
		})
	})
}

// run re-fetches the optimization, registers the abort token for the job and
// ends the optimization with the failure unless the job was aborted
func (w *Worker) run(
	ctx context.Context,
	jobID string,
	payload jobs.Payload,
	fn func(ctx context.Context, opt *models.Optimization) error,
) error {
	logger := w.logger.With("job_id", jobID, "optimization_id", payload.OptimizationID)

	ctx, release := w.registry.Register(ctx, jobID)
	defer release()

	opt, err := w.store.FindOptimization(ctx, payload.OptimizationID)
	if err != nil {
		logger.Error("Failed to load optimization", "error", err)
		return err
	}

	start := time.Now()
	err = cancellation.Checkpoint(ctx)
	if err == nil {
		err = fn(ctx, opt)
	}

	switch {
	case err == nil:
		logger.Debug("Job finished", "duration", time.Since(start))
		return nil
	case cancellation.IsAborted(err):
		// the coordinator that aborted us ends the optimization
		logger.Info("Job aborted", "duration", time.Since(start))
		return err
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		// shutdown; resume picks the optimization up again
		logger.Warn("Job interrupted", "duration", time.Since(start))
		return err
	case errors.Is(err, ErrAlreadyEnded):
		logger.Info("Optimization ended while the job was running")
		return nil
	}

	logger.Error("Job failed", "error", err, "duration", time.Since(start))

	message := err.Error()
	_, endErr := w.controller.End(context.WithoutCancel(ctx), opt.ID, &message)
	if errors.Is(endErr, ErrAlreadyEnded) {
		endErr = nil
	}
	bestEffort(logger, "end failed optimization", endErr)
	return err
}
