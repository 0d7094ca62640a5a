// Package checkpoint recovers optimizations interrupted by a restart.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lamim/optiforge/internal/jobs"
	"github.com/lamim/optiforge/internal/optimization"
	"github.com/lamim/optiforge/internal/queue"
	"github.com/lamim/optiforge/pkg/models"
)

// Finder lists the optimizations that still need work
type Finder interface {
	ListUnfinishedOptimizations(ctx context.Context) ([]models.Optimization, error)
}

// Enqueuer schedules phase jobs
type Enqueuer interface {
	Enqueue(phase jobs.Phase, workspaceID, optimizationID uint) (queue.Job, error)
}

// Ender ends an optimization
type Ender interface {
	End(ctx context.Context, id uint, errMsg *string) (*models.Optimization, error)
}

// Summary reports what a resume sweep did
type Summary struct {
	Enqueued int
	Ended    int
	Failed   int
}

// Resume re-enqueues the current phase job of every unfinished optimization.
// Job keys deduplicate, so running it twice schedules nothing new.
// Optimizations that were validated but never ended are ended directly.
func Resume(ctx context.Context, finder Finder, enqueuer Enqueuer, ender Ender, logger *slog.Logger) (Summary, error) {
	var summary Summary

	opts, err := finder.ListUnfinishedOptimizations(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to load unfinished optimizations: %w", err)
	}

	for i := range opts {
		opt := &opts[i]
		logger := logger.With("optimization_id", opt.ID, "phase", opt.Phase())

		phase, ok := jobs.CurrentPhase(opt)
		if !ok {
			_, err := ender.End(ctx, opt.ID, nil)
			if err != nil && !errors.Is(err, optimization.ErrAlreadyEnded) {
				logger.Error("Failed to end validated optimization", "error", err)
				summary.Failed++
				continue
			}
			summary.Ended++
			continue
		}

		if _, err := enqueuer.Enqueue(phase, opt.WorkspaceID, opt.ID); err != nil {
			logger.Error("Failed to resume optimization", "error", err)
			summary.Failed++
			continue
		}
		summary.Enqueued++
	}

	logger.Info("Resume sweep finished",
		"unfinished", len(opts),
		"enqueued", summary.Enqueued,
		"ended", summary.Ended,
		"failed", summary.Failed)

	return summary, nil
}
