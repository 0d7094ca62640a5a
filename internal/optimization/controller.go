// Package optimization drives an optimization through prepare, execute,
// validate and end. Controller is the only writer of the optimization row:
// each transition re-reads the row under a lock, applies one update, commits,
// and only then publishes its event.
package optimization

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lamim/optiforge/internal/api"
	"github.com/lamim/optiforge/internal/cancellation"
	"github.com/lamim/optiforge/internal/events"
	"github.com/lamim/optiforge/internal/experiments"
	"github.com/lamim/optiforge/internal/jobs"
	"github.com/lamim/optiforge/internal/metrics"
	"github.com/lamim/optiforge/internal/store"
	"github.com/lamim/optiforge/pkg/models"
)

// Engine rewrites a prompt from labelled examples
type Engine interface {
	Optimize(ctx context.Context, req api.OptimizeRequest) (string, error)
}

// DatasetPair is the curated trainset and testset of an optimization
type DatasetPair struct {
	Trainset *models.Dataset
	Testset  *models.Dataset
}

// Controller owns every phase transition
type Controller struct {
	store       *store.Store
	bus         *events.Bus
	dispatcher  *jobs.Dispatcher
	curator     *Curator
	experiments *experiments.Service
	engines     map[string]Engine
	logger      *slog.Logger
	metrics     *metrics.Collector
}

// NewController wires a controller
func NewController(
	s *store.Store,
	bus *events.Bus,
	dispatcher *jobs.Dispatcher,
	curator *Curator,
	experimentService *experiments.Service,
	logger *slog.Logger,
	collector *metrics.Collector,
) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		store:       s,
		bus:         bus,
		dispatcher:  dispatcher,
		curator:     curator,
		experiments: experimentService,
		engines:     make(map[string]Engine),
		logger:      logger,
		metrics:     collector,
	}
}

// RegisterEngine makes an engine selectable by name
func (c *Controller) RegisterEngine(name string, engine Engine) {
	c.engines[name] = engine
}

// Prepare curates the dataset pair, sets preparedAt and enqueues execute.
// An optimization that already has its pair gets it back unchanged.
func (c *Controller) Prepare(ctx context.Context, opt *models.Optimization) (*DatasetPair, error) {
	logger := c.logger.With("optimization_id", opt.ID)

	fresh, err := c.store.FindOptimization(ctx, opt.ID)
	if err != nil {
		return nil, err
	}
	if fresh.HasDatasets() {
		return c.datasetPair(ctx, fresh)
	}
	if fresh.Ended() {
		return nil, ErrAlreadyEnded
	}

	curation, err := c.curator.Curate(ctx, fresh)
	if err != nil {
		return nil, err
	}
	if err := cancellation.Checkpoint(ctx); err != nil {
		return nil, err
	}

	pair := &DatasetPair{
		Trainset: &models.Dataset{
			UUID:        uuid.NewString(),
			WorkspaceID: fresh.WorkspaceID,
			Name:        fmt.Sprintf("Trainset #%s", fresh.ShortUUID()),
			Columns:     curation.Columns,
		},
		Testset: &models.Dataset{
			UUID:        uuid.NewString(),
			WorkspaceID: fresh.WorkspaceID,
			Name:        fmt.Sprintf("Testset #%s", fresh.ShortUUID()),
			Columns:     curation.Columns,
		},
	}

	var prepared *models.Optimization
	err = c.store.Transaction(ctx, func(tx *store.Store) error {
		locked, err := tx.LockOptimization(ctx, opt.ID)
		if err != nil {
			return err
		}
		if locked.HasDatasets() {
			return ErrAlreadyPrepared
		}
		if locked.Ended() {
			return ErrAlreadyEnded
		}

		if err := tx.CreateDataset(ctx, pair.Trainset, curation.Trainset); err != nil {
			return err
		}
		if err := tx.CreateDataset(ctx, pair.Testset, curation.Testset); err != nil {
			return err
		}

		prepared, err = tx.UpdateOptimization(ctx, locked.ID, map[string]any{
			"trainset_id": pair.Trainset.ID,
			"testset_id":  pair.Testset.ID,
			"prepared_at": time.Now(),
		})
		return err
	})
	if errors.Is(err, ErrAlreadyPrepared) {
		logger.Info("Optimization was prepared concurrently, keeping existing datasets")
		current, err := c.store.FindOptimization(ctx, opt.ID)
		if err != nil {
			return nil, err
		}
		return c.datasetPair(ctx, current)
	}
	if err != nil {
		return nil, err
	}

	c.metrics.IncrementTransition("prepared")
	c.bus.Publish(events.NewOptimizationPrepared(prepared.WorkspaceID, prepared.ID))
	logger.Info("Optimization prepared",
		"trainset_id", pair.Trainset.ID,
		"testset_id", pair.Testset.ID)

	if _, err := c.dispatcher.Enqueue(jobs.PhaseExecute, prepared.WorkspaceID, prepared.ID); err != nil {
		return nil, err
	}
	return pair, nil
}

func (c *Controller) datasetPair(ctx context.Context, opt *models.Optimization) (*DatasetPair, error) {
	trainset, err := c.store.FindDataset(ctx, *opt.TrainsetID)
	if err != nil {
		return nil, err
	}
	testset, err := c.store.FindDataset(ctx, *opt.TestsetID)
	if err != nil {
		return nil, err
	}
	return &DatasetPair{Trainset: trainset, Testset: testset}, nil
}

func checkExecutable(opt *models.Optimization) error {
	switch {
	case opt.Ended():
		return ErrAlreadyEnded
	case opt.PreparedAt == nil:
		return ErrNotPrepared
	case opt.ExecutedAt != nil:
		return ErrAlreadyExecuted
	}
	return nil
}

// Execute runs the selected engine on the trainset, stores the optimized
// prompt as a new commit, sets executedAt and enqueues validate.
// executedAt is only written once the engine call succeeded.
func (c *Controller) Execute(ctx context.Context, opt *models.Optimization) (*models.Optimization, error) {
	logger := c.logger.With("optimization_id", opt.ID)

	fresh, err := c.store.FindOptimization(ctx, opt.ID)
	if err != nil {
		return nil, err
	}
	if err := checkExecutable(fresh); err != nil {
		return nil, err
	}

	engine, ok := c.engines[fresh.Engine]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEngine, fresh.Engine)
	}

	baseline, err := c.store.FindDocument(ctx, fresh.BaselineCommitID, fresh.DocumentUUID)
	if err != nil {
		return nil, err
	}

	rows, err := c.store.DatasetRows(ctx, *fresh.TrainsetID)
	if err != nil {
		return nil, err
	}
	examples := make([]api.Example, 0, len(rows))
	for _, row := range rows {
		examples = append(examples, api.Example{Polarity: row.Polarity, Values: row.Values})
	}

	if err := cancellation.Checkpoint(ctx); err != nil {
		return nil, err
	}
	logger.Info("Running optimization engine", "engine", fresh.Engine, "examples", len(examples))
	optimizedPrompt, err := engine.Optimize(ctx, api.OptimizeRequest{
		Prompt:   fresh.BaselinePrompt,
		Scope:    fresh.Configuration.Scope.OrDefault(),
		Examples: examples,
	})
	if err != nil {
		if abortErr := cancellation.Checkpoint(ctx); abortErr != nil {
			return nil, abortErr
		}
		return nil, fmt.Errorf("engine %s failed: %w", fresh.Engine, err)
	}
	if err := cancellation.Checkpoint(ctx); err != nil {
		return nil, err
	}

	var executed *models.Optimization
	err = c.store.Transaction(ctx, func(tx *store.Store) error {
		locked, err := tx.LockOptimization(ctx, opt.ID)
		if err != nil {
			return err
		}
		if err := checkExecutable(locked); err != nil {
			return err
		}

		commit := &models.Commit{
			UUID:      uuid.NewString(),
			ProjectID: locked.ProjectID,
			Title:     fmt.Sprintf("Optimization #%s", locked.ShortUUID()),
		}
		if err := tx.Create(ctx, commit); err != nil {
			return err
		}
		if err := tx.Create(ctx, &models.Document{
			CommitID:     commit.ID,
			DocumentUUID: locked.DocumentUUID,
			Path:         baseline.Path,
			Content:      optimizedPrompt,
		}); err != nil {
			return err
		}

		executed, err = tx.UpdateOptimization(ctx, locked.ID, map[string]any{
			"optimized_commit_id": commit.ID,
			"optimized_prompt":    optimizedPrompt,
			"executed_at":         time.Now(),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	c.metrics.IncrementTransition("executed")
	c.bus.Publish(events.NewOptimizationExecuted(executed.WorkspaceID, executed.ID))
	logger.Info("Optimization executed", "optimized_commit_id", *executed.OptimizedCommitID)

	if _, err := c.dispatcher.Enqueue(jobs.PhaseValidate, executed.WorkspaceID, executed.ID); err != nil {
		return nil, err
	}
	return executed, nil
}

// ValidateEnd sets validatedAt, publishes optimizationValidated and ends the
// optimization successfully
func (c *Controller) ValidateEnd(ctx context.Context, opt *models.Optimization) (*models.Optimization, error) {
	var validated *models.Optimization
	err := c.store.Transaction(ctx, func(tx *store.Store) error {
		locked, err := tx.LockOptimization(ctx, opt.ID)
		if err != nil {
			return err
		}
		switch {
		case locked.Ended():
			return ErrAlreadyEnded
		case locked.ValidatedAt != nil:
			return ErrAlreadyValidated
		case locked.ExecutedAt == nil:
			return ErrNotExecuted
		}

		validated, err = tx.UpdateOptimization(ctx, locked.ID, map[string]any{
			"validated_at": time.Now(),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	c.metrics.IncrementTransition("validated")
	c.bus.Publish(events.NewOptimizationValidated(validated.WorkspaceID, validated.ID))
	c.logger.Info("Optimization validated", "optimization_id", validated.ID)

	return c.End(ctx, validated.ID, nil)
}

// End sets finishedAt, and error when errMsg is given. It succeeds at most once.
func (c *Controller) End(ctx context.Context, id uint, errMsg *string) (*models.Optimization, error) {
	var ended *models.Optimization
	err := c.store.Transaction(ctx, func(tx *store.Store) error {
		locked, err := tx.LockOptimization(ctx, id)
		if err != nil {
			return err
		}
		if locked.Ended() {
			return ErrAlreadyEnded
		}

		updates := map[string]any{"finished_at": time.Now()}
		if errMsg != nil {
			updates["error"] = *errMsg
		}
		ended, err = tx.UpdateOptimization(ctx, locked.ID, updates)
		return err
	})
	if err != nil {
		return nil, err
	}

	outcome := "completed"
	switch {
	case errMsg != nil && *errMsg == CancelledByUser:
		outcome = "cancelled"
	case errMsg != nil:
		outcome = "failed"
	}
	c.metrics.IncrementTransition("ended")
	c.metrics.IncrementEnded(outcome)
	c.bus.Publish(events.NewOptimizationEnded(ended.WorkspaceID, ended.ID))
	c.logger.Info("Optimization ended", "optimization_id", ended.ID, "outcome", outcome)
	return ended, nil
}
