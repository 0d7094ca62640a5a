package optimization

import (
	"context"
	"fmt"
	"slices"

	"github.com/lamim/optiforge/internal/cancellation"
	"github.com/lamim/optiforge/internal/experiments"
	"github.com/lamim/optiforge/internal/store"
	"github.com/lamim/optiforge/internal/util"
	"github.com/lamim/optiforge/pkg/models"
)

func checkValidatable(opt *models.Optimization) error {
	switch {
	case opt.Ended():
		return ErrAlreadyEnded
	case opt.ValidatedAt != nil:
		return ErrAlreadyValidated
	case opt.TestsetID == nil:
		return ErrMissingTestset
	case opt.OptimizedCommitID == nil:
		return ErrMissingOptimizedCommit
	case opt.OptimizedPrompt == nil:
		return ErrMissingOptimizedPrompt
	}
	return nil
}

// ValidateStart creates the baseline and optimized experiments over the whole
// testset, persists both ids in one transaction and starts each after commit.
// If the experiments already exist, only the ones not yet started are started.
func (c *Controller) ValidateStart(ctx context.Context, opt *models.Optimization) (*models.Optimization, error) {
	logger := c.logger.With("optimization_id", opt.ID)

	fresh, err := c.store.FindOptimization(ctx, opt.ID)
	if err != nil {
		return nil, err
	}
	if err := checkValidatable(fresh); err != nil {
		return nil, err
	}

	if fresh.BaselineExperimentID == nil {
		specs, err := c.experimentSpecs(ctx, fresh)
		if err != nil {
			return nil, err
		}
		if err := cancellation.Checkpoint(ctx); err != nil {
			return nil, err
		}

		err = c.store.Transaction(ctx, func(tx *store.Store) error {
			locked, err := tx.LockOptimization(ctx, opt.ID)
			if err != nil {
				return err
			}
			if err := checkValidatable(locked); err != nil {
				return err
			}
			if locked.BaselineExperimentID != nil {
				fresh = locked
				return nil
			}

			baseline, err := c.experiments.Create(ctx, tx, specs[0])
			if err != nil {
				return err
			}
			optimized, err := c.experiments.Create(ctx, tx, specs[1])
			if err != nil {
				return err
			}

			fresh, err = tx.UpdateOptimization(ctx, locked.ID, map[string]any{
				"baseline_experiment_id":  baseline.ID,
				"optimized_experiment_id": optimized.ID,
			})
			return err
		})
		if err != nil {
			return nil, err
		}
		logger.Info("Validation experiments created",
			"baseline_experiment_id", *fresh.BaselineExperimentID,
			"optimized_experiment_id", *fresh.OptimizedExperimentID)
	}

	for _, id := range []uint{*fresh.BaselineExperimentID, *fresh.OptimizedExperimentID} {
		if err := cancellation.Checkpoint(ctx); err != nil {
			return nil, err
		}
		exp, err := c.store.FindExperiment(ctx, id)
		if err != nil {
			return nil, err
		}
		if exp.StartedAt != nil {
			continue
		}
		if _, err := c.experiments.Start(ctx, id); err != nil {
			return nil, err
		}
	}

	return fresh, nil
}

// experimentSpecs resolves the baseline and optimized versions, the evaluation
// and the parameter to testset column mapping
func (c *Controller) experimentSpecs(ctx context.Context, opt *models.Optimization) ([2]experiments.Spec, error) {
	var specs [2]experiments.Spec

	testset, err := c.store.FindDataset(ctx, *opt.TestsetID)
	if err != nil {
		return specs, err
	}
	baselineDoc, err := c.store.FindDocument(ctx, opt.BaselineCommitID, opt.DocumentUUID)
	if err != nil {
		return specs, fmt.Errorf("failed to resolve baseline version: %w", err)
	}
	optimizedDoc, err := c.store.FindDocument(ctx, *opt.OptimizedCommitID, opt.DocumentUUID)
	if err != nil {
		return specs, fmt.Errorf("failed to resolve optimized version: %w", err)
	}
	evaluation, err := c.store.FindEvaluation(ctx, opt.WorkspaceID, opt.EvaluationUUID)
	if err != nil {
		return specs, err
	}

	parameters := parameterColumns(util.ExtractParameters(opt.BaselinePrompt), testset.Columns, opt.Configuration)

	base := experiments.Spec{
		WorkspaceID:    opt.WorkspaceID,
		DocumentUUID:   opt.DocumentUUID,
		EvaluationUUID: evaluation.UUID,
		DatasetID:      testset.ID,
		ParametersMap:  parameters,
		FromRow:        0,
		ToRow:          testset.RowCount,
		Simulation:     opt.Configuration.Simulation,
	}

	specs[0] = base
	specs[0].Name = fmt.Sprintf("Baseline #%s", opt.ShortUUID())
	specs[0].CommitID = opt.BaselineCommitID
	specs[0].Prompt = baselineDoc.Content

	specs[1] = base
	specs[1].Name = fmt.Sprintf("Optimized #%s", opt.ShortUUID())
	specs[1].CommitID = *opt.OptimizedCommitID
	specs[1].Prompt = optimizedDoc.Content

	return specs, nil
}

// parameterColumns maps each prompt parameter to a column index, preferring the
// configured column override. Parameters with no matching column are left out.
func parameterColumns(parameters, columns []string, cfg models.OptimizationConfiguration) map[string]int {
	mapping := make(map[string]int, len(parameters))
	for _, name := range parameters {
		column := name
		if override, ok := cfg.Parameters[name]; ok && override.Column != "" {
			column = override.Column
		}
		if index := slices.Index(columns, column); index >= 0 {
			mapping[name] = index
		}
	}
	return mapping
}
