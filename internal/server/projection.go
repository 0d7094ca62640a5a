package server

import (
	"context"
	"errors"

	"github.com/lamim/optiforge/internal/store"
	"github.com/lamim/optiforge/pkg/models"
)

// Projection is the read model of an optimization with its references resolved.
// References that no longer exist are left nil.
type Projection struct {
	Optimization        *models.Optimization     `json:"optimization"`
	Phase               models.OptimizationPhase `json:"phase"`
	Evaluation          *models.Evaluation       `json:"evaluation,omitempty"`
	Trainset            *models.Dataset          `json:"trainset,omitempty"`
	Testset             *models.Dataset          `json:"testset,omitempty"`
	BaselineCommit      *models.Commit           `json:"baseline_commit,omitempty"`
	OptimizedCommit     *models.Commit           `json:"optimized_commit,omitempty"`
	BaselineExperiment  *models.Experiment       `json:"baseline_experiment,omitempty"`
	OptimizedExperiment *models.Experiment       `json:"optimized_experiment,omitempty"`
}

// Project resolves the references of opt
func Project(ctx context.Context, s *store.Store, opt *models.Optimization) (*Projection, error) {
	p := &Projection{Optimization: opt, Phase: opt.Phase()}

	var err error
	if p.Evaluation, err = optional(s.FindEvaluation(ctx, opt.WorkspaceID, opt.EvaluationUUID)); err != nil {
		return nil, err
	}
	if p.BaselineCommit, err = optional(s.FindCommit(ctx, opt.BaselineCommitID)); err != nil {
		return nil, err
	}
	if opt.TrainsetID != nil {
		if p.Trainset, err = optional(s.FindDataset(ctx, *opt.TrainsetID)); err != nil {
			return nil, err
		}
	}
	if opt.TestsetID != nil {
		if p.Testset, err = optional(s.FindDataset(ctx, *opt.TestsetID)); err != nil {
			return nil, err
		}
	}
	if opt.OptimizedCommitID != nil {
		if p.OptimizedCommit, err = optional(s.FindCommit(ctx, *opt.OptimizedCommitID)); err != nil {
			return nil, err
		}
	}
	if opt.BaselineExperimentID != nil {
		if p.BaselineExperiment, err = optional(s.FindExperiment(ctx, *opt.BaselineExperimentID)); err != nil {
			return nil, err
		}
	}
	if opt.OptimizedExperimentID != nil {
		if p.OptimizedExperiment, err = optional(s.FindExperiment(ctx, *opt.OptimizedExperimentID)); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func optional[T any](v *T, err error) (*T, error) {
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return v, err
}
