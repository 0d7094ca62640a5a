// Package experiments creates, starts and stops the experiments that compare
// a baseline prompt with its optimized version. Running them is left to the
// external runner listening for experimentStarted.
package experiments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lamim/optiforge/internal/events"
	"github.com/lamim/optiforge/internal/store"
	"github.com/lamim/optiforge/pkg/models"
)

// StoppedError is recorded on experiments stopped before they finished
const StoppedError = "cancelled"

var (
	// ErrAlreadyStarted is returned when starting an experiment twice
	ErrAlreadyStarted = errors.New("experiment already started")
	// ErrAlreadyFinished is returned when stopping a finished experiment
	ErrAlreadyFinished = errors.New("experiment already finished")
)

// Spec describes one experiment to create
type Spec struct {
	WorkspaceID    uint
	Name           string
	CommitID       uint
	DocumentUUID   string
	EvaluationUUID string
	Prompt         string
	DatasetID      uint
	ParametersMap  map[string]int
	FromRow        int
	ToRow          int
	Simulation     *models.SimulationSettings
}

// Service owns experiment rows
type Service struct {
	store  *store.Store
	bus    *events.Bus
	logger *slog.Logger
}

// NewService creates an experiment service
func NewService(s *store.Store, bus *events.Bus, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: s, bus: bus, logger: logger}
}

// Create inserts an experiment. Pass a transaction store to group creations.
func (s *Service) Create(ctx context.Context, tx *store.Store, spec Spec) (*models.Experiment, error) {
	if tx == nil {
		tx = s.store
	}
	exp := &models.Experiment{
		UUID:           uuid.NewString(),
		WorkspaceID:    spec.WorkspaceID,
		Name:           spec.Name,
		CommitID:       spec.CommitID,
		DocumentUUID:   spec.DocumentUUID,
		EvaluationUUID: spec.EvaluationUUID,
		Prompt:         spec.Prompt,
		DatasetID:      spec.DatasetID,
		ParametersMap:  spec.ParametersMap,
		FromRow:        spec.FromRow,
		ToRow:          spec.ToRow,
		Simulation:     spec.Simulation,
	}
	if err := tx.Create(ctx, exp); err != nil {
		return nil, fmt.Errorf("failed to create experiment %s: %w", spec.Name, err)
	}
	return exp, nil
}

// Start marks the experiment started and hands it to the runner
func (s *Service) Start(ctx context.Context, id uint) (*models.Experiment, error) {
	if _, err := s.store.FindExperiment(ctx, id); err != nil {
		return nil, err
	}

	// conditional update: only one concurrent caller wins
	won, err := s.store.MarkExperimentStarted(ctx, id, time.Now())
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, fmt.Errorf("experiment %d: %w", id, ErrAlreadyStarted)
	}

	exp, err := s.store.FindExperiment(ctx, id)
	if err != nil {
		return nil, err
	}

	s.bus.Publish(events.NewExperimentStarted(exp.WorkspaceID, exp.ID))
	s.logger.Info("Experiment started", "experiment_id", exp.ID, "name", exp.Name)
	return exp, nil
}

// Stop finishes a pending or running experiment with the stopped error
func (s *Service) Stop(ctx context.Context, id uint) (*models.Experiment, error) {
	exp, err := s.store.FindExperiment(ctx, id)
	if err != nil {
		return nil, err
	}
	if exp.FinishedAt != nil {
		return nil, fmt.Errorf("experiment %d: %w", id, ErrAlreadyFinished)
	}

	exp, err = s.store.UpdateExperiment(ctx, id, map[string]any{
		"finished_at": time.Now(),
		"error":       StoppedError,
	})
	if err != nil {
		return nil, err
	}

	s.bus.Publish(events.NewExperimentStopped(exp.WorkspaceID, exp.ID))
	s.logger.Info("Experiment stopped", "experiment_id", exp.ID, "name", exp.Name)
	return exp, nil
}
