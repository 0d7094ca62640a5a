package store

import (
	"context"
	"fmt"
	"time"

	"github.com/lamim/optiforge/pkg/models"
)

// FindExperiment loads an experiment by id
func (s *Store) FindExperiment(ctx context.Context, id uint) (*models.Experiment, error) {
	var exp models.Experiment
	if err := s.db.WithContext(ctx).First(&exp, id).Error; err != nil {
		return nil, notFound(err, fmt.Sprintf("experiment %d", id))
	}
	return &exp, nil
}

// UpdateExperiment applies column updates and returns the refreshed row
func (s *Store) UpdateExperiment(ctx context.Context, id uint, updates map[string]any) (*models.Experiment, error) {
	result := s.db.WithContext(ctx).
		Model(&models.Experiment{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to update experiment %d: %w", id, result.Error)
	}
	return s.FindExperiment(ctx, id)
}

// MarkExperimentStarted sets started_at unless it is already set and reports
// whether this call was the one that set it
func (s *Store) MarkExperimentStarted(ctx context.Context, id uint, at time.Time) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&models.Experiment{}).
		Where("id = ? AND started_at IS NULL", id).
		Update("started_at", at)
	if result.Error != nil {
		return false, fmt.Errorf("failed to start experiment %d: %w", id, result.Error)
	}
	return result.RowsAffected == 1, nil
}
