package store

import (
	"context"
	"fmt"

	"github.com/lamim/optiforge/pkg/models"
	"gorm.io/gorm/clause"
)

// FindOptimization loads an optimization by id
func (s *Store) FindOptimization(ctx context.Context, id uint) (*models.Optimization, error) {
	var opt models.Optimization
	if err := s.db.WithContext(ctx).First(&opt, id).Error; err != nil {
		return nil, notFound(err, fmt.Sprintf("optimization %d", id))
	}
	return &opt, nil
}

// FindOptimizationByUUID loads an optimization by uuid
func (s *Store) FindOptimizationByUUID(ctx context.Context, uuid string) (*models.Optimization, error) {
	var opt models.Optimization
	if err := s.db.WithContext(ctx).Where("uuid = ?", uuid).First(&opt).Error; err != nil {
		return nil, notFound(err, fmt.Sprintf("optimization %s", uuid))
	}
	return &opt, nil
}

// LockOptimization re-reads an optimization with a row lock (SELECT ... FOR UPDATE).
// Only meaningful inside Transaction; sqlite ignores the locking clause.
func (s *Store) LockOptimization(ctx context.Context, id uint) (*models.Optimization, error) {
	var opt models.Optimization
	err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&opt, id).Error
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("optimization %d", id))
	}
	return &opt, nil
}

// UpdateOptimization applies column updates and returns the refreshed row
func (s *Store) UpdateOptimization(ctx context.Context, id uint, updates map[string]any) (*models.Optimization, error) {
	result := s.db.WithContext(ctx).
		Model(&models.Optimization{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to update optimization %d: %w", id, result.Error)
	}
	return s.FindOptimization(ctx, id)
}

// ListUnfinishedOptimizations returns every optimization without finishedAt, oldest first
func (s *Store) ListUnfinishedOptimizations(ctx context.Context) ([]models.Optimization, error) {
	var opts []models.Optimization
	err := s.db.WithContext(ctx).
		Where("finished_at IS NULL").
		Order("id ASC").
		Find(&opts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list unfinished optimizations: %w", err)
	}
	return opts, nil
}
