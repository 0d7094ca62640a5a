package store

import (
	"context"
	"fmt"

	"github.com/lamim/optiforge/pkg/models"
)

const rowBatchSize = 100

// CreateDataset inserts a dataset and its rows, numbering rows by slice order
func (s *Store) CreateDataset(ctx context.Context, ds *models.Dataset, rows []models.DatasetRow) error {
	ds.RowCount = len(rows)
	if err := s.db.WithContext(ctx).Create(ds).Error; err != nil {
		return fmt.Errorf("failed to create dataset %s: %w", ds.Name, err)
	}
	if len(rows) == 0 {
		return nil
	}

	for i := range rows {
		rows[i].DatasetID = ds.ID
		rows[i].Position = i
	}
	if err := s.db.WithContext(ctx).CreateInBatches(rows, rowBatchSize).Error; err != nil {
		return fmt.Errorf("failed to create rows of dataset %s: %w", ds.Name, err)
	}
	return nil
}

// FindDataset loads a dataset by id
func (s *Store) FindDataset(ctx context.Context, id uint) (*models.Dataset, error) {
	var ds models.Dataset
	if err := s.db.WithContext(ctx).First(&ds, id).Error; err != nil {
		return nil, notFound(err, fmt.Sprintf("dataset %d", id))
	}
	return &ds, nil
}

// DatasetRows returns the rows of a dataset in position order
func (s *Store) DatasetRows(ctx context.Context, datasetID uint) ([]models.DatasetRow, error) {
	var rows []models.DatasetRow
	err := s.db.WithContext(ctx).
		Where("dataset_id = ?", datasetID).
		Order("position ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load rows of dataset %d: %w", datasetID, err)
	}
	return rows, nil
}
