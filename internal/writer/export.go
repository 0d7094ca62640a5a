// Package writer exports curated datasets as JSONL files.
package writer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lamim/optiforge/pkg/models"
)

const (
	TrainsetFilename = "trainset.jsonl"
	TestsetFilename  = "testset.jsonl"
)

// ErrNoDatasets is returned when the optimization was never prepared
var ErrNoDatasets = errors.New("optimization has no datasets")

// DatasetSource reads datasets and their rows
type DatasetSource interface {
	FindDataset(ctx context.Context, id uint) (*models.Dataset, error)
	DatasetRows(ctx context.Context, datasetID uint) ([]models.DatasetRow, error)
}

// ExportResult describes the files written by ExportDataset
type ExportResult struct {
	Dir          string
	TrainsetPath string
	TestsetPath  string
	TrainsetRows int
	TestsetRows  int
}

// ExportDirName returns the export directory name for an optimization
func ExportDirName(opt *models.Optimization) string {
	return "optimization_" + opt.ShortUUID()
}

// ExportDataset writes the trainset and testset of opt under baseDir
func ExportDataset(ctx context.Context, src DatasetSource, opt *models.Optimization, baseDir string, logger *slog.Logger) (*ExportResult, error) {
	if !opt.HasDatasets() {
		return nil, ErrNoDatasets
	}

	dir, err := ResolveExportPath(baseDir, ExportDirName(opt))
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	result := &ExportResult{
		Dir:          dir,
		TrainsetPath: filepath.Join(dir, TrainsetFilename),
		TestsetPath:  filepath.Join(dir, TestsetFilename),
	}

	if result.TrainsetRows, err = exportOne(ctx, src, *opt.TrainsetID, result.TrainsetPath, logger); err != nil {
		return nil, fmt.Errorf("failed to export trainset: %w", err)
	}
	if result.TestsetRows, err = exportOne(ctx, src, *opt.TestsetID, result.TestsetPath, logger); err != nil {
		return nil, fmt.Errorf("failed to export testset: %w", err)
	}

	logger.Info("Exported datasets",
		"optimization_id", opt.ID,
		"dir", dir,
		"trainset_rows", result.TrainsetRows,
		"testset_rows", result.TestsetRows)

	return result, nil
}

func exportOne(ctx context.Context, src DatasetSource, datasetID uint, path string, logger *slog.Logger) (int, error) {
	if _, err := src.FindDataset(ctx, datasetID); err != nil {
		return 0, err
	}
	rows, err := src.DatasetRows(ctx, datasetID)
	if err != nil {
		return 0, err
	}

	w, err := NewDatasetWriter(path, logger)
	if err != nil {
		return 0, err
	}
	for _, row := range rows {
		if err := w.WriteRow(row); err != nil {
			w.Close()
			return 0, err
		}
	}
	if err := w.Close(); err != nil {
		return 0, err
	}
	return w.Count(), nil
}
