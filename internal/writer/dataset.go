package writer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/lamim/optiforge/pkg/models"
)

// Record is one exported dataset row
type Record struct {
	Position  int               `json:"position"`
	Polarity  models.Polarity   `json:"polarity,omitempty"`
	TraceUUID string            `json:"trace_uuid,omitempty"`
	Values    map[string]string `json:"values"`
}

// DatasetWriter handles thread-safe writing of JSONL records
type DatasetWriter struct {
	path   string
	file   *os.File
	buf    *bufio.Writer
	count  int
	mu     sync.Mutex
	logger *slog.Logger
}

// NewDatasetWriter creates the file at path, truncating an existing one
func NewDatasetWriter(path string, logger *slog.Logger) (*DatasetWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create dataset file: %w", err)
	}

	logger.Debug("Created dataset file", "path", path)

	return &DatasetWriter{
		path:   path,
		file:   file,
		buf:    bufio.NewWriter(file),
		logger: logger,
	}, nil
}

// WriteRow writes a single row as one JSON line
func (dw *DatasetWriter) WriteRow(row models.DatasetRow) error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	data, err := json.Marshal(Record{
		Position:  row.Position,
		Polarity:  row.Polarity,
		TraceUUID: row.TraceUUID,
		Values:    row.Values,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal row: %w", err)
	}

	if _, err := dw.buf.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write row: %w", err)
	}
	dw.count++
	return nil
}

// Count returns the number of rows written so far
func (dw *DatasetWriter) Count() int {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	return dw.count
}

// Close flushes and closes the dataset file
func (dw *DatasetWriter) Close() error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	if err := dw.buf.Flush(); err != nil {
		dw.file.Close()
		return fmt.Errorf("failed to flush dataset file: %w", err)
	}

	if err := dw.file.Sync(); err != nil {
		dw.logger.Warn("Failed to sync dataset file", "error", err)
	}

	if err := dw.file.Close(); err != nil {
		return fmt.Errorf("failed to close dataset file: %w", err)
	}

	dw.logger.Debug("Closed dataset file", "path", dw.path, "rows", dw.count)
	return nil
}
