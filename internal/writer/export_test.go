package writer

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/lamim/optiforge/internal/logging"
	"github.com/lamim/optiforge/internal/store/storetest"
	"github.com/lamim/optiforge/pkg/models"
)

func readRecords(t *testing.T, path string) []Record {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var r Record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			t.Fatalf("Invalid JSONL line %q: %v", scanner.Text(), err)
		}
		records = append(records, r)
	}
	if err := scanner.Err(); err != nil {
		t.Fatal(err)
	}
	return records
}

func TestExportDataset(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)

	trainset := &models.Dataset{UUID: uuid.NewString(), WorkspaceID: 1, Name: "trainset", Columns: []string{"inputParam"}}
	trainRows := []models.DatasetRow{
		{Polarity: models.PolarityNegative, TraceUUID: "t1", Values: map[string]string{"inputParam": "bad"}},
		{Polarity: models.PolarityPositive, TraceUUID: "t2", Values: map[string]string{"inputParam": "good"}},
	}
	if err := s.CreateDataset(ctx, trainset, trainRows); err != nil {
		t.Fatal(err)
	}
	testset := &models.Dataset{UUID: uuid.NewString(), WorkspaceID: 1, Name: "testset", Columns: []string{"inputParam"}}
	if err := s.CreateDataset(ctx, testset, []models.DatasetRow{
		{Values: map[string]string{"inputParam": "held out"}},
	}); err != nil {
		t.Fatal(err)
	}

	opt := &models.Optimization{
		ID:         3,
		UUID:       "1a2b3c4d-0000-0000-0000-000000000000",
		TrainsetID: &trainset.ID,
		TestsetID:  &testset.ID,
	}

	base := t.TempDir()
	result, err := ExportDataset(ctx, s, opt, base, logging.Discard())
	if err != nil {
		t.Fatalf("ExportDataset failed: %v", err)
	}

	if result.Dir != filepath.Join(base, "optimization_1a2b3c4d") {
		t.Errorf("Unexpected export dir %s", result.Dir)
	}
	if result.TrainsetRows != 2 || result.TestsetRows != 1 {
		t.Errorf("Unexpected row counts %d/%d", result.TrainsetRows, result.TestsetRows)
	}

	train := readRecords(t, result.TrainsetPath)
	if len(train) != 2 {
		t.Fatalf("Expected 2 trainset records, got %d", len(train))
	}
	if train[0].Position != 0 || train[0].Polarity != models.PolarityNegative || train[0].Values["inputParam"] != "bad" {
		t.Errorf("Unexpected first record %+v", train[0])
	}
	if train[1].TraceUUID != "t2" {
		t.Errorf("Rows should keep their order, got %+v", train[1])
	}

	test := readRecords(t, result.TestsetPath)
	if len(test) != 1 || test[0].Values["inputParam"] != "held out" {
		t.Errorf("Unexpected testset records %+v", test)
	}

	// exporting again overwrites the files
	if _, err := ExportDataset(ctx, s, opt, base, logging.Discard()); err != nil {
		t.Fatal(err)
	}
	if got := len(readRecords(t, result.TrainsetPath)); got != 2 {
		t.Errorf("Re-export should truncate, got %d records", got)
	}
}

func TestExportDataset_NotPrepared(t *testing.T) {
	opt := &models.Optimization{UUID: uuid.NewString()}
	_, err := ExportDataset(context.Background(), storetest.New(t), opt, t.TempDir(), logging.Discard())
	if !errors.Is(err, ErrNoDatasets) {
		t.Errorf("Expected ErrNoDatasets, got %v", err)
	}
}

func BenchmarkDatasetWriter_WriteRow(b *testing.B) {
	writer, err := NewDatasetWriter(filepath.Join(b.TempDir(), TrainsetFilename), logging.Discard())
	if err != nil {
		b.Fatal(err)
	}
	defer func() {
		if err := writer.Close(); err != nil {
			b.Fatal(err)
		}
	}()

	row := models.DatasetRow{
		Polarity:  models.PolarityPositive,
		TraceUUID: uuid.NewString(),
		Values:    map[string]string{"inputParam": "value", "customer": "(REDACTED) customer"},
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = writer.WriteRow(row)
	}
	b.StopTimer()
}
