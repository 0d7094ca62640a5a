package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lamim/optiforge/internal/logging"
	"github.com/lamim/optiforge/internal/optimization"
	"github.com/lamim/optiforge/internal/queue"
	"github.com/lamim/optiforge/internal/store"
	"github.com/lamim/optiforge/internal/store/storetest"
	"github.com/lamim/optiforge/pkg/models"
)

type fakeCanceller struct {
	store *store.Store
	err   error
	calls []string
}

func (f *fakeCanceller) Cancel(ctx context.Context, optimizationUUID string) (*models.Optimization, error) {
	f.calls = append(f.calls, optimizationUUID)
	if f.err != nil {
		return nil, f.err
	}
	opt, err := f.store.FindOptimizationByUUID(ctx, optimizationUUID)
	if err != nil {
		return nil, err
	}
	reason := optimization.CancelledByUser
	return f.store.UpdateOptimization(ctx, opt.ID, map[string]any{"finished_at": time.Now(), "error": reason})
}

type fakeJobs []queue.Job

func (f fakeJobs) List() []queue.Job { return f }

func newTestServer(t *testing.T, canceller *fakeCanceller, jobs fakeJobs) (*httptest.Server, *store.Store) {
	t.Helper()
	s := storetest.New(t)
	if canceller == nil {
		canceller = &fakeCanceller{}
	}
	canceller.store = s

	srv := httptest.NewServer(New(s, canceller, jobs, "test", logging.Discard()).Handler())
	t.Cleanup(srv.Close)
	return srv, s
}

// seedPrepared creates an optimization with its commit, evaluation and datasets
func seedPrepared(t *testing.T, s *store.Store) *models.Optimization {
	t.Helper()
	ctx := context.Background()

	commit := &models.Commit{UUID: uuid.NewString(), ProjectID: 1, Title: "baseline"}
	if err := s.Create(ctx, commit); err != nil {
		t.Fatal(err)
	}
	eval := &models.Evaluation{UUID: uuid.NewString(), WorkspaceID: 1, DocumentUUID: uuid.NewString(), Name: "helpfulness"}
	if err := s.Create(ctx, eval); err != nil {
		t.Fatal(err)
	}
	trainset := &models.Dataset{UUID: uuid.NewString(), WorkspaceID: 1, Name: "trainset"}
	if err := s.CreateDataset(ctx, trainset, []models.DatasetRow{{Values: map[string]string{"a": "1"}}}); err != nil {
		t.Fatal(err)
	}
	testset := &models.Dataset{UUID: uuid.NewString(), WorkspaceID: 1, Name: "testset"}
	if err := s.CreateDataset(ctx, testset, []models.DatasetRow{{Values: map[string]string{"a": "2"}}}); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	opt := &models.Optimization{
		UUID:             uuid.NewString(),
		WorkspaceID:      1,
		ProjectID:        1,
		DocumentUUID:     eval.DocumentUUID,
		BaselineCommitID: commit.ID,
		BaselinePrompt:   "Answer {{ question }}",
		EvaluationUUID:   eval.UUID,
		Engine:           "llm",
		TrainsetID:       &trainset.ID,
		TestsetID:        &testset.ID,
		PreparedAt:       &now,
	}
	if err := s.Create(ctx, opt); err != nil {
		t.Fatal(err)
	}
	return opt
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

func TestGetOptimization(t *testing.T) {
	srv, s := newTestServer(t, nil, nil)
	opt := seedPrepared(t, s)

	resp, err := http.Get(srv.URL + "/api/optimizations/" + opt.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var p Projection
	decode(t, resp, &p)

	if p.Optimization == nil || p.Optimization.UUID != opt.UUID {
		t.Fatalf("Unexpected optimization %+v", p.Optimization)
	}
	if p.Phase != models.PhaseOptimizing {
		t.Errorf("Expected phase optimizing, got %s", p.Phase)
	}
	if p.Evaluation == nil || p.Evaluation.Name != "helpfulness" {
		t.Errorf("Evaluation not resolved: %+v", p.Evaluation)
	}
	if p.Trainset == nil || p.Trainset.Name != "trainset" || p.Testset == nil || p.Testset.Name != "testset" {
		t.Errorf("Datasets not resolved: %+v %+v", p.Trainset, p.Testset)
	}
	if p.BaselineCommit == nil || p.BaselineCommit.Title != "baseline" {
		t.Errorf("Baseline commit not resolved: %+v", p.BaselineCommit)
	}
	if p.OptimizedCommit != nil || p.BaselineExperiment != nil {
		t.Error("Unset references should be omitted")
	}
}

func TestGetOptimization_NotFound(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil)

	resp, err := http.Get(srv.URL + "/api/optimizations/" + uuid.NewString())
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}

func TestCancelOptimization(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"cancelled", nil, http.StatusOK},
		{"already ended", optimization.ErrAlreadyEnded, http.StatusConflict},
		{"unknown", fmt.Errorf("optimization x: %w", store.ErrNotFound), http.StatusNotFound},
		{"infrastructure", fmt.Errorf("database is locked"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			canceller := &fakeCanceller{err: tt.err}
			srv, s := newTestServer(t, canceller, nil)
			opt := seedPrepared(t, s)

			resp, err := http.Post(srv.URL+"/api/optimizations/"+opt.UUID+"/cancel", "application/json", nil)
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("Expected %d, got %d", tt.wantStatus, resp.StatusCode)
			}
			if len(canceller.calls) != 1 || canceller.calls[0] != opt.UUID {
				t.Errorf("Unexpected cancel calls %v", canceller.calls)
			}

			if tt.wantStatus != http.StatusOK {
				var body map[string]string
				decode(t, resp, &body)
				if body["error"] == "" {
					t.Error("Expected an error message")
				}
				return
			}

			var p Projection
			decode(t, resp, &p)
			if p.Phase != models.PhaseFailed {
				t.Errorf("Expected failed phase, got %s", p.Phase)
			}
			if p.Optimization.Error == nil || *p.Optimization.Error != optimization.CancelledByUser {
				t.Errorf("Expected cancellation error, got %v", p.Optimization.Error)
			}
		})
	}
}

func TestListJobs(t *testing.T) {
	jobs := fakeJobs{
		{ID: "prepare-1-1", Name: "prepareOptimizationJob", State: queue.StateActive},
		{ID: "execute-1-2", Name: "executeOptimizationJob", State: queue.StateWaiting},
	}
	srv, _ := newTestServer(t, nil, jobs)

	resp, err := http.Get(srv.URL + "/api/jobs")
	if err != nil {
		t.Fatal(err)
	}
	var body struct {
		Jobs  []queue.Job `json:"jobs"`
		Total int         `json:"total"`
	}
	decode(t, resp, &body)

	if body.Total != 2 || body.Jobs[0].ID != "prepare-1-1" {
		t.Errorf("Unexpected jobs response %+v", body)
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil)

	for _, path := range []string{"/healthz", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s: expected 200, got %d", path, resp.StatusCode)
		}
	}

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("Expected the default Go collectors in /metrics")
	}
}
