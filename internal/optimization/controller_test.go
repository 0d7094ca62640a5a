package optimization

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/lamim/optiforge/internal/events"
	"github.com/lamim/optiforge/internal/jobs"
	"github.com/lamim/optiforge/internal/queue"
	"github.com/lamim/optiforge/pkg/models"
)

func TestPrepare_CreatesDatasetsAndEnqueuesExecute(t *testing.T) {
	h := newHarness(t)
	opt := h.seedOptimization(t, nil)
	h.seedTraces(t, opt, 3, 3, 0)
	ctx := context.Background()

	pair, err := h.controller.Prepare(ctx, opt)
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	prefix := opt.UUID[:8]
	if pair.Trainset.Name != "Trainset #"+prefix || pair.Testset.Name != "Testset #"+prefix {
		t.Errorf("Unexpected dataset names %q / %q", pair.Trainset.Name, pair.Testset.Name)
	}
	if pair.Trainset.RowCount+pair.Testset.RowCount != 6 {
		t.Errorf("Expected 6 rows across both datasets, got %d", pair.Trainset.RowCount+pair.Testset.RowCount)
	}

	got := h.reload(t, opt.ID)
	if got.PreparedAt == nil {
		t.Error("preparedAt should be set")
	}
	if got.TrainsetID == nil || *got.TrainsetID != pair.Trainset.ID || got.TestsetID == nil || *got.TestsetID != pair.Testset.ID {
		t.Errorf("Dataset ids not persisted: %+v", got)
	}
	if got.Phase() != models.PhaseOptimizing {
		t.Errorf("Expected optimizing, got %s", got.Phase())
	}

	jobsQueued := h.queue.List()
	if len(jobsQueued) != 1 {
		t.Fatalf("Expected exactly one job, got %d", len(jobsQueued))
	}
	if jobsQueued[0].ID != jobs.Key(jobs.PhaseExecute, opt.WorkspaceID, opt.ID) || jobsQueued[0].Name != jobs.ExecuteOptimizationJob {
		t.Errorf("Unexpected job %+v", jobsQueued[0])
	}
	if jobsQueued[0].State != queue.StateWaiting {
		t.Errorf("Expected waiting job, got %s", jobsQueued[0].State)
	}

	if h.recorder.Count(events.TopicOptimizationPrepared) != 1 {
		t.Errorf("Expected one optimizationPrepared event")
	}
}

func TestPrepare_Idempotent(t *testing.T) {
	h := newHarness(t)
	opt := h.seedOptimization(t, nil)
	h.seedTraces(t, opt, 3, 3, 0)
	ctx := context.Background()

	first, err := h.controller.Prepare(ctx, opt)
	if err != nil {
		t.Fatal(err)
	}
	before := h.reload(t, opt.ID)

	second, err := h.controller.Prepare(ctx, opt)
	if err != nil {
		t.Fatalf("Second Prepare() error = %v", err)
	}

	if first.Trainset.ID != second.Trainset.ID || first.Testset.ID != second.Testset.ID {
		t.Error("Second Prepare should return the existing pair")
	}
	after := h.reload(t, opt.ID)
	if !after.PreparedAt.Equal(*before.PreparedAt) {
		t.Error("preparedAt must not change")
	}
	if h.recorder.Count(events.TopicOptimizationPrepared) != 1 {
		t.Errorf("Expected a single prepared event, got %d", h.recorder.Count(events.TopicOptimizationPrepared))
	}
	if len(h.queue.List()) != 1 {
		t.Errorf("Expected a single execute job, got %d", len(h.queue.List()))
	}
}

func TestPrepare_InsufficientLeavesRowUntouched(t *testing.T) {
	h := newHarness(t)
	opt := h.seedOptimization(t, nil)
	h.seedTraces(t, opt, 1, 3, 0)

	_, err := h.controller.Prepare(context.Background(), opt)

	var insufficient *InsufficientExamplesError
	if !errors.As(err, &insufficient) {
		t.Fatalf("Expected InsufficientExamplesError, got %v", err)
	}

	got := h.reload(t, opt.ID)
	if got.PreparedAt != nil || got.TrainsetID != nil || got.TestsetID != nil {
		t.Errorf("Failed prepare must not write datasets or preparedAt: %+v", got)
	}
	if len(h.queue.List()) != 0 {
		t.Error("No execute job should be enqueued")
	}
}

func TestPrepare_MasksPIIInTrainsetOnly(t *testing.T) {
	h := newHarness(t)
	opt := h.seedOptimization(t, func(o *models.Optimization) {
		o.Configuration.Parameters = map[string]models.ParameterConfiguration{
			"inputParam": {IsPII: true},
		}
	})
	h.seedTraces(t, opt, 4, 4, 0)
	ctx := context.Background()

	pair, err := h.controller.Prepare(ctx, opt)
	if err != nil {
		t.Fatal(err)
	}

	trainRows, err := h.store.DatasetRows(ctx, pair.Trainset.ID)
	if err != nil {
		t.Fatal(err)
	}
	for _, row := range trainRows {
		value := row.Values["inputParam"]
		if value != "(REDACTED) inputParam" {
			t.Errorf("Trainset value not masked: %q", value)
		}
		if strings.Contains(value, "value") {
			t.Errorf("Trainset leaks the raw value: %q", value)
		}
	}

	testRows, err := h.store.DatasetRows(ctx, pair.Testset.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(testRows) == 0 {
		t.Fatal("Expected testset rows")
	}
	for _, row := range testRows {
		if !strings.HasSuffix(row.Values["inputParam"], " value") {
			t.Errorf("Testset should keep the raw value, got %q", row.Values["inputParam"])
		}
	}
}

func TestPrepare_AlreadyEnded(t *testing.T) {
	h := newHarness(t)
	now := time.Now()
	opt := h.seedOptimization(t, func(o *models.Optimization) { o.FinishedAt = &now })

	if _, err := h.controller.Prepare(context.Background(), opt); !errors.Is(err, ErrAlreadyEnded) {
		t.Errorf("Expected ErrAlreadyEnded, got %v", err)
	}
}

func TestExecute_Preconditions(t *testing.T) {
	now := time.Now()
	id := uint(1)
	prompt := "x"

	tests := []struct {
		name   string
		mutate func(*models.Optimization)
		want   error
	}{
		{"not prepared", func(*models.Optimization) {}, ErrNotPrepared},
		{"already executed", func(o *models.Optimization) {
			o.PreparedAt, o.ExecutedAt = &now, &now
			o.TrainsetID, o.TestsetID = &id, &id
			o.OptimizedCommitID, o.OptimizedPrompt = &id, &prompt
		}, ErrAlreadyExecuted},
		{"ended", func(o *models.Optimization) { o.FinishedAt = &now }, ErrAlreadyEnded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			opt := h.seedOptimization(t, tt.mutate)

			if _, err := h.controller.Execute(context.Background(), opt); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
			if h.engine.calls() != 0 {
				t.Error("Engine must not be called when preconditions fail")
			}
		})
	}
}

func TestExecute_StoresOptimizedVersion(t *testing.T) {
	h := newHarness(t)
	opt := h.seedOptimization(t, nil)
	h.seedTraces(t, opt, 3, 3, 0)
	ctx := context.Background()

	if _, err := h.controller.Prepare(ctx, opt); err != nil {
		t.Fatal(err)
	}
	executed, err := h.controller.Execute(ctx, opt)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if executed.ExecutedAt == nil || executed.OptimizedCommitID == nil || executed.OptimizedPrompt == nil {
		t.Fatalf("Execute must set executedAt with the optimized commit and prompt: %+v", executed)
	}
	if *executed.OptimizedPrompt != h.engine.prompt {
		t.Errorf("Unexpected optimized prompt %q", *executed.OptimizedPrompt)
	}

	doc, err := h.store.FindDocument(ctx, *executed.OptimizedCommitID, opt.DocumentUUID)
	if err != nil {
		t.Fatalf("Optimized document not created: %v", err)
	}
	if doc.Content != h.engine.prompt || doc.Path != "support/answer" {
		t.Errorf("Unexpected optimized document %+v", doc)
	}

	if h.engine.calls() != 1 {
		t.Fatalf("Expected one engine call, got %d", h.engine.calls())
	}
	req := h.engine.requests[0]
	if req.Prompt != opt.BaselinePrompt || len(req.Examples) != 4 {
		t.Errorf("Engine should receive the baseline prompt and trainset rows, got %q with %d examples", req.Prompt, len(req.Examples))
	}

	if _, ok := h.dispatcher.Lookup(jobs.Key(jobs.PhaseValidate, opt.WorkspaceID, opt.ID)); !ok {
		t.Error("Validate job should be enqueued")
	}
	if h.recorder.Count(events.TopicOptimizationExecuted) != 1 {
		t.Error("Expected one optimizationExecuted event")
	}

	if _, err := h.controller.Execute(ctx, opt); !errors.Is(err, ErrAlreadyExecuted) {
		t.Errorf("Expected ErrAlreadyExecuted on second run, got %v", err)
	}
}

func TestExecute_EngineFailureKeepsPhase(t *testing.T) {
	h := newHarness(t)
	h.engine.err = errors.New("model overloaded")
	opt := h.seedOptimization(t, nil)
	h.seedTraces(t, opt, 2, 2, 0)
	ctx := context.Background()

	if _, err := h.controller.Prepare(ctx, opt); err != nil {
		t.Fatal(err)
	}
	_, err := h.controller.Execute(ctx, opt)
	if err == nil || !strings.Contains(err.Error(), "model overloaded") {
		t.Fatalf("Expected engine error, got %v", err)
	}

	got := h.reload(t, opt.ID)
	if got.ExecutedAt != nil || got.OptimizedCommitID != nil {
		t.Error("executedAt must only be written after the engine succeeds")
	}
}

func TestExecute_UnknownEngine(t *testing.T) {
	h := newHarness(t)
	opt := h.seedOptimization(t, func(o *models.Optimization) { o.Engine = "gepa" })
	h.seedTraces(t, opt, 2, 2, 0)
	ctx := context.Background()

	if _, err := h.controller.Prepare(ctx, opt); err != nil {
		t.Fatal(err)
	}
	if _, err := h.controller.Execute(ctx, opt); !errors.Is(err, ErrUnknownEngine) {
		t.Errorf("Expected ErrUnknownEngine, got %v", err)
	}
}

func TestEnd_ExactlyOnce(t *testing.T) {
	h := newHarness(t)
	opt := h.seedOptimization(t, nil)
	ctx := context.Background()

	message := "engine failed"
	ended, err := h.controller.End(ctx, opt.ID, &message)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.FinishedAt == nil || ended.Error == nil || *ended.Error != message {
		t.Errorf("Unexpected ended optimization %+v", ended)
	}
	if ended.Phase() != models.PhaseFailed {
		t.Errorf("Expected failed, got %s", ended.Phase())
	}

	if _, err := h.controller.End(ctx, opt.ID, nil); !errors.Is(err, ErrAlreadyEnded) {
		t.Errorf("Expected ErrAlreadyEnded, got %v", err)
	}

	after := h.reload(t, opt.ID)
	if !after.FinishedAt.Equal(*ended.FinishedAt) || after.Error == nil || *after.Error != message {
		t.Error("A terminal optimization must not change")
	}
	if h.recorder.Count(events.TopicOptimizationEnded) != 1 {
		t.Errorf("Expected a single ended event, got %d", h.recorder.Count(events.TopicOptimizationEnded))
	}
}

func TestEnd_ConcurrentCallsEndOnce(t *testing.T) {
	h := newHarness(t)
	opt := h.seedOptimization(t, nil)

	const callers = 5
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() {
			_, err := h.controller.End(context.Background(), opt.ID, nil)
			errs <- err
		}()
	}

	succeeded := 0
	for i := 0; i < callers; i++ {
		err := <-errs
		switch {
		case err == nil:
			succeeded++
		case !errors.Is(err, ErrAlreadyEnded):
			t.Errorf("Unexpected error %v", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("Expected exactly one successful End, got %d", succeeded)
	}
}

func TestValidateEnd_EventOrder(t *testing.T) {
	h := newHarness(t)
	opt := h.seedOptimization(t, nil)
	h.seedTraces(t, opt, 3, 3, 0)
	ctx := context.Background()

	if _, err := h.controller.Prepare(ctx, opt); err != nil {
		t.Fatal(err)
	}
	if _, err := h.controller.Execute(ctx, opt); err != nil {
		t.Fatal(err)
	}
	started, err := h.controller.ValidateStart(ctx, opt)
	if err != nil {
		t.Fatal(err)
	}
	ended, err := h.controller.ValidateEnd(ctx, started)
	if err != nil {
		t.Fatalf("ValidateEnd() error = %v", err)
	}

	if ended.Phase() != models.PhaseCompleted || ended.Error != nil {
		t.Errorf("Expected completed without error, got %s / %v", ended.Phase(), ended.Error)
	}
	assertTimestampChain(t, ended)

	got := h.recorder.Topics(
		events.TopicOptimizationPrepared,
		events.TopicOptimizationExecuted,
		events.TopicOptimizationValidated,
		events.TopicOptimizationEnded,
	)
	want := []string{
		events.TopicOptimizationPrepared,
		events.TopicOptimizationExecuted,
		events.TopicOptimizationValidated,
		events.TopicOptimizationEnded,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Event order = %v, want %v", got, want)
	}

	if _, err := h.controller.ValidateEnd(ctx, started); !errors.Is(err, ErrAlreadyEnded) {
		t.Errorf("Expected ErrAlreadyEnded, got %v", err)
	}
}
