package experiments

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/lamim/optiforge/internal/events"
	"github.com/lamim/optiforge/internal/logging"
	"github.com/lamim/optiforge/internal/store"
	"github.com/lamim/optiforge/internal/store/storetest"
)

func newTestService(t *testing.T) (*Service, *events.Recorder) {
	t.Helper()
	bus := events.NewBus(logging.Discard())
	return NewService(storetest.New(t), bus, logging.Discard()), events.NewRecorder(bus)
}

func testSpec(name string) Spec {
	return Spec{
		WorkspaceID:    1,
		Name:           name,
		CommitID:       1,
		DocumentUUID:   "doc",
		EvaluationUUID: "eval",
		Prompt:         "Answer {{ question }}",
		DatasetID:      3,
		ParametersMap:  map[string]int{"question": 0},
		ToRow:          4,
	}
}

func TestService_CreateInTransaction(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	boom := errors.New("boom")
	var created uint
	err := svc.store.Transaction(ctx, func(tx *store.Store) error {
		exp, err := svc.Create(ctx, tx, testSpec("Baseline #12345678"))
		if err != nil {
			return err
		}
		created = exp.ID
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected rollback, got %v", err)
	}
	if _, err := svc.store.FindExperiment(ctx, created); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Experiment should be rolled back, got %v", err)
	}
}

func TestService_StartOnce(t *testing.T) {
	svc, rec := newTestService(t)
	ctx := context.Background()

	exp, err := svc.Create(ctx, nil, testSpec("Optimized #12345678"))
	if err != nil {
		t.Fatal(err)
	}

	started, err := svc.Start(ctx, exp.ID)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !started.Running() {
		t.Error("Experiment should be running")
	}
	if _, err := svc.Start(ctx, exp.ID); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Expected ErrAlreadyStarted, got %v", err)
	}
	if rec.Count(events.TopicExperimentStarted) != 1 {
		t.Errorf("Expected one experimentStarted event, got %d", rec.Count(events.TopicExperimentStarted))
	}
}

func TestService_StartConcurrent(t *testing.T) {
	svc, rec := newTestService(t)
	ctx := context.Background()

	exp, err := svc.Create(ctx, nil, testSpec("Optimized #12345678"))
	if err != nil {
		t.Fatal(err)
	}

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		won     int
		already int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Start(ctx, exp.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				won++
			case errors.Is(err, ErrAlreadyStarted):
				already++
			default:
				t.Errorf("Start() unexpected error = %v", err)
			}
		}()
	}
	wg.Wait()

	if won != 1 || already != callers-1 {
		t.Errorf("Expected 1 start and %d rejections, got %d and %d", callers-1, won, already)
	}
	if n := rec.Count(events.TopicExperimentStarted); n != 1 {
		t.Errorf("Expected one experimentStarted event, got %d", n)
	}
}

func TestService_Stop(t *testing.T) {
	svc, rec := newTestService(t)
	ctx := context.Background()

	exp, err := svc.Create(ctx, nil, testSpec("Baseline #12345678"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Start(ctx, exp.ID); err != nil {
		t.Fatal(err)
	}

	stopped, err := svc.Stop(ctx, exp.ID)
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if stopped.FinishedAt == nil || stopped.Error == nil || *stopped.Error != StoppedError {
		t.Errorf("Unexpected stopped experiment %+v", stopped)
	}
	if _, err := svc.Stop(ctx, exp.ID); !errors.Is(err, ErrAlreadyFinished) {
		t.Errorf("Expected ErrAlreadyFinished, got %v", err)
	}
	if rec.Count(events.TopicExperimentStopped) != 1 {
		t.Errorf("Expected one experimentStopped event, got %d", rec.Count(events.TopicExperimentStopped))
	}
}
