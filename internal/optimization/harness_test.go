package optimization

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lamim/optiforge/internal/api"
	"github.com/lamim/optiforge/internal/cancellation"
	"github.com/lamim/optiforge/internal/config"
	"github.com/lamim/optiforge/internal/events"
	"github.com/lamim/optiforge/internal/experiments"
	"github.com/lamim/optiforge/internal/jobs"
	"github.com/lamim/optiforge/internal/logging"
	"github.com/lamim/optiforge/internal/queue"
	"github.com/lamim/optiforge/internal/store"
	"github.com/lamim/optiforge/internal/store/storetest"
	"github.com/lamim/optiforge/pkg/models"
)

const testEngine = "fake"

type fakeEngine struct {
	mu       sync.Mutex
	requests []api.OptimizeRequest
	prompt   string
	err      error

	// when set, Optimize blocks until release is closed or ctx is done
	release chan struct{}
	started chan struct{}
	once    sync.Once

	// ignoreCtx makes Optimize wait for release only, like a provider call
	// that does not observe cancellation
	ignoreCtx bool
}

func (f *fakeEngine) Optimize(ctx context.Context, req api.OptimizeRequest) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.started != nil {
		f.once.Do(func() { close(f.started) })
	}
	if f.release != nil && f.ignoreCtx {
		<-f.release
	} else if f.release != nil {
		select {
		case <-ctx.Done():
			return "", context.Cause(ctx)
		case <-f.release:
		}
	}
	return f.prompt, f.err
}

func (f *fakeEngine) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type harness struct {
	store       *store.Store
	bus         *events.Bus
	recorder    *events.Recorder
	queue       *queue.Queue
	dispatcher  *jobs.Dispatcher
	registry    *cancellation.Registry
	experiments *experiments.Service
	controller  *Controller
	coordinator *Coordinator
	engine      *fakeEngine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := logging.Discard()

	h := &harness{
		store:  storetest.New(t),
		bus:    events.NewBus(logger),
		engine: &fakeEngine{prompt: "Answer {{ inputParam }} carefully."},
	}
	h.recorder = events.NewRecorder(h.bus)
	h.queue = queue.New(2, logger, nil)
	h.dispatcher = jobs.NewDispatcher(h.queue, logger)
	h.registry = cancellation.NewRegistry(h.bus, logger)
	h.experiments = experiments.NewService(h.store, h.bus, logger)

	curation := config.Default().Curation
	h.controller = NewController(h.store, h.bus, h.dispatcher,
		NewCurator(h.store, curation, logger, nil), h.experiments, logger, nil)
	h.controller.RegisterEngine(testEngine, h.engine)
	h.coordinator = NewCoordinator(h.store, h.controller, h.dispatcher, h.bus,
		h.experiments, 2*time.Second, logger, nil)

	NewWorker(h.controller, h.store, h.registry, logger).Register(h.dispatcher)

	t.Cleanup(func() {
		h.queue.Close()
		h.registry.Close()
	})
	return h
}

func (h *harness) start() {
	h.queue.Start(context.Background())
}

// seedOptimization creates a baseline version, an evaluation and an optimization
func (h *harness) seedOptimization(t *testing.T, mutate func(*models.Optimization)) *models.Optimization {
	t.Helper()
	ctx := context.Background()

	commit := &models.Commit{UUID: uuid.NewString(), ProjectID: 1, Title: "baseline"}
	if err := h.store.Create(ctx, commit); err != nil {
		t.Fatal(err)
	}
	prompt := "Answer {{ inputParam }}"
	doc := &models.Document{CommitID: commit.ID, DocumentUUID: uuid.NewString(), Path: "support/answer", Content: prompt}
	if err := h.store.Create(ctx, doc); err != nil {
		t.Fatal(err)
	}
	eval := &models.Evaluation{UUID: uuid.NewString(), WorkspaceID: 1, DocumentUUID: doc.DocumentUUID, Name: "helpfulness"}
	if err := h.store.Create(ctx, eval); err != nil {
		t.Fatal(err)
	}

	opt := &models.Optimization{
		UUID:             uuid.NewString(),
		WorkspaceID:      1,
		ProjectID:        1,
		DocumentUUID:     doc.DocumentUUID,
		BaselineCommitID: commit.ID,
		BaselinePrompt:   prompt,
		EvaluationUUID:   eval.UUID,
		Engine:           testEngine,
		Configuration: models.OptimizationConfiguration{
			Scope: models.ScopeConfiguration{Instructions: true},
		},
	}
	if mutate != nil {
		mutate(opt)
	}
	if err := h.store.Create(ctx, opt); err != nil {
		t.Fatal(err)
	}
	return opt
}

// seedTraces records negative traces under one tracked issue plus positive
// traces, the failed ones with a failed evaluation
func (h *harness) seedTraces(t *testing.T, opt *models.Optimization, negatives, positives, failedPositives int) {
	t.Helper()
	ctx := context.Background()

	issue := &models.Issue{WorkspaceID: opt.WorkspaceID, DocumentUUID: opt.DocumentUUID, Title: "hallucinated answer"}
	if err := h.store.Create(ctx, issue); err != nil {
		t.Fatal(err)
	}

	create := func(issueID *uint, failed bool, label string) {
		trace := &models.Trace{
			UUID:             uuid.NewString(),
			WorkspaceID:      opt.WorkspaceID,
			ProjectID:        opt.ProjectID,
			DocumentUUID:     opt.DocumentUUID,
			CommitID:         opt.BaselineCommitID,
			Parameters:       map[string]any{"inputParam": label},
			IssueID:          issueID,
			EvaluationFailed: failed,
		}
		if err := h.store.Create(ctx, trace); err != nil {
			t.Fatal(err)
		}
	}

	for i := 0; i < negatives; i++ {
		create(&issue.ID, false, "negative value")
	}
	for i := 0; i < positives; i++ {
		create(nil, false, "positive value")
	}
	for i := 0; i < failedPositives; i++ {
		create(nil, true, "failed value")
	}
}

func (h *harness) reload(t *testing.T, id uint) *models.Optimization {
	t.Helper()
	opt, err := h.store.FindOptimization(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return opt
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func assertTimestampChain(t *testing.T, opt *models.Optimization) {
	t.Helper()
	chain := []*time.Time{&opt.CreatedAt, opt.PreparedAt, opt.ExecutedAt, opt.ValidatedAt, opt.FinishedAt}
	var last *time.Time
	for _, ts := range chain {
		if ts == nil {
			continue
		}
		if last != nil && ts.Before(*last) {
			t.Errorf("Timestamp chain is not monotonic: %v before %v", *ts, *last)
		}
		last = ts
	}
}
