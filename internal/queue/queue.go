// Package queue is an in-process background job queue with named handlers,
// per-key deduplication and a fixed worker pool.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/lamim/optiforge/internal/metrics"
)

// State of a job
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether the job will not run again
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

var (
	ErrJobNotFound    = errors.New("job not found")
	ErrJobActive      = errors.New("job is active")
	ErrWaitTimeout    = errors.New("timed out waiting for job")
	ErrUnknownHandler = errors.New("no handler registered for job name")
)

// Job is a snapshot of a queued unit of work
type Job struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload"`
	State      State           `json:"state"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// Decode unmarshals the job payload into v
func (j Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("failed to decode payload of job %s: %w", j.ID, err)
	}
	return nil
}

// Handler runs a job. Returning an error marks the job failed; jobs are never retried.
type Handler func(ctx context.Context, job Job) error

type entry struct {
	job  Job
	done chan struct{}
}

// Queue dispatches jobs to registered handlers
type Queue struct {
	mu       sync.Mutex
	jobs     map[string]*entry
	fifo     []string
	handlers map[string]Handler

	wake        chan struct{}
	concurrency int
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	logger  *slog.Logger
	metrics *metrics.Collector
}

// New creates a queue with the given worker count
func New(concurrency int, logger *slog.Logger, collector *metrics.Collector) *Queue {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		jobs:        make(map[string]*entry),
		handlers:    make(map[string]Handler),
		wake:        make(chan struct{}, concurrency),
		concurrency: concurrency,
		logger:      logger,
		metrics:     collector,
	}
}

// Register binds a handler to a job name
func (q *Queue) Register(name string, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[name] = handler
}

// Add enqueues a job under id unless a non-terminal job with that id exists.
// It returns the job snapshot and whether a new job was created.
func (q *Queue) Add(name, id string, payload any) (Job, bool, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Job{}, false, fmt.Errorf("failed to encode payload: %w", err)
	}

	q.mu.Lock()
	if _, ok := q.handlers[name]; !ok {
		q.mu.Unlock()
		return Job{}, false, fmt.Errorf("%w: %s", ErrUnknownHandler, name)
	}
	if existing, ok := q.jobs[id]; ok && !existing.job.State.Terminal() {
		snapshot := existing.job
		q.mu.Unlock()
		q.logger.Debug("Job already in flight, skipping", "job_id", id, "state", snapshot.State)
		return snapshot, false, nil
	}

	e := &entry{
		job: Job{
			ID:        id,
			Name:      name,
			Payload:   data,
			State:     StateWaiting,
			CreatedAt: time.Now(),
		},
		done: make(chan struct{}),
	}
	q.jobs[id] = e
	q.fifo = append(q.fifo, id)
	snapshot := e.job
	q.mu.Unlock()

	q.metrics.AddJobsInFlight(name, 1)
	select {
	case q.wake <- struct{}{}:
	default:
	}

	q.logger.Debug("Job enqueued", "job_id", id, "job", name)
	return snapshot, true, nil
}

// Get returns the current snapshot of a job
func (q *Queue) Get(id string) (Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return e.job, nil
}

// List returns all known jobs ordered by creation time
func (q *Queue) List() []Job {
	q.mu.Lock()
	jobs := make([]Job, 0, len(q.jobs))
	for _, e := range q.jobs {
		jobs = append(jobs, e.job)
	}
	q.mu.Unlock()

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs
}

// Remove forgets a job. Active jobs cannot be removed.
func (q *Queue) Remove(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.jobs[id]
	if !ok {
		return ErrJobNotFound
	}

	switch e.job.State {
	case StateActive:
		return ErrJobActive
	case StateWaiting:
		for i, queued := range q.fifo {
			if queued == id {
				q.fifo = append(q.fifo[:i], q.fifo[i+1:]...)
				break
			}
		}
		close(e.done)
		q.metrics.AddJobsInFlight(e.job.Name, -1)
	}

	delete(q.jobs, id)
	return nil
}

// WaitUntilFinished blocks until the job reaches a terminal state, is removed,
// or timeout elapses
func (q *Queue) WaitUntilFinished(ctx context.Context, id string, timeout time.Duration) (Job, error) {
	q.mu.Lock()
	e, ok := q.jobs[id]
	q.mu.Unlock()
	if !ok {
		return Job{}, ErrJobNotFound
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-e.done:
		q.mu.Lock()
		defer q.mu.Unlock()
		return e.job, nil
	case <-timer.C:
		return Job{}, fmt.Errorf("%w %s after %s", ErrWaitTimeout, id, timeout)
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

// Start launches the worker pool. Workers stop when ctx is cancelled or Close is called.
func (q *Queue) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	for i := 0; i < q.concurrency; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
	q.logger.Info("Job queue started", "workers", q.concurrency)
}

// Close stops the workers and waits for active jobs to return
func (q *Queue) Close() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
}

func (q *Queue) worker(ctx context.Context, workerID int) {
	defer q.wg.Done()

	workerLogger := q.logger.With("worker_id", workerID)
	workerLogger.Debug("Worker started")

	for {
		e, handler, ok := q.next()
		if !ok {
			select {
			case <-ctx.Done():
				workerLogger.Debug("Worker stopped")
				return
			case <-q.wake:
				continue
			}
		}

		q.run(ctx, workerLogger, e, handler)
	}
}

// next pops the oldest waiting job and marks it active
func (q *Queue) next() (*entry, Handler, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.fifo) > 0 {
		id := q.fifo[0]
		q.fifo = q.fifo[1:]

		e, ok := q.jobs[id]
		if !ok || e.job.State != StateWaiting {
			continue
		}
		now := time.Now()
		e.job.State = StateActive
		e.job.StartedAt = &now
		return e, q.handlers[e.job.Name], true
	}
	return nil, nil, false
}

func (q *Queue) run(ctx context.Context, logger *slog.Logger, e *entry, handler Handler) {
	q.mu.Lock()
	snapshot := e.job
	q.mu.Unlock()

	jobLogger := logger.With("job_id", snapshot.ID, "job", snapshot.Name)
	jobLogger.Debug("Job started")

	startTime := time.Now()
	err := q.invoke(ctx, handler, snapshot)
	duration := time.Since(startTime)

	q.mu.Lock()
	now := time.Now()
	e.job.FinishedAt = &now
	if err != nil {
		e.job.State = StateFailed
		e.job.Error = err.Error()
	} else {
		e.job.State = StateCompleted
	}
	state := e.job.State
	close(e.done)
	q.mu.Unlock()

	q.metrics.AddJobsInFlight(snapshot.Name, -1)
	q.metrics.RecordJob(snapshot.Name, string(state), duration)

	if err != nil {
		jobLogger.Warn("Job failed", "error", err, "duration", duration)
		return
	}
	jobLogger.Debug("Job completed", "duration", duration)
}

func (q *Queue) invoke(ctx context.Context, handler Handler, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("Job handler panicked",
				"job_id", job.ID,
				"panic", r,
				"stack", string(debug.Stack()))
			err = fmt.Errorf("job handler panicked: %v", r)
		}
	}()
	return handler(ctx, job)
}
