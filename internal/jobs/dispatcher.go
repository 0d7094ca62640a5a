// Package jobs names the optimization background jobs and schedules them on the queue.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lamim/optiforge/internal/queue"
	"github.com/lamim/optiforge/pkg/models"
)

// Phase identifies the job-backed step of an optimization
type Phase string

const (
	PhasePrepare  Phase = "prepare"
	PhaseExecute  Phase = "execute"
	PhaseValidate Phase = "validate"
)

// Job names registered on the queue
const (
	PrepareOptimizationJob  = "prepareOptimizationJob"
	ExecuteOptimizationJob  = "executeOptimizationJob"
	ValidateOptimizationJob = "validateOptimizationJob"
)

// Name returns the queue job name for a phase
func (p Phase) Name() string {
	switch p {
	case PhasePrepare:
		return PrepareOptimizationJob
	case PhaseExecute:
		return ExecuteOptimizationJob
	case PhaseValidate:
		return ValidateOptimizationJob
	default:
		return ""
	}
}

// Payload is carried by every optimization job
type Payload struct {
	WorkspaceID    uint `json:"workspaceId"`
	OptimizationID uint `json:"optimizationId"`
}

// Key builds the deduplication key {phase}-{workspaceId}-{optimizationId}
func Key(phase Phase, workspaceID, optimizationID uint) string {
	return fmt.Sprintf("%s-%d-%d", phase, workspaceID, optimizationID)
}

// CurrentPhase resolves which job should be in flight from the first unset
// timestamp. Finishing and terminal optimizations have no job.
func CurrentPhase(opt *models.Optimization) (Phase, bool) {
	if opt.FinishedAt != nil {
		return "", false
	}
	switch {
	case opt.PreparedAt == nil:
		return PhasePrepare, true
	case opt.ExecutedAt == nil:
		return PhaseExecute, true
	case opt.ValidatedAt == nil:
		return PhaseValidate, true
	default:
		return "", false
	}
}

// CurrentKey returns the key of the job that should be in flight for opt
func CurrentKey(opt *models.Optimization) (string, bool) {
	phase, ok := CurrentPhase(opt)
	if !ok {
		return "", false
	}
	return Key(phase, opt.WorkspaceID, opt.ID), true
}

// Dispatcher schedules optimization jobs with at most one in flight per key
type Dispatcher struct {
	queue  *queue.Queue
	logger *slog.Logger
}

// NewDispatcher wraps a queue
func NewDispatcher(q *queue.Queue, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{queue: q, logger: logger}
}

// Handle registers the handler for a phase
func (d *Dispatcher) Handle(phase Phase, handler func(ctx context.Context, jobID string, payload Payload) error) {
	d.queue.Register(phase.Name(), func(ctx context.Context, job queue.Job) error {
		var payload Payload
		if err := job.Decode(&payload); err != nil {
			return err
		}
		return handler(ctx, job.ID, payload)
	})
}

// Enqueue schedules the phase job for an optimization.
// An in-flight job with the same key is reused.
func (d *Dispatcher) Enqueue(phase Phase, workspaceID, optimizationID uint) (queue.Job, error) {
	key := Key(phase, workspaceID, optimizationID)
	job, created, err := d.queue.Add(phase.Name(), key, Payload{
		WorkspaceID:    workspaceID,
		OptimizationID: optimizationID,
	})
	if err != nil {
		return queue.Job{}, fmt.Errorf("failed to enqueue %s: %w", key, err)
	}

	if created {
		d.logger.Info("Enqueued optimization job", "job_id", key, "job", phase.Name())
	}
	return job, nil
}

// Lookup returns the job stored under key, if any
func (d *Dispatcher) Lookup(key string) (queue.Job, bool) {
	job, err := d.queue.Get(key)
	if err != nil {
		return queue.Job{}, false
	}
	return job, true
}

// Remove forgets the job stored under key
func (d *Dispatcher) Remove(key string) error {
	return d.queue.Remove(key)
}

// WaitUntilFinished waits for the job under key to reach a terminal state
func (d *Dispatcher) WaitUntilFinished(ctx context.Context, key string, timeout time.Duration) (queue.Job, error) {
	return d.queue.WaitUntilFinished(ctx, key, timeout)
}
