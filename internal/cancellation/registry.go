// Package cancellation maps running job ids to cancel functions and aborts
// them when a cancelJob message for their id is published on the bus.
package cancellation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/lamim/optiforge/internal/events"
)

// ErrAborted is the cause of a job context cancelled through the registry
var ErrAborted = errors.New("job aborted")

// DefaultPendingTTL bounds how long a cancel for an unregistered job is remembered
const DefaultPendingTTL = 10 * time.Minute

// Registry owns one subscription to the cancelJob topic
type Registry struct {
	mu      sync.Mutex
	tokens  map[string]context.CancelCauseFunc
	pending map[string]time.Time // cancels that arrived before Register

	bus        *events.Bus
	subID      string
	pendingTTL time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// NewRegistry subscribes a new registry to bus
func NewRegistry(bus *events.Bus, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		tokens:     make(map[string]context.CancelCauseFunc),
		pending:    make(map[string]time.Time),
		bus:        bus,
		pendingTTL: DefaultPendingTTL,
		now:        time.Now,
		logger:     logger,
	}
	r.subID = bus.Subscribe(events.TopicCancelJob, r.handle)
	return r
}

// Register derives a cancellable context for jobID.
// The returned release func must be called when the job returns.
func (r *Registry) Register(ctx context.Context, jobID string) (context.Context, func()) {
	jobCtx, cancel := context.WithCancelCause(ctx)

	r.mu.Lock()
	_, cancelled := r.pending[jobID]
	delete(r.pending, jobID)
	r.tokens[jobID] = cancel
	r.mu.Unlock()

	if cancelled {
		r.logger.Info("Job was cancelled before it started", "job_id", jobID)
		cancel(ErrAborted)
	}

	release := func() {
		r.mu.Lock()
		delete(r.tokens, jobID)
		r.mu.Unlock()
		cancel(nil)
	}
	return jobCtx, release
}

// Cancel aborts jobID if registered, otherwise remembers the request.
// It reports whether a running job was signalled.
func (r *Registry) Cancel(jobID string) bool {
	r.mu.Lock()
	cancel, ok := r.tokens[jobID]
	if !ok {
		r.prunePending()
		r.pending[jobID] = r.now()
	}
	r.mu.Unlock()

	if ok {
		cancel(ErrAborted)
	}
	return ok
}

// Running returns the number of registered jobs
func (r *Registry) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}

// Close drops the bus subscription
func (r *Registry) Close() {
	r.bus.Unsubscribe(r.subID)
}

func (r *Registry) handle(e events.Event) {
	msg, ok := e.(events.CancelJob)
	if !ok {
		return
	}
	if r.Cancel(msg.JobID) {
		r.logger.Info("Aborting job", "job_id", msg.JobID)
	} else {
		r.logger.Debug("Remembering cancel for job not yet running", "job_id", msg.JobID)
	}
}

// prunePending must be called with mu held
func (r *Registry) prunePending() {
	cutoff := r.now().Add(-r.pendingTTL)
	for id, at := range r.pending {
		if at.Before(cutoff) {
			delete(r.pending, id)
		}
	}
}

// Checkpoint returns ErrAborted once the job context was cancelled through
// the registry, or the context's cause for any other cancellation
func Checkpoint(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	cause := context.Cause(ctx)
	if errors.Is(cause, ErrAborted) {
		return ErrAborted
	}
	return cause
}

// IsAborted reports whether err is the aborted fault
func IsAborted(err error) bool {
	return errors.Is(err, ErrAborted)
}
