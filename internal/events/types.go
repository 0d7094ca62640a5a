// Package events carries domain events and the job cancellation channel
// between the lifecycle controller, the job workers and outside listeners.
package events

import "time"

// Topics published on the bus
const (
	TopicOptimizationPrepared  = "optimizationPrepared"
	TopicOptimizationExecuted  = "optimizationExecuted"
	TopicOptimizationValidated = "optimizationValidated"
	TopicOptimizationEnded     = "optimizationEnded"
	TopicExperimentStarted     = "experimentStarted"
	TopicExperimentStopped     = "experimentStopped"
	TopicCancelJob             = "cancelJob"
)

// Event is implemented by everything published on the bus
type Event interface {
	Topic() string
	OccurredAt() time.Time
}

type baseEvent struct {
	topic      string
	occurredAt time.Time
}

func (e baseEvent) Topic() string         { return e.topic }
func (e baseEvent) OccurredAt() time.Time { return e.occurredAt }

func newBaseEvent(topic string) baseEvent {
	return baseEvent{topic: topic, occurredAt: time.Now()}
}

// OptimizationEvent is emitted after a phase transition commits
type OptimizationEvent struct {
	baseEvent
	WorkspaceID    uint `json:"workspaceId"`
	OptimizationID uint `json:"optimizationId"`
}

func newOptimizationEvent(topic string, workspaceID, optimizationID uint) OptimizationEvent {
	return OptimizationEvent{
		baseEvent:      newBaseEvent(topic),
		WorkspaceID:    workspaceID,
		OptimizationID: optimizationID,
	}
}

// NewOptimizationPrepared creates the event emitted once datasets are curated
func NewOptimizationPrepared(workspaceID, optimizationID uint) OptimizationEvent {
	return newOptimizationEvent(TopicOptimizationPrepared, workspaceID, optimizationID)
}

// NewOptimizationExecuted creates the event emitted once the engine output is stored
func NewOptimizationExecuted(workspaceID, optimizationID uint) OptimizationEvent {
	return newOptimizationEvent(TopicOptimizationExecuted, workspaceID, optimizationID)
}

// NewOptimizationValidated creates the event emitted once validation finishes
func NewOptimizationValidated(workspaceID, optimizationID uint) OptimizationEvent {
	return newOptimizationEvent(TopicOptimizationValidated, workspaceID, optimizationID)
}

// NewOptimizationEnded creates the event emitted exactly once per optimization
func NewOptimizationEnded(workspaceID, optimizationID uint) OptimizationEvent {
	return newOptimizationEvent(TopicOptimizationEnded, workspaceID, optimizationID)
}

// ExperimentEvent notifies the external experiment runner
type ExperimentEvent struct {
	baseEvent
	WorkspaceID  uint `json:"workspaceId"`
	ExperimentID uint `json:"experimentId"`
}

// NewExperimentStarted creates the event that hands an experiment to the runner
func NewExperimentStarted(workspaceID, experimentID uint) ExperimentEvent {
	return ExperimentEvent{
		baseEvent:    newBaseEvent(TopicExperimentStarted),
		WorkspaceID:  workspaceID,
		ExperimentID: experimentID,
	}
}

// NewExperimentStopped creates the event emitted when an experiment is stopped early
func NewExperimentStopped(workspaceID, experimentID uint) ExperimentEvent {
	return ExperimentEvent{
		baseEvent:    newBaseEvent(TopicExperimentStopped),
		WorkspaceID:  workspaceID,
		ExperimentID: experimentID,
	}
}

// CancelJob asks whichever worker runs JobID to abort
type CancelJob struct {
	baseEvent
	JobID string `json:"jobId"`
}

// NewCancelJob creates a cancellation message for a job id
func NewCancelJob(jobID string) CancelJob {
	return CancelJob{
		baseEvent: newBaseEvent(TopicCancelJob),
		JobID:     jobID,
	}
}
