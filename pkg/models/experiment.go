package models

import "time"

// Experiment runs one prompt version against a dataset under one evaluation
type Experiment struct {
	ID             uint   `gorm:"primarykey" json:"id"`
	UUID           string `gorm:"type:varchar(36);uniqueIndex;not null" json:"uuid"`
	WorkspaceID    uint   `gorm:"not null;index" json:"workspace_id"`
	Name           string `gorm:"type:varchar(255);not null" json:"name"`
	CommitID       uint   `gorm:"not null" json:"commit_id"`
	DocumentUUID   string `gorm:"type:varchar(36);not null" json:"document_uuid"`
	EvaluationUUID string `gorm:"type:varchar(36);not null" json:"evaluation_uuid"`
	Prompt         string `gorm:"type:longtext" json:"prompt"`

	// Dataset backed parameter population
	DatasetID     uint           `gorm:"not null" json:"dataset_id"`
	ParametersMap map[string]int `gorm:"serializer:json;type:text" json:"parameters_map"`
	FromRow       int            `json:"from_row"`
	ToRow         int            `json:"to_row"`

	Simulation *SimulationSettings `gorm:"serializer:json;type:text" json:"simulation,omitempty"`

	Passed int `gorm:"not null;default:0" json:"passed"`
	Failed int `gorm:"not null;default:0" json:"failed"`

	Error      *string    `gorm:"type:text" json:"error,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Running reports whether the experiment was started and has not finished
func (e *Experiment) Running() bool {
	return e.StartedAt != nil && e.FinishedAt == nil
}

// PassRate returns the share of passed evaluations, 0 when nothing ran
func (e *Experiment) PassRate() float64 {
	total := e.Passed + e.Failed
	if total == 0 {
		return 0
	}
	return float64(e.Passed) / float64(total)
}
