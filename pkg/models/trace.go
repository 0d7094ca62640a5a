package models

import "time"

// Trace is a recorded production run of a document
type Trace struct {
	ID           uint   `gorm:"primarykey" json:"id"`
	UUID         string `gorm:"type:varchar(36);uniqueIndex;not null" json:"uuid"`
	WorkspaceID  uint   `gorm:"not null;index" json:"workspace_id"`
	ProjectID    uint   `gorm:"not null;index" json:"project_id"`
	DocumentUUID string `gorm:"type:varchar(36);not null;index" json:"document_uuid"`
	CommitID     uint   `json:"commit_id"`

	// Parameter values the prompt was rendered with
	Parameters map[string]any `gorm:"serializer:json;type:text" json:"parameters"`

	IssueID          *uint `gorm:"index" json:"issue_id,omitempty"`
	EvaluationFailed bool  `gorm:"not null;default:false" json:"evaluation_failed"`

	CreatedAt time.Time `json:"created_at"`
}

// Issue groups failing traces of a document
type Issue struct {
	ID           uint       `gorm:"primarykey" json:"id"`
	WorkspaceID  uint       `gorm:"not null;index" json:"workspace_id"`
	DocumentUUID string     `gorm:"type:varchar(36);not null;index" json:"document_uuid"`
	Title        string     `gorm:"type:varchar(255)" json:"title"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
	IgnoredAt    *time.Time `json:"ignored_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Tracked reports whether the issue is still open
func (i *Issue) Tracked() bool {
	return i.ResolvedAt == nil && i.IgnoredAt == nil
}
