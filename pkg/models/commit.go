package models

import "time"

// Commit is a version of a project's documents
type Commit struct {
	ID        uint       `gorm:"primarykey" json:"id"`
	UUID      string     `gorm:"type:varchar(36);uniqueIndex;not null" json:"uuid"`
	ProjectID uint       `gorm:"not null;index" json:"project_id"`
	Title     string     `gorm:"type:varchar(255)" json:"title"`
	MergedAt  *time.Time `json:"merged_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Document is a prompt at a specific commit
type Document struct {
	ID           uint      `gorm:"primarykey" json:"id"`
	CommitID     uint      `gorm:"not null;uniqueIndex:idx_commit_document" json:"commit_id"`
	DocumentUUID string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_commit_document" json:"document_uuid"`
	Path         string    `gorm:"type:varchar(500)" json:"path"`
	Content      string    `gorm:"type:longtext" json:"content"`
	CreatedAt    time.Time `json:"created_at"`
}

// Evaluation scores experiment results
type Evaluation struct {
	ID           uint      `gorm:"primarykey" json:"id"`
	UUID         string    `gorm:"type:varchar(36);uniqueIndex;not null" json:"uuid"`
	WorkspaceID  uint      `gorm:"not null;index" json:"workspace_id"`
	DocumentUUID string    `gorm:"type:varchar(36);not null" json:"document_uuid"`
	Name         string    `gorm:"type:varchar(255)" json:"name"`
	CreatedAt    time.Time `json:"created_at"`
}
