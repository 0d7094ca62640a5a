package models

import "time"

// Polarity labels a curated example row
type Polarity string

const (
	// PolarityPositive rows come from traces with no tracked issue
	PolarityPositive Polarity = "positive"
	// PolarityNegative rows come from traces linked to a tracked issue
	PolarityNegative Polarity = "negative"
)

// Dataset is a named collection of parameter rows
type Dataset struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	UUID        string    `gorm:"type:varchar(36);uniqueIndex;not null" json:"uuid"`
	WorkspaceID uint      `gorm:"not null;index" json:"workspace_id"`
	Name        string    `gorm:"type:varchar(255);not null" json:"name"`
	Columns     []string  `gorm:"serializer:json;type:text" json:"columns"`
	RowCount    int       `gorm:"not null;default:0" json:"row_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DatasetRow is one example; Values is keyed by column name
type DatasetRow struct {
	ID        uint              `gorm:"primarykey" json:"id"`
	DatasetID uint              `gorm:"not null;index:idx_dataset_position" json:"dataset_id"`
	Position  int               `gorm:"not null;index:idx_dataset_position" json:"position"`
	Polarity  Polarity          `gorm:"type:varchar(10)" json:"polarity,omitempty"`
	TraceUUID string            `gorm:"type:varchar(36)" json:"trace_uuid,omitempty"`
	Values    map[string]string `gorm:"serializer:json;type:text" json:"values"`
	CreatedAt time.Time         `json:"created_at"`
}
