package model

import "time"

const (
	RunStatusPending    = "pending"
	RunStatusProcessing = "processing"
	RunStatusCompleted  = "completed"
	RunStatusFailed     = "failed"
)

// IngestionRun records one attempt to (re)build a document's chunk set.
type IngestionRun struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	JobID      string    `gorm:"size:36;not null;uniqueIndex" json:"job_id"`
	DocumentID uint      `gorm:"not null;index" json:"document_id"`
	Status     string    `gorm:"size:16;not null;index" json:"status"`
	ChunkCount int       `gorm:"not null;default:0" json:"chunk_count"`
	Error      string    `gorm:"type:text" json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (IngestionRun) TableName() string { return "brain_ingestion_runs" }
