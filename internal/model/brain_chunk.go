package model

import "time"

// BrainChunk stores one chunk of a document's text and its embedding.
// A document's chunk set is replaced as a whole on re-ingestion.
type BrainChunk struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	DocumentID uint      `gorm:"not null;uniqueIndex:idx_brain_chunks_document_chunk,priority:1" json:"document_id"`
	ChunkIndex int       `gorm:"not null;uniqueIndex:idx_brain_chunks_document_chunk,priority:2" json:"chunk_index"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	Embedding  Vector    `json:"-"`
	TokenCount int       `gorm:"not null;default:0" json:"token_count"`
	CreatedAt  time.Time `json:"created_at"`
}

func (BrainChunk) TableName() string { return "brain_chunks" }
