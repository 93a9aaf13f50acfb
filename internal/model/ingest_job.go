package model

// IngestJob is the queue payload for an asynchronous ingestion run.
type IngestJob struct {
	JobID         string `json:"job_id"`
	DocumentID    uint   `json:"document_id"`
	Text          string `json:"text"`
	MaxTokens     int    `json:"max_tokens,omitempty"`
	// OverlapTokens is nil when the configured overlap applies; 0 disables overlap.
	OverlapTokens *int   `json:"overlap_tokens,omitempty"`
}
