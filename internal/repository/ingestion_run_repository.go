package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"docbrain/internal/model"
)

type IngestionRunRepository struct {
	db *gorm.DB
}

func NewIngestionRunRepository(db *gorm.DB) *IngestionRunRepository {
	return &IngestionRunRepository{db: db}
}

func (r *IngestionRunRepository) Create(ctx context.Context, run *model.IngestionRun) error {
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("create ingestion run failed: %w", err)
	}
	return nil
}

// UpdateStatus moves a run to status and records its chunk count and error text.
func (r *IngestionRunRepository) UpdateStatus(ctx context.Context, jobID, status string, chunkCount int, errMsg string) error {
	res := r.db.WithContext(ctx).Model(&model.IngestionRun{}).
		Where("job_id = ?", jobID).
		Updates(map[string]any{
			"status":      status,
			"chunk_count": chunkCount,
			"error":       errMsg,
		})
	if res.Error != nil {
		return fmt.Errorf("update ingestion run failed: %w", res.Error)
	}
	return nil
}

// GetByJobID returns nil, nil when no run has the job id.
func (r *IngestionRunRepository) GetByJobID(ctx context.Context, jobID string) (*model.IngestionRun, error) {
	var run model.IngestionRun
	if err := r.db.WithContext(ctx).Where("job_id = ?", jobID).First(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get ingestion run failed: %w", err)
	}
	return &run, nil
}

// LatestByDocumentID returns the most recent run for a document, or nil, nil.
func (r *IngestionRunRepository) LatestByDocumentID(ctx context.Context, documentID uint) (*model.IngestionRun, error) {
	var run model.IngestionRun
	err := r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("created_at DESC").Order("id DESC").
		First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get latest ingestion run failed: %w", err)
	}
	return &run, nil
}
