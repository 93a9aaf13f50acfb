package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"docbrain/internal/model"
)

var errStopScan = errors.New("stop scan")

type BrainChunkRepository struct {
	db *gorm.DB
}

func NewBrainChunkRepository(db *gorm.DB) *BrainChunkRepository {
	return &BrainChunkRepository{db: db}
}

// DB exposes the handle for callers that need raw queries on the same connection.
func (r *BrainChunkRepository) DB() *gorm.DB { return r.db }

// CreateBatch inserts all chunks in a single statement.
func (r *BrainChunkRepository) CreateBatch(ctx context.Context, chunks []model.BrainChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(&chunks).Error; err != nil {
		return fmt.Errorf("create brain chunks batch failed: %w", err)
	}
	return nil
}

func (r *BrainChunkRepository) DeleteByDocumentID(ctx context.Context, documentID uint) (int64, error) {
	res := r.db.WithContext(ctx).Where("document_id = ?", documentID).Delete(&model.BrainChunk{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete brain chunks by document failed: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ReplaceDocument deletes the document's chunks and inserts the new set in one transaction.
func (r *BrainChunkRepository) ReplaceDocument(ctx context.Context, documentID uint, chunks []model.BrainChunk) (int64, error) {
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txRepo := NewBrainChunkRepository(tx)
		n, err := txRepo.DeleteByDocumentID(ctx, documentID)
		if err != nil {
			return err
		}
		deleted = n
		return txRepo.CreateBatch(ctx, chunks)
	})
	if err != nil {
		return 0, fmt.Errorf("replace brain chunks failed: %w", err)
	}
	return deleted, nil
}

// ListByDocumentID returns a document's chunks in chunk order.
func (r *BrainChunkRepository) ListByDocumentID(ctx context.Context, documentID uint) ([]model.BrainChunk, error) {
	var chunks []model.BrainChunk
	if err := r.db.WithContext(ctx).Where("document_id = ?", documentID).Order("chunk_index ASC").Find(&chunks).Error; err != nil {
		return nil, fmt.Errorf("list brain chunks by document failed: %w", err)
	}
	return chunks, nil
}

// ScanEmbeddings walks chunk rows in primary-key order, pageSize rows at a time, optionally
// restricted to documentIDs. It stops after maxRows rows when maxRows > 0 and reports
// whether rows were left unread.
func (r *BrainChunkRepository) ScanEmbeddings(
	ctx context.Context,
	documentIDs []uint,
	pageSize int,
	maxRows int,
	fn func(batch []model.BrainChunk) error,
) (scanned int, truncated bool, err error) {
	base := func() *gorm.DB {
		q := r.db.WithContext(ctx).Model(&model.BrainChunk{})
		if len(documentIDs) > 0 {
			q = q.Where("document_id IN ?", documentIDs)
		}
		return q
	}

	var page []model.BrainChunk
	res := base().FindInBatches(&page, pageSize, func(tx *gorm.DB, _ int) error {
		batch := page
		if maxRows > 0 && scanned+len(batch) > maxRows {
			batch = batch[:maxRows-scanned]
			truncated = true
		}
		scanned += len(batch)
		if err := fn(batch); err != nil {
			return err
		}
		if truncated {
			return errStopScan
		}
		if maxRows > 0 && scanned == maxRows && len(page) == pageSize {
			// a full page ending exactly at the cap may still have rows behind it
			var more int64
			if err := base().Where("id > ?", page[len(page)-1].ID).Count(&more).Error; err != nil {
				return err
			}
			truncated = more > 0
			return errStopScan
		}
		return nil
	})
	if res.Error != nil && !errors.Is(res.Error, errStopScan) {
		return scanned, truncated, fmt.Errorf("scan brain chunks failed: %w", res.Error)
	}
	return scanned, truncated, nil
}

func (r *BrainChunkRepository) CountChunks(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&model.BrainChunk{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count brain chunks failed: %w", err)
	}
	return n, nil
}

func (r *BrainChunkRepository) CountDocuments(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&model.BrainChunk{}).Distinct("document_id").Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count brain documents failed: %w", err)
	}
	return n, nil
}
