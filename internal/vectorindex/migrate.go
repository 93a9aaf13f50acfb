package vectorindex

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"docbrain/internal/model"
	"docbrain/internal/pkg/logger"
)

const searchFunctionSQL = `CREATE OR REPLACE FUNCTION ` + SearchFunction + `(
	query_embedding vector,
	match_count int,
	filter_document_ids bigint[] DEFAULT NULL
)
RETURNS TABLE (id bigint, document_id bigint, content text, chunk_index bigint, distance float8)
LANGUAGE sql STABLE AS $$
	SELECT c.id, c.document_id, c.content, c.chunk_index, (c.embedding <=> query_embedding)::float8 AS distance
	FROM brain_chunks c
	WHERE filter_document_ids IS NULL OR c.document_id = ANY(filter_document_ids)
	ORDER BY c.embedding <=> query_embedding
	LIMIT match_count;
$$`

type MigrateOptions struct {
	Dimensions int
	// CreateFunction installs or replaces the server-side search function on postgres.
	CreateFunction bool
	Logger         *zap.Logger
}

// Migrate creates the chunk and ingestion-run tables. On postgres it also enables pgvector,
// pins the embedding column to the configured dimension and builds an HNSW cosine index.
func Migrate(ctx context.Context, db *gorm.DB, opts MigrateOptions) error {
	log := logger.OrNop(opts.Logger)
	if opts.Dimensions <= 0 {
		opts.Dimensions = DefaultDimensions
	}
	db = db.WithContext(ctx)
	postgres := db.Dialector.Name() == "postgres"

	if postgres {
		if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
			return fmt.Errorf("create vector extension failed: %w", err)
		}
	}
	if err := db.AutoMigrate(&model.BrainChunk{}, &model.IngestionRun{}); err != nil {
		return fmt.Errorf("auto migrate failed: %w", err)
	}
	if !postgres {
		log.Info("schema migrated", zap.String("dialect", db.Dialector.Name()))
		return nil
	}

	want := fmt.Sprintf("vector(%d)", opts.Dimensions)
	var current string
	err := db.Raw(`SELECT format_type(atttypid, atttypmod) FROM pg_attribute
		WHERE attrelid = 'brain_chunks'::regclass AND attname = 'embedding'`).Scan(&current).Error
	if err != nil {
		return fmt.Errorf("read embedding column type failed: %w", err)
	}
	if current != want {
		// fails when stored rows have another dimension, which must not be coerced
		if err := db.Exec("ALTER TABLE brain_chunks ALTER COLUMN embedding TYPE " + want).Error; err != nil {
			return fmt.Errorf("pin embedding dimension failed: %w", err)
		}
		log.Info("embedding column pinned", zap.String("from", current), zap.String("to", want))
	}

	if err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_brain_chunks_embedding
		ON brain_chunks USING hnsw (embedding vector_cosine_ops)`).Error; err != nil {
		return fmt.Errorf("create embedding index failed: %w", err)
	}
	if opts.CreateFunction {
		if err := db.Exec(searchFunctionSQL).Error; err != nil {
			return fmt.Errorf("create search function failed: %w", err)
		}
	}
	log.Info("schema migrated",
		zap.String("dialect", "postgres"),
		zap.Int("dimension", opts.Dimensions),
		zap.Bool("search_function", opts.CreateFunction),
	)
	return nil
}
