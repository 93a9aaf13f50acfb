// Package vectorindex stores chunk embeddings and answers similarity queries, through the
// database's nearest-neighbour operator when it has one and an in-process scan otherwise.
package vectorindex

import (
	"cmp"
	"context"
	"errors"
	"slices"

	"go.uber.org/zap"

	"docbrain/internal/chunker"
	"docbrain/internal/model"
	"docbrain/internal/pkg/logger"
	"docbrain/internal/pkg/vecmath"
	"docbrain/internal/repository"
)

type Index struct {
	repo   *repository.BrainChunkRepository
	native NativeSearcher
	cfg    Config
	logger *zap.Logger
}

type Option func(*Index)

// WithNativeSearcher enables the primary search path. A nil searcher leaves only the fallback.
func WithNativeSearcher(s NativeSearcher) Option {
	return func(ix *Index) { ix.native = s }
}

func WithLogger(l *zap.Logger) Option {
	return func(ix *Index) { ix.logger = logger.OrNop(l) }
}

func New(repo *repository.BrainChunkRepository, cfg Config, opts ...Option) *Index {
	ix := &Index{
		repo:   repo,
		cfg:    cfg.withDefaults(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

func (ix *Index) Dimensions() int { return ix.cfg.Dimensions }

// Store writes one row per chunk in a single batch insert and returns the row count.
// Every chunk must carry an embedding of the configured dimension.
func (ix *Index) Store(ctx context.Context, documentID uint, chunks []chunker.Chunk) (int, error) {
	rows, err := ix.toRows(documentID, chunks)
	if err != nil {
		return 0, err
	}
	if err := ix.repo.CreateBatch(ctx, rows); err != nil {
		return 0, &StoreError{Op: "store", DocumentID: documentID, Rows: len(rows), Err: err}
	}
	ix.logger.Info("chunk embeddings stored",
		zap.Uint("document_id", documentID),
		zap.Int("chunk_count", len(rows)),
	)
	return len(rows), nil
}

// Replace swaps a document's chunk set in one transaction.
func (ix *Index) Replace(ctx context.Context, documentID uint, chunks []chunker.Chunk) (deleted, stored int, err error) {
	rows, err := ix.toRows(documentID, chunks)
	if err != nil {
		return 0, 0, err
	}
	n, err := ix.repo.ReplaceDocument(ctx, documentID, rows)
	if err != nil {
		return 0, 0, &StoreError{Op: "replace", DocumentID: documentID, Rows: len(rows), Err: err}
	}
	ix.logger.Info("chunk embeddings replaced",
		zap.Uint("document_id", documentID),
		zap.Int64("deleted", n),
		zap.Int("chunk_count", len(rows)),
	)
	return int(n), len(rows), nil
}

// Delete removes every chunk of a document. Deleting an empty document returns 0.
func (ix *Index) Delete(ctx context.Context, documentID uint) (int, error) {
	n, err := ix.repo.DeleteByDocumentID(ctx, documentID)
	if err != nil {
		return 0, &StoreError{Op: "delete", DocumentID: documentID, Err: err}
	}
	return int(n), nil
}

// Search returns at most TopK chunks scoring at least MinScore, best first. Ties are
// ordered by chunk index, then chunk id.
func (ix *Index) Search(ctx context.Context, query []float32, opts SearchOptions) ([]SearchResult, error) {
	if err := vecmath.CheckDimension(query, ix.cfg.Dimensions); err != nil {
		return nil, err
	}
	if ix.cfg.SearchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ix.cfg.SearchTimeout)
		defer cancel()
	}

	if ix.native != nil {
		results, err := ix.searchNative(ctx, query, opts)
		if err == nil {
			return results, nil
		}
		if !errors.Is(err, ErrNativeUnavailable) {
			return nil, &StoreError{Op: "search", Err: err}
		}
		ix.logger.Warn("vector search fallback triggered", zap.String("reason", err.Error()))
	} else {
		ix.logger.Warn("vector search fallback triggered", zap.String("reason", "no native searcher for this database"))
	}
	return ix.searchFallback(ctx, query, opts)
}

func (ix *Index) Stats(ctx context.Context) (Stats, error) {
	chunks, err := ix.repo.CountChunks(ctx)
	if err != nil {
		return Stats{}, err
	}
	docs, err := ix.repo.CountDocuments(ctx)
	if err != nil {
		return Stats{}, err
	}
	mode := "fallback"
	if ix.native != nil {
		mode = "native"
	}
	return Stats{
		TotalChunks:    chunks,
		TotalDocuments: docs,
		Dimensions:     ix.cfg.Dimensions,
		SearchMode:     mode,
	}, nil
}

func (ix *Index) searchNative(ctx context.Context, query []float32, opts SearchOptions) ([]SearchResult, error) {
	topK, minScore := opts.topK(), opts.minScore()
	matches, err := ix.native.SearchNative(ctx, query, topK*ix.cfg.NativeOverfetch, opts.DocumentIDs)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(matches))
	for _, m := range matches {
		score := 1 - m.Distance
		if score < minScore {
			continue
		}
		results = append(results, SearchResult{
			ChunkID:    m.ID,
			DocumentID: m.DocumentID,
			Content:    m.Content,
			ChunkIndex: m.ChunkIndex,
			Score:      score,
		})
	}
	return rank(results, topK), nil
}

// searchFallback scores candidate rows in-process. Only rows above the floor are kept and
// the set is pruned to topK between pages.
func (ix *Index) searchFallback(ctx context.Context, query []float32, opts SearchOptions) ([]SearchResult, error) {
	topK, minScore := opts.topK(), opts.minScore()

	var results []SearchResult
	scanned, truncated, err := ix.repo.ScanEmbeddings(ctx, opts.DocumentIDs, ix.cfg.FallbackPageSize, ix.cfg.FallbackMaxRows,
		func(batch []model.BrainChunk) error {
			for _, row := range batch {
				if len(row.Embedding) == 0 {
					continue
				}
				score, err := vecmath.CosineSimilarity(query, row.Embedding)
				if err != nil {
					return err
				}
				if score < minScore {
					continue
				}
				results = append(results, SearchResult{
					ChunkID:    row.ID,
					DocumentID: row.DocumentID,
					Content:    row.Content,
					ChunkIndex: row.ChunkIndex,
					Score:      score,
				})
			}
			if len(results) > 4*topK {
				results = rank(results, topK)
			}
			return nil
		})
	if err != nil {
		var dimErr *vecmath.DimensionMismatchError
		if errors.As(err, &dimErr) {
			return nil, dimErr
		}
		return nil, &StoreError{Op: "search", Rows: scanned, Err: err}
	}
	if truncated {
		ix.logger.Warn("fallback search hit the row cap, results may be partial",
			zap.Int("scanned", scanned),
			zap.Int("max_rows", ix.cfg.FallbackMaxRows),
		)
	}
	return rank(results, topK), nil
}

func (ix *Index) toRows(documentID uint, chunks []chunker.Chunk) ([]model.BrainChunk, error) {
	rows := make([]model.BrainChunk, len(chunks))
	for i, c := range chunks {
		if err := vecmath.CheckDimension(c.Embedding, ix.cfg.Dimensions); err != nil {
			return nil, err
		}
		rows[i] = model.BrainChunk{
			DocumentID: documentID,
			ChunkIndex: c.ChunkIndex,
			Content:    c.Content,
			Embedding:  model.Vector(c.Embedding),
			TokenCount: c.TokenCount,
		}
	}
	return rows, nil
}

func rank(results []SearchResult, topK int) []SearchResult {
	slices.SortFunc(results, func(a, b SearchResult) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.ChunkIndex, b.ChunkIndex); c != 0 {
			return c
		}
		return cmp.Compare(a.ChunkID, b.ChunkID)
	})
	if len(results) > topK {
		results = results[:topK]
	}
	if results == nil {
		results = []SearchResult{}
	}
	return results
}
