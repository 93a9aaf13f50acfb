package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"docbrain/internal/chunker"
	"docbrain/internal/embedding"
	"docbrain/internal/model"
	"docbrain/internal/pkg/logger"
	"docbrain/internal/vectorindex"
)

const defaultContextChunks = 3

// Embedder is satisfied by *embedding.Generator.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedChunks(ctx context.Context, chunks []chunker.Chunk) ([]chunker.Chunk, error)
	Usage() embedding.Usage
}

// VectorIndex is satisfied by *vectorindex.Index.
type VectorIndex interface {
	Store(ctx context.Context, documentID uint, chunks []chunker.Chunk) (int, error)
	Replace(ctx context.Context, documentID uint, chunks []chunker.Chunk) (deleted, stored int, err error)
	Delete(ctx context.Context, documentID uint) (int, error)
	Search(ctx context.Context, query []float32, opts vectorindex.SearchOptions) ([]vectorindex.SearchResult, error)
	Stats(ctx context.Context) (vectorindex.Stats, error)
}

// RunStore is satisfied by *repository.IngestionRunRepository.
type RunStore interface {
	Create(ctx context.Context, run *model.IngestionRun) error
	UpdateStatus(ctx context.Context, jobID, status string, chunkCount int, errMsg string) error
	GetByJobID(ctx context.Context, jobID string) (*model.IngestionRun, error)
	LatestByDocumentID(ctx context.Context, documentID uint) (*model.IngestionRun, error)
}

// DocumentLocker is satisfied by *cache.DocumentLock.
type DocumentLocker interface {
	Acquire(ctx context.Context, documentID uint) (release func(context.Context) error, ok bool, err error)
}

// JobPublisher is satisfied by *rabbitmq.IngestPublisher.
type JobPublisher interface {
	Publish(ctx context.Context, job model.IngestJob) error
}

// ChunkOptions overrides the configured chunking budgets. A zero MaxTokens or a nil
// OverlapTokens keeps the configured value; Tokens(0) turns overlap off.
type ChunkOptions struct {
	MaxTokens     int
	OverlapTokens *int
}

func Tokens(n int) *int { return &n }

type BrainService struct {
	embedder  Embedder
	index     VectorIndex
	runs      RunStore
	lock      DocumentLocker
	publisher JobPublisher
	logger    *zap.Logger

	maxTokens     int
	overlapTokens int
}

type BrainOption func(*BrainService)

// WithDocumentLock serialises ingestion per document. Without it callers must do so.
func WithDocumentLock(lock DocumentLocker) BrainOption {
	return func(s *BrainService) { s.lock = lock }
}

func WithJobPublisher(p JobPublisher) BrainOption {
	return func(s *BrainService) { s.publisher = p }
}

// WithChunking sets the default budgets used when a call does not override them.
func WithChunking(maxTokens, overlapTokens int) BrainOption {
	return func(s *BrainService) {
		s.maxTokens = maxTokens
		s.overlapTokens = overlapTokens
	}
}

func WithLogger(l *zap.Logger) BrainOption {
	return func(s *BrainService) { s.logger = logger.OrNop(l) }
}

func NewBrainService(embedder Embedder, index VectorIndex, runs RunStore, opts ...BrainOption) *BrainService {
	s := &BrainService{
		embedder: embedder,
		index:    index,
		runs:     runs,
		logger:   zap.NewNop(),

		maxTokens:     chunker.DefaultMaxTokens,
		overlapTokens: chunker.DefaultOverlapTokens,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ChunkDocumentWithMetadata splits text into chunks tagged with documentID.
func (s *BrainService) ChunkDocumentWithMetadata(text string, documentID uint, opts ChunkOptions) []chunker.Chunk {
	maxTokens, overlap := s.maxTokens, s.overlapTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}
	if opts.OverlapTokens != nil {
		overlap = *opts.OverlapTokens
	}
	c := chunker.New(
		chunker.WithMaxTokens(maxTokens),
		chunker.WithOverlapTokens(overlap),
		chunker.WithLogger(s.logger),
	)
	return c.ChunkDocument(text, documentID)
}

func (s *BrainService) EmbedChunks(ctx context.Context, chunks []chunker.Chunk) ([]chunker.Chunk, error) {
	return s.embedder.EmbedChunks(ctx, chunks)
}

func (s *BrainService) StoreChunkEmbeddings(ctx context.Context, documentID uint, chunks []chunker.Chunk) (int, error) {
	if documentID == 0 {
		return 0, ErrInvalidInput
	}
	return s.index.Store(ctx, documentID, chunks)
}

func (s *BrainService) DeleteDocumentChunks(ctx context.Context, documentID uint) (int, error) {
	if documentID == 0 {
		return 0, ErrInvalidInput
	}
	return s.index.Delete(ctx, documentID)
}

func (s *BrainService) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrInvalidInput
	}
	return s.embedder.Embed(ctx, text)
}

func (s *BrainService) SearchSimilarChunks(ctx context.Context, query []float32, opts vectorindex.SearchOptions) ([]vectorindex.SearchResult, error) {
	if len(query) == 0 {
		return nil, ErrInvalidInput
	}
	return s.index.Search(ctx, query, opts)
}

// SearchText embeds query and searches with the resulting vector.
func (s *BrainService) SearchText(ctx context.Context, query string, opts vectorindex.SearchOptions) ([]vectorindex.SearchResult, error) {
	vector, err := s.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.index.Search(ctx, vector, opts)
}

type IngestInput struct {
	DocumentID    uint
	Text          string
	MaxTokens     int
	OverlapTokens *int
	// JobID continues a run recorded by EnqueueIngest. Empty starts a new run.
	JobID string
}

type IngestResult struct {
	JobID        string `json:"job_id"`
	DocumentID   uint   `json:"document_id"`
	ChunkCount   int    `json:"chunk_count"`
	DeletedCount int    `json:"deleted_count"`
	TokenCount   int    `json:"token_count"`
}

// IngestDocument rebuilds a document's chunk set: chunk, embed, then replace the stored
// chunks in one transaction. Empty text leaves the document with no chunks.
func (s *BrainService) IngestDocument(ctx context.Context, input IngestInput) (*IngestResult, error) {
	if input.DocumentID == 0 {
		return nil, ErrInvalidInput
	}

	if s.lock != nil {
		release, ok, err := s.lock.Acquire(ctx, input.DocumentID)
		if err != nil {
			if input.JobID != "" {
				s.finishRun(ctx, input.JobID, model.RunStatusFailed, 0, "acquire document lock: "+err.Error())
			}
			return nil, fmt.Errorf("acquire document lock failed: %w", err)
		}
		if !ok {
			return nil, ErrDocumentBusy
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("release document lock failed", zap.Uint("document_id", input.DocumentID), zap.Error(err))
			}
		}()
	}

	jobID, err := s.startRun(ctx, input)
	if err != nil {
		return nil, err
	}
	log := s.logger.With(zap.String("job_id", jobID), zap.Uint("document_id", input.DocumentID))

	result, err := s.ingest(ctx, input)
	if err != nil {
		log.Error("document ingestion failed", zap.Error(err))
		s.finishRun(ctx, jobID, model.RunStatusFailed, 0, err.Error())
		return nil, err
	}
	result.JobID = jobID
	s.finishRun(ctx, jobID, model.RunStatusCompleted, result.ChunkCount, "")

	log.Info("document ingested",
		zap.Int("chunk_count", result.ChunkCount),
		zap.Int("deleted", result.DeletedCount),
	)
	return result, nil
}

func (s *BrainService) ingest(ctx context.Context, input IngestInput) (*IngestResult, error) {
	chunks := s.ChunkDocumentWithMetadata(input.Text, input.DocumentID, ChunkOptions{
		MaxTokens:     input.MaxTokens,
		OverlapTokens: input.OverlapTokens,
	})

	var err error
	if len(chunks) > 0 {
		chunks, err = s.embedder.EmbedChunks(ctx, chunks)
		if err != nil {
			return nil, err
		}
	}

	deleted, stored, err := s.index.Replace(ctx, input.DocumentID, chunks)
	if err != nil {
		return nil, err
	}

	tokens := 0
	for _, c := range chunks {
		tokens += c.TokenCount
	}
	return &IngestResult{
		DocumentID:   input.DocumentID,
		ChunkCount:   stored,
		DeletedCount: deleted,
		TokenCount:   tokens,
	}, nil
}

// EnqueueIngest records a pending run and hands the job to the ingestion queue.
func (s *BrainService) EnqueueIngest(ctx context.Context, input IngestInput) (*model.IngestionRun, error) {
	if input.DocumentID == 0 {
		return nil, ErrInvalidInput
	}
	if s.publisher == nil {
		return nil, ErrAsyncDisabled
	}

	run := &model.IngestionRun{
		JobID:      uuid.NewString(),
		DocumentID: input.DocumentID,
		Status:     model.RunStatusPending,
	}
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, err
	}

	job := model.IngestJob{
		JobID:         run.JobID,
		DocumentID:    input.DocumentID,
		Text:          input.Text,
		MaxTokens:     input.MaxTokens,
		OverlapTokens: input.OverlapTokens,
	}
	if err := s.publisher.Publish(ctx, job); err != nil {
		s.finishRun(ctx, run.JobID, model.RunStatusFailed, 0, err.Error())
		return nil, fmt.Errorf("enqueue ingest job failed: %w", err)
	}
	return run, nil
}

func (s *BrainService) LatestRun(ctx context.Context, documentID uint) (*model.IngestionRun, error) {
	if documentID == 0 {
		return nil, ErrInvalidInput
	}
	run, err := s.runs.LatestByDocumentID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, ErrRunNotFound
	}
	return run, nil
}

// MarkRunFailed records a failure that happened before IngestDocument could run,
// e.g. an undecodable queue payload.
func (s *BrainService) MarkRunFailed(ctx context.Context, jobID, reason string) {
	if jobID == "" {
		return
	}
	s.finishRun(ctx, jobID, model.RunStatusFailed, 0, reason)
}

type ContextOptions struct {
	MaxChunks   int
	MinScore    *float64
	DocumentIDs []uint
}

type ContextResult struct {
	Context string                     `json:"context"`
	Sources []vectorindex.SearchResult `json:"sources"`
}

// BuildContext searches for query and renders the best chunks as numbered source blocks
// ready to place in a prompt.
func (s *BrainService) BuildContext(ctx context.Context, query string, opts ContextOptions) (*ContextResult, error) {
	maxChunks := opts.MaxChunks
	if maxChunks <= 0 {
		maxChunks = defaultContextChunks
	}
	results, err := s.SearchText(ctx, query, vectorindex.SearchOptions{
		TopK:        maxChunks,
		MinScore:    opts.MinScore,
		DocumentIDs: opts.DocumentIDs,
	})
	if err != nil {
		return nil, err
	}

	blocks := make([]string, len(results))
	for i, r := range results {
		blocks[i] = fmt.Sprintf("[Source %d: document %d, chunk %d]\n%s", i+1, r.DocumentID, r.ChunkIndex, r.Content)
	}
	return &ContextResult{
		Context: strings.Join(blocks, "\n\n---\n\n"),
		Sources: results,
	}, nil
}

type StatsResult struct {
	Index     vectorindex.Stats `json:"index"`
	Embedding embedding.Usage   `json:"embedding"`
}

func (s *BrainService) Stats(ctx context.Context) (*StatsResult, error) {
	idx, err := s.index.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &StatsResult{Index: idx, Embedding: s.embedder.Usage()}, nil
}

func (s *BrainService) startRun(ctx context.Context, input IngestInput) (string, error) {
	if input.JobID != "" {
		existing, err := s.runs.GetByJobID(ctx, input.JobID)
		if err != nil {
			return "", err
		}
		if existing != nil {
			if err := s.runs.UpdateStatus(ctx, input.JobID, model.RunStatusProcessing, 0, ""); err != nil {
				return "", err
			}
			return input.JobID, nil
		}
	}

	jobID := input.JobID
	if jobID == "" {
		jobID = uuid.NewString()
	}
	run := &model.IngestionRun{
		JobID:      jobID,
		DocumentID: input.DocumentID,
		Status:     model.RunStatusProcessing,
	}
	if err := s.runs.Create(ctx, run); err != nil {
		return "", err
	}
	return jobID, nil
}

// finishRun outlives the caller's context so a timed-out run is still recorded.
func (s *BrainService) finishRun(ctx context.Context, jobID, status string, chunkCount int, errMsg string) {
	if err := s.runs.UpdateStatus(context.WithoutCancel(ctx), jobID, status, chunkCount, errMsg); err != nil {
		s.logger.Warn("update ingestion run failed",
			zap.String("job_id", jobID),
			zap.String("status", status),
			zap.Error(err),
		)
	}
}
