package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"docbrain/internal/app"
	"docbrain/internal/chunker"
	"docbrain/internal/embedding"
	"docbrain/internal/model"
	"docbrain/internal/pkg/extract"
	"docbrain/internal/pkg/vecmath"
	"docbrain/internal/transport/http/response"
	"docbrain/internal/vectorindex"
)

// Brain is the part of *app.BrainService the HTTP layer drives.
type Brain interface {
	ChunkDocumentWithMetadata(text string, documentID uint, opts app.ChunkOptions) []chunker.Chunk
	IngestDocument(ctx context.Context, input app.IngestInput) (*app.IngestResult, error)
	EnqueueIngest(ctx context.Context, input app.IngestInput) (*model.IngestionRun, error)
	LatestRun(ctx context.Context, documentID uint) (*model.IngestionRun, error)
	DeleteDocumentChunks(ctx context.Context, documentID uint) (int, error)
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	SearchSimilarChunks(ctx context.Context, query []float32, opts vectorindex.SearchOptions) ([]vectorindex.SearchResult, error)
	SearchText(ctx context.Context, query string, opts vectorindex.SearchOptions) ([]vectorindex.SearchResult, error)
	BuildContext(ctx context.Context, query string, opts app.ContextOptions) (*app.ContextResult, error)
	Stats(ctx context.Context) (*app.StatsResult, error)
}

// SearchDefaults fill in top_k and min_score when a request leaves them out.
type SearchDefaults struct {
	TopK     int
	MinScore float64
}

type BrainHandler struct {
	brain          Brain
	extractor      extract.Extractor
	defaults       SearchDefaults
	maxUploadBytes int64
	logger         *zap.Logger
}

type IngestRequest struct {
	Text          string `json:"text"`
	MaxTokens     int    `json:"max_tokens" binding:"gte=0"`
	OverlapTokens *int   `json:"overlap_tokens" binding:"omitempty,gte=0"`
}

type EmbeddingRequest struct {
	Text string `json:"text" binding:"required"`
}

type SearchRequest struct {
	Query       string    `json:"query"`
	Embedding   []float32 `json:"embedding"`
	TopK        int       `json:"top_k" binding:"gte=0"`
	MinScore    *float64  `json:"min_score"`
	DocumentIDs []uint    `json:"document_ids"`
}

type ContextRequest struct {
	Query       string   `json:"query" binding:"required"`
	MaxChunks   int      `json:"max_chunks" binding:"gte=0"`
	MinScore    *float64 `json:"min_score"`
	DocumentIDs []uint   `json:"document_ids"`
}

type chunkView struct {
	ChunkIndex int    `json:"chunk_index"`
	Content    string `json:"content"`
	TokenCount int    `json:"token_count"`
	Overlap    int    `json:"overlap"`
}

func NewBrainHandler(brain Brain, extractor extract.Extractor, defaults SearchDefaults, maxUploadBytes int64, logger *zap.Logger) *BrainHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BrainHandler{
		brain:          brain,
		extractor:      extractor,
		defaults:       defaults,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

func (h *BrainHandler) PreviewChunks(c *gin.Context) {
	documentID, ok := documentIDParam(c)
	if !ok {
		return
	}
	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	chunks := h.brain.ChunkDocumentWithMetadata(req.Text, documentID, app.ChunkOptions{
		MaxTokens:     req.MaxTokens,
		OverlapTokens: req.OverlapTokens,
	})
	views := make([]chunkView, len(chunks))
	for i, ch := range chunks {
		views[i] = chunkView{
			ChunkIndex: ch.ChunkIndex,
			Content:    ch.Content,
			TokenCount: ch.TokenCount,
			Overlap:    ch.Overlap,
		}
	}
	response.OK(c, gin.H{"document_id": documentID, "chunks": views})
}

func (h *BrainHandler) Ingest(c *gin.Context) {
	documentID, ok := documentIDParam(c)
	if !ok {
		return
	}
	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.brain.IngestDocument(c.Request.Context(), app.IngestInput{
		DocumentID:    documentID,
		Text:          req.Text,
		MaxTokens:     req.MaxTokens,
		OverlapTokens: req.OverlapTokens,
	})
	if err != nil {
		h.writeError(c, err, "ingest failed")
		return
	}
	response.OK(c, result)
}

func (h *BrainHandler) IngestAsync(c *gin.Context) {
	documentID, ok := documentIDParam(c)
	if !ok {
		return
	}
	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	run, err := h.brain.EnqueueIngest(c.Request.Context(), app.IngestInput{
		DocumentID:    documentID,
		Text:          req.Text,
		MaxTokens:     req.MaxTokens,
		OverlapTokens: req.OverlapTokens,
	})
	if err != nil {
		h.writeError(c, err, "enqueue ingest failed")
		return
	}
	response.JSON(c, http.StatusAccepted, run)
}

// Upload accepts a multipart form with "file", extracts its text and ingests it
// synchronously. Optional "max_tokens" and "overlap_tokens" form fields tune chunking.
func (h *BrainHandler) Upload(c *gin.Context) {
	documentID, ok := documentIDParam(c)
	if !ok {
		return
	}
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, http.StatusRequestEntityTooLarge, response.CodePayloadTooLarge, "file too large")
			return
		}
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing file")
		return
	}
	maxTokens, overlap, err := chunkFormFields(c)
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "open file failed")
		return
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "read file failed")
		return
	}

	text, err := h.extractor.Extract(fileHeader.Filename, content)
	if err != nil {
		if errors.Is(err, extract.ErrUnsupportedType) {
			response.Error(c, http.StatusUnsupportedMediaType, response.CodeUnsupportedType, err.Error())
			return
		}
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "extract text failed: "+err.Error())
		return
	}

	result, err := h.brain.IngestDocument(c.Request.Context(), app.IngestInput{
		DocumentID:    documentID,
		Text:          text,
		MaxTokens:     maxTokens,
		OverlapTokens: overlap,
	})
	if err != nil {
		h.writeError(c, err, "ingest failed")
		return
	}
	response.OK(c, gin.H{
		"filename":   fileHeader.Filename,
		"text_bytes": len(text),
		"ingest":     result,
	})
}

func (h *BrainHandler) LatestRun(c *gin.Context) {
	documentID, ok := documentIDParam(c)
	if !ok {
		return
	}
	run, err := h.brain.LatestRun(c.Request.Context(), documentID)
	if err != nil {
		h.writeError(c, err, "get ingestion run failed")
		return
	}
	response.OK(c, run)
}

func (h *BrainHandler) DeleteChunks(c *gin.Context) {
	documentID, ok := documentIDParam(c)
	if !ok {
		return
	}
	deleted, err := h.brain.DeleteDocumentChunks(c.Request.Context(), documentID)
	if err != nil {
		h.writeError(c, err, "delete chunks failed")
		return
	}
	response.OK(c, gin.H{"document_id": documentID, "deleted": deleted})
}

func (h *BrainHandler) Embed(c *gin.Context) {
	var req EmbeddingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	vector, err := h.brain.GenerateEmbedding(c.Request.Context(), req.Text)
	if err != nil {
		h.writeError(c, err, "generate embedding failed")
		return
	}
	response.OK(c, gin.H{"embedding": vector, "dimensions": len(vector)})
}

// Search takes either a text query, embedded on the fly, or a ready embedding.
// The embedding wins when both are present.
func (h *BrainHandler) Search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	if req.Query == "" && len(req.Embedding) == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "query or embedding is required")
		return
	}

	opts := h.searchOptions(req.TopK, req.MinScore, req.DocumentIDs)
	var (
		results []vectorindex.SearchResult
		err     error
	)
	if len(req.Embedding) > 0 {
		results, err = h.brain.SearchSimilarChunks(c.Request.Context(), req.Embedding, opts)
	} else {
		results, err = h.brain.SearchText(c.Request.Context(), req.Query, opts)
	}
	if err != nil {
		h.writeError(c, err, "search failed")
		return
	}
	response.OK(c, gin.H{"results": results, "count": len(results)})
}

func (h *BrainHandler) Context(c *gin.Context) {
	var req ContextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	minScore := req.MinScore
	if minScore == nil {
		minScore = vectorindex.Score(h.defaults.MinScore)
	}
	result, err := h.brain.BuildContext(c.Request.Context(), req.Query, app.ContextOptions{
		MaxChunks:   req.MaxChunks,
		MinScore:    minScore,
		DocumentIDs: req.DocumentIDs,
	})
	if err != nil {
		h.writeError(c, err, "build context failed")
		return
	}
	response.OK(c, result)
}

func (h *BrainHandler) Stats(c *gin.Context) {
	stats, err := h.brain.Stats(c.Request.Context())
	if err != nil {
		h.writeError(c, err, "get stats failed")
		return
	}
	response.OK(c, stats)
}

func (h *BrainHandler) searchOptions(topK int, minScore *float64, documentIDs []uint) vectorindex.SearchOptions {
	if topK <= 0 {
		topK = h.defaults.TopK
	}
	if minScore == nil {
		minScore = vectorindex.Score(h.defaults.MinScore)
	}
	return vectorindex.SearchOptions{TopK: topK, MinScore: minScore, DocumentIDs: documentIDs}
}

func (h *BrainHandler) writeError(c *gin.Context, err error, message string) {
	var (
		dimErr *vecmath.DimensionMismatchError
		genErr *embedding.GenerationError
	)
	switch {
	case errors.Is(err, app.ErrInvalidInput), errors.Is(err, embedding.ErrEmptyText):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.As(err, &dimErr):
		response.Error(c, http.StatusUnprocessableEntity, response.CodeDimensionMismatch, dimErr.Error())
	case errors.Is(err, app.ErrDocumentBusy):
		response.Error(c, http.StatusConflict, response.CodeDocumentBusy, err.Error())
	case errors.Is(err, app.ErrRunNotFound):
		response.Error(c, http.StatusNotFound, response.CodeRunNotFound, err.Error())
	case errors.Is(err, app.ErrAsyncDisabled):
		response.Error(c, http.StatusServiceUnavailable, response.CodeServiceUnavailable, err.Error())
	case app.IsRetryable(err):
		h.logger.Warn(message, zap.Error(err))
		response.Error(c, http.StatusGatewayTimeout, response.CodeTimeout, message+": timeout")
	case errors.As(err, &genErr):
		h.logger.Error(message, zap.Error(err))
		response.Error(c, http.StatusBadGateway, response.CodeEmbeddingFailed, message+": "+err.Error())
	default:
		h.logger.Error(message, zap.Error(err))
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, message)
	}
}

// chunkFormFields reads the optional max_tokens and overlap_tokens form fields.
// An absent overlap_tokens stays nil so the configured overlap applies.
func chunkFormFields(c *gin.Context) (maxTokens int, overlap *int, err error) {
	if raw, ok := c.GetPostForm("max_tokens"); ok && raw != "" {
		maxTokens, err = strconv.Atoi(raw)
		if err != nil || maxTokens < 0 {
			return 0, nil, fmt.Errorf("invalid max_tokens %q", raw)
		}
	}
	if raw, ok := c.GetPostForm("overlap_tokens"); ok && raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return 0, nil, fmt.Errorf("invalid overlap_tokens %q", raw)
		}
		overlap = &n
	}
	return maxTokens, overlap, nil
}

func documentIDParam(c *gin.Context) (uint, bool) {
	u, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || u == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid document id")
		return 0, false
	}
	return uint(u), true
}
