package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docbrain/internal/app"
	"docbrain/internal/bootstrap"
	"docbrain/internal/chunker"
	"docbrain/internal/config"
	"docbrain/internal/embedding"
	"docbrain/internal/model"
	"docbrain/internal/pkg/extract"
	"docbrain/internal/pkg/vecmath"
	"docbrain/internal/platform/database"
	"docbrain/internal/transport/http/handler"
	"docbrain/internal/transport/http/response"
	"docbrain/internal/vectorindex"
)

type fakeBrain struct {
	err error

	ingested   []app.IngestInput
	searchOpts vectorindex.SearchOptions
	searchedBy string
	ctxOpts    app.ContextOptions
}

func (f *fakeBrain) ChunkDocumentWithMetadata(text string, documentID uint, opts app.ChunkOptions) []chunker.Chunk {
	return chunker.New(chunker.WithMaxTokens(opts.MaxTokens)).ChunkDocument(text, documentID)
}

func (f *fakeBrain) IngestDocument(_ context.Context, input app.IngestInput) (*app.IngestResult, error) {
	f.ingested = append(f.ingested, input)
	if f.err != nil {
		return nil, f.err
	}
	return &app.IngestResult{JobID: "job-1", DocumentID: input.DocumentID, ChunkCount: 1}, nil
}

func (f *fakeBrain) EnqueueIngest(_ context.Context, input app.IngestInput) (*model.IngestionRun, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &model.IngestionRun{JobID: "job-2", DocumentID: input.DocumentID, Status: model.RunStatusPending}, nil
}

func (f *fakeBrain) LatestRun(_ context.Context, documentID uint) (*model.IngestionRun, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &model.IngestionRun{JobID: "job-3", DocumentID: documentID, Status: model.RunStatusCompleted}, nil
}

func (f *fakeBrain) DeleteDocumentChunks(context.Context, uint) (int, error) {
	return 4, f.err
}

func (f *fakeBrain) GenerateEmbedding(context.Context, string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2}, nil
}

func (f *fakeBrain) SearchSimilarChunks(_ context.Context, _ []float32, opts vectorindex.SearchOptions) ([]vectorindex.SearchResult, error) {
	f.searchedBy, f.searchOpts = "embedding", opts
	return []vectorindex.SearchResult{{ChunkID: 1, DocumentID: 2, Score: 0.9}}, f.err
}

func (f *fakeBrain) SearchText(_ context.Context, _ string, opts vectorindex.SearchOptions) ([]vectorindex.SearchResult, error) {
	f.searchedBy, f.searchOpts = "text", opts
	if f.err != nil {
		return nil, f.err
	}
	return []vectorindex.SearchResult{}, nil
}

func (f *fakeBrain) BuildContext(_ context.Context, _ string, opts app.ContextOptions) (*app.ContextResult, error) {
	f.ctxOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	return &app.ContextResult{Context: "[Source 1: document 2, chunk 0]\nhello"}, nil
}

func (f *fakeBrain) Stats(context.Context) (*app.StatsResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &app.StatsResult{Index: vectorindex.Stats{TotalChunks: 3}}, nil
}

func newTestRouter(brain handler.Brain) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := handler.NewBrainHandler(brain, extract.Default{}, handler.SearchDefaults{TopK: 5, MinScore: 0.7}, 1<<20, nil)
	RegisterBrainRoutes(r.Group("/api/v1/brain"), h)
	return r
}

func do(t *testing.T, r http.Handler, method, path, body string) (*httptest.ResponseRecorder, response.APIResponse) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var env response.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func TestIngestRoute(t *testing.T) {
	brain := &fakeBrain{}
	r := newTestRouter(brain)

	rec, env := do(t, r, http.MethodPost, "/api/v1/brain/documents/7/ingest", `{"text":"Hello there.","max_tokens":50}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, response.CodeOK, env.Code)
	require.Len(t, brain.ingested, 1)
	assert.Equal(t, uint(7), brain.ingested[0].DocumentID)
	assert.Equal(t, 50, brain.ingested[0].MaxTokens)

	rec, _ = do(t, r, http.MethodPost, "/api/v1/brain/documents/abc/ingest", `{"text":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Nil(t, brain.ingested[0].OverlapTokens)

	rec, _ = do(t, r, http.MethodPost, "/api/v1/brain/documents/7/ingest", `{"text":"x","overlap_tokens":0}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, brain.ingested, 2)
	require.NotNil(t, brain.ingested[1].OverlapTokens)
	assert.Zero(t, *brain.ingested[1].OverlapTokens)

	rec, _ = do(t, r, http.MethodPost, "/api/v1/brain/documents/7/ingest", `{"max_tokens":-1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, r, http.MethodPost, "/api/v1/brain/documents/7/ingest", `{"overlap_tokens":-2}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, brain.ingested, 2)
}

func TestAsyncIngestReturnsAccepted(t *testing.T) {
	rec, env := do(t, newTestRouter(&fakeBrain{}), http.MethodPost, "/api/v1/brain/documents/3/ingest/async", `{"text":"a."}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, response.CodeOK, env.Code)
	assert.Contains(t, rec.Body.String(), `"job_id":"job-2"`)
}

func TestPreviewChunks(t *testing.T) {
	rec, _ := do(t, newTestRouter(&fakeBrain{}), http.MethodPost, "/api/v1/brain/documents/1/chunks/preview", `{"text":"One. Two. Three."}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"content":"One. Two. Three."`)
	assert.Contains(t, rec.Body.String(), `"chunk_index":0`)
}

func TestSearchRoute(t *testing.T) {
	brain := &fakeBrain{}
	r := newTestRouter(brain)

	rec, _ := do(t, r, http.MethodPost, "/api/v1/brain/search", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, r, http.MethodPost, "/api/v1/brain/search", `{"query":"refund policy"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text", brain.searchedBy)
	assert.Equal(t, 5, brain.searchOpts.TopK)
	require.NotNil(t, brain.searchOpts.MinScore)
	assert.Equal(t, 0.7, *brain.searchOpts.MinScore)

	rec, _ = do(t, r, http.MethodPost, "/api/v1/brain/search", `{"query":"q","embedding":[1,0],"top_k":2,"min_score":0,"document_ids":[4]}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "embedding", brain.searchedBy)
	assert.Equal(t, 2, brain.searchOpts.TopK)
	assert.Equal(t, 0.0, *brain.searchOpts.MinScore)
	assert.Equal(t, []uint{4}, brain.searchOpts.DocumentIDs)
	assert.Contains(t, rec.Body.String(), `"count":1`)
}

func TestContextRouteAppliesDefaultMinScore(t *testing.T) {
	brain := &fakeBrain{}
	rec, _ := do(t, newTestRouter(brain), http.MethodPost, "/api/v1/brain/context", `{"query":"q","max_chunks":2}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, brain.ctxOpts.MaxChunks)
	require.NotNil(t, brain.ctxOpts.MinScore)
	assert.Equal(t, 0.7, *brain.ctxOpts.MinScore)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   int
	}{
		{"invalid input", app.ErrInvalidInput, http.StatusBadRequest, response.CodeBadRequest},
		{"empty text", &embedding.GenerationError{Op: "embed", Err: embedding.ErrEmptyText}, http.StatusBadRequest, response.CodeBadRequest},
		{"dimension mismatch", &vecmath.DimensionMismatchError{Expected: 1536, Actual: 3}, http.StatusUnprocessableEntity, response.CodeDimensionMismatch},
		{"busy", app.ErrDocumentBusy, http.StatusConflict, response.CodeDocumentBusy},
		{"async disabled", app.ErrAsyncDisabled, http.StatusServiceUnavailable, response.CodeServiceUnavailable},
		{"timeout", &embedding.GenerationError{Op: "embed", Err: context.DeadlineExceeded}, http.StatusGatewayTimeout, response.CodeTimeout},
		{"provider failure", &embedding.GenerationError{Op: "embed", Err: errors.New("status 500")}, http.StatusBadGateway, response.CodeEmbeddingFailed},
		{"store failure", &vectorindex.StoreError{Op: "search", Err: errors.New("boom")}, http.StatusInternalServerError, response.CodeInternalServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := do(t, newTestRouter(&fakeBrain{err: tt.err}), http.MethodPost, "/api/v1/brain/embeddings", `{"text":"hi"}`)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, env.Code)
		})
	}
}

func TestLatestRunNotFound(t *testing.T) {
	rec, env := do(t, newTestRouter(&fakeBrain{err: app.ErrRunNotFound}), http.MethodGet, "/api/v1/brain/documents/9/ingestion", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, response.CodeRunNotFound, env.Code)
}

func TestDeleteAndStats(t *testing.T) {
	r := newTestRouter(&fakeBrain{})

	rec, _ := do(t, r, http.MethodDelete, "/api/v1/brain/documents/9/chunks", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"deleted":4`)

	rec, _ = do(t, r, http.MethodGet, "/api/v1/brain/stats", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total_chunks":3`)
}

func upload(t *testing.T, r http.Handler, filename string, content []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/brain/documents/5/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestUpload(t *testing.T) {
	brain := &fakeBrain{}
	r := newTestRouter(brain)

	rec := upload(t, r, "notes.txt", []byte("First point. Second point."), map[string]string{"max_tokens": "40"})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, brain.ingested, 1)
	assert.Equal(t, "First point. Second point.", brain.ingested[0].Text)
	assert.Equal(t, 40, brain.ingested[0].MaxTokens)
	assert.Nil(t, brain.ingested[0].OverlapTokens)

	rec = upload(t, r, "notes.txt", []byte("Only point."), map[string]string{"overlap_tokens": "0"})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, brain.ingested, 2)
	require.NotNil(t, brain.ingested[1].OverlapTokens)
	assert.Zero(t, *brain.ingested[1].OverlapTokens)

	rec = upload(t, r, "photo.png", []byte{0x89, 'P', 'N', 'G'}, nil)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestUploadRejectsMalformedChunkFields(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
	}{
		{"max tokens not a number", map[string]string{"max_tokens": "lots"}},
		{"negative max tokens", map[string]string{"max_tokens": "-5"}},
		{"overlap not a number", map[string]string{"overlap_tokens": "1.5"}},
		{"negative overlap", map[string]string{"overlap_tokens": "-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			brain := &fakeBrain{}
			rec := upload(t, newTestRouter(brain), "notes.txt", []byte("A point."), tt.fields)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Empty(t, brain.ingested)
		})
	}
}

func TestHealthz(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db, err := database.New(context.Background(), database.Options{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "health.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		_ = sqlDB.Close()
	})

	cfg := &config.Config{App: config.AppConfig{Name: "docbrain", Env: "test"}}
	a := &bootstrap.App{Config: cfg, DB: db, StartedAt: time.Now()}

	r := gin.New()
	r.GET("/healthz", handler.NewHealthHandler(a).Check)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"database":{"ok":true,"enabled":true}`)

	cfg.RabbitMQ.Enabled = true
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection closed")
}
