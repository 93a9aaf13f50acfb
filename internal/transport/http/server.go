package http

import (
	"github.com/gin-gonic/gin"

	"docbrain/internal/bootstrap"
	"docbrain/internal/transport/http/handler"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	brainHandler := handler.NewBrainHandler(
		app.Brain,
		app.Extractor,
		handler.SearchDefaults{
			TopK:     app.Config.Search.TopK,
			MinScore: app.Config.Search.MinScore,
		},
		app.Config.Upload.MaxBytes,
		app.Logger,
	)
	RegisterBrainRoutes(router.Group("/api/v1/brain"), brainHandler)

	return router
}

func RegisterBrainRoutes(g *gin.RouterGroup, h *handler.BrainHandler) {
	docs := g.Group("/documents/:id")
	docs.POST("/chunks/preview", h.PreviewChunks)
	docs.POST("/ingest", h.Ingest)
	docs.POST("/ingest/async", h.IngestAsync)
	docs.POST("/upload", h.Upload)
	docs.GET("/ingestion", h.LatestRun)
	docs.DELETE("/chunks", h.DeleteChunks)

	g.POST("/embeddings", h.Embed)
	g.POST("/search", h.Search)
	g.POST("/context", h.Context)
	g.GET("/stats", h.Stats)
}
