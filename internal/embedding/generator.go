// Package embedding turns text into fixed-dimension vectors through a remote
// OpenAI-compatible model.
package embedding

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"docbrain/internal/ai"
	"docbrain/internal/chunker"
	"docbrain/internal/pkg/logger"
	"docbrain/internal/pkg/vecmath"
)

const (
	DefaultDimensions            = 1536
	DefaultBatchSize             = 100
	DefaultPricePerMillionTokens = 0.02
)

// Transport issues one embedding request for a group of texts.
// *ai.OpenAICompatibleClient satisfies it.
type Transport interface {
	EmbedBatch(ctx context.Context, cfg ai.EmbeddingConfig, texts []string) ([][]float32, ai.EmbeddingUsage, error)
}

// Cache stores query embeddings keyed by model and text. Cache errors never fail a request.
type Cache interface {
	Get(ctx context.Context, model, text string) ([]float32, bool, error)
	Set(ctx context.Context, model, text string, vector []float32) error
}

type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	// SendDimensions forwards Dimensions to the provider as the "dimensions" field.
	SendDimensions bool
	BatchSize      int
	// Concurrency bounds how many batch requests run at once. 1 keeps batches sequential.
	Concurrency       int
	RequestsPerSecond float64
	Burst             int
	RequestTimeout    time.Duration
	// PricePerMillionTokens feeds the estimated cost in Usage.
	PricePerMillionTokens float64
}

// Usage is a snapshot of the generator's cumulative request accounting.
type Usage struct {
	Requests         int64   `json:"requests"`
	Texts            int64   `json:"texts"`
	PromptTokens     int64   `json:"prompt_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

// Generator is safe for concurrent use.
type Generator struct {
	transport Transport
	cfg       Config
	limiter   *rate.Limiter
	cache     Cache
	logger    *zap.Logger

	requests     atomic.Int64
	texts        atomic.Int64
	promptTokens atomic.Int64
	totalTokens  atomic.Int64
}

type Option func(*Generator)

func WithCache(cache Cache) Option {
	return func(g *Generator) { g.cache = cache }
}

func WithLogger(l *zap.Logger) Option {
	return func(g *Generator) { g.logger = logger.OrNop(l) }
}

func NewGenerator(transport Transport, cfg Config, opts ...Option) *Generator {
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PricePerMillionTokens <= 0 {
		cfg.PricePerMillionTokens = DefaultPricePerMillionTokens
	}

	g := &Generator{
		transport: transport,
		cfg:       cfg,
		logger:    zap.NewNop(),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Generator) Dimensions() int { return g.cfg.Dimensions }
func (g *Generator) Model() string   { return g.cfg.Model }

// Embed returns the vector for a single text, consulting the query cache first.
func (g *Generator) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &GenerationError{Op: "embed", Count: 1, TextLength: len(text), Err: ErrEmptyText}
	}

	if g.cache != nil {
		vector, ok, err := g.cache.Get(ctx, g.cfg.Model, text)
		if err != nil {
			g.logger.Warn("embedding cache get failed", zap.Error(err))
		} else if ok && len(vector) == g.cfg.Dimensions {
			return vector, nil
		}
	}

	vectors, err := g.request(ctx, "embed", 0, []string{text})
	if err != nil {
		return nil, err
	}

	if g.cache != nil {
		if err := g.cache.Set(ctx, g.cfg.Model, text, vectors[0]); err != nil {
			g.logger.Warn("embedding cache set failed", zap.Error(err))
		}
	}
	return vectors[0], nil
}

// EmbedBatch returns one vector per text in input order. Texts are sent in groups of at
// most BatchSize, with at most Concurrency groups in flight. Each result is written back
// into its original slot, so order never depends on completion order.
func (g *Generator) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, &GenerationError{
				Op:         "batch",
				Count:      len(texts),
				TextLength: len(text),
				Err:        fmt.Errorf("text %d: %w", i, ErrEmptyText),
			}
		}
	}

	results := make([][]float32, len(texts))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.Concurrency)
	for start := 0; start < len(texts); start += g.cfg.BatchSize {
		start := start
		end := min(start+g.cfg.BatchSize, len(texts))
		eg.Go(func() error {
			vectors, err := g.request(egCtx, "batch", start, texts[start:end])
			if err != nil {
				return err
			}
			copy(results[start:end], vectors)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// EmbedChunks embeds the content of each chunk and returns copies with Embedding set,
// matched by position.
func (g *Generator) EmbedChunks(ctx context.Context, chunks []chunker.Chunk) ([]chunker.Chunk, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := g.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}

	out := make([]chunker.Chunk, len(chunks))
	for i, c := range chunks {
		c.Embedding = vectors[i]
		out[i] = c
	}
	return out, nil
}

// Usage returns cumulative request and token counters with the estimated cost.
func (g *Generator) Usage() Usage {
	total := g.totalTokens.Load()
	return Usage{
		Requests:         g.requests.Load(),
		Texts:            g.texts.Load(),
		PromptTokens:     g.promptTokens.Load(),
		TotalTokens:      total,
		EstimatedCostUSD: float64(total) / 1_000_000 * g.cfg.PricePerMillionTokens,
	}
}

func (g *Generator) request(ctx context.Context, op string, batchStart int, texts []string) ([][]float32, error) {
	textLength := 0
	for _, t := range texts {
		textLength += len(t)
	}
	fail := func(err error) error {
		return &GenerationError{Op: op, Count: len(texts), TextLength: textLength, Err: err}
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fail(fmt.Errorf("rate limiter wait failed: %w", err))
		}
	}
	if g.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.RequestTimeout)
		defer cancel()
	}

	cfg := ai.EmbeddingConfig{BaseURL: g.cfg.BaseURL, APIKey: g.cfg.APIKey, Model: g.cfg.Model}
	if g.cfg.SendDimensions {
		cfg.Dimensions = g.cfg.Dimensions
	}

	started := time.Now()
	vectors, usage, err := g.transport.EmbedBatch(ctx, cfg, texts)
	if err != nil {
		g.logger.Error("embedding request failed",
			zap.String("op", op),
			zap.Int("batch_start", batchStart),
			zap.Int("count", len(texts)),
			zap.Int("text_length", textLength),
			zap.Error(err),
		)
		return nil, fail(err)
	}
	if len(vectors) != len(texts) {
		return nil, fail(fmt.Errorf("embedding count mismatch: got %d, expected %d", len(vectors), len(texts)))
	}
	for _, v := range vectors {
		if err := vecmath.CheckDimension(v, g.cfg.Dimensions); err != nil {
			return nil, err
		}
	}

	g.requests.Add(1)
	g.texts.Add(int64(len(texts)))
	g.promptTokens.Add(int64(usage.PromptTokens))
	g.totalTokens.Add(int64(usage.TotalTokens))

	g.logger.Debug("embedding batch completed",
		zap.String("op", op),
		zap.Int("batch_start", batchStart),
		zap.Int("count", len(texts)),
		zap.Duration("elapsed", time.Since(started)),
	)
	return vectors, nil
}
