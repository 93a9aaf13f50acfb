package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"docbrain/internal/ai"
	"docbrain/internal/app"
	"docbrain/internal/cache"
	"docbrain/internal/config"
	"docbrain/internal/embedding"
	"docbrain/internal/pkg/extract"
	"docbrain/internal/platform/database"
	rabbitmqClient "docbrain/internal/platform/rabbitmq"
	redisClient "docbrain/internal/platform/redis"
	"docbrain/internal/repository"
	"docbrain/internal/vectorindex"
	"docbrain/internal/worker"
)

type App struct {
	Config *config.Config
	Logger *zap.Logger
	DB     *gorm.DB
	// Redis and MQConn are nil when the matching section is disabled.
	Redis        *redis.Client
	MQConn       *amqp.Connection
	Generator    *embedding.Generator
	Index        *vectorindex.Index
	Brain        *app.BrainService
	Extractor    extract.Extractor
	IngestWorker *worker.IngestWorker

	StartedAt time.Time
}

type Options struct {
	// Migrate runs the schema migration before anything else touches the database.
	Migrate bool
	// StartWorker consumes the ingest queue in this process when RabbitMQ is enabled.
	StartWorker bool
}

func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (_ *App, err error) {
	a := &App{
		Config:    cfg,
		Logger:    logger,
		Extractor: extract.Default{},
		StartedAt: time.Now(),
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.DB, err = database.New(ctx, database.Options{
		Driver:       cfg.Database.Driver,
		DSN:          cfg.DSN(),
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		Debug:        cfg.App.Debug,
	})
	if err != nil {
		return nil, err
	}

	if opts.Migrate {
		if err = vectorindex.Migrate(ctx, a.DB, vectorindex.MigrateOptions{
			Dimensions:     cfg.Embedding.Dimensions,
			CreateFunction: cfg.Search.CreateFunction,
			Logger:         logger,
		}); err != nil {
			return nil, fmt.Errorf("migrate schema failed: %w", err)
		}
	}

	var genOpts []embedding.Option
	var brainOpts []app.BrainOption
	brainOpts = append(brainOpts,
		app.WithLogger(logger),
		app.WithChunking(cfg.Chunking.MaxTokens, cfg.Chunking.OverlapTokens),
	)

	if cfg.Redis.Enabled {
		a.Redis, err = redisClient.New(ctx, redisClient.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		genOpts = append(genOpts, embedding.WithCache(
			cache.NewEmbeddingCache(a.Redis, time.Duration(cfg.Embedding.CacheTTLSeconds)*time.Second),
		))
		brainOpts = append(brainOpts, app.WithDocumentLock(
			cache.NewDocumentLock(a.Redis, time.Duration(cfg.Redis.LockTTLSeconds)*time.Second),
		))
	}

	if cfg.RabbitMQ.Enabled {
		a.MQConn, err = rabbitmqClient.New(ctx, cfg.RabbitMQ.URL, cfg.RabbitMQ.IngestQueue)
		if err != nil {
			return nil, err
		}
		brainOpts = append(brainOpts, app.WithJobPublisher(
			rabbitmqClient.NewIngestPublisher(a.MQConn, cfg.RabbitMQ.IngestQueue),
		))
	}

	genOpts = append(genOpts, embedding.WithLogger(logger))
	a.Generator = embedding.NewGenerator(ai.NewOpenAICompatibleClient(), embedding.Config{
		BaseURL:               cfg.Embedding.BaseURL,
		APIKey:                cfg.Embedding.APIKey,
		Model:                 cfg.Embedding.Model,
		Dimensions:            cfg.Embedding.Dimensions,
		SendDimensions:        cfg.Embedding.SendDimensions,
		BatchSize:             cfg.Embedding.BatchSize,
		Concurrency:           cfg.Embedding.Concurrency,
		RequestsPerSecond:     cfg.Embedding.RequestsPerSecond,
		Burst:                 cfg.Embedding.Burst,
		RequestTimeout:        cfg.EmbeddingTimeout(),
		PricePerMillionTokens: cfg.Embedding.PricePerMillionTokens,
	}, genOpts...)

	idxOpts := []vectorindex.Option{vectorindex.WithLogger(logger)}
	if native := vectorindex.NativeSearcherFor(a.DB); native != nil {
		idxOpts = append(idxOpts, vectorindex.WithNativeSearcher(native))
	}
	a.Index = vectorindex.New(repository.NewBrainChunkRepository(a.DB), vectorindex.Config{
		Dimensions:       cfg.Embedding.Dimensions,
		NativeOverfetch:  cfg.Search.NativeOverfetch,
		FallbackPageSize: cfg.Search.FallbackPageSize,
		FallbackMaxRows:  cfg.Search.FallbackMaxRows,
		SearchTimeout:    cfg.SearchTimeout(),
	}, idxOpts...)

	a.Brain = app.NewBrainService(a.Generator, a.Index, repository.NewIngestionRunRepository(a.DB), brainOpts...)

	if opts.StartWorker && a.MQConn != nil {
		a.IngestWorker = worker.NewIngestWorker(a.MQConn, a.Brain, cfg.RabbitMQ.IngestQueue, cfg.RabbitMQ.Prefetch, logger)
		if err = a.IngestWorker.Start(ctx); err != nil {
			return nil, fmt.Errorf("start ingest worker failed: %w", err)
		}
	}

	return a, nil
}

func (a *App) Close() error {
	var errs []error
	if a.IngestWorker != nil {
		a.IngestWorker.Close()
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.DB != nil {
		sqlDB, err := a.DB.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
