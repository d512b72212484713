// Package app assembles the services shared by the API server and the worker.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/manual-retrieval/config"
	"github.com/feichai0017/manual-retrieval/internal/agent"
	"github.com/feichai0017/manual-retrieval/internal/embedding"
	"github.com/feichai0017/manual-retrieval/internal/service/document"
	"github.com/feichai0017/manual-retrieval/internal/service/retrieval"
	"github.com/feichai0017/manual-retrieval/internal/store/gormstore"
	"github.com/feichai0017/manual-retrieval/pkg/logger"
	"github.com/feichai0017/manual-retrieval/pkg/queue"
	"github.com/feichai0017/manual-retrieval/pkg/ratelimit"
	"github.com/feichai0017/manual-retrieval/pkg/storage"
)

// App holds the wired services and the connections they own.
type App struct {
	Config    *config.AppConfig
	Documents *document.DocumentService
	Retrieval *retrieval.Engine

	store *gormstore.Store
	queue *queue.AsynqQueue
	redis *redis.Client
}

// NewLogger builds the process logger from the log section.
func NewLogger(c *config.LogConfig, fields map[string]interface{}) (logger.Logger, error) {
	return logger.NewLogger(
		logger.WithLevel(c.Level),
		logger.WithEncoding(c.Encoding),
		logger.WithOutputPaths(c.OutputPaths),
		logger.WithInitialFields(fields),
	)
}

// New connects the database, blob store, embedding provider and, when
// enabled, the ingestion queue.
func New(ctx context.Context, cfg *config.AppConfig, log logger.Logger) (*App, error) {
	st, err := gormstore.Open(ctx, &cfg.Database, cfg.Embedding.Dimension, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	a := &App{Config: cfg, store: st}

	blobs, err := storage.NewStorage(ctx, &cfg.Storage, log)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	embedder, err := embedding.New(&cfg.Embedding, log)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	extractor, err := agent.NewExtractor(ctx, &cfg.OCR, log)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to create extractor: %w", err)
	}

	var q queue.Queue
	if cfg.Queue.Enabled {
		a.queue = queue.NewAsynqQueue(QueueConfig(cfg))
		q = a.queue
	}

	a.Documents = document.NewService(st, blobs, extractor, embedder, q, log, &document.ServiceConfig{
		ChunkSize:    cfg.Chunking.Size,
		ChunkOverlap: cfg.Chunking.Overlap,
		MaxFileSize:  cfg.Storage.MaxUploadSize,
	})
	a.Retrieval = retrieval.NewEngine(embedder, st, retrieval.Config{
		DefaultLimit: cfg.Search.DefaultLimit,
		MaxLimit:     cfg.Search.MaxLimit,
	}, log)

	log.Info("Services ready",
		logger.String("database", cfg.Database.Driver),
		logger.Bool("vector_ranking", st.VectorRanking()),
		logger.String("storage", cfg.Storage.Type),
		logger.String("embedding", cfg.Embedding.Provider),
		logger.Bool("queue", cfg.Queue.Enabled),
	)
	return a, nil
}

// QueueConfig maps the redis and queue sections onto the queue package.
func QueueConfig(cfg *config.AppConfig) *queue.QueueConfig {
	return &queue.QueueConfig{
		RedisAddr:      cfg.Redis.Addr,
		RedisPassword:  cfg.Redis.Password,
		RedisDB:        cfg.Redis.DB,
		MaxRetries:     cfg.Queue.MaxRetry,
		ProcessTimeout: cfg.Queue.Timeout,
		Concurrency:    cfg.Queue.Concurrency,
	}
}

// Limiter builds the request limiter. The redis backend shares the
// connection settings of the queue.
func (a *App) Limiter() (ratelimit.Limiter, error) {
	rc := a.Config.RateLimit
	var rdb redis.Cmdable
	if rc.Backend == "redis" {
		if a.redis == nil {
			a.redis = redis.NewClient(&redis.Options{
				Addr:     a.Config.Redis.Addr,
				Password: a.Config.Redis.Password,
				DB:       a.Config.Redis.DB,
			})
		}
		rdb = a.redis
	}
	return ratelimit.New(ratelimit.Config{
		Backend:           rc.Backend,
		RequestsPerMinute: rc.RequestsPerMinute,
		Burst:             rc.Burst,
		TTL:               rc.TTL,
	}, rdb)
}

func (a *App) Close() error {
	var errs []error
	if a.queue != nil {
		errs = append(errs, a.queue.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
