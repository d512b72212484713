// Package retrieval ranks stored chunks against a natural-language query.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/feichai0017/manual-retrieval/internal/embedding"
	"github.com/feichai0017/manual-retrieval/internal/models"
	"github.com/feichai0017/manual-retrieval/internal/store"
	"github.com/feichai0017/manual-retrieval/pkg/logger"
)

const (
	DefaultLimit = 5
	MaxLimit     = 50
	// LexicalSimilarity is reported for every chunk found by the lexical fallback.
	LexicalSimilarity = 0.5
)

var ErrEmptyQuery = errors.New("query must not be empty")

// Query is one search request.
type Query struct {
	Text       string
	Limit      int
	Categories []models.Category
}

// Response carries the results and which path produced them.
type Response struct {
	Results  []models.SearchResult
	Query    string
	Degraded bool
}

type Config struct {
	DefaultLimit int
	MaxLimit     int
}

type Engine struct {
	embedder embedding.Embedder
	chunks   store.ChunkStore
	config   Config
	logger   logger.Logger
}

func NewEngine(e embedding.Embedder, chunks store.ChunkStore, cfg Config, log logger.Logger) *Engine {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultLimit
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = MaxLimit
	}
	return &Engine{
		embedder: e,
		chunks:   chunks,
		config:   cfg,
		logger:   log.Named("retrieval"),
	}
}

// Search returns the owner's best matching chunks, best first. When the store
// cannot rank by vector distance the query is answered lexically instead.
func (e *Engine) Search(ctx context.Context, ownerID string, q Query) (*Response, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, ErrEmptyQuery
	}
	limit := e.clamp(q.Limit)
	log := logger.FromContext(ctx, e.logger)
	start := time.Now()

	vec, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	cq := store.ChunkQuery{
		Embedding:  vec,
		Text:       text,
		Categories: q.Categories,
		Limit:      limit,
	}
	results, err := e.chunks.RankChunks(ctx, ownerID, cq)
	switch {
	case err == nil:
		log.Debug("Vector search served",
			logger.Int("results", len(results)),
			logger.Duration("took", time.Since(start)),
		)
		return &Response{Results: nonNil(results), Query: text}, nil
	case errors.Is(err, store.ErrRankingUnavailable):
		log.Warn("Vector ranking unavailable, using lexical search", logger.Error(err))
	default:
		return nil, fmt.Errorf("rank chunks: %w", err)
	}

	results, err = e.chunks.LexicalChunks(ctx, ownerID, cq)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	for i := range results {
		results[i].Similarity = LexicalSimilarity
		results[i].Distance = 1 - LexicalSimilarity
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return &Response{Results: nonNil(results), Query: text, Degraded: true}, nil
}

func (e *Engine) clamp(limit int) int {
	switch {
	case limit <= 0:
		return e.config.DefaultLimit
	case limit > e.config.MaxLimit:
		return e.config.MaxLimit
	default:
		return limit
	}
}

func nonNil(r []models.SearchResult) []models.SearchResult {
	if r == nil {
		return []models.SearchResult{}
	}
	return r
}
