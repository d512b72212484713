// Package embedding maps text to fixed-length vectors through langchaingo.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/feichai0017/manual-retrieval/config"
	"github.com/feichai0017/manual-retrieval/pkg/logger"
)

// ErrDimensionMismatch is returned when the provider answers with a vector of
// the wrong length. It is never retried.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Embedder maps one text to one vector.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Client retries transient provider errors with exponential backoff.
type Client struct {
	embedder  embeddings.Embedder
	dimension int
	attempts  uint
	delay     time.Duration
	logger    logger.Logger
}

var _ Embedder = (*Client)(nil)

// New builds a client for the configured provider.
func New(cfg *config.EmbeddingConfig, log logger.Logger) (*Client, error) {
	httpClient := &http.Client{Timeout: cfg.Timeout}

	var inner embeddings.EmbedderClient
	switch cfg.Provider {
	case "openai":
		opts := []openai.Option{
			openai.WithEmbeddingModel(cfg.Model),
			openai.WithToken(cfg.APIKey),
			openai.WithHTTPClient(httpClient),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create embedder client: %w", err)
		}
		inner = llm
	case "ollama":
		opts := []ollama.Option{
			ollama.WithModel(cfg.Model),
			ollama.WithHTTPClient(httpClient),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		llm, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create embedder client: %w", err)
		}
		inner = llm
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}

	embedder, err := embeddings.NewEmbedder(inner,
		embeddings.WithBatchSize(1),
		embeddings.WithStripNewLines(false),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return NewWithEmbedder(embedder, cfg.Dimension, cfg.MaxRetries, log), nil
}

// NewWithEmbedder wraps an existing langchaingo embedder.
func NewWithEmbedder(e embeddings.Embedder, dimension int, attempts uint, log logger.Logger) *Client {
	if attempts == 0 {
		attempts = 1
	}
	return &Client{
		embedder:  e,
		dimension: dimension,
		attempts:  attempts,
		delay:     200 * time.Millisecond,
		logger:    log.Named("embedding"),
	}
}

// EmbedQuery returns the vector for text.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("cannot embed empty text")
	}

	var vec []float32
	err := retry.Do(
		func() error {
			v, err := c.embedder.EmbedQuery(ctx, text)
			if err != nil {
				return err
			}
			if c.dimension > 0 && len(v) != c.dimension {
				return retry.Unrecoverable(fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), c.dimension))
			}
			vec = v
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("Retrying embedding request",
				logger.Int("attempt", int(n)+1),
				logger.Error(err),
			)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("embed text: %w", err)
	}
	return vec, nil
}
