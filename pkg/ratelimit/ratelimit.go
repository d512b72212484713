// Package ratelimit limits requests per caller. Limiters are injected into
// the HTTP layer so the in-process backend can be swapped for a shared one.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter decides whether one more request for key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type Config struct {
	// Backend is "memory" or "redis".
	Backend           string
	RequestsPerMinute int
	Burst             int
	// TTL is how long an idle caller's state is kept by the memory backend.
	TTL time.Duration
}

// New builds the configured backend. rdb is only used by "redis".
func New(cfg Config, rdb redis.Cmdable) (Limiter, error) {
	if cfg.RequestsPerMinute <= 0 {
		return nil, fmt.Errorf("ratelimit: requests per minute must be positive")
	}
	switch cfg.Backend {
	case "memory", "":
		return NewMemory(cfg), nil
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("ratelimit: redis backend needs a client")
		}
		return NewRedis(rdb, cfg.RequestsPerMinute+cfg.Burst, time.Minute), nil
	default:
		return nil, fmt.Errorf("ratelimit: unsupported backend %q", cfg.Backend)
	}
}
