package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis counts requests in fixed windows shared by every process using the
// same Redis. Counters expire with their window.
type Redis struct {
	rdb    redis.Cmdable
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
}

func NewRedis(rdb redis.Cmdable, limit int, window time.Duration) *Redis {
	return &Redis{
		rdb:    rdb,
		limit:  limit,
		window: window,
		prefix: "ratelimit",
		now:    time.Now,
	}
}

func (r *Redis) windowKey(key string, at time.Time) string {
	return fmt.Sprintf("%s:%s:%d", r.prefix, key, at.UnixNano()/int64(r.window))
}

func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	k := r.windowKey(key, r.now())

	var incr *redis.IntCmd
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.Expire(ctx, k, r.window)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("ratelimit: %w", err)
	}
	return incr.Val() <= int64(r.limit), nil
}
