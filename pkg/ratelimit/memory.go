package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Memory keeps one token bucket per key. Buckets idle for longer than the
// TTL are evicted, at most once per TTL during Allow or explicitly by Evict.
type Memory struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	limit     rate.Limit
	burst     int
	ttl       time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func NewMemory(cfg Config) *Memory {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	m := &Memory{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(float64(cfg.RequestsPerMinute) / 60),
		burst:    burst,
		ttl:      ttl,
		now:      time.Now,
	}
	m.lastSweep = m.now()
	return m
}

func (m *Memory) Allow(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now.Sub(m.lastSweep) >= m.ttl {
		m.evictLocked(now)
	}

	v, ok := m.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(m.limit, m.burst)}
		m.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1), nil
}

// Evict drops idle buckets and returns how many went.
func (m *Memory) Evict() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evictLocked(m.now())
}

func (m *Memory) evictLocked(now time.Time) int {
	n := 0
	for k, v := range m.visitors {
		if now.Sub(v.lastSeen) > m.ttl {
			delete(m.visitors, k)
			n++
		}
	}
	m.lastSweep = now
	return n
}

// Len reports how many keys are tracked.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.visitors)
}

// Run evicts idle buckets every TTL until ctx is done.
func (m *Memory) Run(ctx context.Context) {
	t := time.NewTicker(m.ttl)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Evict()
		}
	}
}
