package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestMemory(cfg Config) (*Memory, *clock) {
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := NewMemory(cfg)
	m.now = c.now
	m.lastSweep = c.t
	return m, c
}

func TestMemoryBurstThenRefill(t *testing.T) {
	m, c := newTestMemory(Config{RequestsPerMinute: 60, Burst: 3, TTL: time.Hour})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := m.Allow(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, _ := m.Allow(ctx, "alice")
	assert.False(t, ok)

	ok, _ = m.Allow(ctx, "bob")
	assert.True(t, ok, "keys are independent")

	c.advance(time.Second)
	ok, _ = m.Allow(ctx, "alice")
	assert.True(t, ok, "one token per second at 60 rpm")
}

func TestMemoryEvictsIdleKeys(t *testing.T) {
	m, c := newTestMemory(Config{RequestsPerMinute: 60, Burst: 1, TTL: time.Minute})
	ctx := context.Background()

	_, _ = m.Allow(ctx, "alice")
	_, _ = m.Allow(ctx, "bob")
	assert.Equal(t, 2, m.Len())

	c.advance(30 * time.Second)
	_, _ = m.Allow(ctx, "bob")
	c.advance(45 * time.Second)
	assert.Equal(t, 1, m.Evict(), "alice idle for 75s")
	assert.Equal(t, 1, m.Len())

	c.advance(2 * time.Minute)
	_, _ = m.Allow(ctx, "carol")
	assert.Equal(t, 1, m.Len(), "sweep on Allow dropped bob")
}

func TestRedisWindowKey(t *testing.T) {
	r := NewRedis(nil, 10, time.Minute)
	at := time.Date(2026, 3, 1, 12, 0, 10, 0, time.UTC)

	assert.Equal(t, r.windowKey("alice", at), r.windowKey("alice", at.Add(40*time.Second)))
	assert.NotEqual(t, r.windowKey("alice", at), r.windowKey("alice", at.Add(time.Minute)))
	assert.NotEqual(t, r.windowKey("alice", at), r.windowKey("bob", at))
}

func TestNew(t *testing.T) {
	l, err := New(Config{Backend: "memory", RequestsPerMinute: 10}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, l)

	_, err = New(Config{Backend: "redis", RequestsPerMinute: 10}, nil)
	assert.Error(t, err)

	_, err = New(Config{Backend: "memcached", RequestsPerMinute: 10}, nil)
	assert.Error(t, err)

	_, err = New(Config{Backend: "memory"}, nil)
	assert.Error(t, err)
}
