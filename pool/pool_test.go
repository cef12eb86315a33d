package pool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id     int
	dead   bool
	closed bool
}

func (c *fakeConn) Ping(context.Context) error {
	if c.dead {
		return errors.New("gone")
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func opener(n *int) func(context.Context) (*fakeConn, error) {
	return func(context.Context) (*fakeConn, error) {
		*n++
		return &fakeConn{id: *n}, nil
	}
}

func TestKey(t *testing.T) {
	assert.Equal(t, "DBH:DSN=sqlite::memory:::", Key("sqlite::memory:", "", "", ""))
	assert.Equal(t, "DBH:DSN=pgsql:host=x:u:p:7", Key("pgsql:host=x", "u", "p", "7"))
}

func TestAcquireReuses(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry[*fakeConn]()
	opened := 0

	a, reused, err := r.Acquire(ctx, "k", opener(&opened))
	require.NoError(t, err)
	assert.False(t, reused)

	b, reused, err := r.Acquire(ctx, "k", opener(&opened))
	require.NoError(t, err)
	assert.True(t, reused)
	assert.Same(t, a, b)
	assert.Equal(t, 1, opened)
	assert.Equal(t, 2, r.Refs("k"))

	r.Release("k")
	r.Release("k")
	r.Release("k")
	assert.Equal(t, 0, r.Refs("k"))
	assert.Equal(t, 1, r.Len())
}

func TestAcquireReplacesDead(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry[*fakeConn]()
	opened := 0

	a, _, err := r.Acquire(ctx, "k", opener(&opened))
	require.NoError(t, err)
	a.dead = true

	b, reused, err := r.Acquire(ctx, "k", opener(&opened))
	require.NoError(t, err)
	assert.False(t, reused)
	assert.True(t, a.closed)
	assert.NotSame(t, a, b)
	assert.Equal(t, 1, r.Len())
}

func TestAcquireOpenError(t *testing.T) {
	r := NewRegistry[*fakeConn]()
	_, _, err := r.Acquire(context.Background(), "k", func(context.Context) (*fakeConn, error) {
		return nil, errors.New("refused")
	})
	assert.Error(t, err)
	assert.Equal(t, 0, r.Len())
}

func TestEvictAndClose(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry[*fakeConn]()
	opened := 0
	a, _, _ := r.Acquire(ctx, "a", opener(&opened))
	b, _, _ := r.Acquire(ctx, "b", opener(&opened))

	require.NoError(t, r.Evict("a"))
	assert.True(t, a.closed)
	assert.NoError(t, r.Evict("missing"))

	require.NoError(t, r.Close())
	assert.True(t, b.closed)
	assert.Equal(t, 0, r.Len())
}

func TestEvictIdle(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry[*fakeConn]()
	opened := 0
	idle, _, _ := r.Acquire(ctx, "idle", opener(&opened))
	busy, _, _ := r.Acquire(ctx, "busy", opener(&opened))
	r.Release("idle")

	assert.Equal(t, 1, r.EvictIdle(-time.Second))
	assert.True(t, idle.closed)
	assert.False(t, busy.closed)
}
