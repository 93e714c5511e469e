// SPDX-License-Identifier: MIT

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMemorySetGet(t *testing.T) {
	c := NewMemory(0)
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "k", []byte("payload"), time.Minute)

	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), got)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Sets)
	assert.Equal(t, 1, stats.Entries)
}

func TestMemoryMiss(t *testing.T) {
	c := NewMemory(0)
	defer c.Close()

	_, ok := c.Get(context.Background(), "absent")
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats().Misses)
}

func TestMemoryExpiry(t *testing.T) {
	c := NewMemory(0)
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "k", []byte("payload"), 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok, "expired entries must not be returned")
}

func TestMemoryJanitorSweepsExpired(t *testing.T) {
	c := NewMemory(10 * time.Millisecond)
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "k", []byte("payload"), 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		return c.Stats().Entries == 0
	}, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, c.Stats().Evictions, int64(1))
}

func TestMemoryDelete(t *testing.T) {
	c := NewMemory(0)
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "k", []byte("payload"), time.Minute)
	c.Delete(ctx, "k")

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryZeroTTLIgnored(t *testing.T) {
	c := NewMemory(0)
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "k", []byte("payload"), 0)
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryCloseStopsJanitor(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := NewMemory(time.Millisecond)
	c.Set(context.Background(), "k", []byte("payload"), time.Minute)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close(), "double close is safe")
}

func TestKeyStability(t *testing.T) {
	type q struct {
		Query string
		Limit int
	}
	a := Key("search", q{"widget", 100})
	b := Key("search", q{"widget", 100})
	c := Key("search", q{"widget", 200})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Contains(t, a, "search:")
}

func TestNoOpAlwaysMisses(t *testing.T) {
	var c NoOp
	ctx := context.Background()
	c.Set(ctx, "k", []byte("payload"), time.Minute)
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.NoError(t, c.Close())
}
