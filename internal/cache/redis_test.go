// SPDX-License-Identifier: MIT

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) *Redis {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := &Redis{client: client, logger: zerolog.Nop()}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRedisSetGet(t *testing.T) {
	c := setupRedis(t)
	ctx := context.Background()

	c.Set(ctx, "k", []byte("payload"), time.Minute)

	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), got)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Sets)
}

func TestRedisMiss(t *testing.T) {
	c := setupRedis(t)

	_, ok := c.Get(context.Background(), "absent")
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats().Misses)
}

func TestRedisDelete(t *testing.T) {
	c := setupRedis(t)
	ctx := context.Background()

	c.Set(ctx, "k", []byte("payload"), time.Minute)
	c.Delete(ctx, "k")

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestRedisHealthCheck(t *testing.T) {
	c := setupRedis(t)
	assert.NoError(t, c.HealthCheck(context.Background()))
}

func TestNewRedisConnectionFailure(t *testing.T) {
	_, err := NewRedis(RedisConfig{Addr: "127.0.0.1:1"}, zerolog.Nop())
	assert.Error(t, err)
}
