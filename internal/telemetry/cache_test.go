package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	c, err := NewMemoryCache(2)
	require.NoError(t, err)

	_, ok, err := c.Get(ctx, "u1", "2025-03-14")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, "u1", "2025-03-14", "s1"))
	id, ok, _ := c.Get(ctx, "u1", "2025-03-14")
	assert.True(t, ok)
	assert.Equal(t, "s1", id)

	_, ok, _ = c.Get(ctx, "u1", "2025-03-15")
	assert.False(t, ok, "a different day is a different key")

	// Size 2: adding two more entries evicts the oldest.
	require.NoError(t, c.Put(ctx, "u2", "2025-03-14", "s2"))
	require.NoError(t, c.Put(ctx, "u3", "2025-03-14", "s3"))
	_, ok, _ = c.Get(ctx, "u1", "2025-03-14")
	assert.False(t, ok)
}

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	c := NewRedisCache(client, "", time.Hour)

	_, ok, err := c.Get(ctx, "u1", "2025-03-14")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, "u1", "2025-03-14", "s1"))
	id, ok, err := c.Get(ctx, "u1", "2025-03-14")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "s1", id)
	assert.True(t, mr.Exists("airouter:session:u1|2025-03-14"))

	mr.FastForward(2 * time.Hour)
	_, ok, err = c.Get(ctx, "u1", "2025-03-14")
	require.NoError(t, err)
	assert.False(t, ok, "entry expires after ttl")
}

func TestRedisCache_ServerDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 200 * time.Millisecond,
	})
	defer client.Close()

	_, _, err := NewRedisCache(client, "", 0).Get(context.Background(), "u1", "2025-03-14")
	assert.Error(t, err)
}
