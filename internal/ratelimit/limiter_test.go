package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"application-tracker/internal/common/logger"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestLimiter_AllowsUpToLimit(t *testing.T) {
	mr, rdb := setupRedis(t)
	l := NewLimiter(rdb, 3, time.Minute, logger.NewTestLogger(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Allow(ctx, "status:10.0.0.1")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 2-i, d.Remaining)
	}

	d, err := l.Allow(ctx, "status:10.0.0.1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, time.Minute, d.RetryAfter)

	other, err := l.Allow(ctx, "status:10.0.0.2")
	require.NoError(t, err)
	assert.True(t, other.Allowed)

	assert.Equal(t, time.Minute, mr.TTL("ratelimit:status:10.0.0.1"))
}

func TestLimiter_WindowExpires(t *testing.T) {
	mr, rdb := setupRedis(t)
	l := NewLimiter(rdb, 1, 30*time.Second, logger.NewTestLogger(t))
	ctx := context.Background()

	d, _ := l.Allow(ctx, "k")
	assert.True(t, d.Allowed)
	d, _ = l.Allow(ctx, "k")
	assert.False(t, d.Allowed)

	mr.FastForward(31 * time.Second)

	d, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestLimiter_Reset(t *testing.T) {
	_, rdb := setupRedis(t)
	l := NewLimiter(rdb, 1, time.Minute, logger.NewTestLogger(t))
	ctx := context.Background()

	_, _ = l.Allow(ctx, "k")
	require.NoError(t, l.Reset(ctx, "k"))

	d, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestLimiter_RedisDown(t *testing.T) {
	mr, rdb := setupRedis(t)
	l := NewLimiter(rdb, 1, time.Minute, logger.NewTestLogger(t))
	mr.Close()

	_, err := l.Allow(context.Background(), "k")
	assert.Error(t, err)
}

func TestNewLimiter_Defaults(t *testing.T) {
	_, rdb := setupRedis(t)
	l := NewLimiter(rdb, 0, 0, logger.NewNoOpLogger())
	assert.Equal(t, 30, l.limit)
	assert.Equal(t, time.Minute, l.window)
}
