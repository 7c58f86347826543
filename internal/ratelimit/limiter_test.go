package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/valora-gateway/internal/ratelimit"
	"github.com/smallbiznis/valora-gateway/internal/store"
)

func newTestLimiter(t *testing.T) (*ratelimit.Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return ratelimit.NewLimiter(store.New(client), zap.NewNop()), mr
}

func TestFixedWindowDeniesOverLimit(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	const limit = 5
	for i := 1; i <= limit; i++ {
		result := limiter.Check(ctx, ratelimit.DimensionUser, "t1:u1", limit, time.Minute)
		require.True(t, result.Allowed, "request %d within the limit", i)
		require.Equal(t, limit-i, result.Remaining)
	}

	denied := limiter.Check(ctx, ratelimit.DimensionUser, "t1:u1", limit, time.Minute)
	require.False(t, denied.Allowed)
	require.Zero(t, denied.Remaining)
	require.Greater(t, denied.RetryAfter, time.Duration(0))
	require.LessOrEqual(t, denied.RetryAfter, time.Minute)
}

func TestWindowExpiryResetsCounter(t *testing.T) {
	limiter, mr := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		limiter.Check(ctx, ratelimit.DimensionIP, "10.0.0.1", 2, time.Minute)
	}
	denied := limiter.Check(ctx, ratelimit.DimensionIP, "10.0.0.1", 2, time.Minute)
	require.False(t, denied.Allowed)

	mr.FastForward(61 * time.Second)

	fresh := limiter.Check(ctx, ratelimit.DimensionIP, "10.0.0.1", 2, time.Minute)
	require.True(t, fresh.Allowed)
	require.Equal(t, 1, fresh.Remaining)
}

func TestRejectedIncrementStillCounts(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	limiter.Check(ctx, ratelimit.DimensionEndpoint, "GET:/x", 1, time.Minute)
	first := limiter.Check(ctx, ratelimit.DimensionEndpoint, "GET:/x", 1, time.Minute)
	require.False(t, first.Allowed)

	// The denied increment was not rolled back, so the next attempt sees an
	// even higher count.
	second := limiter.Check(ctx, ratelimit.DimensionEndpoint, "GET:/x", 1, time.Minute)
	require.False(t, second.Allowed)
}

func TestDimensionsAreIndependent(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	limiter.Check(ctx, ratelimit.DimensionIP, "id", 1, time.Minute)
	denied := limiter.Check(ctx, ratelimit.DimensionIP, "id", 1, time.Minute)
	require.False(t, denied.Allowed)

	other := limiter.Check(ctx, ratelimit.DimensionUser, "id", 1, time.Minute)
	require.True(t, other.Allowed, "same identifier in another dimension has its own window")
}

func TestStoreOutageFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := ratelimit.NewLimiter(store.New(client), zap.NewNop())
	mr.Close()
	_ = client.Close()

	result := limiter.Check(context.Background(), ratelimit.DimensionIP, "10.0.0.1", 1, time.Minute)
	require.True(t, result.Allowed)
	require.True(t, result.FailedOpen)
}

func TestZeroLimitDisablesDimension(t *testing.T) {
	limiter, _ := newTestLimiter(t)

	result := limiter.Check(context.Background(), ratelimit.DimensionUser, "u", 0, time.Minute)
	require.True(t, result.Allowed)
}
