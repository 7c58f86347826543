package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/valora-gateway/internal/store"
)

func newTestStore(t *testing.T) (*store.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return store.New(client), mr
}

func TestIncrementWithExpiryArmsWindowOnce(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	count, err := s.IncrementWithExpiry(ctx, "counter", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
	require.Greater(t, mr.TTL("counter"), time.Duration(0))

	mr.FastForward(30 * time.Second)

	count, err = s.IncrementWithExpiry(ctx, "counter", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)
	// The second increment must not re-arm the window.
	require.LessOrEqual(t, mr.TTL("counter"), 30*time.Second)
}

func TestIncrementWithExpiryResetsAfterWindow(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	_, err := s.IncrementWithExpiry(ctx, "counter", time.Minute)
	require.NoError(t, err)

	mr.FastForward(61 * time.Second)

	count, err := s.IncrementWithExpiry(ctx, "counter", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), count, "a fresh window starts at one")
}

func TestGetSetDeleteTTL(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.Set(ctx, "k", "v", time.Minute))
	value, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "v", value)

	ttl, err := s.TTL(ctx, "k")
	require.NoError(t, err)
	require.Greater(t, ttl, time.Duration(0))

	require.NoError(t, s.Delete(ctx, "k"))
	_, err = s.Get(ctx, "k")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.Delete(ctx, "k"), "deleting an absent key is not an error")

	mr.FastForward(time.Second)
	ttl, err = s.TTL(ctx, "never-set")
	require.NoError(t, err)
	require.Zero(t, ttl)
}

func TestJSONRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	require.NoError(t, s.SetJSON(ctx, "obj", payload{Name: "snapshot", Count: 7}, time.Minute))

	var got payload
	require.NoError(t, s.GetJSON(ctx, "obj", &got))
	require.Equal(t, payload{Name: "snapshot", Count: 7}, got)

	require.ErrorIs(t, s.GetJSON(ctx, "absent", &got), store.ErrNotFound)
}

func TestLockMutualExclusionAndRelease(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	token, ok, err := s.AcquireLock(ctx, "lock", 5*time.Second, 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = s.AcquireLock(ctx, "lock", 5*time.Second, 50*time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok, "second holder must time out while the lock is held")

	require.NoError(t, s.ReleaseLock(ctx, "lock", token))

	_, ok, err = s.AcquireLock(ctx, "lock", 5*time.Second, 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok, "lock is free after release")
}

func TestReleaseLockIgnoresForeignHolder(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	token, ok, err := s.AcquireLock(ctx, "lock", 5*time.Second, 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.ReleaseLock(ctx, "lock", "not-the-holder"))

	exists, err := s.Exists(ctx, "lock")
	require.NoError(t, err)
	require.True(t, exists, "foreign release must not free the lock")

	require.NoError(t, s.ReleaseLock(ctx, "lock", token))
}

func TestLockLeaseSelfHeals(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.AcquireLock(ctx, "lock", time.Second, 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	_, ok, err = s.AcquireLock(ctx, "lock", time.Second, 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok, "expired lease frees the lock without explicit release")
}
