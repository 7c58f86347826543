// Package store wraps the remote key-value store every stateful subsystem
// shares: fixed-window counters, TTL caches, block registries, and the
// distributed lock used by token refresh.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a key is absent from the store.
var ErrNotFound = errors.New("store: key not found")

// incrWithExpiry increments the counter and starts its window on the
// increment that creates the key. Atomic at the store so concurrent requests
// never observe a counter without a deadline.
var incrWithExpiry = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// releaseLock deletes the lock only when still held by the caller.
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Store is a thin typed layer over a redis client.
type Store struct {
	client redis.UniversalClient
}

// New wraps an existing client. Tests pass a miniredis-backed client.
func New(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

// IncrementWithExpiry bumps a fixed-window counter, arming the window TTL on
// first increment, and returns the resulting count.
func (s *Store) IncrementWithExpiry(ctx context.Context, key string, window time.Duration) (int64, error) {
	count, err := incrWithExpiry.Run(ctx, s.client, []string{key}, window.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("increment %s: %w", key, err)
	}
	return count, nil
}

// Get returns the raw string value for key.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

// Set stores value under key with the given TTL. A zero TTL means no expiry.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Delete removes key; deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// TTL returns the remaining lifetime of key. Zero when the key is absent or
// has no expiry.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("ttl %s: %w", key, err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// Exists reports whether key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", key, err)
	}
	return n > 0, nil
}

// SetJSON marshals value and stores it with TTL.
func (s *Store) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("persist %s: %w", key, err)
	}
	return nil
}

// GetJSON loads and decodes the value stored under key into out.
func (s *Store) GetJSON(ctx context.Context, key string, out any) error {
	payload, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		return fmt.Errorf("load %s: %w", key, err)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// AcquireLock takes the distributed mutual-exclusion lock at key with the
// given lease, retrying until maxWait elapses. It returns the holder token
// needed for release, or false when the lock could not be acquired in time.
// The lease self-heals a stuck holder; there is no renewal.
func (s *Store) AcquireLock(ctx context.Context, key string, lease, maxWait time.Duration) (string, bool, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(maxWait)

	for {
		ok, err := s.client.SetNX(ctx, key, token, lease).Result()
		if err != nil {
			return "", false, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return token, true, nil
		}
		if time.Now().After(deadline) {
			return "", false, nil
		}
		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-time.After(25 * time.Millisecond):
		}
	}
}

// ReleaseLock frees the lock if the caller still holds it. Releasing a lock
// owned by someone else (lease expired and re-acquired) is a no-op.
func (s *Store) ReleaseLock(ctx context.Context, key, token string) error {
	if err := releaseLock.Run(ctx, s.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}
