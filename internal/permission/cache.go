// Package permission caches the global endpoint permission spec and
// per-user permission hashes and answers the two-tier authorization
// decision.
package permission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/smallbiznis/valora-gateway/internal/authhub"
	"github.com/smallbiznis/valora-gateway/internal/domain"
	"github.com/smallbiznis/valora-gateway/internal/store"
)

const (
	specKey    = "gateway:permission_spec"
	hashPrefix = "gateway:permission_hash:"
)

// Cache is the cache-aside layer in front of AuthHub. Lookups fail closed:
// a store or AuthHub failure is an error, never an implicit allow.
type Cache struct {
	store   *store.Store
	client  authhub.Client
	specTTL time.Duration
	hashTTL time.Duration
	logger  *zap.Logger
}

// NewCache builds the permission cache.
func NewCache(s *store.Store, client authhub.Client, specTTL, hashTTL time.Duration, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.L()
	}
	return &Cache{store: s, client: client, specTTL: specTTL, hashTTL: hashTTL, logger: logger}
}

// Spec returns the current permission spec, fetching from AuthHub on miss.
func (c *Cache) Spec(ctx context.Context) (domain.PermissionSpec, error) {
	var spec domain.PermissionSpec
	err := c.store.GetJSON(ctx, specKey, &spec)
	if err == nil {
		return spec, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.PermissionSpec{}, fmt.Errorf("spec cache: %w", err)
	}

	spec, err = c.client.FetchPermissionSpec(ctx)
	if err != nil {
		return domain.PermissionSpec{}, err
	}
	if err := c.store.SetJSON(ctx, specKey, spec, c.specTTL); err != nil {
		c.logger.Warn("failed to cache permission spec", zap.Error(err))
	}
	return spec, nil
}

// Hash returns the permission hash for one (tenant, user) pair.
func (c *Cache) Hash(ctx context.Context, tenantID, userID string) (domain.PermissionHash, error) {
	key := hashPrefix + tenantID + ":" + userID

	var hash domain.PermissionHash
	err := c.store.GetJSON(ctx, key, &hash)
	if err == nil {
		return hash, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.PermissionHash{}, fmt.Errorf("hash cache: %w", err)
	}

	hash, err = c.client.FetchPermissionHash(ctx, tenantID, userID)
	if err != nil {
		return domain.PermissionHash{}, err
	}
	if err := c.store.SetJSON(ctx, key, hash, c.hashTTL); err != nil {
		c.logger.Warn("failed to cache permission hash",
			zap.String("tenant_id", tenantID), zap.String("user_id", userID), zap.Error(err))
	}
	return hash, nil
}

// SyncSpec handles the spec-sync webhook: it refetches the spec and replaces
// the cached snapshot only when the published version is strictly newer.
// Decisions already made from the stale spec stand; staleness here is
// accepted, not transactional.
func (c *Cache) SyncSpec(ctx context.Context, announcedVersion int64) error {
	var cached domain.PermissionSpec
	if err := c.store.GetJSON(ctx, specKey, &cached); err == nil && cached.Version >= announcedVersion {
		c.logger.Debug("spec-sync ignored, cached version not older",
			zap.Int64("cached", cached.Version), zap.Int64("announced", announcedVersion))
		return nil
	}

	fresh, err := c.client.FetchPermissionSpec(ctx)
	if err != nil {
		return fmt.Errorf("spec sync: %w", err)
	}
	if !fresh.IsNewerThan(cached.Version) {
		return nil
	}
	if err := c.store.SetJSON(ctx, specKey, fresh, c.specTTL); err != nil {
		return fmt.Errorf("spec sync store: %w", err)
	}
	c.logger.Info("permission spec synced", zap.Int64("version", fresh.Version))
	return nil
}

// InvalidateUser evicts one permission hash (user-invalidate webhook).
func (c *Cache) InvalidateUser(ctx context.Context, tenantID, userID string) error {
	return c.store.Delete(ctx, hashPrefix+tenantID+":"+userID)
}
