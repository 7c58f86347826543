// Package keys resolves JWT signing keys by kid, cache-aside against the
// AuthHub key-set endpoint.
package keys

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/smallbiznis/valora-gateway/internal/authhub"
	"github.com/smallbiznis/valora-gateway/internal/domain"
	"github.com/smallbiznis/valora-gateway/internal/store"
)

const keyPrefix = "gateway:jwk:"

// Resolver caches RSA public keys keyed by kid.
type Resolver struct {
	store  *store.Store
	client authhub.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewResolver creates a resolver caching keys for ttl.
func NewResolver(s *store.Store, client authhub.Client, ttl time.Duration, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.L()
	}
	return &Resolver{store: s, client: client, ttl: ttl, logger: logger}
}

// Resolve returns the RSA public key for kid. On a cache miss the whole key
// set is fetched and repopulated; a kid unknown even after refresh yields
// domain.ErrUnknownKey.
func (r *Resolver) Resolve(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	var cached domain.PublicKey
	err := r.store.GetJSON(ctx, keyPrefix+kid, &cached)
	if err == nil {
		return cached.ToRSA()
	}
	if !errors.Is(err, store.ErrNotFound) {
		// Key lookups fail closed: an unreadable cache is an error, not an
		// implicit trust decision.
		return nil, fmt.Errorf("key cache: %w", err)
	}

	keys, err := r.Refresh(ctx)
	if err != nil {
		return nil, err
	}

	for _, key := range keys {
		if key.Kid == kid {
			return key.ToRSA()
		}
	}
	return nil, fmt.Errorf("%w: kid=%s", domain.ErrUnknownKey, kid)
}

// Refresh fetches the full key set from AuthHub and repopulates the cache.
func (r *Resolver) Refresh(ctx context.Context) ([]domain.PublicKey, error) {
	keys, err := r.client.FetchKeySet(ctx)
	if err != nil {
		return nil, fmt.Errorf("refresh key set: %w", err)
	}

	for _, key := range keys {
		if err := r.store.SetJSON(ctx, keyPrefix+key.Kid, key, r.ttl); err != nil {
			r.logger.Warn("failed to cache signing key", zap.String("kid", key.Kid), zap.Error(err))
		}
	}
	r.logger.Debug("signing key set refreshed", zap.Int("keys", len(keys)))
	return keys, nil
}
