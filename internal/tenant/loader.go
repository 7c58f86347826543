// Package tenant loads per-tenant policy (MFA requirement, role hierarchy,
// session and rate-limit policy) cache-aside against AuthHub.
package tenant

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

const configPrefix = "gateway:tenant_config:"

// Loader resolves tenant configuration. Lookups fail closed; an unknown or
// unreachable tenant never passes through as a default policy.
type Loader struct {
	store  *store.Store
	client authhub.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewLoader builds the loader.
func NewLoader(s *store.Store, client authhub.Client, ttl time.Duration, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.L()
	}
	return &Loader{store: s, client: client, ttl: ttl, logger: logger}
}

// Load returns the tenant configuration, fetching from AuthHub on miss.
func (l *Loader) Load(ctx context.Context, tenantID string) (domain.TenantConfig, error) {
	if tenantID == "" {
		return domain.TenantConfig{}, fmt.Errorf("%w: empty tenant id", domain.ErrTenantNotFound)
	}

	key := configPrefix + tenantID
	var cfg domain.TenantConfig
	err := l.store.GetJSON(ctx, key, &cfg)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.TenantConfig{}, fmt.Errorf("tenant cache: %w", err)
	}

	cfg, err = l.client.FetchTenantConfig(ctx, tenantID)
	if err != nil {
		return domain.TenantConfig{}, err
	}
	if err := l.store.SetJSON(ctx, key, cfg, l.ttl); err != nil {
		l.logger.Warn("failed to cache tenant config", zap.String("tenant_id", tenantID), zap.Error(err))
	}
	return cfg, nil
}

// Invalidate evicts one tenant (config-changed webhook).
func (l *Loader) Invalidate(ctx context.Context, tenantID string) error {
	return l.store.Delete(ctx, configPrefix+tenantID)
}
