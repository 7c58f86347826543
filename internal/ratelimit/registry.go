package ratelimit

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/smallbiznis/valora-gateway/internal/store"
)

const (
	ipBlockPrefix     = "gateway:ip_block:"
	accountLockPrefix = "gateway:account_lock:"
)

// Registry holds the IP-block and account-lock records escalated by the
// failure recorder. Checks fail open like the rest of the rate-limit path.
type Registry struct {
	store  *store.Store
	logger *zap.Logger
}

// NewRegistry builds the registry.
func NewRegistry(s *store.Store, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.L()
	}
	return &Registry{store: s, logger: logger}
}

// BlockIP records a temporary block for ip.
func (r *Registry) BlockIP(ctx context.Context, ip string, ttl time.Duration) error {
	return r.store.Set(ctx, ipBlockPrefix+ip, "1", ttl)
}

// IPBlocked reports whether ip is blocked and for how much longer.
func (r *Registry) IPBlocked(ctx context.Context, ip string) (bool, time.Duration) {
	return r.blocked(ctx, ipBlockPrefix+ip)
}

// LockAccount records a temporary lock for one (tenant, user) pair.
func (r *Registry) LockAccount(ctx context.Context, tenantID, userID string, ttl time.Duration) error {
	return r.store.Set(ctx, accountLockPrefix+tenantID+":"+userID, "1", ttl)
}

// AccountLocked reports whether the account is locked and the remaining TTL.
func (r *Registry) AccountLocked(ctx context.Context, tenantID, userID string) (bool, time.Duration) {
	return r.blocked(ctx, accountLockPrefix+tenantID+":"+userID)
}

func (r *Registry) blocked(ctx context.Context, key string) (bool, time.Duration) {
	_, err := r.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			r.logger.Warn("block registry check failed open", zap.String("key", key), zap.Error(err))
		}
		return false, 0
	}
	ttl, err := r.store.TTL(ctx, key)
	if err != nil {
		return true, 0
	}
	return true, ttl
}
