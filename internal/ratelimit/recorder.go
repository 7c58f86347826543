package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/smallbiznis/valora-gateway/internal/store"
)

const failurePrefix = "gateway:auth_fail:"

// RecorderConfig tunes the escalation thresholds.
type RecorderConfig struct {
	FailureWindow    time.Duration
	IPThreshold      int
	AccountThreshold int
	BlockTTL         time.Duration
	LockTTL          time.Duration
}

// FailureRecorder counts authentication failures outside the pipeline and
// escalates repeated abuse into the block registries.
type FailureRecorder struct {
	store    *store.Store
	registry *Registry
	cfg      RecorderConfig
	logger   *zap.Logger
}

// NewFailureRecorder builds the recorder.
func NewFailureRecorder(s *store.Store, registry *Registry, cfg RecorderConfig, logger *zap.Logger) *FailureRecorder {
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = 10 * time.Minute
	}
	if cfg.IPThreshold <= 0 {
		cfg.IPThreshold = 20
	}
	if cfg.AccountThreshold <= 0 {
		cfg.AccountThreshold = 10
	}
	if cfg.BlockTTL <= 0 {
		cfg.BlockTTL = 15 * time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 15 * time.Minute
	}
	if logger == nil {
		logger = zap.L()
	}
	return &FailureRecorder{store: s, registry: registry, cfg: cfg, logger: logger}
}

// RecordFailure counts one authentication failure for the source IP and,
// when known, the account. Crossing a threshold writes a block or lock
// record. Errors are logged and swallowed; failure accounting never breaks
// request handling.
func (r *FailureRecorder) RecordFailure(ctx context.Context, ip, tenantID, userID string) {
	if ip != "" {
		count, err := r.store.IncrementWithExpiry(ctx, failurePrefix+"ip:"+ip, r.cfg.FailureWindow)
		switch {
		case err != nil:
			r.logger.Warn("failure accounting skipped", zap.String("ip", ip), zap.Error(err))
		case count >= int64(r.cfg.IPThreshold):
			if err := r.registry.BlockIP(ctx, ip, r.cfg.BlockTTL); err != nil {
				r.logger.Warn("ip block escalation failed", zap.String("ip", ip), zap.Error(err))
			} else {
				r.logger.Warn("ip blocked after repeated auth failures",
					zap.String("ip", ip), zap.Int64("failures", count))
			}
		}
	}

	if tenantID == "" || userID == "" {
		return
	}
	key := failurePrefix + "account:" + tenantID + ":" + userID
	count, err := r.store.IncrementWithExpiry(ctx, key, r.cfg.FailureWindow)
	switch {
	case err != nil:
		r.logger.Warn("failure accounting skipped",
			zap.String("tenant_id", tenantID), zap.String("user_id", userID), zap.Error(err))
	case count >= int64(r.cfg.AccountThreshold):
		if err := r.registry.LockAccount(ctx, tenantID, userID, r.cfg.LockTTL); err != nil {
			r.logger.Warn("account lock escalation failed",
				zap.String("tenant_id", tenantID), zap.String("user_id", userID), zap.Error(err))
		} else {
			r.logger.Warn("account locked after repeated auth failures",
				zap.String("tenant_id", tenantID), zap.String("user_id", userID), zap.Int64("failures", count))
		}
	}
}
