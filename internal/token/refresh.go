package token

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/smallbiznis/valora-gateway/internal/authhub"
	"github.com/smallbiznis/valora-gateway/internal/domain"
	"github.com/smallbiznis/valora-gateway/internal/store"
)

const (
	lockPrefix      = "gateway:refresh_lock:"
	blacklistPrefix = "gateway:refresh_blacklist:"
	resultPrefix    = "gateway:refresh_result:"

	// resultTTL keeps the rotated pair visible to concurrent losers of the
	// refresh race (several tabs expiring at once) without widening the
	// replay window much beyond the lock wait.
	resultTTL = 10 * time.Second
)

// ErrRefreshUnavailable marks infrastructure failures during refresh; the
// caller must answer 500, never treat the request as authenticated.
var ErrRefreshUnavailable = errors.New("token refresh unavailable")

// CoordinatorConfig bounds the distributed lock.
type CoordinatorConfig struct {
	LockLease    time.Duration
	LockWait     time.Duration
	BlacklistTTL time.Duration
}

// Coordinator serializes refresh attempts per (tenant, user) and detects
// reuse of already-rotated refresh tokens.
type Coordinator struct {
	store  *store.Store
	client authhub.Client
	cfg    CoordinatorConfig
	logger *zap.Logger
}

// NewCoordinator wires the refresh protocol.
func NewCoordinator(s *store.Store, client authhub.Client, cfg CoordinatorConfig, logger *zap.Logger) *Coordinator {
	if cfg.LockLease <= 0 {
		cfg.LockLease = 5 * time.Second
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 2 * time.Second
	}
	if cfg.BlacklistTTL <= 0 {
		cfg.BlacklistTTL = 30 * 24 * time.Hour
	}
	if logger == nil {
		logger = zap.L()
	}
	return &Coordinator{store: s, client: client, cfg: cfg, logger: logger}
}

// Refresh rotates the refresh token for one principal. Exactly one of any
// set of concurrent attempts performs the rotation; the others observe the
// already-rotated pair. A blacklisted token is a security event
// (domain.ErrRefreshTokenReused), not ordinary expiry.
func (c *Coordinator) Refresh(ctx context.Context, tenantID, userID string, refreshToken domain.RefreshToken) (domain.TokenPair, error) {
	lockKey := lockPrefix + tenantID + ":" + userID
	holder, acquired, err := c.store.AcquireLock(ctx, lockKey, c.cfg.LockLease, c.cfg.LockWait)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("%w: %v", ErrRefreshUnavailable, err)
	}
	if !acquired {
		return domain.TokenPair{}, fmt.Errorf("%w: refresh lock wait exceeded", ErrRefreshUnavailable)
	}
	// A stuck lock self-heals via its lease; release errors are deliberately
	// swallowed so they never block future refreshes.
	defer func() {
		if err := c.store.ReleaseLock(context.WithoutCancel(ctx), lockKey, holder); err != nil {
			c.logger.Debug("refresh lock release failed", zap.Error(err))
		}
	}()

	digest := tokenDigest(refreshToken)
	resultKey := resultPrefix + tenantID + ":" + digest

	// A loser of the refresh race finds the winner's pair here instead of
	// double-spending the consumed token.
	var rotated domain.TokenPair
	switch err := c.store.GetJSON(ctx, resultKey, &rotated); {
	case err == nil:
		return rotated, nil
	case !errors.Is(err, store.ErrNotFound):
		return domain.TokenPair{}, fmt.Errorf("%w: %v", ErrRefreshUnavailable, err)
	}

	blacklistKey := blacklistPrefix + tenantID + ":" + digest
	blacklisted, err := c.store.Exists(ctx, blacklistKey)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("%w: %v", ErrRefreshUnavailable, err)
	}
	if blacklisted {
		c.logger.Warn("refresh token reuse detected",
			zap.String("tenant_id", tenantID),
			zap.String("user_id", userID),
			zap.String("refresh_token", refreshToken.Mask()),
		)
		return domain.TokenPair{}, domain.ErrRefreshTokenReused
	}

	result, err := c.client.RefreshTokens(ctx, tenantID, userID, refreshToken)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRefreshToken) {
			return domain.TokenPair{}, err
		}
		return domain.TokenPair{}, fmt.Errorf("%w: %v", ErrRefreshUnavailable, err)
	}

	blacklistTTL := result.ConsumedTokenTTL
	if blacklistTTL <= 0 {
		blacklistTTL = c.cfg.BlacklistTTL
	}
	if err := c.store.Set(ctx, blacklistKey, "1", blacklistTTL); err != nil {
		// Without the blacklist entry reuse detection is blind, so this is
		// an infrastructure failure, not a success with a caveat.
		return domain.TokenPair{}, fmt.Errorf("%w: %v", ErrRefreshUnavailable, err)
	}
	if err := c.store.SetJSON(ctx, resultKey, result.Pair, resultTTL); err != nil {
		c.logger.Warn("failed to publish rotated pair for race losers", zap.Error(err))
	}

	c.logger.Info("refresh token rotated",
		zap.String("tenant_id", tenantID),
		zap.String("user_id", userID),
	)
	return result.Pair, nil
}

func tokenDigest(token domain.RefreshToken) string {
	sum := sha256.Sum256([]byte(token.Value()))
	return hex.EncodeToString(sum[:])
}
