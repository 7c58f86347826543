// Package ratelimit implements fixed-window request counting per IP, user,
// and endpoint, plus the escalating block registries fed by repeated
// authentication failures.
package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/smallbiznis/valora-gateway/internal/store"
)

// Dimension names one counting axis.
type Dimension string

// Counting dimensions, evaluated IP → endpoint → user along the pipeline.
const (
	DimensionIP       Dimension = "ip"
	DimensionEndpoint Dimension = "endpoint"
	DimensionUser     Dimension = "user"
)

const counterPrefix = "gateway:rate_limit:"

// Key builds the composite counter key for one window.
func Key(dimension Dimension, identifier string) string {
	return counterPrefix + string(dimension) + ":" + identifier
}

// Result is one allow/deny decision with the header values to report.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	FailedOpen bool
}

// Limiter counts requests in fixed windows backed by the counter store.
// Store failures fail open: a counter-store outage must not become a full
// gateway outage.
type Limiter struct {
	store  *store.Store
	logger *zap.Logger
}

// NewLimiter builds a limiter.
func NewLimiter(s *store.Store, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.L()
	}
	return &Limiter{store: s, logger: logger}
}

// Check increments the window counter for (dimension, identifier) and
// decides against limit. The increment that creates the key arms the window
// TTL; denied requests still count (the increment is not rolled back).
func (l *Limiter) Check(ctx context.Context, dimension Dimension, identifier string, limit int, window time.Duration) Result {
	if limit <= 0 {
		return Result{Allowed: true, Limit: limit}
	}

	key := Key(dimension, identifier)
	count, err := l.store.IncrementWithExpiry(ctx, key, window)
	if err != nil {
		l.logger.Warn("rate limit check failed open",
			zap.String("dimension", string(dimension)),
			zap.String("identifier", identifier),
			zap.Error(err),
		)
		return Result{Allowed: true, Limit: limit, Remaining: limit, FailedOpen: true}
	}

	if count > int64(limit) {
		retryAfter, ttlErr := l.store.TTL(ctx, key)
		if ttlErr != nil {
			retryAfter = window
		}
		return Result{Allowed: false, Limit: limit, Remaining: 0, RetryAfter: retryAfter}
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: true, Limit: limit, Remaining: remaining}
}
