package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/smallbiznis/valora-gateway/internal/config"
	"github.com/smallbiznis/valora-gateway/internal/domain"
	"github.com/smallbiznis/valora-gateway/internal/ratelimit"
)

func setRateHeaders(c *gin.Context, result ratelimit.Result) {
	header := c.Writer.Header()
	header.Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	header.Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	if !result.Allowed {
		header.Set("Retry-After", retryAfterSeconds(result.RetryAfter))
	}
}

func retryAfterSeconds(ttl time.Duration) string {
	secs := int64(ttl / time.Second)
	if ttl%time.Second != 0 {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}

// IPRateLimit rejects unauthenticated flooding before any auth work: it
// checks the IP-block registry, then the per-IP fixed window.
func IPRateLimit(limiter *ratelimit.Limiter, registry *ratelimit.Registry, cfg config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()

		if blocked, ttl := registry.IPBlocked(c.Request.Context(), ip); blocked {
			c.Writer.Header().Set("Retry-After", retryAfterSeconds(ttl))
			abortWithError(c, http.StatusForbidden, domain.CodeIPBlocked, "This address is temporarily blocked.")
			return
		}

		result := limiter.Check(c.Request.Context(), ratelimit.DimensionIP, ip, cfg.IPRateLimit, cfg.IPRateWindow)
		setRateHeaders(c, result)
		if !result.Allowed {
			abortWithError(c, http.StatusTooManyRequests, domain.CodeRateLimited, "Too many requests from this address.")
			return
		}
		c.Next()
	}
}

// EndpointRateLimit counts per method+path, independent of identity.
func EndpointRateLimit(limiter *ratelimit.Limiter, cfg config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier := c.Request.Method + ":" + c.Request.URL.Path

		result := limiter.Check(c.Request.Context(), ratelimit.DimensionEndpoint, identifier, cfg.EndpointRateLimit, cfg.EndpointRateWindow)
		setRateHeaders(c, result)
		if !result.Allowed {
			abortWithError(c, http.StatusTooManyRequests, domain.CodeRateLimited, "This endpoint is receiving too many requests.")
			return
		}
		c.Next()
	}
}

// UserRateLimit throttles per authenticated user. Requests with no resolved
// user (public paths) pass through untouched.
func UserRateLimit(limiter *ratelimit.Limiter, registry *ratelimit.Registry, cfg config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := GetUserID(c)
		if userID == "" {
			c.Next()
			return
		}
		tenantID := GetTenantID(c)

		if locked, ttl := registry.AccountLocked(c.Request.Context(), tenantID, userID); locked {
			c.Writer.Header().Set("Retry-After", retryAfterSeconds(ttl))
			abortWithError(c, http.StatusForbidden, domain.CodeAccountLocked, "This account is temporarily locked.")
			return
		}

		identifier := tenantID + ":" + userID
		result := limiter.Check(c.Request.Context(), ratelimit.DimensionUser, identifier, cfg.UserRateLimit, cfg.UserRateWindow)
		setRateHeaders(c, result)
		if !result.Allowed {
			abortWithError(c, http.StatusTooManyRequests, domain.CodeRateLimited, "Too many requests for this user.")
			return
		}
		c.Next()
	}
}

// LocalRateLimiter enforces in-process per-client throttling. The webhook
// endpoints use it so invalidation storms never touch the counter store.
type LocalRateLimiter struct {
	limit   rate.Limit
	burst   int
	window  time.Duration
	mu      sync.Mutex
	clients map[string]*clientLimiter
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocalRateLimiter creates a limiter for the provided requests-per-minute
// budget.
func NewLocalRateLimiter(requestsPerMinute int) *LocalRateLimiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	limit := rate.Limit(float64(requestsPerMinute) / 60.0)
	burst := requestsPerMinute / 10
	if burst < 1 {
		burst = 1
	}
	return &LocalRateLimiter{
		limit:   limit,
		burst:   burst,
		window:  5 * time.Minute,
		clients: make(map[string]*clientLimiter),
	}
}

// Handler returns the gin middleware enforcing throttling behaviour.
func (r *LocalRateLimiter) Handler() gin.HandlerFunc {
	if r == nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		key := c.ClientIP()
		limiter := r.getLimiter(key)
		if !limiter.Allow() {
			abortWithError(c, http.StatusTooManyRequests, domain.CodeRateLimited, "Too many requests. Please slow down.")
			return
		}

		c.Next()
	}
}

func (r *LocalRateLimiter) getLimiter(key string) *rate.Limiter {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.clients[key]; ok {
		entry.lastSeen = now
		return entry.limiter
	}

	limiter := rate.NewLimiter(r.limit, r.burst)
	r.clients[key] = &clientLimiter{limiter: limiter, lastSeen: now}
	r.cleanupLocked(now)
	return limiter
}

func (r *LocalRateLimiter) cleanupLocked(now time.Time) {
	for key, entry := range r.clients {
		if now.Sub(entry.lastSeen) > r.window {
			delete(r.clients, key)
		}
	}
}
