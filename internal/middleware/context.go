// Package middleware contains the gateway's request security pipeline: an
// ordered chain of gin stages sharing per-request attributes. Each stage
// either terminates the request with a structured error response or
// augments the attributes and passes control on exactly once.
package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/smallbiznis/valora-gateway/internal/domain"
)

const (
	traceIDKey      = "traceId"
	claimsKey       = "claims"
	userIDKey       = "userId"
	tenantIDKey     = "tenantId"
	matchedRuleKey  = "matchedRule"
	tenantConfigKey = "tenantConfig"
	publicBypassKey = "publicBypass"
)

// TraceHeader carries the correlation id end to end.
const TraceHeader = "X-Request-ID"

// TenantHeader is propagated to the upstream service.
const TenantHeader = "X-Tenant-Id"

// GetTraceID returns the correlation id assigned by the trace stage.
func GetTraceID(c *gin.Context) string {
	return c.GetString(traceIDKey)
}

// GetClaims exposes the verified token claims to later stages.
func GetClaims(c *gin.Context) (domain.Claims, bool) {
	value, ok := c.Get(claimsKey)
	if !ok {
		return domain.Claims{}, false
	}
	claims, ok := value.(domain.Claims)
	return claims, ok
}

func setClaims(c *gin.Context, claims domain.Claims) {
	c.Set(claimsKey, claims)
	c.Set(userIDKey, claims.Subject)
	c.Set(tenantIDKey, claims.TenantID)
}

// GetUserID returns the authenticated subject, empty when unauthenticated.
func GetUserID(c *gin.Context) string { return c.GetString(userIDKey) }

// GetTenantID returns the tenant resolved from the token.
func GetTenantID(c *gin.Context) string { return c.GetString(tenantIDKey) }

// GetTenantConfig exposes the loaded tenant policy.
func GetTenantConfig(c *gin.Context) (domain.TenantConfig, bool) {
	value, ok := c.Get(tenantConfigKey)
	if !ok {
		return domain.TenantConfig{}, false
	}
	cfg, ok := value.(domain.TenantConfig)
	return cfg, ok
}

// GetMatchedRule exposes the endpoint rule chosen by authorization.
func GetMatchedRule(c *gin.Context) (domain.EndpointPermission, bool) {
	value, ok := c.Get(matchedRuleKey)
	if !ok {
		return domain.EndpointPermission{}, false
	}
	rule, ok := value.(domain.EndpointPermission)
	return rule, ok
}

// isPublicBypass reports whether authentication was skipped for this
// request because its path is on a public allow-list.
func isPublicBypass(c *gin.Context) bool { return c.GetBool(publicBypassKey) }
