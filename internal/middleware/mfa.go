package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/smallbiznis/valora-gateway/internal/domain"
)

// MFAVerification enforces the tenant's MFA policy. Only an mfa_verified
// claim of exactly true passes; absent counts as unverified. Tenants without
// the requirement, and requests that never loaded a tenant config, pass
// through.
func MFAVerification() gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg, ok := GetTenantConfig(c)
		if !ok || !cfg.MFARequired {
			c.Next()
			return
		}

		claims, ok := GetClaims(c)
		if !ok || !claims.MFAVerified {
			abortWithError(c, http.StatusForbidden, domain.CodeMFARequired, "Multi-factor authentication required.")
			return
		}
		c.Next()
	}
}
