package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smallbiznis/valora-gateway/internal/domain"
	"github.com/smallbiznis/valora-gateway/internal/tenant"
)

// TenantContext loads the tenant policy for the resolved tenant, exposes it
// to later stages, and stamps the propagated tenant header onto the outgoing
// request. Requests with no tenant (public paths) pass through.
func TenantContext(loader *tenant.Loader, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.L()
	}

	return func(c *gin.Context) {
		tenantID := GetTenantID(c)
		if tenantID == "" {
			c.Next()
			return
		}

		cfg, err := loader.Load(c.Request.Context(), tenantID)
		switch {
		case err == nil:
			c.Set(tenantConfigKey, cfg)
			c.Request.Header.Set(TenantHeader, tenantID)
			c.Next()

		case errors.Is(err, domain.ErrTenantNotFound):
			abortWithError(c, http.StatusForbidden, domain.CodeTenantNotFound, "Unknown tenant.")

		default:
			// Tenant lookups fail closed.
			logger.Error("tenant config unavailable",
				zap.String("trace_id", GetTraceID(c)),
				zap.String("tenant_id", tenantID),
				zap.Error(err))
			abortWithError(c, http.StatusInternalServerError, domain.CodeInternalError, "Tenant resolution temporarily unavailable.")
		}
	}
}
