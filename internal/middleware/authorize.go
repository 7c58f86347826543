package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smallbiznis/valora-gateway/internal/domain"
	"github.com/smallbiznis/valora-gateway/internal/permission"
)

// Authorize consults the permission engine for authenticated requests.
// Public-path bypasses carry no identity and skip the check; everything else
// fails closed, including "no rule found" which is surfaced with its own
// error code so spec gaps are visible.
func Authorize(engine *permission.Engine, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.L()
	}

	return func(c *gin.Context) {
		if isPublicBypass(c) {
			c.Next()
			return
		}
		userID := GetUserID(c)
		if userID == "" {
			c.Next()
			return
		}

		decision, err := engine.Authorize(c.Request.Context(), GetTenantID(c), userID, c.Request.URL.Path, c.Request.Method)
		switch {
		case err == nil:
			c.Set(matchedRuleKey, decision.Rule)
			c.Next()

		case errors.Is(err, domain.ErrNoPermissionSpec):
			abortWithError(c, http.StatusForbidden, domain.CodePermissionSpecNotFound, "No permission rule covers this endpoint.")

		case errors.Is(err, domain.ErrPermissionDenied):
			abortWithError(c, http.StatusForbidden, domain.CodePermissionDenied, "Insufficient permissions.")

		default:
			logger.Error("authorization unavailable", zap.String("trace_id", GetTraceID(c)), zap.Error(err))
			abortWithError(c, http.StatusInternalServerError, domain.CodeInternalError, "Authorization temporarily unavailable.")
		}
	}
}
