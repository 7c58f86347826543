// Package webhook receives AuthHub push invalidations: permission spec
// syncs, per-user permission evictions, and tenant config changes.
package webhook

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smallbiznis/valora-gateway/internal/permission"
	"github.com/smallbiznis/valora-gateway/internal/tenant"
)

// Handler implements the invalidation endpoints.
type Handler struct {
	permissions *permission.Cache
	tenants     *tenant.Loader
	logger      *zap.Logger
}

// NewHandler wires the webhook handler.
func NewHandler(permissions *permission.Cache, tenants *tenant.Loader, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.L()
	}
	return &Handler{permissions: permissions, tenants: tenants, logger: logger}
}

type specSyncRequest struct {
	Version  int64    `json:"version" binding:"required"`
	Services []string `json:"services"`
}

// SpecSync handles the spec-sync webhook: a newer permission-spec version
// was published.
func (h *Handler) SpecSync(c *gin.Context) {
	var req specSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_payload", "error_description": err.Error()})
		return
	}

	if err := h.permissions.SyncSpec(c.Request.Context(), req.Version); err != nil {
		h.logger.Error("spec sync failed", zap.Int64("version", req.Version), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "sync_failed"})
		return
	}
	h.logger.Info("spec sync accepted", zap.Int64("version", req.Version), zap.Strings("services", req.Services))
	c.Status(http.StatusNoContent)
}

type userInvalidateRequest struct {
	TenantID string `json:"tenantId" binding:"required"`
	UserID   string `json:"userId" binding:"required"`
}

// UserInvalidate evicts one (tenant, user) permission hash.
func (h *Handler) UserInvalidate(c *gin.Context) {
	var req userInvalidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_payload", "error_description": err.Error()})
		return
	}

	if err := h.permissions.InvalidateUser(c.Request.Context(), req.TenantID, req.UserID); err != nil {
		h.logger.Error("user invalidate failed",
			zap.String("tenant_id", req.TenantID), zap.String("user_id", req.UserID), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "invalidate_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

type tenantChangedRequest struct {
	TenantID string `json:"tenantId" binding:"required"`
}

// TenantConfigChanged evicts one tenant config.
func (h *Handler) TenantConfigChanged(c *gin.Context) {
	var req tenantChangedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_payload", "error_description": err.Error()})
		return
	}

	if err := h.tenants.Invalidate(c.Request.Context(), req.TenantID); err != nil {
		h.logger.Error("tenant invalidate failed", zap.String("tenant_id", req.TenantID), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "invalidate_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}
