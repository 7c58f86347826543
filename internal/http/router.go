package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/smallbiznis/valora-gateway/internal/config"
	"github.com/smallbiznis/valora-gateway/internal/middleware"
	"github.com/smallbiznis/valora-gateway/internal/ratelimit"
	"github.com/smallbiznis/valora-gateway/internal/webhook"
)

// Pipeline is the ordered security filter chain. Ordering is a data
// structure built once at startup, not annotations scattered across stages.
type Pipeline []gin.HandlerFunc

// NewPipeline assembles the canonical stage order: trace first so every
// later error carries a correlation id, cheap identity-free rate limiting
// before any auth work, then authentication (with silent refresh),
// authorization, identity-aware limiting, tenant context, and MFA.
func NewPipeline(
	cfg config.Config,
	limiter *ratelimit.Limiter,
	registry *ratelimit.Registry,
	auth *middleware.Auth,
	authorize gin.HandlerFunc,
	tenantCtx gin.HandlerFunc,
	proxyHandler gin.HandlerFunc,
) Pipeline {
	return Pipeline{
		middleware.IPRateLimit(limiter, registry, cfg),
		middleware.EndpointRateLimit(limiter, cfg),
		auth.Handler(),
		authorize,
		middleware.UserRateLimit(limiter, registry, cfg),
		tenantCtx,
		middleware.MFAVerification(),
		proxyHandler,
	}
}

// NewRouter wires the gin engine: ambient middleware, webhook routes, and
// the proxied catch-all running the security pipeline.
func NewRouter(
	cfg config.Config,
	logger *zap.Logger,
	pipeline Pipeline,
	webhooks *webhook.Handler,
	localLimiter *middleware.LocalRateLimiter,
) *gin.Engine {
	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Trace())
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.CORS(cfg))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	hooks := r.Group("/internal/webhooks", localLimiter.Handler())
	{
		hooks.POST("/permissions/spec-sync", webhooks.SpecSync)
		hooks.POST("/permissions/user-invalidate", webhooks.UserInvalidate)
		hooks.POST("/tenants/config-changed", webhooks.TenantConfigChanged)
	}

	// Everything else flows through the security pipeline and out to the
	// owning upstream.
	r.NoRoute(pipeline...)

	return r
}
