package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/valora-gateway/internal/authhub"
	"github.com/smallbiznis/valora-gateway/internal/config"
	httptransport "github.com/smallbiznis/valora-gateway/internal/http"
	"github.com/smallbiznis/valora-gateway/internal/keys"
	"github.com/smallbiznis/valora-gateway/internal/middleware"
	"github.com/smallbiznis/valora-gateway/internal/permission"
	"github.com/smallbiznis/valora-gateway/internal/proxy"
	"github.com/smallbiznis/valora-gateway/internal/ratelimit"
	"github.com/smallbiznis/valora-gateway/internal/server"
	"github.com/smallbiznis/valora-gateway/internal/store"
	"github.com/smallbiznis/valora-gateway/internal/telemetry"
	"github.com/smallbiznis/valora-gateway/internal/tenant"
	"github.com/smallbiznis/valora-gateway/internal/token"
	"github.com/smallbiznis/valora-gateway/internal/webhook"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newRedisClient,
			newStore,
			newAuthHubClient,
			newKeyResolver,
			newPermissionCache,
			permission.NewEngine,
			newTenantLoader,
			newLimiter,
			newRegistry,
			newFailureRecorder,
			newValidator,
			newRefreshCoordinator,
			newAuthMiddleware,
			newProxy,
			newPipeline,
			webhook.NewHandler,
			newLocalRateLimiter,
			newRouter,
			newHTTPServer,
		),
		fx.Invoke(useTelemetry, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newRedisClient(lc fx.Lifecycle, cfg config.Config) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newStore(client redis.UniversalClient) *store.Store {
	return store.New(client)
}

func newAuthHubClient(cfg config.Config) authhub.Client {
	return authhub.NewHTTPClient(cfg.AuthHubURL, nil)
}

func newKeyResolver(s *store.Store, client authhub.Client, cfg config.Config, logger *zap.Logger) *keys.Resolver {
	return keys.NewResolver(s, client, cfg.KeyCacheTTL, logger)
}

func newPermissionCache(s *store.Store, client authhub.Client, cfg config.Config, logger *zap.Logger) *permission.Cache {
	return permission.NewCache(s, client, cfg.SpecCacheTTL, cfg.HashCacheTTL, logger)
}

func newTenantLoader(s *store.Store, client authhub.Client, cfg config.Config, logger *zap.Logger) *tenant.Loader {
	return tenant.NewLoader(s, client, cfg.TenantCacheTTL, logger)
}

func newLimiter(s *store.Store, logger *zap.Logger) *ratelimit.Limiter {
	return ratelimit.NewLimiter(s, logger)
}

func newRegistry(s *store.Store, logger *zap.Logger) *ratelimit.Registry {
	return ratelimit.NewRegistry(s, logger)
}

func newFailureRecorder(s *store.Store, registry *ratelimit.Registry, cfg config.Config, logger *zap.Logger) *ratelimit.FailureRecorder {
	return ratelimit.NewFailureRecorder(s, registry, ratelimit.RecorderConfig{
		FailureWindow:    cfg.AuthFailureWindow,
		IPThreshold:      cfg.IPFailureThreshold,
		AccountThreshold: cfg.AccountFailureThreshold,
		BlockTTL:         cfg.IPBlockTTL,
		LockTTL:          cfg.AccountLockTTL,
	}, logger)
}

func newValidator(resolver *keys.Resolver) *token.Validator {
	return token.NewValidator(resolver, nil)
}

func newRefreshCoordinator(s *store.Store, client authhub.Client, cfg config.Config, logger *zap.Logger) *token.Coordinator {
	return token.NewCoordinator(s, client, token.CoordinatorConfig{
		LockLease:    cfg.RefreshLockLease,
		LockWait:     cfg.RefreshLockWait,
		BlacklistTTL: cfg.RefreshBlacklistTTL,
	}, logger)
}

func newAuthMiddleware(validator *token.Validator, coordinator *token.Coordinator, recorder *ratelimit.FailureRecorder, cfg config.Config, logger *zap.Logger) *middleware.Auth {
	return &middleware.Auth{
		Validator:   validator,
		Coordinator: coordinator,
		Recorder:    recorder,
		Public:      middleware.NewPublicPaths(cfg.Routes),
		CookieName:  cfg.RefreshCookieName,
		Logger:      logger,
	}
}

func newProxy(cfg config.Config, logger *zap.Logger) (*proxy.Proxy, error) {
	return proxy.New(cfg.Routes, logger)
}

func newPipeline(cfg config.Config, limiter *ratelimit.Limiter, registry *ratelimit.Registry, auth *middleware.Auth, engine *permission.Engine, loader *tenant.Loader, p *proxy.Proxy, logger *zap.Logger) httptransport.Pipeline {
	return httptransport.NewPipeline(
		cfg,
		limiter,
		registry,
		auth,
		middleware.Authorize(engine, logger),
		middleware.TenantContext(loader, logger),
		p.Handler(),
	)
}

func newLocalRateLimiter(cfg config.Config) *middleware.LocalRateLimiter {
	return middleware.NewLocalRateLimiter(cfg.WebhookRateLimitRPM)
}

func newRouter(cfg config.Config, logger *zap.Logger, pipeline httptransport.Pipeline, webhooks *webhook.Handler, localLimiter *middleware.LocalRateLimiter) *gin.Engine {
	return httptransport.NewRouter(cfg, logger, pipeline, webhooks, localLimiter)
}

func newHTTPServer(router *gin.Engine, logger *zap.Logger) *server.HTTPServer {
	return server.NewHTTPServer(router, logger)
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
