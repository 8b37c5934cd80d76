package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/vitalmesh/gateway/internal/handler"
	"github.com/vitalmesh/gateway/internal/middleware"
	"github.com/vitalmesh/gateway/internal/repository"
	"github.com/vitalmesh/gateway/internal/service"
	"github.com/vitalmesh/gateway/pkg/cache"
	"github.com/vitalmesh/gateway/pkg/config"
	"github.com/vitalmesh/gateway/pkg/database"
	"github.com/vitalmesh/gateway/pkg/logger"
	corsmiddleware "github.com/vitalmesh/gateway/pkg/middleware/cors"
	reqidmiddleware "github.com/vitalmesh/gateway/pkg/middleware/requestid"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	tableDef := service.DefaultRouteTableDefinition()
	if cfg.Routing.TableFile != "" {
		tableDef, err = service.LoadRouteTableDefinition(cfg.Routing.TableFile)
		if err != nil {
			logr.Sugar().Fatalw("failed to load routing table", "file", cfg.Routing.TableFile, "error", err)
		}
	}

	routes := service.NewRouteTable(tableDef, cfg.Routing.ContentRoutePrefix)
	classifier, err := service.NewClassifierService(tableDef.DomainPatterns, tableDef.DomainServices, cfg.Routing.FallbackService)
	if err != nil {
		logr.Sugar().Fatalw("failed to build classifier", "error", err)
	}

	metrics := service.NewMetricsService()
	ledger := service.NewMetricsLedger()
	validate := validator.New()

	var canaryStore service.CanaryStore
	if cfg.Canary.RedisEnabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Fatalw("failed to connect redis", "error", err)
		}
		canaryStore = service.NewRedisCanaryStore(redisClient, cfg.Canary.RedisKeyPrefix)
	}

	canarySvc := service.NewCanaryService(cfg.Canary, ledger, validate, canaryStore, logr)
	if canaryStore != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := canarySvc.LoadFromStore(ctx); err != nil {
			logr.Sugar().Warnw("failed to load canary configs from store", "error", err)
		}
		cancel()
	}

	breakers := service.NewBreakerRegistry(cfg.Breaker, metrics, logr)
	limits := service.NewRateLimiterRegistry(cfg.RateLimit)
	dispatcher := service.NewDispatcher(routes, classifier, breakers, limits, canarySvc, service.NewHTTPForwarder(), metrics, logr)
	stats := service.NewStatsService(breakers, canarySvc)
	probe := service.NewProbeService(routes, canarySvc, logr)

	var auditRepo *repository.AuditRepository
	if cfg.Audit.Enabled {
		db, err := database.NewPostgres(cfg.Database)
		if err != nil {
			logr.Sugar().Fatalw("failed to connect database", "error", err)
		}
		defer db.Close() //nolint:errcheck
		auditRepo = repository.NewAuditRepository(db)
	}

	gatewayHandler := handler.NewGatewayHandler(dispatcher)
	adminHandler := handler.NewAdminHandler(breakers, canarySvc, classifier, stats, probe, limits, auditRepo)
	metricsHandler := handler.NewMetricsHandler(metrics)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))
	r.Use(middleware.Identity(cfg.Identity))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	admin := r.Group("/admin")
	{
		admin.GET("/breakers", adminHandler.ListBreakers)
		admin.POST("/breakers/:service/reset",
			middleware.Audit(auditRepo, "breaker.reset", "breaker"),
			adminHandler.ResetBreaker)
		admin.GET("/canary", adminHandler.ListCanaryConfigs)
		admin.GET("/canary/:service", adminHandler.GetCanaryConfig)
		admin.PUT("/canary/:service",
			middleware.Audit(auditRepo, "canary.replace", "canary_config"),
			adminHandler.ReplaceCanaryConfig)
		admin.GET("/ratelimits", adminHandler.ListRateLimits)
		admin.GET("/audit", adminHandler.ListAuditLogs)
		admin.GET("/stats", adminHandler.Stats)
		admin.GET("/classify", adminHandler.ClassifyPreview)
		admin.POST("/classify", adminHandler.ClassifyPreview)
		admin.GET("/probe", adminHandler.ProbeBackends)
	}

	// Everything else is proxied to the backend fleet.
	r.NoRoute(gatewayHandler.Proxy)

	// Breakers are created lazily on first call; warm them so /admin/breakers
	// shows the whole fleet from startup.
	for _, svc := range routes.Services() {
		breakers.Get(svc)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("gateway starting", "addr", addr, "env", cfg.Env, "services", routes.Services())
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("gateway failed", "error", err)
	}
}
