package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/sma-timetable-api/api/swagger"
	"github.com/noah-isme/sma-timetable-api/internal/handler"
	"github.com/noah-isme/sma-timetable-api/internal/middleware"
	"github.com/noah-isme/sma-timetable-api/internal/repository"
	"github.com/noah-isme/sma-timetable-api/internal/service"
	"github.com/noah-isme/sma-timetable-api/pkg/cache"
	"github.com/noah-isme/sma-timetable-api/pkg/config"
	"github.com/noah-isme/sma-timetable-api/pkg/database"
	"github.com/noah-isme/sma-timetable-api/pkg/jobs"
	"github.com/noah-isme/sma-timetable-api/pkg/lock"
	"github.com/noah-isme/sma-timetable-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-timetable-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-timetable-api/pkg/middleware/requestid"
)

// @title SMA Timetable API
// @version 1.0.0
// @description Class schedule management with conflict detection and scoped publishing
// @BasePath /api/v1
// @schemes http

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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	entryRepo := repository.NewEntryRepository(db)
	refRepo := repository.NewReferenceRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metricsSvc := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Timetable.CacheTTL, logr, cfg.Timetable.CacheEnabled)

	var locker lock.Locker
	switch cfg.Locks.Backend {
	case "redis":
		locker = lock.NewRedisLocker(redisClient, cfg.Locks.TTL, logr)
	default:
		locker = lock.NewMemoryLocker()
	}

	detector := service.NewConflictDetector(entryRepo, logr)
	loads := service.NewLoadTracker(entryRepo, refRepo, cfg.Timetable.DefaultMaxPeriodsPerWeek, logr)

	var notifier *service.NotificationService
	var eventQueue *jobs.Queue
	if cfg.Notifications.Enabled {
		publisher := repository.NewEventPublisher(redisClient, cfg.Notifications.Channel)
		worker := service.NewNotificationWorker(publisher, logr)
		eventQueue = jobs.NewQueue("schedule-events", worker.Handle, jobs.QueueConfig{
			Workers:    cfg.Notifications.WorkerConcurrency,
			MaxRetries: cfg.Notifications.WorkerRetries,
			RetryDelay: cfg.Notifications.RetryDelay,
			Logger:     logr,
		})
		eventQueue.Start(context.Background())
		defer eventQueue.Stop()
		notifier = service.NewNotificationService(eventQueue, logr)
	}

	entrySvc := service.NewEntryService(entryRepo, refRepo, detector, loads, db,
		service.WithEntryAudit(auditRepo),
		service.WithEntryLocks(locker),
		service.WithEntryCache(cacheSvc),
		service.WithEntryMetrics(metricsSvc),
		service.WithEntryLogger(logr),
		service.WithMaxPeriodNumber(cfg.Timetable.MaxPeriodNumber),
	)

	publishOpts := []service.PublishServiceOption{
		service.WithPublishAudit(auditRepo),
		service.WithPublishLocks(locker),
		service.WithPublishCache(cacheSvc),
		service.WithPublishMetrics(metricsSvc),
		service.WithPublishLogger(logr),
	}
	if notifier != nil {
		publishOpts = append(publishOpts, service.WithPublishNotifier(notifier))
	}
	publishSvc := service.NewPublishService(entryRepo, detector, loads, db, publishOpts...)

	entryHandler := handler.NewEntryHandler(entrySvc)
	scopeHandler := handler.NewScopeHandler(publishSvc)
	teacherHandler := handler.NewTeacherHandler(entrySvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))
	r.Use(middleware.WithResponseMeta())
	r.Use(middleware.Actor())

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		if err := redisClient.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	timetable := api.Group("/timetable")
	{
		timetable.GET("/entries", entryHandler.List)
		timetable.POST("/entries", middleware.RequireActor(), entryHandler.Create)
		timetable.GET("/entries/:id", entryHandler.Get)
		timetable.PUT("/entries/:id", middleware.RequireActor(), entryHandler.Update)
		timetable.POST("/entries/:id/cancel", middleware.RequireActor(), entryHandler.Cancel)
		timetable.POST("/entries/:id/archive", middleware.RequireActor(), entryHandler.Archive)
		timetable.POST("/entries/:id/conflicts/:conflictId/resolve", middleware.RequireActor(), entryHandler.Resolve)
		timetable.POST("/conflicts/check", entryHandler.Check)
		timetable.GET("/scope", scopeHandler.Summary)
		timetable.GET("/scope/conflicts", scopeHandler.Conflicts)
		timetable.POST("/publish", middleware.RequireActor(), scopeHandler.Publish)
	}

	teachers := api.Group("/teachers")
	{
		teachers.GET("/:id/timetable", teacherHandler.Timetable)
		teachers.GET("/:id/load", teacherHandler.Load)
	}

	api.GET("/system/metrics", metricsHandler.Snapshot)

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-shutdownCtx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logr.Sugar().Errorw("http shutdown error", "error", err)
		}
	}()

	logr.Sugar().Infow("server starting", "addr", server.Addr, "env", cfg.Env)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
