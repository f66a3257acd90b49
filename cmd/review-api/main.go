package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/form-review-api/api/swagger"
	"github.com/noah-isme/form-review-api/internal/handler"
	"github.com/noah-isme/form-review-api/internal/middleware"
	"github.com/noah-isme/form-review-api/internal/repository"
	"github.com/noah-isme/form-review-api/internal/service"
	"github.com/noah-isme/form-review-api/pkg/cache"
	"github.com/noah-isme/form-review-api/pkg/config"
	"github.com/noah-isme/form-review-api/pkg/database"
	"github.com/noah-isme/form-review-api/pkg/jobs"
	"github.com/noah-isme/form-review-api/pkg/logger"
	"github.com/noah-isme/form-review-api/pkg/messaging"
	corsmiddleware "github.com/noah-isme/form-review-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/form-review-api/pkg/middleware/requestid"
)

// @title Form Review API
// @version 1.0.0
// @description Staff application and interview review workflow
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

type publisher interface {
	Publish(ctx context.Context, key string, value interface{}) error
	Close() error
}

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	var redisClient *redis.Client
	if client, err := cache.NewRedis(ctx, cfg.Redis); err != nil {
		logr.Warn("redis unavailable, form cache and audit outbox disabled", zap.Error(err))
	} else {
		redisClient = client
	}

	metrics := service.NewMetricsService()
	policy := service.NewPermissionPolicy(cfg.Permission.StaffRoleID, cfg.Permission.AdminRoleID)
	validate := validator.New()

	formRepo := repository.NewFormRepository(db)
	changeLogRepo := repository.NewChangeLogRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.FormCache.TTL, logr, cfg.FormCache.Enabled && cacheRepo.Enabled())

	auditOpts := []service.AuditServiceOption{service.WithAuditMetrics(metrics)}
	if cacheRepo.Enabled() {
		auditOpts = append(auditOpts, service.WithAuditOutbox(cacheRepo, cfg.Audit.OutboxKey))
	}
	if cfg.ChangeLog.StreamEnabled && len(cfg.ChangeLog.Brokers) > 0 {
		stream := messaging.NewKafkaPublisher(cfg.ChangeLog.Brokers, cfg.ChangeLog.Topic)
		defer closePublisher(logr, "kafka", stream)
		auditOpts = append(auditOpts, service.WithChangeLogPublisher(stream))
	}
	auditSvc := service.NewAuditService(changeLogRepo, logr, auditOpts...)

	notifier, closeNotifier := newNotifier(cfg, metrics, logr)
	// Independent of the signal context; stopped after the HTTP drain.
	notifyCtx, cancelNotify := context.WithCancel(context.Background())
	defer cancelNotify()
	notifier.Start(notifyCtx)

	reviewSvc := service.NewReviewService(formRepo, auditSvc, policy, logr,
		service.WithReviewNotifier(notifier),
		service.WithReviewCache(cacheSvc),
		service.WithReviewMetrics(metrics),
		service.WithPublicURL(cfg.PublicURL),
	)
	formSvc := service.NewFormService(formRepo, auditSvc, policy, validate, logr,
		service.WithFormCache(cacheSvc, cfg.FormCache.TTL),
	)
	authSvc := service.NewAuthService(logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		Issuer:            cfg.JWT.Issuer,
	})

	probes := map[string]handler.ReadinessProbe{"postgres": db.PingContext}
	if cacheRepo.Enabled() {
		probes["redis"] = cacheRepo.Ping
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	registerRoutes(r, cfg, routeDeps{
		forms:     handler.NewFormHandler(formSvc, reviewSvc, validate),
		changeLog: handler.NewChangeLogHandler(auditSvc, validate),
		metrics:   handler.NewMetricsHandler(metrics, probes),
		auth:      authSvc,
		policy:    policy,
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		auditSvc.RunReconciler(ctx, cfg.Audit.ReconcileInterval)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Error("server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
	notifier.Stop()
	cancelNotify()
	closeNotifier()
	wg.Wait()
}

type routeDeps struct {
	forms     *handler.FormHandler
	changeLog *handler.ChangeLogHandler
	metrics   *handler.MetricsHandler
	auth      middleware.TokenValidator
	policy    middleware.StaffChecker
}

func registerRoutes(r *gin.Engine, cfg *config.Config, deps routeDeps) {
	r.GET("/health", deps.metrics.Health)
	r.GET("/ready", deps.metrics.Ready)
	r.GET("/metrics", deps.metrics.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(deps.auth))

	forms := api.Group("/forms/:kind")
	forms.POST("", deps.forms.Submit)
	forms.GET("", deps.forms.List)
	forms.GET("/:id", deps.forms.Get)
	forms.DELETE("/:id", deps.forms.Delete)
	forms.POST("/:id/claim", deps.forms.Claim)
	forms.POST("/:id/unclaim", deps.forms.Unclaim)
	forms.POST("/:id/decide", deps.forms.Decide)
	forms.POST("/:id/comments", deps.forms.Comment)
	forms.PUT("/:id/recording", deps.forms.AttachRecording)

	staff := api.Group("")
	staff.Use(middleware.RequireStaff(deps.policy))
	staff.GET("/changelogs", deps.changeLog.List)
	staff.GET("/metrics/summary", deps.metrics.Summary)
}

func newNotifier(cfg *config.Config, metrics *service.MetricsService, logr *zap.Logger) (*service.NotificationService, func()) {
	queueCfg := jobs.QueueConfig{
		Workers:    cfg.Notify.Workers,
		MaxRetries: cfg.Notify.Retries,
		RetryDelay: cfg.Notify.RetryDelay,
		JobTimeout: 10 * time.Second,
		Logger:     logr,
	}
	if !cfg.Notify.Enabled {
		return service.NewNotificationService(nil, metrics, logr, queueCfg), func() {}
	}
	rabbit, err := messaging.NewRabbitPublisher(cfg.Notify.URL, cfg.Notify.Queue)
	if err != nil {
		logr.Warn("rabbitmq unavailable, decision notifications disabled", zap.Error(err))
		return service.NewNotificationService(nil, metrics, logr, queueCfg), func() {}
	}
	return service.NewNotificationService(rabbit, metrics, logr, queueCfg), func() {
		closePublisher(logr, "rabbitmq", rabbit)
	}
}

func closePublisher(logr *zap.Logger, name string, p publisher) {
	if err := p.Close(); err != nil {
		logr.Warn("failed to close publisher", zap.String("transport", name), zap.Error(err))
	}
}
