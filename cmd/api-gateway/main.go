package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-observation-api/api/swagger"
	"github.com/noah-isme/sma-observation-api/internal/handler"
	internalmiddleware "github.com/noah-isme/sma-observation-api/internal/middleware"
	"github.com/noah-isme/sma-observation-api/internal/models"
	"github.com/noah-isme/sma-observation-api/internal/repository"
	"github.com/noah-isme/sma-observation-api/internal/service"
	"github.com/noah-isme/sma-observation-api/pkg/cache"
	"github.com/noah-isme/sma-observation-api/pkg/config"
	"github.com/noah-isme/sma-observation-api/pkg/database"
	"github.com/noah-isme/sma-observation-api/pkg/docstore"
	"github.com/noah-isme/sma-observation-api/pkg/jobs"
	"github.com/noah-isme/sma-observation-api/pkg/logger"
	"github.com/noah-isme/sma-observation-api/pkg/mailer"
	corsmiddleware "github.com/noah-isme/sma-observation-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-observation-api/pkg/middleware/requestid"
	securemiddleware "github.com/noah-isme/sma-observation-api/pkg/middleware/secure"
)

const redisKeyPrefix = "sma:"

// @title SMA Observation API
// @version 1.0.0
// @description School observation dashboard: client sessions, role selection, observation records and reports
// @BasePath /api/v1
// @schemes http https

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	var (
		redisClient *redis.Client
		db          *sqlx.DB
		err         error
	)
	if cfg.NeedsRedis() {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisClient.Close()
	}
	if cfg.NeedsPostgres() {
		db, err = database.NewPostgres(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer db.Close()
	}

	metrics := service.NewMetricsService()

	store, err := openDocStore(ctx, cfg, redisClient, db, metrics, logr)
	if err != nil {
		return err
	}
	defer store.Close()

	audit := repository.NewAuditRepository(store, cfg.AppID)

	notifications := service.NewNotificationService(mailer.New(cfg.Mail, logr), service.NotificationConfig{
		ApproverEmails: cfg.Notifications.ApproverEmails,
		Queue: jobs.QueueConfig{
			Workers:    cfg.Notifications.Workers,
			BufferSize: cfg.Notifications.BufferSize,
			MaxRetries: cfg.Notifications.MaxRetries,
			RetryDelay: cfg.Notifications.RetryDelay,
			Logger:     logr,
		},
	}, logr)
	notifications.Start(ctx)
	defer notifications.Stop()

	identity, err := openIdentity(ctx, cfg, redisClient, db, notifications, audit, metrics, logr)
	if err != nil {
		return err
	}

	env := service.MetricsEnv{
		TotalStudents:         cfg.School.TotalStudents,
		AbsenceThreshold:      cfg.School.AbsenceThreshold,
		BehavioralWeeklyLimit: cfg.School.BehavioralWeeklyLimit,
	}
	var cacheRepo service.CacheRepository
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient)
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Reports.CacheTTL, logr)

	defs := service.Catalog()
	reports := service.NewReportService(defs, store, cacheSvc, audit, service.ReportConfig{
		Tenant:   cfg.AppID,
		Env:      env,
		CacheTTL: cfg.Reports.CacheTTL,
	}, logr)

	hub := service.NewSessionHub(identity, store, defs, audit, service.HubConfig{
		Tenant:          cfg.AppID,
		TTL:             cfg.Sessions.TTL,
		SweepInterval:   cfg.Sessions.SweepInterval,
		AnonymousSignIn: cfg.Identity.AnonymousSignIn,
		BootstrapToken:  cfg.Identity.BootstrapToken,
	}, logr,
		service.WithHubMetrics(metrics),
		service.WithManagerOptions(
			service.WithAuditRecorder(audit),
			service.WithWriteObserver(metrics),
			service.WithWriteHooks(metrics.ObservationHook(), reports.InvalidationHook(), notifications.ApprovalHook()),
			service.WithMetricsEnv(env),
		),
	)
	go hub.Run(ctx)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(reqidmiddleware.Middleware())
	router.Use(logger.GinMiddleware(logr))
	router.Use(securemiddleware.New(cfg.IsProduction()))
	router.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	router.Use(internalmiddleware.Metrics(metrics))

	checks := map[string]handler.ReadinessCheck{
		"docstore": func(ctx context.Context) error {
			_, err := store.List(ctx, docstore.PublicCollection(cfg.AppID, "health"))
			return err
		},
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	if db != nil {
		checks["postgres"] = db.PingContext
	}
	metricsHandler := handler.NewMetricsHandler(metrics, checks)
	router.GET("/health", metricsHandler.Health)
	router.GET("/ready", metricsHandler.Ready)
	if cfg.Metrics.Enabled {
		router.GET("/metrics", metricsHandler.Prometheus)
	}
	if !cfg.IsProduction() {
		router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	handler.Routes{
		Sessions:      handler.NewSessionHandler(hub, identity, logr),
		Observations:  handler.NewObservationHandler(defs),
		Reports:       handler.NewReportHandler(reports),
		Hub:           hub,
		AuthRateLimit: cfg.RateLimit.AuthPerMinute,
	}.Register(router.Group(cfg.APIPrefix))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("env", cfg.Env),
			zap.String("docstore", cfg.DocStore.Backend),
			zap.String("broker", cfg.DocStore.Broker),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	hub.CloseAll()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown", zap.Error(err))
	}
	logr.Info("server stopped")
	return nil
}

func openDocStore(ctx context.Context, cfg *config.Config, redisClient *redis.Client, db *sqlx.DB, metrics *service.MetricsService, logr *zap.Logger) (*docstore.Store, error) {
	var backend docstore.Backend
	switch cfg.DocStore.Backend {
	case config.BackendRedis:
		backend = docstore.NewRedisBackend(redisClient, redisKeyPrefix+"docs:")
	case config.BackendPostgres:
		pg := docstore.NewPostgresBackend(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("prepare docstore schema: %w", err)
		}
		backend = pg
	default:
		backend = docstore.NewMemoryBackend()
	}

	var broker docstore.Broker
	switch cfg.DocStore.Broker {
	case config.BrokerRedis:
		broker = docstore.NewRedisBroker(redisClient, cfg.DocStore.Channel, logr)
	default:
		broker = docstore.NewLocalBroker()
	}

	store := docstore.New(backend, broker, docstore.WithLogger(logr), docstore.WithObserver(metrics))
	if err := store.Start(ctx); err != nil {
		return nil, fmt.Errorf("start docstore: %w", err)
	}
	return store, nil
}

type userStore interface {
	Create(ctx context.Context, user *models.User) error
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	MarkVerified(ctx context.Context, id string, at time.Time) error
	UpdateLastSignIn(ctx context.Context, id string, at time.Time) error
}

type tokenStore interface {
	Save(ctx context.Context, token, userID string, ttl time.Duration) error
	Consume(ctx context.Context, token string) (string, error)
}

func openIdentity(ctx context.Context, cfg *config.Config, redisClient *redis.Client, db *sqlx.DB, sender service.VerificationSender, audit service.AuditRecorder, metrics *service.MetricsService, logr *zap.Logger) (*service.IdentityService, error) {
	var tokens tokenStore = repository.NewMemoryTokenRepository()
	if redisClient != nil {
		tokens = repository.NewTokenRepository(redisClient, redisKeyPrefix)
	}

	var users userStore = repository.NewMemoryUserRepository()
	if cfg.Identity.Users == config.BackendPostgres {
		pg := repository.NewUserRepository(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("prepare identity schema: %w", err)
		}
		users = pg
	}

	return service.NewIdentityService(users, tokens, sender, audit, logr, service.IdentityConfig{
		JWTSecret:         cfg.Identity.JWTSecret,
		Issuer:            cfg.Identity.JWTIssuer,
		CustomTokenTTL:    cfg.Identity.CustomTokenTTL,
		PasswordMinLength: cfg.Identity.PasswordMinLength,
		VerificationTTL:   cfg.Identity.VerificationTTL,
		VerifyBaseURL:     cfg.Identity.VerificationBaseURL,
	}, service.WithAuthEvents(metrics)), nil
}
