package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"taskrouter/backend/internal/audit"
	"taskrouter/backend/internal/auth"
	"taskrouter/backend/internal/cache"
	"taskrouter/backend/internal/config"
	"taskrouter/backend/internal/engine"
	"taskrouter/backend/internal/handlers"
	"taskrouter/backend/internal/middleware"
	"taskrouter/backend/internal/monitoring"
	"taskrouter/backend/internal/policy"
	"taskrouter/backend/internal/store"
	"taskrouter/backend/internal/sweeper"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if !cfg.IsProduction() {
		log.SetLevel(log.DebugLevel)
	}

	db, err := gorm.Open(postgres.Open(cfg.GetDatabaseDSN()), &gorm.Config{})
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if err := store.Migrate(db); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	redisCache := cache.NewRedisCache(&cache.Config{
		Addr:         cfg.GetRedisAddr(),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})

	tasks := store.NewCachedTaskStore(store.NewGormTaskStore(db), redisCache)
	directory := store.NewGormDirectory(db)
	recorder := audit.NewRecorder(audit.NewGormSink(db))

	eng := engine.New(tasks, directory, policy.Default(), recorder)

	swp := sweeper.New(eng, cfg.Sweep.Interval)
	swp.Start()

	authService := auth.NewService(db, cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL, cfg.Auth.BCryptCost)

	monitoring.RegisterHealthCheck("database", func(ctx context.Context) error {
		return sqlDB.PingContext(ctx)
	})
	monitoring.RegisterHealthCheck("redis", func(ctx context.Context) error {
		return redisCache.Health(ctx)
	})

	router := buildRouter(cfg, eng, authService)

	server := &http.Server{
		Addr:         cfg.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.WithField("addr", server.Addr).Info("server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("server shutdown")
	}

	swp.Stop()
	if err := redisCache.Close(); err != nil {
		log.WithError(err).Warn("redis close")
	}
	if err := sqlDB.Close(); err != nil {
		log.WithError(err).Warn("database close")
	}
	log.Info("shutdown complete")
}

func buildRouter(cfg *config.Config, eng *engine.Engine, authService *auth.Service) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(monitoring.MetricsMiddleware())
	router.Use(cors.Default())

	if cfg.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(
			cfg.RateLimit.RequestsPerMin,
			cfg.RateLimit.BurstSize,
			cfg.RateLimit.CleanupInterval,
		)
		router.Use(limiter.Middleware())
	}

	router.GET("/health", monitoring.HealthHandler())
	router.GET("/ready", monitoring.ReadinessHandler())
	router.GET("/live", monitoring.LivenessHandler())
	router.GET("/metrics", monitoring.MetricsHandler())

	authHandler := handlers.NewAuthHandler(authService)
	router.POST("/auth/login", authHandler.Login)

	taskHandler := handlers.NewTaskHandler(eng)
	api := router.Group("/api", middleware.AuthzMiddleware(cfg.Auth.JWTSecret))
	{
		api.POST("/tasks", taskHandler.CreateTask)
		api.GET("/tasks/:id", taskHandler.GetTask)
		api.POST("/tasks/:id/complete", taskHandler.CompleteTask)
		api.POST("/tasks/:id/return", taskHandler.ReturnTask)
		api.POST("/tasks/:id/observe", taskHandler.ObserveTask)
		api.POST("/tasks/:id/reassign", taskHandler.ReassignTask)
		api.POST("/tasks/:id/archive", taskHandler.ArchiveTask)
		api.DELETE("/tasks/:id", taskHandler.DeleteTask)
		api.GET("/tasks/:id/comments", taskHandler.GetComments)
		api.GET("/inbox", taskHandler.GetInbox)
		api.GET("/outbox", taskHandler.GetOutbox)
	}

	return router
}
