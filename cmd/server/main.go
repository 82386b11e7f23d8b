// Package main runs the read and operator HTTP API.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/shinypull/backend/config"
	"github.com/shinypull/backend/internal/archive"
	"github.com/shinypull/backend/internal/auth"
	"github.com/shinypull/backend/internal/events"
	"github.com/shinypull/backend/internal/jobs"
	"github.com/shinypull/backend/internal/middleware"
	"github.com/shinypull/backend/internal/models"
	"github.com/shinypull/backend/internal/quality"
	"github.com/shinypull/backend/internal/stats"
	"github.com/shinypull/backend/internal/streams"
	"github.com/shinypull/backend/pkg/database"
	"github.com/shinypull/backend/pkg/queue"
	"github.com/shinypull/backend/pkg/redis"
	"github.com/shinypull/backend/pkg/response"
	"github.com/shinypull/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), database.PoolOptions{MaxConns: int32(cfg.Database.MaxConns)}, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	}, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.ArchiveBucket != "" {
		s3Client, err = storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			Bucket:               cfg.AWS.ArchiveBucket,
			Endpoint:             cfg.AWS.Endpoint,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Fatal("s3", zap.Error(err))
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	sessionRepo := streams.NewRepository(pool)
	statRepo := stats.NewRepository(pool)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	reviewTracker := quality.NewReviewTracker(rdb.Client, cfg.Quality.UnknownReviewThreshold, logger)

	sessionHandler := streams.NewHandler(sessionRepo)
	statsHandler := stats.NewHandler(statRepo, cfg.Rollup.Location)
	reviewHandler := quality.NewHandler(reviewTracker)
	jobsHandler := jobs.NewHandler(jobQueue, []string{models.PlatformTwitch, models.PlatformKick})

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		queue.NewCollector(jobQueue, logger),
	)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) {
		hctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(hctx); err != nil {
			response.ServiceUnavailable(c, "database unavailable")
			return
		}
		if err := rdb.Ping(hctx).Err(); err != nil {
			response.ServiceUnavailable(c, "redis unavailable")
			return
		}
		response.OK(c, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	// WebSocket feed (token in query; no Authorization header required)
	feed := events.NewFeed(rdb.Client, func(token string) error {
		_, err := jwtService.Validate(token)
		return err
	}, logger)
	router.GET("/api/v1/creators/:id/events", feed.Serve)

	api := router.Group("/api/v1")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/creators/:id/sessions", sessionHandler.ListByCreator)
		api.GET("/creators/:id/stats", statsHandler.ListByCreator)
		api.GET("/sessions/:id", sessionHandler.Get)
		if s3Client != nil {
			api.GET("/sessions/:id/archive", archive.NewHandler(sessionRepo, s3Client).GetURL)
		} else {
			api.GET("/sessions/:id/archive", func(c *gin.Context) {
				response.ServiceUnavailable(c, "sample archive is not configured")
			})
		}

		ops := api.Group("", middleware.RequireRole(auth.RoleOperator))
		ops.GET("/review", reviewHandler.ListFlagged)
		ops.GET("/jobs", jobsHandler.Stats)
		ops.POST("/jobs/poll", jobsHandler.Poll)
		ops.POST("/jobs/rollup", jobsHandler.Rollup)
		ops.POST("/jobs/backfill", jobsHandler.Backfill)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
