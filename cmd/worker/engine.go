package main

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/shinypull/backend/config"
	"github.com/shinypull/backend/internal/archive"
	"github.com/shinypull/backend/internal/creators"
	"github.com/shinypull/backend/internal/events"
	"github.com/shinypull/backend/internal/finalizer"
	"github.com/shinypull/backend/internal/jobs"
	"github.com/shinypull/backend/internal/platform"
	"github.com/shinypull/backend/internal/platform/kick"
	"github.com/shinypull/backend/internal/platform/twitch"
	"github.com/shinypull/backend/internal/poller"
	"github.com/shinypull/backend/internal/quality"
	"github.com/shinypull/backend/internal/rollup"
	"github.com/shinypull/backend/internal/sampler"
	"github.com/shinypull/backend/internal/stats"
	"github.com/shinypull/backend/internal/streams"
	"github.com/shinypull/backend/internal/tracker"
	"github.com/shinypull/backend/internal/worker"
	"github.com/shinypull/backend/pkg/database"
	"github.com/shinypull/backend/pkg/queue"
	"github.com/shinypull/backend/pkg/redis"
	"github.com/shinypull/backend/pkg/storage"
)

// engine holds everything the worker commands share.
type engine struct {
	pool      *pgxpool.Pool
	rdb       *redis.Client
	registry  *prometheus.Registry
	queue     *queue.Queue
	processor *worker.Processor
}

func newEngine(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*engine, error) {
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), database.PoolOptions{MaxConns: int32(cfg.Database.MaxConns)}, logger)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	if err := database.Migrate(ctx, pool, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	rdb, err := redis.NewClient(ctx, redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	}, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := jobs.NewMetrics()
	if err := metrics.Register(registry); err != nil {
		pool.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("metrics: %w", err)
	}

	var archiver finalizer.Archiver
	if cfg.AWS.ArchiveBucket != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			Bucket:               cfg.AWS.ArchiveBucket,
			Endpoint:             cfg.AWS.Endpoint,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			pool.Close()
			_ = rdb.Close()
			return nil, fmt.Errorf("s3: %w", err)
		}
		archiver = archive.NewArchiver(s3Client, logger)
	} else {
		logger.Info("sample archive disabled (AWS_S3_ARCHIVE_BUCKET not set)")
	}

	sessions := streams.NewRepository(pool)
	statRepo := stats.NewRepository(pool)
	pollers := newPollers(cfg, logger, metrics)
	if len(pollers) == 0 {
		logger.Warn("no platform credentials configured; poll cycles will do nothing")
	}

	cycle := tracker.NewCycle(
		creators.NewRepository(pool),
		sessions,
		pollers,
		sampler.New(sessions, logger, metrics),
		finalizer.New(sessions, archiver, logger),
		tracker.Config{Workers: cfg.Poller.CreatorWorkers},
		logger,
		metrics,
	).
		WithEvents(events.NewRedisPublisher(rdb.Client, logger)).
		WithReview(quality.NewReviewTracker(rdb.Client, cfg.Quality.UnknownReviewThreshold, logger))

	agg := rollup.New(sessions, statRepo, cfg.Rollup.Location, logger)
	backfiller := quality.NewBackfiller(sessions, statRepo, logger).
		WithRecompute(func(ctx context.Context, from, to time.Time) error {
			_, err := agg.RunRange(ctx, from, to)
			return err
		})

	q := queue.NewQueue(rdb.Client, logger)
	processor := worker.NewProcessor(
		cycle,
		agg,
		backfiller,
		q,
		logger,
		metrics,
	)
	return &engine{pool: pool, rdb: rdb, registry: registry, queue: q, processor: processor}, nil
}

// newPollers builds one poller per platform with credentials, restricted to
// POLL_PLATFORMS when set.
func newPollers(cfg *config.Config, logger *zap.Logger, metrics *jobs.Metrics) map[string]tracker.Poller {
	var list []platform.Client
	if cfg.Twitch.Enabled() {
		list = append(list, twitch.NewClient(twitch.Config{
			ClientID:     cfg.Twitch.ClientID,
			ClientSecret: cfg.Twitch.ClientSecret,
			APIURL:       cfg.Twitch.APIURL,
			AuthURL:      cfg.Twitch.AuthURL,
		}, logger))
	}
	if cfg.Kick.Enabled() {
		list = append(list, kick.NewClient(kick.Config{
			ClientID:     cfg.Kick.ClientID,
			ClientSecret: cfg.Kick.ClientSecret,
			APIURL:       cfg.Kick.APIURL,
			AuthURL:      cfg.Kick.AuthURL,
		}, logger))
	}

	pcfg := poller.Config{
		BatchSize:    cfg.Poller.BatchSize,
		Workers:      cfg.Poller.Workers,
		BatchTimeout: cfg.Poller.BatchTimeout,
		RetryBackoff: cfg.Poller.RetryBackoff,
	}
	out := map[string]tracker.Poller{}
	for name, client := range platform.NewClients(list...) {
		if len(cfg.Poller.Platforms) > 0 && !slices.Contains(cfg.Poller.Platforms, name) {
			continue
		}
		out[name] = poller.New(client, pcfg, logger.With(zap.String("platform", name)), metrics)
	}
	return out
}

func (e *engine) Close() {
	_ = e.rdb.Close()
	e.pool.Close()
}
