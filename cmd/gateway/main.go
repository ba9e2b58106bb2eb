package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"cortex-gateway/internal/api"
	"cortex-gateway/internal/backfill"
	"cortex-gateway/internal/bodies"
	"cortex-gateway/internal/config"
	"cortex-gateway/internal/emails"
	"cortex-gateway/internal/gmailsync"
	"cortex-gateway/internal/logging"
	"cortex-gateway/internal/queue"
	"cortex-gateway/internal/ratelimit"
	"cortex-gateway/internal/store"
	"cortex-gateway/internal/store/memory"
	"cortex-gateway/internal/telemetry"
	"cortex-gateway/internal/triage"
)

// gatewayStore is everything the services need from the metadata backend.
type gatewayStore interface {
	queue.Store
	backfill.Store
	triage.Store
	emails.Store
	gmailsync.Store
	api.Pinger
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	bodyClient := bodies.NewHTTPClient(bodies.HTTPOptions{
		BaseURL:  cfg.BodyServiceURL,
		Timeout:  cfg.BodyServiceTimeout,
		Retries:  cfg.BodyServiceRetries,
		MaxBytes: cfg.BodyMaxBytes,
	}, logger.Named("bodies"))
	var fetcher bodies.Fetcher = bodyClient
	if cfg.BodyS3Bucket != "" {
		s3Opts := bodies.S3Options{
			Bucket:    cfg.BodyS3Bucket,
			Prefix:    cfg.BodyS3Prefix,
			Region:    cfg.BodyS3Region,
			Endpoint:  cfg.BodyS3Endpoint,
			PathStyle: cfg.BodyS3PathStyle,
			MaxBytes:  cfg.BodyMaxBytes,
			Timeout:   cfg.BodyServiceTimeout,
		}
		client, err := bodies.NewS3Client(ctx, s3Opts)
		if err != nil {
			return err
		}
		fetcher = bodies.NewS3Fetcher(client, s3Opts, logger.Named("bodies"))
		logger.Info("serving bodies from s3 archive", zap.String("bucket", cfg.BodyS3Bucket))
	}

	var limiter *ratelimit.TokenBucket
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer func() { _ = rdb.Close() }()
		limiter = ratelimit.NewTokenBucket(rdb, ratelimit.Options{
			Capacity:        cfg.RateLimitCapacity,
			RefillPerSecond: cfg.RateLimitRefill,
			TTL:             cfg.RateLimitTTL,
		})
	}

	server := api.New(api.Deps{
		Queue: queue.NewService(st, queue.Options{
			Timeout:      cfg.StoreTimeout,
			DefaultLimit: cfg.DeadLetterPageSize,
			MaxLimit:     cfg.DeadLetterMaxPage,
		}, logger.Named("queue")),
		Backfill: backfill.NewService(st, backfill.Options{
			Timeout:         cfg.StoreTimeout,
			Queues:          cfg.BackfillQueues,
			DefaultQueue:    cfg.BackfillQueue,
			MaxDays:         cfg.BackfillMaxDays,
			PriorityMin:     cfg.BackfillPriorityMin,
			PriorityMax:     cfg.BackfillPriorityMax,
			DefaultPriority: cfg.BackfillPriority,
			DefaultDays:     cfg.BackfillDefaultDays,
		}, logger.Named("backfill")),
		Triage: triage.NewService(st, triage.Options{
			Timeout:         cfg.StoreTimeout,
			Queue:           cfg.TriageQueue,
			DefaultDays:     cfg.TriageRerunDays,
			DefaultPriority: cfg.BackfillPriority,
			PriorityMin:     cfg.BackfillPriorityMin,
			PriorityMax:     cfg.BackfillPriorityMax,
			MaxIDs:          cfg.TriageRerunMaxIDs,
		}, logger.Named("triage")),
		Emails: emails.NewService(st, emails.Options{
			Timeout:            cfg.StoreTimeout,
			UncategorizedLabel: cfg.UncategorizedLabel,
		}),
		Sync: gmailsync.NewService(st, gmailsync.Options{
			Timeout: cfg.StoreTimeout,
			MaxDays: cfg.SyncMaxDays,
		}, logger.Named("sync")),
		Bodies:      fetcher,
		BodyService: bodyClient,
		Store:       st,
		Limiter:     limiter,
		Logger:      logger.Named("http"),
	})

	metricsRouter := chi.NewRouter()
	metricsRouter.Mount("/metrics", telemetry.Handler())

	servers := []*http.Server{
		{Addr: cfg.HTTPAddr, Handler: server.Router(), ReadHeaderTimeout: 10 * time.Second},
		{Addr: cfg.MetricsAddr, Handler: metricsRouter, ReadHeaderTimeout: 10 * time.Second},
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			logger.Info("listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("shutdown", zap.String("addr", srv.Addr), zap.Error(err))
			}
		}
		return nil
	})

	err = g.Wait()
	logger.Info("gateway stopped")
	return err
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (gatewayStore, func(), error) {
	if cfg.Store == "memory" {
		logger.Warn("using in-memory store; state is lost on exit")
		return memory.New(), func() {}, nil
	}

	st, err := store.New(ctx, store.PoolConfig{
		DSN:      cfg.PostgresDSN,
		MaxConns: cfg.PostgresMaxConns,
		MinConns: cfg.PostgresMinConns,
	}, logger.Named("store"))
	if err != nil {
		return nil, nil, err
	}
	if cfg.RunMigrations {
		if err := st.RunMigrations(ctx); err != nil {
			st.Close()
			return nil, nil, err
		}
	}
	return st, st.Close, nil
}
