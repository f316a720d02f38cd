package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/azizikri/coupon-issuer/internal/codegen"
	"github.com/azizikri/coupon-issuer/internal/config"
	"github.com/azizikri/coupon-issuer/internal/counter"
	"github.com/azizikri/coupon-issuer/internal/delivery/kafka"
	"github.com/azizikri/coupon-issuer/internal/repository"
	"github.com/azizikri/coupon-issuer/internal/scheduler"
	"github.com/azizikri/coupon-issuer/internal/throttle"
	"github.com/azizikri/coupon-issuer/internal/usecase"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout  = 10 * time.Second
	reconcileTimeout = 5 * time.Minute
	janitorInterval  = time.Minute
)

type roles struct {
	api       bool
	worker    bool
	reconcile bool
	once      bool
}

func run(ctx context.Context, r roles) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := config.NewLogger(cfg, os.Stdout)
	slog.SetDefault(logger)

	if r.worker && !r.api && !cfg.EventDrivenEnabled {
		return errors.New("a standalone worker needs EVENT_DRIVEN_ENABLED=true; in-process mode runs the worker inside api")
	}

	pool, err := initDB(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool, logger); err != nil {
		return err
	}

	rdb, err := initRedis(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer rdb.Close()

	store := repository.New(pool)
	counterStore := counter.New(rdb, cfg.RedisKeyPrefix)

	if r.reconcile && r.once {
		return reconcileOnce(ctx, cfg, counterStore, store, logger)
	}

	var (
		publisher usecase.ClaimPublisher
		dead      usecase.DeadLetter
		kclient   *kgo.Client
		kpub      *kafka.Publisher
		direct    *kafka.DirectQueue
	)
	if (r.api || r.worker) && cfg.EventDrivenEnabled {
		kclient, err = newKafkaClient(cfg, r.worker)
		if err != nil {
			return fmt.Errorf("create kafka client: %w", err)
		}
		defer kclient.Close()

		if err := kafka.EnsureTopics(ctx, kclient, cfg, logger); err != nil {
			logger.Warn("failed to ensure topics", "error", err)
		}
		kpub = kafka.NewPublisher(kclient)
		publisher, dead = kpub, kpub
	} else if r.api {
		direct = kafka.NewDirectQueue(cfg.WorkerLanes, cfg.WorkerQueueDepth, logger)
		publisher, dead = direct, kafka.LogDeadLetter{Logger: logger}
		r.worker = true
	}

	g, gctx := errgroup.WithContext(ctx)

	if r.worker {
		codes, err := codegen.New(cfg.WorkerNodeID)
		if err != nil {
			return err
		}
		issuer := usecase.NewIssuer(counterStore, store, dead, codes, usecase.IssuerConfig{
			MaxAttempts: cfg.WorkerMaxAttempts,
			BaseBackoff: cfg.WorkerBaseBackoff,
			MaxBackoff:  cfg.WorkerMaxBackoff,
		}, logger)

		if direct != nil {
			g.Go(func() error {
				direct.Run(gctx, issuer)
				return nil
			})
		} else {
			consumer := kafka.NewConsumer(kclient, issuer, kpub, cfg.WorkerLanes, logger)
			g.Go(func() error {
				return consumer.Start(gctx)
			})
			logger.Info("issuance worker consuming", "topic", kafka.TopicClaimEvents, "lanes", cfg.WorkerLanes)
		}
	}

	if r.api {
		th := throttle.New(cfg.AdmissionThrottleRPS, cfg.AdmissionThrottleBurst, cfg.AdmissionThrottleWait)
		th.StartJanitor(gctx, janitorInterval)

		opts := []usecase.GuardOption{
			usecase.WithReserveTimeout(cfg.AdmissionReserveTimeout),
			usecase.WithPublishTimeout(cfg.AdmissionPublishTimeout),
		}
		if th != nil {
			opts = append(opts, usecase.WithThrottle(th))
		}
		guard := usecase.NewGuard(counterStore, publisher, logger, opts...)
		campaigns := usecase.NewCampaignService(store, counterStore, cfg.ReconcileRetention, logger)

		srv := &http.Server{
			Addr:              ":" + cfg.AppPort,
			Handler:           newRouter(guard, campaigns, pool, rdb, logger),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("starting server", "port", cfg.AppPort)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if r.reconcile {
		rec := usecase.NewReconciler(counterStore, store, usecase.ReconcilerConfig{
			Grace:     cfg.ReconcileGrace,
			Retention: cfg.ReconcileRetention,
		}, logger)
		sched := scheduler.New(rec, cfg.ReconcileSchedule, reconcileTimeout, logger)
		if err := sched.Start(); err != nil {
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			sched.Stop()
			return nil
		})
	}

	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}

func reconcileOnce(ctx context.Context, cfg *config.Config, c *counter.Store, store repository.Store, logger *slog.Logger) error {
	rec := usecase.NewReconciler(c, store, usecase.ReconcilerConfig{
		Grace:     cfg.ReconcileGrace,
		Retention: cfg.ReconcileRetention,
	}, logger)

	drifts, err := rec.Run(ctx)
	for _, d := range drifts {
		logger.Info("campaign reconciled",
			"campaign_id", d.CampaignID,
			"changed", d.Changed(),
			"delta", d.Delta,
			"remaining", d.Remaining,
		)
	}
	return err
}

func initDB(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.DBMaxConns > 0 {
		poolCfg.MaxConns = cfg.DBMaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return pool, nil
}

func initRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}

// newKafkaClient returns a producer, or a producer that also consumes the
// claim topic as part of the worker group.
func newKafkaClient(cfg *config.Config, consume bool) (*kgo.Client, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers()...),
		kgo.ClientID(cfg.KafkaClientID),
	}
	if cfg.KafkaDeliveryTimeout > 0 {
		opts = append(opts, kgo.RecordDeliveryTimeout(cfg.KafkaDeliveryTimeout))
	}
	if consume {
		opts = append(opts,
			kgo.ConsumerGroup(cfg.KafkaGroupID),
			kgo.ConsumeTopics(kafka.TopicClaimEvents),
			kgo.DisableAutoCommit(),
		)
	}
	return kgo.NewClient(opts...)
}
