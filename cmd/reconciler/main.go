// Command reconciler runs the Reconciler (spec.md C5) plus the Notifier
// (C6) it drives and the Metrics Hub (C7) operator HTTP view. Exactly one
// replica's Reconciler loop should be active across a deployment.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/olegeech-me/statustracker/internal/adminapi"
	"github.com/olegeech-me/statustracker/internal/config"
	"github.com/olegeech-me/statustracker/internal/fabric"
	"github.com/olegeech-me/statustracker/internal/fetcher"
	"github.com/olegeech-me/statustracker/internal/metricshub"
	"github.com/olegeech-me/statustracker/internal/notifier"
	"github.com/olegeech-me/statustracker/internal/reconciler"
	"github.com/olegeech-me/statustracker/internal/store"
	"github.com/olegeech-me/statustracker/pkg/cache"
	cachememory "github.com/olegeech-me/statustracker/pkg/cache/adapters/memory"
	cacheredis "github.com/olegeech-me/statustracker/pkg/cache/adapters/redis"
	"github.com/olegeech-me/statustracker/pkg/communication/chat"
	chatdiscord "github.com/olegeech-me/statustracker/pkg/communication/chat/adapters/discord"
	chatmemory "github.com/olegeech-me/statustracker/pkg/communication/chat/adapters/memory"
	chatslack "github.com/olegeech-me/statustracker/pkg/communication/chat/adapters/slack"
	"github.com/olegeech-me/statustracker/pkg/concurrency/distlock"
	distlockmemory "github.com/olegeech-me/statustracker/pkg/concurrency/distlock/adapters/memory"
	distlockredis "github.com/olegeech-me/statustracker/pkg/concurrency/distlock/adapters/redis"
	"github.com/olegeech-me/statustracker/pkg/database/sql/adapters/postgres"
	"github.com/olegeech-me/statustracker/pkg/logger"
	"github.com/olegeech-me/statustracker/pkg/messaging/adapters/rabbitmq"
)

const lockKey = "reconciler-leader"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger.Init(cfg.Logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.New(cfg.Database)
	if err != nil {
		logger.L().ErrorContext(ctx, "reconciler: failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	st, err := store.NewPostgresStore(db)
	if err != nil {
		logger.L().ErrorContext(ctx, "reconciler: failed to initialize store", "error", err)
		os.Exit(1)
	}

	broker, err := rabbitmq.New(cfg.RabbitMQ)
	if err != nil {
		logger.L().ErrorContext(ctx, "reconciler: failed to connect to broker", "error", err)
		os.Exit(1)
	}
	defer broker.Close()

	dedup, err := newCache(cfg)
	if err != nil {
		logger.L().ErrorContext(ctx, "reconciler: failed to initialize cache", "error", err)
		os.Exit(1)
	}
	f, err := fabric.New(broker, dedup, fabric.Config{RequeueTTL: time.Duration(cfg.RequeueThresholdSeconds) * time.Second})
	if err != nil {
		logger.L().ErrorContext(ctx, "reconciler: failed to initialize fabric", "error", err)
		os.Exit(1)
	}
	defer f.Close()

	sender, err := newChatSender(cfg.Chat)
	if err != nil {
		logger.L().ErrorContext(ctx, "reconciler: failed to initialize chat sender", "error", err)
		os.Exit(1)
	}
	n := notifier.New(sender, notifier.Config{
		MaxRetries:     cfg.Chat.RetryMax,
		InitialBackoff: cfg.Chat.RetryBackoff,
	})

	r := reconciler.New(st, n, f)

	hubCache, err := newCache(cfg)
	if err != nil {
		logger.L().ErrorContext(ctx, "reconciler: failed to initialize metrics cache", "error", err)
		os.Exit(1)
	}
	hub := metricshub.New(hubCache, nil)
	metricsConsumer := fetcher.NewMetricsConsumer(f, hub)

	admin := adminapi.New(hub, "statustracker-reconciler")
	go func() {
		if err := admin.Start(cfg.AdminAPIAddr); err != nil {
			logger.L().InfoContext(ctx, "reconciler: admin api stopped", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = admin.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := metricsConsumer.Run(ctx); err != nil && ctx.Err() == nil {
			logger.L().ErrorContext(ctx, "reconciler: metrics consumer stopped", "error", err)
		}
	}()

	locker := newLocker(cfg)
	defer locker.Close()

	runAsLeader(ctx, locker, cfg, r.Run)
}

func runAsLeader(ctx context.Context, locker distlock.Locker, cfg *config.Config, fn func(context.Context)) {
	for ctx.Err() == nil {
		lock := locker.NewLock(lockKey, cfg.LeaderLockTTL)
		acquired, err := distlock.AcquireWithRetry(ctx, lock, cfg.LeaderLockRetryDelay, 1<<30)
		if err != nil || !acquired {
			if ctx.Err() != nil {
				return
			}
			logger.L().WarnContext(ctx, "reconciler: failed to acquire leader lock, retrying", "error", err)
			continue
		}
		logger.L().InfoContext(ctx, "reconciler: acquired leader lock, starting reconciliation loop")

		leaderCtx, cancelLeader := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			fn(leaderCtx)
			close(done)
		}()

		ticker := time.NewTicker(cfg.LeaderLockTTL / 2)
	renew:
		for {
			select {
			case <-ticker.C:
				if err := lock.Extend(ctx, cfg.LeaderLockTTL); err != nil || !lock.IsHeld() {
					logger.L().WarnContext(ctx, "reconciler: lost leader lock, stepping down", "error", err)
					break renew
				}
			case <-ctx.Done():
				break renew
			case <-done:
				break renew
			}
		}
		ticker.Stop()
		cancelLeader()
		<-done
		_ = lock.Release(ctx)
	}
}

func newCache(cfg *config.Config) (cache.Cache, error) {
	if cfg.Cache.Driver == "redis" {
		return cacheredis.New(cfg.Cache)
	}
	return cachememory.New(), nil
}

func newLocker(cfg *config.Config) distlock.Locker {
	if cfg.Cache.Driver == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Host + ":" + cfg.Cache.Port,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		})
		return distlockredis.New(client, "leader:")
	}
	return distlockmemory.New()
}

func newChatSender(cfg chat.Config) (chat.Sender, error) {
	switch cfg.Driver {
	case "slack":
		return chatslack.New(cfg)
	case "discord":
		return chatdiscord.New(cfg)
	default:
		return chatmemory.New(), nil
	}
}
