// Command scheduler runs the Scheduler / Monitors component (spec.md C4).
// Exactly one replica's monitor loops should be active across a
// deployment; replicas compete for a distributed lock and step down
// (without exiting) when they lose it.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/olegeech-me/statustracker/internal/config"
	"github.com/olegeech-me/statustracker/internal/fabric"
	"github.com/olegeech-me/statustracker/internal/scheduler"
	"github.com/olegeech-me/statustracker/internal/store"
	"github.com/olegeech-me/statustracker/pkg/cache"
	cachememory "github.com/olegeech-me/statustracker/pkg/cache/adapters/memory"
	cacheredis "github.com/olegeech-me/statustracker/pkg/cache/adapters/redis"
	"github.com/olegeech-me/statustracker/pkg/concurrency/distlock"
	distlockmemory "github.com/olegeech-me/statustracker/pkg/concurrency/distlock/adapters/memory"
	distlockredis "github.com/olegeech-me/statustracker/pkg/concurrency/distlock/adapters/redis"
	"github.com/olegeech-me/statustracker/pkg/database/sql/adapters/postgres"
	"github.com/olegeech-me/statustracker/pkg/logger"
	"github.com/olegeech-me/statustracker/pkg/messaging/adapters/rabbitmq"
)

const lockKey = "scheduler-leader"

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
		logger.L().ErrorContext(ctx, "scheduler: failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	st, err := store.NewPostgresStore(db)
	if err != nil {
		logger.L().ErrorContext(ctx, "scheduler: failed to initialize store", "error", err)
		os.Exit(1)
	}

	broker, err := rabbitmq.New(cfg.RabbitMQ)
	if err != nil {
		logger.L().ErrorContext(ctx, "scheduler: failed to connect to broker", "error", err)
		os.Exit(1)
	}
	defer broker.Close()

	dedup, err := newCache(cfg)
	if err != nil {
		logger.L().ErrorContext(ctx, "scheduler: failed to initialize cache", "error", err)
		os.Exit(1)
	}
	f, err := fabric.New(broker, dedup, fabric.Config{RequeueTTL: time.Duration(cfg.RequeueThresholdSeconds) * time.Second})
	if err != nil {
		logger.L().ErrorContext(ctx, "scheduler: failed to initialize fabric", "error", err)
		os.Exit(1)
	}
	defer f.Close()

	loc, err := cfg.Location()
	if err != nil {
		logger.L().ErrorContext(ctx, "scheduler: invalid civil timezone", "error", err)
		os.Exit(1)
	}

	sched := scheduler.New(st, f, scheduler.Config{
		SchedulerPeriod:       cfg.SchedulerPeriod,
		RefreshPeriod:         cfg.RefreshPeriod,
		NotFoundRefreshPeriod: cfg.NotFoundRefreshPeriod,
		NotFoundMaxAge:        time.Duration(cfg.NotFoundMaxDays) * 24 * time.Hour,
		Location:              loc,
	})

	locker := newLocker(cfg)
	defer locker.Close()

	runAsLeader(ctx, locker, cfg, sched.Run)
}

// runAsLeader blocks until ctx is canceled, repeatedly acquiring the
// leader lock and running fn while held, stepping down (not exiting) the
// moment Extend fails to renew it.
func runAsLeader(ctx context.Context, locker distlock.Locker, cfg *config.Config, fn func(context.Context)) {
	for ctx.Err() == nil {
		lock := locker.NewLock(lockKey, cfg.LeaderLockTTL)
		acquired, err := distlock.AcquireWithRetry(ctx, lock, cfg.LeaderLockRetryDelay, 1<<30)
		if err != nil || !acquired {
			if ctx.Err() != nil {
				return
			}
			logger.L().WarnContext(ctx, "scheduler: failed to acquire leader lock, retrying", "error", err)
			continue
		}
		logger.L().InfoContext(ctx, "scheduler: acquired leader lock, starting monitors")

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
					logger.L().WarnContext(ctx, "scheduler: lost leader lock, stepping down", "error", err)
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
