// Command fetcher runs one Fetcher Worker replica (spec.md C3). Multiple
// replicas may run concurrently; they compete for deliveries off the same
// two queues via a shared consumer group.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/olegeech-me/statustracker/internal/config"
	"github.com/olegeech-me/statustracker/internal/fabric"
	"github.com/olegeech-me/statustracker/internal/fetcher"
	"github.com/olegeech-me/statustracker/pkg/cache"
	cachememory "github.com/olegeech-me/statustracker/pkg/cache/adapters/memory"
	cacheredis "github.com/olegeech-me/statustracker/pkg/cache/adapters/redis"
	"github.com/olegeech-me/statustracker/pkg/logger"
	"github.com/olegeech-me/statustracker/pkg/messaging/adapters/rabbitmq"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger.Init(cfg.Logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	broker, err := rabbitmq.New(cfg.RabbitMQ)
	if err != nil {
		logger.L().ErrorContext(ctx, "fetcher: failed to connect to broker", "error", err)
		os.Exit(1)
	}
	defer broker.Close()

	dedup, err := newCache(cfg)
	if err != nil {
		logger.L().ErrorContext(ctx, "fetcher: failed to initialize cache", "error", err)
		os.Exit(1)
	}
	f, err := fabric.New(broker, dedup, fabric.Config{RequeueTTL: time.Duration(cfg.RequeueThresholdSeconds) * time.Second})
	if err != nil {
		logger.L().ErrorContext(ctx, "fetcher: failed to initialize fabric", "error", err)
		os.Exit(1)
	}
	defer f.Close()

	browser := fetcher.NewHTTPEngine(&http.Client{Timeout: cfg.PageLoadTimeout})

	w := fetcher.New(f, browser, fetcher.Config{
		URL:                cfg.PortalURL,
		JitterSeconds:      cfg.JitterSeconds,
		MaxRetries:         cfg.MaxRetries,
		MaxMessages:        cfg.MaxMessages,
		CoolOffDuration:    cfg.CoolOffDuration,
		FetcherID:          cfg.FetcherID,
		FetcherConcurrency: cfg.FetcherConcurrency,
		FetcherQueueSize:   cfg.FetcherQueueSize,
	})
	// Close stops the worker pool before closing the browser, so no pooled
	// fetch is left running against a closed client.
	defer w.Close()

	go w.RunMetricsPublisher(ctx, cfg.MetricsPublishPeriod)

	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		logger.L().ErrorContext(ctx, "fetcher: worker stopped", "error", err)
		os.Exit(1)
	}
}

func newCache(cfg *config.Config) (cache.Cache, error) {
	if cfg.Cache.Driver == "redis" {
		return cacheredis.New(cfg.Cache)
	}
	return cachememory.New(), nil
}
