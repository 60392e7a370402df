package main

import (
	"context"
	"errors"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/noah-isme/backend-revshare/internal/app"
	"github.com/noah-isme/backend-revshare/internal/config"
	"github.com/noah-isme/backend-revshare/internal/events"
	"github.com/noah-isme/backend-revshare/internal/lock"
	"github.com/noah-isme/backend-revshare/internal/notify"
	"github.com/noah-isme/backend-revshare/internal/obs"
	"github.com/noah-isme/backend-revshare/internal/queue"
	"github.com/noah-isme/backend-revshare/internal/resilience"
	"github.com/noah-isme/backend-revshare/internal/revenue"
	"github.com/noah-isme/backend-revshare/internal/split"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("component", "worker").Logger()
	obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	deps, err := app.Open(startCtx, cfg, logger, app.Options{Name: "revshare-worker", SlowQuery: cfg.SlowQuery})
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("open dependencies")
	}
	defer deps.Close()

	gauges, err := app.RegisterQueueGauges(deps.Meter, deps.Redis, cfg.QueuePrefix, revenue.ResplitTaskKind, notify.DeliveryTaskKind)
	if err != nil {
		logger.Error().Err(err).Msg("register queue gauges")
	} else {
		defer func() { _ = gauges.Unregister() }()
	}

	endpoints, err := notify.ParseEndpoints(cfg.NotifyEndpoints)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse notify endpoints")
	}

	taskQueue := queue.Enqueuer{R: deps.Redis, Prefix: cfg.QueuePrefix, DedupTTL: cfg.IdempotencyTTL, MaxAttempts: cfg.ResplitMaxAttempts}
	locker := lock.Locker{R: deps.Redis, Prefix: cfg.QueuePrefix, MaxWait: cfg.IngestLockTTL}
	dlqStore := queue.NewStore(deps.DB)

	bus := &events.Bus{
		Store: events.NewStore(deps.DB),
		Scheduler: &notify.Dispatcher{
			Queue:       taskQueue,
			Endpoints:   endpoints,
			Enabled:     cfg.NotifyEnabled,
			MaxAttempts: cfg.NotifyMaxAttempts,
		},
		Notifiers: []events.Notifier{events.LogNotifier{Logger: logger}},
	}
	revenueSvc := &revenue.Service{
		Store:    revenue.NewStore(deps.DB),
		Resolver: split.Resolver{Store: split.NewStore(deps.DB)},
		Locker:   locker,
		LockTTL:  cfg.IngestLockTTL,
		Retrier:  revenue.QueueRetrier{Queue: taskQueue, MaxAttempts: cfg.ResplitMaxAttempts},
		Events:   bus,
		Logger:   logger.With().Str("task", revenue.ResplitTaskKind).Logger(),
	}

	breakers := resilience.NewBreakerGroup(resilience.BreakerConfig{
		MinRequests:  cfg.BreakerMinRequests,
		FailureRatio: cfg.BreakerFailureRatio,
		OpenFor:      cfg.BreakerOpenFor,
		Logger:       logger.With().Str("component", "breaker").Logger(),
	})
	webhookHTTP := resilience.NewHTTPClient(cfg.NotifyTimeout, breakers)
	webhookHTTP.BaseBackoff = cfg.OutboundRetryBase
	webhookHTTP.MaxAttempts = cfg.OutboundMaxAttempts
	webhookHTTP.Jitter = 0.2

	deliveryWorker := notify.DeliveryWorker{
		Endpoints: endpoints,
		HTTP:      webhookHTTP,
		Locker:    locker,
		LockTTL:   cfg.NotifyTimeout * 2,
		Replay:    lock.ReplayGuard{Client: deps.Redis, Prefix: cfg.QueuePrefix},
		ReplayTTL: cfg.WebhookReplayTTL,
		UserAgent: "revshare-webhooks/1",
		Logger:    logger.With().Str("task", notify.DeliveryTaskKind).Logger(),
	}

	workers := []queue.Worker{
		{
			R:                 deps.Redis,
			Prefix:            cfg.QueuePrefix,
			Kind:              revenue.ResplitTaskKind,
			Concurrency:       cfg.WorkerConcurrency,
			VisibilityTimeout: cfg.QueueVisibility,
			RetryBase:         cfg.QueueRetryBase,
			RetryJitter:       cfg.QueueRetryJitter,
			Store:             dlqStore,
			Logger:            logger.With().Str("component", "queue").Logger(),
			Handler:           revenue.ResplitHandler(revenueSvc, revenueSvc.Logger),
		},
	}
	if cfg.NotifyEnabled && len(endpoints) > 0 {
		workers = append(workers, queue.Worker{
			R:                 deps.Redis,
			Prefix:            cfg.QueuePrefix,
			Kind:              notify.DeliveryTaskKind,
			Concurrency:       cfg.WorkerConcurrency,
			VisibilityTimeout: cfg.QueueVisibility,
			SoftDeadline:      cfg.NotifyTimeout * time.Duration(max(cfg.OutboundMaxAttempts, 1)+1),
			RetryBase:         cfg.QueueRetryBase,
			RetryJitter:       cfg.QueueRetryJitter,
			Store:             dlqStore,
			Logger:            logger.With().Str("component", "queue").Logger(),
			Handler:           deliveryWorker.Handle,
		})
	}

	logger.Info().Int("workers", len(workers)).Msg("worker starting")
	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w queue.Worker) {
			defer wg.Done()
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Str("kind", w.Kind).Msg("worker stopped with error")
			}
		}(w)
	}
	wg.Wait()
	logger.Info().Msg("worker shutdown complete")
}
