package main

import (
	"context"
	"flag"
	"time"

	"github.com/noah-isme/backend-revshare/internal/app"
	"github.com/noah-isme/backend-revshare/internal/config"
	"github.com/noah-isme/backend-revshare/internal/obs"
	"github.com/noah-isme/backend-revshare/internal/queue"
	"github.com/noah-isme/backend-revshare/internal/revenue"
)

func main() {
	limit := flag.Int("limit", 500, "maximum events to scan")
	dryRun := flag.Bool("dry-run", false, "list events without enqueueing")
	flag.Parse()

	logger := obs.NewLogger("console", "info").With().Str("component", "resplit-scan").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	deps, err := app.Open(ctx, cfg, logger, app.Options{Name: "revshare-resplit"})
	if err != nil {
		logger.Fatal().Err(err).Msg("open dependencies")
	}
	defer deps.Close()

	svc := &revenue.Service{
		Store:  revenue.NewStore(deps.DB),
		Logger: logger,
	}
	ids, err := svc.PendingSplits(ctx, *limit)
	if err != nil {
		logger.Fatal().Err(err).Msg("scan events without splits")
	}

	retrier := revenue.QueueRetrier{
		Queue:       queue.Enqueuer{R: deps.Redis, Prefix: cfg.QueuePrefix, DedupTTL: cfg.IdempotencyTTL, MaxAttempts: cfg.ResplitMaxAttempts},
		MaxAttempts: cfg.ResplitMaxAttempts,
	}
	enqueued := 0
	for _, id := range ids {
		if *dryRun {
			logger.Info().Str("event_id", id.String()).Msg("pending")
			continue
		}
		if err := retrier.EnqueueResplit(ctx, id); err != nil {
			logger.Error().Err(err).Str("event_id", id.String()).Msg("enqueue resplit")
			continue
		}
		enqueued++
	}
	logger.Info().Int("found", len(ids)).Int("enqueued", enqueued).Bool("dry_run", *dryRun).Msg("scan complete")
}
