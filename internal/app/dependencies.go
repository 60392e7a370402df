package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/backend-revshare/internal/common"
	"github.com/noah-isme/backend-revshare/internal/config"
	"github.com/noah-isme/backend-revshare/internal/obs"
	"github.com/noah-isme/backend-revshare/internal/queue"
)

// Options tunes how shared infrastructure is opened for a process.
type Options struct {
	Name         string
	RedisMetrics bool
	// SlowQuery logs statements at or above this duration; zero disables it.
	SlowQuery time.Duration
}

// Dependencies enumerates core services shared by the api, worker and tools.
type Dependencies struct {
	DB        *pgxpool.Pool
	Redis     *redis.Client
	Validator *validator.Validate
	Tracer    trace.Tracer
	Meter     metric.Meter
	Logger    zerolog.Logger
}

// Open connects Postgres and Redis and verifies both with a ping.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts Options) (*Dependencies, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	name := opts.Name
	if name == "" {
		name = "revshare"
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{SlowQuery: opts.SlowQuery, Logger: &logger}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = name
	if cfg.DBMaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.DBMaxConns)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	rdb := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(rdb); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if opts.RedisMetrics {
		if err := redisotel.InstrumentMetrics(rdb); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		pool.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Dependencies{
		DB:        pool,
		Redis:     rdb,
		Validator: common.Validator(),
		Tracer:    otel.Tracer(name),
		Meter:     otel.Meter(name),
		Logger:    logger,
	}, nil
}

// Close releases the pool and the Redis client.
func (d *Dependencies) Close() {
	if d == nil {
		return
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.Error().Err(err).Msg("close redis")
		}
	}
	if d.DB != nil {
		d.DB.Close()
	}
}

// RegisterQueueGauges reports ready and dead-letter sizes for kinds through the meter.
func RegisterQueueGauges(meter metric.Meter, rdb *redis.Client, prefix string, kinds ...string) (metric.Registration, error) {
	if meter == nil {
		return nil, errors.New("app: meter is required")
	}
	ready, err := meter.Int64ObservableGauge("queue.ready",
		metric.WithDescription("Tasks waiting to be claimed"))
	if err != nil {
		return nil, err
	}
	dead, err := meter.Int64ObservableGauge("queue.dlq",
		metric.WithDescription("Tasks parked in the dead-letter list"))
	if err != nil {
		return nil, err
	}
	return meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		var errs []error
		for _, kind := range kinds {
			depth, err := queue.Inspect(ctx, rdb, prefix, kind)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", kind, err))
				continue
			}
			attrs := metric.WithAttributes(attribute.String("kind", depth.Kind))
			o.ObserveInt64(ready, depth.Ready, attrs)
			o.ObserveInt64(dead, depth.DLQ, attrs)
		}
		return errors.Join(errs...)
	}, ready, dead)
}
