package payout

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/backend-revshare/internal/cache"
	"github.com/noah-isme/backend-revshare/internal/obs"
)

// Service builds monthly payout reports with a Redis read-through cache.
// Concurrent misses for the same key share one store query.
type Service struct {
	Store  Store
	Cache  cache.JSON
	Logger zerolog.Logger
	Now    func() time.Time

	flight singleflight.Group
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Monthly returns totals for every creator with succeeded events in the month.
func (s *Service) Monthly(ctx context.Context, year int, month time.Month) (Report, error) {
	m, err := NewMonth(year, month)
	if err != nil {
		return Report{}, err
	}
	return s.report(ctx, m, "")
}

// CreatorMonthly returns the report restricted to one creator.
func (s *Service) CreatorMonthly(ctx context.Context, creatorID string, year int, month time.Month) (Report, error) {
	creatorID = strings.TrimSpace(creatorID)
	if creatorID == "" {
		return Report{}, ErrNotFound
	}
	m, err := NewMonth(year, month)
	if err != nil {
		return Report{}, err
	}
	report, err := s.report(ctx, m, creatorID)
	if err != nil {
		return Report{}, err
	}
	if len(report.Creators) == 0 {
		return Report{}, ErrNotFound
	}
	return report, nil
}

func (s *Service) report(ctx context.Context, m Month, creatorID string) (Report, error) {
	if s == nil || s.Store == nil {
		return Report{}, errors.New("payout service not configured")
	}
	ctx, span := otel.Tracer("payout.Service").Start(ctx, "Service.report")
	defer span.End()
	span.SetAttributes(attribute.String("payout.month", m.String()))
	if creatorID != "" {
		span.SetAttributes(attribute.String("payout.creator_id", creatorID))
	}

	_, to := m.Window()
	now := s.now().UTC()
	// an open month can still receive events
	cacheable := !to.After(now)
	key := s.Cache.Key("payout", "monthly", m.String())
	if creatorID != "" {
		key = s.Cache.Key("payout", "monthly", m.String(), creatorID)
	}

	if cacheable {
		var cached Report
		hit, err := s.Cache.Get(ctx, key, &cached)
		if err != nil {
			s.Logger.Warn().Err(err).Str("key", key).Msg("payout_cache_read_failed")
		}
		if hit {
			obs.Inc(obs.PayoutReportTotal, "hit")
			span.SetAttributes(attribute.Bool("payout.cache_hit", true))
			return cached, nil
		}
		obs.Inc(obs.PayoutReportTotal, "miss")
	} else {
		obs.Inc(obs.PayoutReportTotal, "bypass")
	}

	v, err, shared := s.flight.Do(key, func() (any, error) {
		// detached so one caller giving up does not fail the others
		return s.build(context.WithoutCancel(ctx), m, creatorID, now, key, cacheable)
	})
	if err != nil {
		span.RecordError(err)
		return Report{}, err
	}
	span.SetAttributes(attribute.Bool("payout.shared_query", shared))
	return v.(Report), nil
}

func (s *Service) build(ctx context.Context, m Month, creatorID string, now time.Time, key string, cacheable bool) (Report, error) {
	from, to := m.Window()
	rows, err := s.Store.MonthlyRows(ctx, from, to, creatorID)
	if err != nil {
		return Report{}, err
	}
	report := Report{
		Month:       m.String(),
		From:        from,
		To:          to,
		Creators:    Aggregate(rows),
		GeneratedAt: now,
	}
	if cacheable {
		if err := s.Cache.Set(ctx, key, report); err != nil {
			s.Logger.Warn().Err(err).Str("key", key).Msg("payout_cache_write_failed")
		}
	}
	return report, nil
}
