package revenue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/backend-revshare/internal/events"
	"github.com/noah-isme/backend-revshare/internal/obs"
	"github.com/noah-isme/backend-revshare/internal/split"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Store defines the persistence operations required by the ingestion pipeline.
type Store interface {
	FindEventByIntent(ctx context.Context, provider, intentID string) (Event, error)
	InsertEvent(ctx context.Context, ev Event) (Event, error)
	GetEvent(ctx context.Context, id uuid.UUID) (Event, error)
	ListSplits(ctx context.Context, eventID uuid.UUID) ([]Split, error)
	InsertSplits(ctx context.Context, splits []Split) error
	LinkSession(ctx context.Context, eventID uuid.UUID, sessionRef string) error
	UpdateStatus(ctx context.Context, provider, intentID string, status Status) (Event, Status, error)
	EventsWithoutSplits(ctx context.Context, limit int) ([]uuid.UUID, error)
}

// ProfileResolver selects the split profile for an event.
type ProfileResolver interface {
	Resolve(ctx context.Context, revenueTypeID, roomKey string, at time.Time) (split.Profile, error)
}

// Locker serialises work on a key across processes.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Retrier schedules a background split repair for an event.
type Retrier interface {
	EnqueueResplit(ctx context.Context, eventID uuid.UUID) error
}

// Service records revenue events and their splits.
type Service struct {
	Store    Store
	Resolver ProfileResolver
	Locker   Locker
	LockTTL  time.Duration
	Retrier  Retrier
	Events   events.Emitter
	Logger   zerolog.Logger
	Now      func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) withLock(ctx context.Context, key string, fn func(context.Context) error) error {
	if s.Locker == nil {
		return fn(ctx)
	}
	ttl := s.LockTTL
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return s.Locker.WithLock(ctx, key, ttl, fn)
}

// Validate checks and normalises an ingestion request.
func Validate(req IngestRequest) (IngestRequest, error) {
	req = req.normalised()
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field()+":"+fe.Tag())
			}
			return req, fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(fields, ","))
		}
		return req, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if !req.GrossAmount.IsPositive() {
		return req, fmt.Errorf("%w: GrossAmount:positive", ErrInvalidRequest)
	}
	if !split.Round2(req.GrossAmount).Equal(req.GrossAmount) {
		return req, fmt.Errorf("%w: GrossAmount:cents", ErrInvalidRequest)
	}
	return req, nil
}

// Ingest records a revenue event exactly once per (provider, intent) and computes its splits.
// Replays return the original event with Duplicate set. Split failures after the event is
// stored leave the event in place, mark the result pending and schedule a repair.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	ctx, span := otel.Tracer("revenue.Service").Start(ctx, "Service.Ingest")
	defer span.End()

	req, err := Validate(req)
	if err != nil {
		obs.Inc(obs.RevenueIngestTotal, "invalid")
		return IngestResult{}, err
	}
	span.SetAttributes(
		attribute.String("revenue.provider", req.PaymentProvider),
		attribute.String("revenue.intent_id", req.PaymentIntentID),
		attribute.String("revenue.type", req.RevenueTypeID),
	)

	var result IngestResult
	lockKey := fmt.Sprintf("lock:revenue:ingest:%s:%s", req.PaymentProvider, req.PaymentIntentID)
	err = s.withLock(ctx, lockKey, func(ctx context.Context) error {
		var err error
		result, err = s.ingestLocked(ctx, req)
		return err
	})
	if err != nil {
		span.RecordError(err)
		obs.Inc(obs.RevenueIngestTotal, "error")
		return IngestResult{}, err
	}
	switch {
	case result.Duplicate:
		obs.Inc(obs.RevenueIngestTotal, "duplicate")
	case result.SplitsPending:
		obs.Inc(obs.RevenueIngestTotal, "pending")
	default:
		obs.Inc(obs.RevenueIngestTotal, "created")
	}
	span.SetAttributes(attribute.Bool("revenue.duplicate", result.Duplicate), attribute.Bool("revenue.splits_pending", result.SplitsPending))
	return result, nil
}

func (s *Service) ingestLocked(ctx context.Context, req IngestRequest) (IngestResult, error) {
	existing, err := s.Store.FindEventByIntent(ctx, req.PaymentProvider, req.PaymentIntentID)
	switch {
	case err == nil:
		return s.duplicateResult(ctx, existing)
	case !errors.Is(err, ErrNotFound):
		return IngestResult{}, fmt.Errorf("revenue: dedup lookup: %w", err)
	}

	now := s.now()
	status := StatusSucceeded
	if req.Status != "" {
		status = Status(req.Status)
	}
	occurredAt := now
	if req.OccurredAt != nil && !req.OccurredAt.IsZero() {
		occurredAt = req.OccurredAt.UTC()
	}
	ev := Event{
		ID:              uuid.New(),
		RevenueTypeID:   req.RevenueTypeID,
		RoomKey:         req.RoomKey,
		CreatorID:       req.CreatorID,
		AffiliateID:     req.AffiliateID,
		PaymentProvider: req.PaymentProvider,
		PaymentIntentID: req.PaymentIntentID,
		GrossAmount:     req.GrossAmount,
		Currency:        req.Currency,
		Status:          status,
		OccurredAt:      occurredAt,
		SessionRef:      req.SessionRef,
		Metadata:        req.Metadata,
		CreatedAt:       now,
	}
	stored, err := s.Store.InsertEvent(ctx, ev)
	if err != nil {
		if errors.Is(err, ErrDuplicateEvent) {
			// another writer got past the lock first
			original, findErr := s.Store.FindEventByIntent(ctx, req.PaymentProvider, req.PaymentIntentID)
			if findErr != nil {
				return IngestResult{}, fmt.Errorf("revenue: load raced event: %w", findErr)
			}
			return s.duplicateResult(ctx, original)
		}
		return IngestResult{}, fmt.Errorf("revenue: insert event: %w", err)
	}
	s.emit(ctx, events.TopicRevenueIngested, stored.ID, eventPayload(stored, nil))

	result := IngestResult{EventID: stored.ID, Status: stored.Status}
	splits, reason, splitErr := s.applySplits(ctx, stored)
	if splitErr != nil {
		s.recordSplitFailure(ctx, stored, reason, splitErr)
		result.SplitsPending = true
		result.SplitError = splitErr.Error()
	} else {
		result.Splits = splits
		s.emit(ctx, events.TopicRevenueSplitsRecorded, stored.ID, eventPayload(stored, splits))
	}

	if stored.SessionRef != "" {
		if err := s.Store.LinkSession(ctx, stored.ID, stored.SessionRef); err != nil {
			logger := obs.Log(ctx, s.Logger)
			logger.Warn().Err(err).
				Str("event_id", stored.ID.String()).
				Str("session_ref", stored.SessionRef).
				Msg("revenue_session_link_failed")
		}
	}
	return result, nil
}

func (s *Service) duplicateResult(ctx context.Context, ev Event) (IngestResult, error) {
	splits, err := s.Store.ListSplits(ctx, ev.ID)
	if err != nil {
		return IngestResult{}, fmt.Errorf("revenue: load splits: %w", err)
	}
	return IngestResult{
		EventID:       ev.ID,
		Status:        ev.Status,
		Duplicate:     true,
		Splits:        splits,
		SplitsPending: len(splits) == 0,
	}, nil
}

// applySplits resolves the profile at the event time, computes allocations and stores them.
// The returned reason labels the failing step for metrics.
func (s *Service) applySplits(ctx context.Context, ev Event) ([]Split, string, error) {
	if s.Resolver == nil {
		return nil, "resolver_unavailable", errors.New("revenue: split resolver not configured")
	}
	profile, err := s.Resolver.Resolve(ctx, ev.RevenueTypeID, ev.RoomKey, ev.OccurredAt)
	if err != nil {
		if errors.Is(err, split.ErrNotFound) {
			return nil, "profile_not_found", err
		}
		return nil, "resolve", err
	}
	allocs, err := split.Compute(ev.GrossAmount, profile)
	if err != nil {
		return nil, "compute", err
	}
	now := s.now()
	splits := make([]Split, 0, len(allocs))
	for _, a := range allocs {
		splits = append(splits, Split{
			ID:             uuid.New(),
			EventID:        ev.ID,
			ProfileID:      profile.ID,
			Beneficiary:    a.Beneficiary,
			BeneficiaryRef: beneficiaryRef(ev, a.Beneficiary),
			Percentage:     a.Percentage,
			Amount:         a.Amount,
			CreatedAt:      now,
		})
	}
	if err := s.Store.InsertSplits(ctx, splits); err != nil {
		return nil, "store", fmt.Errorf("revenue: insert splits: %w", err)
	}
	return splits, "", nil
}

func (s *Service) recordSplitFailure(ctx context.Context, ev Event, reason string, err error) {
	obs.Inc(obs.RevenueSplitFailuresTotal, reason)
	logger := obs.Log(ctx, s.Logger)
	logEvt := logger.Error().Err(err).
		Str("event_id", ev.ID.String()).
		Str("revenue_type", ev.RevenueTypeID).
		Str("reason", reason)
	if s.Retrier != nil {
		if qErr := s.Retrier.EnqueueResplit(ctx, ev.ID); qErr != nil {
			logEvt = logEvt.AnErr("enqueue_error", qErr)
		} else {
			logEvt = logEvt.Bool("resplit_scheduled", true)
		}
	}
	logEvt.Msg("revenue_splits_failed")
	s.emit(ctx, events.TopicRevenueSplitsFailed, ev.ID, map[string]any{
		"eventId": ev.ID.String(),
		"reason":  reason,
		"error":   err.Error(),
	})
}

// Resplit computes splits for an event recorded without them. Events that already carry
// splits are left untouched and their splits returned.
func (s *Service) Resplit(ctx context.Context, eventID uuid.UUID) ([]Split, error) {
	ctx, span := otel.Tracer("revenue.Service").Start(ctx, "Service.Resplit")
	defer span.End()
	span.SetAttributes(attribute.String("revenue.event_id", eventID.String()))

	var splits []Split
	err := s.withLock(ctx, "lock:revenue:resplit:"+eventID.String(), func(ctx context.Context) error {
		ev, err := s.Store.GetEvent(ctx, eventID)
		if err != nil {
			return err
		}
		existing, err := s.Store.ListSplits(ctx, eventID)
		if err != nil {
			return fmt.Errorf("revenue: load splits: %w", err)
		}
		if len(existing) > 0 {
			splits = existing
			obs.Inc(obs.RevenueResplitTotal, "noop")
			return nil
		}
		computed, reason, err := s.applySplits(ctx, ev)
		if err != nil {
			obs.Inc(obs.RevenueSplitFailuresTotal, reason)
			return err
		}
		splits = computed
		s.emit(ctx, events.TopicRevenueSplitsRecorded, ev.ID, eventPayload(ev, computed))
		obs.Inc(obs.RevenueResplitTotal, "recorded")
		return nil
	})
	if err != nil {
		span.RecordError(err)
		if !errors.Is(err, ErrNotFound) {
			obs.Inc(obs.RevenueResplitTotal, "error")
		}
		return nil, err
	}
	return splits, nil
}

// UpdateStatus moves the event for (provider, intent) to status and emits a status change
// when it differs from the stored one. Transitions Status.CanMoveTo rejects leave the
// event as stored and are returned without error.
func (s *Service) UpdateStatus(ctx context.Context, provider, intentID string, status Status) (Event, error) {
	if _, err := ParseStatus(string(status)); err != nil {
		return Event{}, err
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	intentID = strings.TrimSpace(intentID)
	var (
		ev   Event
		prev Status
	)
	lockKey := fmt.Sprintf("lock:revenue:ingest:%s:%s", provider, intentID)
	err := s.withLock(ctx, lockKey, func(ctx context.Context) error {
		var err error
		ev, prev, err = s.Store.UpdateStatus(ctx, provider, intentID, status)
		return err
	})
	if err != nil {
		return Event{}, err
	}
	if ev.Status != status {
		s.Logger.Info().
			Str("event_id", ev.ID.String()).
			Str("status", string(ev.Status)).
			Str("requested", string(status)).
			Msg("revenue_status_transition_ignored")
	}
	if prev != ev.Status {
		s.Logger.Info().
			Str("event_id", ev.ID.String()).
			Str("from", string(prev)).
			Str("to", string(ev.Status)).
			Msg("revenue_status_changed")
		s.emit(ctx, events.TopicRevenueStatusChanged, ev.ID, map[string]any{
			"eventId":   ev.ID.String(),
			"creatorId": ev.CreatorID,
			"from":      prev,
			"to":        ev.Status,
		})
	}
	return ev, nil
}

// Get returns an event with its splits.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Event, []Split, error) {
	ev, err := s.Store.GetEvent(ctx, id)
	if err != nil {
		return Event{}, nil, err
	}
	splits, err := s.Store.ListSplits(ctx, id)
	if err != nil {
		return Event{}, nil, err
	}
	return ev, splits, nil
}

// PendingSplits lists events that were recorded without splits.
func (s *Service) PendingSplits(ctx context.Context, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 500
	}
	return s.Store.EventsWithoutSplits(ctx, limit)
}

func (s *Service) emit(ctx context.Context, topic string, aggregateID uuid.UUID, payload any) {
	if s.Events == nil {
		return
	}
	if _, err := s.Events.Emit(ctx, topic, aggregateID, payload); err != nil {
		s.Logger.Warn().Err(err).Str("topic", topic).Str("aggregate_id", aggregateID.String()).Msg("domain_event_emit_failed")
	}
}

func eventPayload(ev Event, splits []Split) map[string]any {
	payload := map[string]any{
		"eventId":         ev.ID.String(),
		"revenueTypeId":   ev.RevenueTypeID,
		"creatorId":       ev.CreatorID,
		"paymentProvider": ev.PaymentProvider,
		"paymentIntentId": ev.PaymentIntentID,
		"grossAmount":     ev.GrossAmount,
		"currency":        ev.Currency,
		"status":          ev.Status,
		"occurredAt":      ev.OccurredAt,
	}
	if splits != nil {
		payload["splits"] = splits
	}
	return payload
}
