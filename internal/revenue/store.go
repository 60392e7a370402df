package revenue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/backend-revshare/internal/db"
	"github.com/noah-isme/backend-revshare/internal/split"
)

// ErrStoreUnavailable indicates the database dependency is not configured.
var ErrStoreUnavailable = errors.New("revenue: store unavailable")

// NewStore constructs a Store backed by a pgx pool.
func NewStore(conn db.TxBeginner) Store {
	return &pgStore{db: conn}
}

type pgStore struct {
	db db.TxBeginner
}

const eventColumns = `id, revenue_type_id, room_key, creator_id, affiliate_id, payment_provider, payment_intent_id,
gross_amount::text, currency, status, occurred_at, session_ref, metadata, created_at`

const splitColumns = `id, event_id, profile_id, beneficiary, beneficiary_ref, percentage::text, amount::text, created_at`

func (s *pgStore) ready() error {
	if s == nil || s.db == nil {
		return ErrStoreUnavailable
	}
	return nil
}

func (s *pgStore) FindEventByIntent(ctx context.Context, provider, intentID string) (Event, error) {
	if err := s.ready(); err != nil {
		return Event{}, err
	}
	ev, err := scanEvent(s.db.QueryRow(ctx, `SELECT `+eventColumns+` FROM revenue_events
WHERE payment_provider = $1 AND payment_intent_id = $2`, provider, intentID))
	if db.IsNoRows(err) {
		return Event{}, ErrNotFound
	}
	return ev, err
}

func (s *pgStore) InsertEvent(ctx context.Context, ev Event) (Event, error) {
	if err := s.ready(); err != nil {
		return Event{}, err
	}
	metadata := []byte("{}")
	if len(ev.Metadata) > 0 {
		encoded, err := json.Marshal(ev.Metadata)
		if err != nil {
			return Event{}, err
		}
		metadata = encoded
	}
	stored, err := scanEvent(s.db.QueryRow(ctx, `INSERT INTO revenue_events
(id, revenue_type_id, room_key, creator_id, affiliate_id, payment_provider, payment_intent_id,
 gross_amount, currency, status, occurred_at, session_ref, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10, $11, $12, $13::jsonb, $14)
RETURNING `+eventColumns,
		ev.ID, ev.RevenueTypeID, db.NullString(ev.RoomKey), ev.CreatorID, db.NullString(ev.AffiliateID),
		ev.PaymentProvider, ev.PaymentIntentID, ev.GrossAmount.String(), ev.Currency, string(ev.Status),
		ev.OccurredAt, db.NullString(ev.SessionRef), string(metadata), ev.CreatedAt))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Event{}, ErrDuplicateEvent
		}
		return Event{}, err
	}
	return stored, nil
}

func (s *pgStore) GetEvent(ctx context.Context, id uuid.UUID) (Event, error) {
	if err := s.ready(); err != nil {
		return Event{}, err
	}
	ev, err := scanEvent(s.db.QueryRow(ctx, `SELECT `+eventColumns+` FROM revenue_events WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return Event{}, ErrNotFound
	}
	return ev, err
}

func (s *pgStore) ListSplits(ctx context.Context, eventID uuid.UUID) ([]Split, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, `SELECT `+splitColumns+` FROM revenue_splits WHERE event_id = $1
ORDER BY array_position(ARRAY['creator','platform','processor','affiliate','other'], beneficiary)`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Split
	for rows.Next() {
		sp, err := scanSplit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

// InsertSplits writes all split rows in one transaction.
func (s *pgStore) InsertSplits(ctx context.Context, splits []Split) error {
	if err := s.ready(); err != nil {
		return err
	}
	if len(splits) == 0 {
		return nil
	}
	return db.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, sp := range splits {
			batch.Queue(`INSERT INTO revenue_splits
(id, event_id, profile_id, beneficiary, beneficiary_ref, percentage, amount, created_at)
VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8)`,
				sp.ID, sp.EventID, sp.ProfileID, string(sp.Beneficiary), db.NullString(sp.BeneficiaryRef),
				sp.Percentage.String(), sp.Amount.String(), sp.CreatedAt)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (s *pgStore) LinkSession(ctx context.Context, eventID uuid.UUID, sessionRef string) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.Exec(ctx, `INSERT INTO revenue_session_links (event_id, session_ref)
VALUES ($1, $2) ON CONFLICT DO NOTHING`, eventID, sessionRef)
	return err
}

func (s *pgStore) UpdateStatus(ctx context.Context, provider, intentID string, status Status) (Event, Status, error) {
	if err := s.ready(); err != nil {
		return Event{}, "", err
	}
	var (
		ev   Event
		prev Status
	)
	err := db.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		current, err := scanEvent(tx.QueryRow(ctx, `SELECT `+eventColumns+` FROM revenue_events
WHERE payment_provider = $1 AND payment_intent_id = $2 FOR UPDATE`, provider, intentID))
		if err != nil {
			if db.IsNoRows(err) {
				return ErrNotFound
			}
			return err
		}
		prev = current.Status
		if !prev.CanMoveTo(status) {
			ev = current
			return nil
		}
		updated, err := scanEvent(tx.QueryRow(ctx, `UPDATE revenue_events SET status = $3, updated_at = now()
WHERE payment_provider = $1 AND payment_intent_id = $2
RETURNING `+eventColumns, provider, intentID, string(status)))
		if err != nil {
			return err
		}
		ev = updated
		return nil
	})
	if err != nil {
		return Event{}, "", err
	}
	return ev, prev, nil
}

func (s *pgStore) EventsWithoutSplits(ctx context.Context, limit int) ([]uuid.UUID, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, `SELECT e.id FROM revenue_events e
WHERE NOT EXISTS (SELECT 1 FROM revenue_splits s WHERE s.event_id = e.id)
ORDER BY e.created_at LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanEvent(row pgx.Row) (Event, error) {
	var (
		ev                      Event
		roomKey, affiliate, ref *string
		gross, status           string
		metadata                []byte
		occurredAt, createdAt   time.Time
	)
	if err := row.Scan(&ev.ID, &ev.RevenueTypeID, &roomKey, &ev.CreatorID, &affiliate, &ev.PaymentProvider,
		&ev.PaymentIntentID, &gross, &ev.Currency, &status, &occurredAt, &ref, &metadata, &createdAt); err != nil {
		return Event{}, err
	}
	amount, err := db.Decimal(gross)
	if err != nil {
		return Event{}, err
	}
	ev.GrossAmount = amount
	ev.RoomKey = db.StringValue(roomKey)
	ev.AffiliateID = db.StringValue(affiliate)
	ev.SessionRef = db.StringValue(ref)
	ev.Status = Status(status)
	ev.OccurredAt = occurredAt.UTC()
	ev.CreatedAt = createdAt.UTC()
	if len(metadata) > 0 && string(metadata) != "{}" {
		if err := json.Unmarshal(metadata, &ev.Metadata); err != nil {
			return Event{}, err
		}
	}
	return ev, nil
}

func scanSplit(row pgx.Row) (Split, error) {
	var (
		sp          Split
		beneficiary string
		ref         *string
		pct, amount string
	)
	if err := row.Scan(&sp.ID, &sp.EventID, &sp.ProfileID, &beneficiary, &ref, &pct, &amount, &sp.CreatedAt); err != nil {
		return Split{}, err
	}
	b, err := split.ParseBeneficiary(beneficiary)
	if err != nil {
		return Split{}, err
	}
	sp.Beneficiary = b
	sp.BeneficiaryRef = db.StringValue(ref)
	if sp.Percentage, err = db.Decimal(pct); err != nil {
		return Split{}, err
	}
	if sp.Amount, err = db.Decimal(amount); err != nil {
		return Split{}, err
	}
	return sp, nil
}
