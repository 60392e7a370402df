package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/backend-revshare/internal/db"
)

var (
	// ErrStoreUnavailable is returned when no database is configured.
	ErrStoreUnavailable = errors.New("queue: store unavailable")
	// ErrDLQEntryNotFound is returned for unknown dead-letter ids.
	ErrDLQEntryNotFound = errors.New("queue: dlq entry not found")
)

// DLQEntry is one dead-lettered task. Payload holds the encoded queue message.
type DLQEntry struct {
	ID             uuid.UUID
	Kind           string
	IdempotencyKey string
	Payload        []byte
	Attempts       int
	LastError      string
	CreatedAt      time.Time
}

// DLQFilter narrows List and Count; an empty Kind matches every kind.
type DLQFilter struct {
	Kind   string
	Limit  int
	Offset int
}

// Store persists dead-lettered tasks.
type Store interface {
	Park(ctx context.Context, entry DLQEntry) (uuid.UUID, error)
	Get(ctx context.Context, id uuid.UUID) (DLQEntry, error)
	Remove(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f DLQFilter) ([]DLQEntry, error)
	Count(ctx context.Context, kind string) (int64, error)
}

// NewStore returns a Store on the queue_dlq table.
func NewStore(conn db.DBTX) Store {
	return pgStore{db: conn}
}

type pgStore struct {
	db db.DBTX
}

const dlqSelect = `SELECT id, kind, idem_key, payload, attempts, COALESCE(last_error, ''), created_at FROM queue_dlq`

func (s pgStore) Park(ctx context.Context, e DLQEntry) (uuid.UUID, error) {
	if s.db == nil {
		return uuid.Nil, ErrStoreUnavailable
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	var lastErr *string
	if e.LastError != "" {
		lastErr = &e.LastError
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO queue_dlq (id, kind, idem_key, payload, attempts, last_error) VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.Kind, e.IdempotencyKey, e.Payload, e.Attempts, lastErr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("queue: park %s: %w", e.Kind, err)
	}
	return e.ID, nil
}

func (s pgStore) Get(ctx context.Context, id uuid.UUID) (DLQEntry, error) {
	if s.db == nil {
		return DLQEntry{}, ErrStoreUnavailable
	}
	e, err := scanEntry(s.db.QueryRow(ctx, dlqSelect+` WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return DLQEntry{}, ErrDLQEntryNotFound
	}
	return e, err
}

func (s pgStore) Remove(ctx context.Context, id uuid.UUID) error {
	if s.db == nil {
		return ErrStoreUnavailable
	}
	_, err := s.db.Exec(ctx, `DELETE FROM queue_dlq WHERE id = $1`, id)
	return err
}

func (s pgStore) List(ctx context.Context, f DLQFilter) ([]DLQEntry, error) {
	if s.db == nil {
		return nil, ErrStoreUnavailable
	}
	query, args := listQuery(f)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (DLQEntry, error) { return scanEntry(row) })
}

func (s pgStore) Count(ctx context.Context, kind string) (int64, error) {
	if s.db == nil {
		return 0, ErrStoreUnavailable
	}
	var total int64
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM queue_dlq WHERE ($1 = '' OR kind = $1)`,
		strings.TrimSpace(kind)).Scan(&total)
	return total, err
}

func listQuery(f DLQFilter) (string, []any) {
	limit := f.Limit
	switch {
	case limit <= 0:
		limit = 50
	case limit > 500:
		limit = 500
	}
	offset := max(f.Offset, 0)
	kind := strings.TrimSpace(f.Kind)
	if kind == "" {
		return dlqSelect + ` ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`, []any{limit, offset}
	}
	return dlqSelect + ` WHERE kind = $1 ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`, []any{kind, limit, offset}
}

func scanEntry(row pgx.Row) (DLQEntry, error) {
	var e DLQEntry
	err := row.Scan(&e.ID, &e.Kind, &e.IdempotencyKey, &e.Payload, &e.Attempts, &e.LastError, &e.CreatedAt)
	return e, err
}
