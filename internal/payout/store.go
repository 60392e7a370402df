package payout

import (
	"context"
	"errors"
	"time"

	"github.com/noah-isme/backend-revshare/internal/db"
	"github.com/noah-isme/backend-revshare/internal/split"
)

// ErrStoreUnavailable indicates the database dependency is not configured.
var ErrStoreUnavailable = errors.New("payout: store unavailable")

// Store reads the joined rows behind a report.
type Store interface {
	// MonthlyRows returns succeeded events with occurred_at in [from, to) joined
	// against their splits; creatorID filters when non-empty.
	MonthlyRows(ctx context.Context, from, to time.Time, creatorID string) ([]Row, error)
}

// NewStore constructs a Store backed by pgx.
func NewStore(conn db.DBTX) Store {
	return &pgStore{db: conn}
}

type pgStore struct {
	db db.DBTX
}

const monthlyRowsQuery = `SELECT e.id, e.creator_id, e.currency, e.gross_amount::text, s.beneficiary, s.amount::text
FROM revenue_events e
LEFT JOIN revenue_splits s ON s.event_id = e.id
WHERE e.status = 'succeeded'
  AND e.occurred_at >= $1 AND e.occurred_at < $2
  AND ($3 = '' OR e.creator_id = $3)
ORDER BY e.creator_id, e.occurred_at, e.id`

func (s *pgStore) MonthlyRows(ctx context.Context, from, to time.Time, creatorID string) ([]Row, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.db.Query(ctx, monthlyRowsQuery, from, to, creatorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			row         Row
			gross       string
			beneficiary *string
			amount      *string
		)
		if err := rows.Scan(&row.EventID, &row.CreatorID, &row.Currency, &gross, &beneficiary, &amount); err != nil {
			return nil, err
		}
		if row.GrossAmount, err = db.Decimal(gross); err != nil {
			return nil, err
		}
		if beneficiary != nil {
			row.Beneficiary = split.Beneficiary(*beneficiary)
			if row.Amount, err = db.Decimal(db.StringValue(amount)); err != nil {
				return nil, err
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
