package split

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-revshare/internal/db"
)

// ErrStoreUnavailable indicates the database dependency is not configured.
var ErrStoreUnavailable = errors.New("split: store unavailable")

// NewStore constructs a Store backed by pgx.
func NewStore(conn db.DBTX) Store {
	return &pgStore{db: conn}
}

type pgStore struct {
	db db.DBTX
}

const profileColumns = `id, name, creator_pct::text, platform_pct::text, processor_pct::text, affiliate_pct::text, other_pct::text, created_at`

const mappingColumns = `id, revenue_type_id, room_key, profile_id, effective_from, effective_to, created_at`

func (s *pgStore) CreateProfile(ctx context.Context, p Profile) (Profile, error) {
	if s == nil || s.db == nil {
		return Profile{}, ErrStoreUnavailable
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	row := s.db.QueryRow(ctx, `INSERT INTO split_profiles (id, name, creator_pct, platform_pct, processor_pct, affiliate_pct, other_pct)
VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, $6::numeric, $7::numeric)
RETURNING `+profileColumns,
		p.ID, p.Name,
		p.Percentage(BeneficiaryCreator).String(),
		p.Percentage(BeneficiaryPlatform).String(),
		p.Percentage(BeneficiaryProcessor).String(),
		p.Percentage(BeneficiaryAffiliate).String(),
		p.Percentage(BeneficiaryOther).String(),
	)
	return scanProfile(row)
}

func (s *pgStore) GetProfile(ctx context.Context, id uuid.UUID) (Profile, error) {
	if s == nil || s.db == nil {
		return Profile{}, ErrStoreUnavailable
	}
	p, err := scanProfile(s.db.QueryRow(ctx, `SELECT `+profileColumns+` FROM split_profiles WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return Profile{}, ErrNotFound
	}
	return p, err
}

func (s *pgStore) ListProfiles(ctx context.Context, limit, offset int) ([]Profile, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreUnavailable
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.Query(ctx, `SELECT `+profileColumns+` FROM split_profiles ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Profile, 0, limit)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *pgStore) CreateMapping(ctx context.Context, m Mapping) (Mapping, error) {
	if s == nil || s.db == nil {
		return Mapping{}, ErrStoreUnavailable
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	row := s.db.QueryRow(ctx, `INSERT INTO split_profile_mappings (id, revenue_type_id, room_key, profile_id, effective_from, effective_to)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING `+mappingColumns, m.ID, m.RevenueTypeID, m.RoomKey, m.ProfileID, m.EffectiveFrom, m.EffectiveTo)
	return scanMapping(row)
}

func (s *pgStore) ListMappings(ctx context.Context, revenueTypeID string) ([]Mapping, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.db.Query(ctx, `SELECT `+mappingColumns+` FROM split_profile_mappings WHERE revenue_type_id = $1 ORDER BY effective_from DESC`, revenueTypeID)
	if err != nil {
		return nil, err
	}
	return collectMappings(rows)
}

func (s *pgStore) CandidateMappings(ctx context.Context, revenueTypeID, roomKey string, at time.Time) ([]Mapping, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.db.Query(ctx, `SELECT `+mappingColumns+` FROM split_profile_mappings
WHERE revenue_type_id = $1
  AND effective_from <= $2
  AND (effective_to IS NULL OR $2 < effective_to)
  AND (room_key IS NULL OR room_key = $3)
ORDER BY (room_key IS NOT NULL) DESC, effective_from DESC, created_at DESC`, revenueTypeID, at, db.NullString(roomKey))
	if err != nil {
		return nil, err
	}
	return collectMappings(rows)
}

func (s *pgStore) RevenueTypeExists(ctx context.Context, id string) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrStoreUnavailable
	}
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM revenue_types WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

func scanProfile(row pgx.Row) (Profile, error) {
	var (
		p    Profile
		pcts [5]string
	)
	if err := row.Scan(&p.ID, &p.Name, &pcts[0], &pcts[1], &pcts[2], &pcts[3], &pcts[4], &p.CreatedAt); err != nil {
		return Profile{}, err
	}
	p.Percentages = make(map[Beneficiary]decimal.Decimal, len(pcts))
	for i, b := range Beneficiaries() {
		d, err := db.Decimal(pcts[i])
		if err != nil {
			return Profile{}, err
		}
		if !d.IsZero() {
			p.Percentages[b] = d
		}
	}
	return p, nil
}

func scanMapping(row pgx.Row) (Mapping, error) {
	var m Mapping
	if err := row.Scan(&m.ID, &m.RevenueTypeID, &m.RoomKey, &m.ProfileID, &m.EffectiveFrom, &m.EffectiveTo, &m.CreatedAt); err != nil {
		return Mapping{}, err
	}
	return m, nil
}

func collectMappings(rows pgx.Rows) ([]Mapping, error) {
	defer rows.Close()
	var out []Mapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
