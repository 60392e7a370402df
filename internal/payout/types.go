package payout

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-revshare/internal/split"
)

var (
	// ErrNotFound is returned when a creator has no succeeded events in the month.
	ErrNotFound = errors.New("payout: no events for creator in month")
	// ErrInvalidMonth indicates a malformed or out of range month.
	ErrInvalidMonth = errors.New("payout: month must be YYYY-MM")
)

// Month identifies a UTC calendar month.
type Month struct {
	Year  int
	Month time.Month
}

// NewMonth validates year and month.
func NewMonth(year int, month time.Month) (Month, error) {
	if year < 1970 || year > 9999 || month < time.January || month > time.December {
		return Month{}, ErrInvalidMonth
	}
	return Month{Year: year, Month: month}, nil
}

// ParseMonth reads the YYYY-MM form.
func ParseMonth(raw string) (Month, error) {
	t, err := time.Parse("2006-01", strings.TrimSpace(raw))
	if err != nil {
		return Month{}, ErrInvalidMonth
	}
	return NewMonth(t.Year(), t.Month())
}

// Window returns the half-open range [first day 00:00, next month first day 00:00) in UTC.
func (m Month) Window() (from, to time.Time) {
	from = time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 1, 0)
}

func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// Row is one succeeded event joined against one of its splits. Events without
// splits appear once with an empty Beneficiary.
type Row struct {
	EventID     uuid.UUID
	CreatorID   string
	Currency    string
	GrossAmount decimal.Decimal
	Beneficiary split.Beneficiary
	Amount      decimal.Decimal
}

// CreatorTotals aggregates one creator's events in a single currency.
type CreatorTotals struct {
	CreatorID           string                                `json:"creatorId"`
	Currency            string                                `json:"currency"`
	Gross               decimal.Decimal                       `json:"gross"`
	Beneficiaries       map[split.Beneficiary]decimal.Decimal `json:"beneficiaries"`
	CreatorPayout       decimal.Decimal                       `json:"creatorPayout"`
	Events              int                                   `json:"events"`
	EventsWithoutSplits int                                   `json:"eventsWithoutSplits"`
}

// Report is the monthly payout summary.
type Report struct {
	Month       string          `json:"month"`
	From        time.Time       `json:"from"`
	To          time.Time       `json:"to"`
	Creators    []CreatorTotals `json:"creators"`
	GeneratedAt time.Time       `json:"generatedAt"`
}
