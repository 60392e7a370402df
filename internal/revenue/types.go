package revenue

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-revshare/internal/split"
)

var (
	// ErrNotFound is returned when a revenue event does not exist.
	ErrNotFound = errors.New("revenue: event not found")
	// ErrDuplicateEvent is returned by stores when (provider, intent) is already recorded.
	ErrDuplicateEvent = errors.New("revenue: duplicate event")
	// ErrInvalidRequest wraps ingestion validation failures.
	ErrInvalidRequest = errors.New("revenue: invalid request")
	// ErrInvalidStatus indicates an unsupported event status.
	ErrInvalidStatus = errors.New("revenue: invalid status")
)

// Status is the payment state of a revenue event.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

// CanMoveTo reports whether an event in status s may move to next. Refunded is
// final; succeeded only moves to refunded.
func (s Status) CanMoveTo(next Status) bool {
	switch s {
	case StatusRefunded:
		return false
	case StatusSucceeded:
		return next == StatusRefunded
	default:
		return s != next
	}
}

// ParseStatus normalises a status string.
func ParseStatus(value string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(value)))
	switch s {
	case StatusPending, StatusSucceeded, StatusFailed, StatusRefunded:
		return s, nil
	default:
		return "", ErrInvalidStatus
	}
}

// Event is a single monetised transaction such as a tip, unlock or subscription payment.
type Event struct {
	ID              uuid.UUID       `json:"id"`
	RevenueTypeID   string          `json:"revenueTypeId"`
	RoomKey         string          `json:"roomKey,omitempty"`
	CreatorID       string          `json:"creatorId"`
	AffiliateID     string          `json:"affiliateId,omitempty"`
	PaymentProvider string          `json:"paymentProvider"`
	PaymentIntentID string          `json:"paymentIntentId"`
	GrossAmount     decimal.Decimal `json:"grossAmount"`
	Currency        string          `json:"currency"`
	Status          Status          `json:"status"`
	OccurredAt      time.Time       `json:"occurredAt"`
	SessionRef      string          `json:"sessionRef,omitempty"`
	Metadata        map[string]any  `json:"metadata,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// Split is one persisted allocation of an event's gross amount.
type Split struct {
	ID             uuid.UUID         `json:"id"`
	EventID        uuid.UUID         `json:"eventId"`
	ProfileID      uuid.UUID         `json:"profileId"`
	Beneficiary    split.Beneficiary `json:"beneficiary"`
	BeneficiaryRef string            `json:"beneficiaryRef,omitempty"`
	Percentage     decimal.Decimal   `json:"percentage"`
	Amount         decimal.Decimal   `json:"amount"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// IngestRequest carries a revenue event reported by a payment flow.
type IngestRequest struct {
	RevenueTypeID   string          `json:"revenueTypeId" validate:"required,max=64"`
	RoomKey         string          `json:"roomKey,omitempty" validate:"omitempty,max=128"`
	CreatorID       string          `json:"creatorId" validate:"required,max=128"`
	AffiliateID     string          `json:"affiliateId,omitempty" validate:"omitempty,max=128"`
	PaymentProvider string          `json:"paymentProvider" validate:"required,max=32"`
	PaymentIntentID string          `json:"paymentIntentId" validate:"required,max=255"`
	GrossAmount     decimal.Decimal `json:"grossAmount"`
	Currency        string          `json:"currency" validate:"required,len=3,alpha"`
	Status          string          `json:"status,omitempty" validate:"omitempty,oneof=pending succeeded failed refunded"`
	OccurredAt      *time.Time      `json:"occurredAt,omitempty"`
	SessionRef      string          `json:"sessionRef,omitempty" validate:"omitempty,max=255"`
	Metadata        map[string]any  `json:"metadata,omitempty"`
}

// IngestResult reports the outcome of an ingestion.
type IngestResult struct {
	EventID       uuid.UUID `json:"eventId"`
	Status        Status    `json:"status"`
	Duplicate     bool      `json:"duplicate"`
	Splits        []Split   `json:"splits"`
	SplitsPending bool      `json:"splitsPending"`
	SplitError    string    `json:"splitError,omitempty"`
}

func (r IngestRequest) normalised() IngestRequest {
	r.RevenueTypeID = strings.TrimSpace(r.RevenueTypeID)
	r.RoomKey = strings.TrimSpace(r.RoomKey)
	r.CreatorID = strings.TrimSpace(r.CreatorID)
	r.AffiliateID = strings.TrimSpace(r.AffiliateID)
	r.PaymentProvider = strings.ToLower(strings.TrimSpace(r.PaymentProvider))
	r.PaymentIntentID = strings.TrimSpace(r.PaymentIntentID)
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	r.Status = strings.ToLower(strings.TrimSpace(r.Status))
	r.SessionRef = strings.TrimSpace(r.SessionRef)
	return r
}

// beneficiaryRef returns the party identifier recorded on a split row.
func beneficiaryRef(ev Event, b split.Beneficiary) string {
	switch b {
	case split.BeneficiaryCreator:
		return ev.CreatorID
	case split.BeneficiaryAffiliate:
		return ev.AffiliateID
	default:
		return ""
	}
}
