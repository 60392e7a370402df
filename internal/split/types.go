package split

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when no split profile or mapping matches the lookup.
	ErrNotFound = errors.New("split: not found")
	// ErrInvalidAmount indicates a non-positive base amount.
	ErrInvalidAmount = errors.New("split: base amount must be positive")
	// ErrInvalidPercentage indicates a percentage outside of [0,100].
	ErrInvalidPercentage = errors.New("split: percentage must be between 0 and 100")
	// ErrPercentageScale indicates a percentage with more than four decimal places,
	// the precision split_profiles stores.
	ErrPercentageScale = errors.New("split: percentage allows at most 4 decimal places")
	// ErrEmptyProfile indicates a profile with no non-zero beneficiary entries.
	ErrEmptyProfile = errors.New("split: profile has no beneficiaries")
	// ErrUnknownBeneficiary indicates a beneficiary name outside the supported set.
	ErrUnknownBeneficiary = errors.New("split: unknown beneficiary")
	// ErrInvalidWindow indicates a mapping whose effective window is empty.
	ErrInvalidWindow = errors.New("split: effective_to must be after effective_from")
)

// Beneficiary names a party receiving a portion of a revenue event.
type Beneficiary string

const (
	BeneficiaryCreator   Beneficiary = "creator"
	BeneficiaryPlatform  Beneficiary = "platform"
	BeneficiaryProcessor Beneficiary = "processor"
	BeneficiaryAffiliate Beneficiary = "affiliate"
	BeneficiaryOther     Beneficiary = "other"
)

// Beneficiaries returns the canonical allocation order.
func Beneficiaries() []Beneficiary {
	return []Beneficiary{
		BeneficiaryCreator,
		BeneficiaryPlatform,
		BeneficiaryProcessor,
		BeneficiaryAffiliate,
		BeneficiaryOther,
	}
}

// ParseBeneficiary normalises a beneficiary name.
func ParseBeneficiary(value string) (Beneficiary, error) {
	b := Beneficiary(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range Beneficiaries() {
		if b == known {
			return b, nil
		}
	}
	return "", ErrUnknownBeneficiary
}

// Profile is a named set of percentage allocations across beneficiaries.
type Profile struct {
	ID          uuid.UUID
	Name        string
	Percentages map[Beneficiary]decimal.Decimal
	CreatedAt   time.Time
}

// Percentage returns the configured percentage for b, zero when absent.
func (p Profile) Percentage(b Beneficiary) decimal.Decimal {
	if p.Percentages == nil {
		return decimal.Zero
	}
	return p.Percentages[b]
}

// Validate checks the profile name and every percentage bound.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("split: profile name is required")
	}
	if err := validatePercentages(p.Percentages); err != nil {
		return err
	}
	for _, b := range Beneficiaries() {
		if p.Percentage(b).IsPositive() {
			return nil
		}
	}
	return ErrEmptyProfile
}

const percentageScale = 4

func validatePercentages(pcts map[Beneficiary]decimal.Decimal) error {
	hundred := decimal.NewFromInt(100)
	for b, pct := range pcts {
		if _, err := ParseBeneficiary(string(b)); err != nil {
			return err
		}
		if pct.IsNegative() || pct.GreaterThan(hundred) {
			return ErrInvalidPercentage
		}
		if !pct.Equal(pct.Truncate(percentageScale)) {
			return ErrPercentageScale
		}
	}
	return nil
}

// Allocation is the computed share of a base amount for one beneficiary.
type Allocation struct {
	Beneficiary Beneficiary
	Percentage  decimal.Decimal
	Amount      decimal.Decimal
}

// Mapping binds a revenue type, optionally scoped to a room, to a profile for a time window.
type Mapping struct {
	ID            uuid.UUID
	RevenueTypeID string
	RoomKey       *string
	ProfileID     uuid.UUID
	EffectiveFrom time.Time
	EffectiveTo   *time.Time
	CreatedAt     time.Time
}

// Scoped reports whether the mapping applies to a specific room only.
func (m Mapping) Scoped() bool {
	return m.RoomKey != nil && strings.TrimSpace(*m.RoomKey) != ""
}

// ActiveAt reports whether at falls in [EffectiveFrom, EffectiveTo).
func (m Mapping) ActiveAt(at time.Time) bool {
	if at.Before(m.EffectiveFrom) {
		return false
	}
	if m.EffectiveTo != nil && !at.Before(*m.EffectiveTo) {
		return false
	}
	return true
}

// Validate checks identifiers and the effective window.
func (m Mapping) Validate() error {
	if strings.TrimSpace(m.RevenueTypeID) == "" {
		return errors.New("split: revenue type is required")
	}
	if m.ProfileID == uuid.Nil {
		return errors.New("split: profile id is required")
	}
	if m.EffectiveFrom.IsZero() {
		return errors.New("split: effective_from is required")
	}
	if m.EffectiveTo != nil && !m.EffectiveTo.After(m.EffectiveFrom) {
		return ErrInvalidWindow
	}
	return nil
}
