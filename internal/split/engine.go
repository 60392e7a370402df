package split

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Round2 rounds half away from zero at two decimal places.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Compute allocates base across the profile's beneficiaries. Amounts are rounded to
// cents and the rounding remainder is absorbed by the platform entry when present,
// otherwise by the first remaining entry, so the allocations always sum to Round2(base).
func Compute(base decimal.Decimal, profile Profile) ([]Allocation, error) {
	if !base.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if err := validatePercentages(profile.Percentages); err != nil {
		return nil, err
	}
	base = Round2(base)

	allocations := make([]Allocation, 0, len(profile.Percentages))
	sum := decimal.Zero
	for _, b := range Beneficiaries() {
		pct := profile.Percentage(b)
		if pct.IsZero() {
			continue
		}
		amount := Round2(base.Mul(pct).Div(hundred))
		sum = sum.Add(amount)
		allocations = append(allocations, Allocation{Beneficiary: b, Percentage: pct, Amount: amount})
	}
	if len(allocations) == 0 {
		return nil, ErrEmptyProfile
	}

	remainder := Round2(base.Sub(sum))
	if !remainder.IsZero() {
		idx := remainderIndex(allocations)
		allocations[idx].Amount = allocations[idx].Amount.Add(remainder)
	}
	return allocations, nil
}

func remainderIndex(allocations []Allocation) int {
	for i, a := range allocations {
		if a.Beneficiary == BeneficiaryPlatform {
			return i
		}
	}
	return 0
}

// Total sums the allocation amounts.
func Total(allocations []Allocation) decimal.Decimal {
	total := decimal.Zero
	for _, a := range allocations {
		total = total.Add(a.Amount)
	}
	return total
}
