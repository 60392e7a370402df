package payout

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-revshare/internal/split"
)

// Aggregate folds joined rows into per creator and currency totals sorted by
// creator id then currency. Gross is counted once per event regardless of how
// many split rows it joined against.
func Aggregate(rows []Row) []CreatorTotals {
	type groupKey struct{ creator, currency string }
	index := make(map[groupKey]int)
	seen := make(map[uuid.UUID]struct{})
	out := make([]CreatorTotals, 0)

	for _, row := range rows {
		k := groupKey{row.CreatorID, row.Currency}
		i, ok := index[k]
		if !ok {
			i = len(out)
			index[k] = i
			out = append(out, CreatorTotals{
				CreatorID:     row.CreatorID,
				Currency:      row.Currency,
				Gross:         decimal.Zero,
				Beneficiaries: make(map[split.Beneficiary]decimal.Decimal),
				CreatorPayout: decimal.Zero,
			})
		}
		t := &out[i]
		if _, dup := seen[row.EventID]; !dup {
			seen[row.EventID] = struct{}{}
			t.Events++
			t.Gross = t.Gross.Add(row.GrossAmount)
			if row.Beneficiary == "" {
				t.EventsWithoutSplits++
			}
		}
		if row.Beneficiary == "" {
			continue
		}
		t.Beneficiaries[row.Beneficiary] = t.Beneficiaries[row.Beneficiary].Add(row.Amount)
		if row.Beneficiary == split.BeneficiaryCreator {
			t.CreatorPayout = t.CreatorPayout.Add(row.Amount)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatorID != out[j].CreatorID {
			return out[i].CreatorID < out[j].CreatorID
		}
		return out[i].Currency < out[j].Currency
	})
	return out
}
