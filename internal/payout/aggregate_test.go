package payout_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-revshare/internal/payout"
	"github.com/noah-isme/backend-revshare/internal/split"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func eventRows(creator, currency, gross string, allocations map[split.Beneficiary]string) []payout.Row {
	id := uuid.New()
	if len(allocations) == 0 {
		return []payout.Row{{EventID: id, CreatorID: creator, Currency: currency, GrossAmount: dec(gross)}}
	}
	var rows []payout.Row
	for _, b := range split.Beneficiaries() {
		amount, ok := allocations[b]
		if !ok {
			continue
		}
		rows = append(rows, payout.Row{EventID: id, CreatorID: creator, Currency: currency, GrossAmount: dec(gross), Beneficiary: b, Amount: dec(amount)})
	}
	return rows
}

func TestAggregateCountsGrossOncePerEvent(t *testing.T) {
	var rows []payout.Row
	rows = append(rows, eventRows("creator-b", "USD", "10.00", map[split.Beneficiary]string{
		split.BeneficiaryCreator: "7.00", split.BeneficiaryPlatform: "3.00",
	})...)
	rows = append(rows, eventRows("creator-a", "USD", "3.33", map[split.Beneficiary]string{
		split.BeneficiaryCreator: "2.33", split.BeneficiaryPlatform: "1.00",
	})...)
	rows = append(rows, eventRows("creator-b", "USD", "5.00", map[split.Beneficiary]string{
		split.BeneficiaryCreator: "3.50", split.BeneficiaryPlatform: "1.00", split.BeneficiaryAffiliate: "0.50",
	})...)
	rows = append(rows, eventRows("creator-b", "USD", "2.00", nil)...)

	totals := payout.Aggregate(rows)
	require.Len(t, totals, 2)
	require.Equal(t, "creator-a", totals[0].CreatorID)
	require.Equal(t, "creator-b", totals[1].CreatorID)

	b := totals[1]
	require.Equal(t, 3, b.Events)
	require.Equal(t, 1, b.EventsWithoutSplits)
	require.True(t, b.Gross.Equal(dec("17.00")), b.Gross.String())
	require.True(t, b.CreatorPayout.Equal(dec("10.50")))
	require.True(t, b.Beneficiaries[split.BeneficiaryPlatform].Equal(dec("4.00")))
	require.True(t, b.Beneficiaries[split.BeneficiaryAffiliate].Equal(dec("0.50")))
	_, hasProcessor := b.Beneficiaries[split.BeneficiaryProcessor]
	require.False(t, hasProcessor)
}

func TestAggregateSeparatesCurrencies(t *testing.T) {
	var rows []payout.Row
	rows = append(rows, eventRows("creator-a", "USD", "1.00", map[split.Beneficiary]string{split.BeneficiaryCreator: "1.00"})...)
	rows = append(rows, eventRows("creator-a", "EUR", "2.00", map[split.Beneficiary]string{split.BeneficiaryCreator: "2.00"})...)

	totals := payout.Aggregate(rows)
	require.Len(t, totals, 2)
	require.Equal(t, "EUR", totals[0].Currency)
	require.Equal(t, "USD", totals[1].Currency)
}

func TestAggregateEmpty(t *testing.T) {
	require.Empty(t, payout.Aggregate(nil))
}

func TestParseMonthWindow(t *testing.T) {
	m, err := payout.ParseMonth("2024-02")
	require.NoError(t, err)
	from, to := m.Window()
	require.Equal(t, "2024-02-01T00:00:00Z", from.Format("2006-01-02T15:04:05Z07:00"))
	require.Equal(t, "2024-03-01T00:00:00Z", to.Format("2006-01-02T15:04:05Z07:00"))
	require.Equal(t, "2024-02", m.String())

	december, err := payout.ParseMonth("2025-12")
	require.NoError(t, err)
	_, to = december.Window()
	require.Equal(t, 2026, to.Year())

	for _, bad := range []string{"", "2024-13", "2024/02", "24-02"} {
		_, err := payout.ParseMonth(bad)
		require.ErrorIs(t, err, payout.ErrInvalidMonth, bad)
	}
}
