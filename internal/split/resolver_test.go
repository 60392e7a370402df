package split

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

func seedProfile(t *testing.T, s *memStore, name string, creator int64) Profile {
	t.Helper()
	p := Profile{
		ID:   uuid.New(),
		Name: name,
		Percentages: map[Beneficiary]decimal.Decimal{
			BeneficiaryCreator:  decimal.NewFromInt(creator),
			BeneficiaryPlatform: decimal.NewFromInt(100 - creator),
		},
		CreatedAt: t0,
	}
	_, err := s.CreateProfile(context.Background(), p)
	require.NoError(t, err)
	return p
}

func TestResolvePrefersRoomScopedMapping(t *testing.T) {
	s := newMemStore("tip")
	global := seedProfile(t, s, "global", 70)
	scoped := seedProfile(t, s, "room", 85)
	ctx := context.Background()
	_, _ = s.CreateMapping(ctx, Mapping{ID: uuid.New(), RevenueTypeID: "tip", ProfileID: global.ID, EffectiveFrom: t0.AddDate(0, 0, 5)})
	_, _ = s.CreateMapping(ctx, Mapping{ID: uuid.New(), RevenueTypeID: "tip", RoomKey: strPtr("room-1"), ProfileID: scoped.ID, EffectiveFrom: t0})

	r := Resolver{Store: s}
	at := t0.AddDate(0, 0, 10)

	got, err := r.Resolve(ctx, "tip", "room-1", at)
	require.NoError(t, err)
	require.Equal(t, scoped.ID, got.ID)

	got, err = r.Resolve(ctx, "tip", "room-2", at)
	require.NoError(t, err)
	require.Equal(t, global.ID, got.ID)

	got, err = r.Resolve(ctx, "tip", "", at)
	require.NoError(t, err)
	require.Equal(t, global.ID, got.ID)
}

func TestResolveNotFound(t *testing.T) {
	s := newMemStore("tip")
	p := seedProfile(t, s, "global", 70)
	ctx := context.Background()
	_, _ = s.CreateMapping(ctx, Mapping{ID: uuid.New(), RevenueTypeID: "tip", ProfileID: p.ID, EffectiveFrom: t0, EffectiveTo: timePtr(t0.AddDate(0, 1, 0))})

	r := Resolver{Store: s}
	_, err := r.Resolve(ctx, "unlock", "", t0.AddDate(0, 0, 1))
	require.ErrorIs(t, err, ErrNotFound)

	_, err = r.Resolve(ctx, "tip", "", t0.Add(-time.Second))
	require.ErrorIs(t, err, ErrNotFound)

	// effective_to is exclusive
	_, err = r.Resolve(ctx, "tip", "", t0.AddDate(0, 1, 0))
	require.ErrorIs(t, err, ErrNotFound)

	_, err = r.Resolve(ctx, "", "", t0)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPickMappingWindowAndTieBreaks(t *testing.T) {
	older := Mapping{ID: uuid.New(), RevenueTypeID: "tip", EffectiveFrom: t0, CreatedAt: t0}
	newer := Mapping{ID: uuid.New(), RevenueTypeID: "tip", EffectiveFrom: t0.AddDate(0, 0, 7), CreatedAt: t0}
	expired := Mapping{ID: uuid.New(), RevenueTypeID: "tip", EffectiveFrom: t0.AddDate(0, 0, 8), EffectiveTo: timePtr(t0.AddDate(0, 0, 9)), CreatedAt: t0}
	reissued := Mapping{ID: uuid.New(), RevenueTypeID: "tip", EffectiveFrom: t0.AddDate(0, 0, 7), CreatedAt: t0.Add(time.Hour)}

	at := t0.AddDate(0, 0, 10)
	got, ok := PickMapping([]Mapping{older, expired, newer}, "", at)
	require.True(t, ok)
	require.Equal(t, newer.ID, got.ID)

	got, ok = PickMapping([]Mapping{reissued, older, newer}, "", at)
	require.True(t, ok)
	require.Equal(t, reissued.ID, got.ID)

	got, ok = PickMapping([]Mapping{older, newer}, "", t0.AddDate(0, 0, 3))
	require.True(t, ok)
	require.Equal(t, older.ID, got.ID)

	_, ok = PickMapping([]Mapping{expired}, "", at)
	require.False(t, ok)
}

func TestPickMappingScopedBeatsLaterGlobal(t *testing.T) {
	scoped := Mapping{ID: uuid.New(), RoomKey: strPtr("room-9"), EffectiveFrom: t0}
	global := Mapping{ID: uuid.New(), EffectiveFrom: t0.AddDate(0, 0, 20)}
	got, ok := PickMapping([]Mapping{global, scoped}, "room-9", t0.AddDate(0, 1, 0))
	require.True(t, ok)
	require.Equal(t, scoped.ID, got.ID)

	_, ok = PickMapping([]Mapping{scoped}, "room-1", t0.AddDate(0, 1, 0))
	require.False(t, ok)
}

func TestMappingValidate(t *testing.T) {
	m := Mapping{RevenueTypeID: "tip", ProfileID: uuid.New(), EffectiveFrom: t0, EffectiveTo: timePtr(t0)}
	require.ErrorIs(t, m.Validate(), ErrInvalidWindow)
	m.EffectiveTo = timePtr(t0.Add(time.Minute))
	require.NoError(t, m.Validate())
	m.ProfileID = uuid.Nil
	require.Error(t, m.Validate())
}

func TestProfileValidate(t *testing.T) {
	p := Profile{Name: "x", Percentages: map[Beneficiary]decimal.Decimal{BeneficiaryCreator: decimal.Zero}}
	require.ErrorIs(t, p.Validate(), ErrEmptyProfile)
	p.Percentages[BeneficiaryCreator] = decimal.NewFromInt(101)
	require.ErrorIs(t, p.Validate(), ErrInvalidPercentage)
	p.Percentages[BeneficiaryCreator] = decimal.NewFromInt(60)
	require.NoError(t, p.Validate())
	p.Name = " "
	require.Error(t, p.Validate())
}
