package main

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-revshare/internal/config"
	"github.com/noah-isme/backend-revshare/internal/obs"
	"github.com/noah-isme/backend-revshare/internal/split"
)

type seedProfile struct {
	Name        string
	Percentages map[split.Beneficiary]string
}

type seedType struct {
	ID      string
	Name    string
	Profile string
	Rooms   map[string]string
}

var profiles = []seedProfile{
	{Name: "standard", Percentages: map[split.Beneficiary]string{
		split.BeneficiaryCreator: "70", split.BeneficiaryPlatform: "25", split.BeneficiaryProcessor: "5",
	}},
	{Name: "affiliate", Percentages: map[split.Beneficiary]string{
		split.BeneficiaryCreator: "60", split.BeneficiaryPlatform: "25", split.BeneficiaryProcessor: "5",
		split.BeneficiaryAffiliate: "10",
	}},
	{Name: "premium-room", Percentages: map[split.Beneficiary]string{
		split.BeneficiaryCreator: "80", split.BeneficiaryPlatform: "17.5", split.BeneficiaryProcessor: "2.5",
	}},
}

var revenueTypes = []seedType{
	{ID: "tip", Name: "Tip", Profile: "standard", Rooms: map[string]string{"vip-lounge": "premium-room"}},
	{ID: "subscription", Name: "Subscription", Profile: "standard"},
	{ID: "private-session", Name: "Private session", Profile: "premium-room"},
	{ID: "referral-purchase", Name: "Referral purchase", Profile: "affiliate"},
}

func main() {
	logger := obs.NewLogger("console", "info").With().Str("component", "seeder").Logger()
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}

	store := split.NewStore(pool)
	byName, err := seedProfiles(ctx, store, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed profiles")
	}
	if err := seedRevenueTypes(ctx, pool, store, byName, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed revenue types")
	}
	logger.Info().Msg("seeding completed")
}

func seedID(kind, name string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("revshare:"+kind+":"+name))
}

func seedProfiles(ctx context.Context, store split.Store, logger zerolog.Logger) (map[string]uuid.UUID, error) {
	out := make(map[string]uuid.UUID, len(profiles))
	for _, sp := range profiles {
		id := seedID("profile", sp.Name)
		out[sp.Name] = id
		if _, err := store.GetProfile(ctx, id); err == nil {
			logger.Info().Str("profile", sp.Name).Msg("profile exists")
			continue
		} else if !errors.Is(err, split.ErrNotFound) {
			return nil, err
		}
		pcts := make(map[split.Beneficiary]decimal.Decimal, len(sp.Percentages))
		for b, raw := range sp.Percentages {
			pcts[b] = decimal.RequireFromString(raw)
		}
		p := split.Profile{ID: id, Name: sp.Name, Percentages: pcts}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, err := store.CreateProfile(ctx, p); err != nil {
			return nil, err
		}
		logger.Info().Str("profile", sp.Name).Str("id", id.String()).Msg("profile created")
	}
	return out, nil
}

func seedRevenueTypes(ctx context.Context, pool *pgxpool.Pool, store split.Store, profileIDs map[string]uuid.UUID, logger zerolog.Logger) error {
	from := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	for _, rt := range revenueTypes {
		if _, err := pool.Exec(ctx, `INSERT INTO revenue_types (id, name) VALUES ($1, $2)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`, rt.ID, rt.Name); err != nil {
			return err
		}
		existing, err := store.ListMappings(ctx, rt.ID)
		if err != nil {
			return err
		}
		known := make(map[uuid.UUID]bool, len(existing))
		for _, m := range existing {
			known[m.ID] = true
		}

		wanted := []split.Mapping{{
			ID:            seedID("mapping", rt.ID),
			RevenueTypeID: rt.ID,
			ProfileID:     profileIDs[rt.Profile],
			EffectiveFrom: from,
		}}
		for room, profile := range rt.Rooms {
			room := room
			wanted = append(wanted, split.Mapping{
				ID:            seedID("mapping", rt.ID+":"+room),
				RevenueTypeID: rt.ID,
				RoomKey:       &room,
				ProfileID:     profileIDs[profile],
				EffectiveFrom: from,
			})
		}
		for _, m := range wanted {
			if known[m.ID] {
				continue
			}
			if _, err := store.CreateMapping(ctx, m); err != nil {
				return err
			}
			logger.Info().Str("revenue_type", rt.ID).Str("mapping", m.ID.String()).Msg("mapping created")
		}
	}
	return nil
}
