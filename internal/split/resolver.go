package split

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Store defines the persistence operations required for split profiles and mappings.
type Store interface {
	CreateProfile(ctx context.Context, p Profile) (Profile, error)
	GetProfile(ctx context.Context, id uuid.UUID) (Profile, error)
	ListProfiles(ctx context.Context, limit, offset int) ([]Profile, error)
	CreateMapping(ctx context.Context, m Mapping) (Mapping, error)
	ListMappings(ctx context.Context, revenueTypeID string) ([]Mapping, error)
	// CandidateMappings returns mappings for the revenue type active at the instant that
	// are either global or scoped to roomKey.
	CandidateMappings(ctx context.Context, revenueTypeID, roomKey string, at time.Time) ([]Mapping, error)
	RevenueTypeExists(ctx context.Context, id string) (bool, error)
}

// Resolver selects the split profile that applies to a revenue event.
type Resolver struct {
	Store Store
}

// Resolve returns the profile mapped to revenueTypeID valid at the given instant. A mapping
// scoped to roomKey takes priority over a global mapping. ErrNotFound is returned when
// nothing covers the revenue type at that time.
func (r Resolver) Resolve(ctx context.Context, revenueTypeID, roomKey string, at time.Time) (Profile, error) {
	if r.Store == nil {
		return Profile{}, errors.New("split: resolver store not configured")
	}
	ctx, span := otel.Tracer("split.Resolver").Start(ctx, "Resolver.Resolve")
	defer span.End()
	revenueTypeID = strings.TrimSpace(revenueTypeID)
	roomKey = strings.TrimSpace(roomKey)
	span.SetAttributes(
		attribute.String("revenue.type", revenueTypeID),
		attribute.String("revenue.room_key", roomKey),
	)
	if revenueTypeID == "" {
		return Profile{}, fmt.Errorf("%w: revenue type is required", ErrNotFound)
	}

	candidates, err := r.Store.CandidateMappings(ctx, revenueTypeID, roomKey, at)
	if err != nil {
		span.RecordError(err)
		return Profile{}, fmt.Errorf("split: load mappings: %w", err)
	}
	mapping, ok := PickMapping(candidates, roomKey, at)
	if !ok {
		return Profile{}, fmt.Errorf("%w: no mapping for revenue type %q at %s", ErrNotFound, revenueTypeID, at.UTC().Format(time.RFC3339))
	}
	span.SetAttributes(attribute.String("split.mapping_id", mapping.ID.String()))
	profile, err := r.Store.GetProfile(ctx, mapping.ProfileID)
	if err != nil {
		span.RecordError(err)
		return Profile{}, err
	}
	return profile, nil
}

// PickMapping chooses among candidate mappings: only mappings active at the instant and
// either global or scoped to roomKey qualify; a room-scoped mapping beats a global one,
// then the latest EffectiveFrom wins, then the newest creation time.
func PickMapping(candidates []Mapping, roomKey string, at time.Time) (Mapping, bool) {
	roomKey = strings.TrimSpace(roomKey)
	var (
		best  Mapping
		found bool
	)
	for _, m := range candidates {
		if !m.ActiveAt(at) {
			continue
		}
		if m.Scoped() && (roomKey == "" || strings.TrimSpace(*m.RoomKey) != roomKey) {
			continue
		}
		if !found || outranks(m, best) {
			best = m
			found = true
		}
	}
	return best, found
}

func outranks(a, b Mapping) bool {
	if a.Scoped() != b.Scoped() {
		return a.Scoped()
	}
	if !a.EffectiveFrom.Equal(b.EffectiveFrom) {
		return a.EffectiveFrom.After(b.EffectiveFrom)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID.String() > b.ID.String()
}
