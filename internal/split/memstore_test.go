package split

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memStore struct {
	mu           sync.Mutex
	profiles     map[uuid.UUID]Profile
	mappings     []Mapping
	revenueTypes map[string]bool
}

func newMemStore(types ...string) *memStore {
	s := &memStore{profiles: map[uuid.UUID]Profile{}, revenueTypes: map[string]bool{}}
	for _, t := range types {
		s.revenueTypes[t] = true
	}
	return s
}

func (s *memStore) CreateProfile(_ context.Context, p Profile) (Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p
	return p, nil
}

func (s *memStore) GetProfile(_ context.Context, id uuid.UUID) (Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

func (s *memStore) ListProfiles(_ context.Context, limit, offset int) ([]Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) CreateMapping(_ context.Context, m Mapping) (Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappings = append(s.mappings, m)
	return m, nil
}

func (s *memStore) ListMappings(_ context.Context, revenueTypeID string) ([]Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Mapping
	for _, m := range s.mappings {
		if m.RevenueTypeID == revenueTypeID {
			out = append(out, m)
		}
	}
	return out, nil
}

// CandidateMappings returns every mapping of the revenue type and leaves the window and
// room filtering to PickMapping.
func (s *memStore) CandidateMappings(ctx context.Context, revenueTypeID, _ string, _ time.Time) ([]Mapping, error) {
	return s.ListMappings(ctx, revenueTypeID)
}

func (s *memStore) RevenueTypeExists(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revenueTypes[id], nil
}
