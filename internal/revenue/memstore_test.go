package revenue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-revshare/internal/events"
	"github.com/noah-isme/backend-revshare/internal/split"
)

type memStore struct {
	mu       sync.Mutex
	events   map[uuid.UUID]Event
	byIntent map[string]uuid.UUID
	splits   map[uuid.UUID][]Split
	sessions map[uuid.UUID]string

	insertSplitsErr error
	linkErr         error
	// skipLookup hides existing events from FindEventByIntent to mimic a racing writer.
	skipLookup bool
}

func newMemStore() *memStore {
	return &memStore{
		events:   map[uuid.UUID]Event{},
		byIntent: map[string]uuid.UUID{},
		splits:   map[uuid.UUID][]Split{},
		sessions: map[uuid.UUID]string{},
	}
}

func intentKey(provider, intentID string) string { return provider + "|" + intentID }

func (s *memStore) FindEventByIntent(_ context.Context, provider, intentID string) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.skipLookup {
		s.skipLookup = false
		return Event{}, ErrNotFound
	}
	id, ok := s.byIntent[intentKey(provider, intentID)]
	if !ok {
		return Event{}, ErrNotFound
	}
	return s.events[id], nil
}

func (s *memStore) InsertEvent(_ context.Context, ev Event) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := intentKey(ev.PaymentProvider, ev.PaymentIntentID)
	if _, ok := s.byIntent[k]; ok {
		return Event{}, ErrDuplicateEvent
	}
	s.events[ev.ID] = ev
	s.byIntent[k] = ev.ID
	return ev, nil
}

func (s *memStore) GetEvent(_ context.Context, id uuid.UUID) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return Event{}, ErrNotFound
	}
	return ev, nil
}

func (s *memStore) ListSplits(_ context.Context, eventID uuid.UUID) ([]Split, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Split(nil), s.splits[eventID]...), nil
}

func (s *memStore) InsertSplits(_ context.Context, splits []Split) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertSplitsErr != nil {
		return s.insertSplitsErr
	}
	for _, sp := range splits {
		for _, existing := range s.splits[sp.EventID] {
			if existing.Beneficiary == sp.Beneficiary {
				return errors.New("duplicate split")
			}
		}
	}
	for _, sp := range splits {
		s.splits[sp.EventID] = append(s.splits[sp.EventID], sp)
	}
	return nil
}

func (s *memStore) LinkSession(_ context.Context, eventID uuid.UUID, sessionRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.linkErr != nil {
		return s.linkErr
	}
	s.sessions[eventID] = sessionRef
	return nil
}

func (s *memStore) UpdateStatus(_ context.Context, provider, intentID string, status Status) (Event, Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byIntent[intentKey(provider, intentID)]
	if !ok {
		return Event{}, "", ErrNotFound
	}
	ev := s.events[id]
	prev := ev.Status
	if prev.CanMoveTo(status) {
		ev.Status = status
		s.events[id] = ev
	}
	return ev, prev, nil
}

func (s *memStore) EventsWithoutSplits(_ context.Context, limit int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uuid.UUID
	for id := range s.events {
		if len(s.splits[id]) == 0 {
			ids = append(ids, id)
		}
		if len(ids) == limit {
			break
		}
	}
	return ids, nil
}

func (s *memStore) eventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *memStore) splitCount(eventID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.splits[eventID])
}

type fakeResolver struct {
	mu      sync.Mutex
	profile split.Profile
	err     error
	calls   int
	lastAt  time.Time
	lastKey string
}

func (f *fakeResolver) Resolve(_ context.Context, _ string, roomKey string, at time.Time) (split.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastAt = at
	f.lastKey = roomKey
	if f.err != nil {
		return split.Profile{}, f.err
	}
	return f.profile, nil
}

func (f *fakeResolver) set(p split.Profile, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profile, f.err = p, err
}

type fakeRetrier struct {
	mu  sync.Mutex
	ids []uuid.UUID
	err error
}

func (f *fakeRetrier) EnqueueResplit(_ context.Context, eventID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, eventID)
	return f.err
}

type emitted struct {
	Topic       string
	AggregateID uuid.UUID
}

type fakeEmitter struct {
	mu     sync.Mutex
	topics []emitted
}

func (f *fakeEmitter) Emit(_ context.Context, topic string, aggregateID uuid.UUID, _ any) (events.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, emitted{Topic: topic, AggregateID: aggregateID})
	return events.Event{Topic: topic}, nil
}

func (f *fakeEmitter) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.topics))
	for _, e := range f.topics {
		out = append(out, e.Topic)
	}
	return out
}
