package queue_test

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-revshare/internal/queue"
)

type dlqMemory struct {
	mu      sync.Mutex
	entries []queue.DLQEntry
}

func (m *dlqMemory) Park(_ context.Context, e queue.DLQEntry) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().Add(time.Duration(len(m.entries)) * time.Millisecond)
	}
	m.entries = append(m.entries, e)
	return e.ID, nil
}

func (m *dlqMemory) Get(_ context.Context, id uuid.UUID) (queue.DLQEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return queue.DLQEntry{}, queue.ErrDLQEntryNotFound
}

func (m *dlqMemory) Remove(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = slices.DeleteFunc(m.entries, func(e queue.DLQEntry) bool { return e.ID == id })
	return nil
}

func (m *dlqMemory) List(_ context.Context, f queue.DLQFilter) ([]queue.DLQEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []queue.DLQEntry
	for i := len(m.entries) - 1; i >= 0; i-- {
		if f.Kind == "" || m.entries[i].Kind == f.Kind {
			out = append(out, m.entries[i])
		}
	}
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *dlqMemory) Count(ctx context.Context, kind string) (int64, error) {
	all, _ := m.List(ctx, queue.DLQFilter{Kind: kind})
	return int64(len(all)), nil
}

func (m *dlqMemory) all() []queue.DLQEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.entries)
}
