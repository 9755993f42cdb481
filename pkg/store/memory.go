package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	closed  bool
	now     func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, id Identity) (*Record, error) {
	if !id.Valid() {
		return nil, ErrInvalidIdentity
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	if id.ExternalID != "" {
		for _, r := range m.records {
			if r.ExternalID == id.ExternalID {
				out := *r
				return &out, nil
			}
		}
		if id.Name == "" {
			return nil, nil
		}
	}

	var best *Record
	for _, r := range m.records {
		if !r.Matches(id) {
			continue
		}
		if best == nil || r.UpdatedAt.After(best.UpdatedAt) {
			best = r
		}
	}
	if best == nil {
		return nil, nil
	}
	out := *best
	return &out, nil
}

// Upsert implements Store.
func (m *MemoryStore) Upsert(_ context.Context, rec Record) (string, error) {
	if !rec.Valid() {
		return "", ErrInvalidIdentity
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = m.now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrClosed
	}

	key := rec.Key()
	if existing, ok := m.records[key]; ok {
		rec.ID = existing.ID
	} else if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	m.records[key] = &rec
	return rec.ID, nil
}

// ListMissingPrice implements Store.
func (m *MemoryStore) ListMissingPrice(_ context.Context, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	var out []Record
	for _, r := range m.records {
		if !r.MarketPrice.Valid {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
