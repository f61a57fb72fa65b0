package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory rule store for testing and ephemeral servers.
// Data is lost when the process exits.
type MemoryStore struct {
	mu     sync.RWMutex
	recs   map[string]storedRecord
	seq    int
	closed bool
}

// storedRecord keeps insertion order for ties in List.
type storedRecord struct {
	rec Record
	seq int
}

// NewMemoryStore creates a new in-memory rule store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]storedRecord)}
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	now := time.Now().UTC()
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}
	// Copy the AST to avoid retaining the caller's slice.
	rec.AST = append([]byte(nil), rec.AST...)

	if old, ok := m.recs[rec.ID]; ok {
		rec.CreatedAt = old.rec.CreatedAt
		m.recs[rec.ID] = storedRecord{rec: rec, seq: old.seq}
		return nil
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	m.seq++
	m.recs[rec.ID] = storedRecord{rec: rec, seq: m.seq}
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return Record{}, ErrStoreClosed
	}
	s, ok := m.recs[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return clone(s.rec), nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	stored := make([]storedRecord, 0, len(m.recs))
	for _, s := range m.recs {
		stored = append(stored, s)
	}
	sort.Slice(stored, func(i, j int) bool {
		a, b := stored[i], stored[j]
		if !a.rec.CreatedAt.Equal(b.rec.CreatedAt) {
			return a.rec.CreatedAt.After(b.rec.CreatedAt)
		}
		return a.seq > b.seq
	})

	recs := make([]Record, len(stored))
	for i, s := range stored {
		recs[i] = clone(s.rec)
	}
	return recs, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	if _, ok := m.recs[id]; !ok {
		return ErrNotFound
	}
	delete(m.recs, id)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.recs = nil
	return nil
}

func clone(rec Record) Record {
	rec.AST = append([]byte(nil), rec.AST...)
	return rec
}
