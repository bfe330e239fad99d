package record

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for development and tests.
// All methods are safe for concurrent use.
type MemoryStore struct {
	mu    sync.RWMutex
	calls map[string]CallRecord
	turns []TurnRecord
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{calls: make(map[string]CallRecord)}
}

// WriteCall implements Store.
func (m *MemoryStore) WriteCall(_ context.Context, rec CallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[rec.SessionID] = rec
	return nil
}

// WriteTurn implements Store.
func (m *MemoryStore) WriteTurn(_ context.Context, rec TurnRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, rec)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }

// Call returns the stored record for sessionID.
func (m *MemoryStore) Call(sessionID string) (CallRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.calls[sessionID]
	return rec, ok
}

// Turns returns all turns recorded for sessionID in order.
func (m *MemoryStore) Turns(sessionID string) []TurnRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []TurnRecord
	for _, t := range m.turns {
		if t.SessionID == sessionID {
			out = append(out, t)
		}
	}
	return out
}
