package signal

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/newthinker/tradecore/internal/core"
)

// MemoryStore is a bounded in-memory journal. The oldest entries are
// evicted once maxSize is reached.
type MemoryStore struct {
	entries []Entry
	maxSize int
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory store with max capacity.
func NewMemoryStore(maxSize int) *MemoryStore {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &MemoryStore{
		entries: make([]Entry, 0, maxSize),
		maxSize: maxSize,
	}
}

// Save appends an entry to the journal.
func (m *MemoryStore) Save(ctx context.Context, entry Entry) (string, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Signal.ID == "" {
		entry.Signal.ID = entry.ID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, entry)
	if len(m.entries) > m.maxSize {
		m.entries = m.entries[len(m.entries)-m.maxSize:]
	}
	return entry.ID, nil
}

// GetByID retrieves an entry by ID.
func (m *MemoryStore) GetByID(ctx context.Context, id string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := range m.entries {
		if m.entries[i].ID == id {
			e := m.entries[i]
			return &e, nil
		}
	}
	return nil, core.Errorf(core.ErrNotFound, "signal %q not found", id)
}

// List returns entries matching the filter.
func (m *MemoryStore) List(ctx context.Context, filter ListFilter) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []Entry{}
	for _, e := range m.entries {
		if matches(e, filter) {
			result = append(result, e)
		}
	}

	if filter.Offset >= len(result) {
		return []Entry{}, nil
	}
	if filter.Offset > 0 {
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

// Count returns the count of matching entries.
func (m *MemoryStore) Count(ctx context.Context, filter ListFilter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, e := range m.entries {
		if matches(e, filter) {
			count++
		}
	}
	return count, nil
}

func matches(e Entry, filter ListFilter) bool {
	sig := e.Signal
	switch {
	case filter.StrategyID != "" && e.StrategyID != filter.StrategyID:
		return false
	case filter.Symbol != "" && sig.Symbol != filter.Symbol:
		return false
	case filter.Kind != "" && sig.Kind != filter.Kind:
		return false
	case filter.Action != "" && sig.Action != filter.Action:
		return false
	case !filter.From.IsZero() && sig.GeneratedAt.Before(filter.From):
		return false
	case !filter.To.IsZero() && sig.GeneratedAt.After(filter.To):
		return false
	}
	return true
}
