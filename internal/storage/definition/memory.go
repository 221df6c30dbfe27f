package definition

import (
	"context"
	"maps"
	"sort"
	"sync"

	"github.com/newthinker/tradecore/internal/core"
)

// MemoryStore is an in-memory definition store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Save stores a copy of r.
func (m *MemoryStore) Save(ctx context.Context, r Record) error {
	if r.ID == "" {
		return core.Errorf(core.ErrInvalidInput, "record has no id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r.Params = maps.Clone(r.Params)
	m.records[r.ID] = r
	return nil
}

// Get retrieves a record by id.
func (m *MemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return nil, core.Errorf(core.ErrNotFound, "strategy definition %q not found", id)
	}
	r.Params = maps.Clone(r.Params)
	return &r, nil
}

// Delete removes a record.
func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return core.Errorf(core.ErrNotFound, "strategy definition %q not found", id)
	}
	delete(m.records, id)
	return nil
}

// List returns all records, oldest first.
func (m *MemoryStore) List(ctx context.Context) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		r.Params = maps.Clone(r.Params)
		out = append(out, r)
	}
	sortRecords(out)
	return out, nil
}

func sortRecords(rs []Record) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].CreatedAt.Before(rs[j].CreatedAt)
		}
		return rs[i].ID < rs[j].ID
	})
}
