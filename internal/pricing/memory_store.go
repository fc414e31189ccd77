package pricing

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory price store for demo/development mode.
type MemoryStore struct {
	prices map[string]*Price
	mu     sync.RWMutex
}

// NewMemoryStore creates a new in-memory price store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{prices: make(map[string]*Price)}
}

func (m *MemoryStore) Set(ctx context.Context, p *Price) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.prices[p.ToolID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, toolID string) (*Price, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.prices[toolID]
	if !ok {
		return nil, ErrNotPriced
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) Delete(ctx context.Context, toolID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.prices[toolID]; !ok {
		return ErrNotPriced
	}
	delete(m.prices, toolID)
	return nil
}
