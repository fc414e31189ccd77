package tools

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory descriptor store for demo/development mode.
type MemoryStore struct {
	byID   map[string]*Descriptor
	byName map[string]string // "tenant/name" -> id
	mu     sync.RWMutex
}

// NewMemoryStore creates a new in-memory descriptor store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*Descriptor),
		byName: make(map[string]string),
	}
}

func nameKey(tenant, name string) string { return tenant + "/" + name }

func (m *MemoryStore) Create(ctx context.Context, d *Descriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := nameKey(d.Tenant, d.Name)
	if _, exists := m.byName[key]; exists {
		return ErrDuplicateName
	}

	cp := *d
	m.byID[d.ID] = &cp
	m.byName[key] = d.ID
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, d *Descriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.byID[d.ID]
	if !ok {
		return ErrToolNotFound
	}

	key := nameKey(d.Tenant, d.Name)
	if other, exists := m.byName[key]; exists && other != d.ID {
		return ErrDuplicateName
	}

	delete(m.byName, nameKey(old.Tenant, old.Name))
	cp := *d
	m.byID[d.ID] = &cp
	m.byName[key] = d.ID
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.byID[id]
	if !ok {
		return ErrToolNotFound
	}
	delete(m.byID, id)
	delete(m.byName, nameKey(d.Tenant, d.Name))
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Descriptor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.byID[id]
	if !ok {
		return nil, ErrToolNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) GetByName(ctx context.Context, tenant, name string) (*Descriptor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byName[nameKey(tenant, name)]
	if !ok {
		return nil, ErrToolNotFound
	}
	cp := *m.byID[id]
	return &cp, nil
}

func (m *MemoryStore) ListByTenant(ctx context.Context, tenant string) ([]*Descriptor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Descriptor
	for _, d := range m.byID {
		if d.Tenant == tenant {
			cp := *d
			result = append(result, &cp)
		}
	}
	return result, nil
}
