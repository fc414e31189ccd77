package payments

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory payment store for development and tests.
type MemoryStore struct {
	mu  sync.RWMutex
	txs map[string]*Transaction
}

// NewMemoryStore creates a new in-memory payment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{txs: make(map[string]*Transaction)}
}

func (m *MemoryStore) Create(ctx context.Context, tx *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.txs {
		if existing.Payer == tx.Payer && existing.ToolID == tx.ToolID && !existing.IsTerminal() {
			return ErrDuplicatePending
		}
	}

	cp := *tx
	m.txs[tx.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx, ok := m.txs[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	cp := *tx
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, tx *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.txs[tx.ID]; !ok {
		return ErrPaymentNotFound
	}
	cp := *tx
	m.txs[tx.ID] = &cp
	return nil
}

func (m *MemoryStore) Consume(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.txs[id]
	if !ok {
		return ErrPaymentNotFound
	}
	if tx.Status != StatusCompleted {
		return ErrInvalidStatus
	}
	if tx.ConsumedAt != nil {
		return ErrAlreadyConsumed
	}
	tx.ConsumedAt = &at
	return nil
}

func (m *MemoryStore) FindActive(ctx context.Context, payer, toolID string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, tx := range m.txs {
		if tx.Payer == payer && tx.ToolID == toolID && !tx.IsTerminal() {
			cp := *tx
			return &cp, nil
		}
	}
	return nil, ErrPaymentNotFound
}

func (m *MemoryStore) ListByPayer(ctx context.Context, payer string, limit int) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Transaction
	for _, tx := range m.txs {
		if tx.Payer == payer {
			cp := *tx
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) ListStalePending(ctx context.Context, before time.Time, limit int) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Transaction
	for _, tx := range m.txs {
		if tx.Status == StatusPending && tx.CreatedAt.Before(before) {
			cp := *tx
			result = append(result, &cp)
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
