package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/toolgate-io/toolgate/internal/usdc"
)

// MemoryStore is an in-memory ledger store for demo/development mode.
type MemoryStore struct {
	balances map[string]*Balance
	entries  []*Entry
	deposits map[string]bool
	refunds  map[string]bool // "principal:ref" -> already refunded
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[string]*Balance),
		entries:  make([]*Entry, 0),
		deposits: make(map[string]bool),
		refunds:  make(map[string]bool),
	}
}

func (m *MemoryStore) GetBalance(ctx context.Context, principal string) (*Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if bal, ok := m.balances[principal]; ok {
		cp := *bal
		return &cp, nil
	}
	return &Balance{
		Principal:      principal,
		Balance:        "0.000000",
		TotalDeposited: "0.000000",
		TotalSpent:     "0.000000",
		UpdatedAt:      time.Now(),
	}, nil
}

func (m *MemoryStore) getOrCreate(principal string) *Balance {
	bal, ok := m.balances[principal]
	if !ok {
		bal = &Balance{
			Principal:      principal,
			Balance:        "0.000000",
			TotalDeposited: "0.000000",
			TotalSpent:     "0.000000",
		}
		m.balances[principal] = bal
	}
	return bal
}

func (m *MemoryStore) Credit(ctx context.Context, principal, amount, txHash, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bal := m.getOrCreate(principal)

	bal.TotalDeposited = usdc.Add(bal.TotalDeposited, amount)
	bal.Balance = usdc.Add(bal.Balance, amount)
	bal.UpdatedAt = time.Now()

	m.entries = append(m.entries, &Entry{
		ID:          "entry_" + txHash,
		Principal:   principal,
		Type:        "deposit",
		Amount:      amount,
		TxHash:      txHash,
		Description: description,
		CreatedAt:   time.Now(),
	})

	m.deposits[txHash] = true

	return nil
}

func (m *MemoryStore) Debit(ctx context.Context, principal, amount, reference, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bal, ok := m.balances[principal]
	if !ok {
		return ErrPrincipalNotFound
	}

	if usdc.Cmp(bal.Balance, amount) < 0 {
		return ErrInsufficientBalance
	}

	bal.Balance = usdc.Sub(bal.Balance, amount)
	bal.TotalSpent = usdc.Add(bal.TotalSpent, amount)
	bal.UpdatedAt = time.Now()

	m.entries = append(m.entries, &Entry{
		ID:          "entry_spend_" + reference,
		Principal:   principal,
		Type:        "spend",
		Amount:      amount,
		Reference:   reference,
		Description: description,
		CreatedAt:   time.Now(),
	})

	return nil
}

func (m *MemoryStore) Refund(ctx context.Context, principal, amount, reference, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Idempotency: prevent duplicate refunds for the same reference
	refundKey := principal + ":" + reference
	if m.refunds[refundKey] {
		return ErrDuplicateRefund
	}

	bal, ok := m.balances[principal]
	if !ok {
		return ErrPrincipalNotFound
	}

	// A refund reverses a prior debit exactly, so spent cannot go negative
	// unless the caller refunds something never debited. Cap to be safe.
	if usdc.Cmp(bal.TotalSpent, amount) < 0 {
		amount = bal.TotalSpent
	}

	bal.Balance = usdc.Add(bal.Balance, amount)
	bal.TotalSpent = usdc.Sub(bal.TotalSpent, amount)
	bal.UpdatedAt = time.Now()

	m.refunds[refundKey] = true

	m.entries = append(m.entries, &Entry{
		ID:          "entry_refund_" + reference,
		Principal:   principal,
		Type:        "refund",
		Amount:      amount,
		Reference:   reference,
		Description: description,
		CreatedAt:   time.Now(),
	})

	return nil
}

func (m *MemoryStore) GetHistory(ctx context.Context, principal string, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Entry
	for i := len(m.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if m.entries[i].Principal == principal {
			result = append(result, m.entries[i])
		}
	}
	return result, nil
}

func (m *MemoryStore) HasDeposit(ctx context.Context, txHash string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.deposits[txHash], nil
}
