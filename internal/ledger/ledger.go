// Package ledger tracks principal balances on the platform.
//
// Flow:
//  1. Caller deposits USDC to the platform wallet on-chain
//  2. Platform verifies the receipt and credits the caller's balance
//  3. Tool payments debit the balance
//  4. Failed settlements refund the debit exactly
//
// Every balance holds current = deposited - spent, and current never
// goes negative.
package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/toolgate-io/toolgate/internal/usdc"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrPrincipalNotFound   = errors.New("principal not found")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrDuplicateDeposit    = errors.New("deposit already processed")
	ErrDuplicateRefund     = errors.New("refund already processed")
)

// Entry represents a ledger entry
type Entry struct {
	ID          string    `json:"id"`
	Principal   string    `json:"principal"`
	Type        string    `json:"type"` // deposit, spend, refund
	Amount      string    `json:"amount"`
	TxHash      string    `json:"tx_hash,omitempty"`
	Reference   string    `json:"reference,omitempty"` // payment ID for spends and refunds
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Balance represents a principal's balance
type Balance struct {
	Principal      string    `json:"principal"`
	Balance        string    `json:"balance"`         // current = deposited - spent
	TotalDeposited string    `json:"total_deposited"` // lifetime deposits
	TotalSpent     string    `json:"total_spent"`     // lifetime spending
	UpdatedAt      time.Time `json:"updated_at"`
}

// Store persists ledger data
type Store interface {
	GetBalance(ctx context.Context, principal string) (*Balance, error)
	Credit(ctx context.Context, principal, amount, txHash, description string) error
	Debit(ctx context.Context, principal, amount, reference, description string) error
	Refund(ctx context.Context, principal, amount, reference, description string) error
	GetHistory(ctx context.Context, principal string, limit int) ([]*Entry, error)
	HasDeposit(ctx context.Context, txHash string) (bool, error)
}

// Ledger manages principal balances
type Ledger struct {
	store Store
}

// New creates a new ledger
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// GetBalance returns a principal's current balance
func (l *Ledger) GetBalance(ctx context.Context, principal string) (*Balance, error) {
	return l.store.GetBalance(ctx, strings.ToLower(principal))
}

// CurrentBalance returns a principal's spendable balance as a USDC string.
// Unknown principals have a zero balance.
func (l *Ledger) CurrentBalance(ctx context.Context, principal string) (string, error) {
	bal, err := l.GetBalance(ctx, principal)
	if err != nil {
		return "", err
	}
	return bal.Balance, nil
}

// Deposit credits a principal's balance after on-chain verification.
// A transaction hash can only be credited once.
func (l *Ledger) Deposit(ctx context.Context, principal, amount, txHash string) error {
	amountBig, ok := usdc.Parse(amount)
	if !ok || amountBig.Sign() <= 0 {
		return ErrInvalidAmount
	}

	exists, err := l.store.HasDeposit(ctx, txHash)
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicateDeposit
	}

	return l.store.Credit(ctx, strings.ToLower(principal), amount, txHash, "deposit")
}

// Spend debits a principal's balance for a tool payment
func (l *Ledger) Spend(ctx context.Context, principal, amount, paymentID string) error {
	amountBig, ok := usdc.Parse(amount)
	if !ok || amountBig.Sign() <= 0 {
		return ErrInvalidAmount
	}

	bal, err := l.store.GetBalance(ctx, strings.ToLower(principal))
	if err != nil {
		return err
	}

	current, _ := usdc.Parse(bal.Balance)
	if current.Cmp(amountBig) < 0 {
		return ErrInsufficientBalance
	}

	return l.store.Debit(ctx, strings.ToLower(principal), amount, paymentID, "tool_payment")
}

// Refund credits back a principal's balance, reversing a prior debit exactly.
// A given payment ID can only be refunded once.
func (l *Ledger) Refund(ctx context.Context, principal, amount, paymentID string) error {
	amountBig, ok := usdc.Parse(amount)
	if !ok || amountBig.Sign() <= 0 {
		return ErrInvalidAmount
	}

	return l.store.Refund(ctx, strings.ToLower(principal), amount, paymentID, "settlement_refund")
}

// CanSpend checks if a principal has sufficient balance
func (l *Ledger) CanSpend(ctx context.Context, principal, amount string) (bool, error) {
	amountBig, ok := usdc.Parse(amount)
	if !ok {
		return false, ErrInvalidAmount
	}

	bal, err := l.store.GetBalance(ctx, strings.ToLower(principal))
	if err != nil {
		return false, err
	}

	current, _ := usdc.Parse(bal.Balance)
	return current.Cmp(amountBig) >= 0, nil
}

// GetHistory returns ledger entries for a principal
func (l *Ledger) GetHistory(ctx context.Context, principal string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.store.GetHistory(ctx, strings.ToLower(principal), limit)
}
