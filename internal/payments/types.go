// Package payments gates paid tool calls behind prepaid USDC balances.
//
// Flow:
//  1. Caller invokes a paid tool without a payment reference → a pending
//     transaction is created and returned as payment-required details
//  2. Caller approves the payment → balance debited, funds sent on-chain
//  3. Transfer confirms → transaction completed, reference becomes usable
//  4. Caller retries the tool with the reference → consumed, call proceeds
//  5. Anything fails mid-settlement → debit refunded, transaction failed
package payments

import (
	"context"
	"errors"
	"time"
)

var (
	ErrPaymentNotFound  = errors.New("payment not found")
	ErrDuplicatePending = errors.New("payer already has an active payment for this tool")
	ErrInvalidStatus    = errors.New("invalid payment status for this operation")
	ErrNotOwner         = errors.New("payment belongs to another payer")
	ErrAlreadyConsumed  = errors.New("payment reference already used")
)

// Status represents the state of a payment transaction.
type Status string

const (
	StatusPending    Status = "pending"    // Created, awaiting approval
	StatusProcessing Status = "processing" // Balance debited, on-chain transfer in flight
	StatusCompleted  Status = "completed"  // Transfer confirmed, reference usable once
	StatusFailed     Status = "failed"     // Settlement failed, debit refunded
	StatusExpired    Status = "expired"    // Pending too long, swept by the timer
)

// Transaction represents a payment for a single tool call.
type Transaction struct {
	ID          string     `json:"id"`
	Payer       string     `json:"payer"`
	PayeeWallet string     `json:"payee_wallet"`
	ToolID      string     `json:"tool_id"`
	Amount      string     `json:"amount"`
	Status      Status     `json:"status"`
	TxHash      string     `json:"tx_hash,omitempty"`
	Error       string     `json:"error,omitempty"`
	ConsumedAt  *time.Time `json:"consumed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsTerminal returns true if the transaction is in a final state.
func (t *Transaction) IsTerminal() bool {
	switch t.Status {
	case StatusCompleted, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// Store persists payment transactions.
//
// Create must reject a second non-terminal transaction for the same
// (payer, tool) pair with ErrDuplicatePending. Consume must atomically mark
// a completed transaction as used exactly once.
type Store interface {
	Create(ctx context.Context, tx *Transaction) error
	Get(ctx context.Context, id string) (*Transaction, error)
	Update(ctx context.Context, tx *Transaction) error
	Consume(ctx context.Context, id string, at time.Time) error
	FindActive(ctx context.Context, payer, toolID string) (*Transaction, error)
	ListByPayer(ctx context.Context, payer string, limit int) ([]*Transaction, error)
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]*Transaction, error)
}

// Details describes what a caller must pay to run a tool. It is returned
// alongside a blocked invocation so clients can fund and approve the payment.
type Details struct {
	PaymentID         string `json:"payment_id"`
	Amount            string `json:"amount"`
	PayeeWallet       string `json:"payee_wallet"`
	PayerBalance      string `json:"payer_balance"`
	SufficientBalance bool   `json:"sufficient_balance"`
	Status            Status `json:"status"`
}

// GateResult is the gate's decision for a single invocation attempt.
type GateResult struct {
	Proceed bool
	Details *Details
	Message string
}
