package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/toolgate-io/toolgate/internal/idgen"
	"github.com/toolgate-io/toolgate/internal/syncutil"
	"github.com/toolgate-io/toolgate/internal/usdc"
)

// PriceSource reports what a tool costs. A tool without a price returns
// empty strings: free to call.
type PriceSource interface {
	PriceFor(ctx context.Context, toolID string) (amount, payeeWallet string, err error)
}

// BalanceSource reads payer balances so the gate doesn't import ledger.
type BalanceSource interface {
	CurrentBalance(ctx context.Context, principal string) (string, error)
}

// Gate decides whether a tool invocation may proceed. Free tools always
// pass. Paid tools pass only with a completed, unused payment reference;
// otherwise the gate surfaces a pending payment the caller can approve.
type Gate struct {
	store    Store
	prices   PriceSource
	balances BalanceSource
	locks    syncutil.ShardedMutex
}

// NewGate creates a payment gate.
func NewGate(store Store, prices PriceSource, balances BalanceSource) *Gate {
	return &Gate{
		store:    store,
		prices:   prices,
		balances: balances,
	}
}

// Check evaluates one invocation attempt. reference is the caller-supplied
// payment ID, empty when none was given. A nil error with Proceed false
// means the call is blocked and Details (when set) tells the caller how to
// pay.
func (g *Gate) Check(ctx context.Context, toolID, payer, reference string) (*GateResult, error) {
	amount, payeeWallet, err := g.prices.PriceFor(ctx, toolID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up tool price: %w", err)
	}
	if amount == "" {
		return &GateResult{Proceed: true}, nil
	}

	payer = strings.ToLower(payer)
	if reference != "" {
		return g.checkReference(ctx, toolID, payer, reference)
	}
	return g.requirePayment(ctx, toolID, payer, amount, payeeWallet)
}

// checkReference validates and consumes a caller-supplied payment ID.
func (g *Gate) checkReference(ctx context.Context, toolID, payer, reference string) (*GateResult, error) {
	tx, err := g.store.Get(ctx, reference)
	if errors.Is(err, ErrPaymentNotFound) {
		return &GateResult{Message: "Unknown payment reference"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up payment: %w", err)
	}

	if tx.Payer != payer || tx.ToolID != toolID {
		// Do not leak whose payment it is or what it was for.
		return &GateResult{Message: "Payment reference does not match this caller and tool"}, nil
	}

	switch tx.Status {
	case StatusCompleted:
		if err := g.store.Consume(ctx, tx.ID, time.Now()); err != nil {
			if errors.Is(err, ErrAlreadyConsumed) {
				return &GateResult{Message: "Payment reference already used"}, nil
			}
			return nil, fmt.Errorf("failed to consume payment: %w", err)
		}
		return &GateResult{Proceed: true, Details: g.details(ctx, tx)}, nil

	case StatusPending:
		return &GateResult{
			Details: g.details(ctx, tx),
			Message: "Payment has not been approved yet",
		}, nil

	case StatusProcessing:
		return &GateResult{
			Details: g.details(ctx, tx),
			Message: "Payment is still settling",
		}, nil

	case StatusExpired:
		return &GateResult{
			Details: g.details(ctx, tx),
			Message: "Payment expired, create a new one",
		}, nil

	default: // failed
		return &GateResult{
			Details: g.details(ctx, tx),
			Message: "Payment failed, create a new one",
		}, nil
	}
}

// requirePayment finds or creates the single active payment for this
// (payer, tool) pair and reports it as payment-required details.
func (g *Gate) requirePayment(ctx context.Context, toolID, payer, amount, payeeWallet string) (*GateResult, error) {
	unlock := g.locks.Lock(payer + "|" + toolID)
	defer unlock()

	tx, err := g.store.FindActive(ctx, payer, toolID)
	if err != nil && !errors.Is(err, ErrPaymentNotFound) {
		return nil, fmt.Errorf("failed to look up active payment: %w", err)
	}

	if tx == nil {
		tx = &Transaction{
			ID:          idgen.WithPrefix("pay_"),
			Payer:       payer,
			PayeeWallet: payeeWallet,
			ToolID:      toolID,
			Amount:      amount,
			Status:      StatusPending,
			CreatedAt:   time.Now(),
		}
		if err := g.store.Create(ctx, tx); err != nil {
			// Lost a race with a concurrent caller, reuse theirs.
			if errors.Is(err, ErrDuplicatePending) {
				tx, err = g.store.FindActive(ctx, payer, toolID)
			}
			if err != nil {
				return nil, fmt.Errorf("failed to create payment: %w", err)
			}
		}
	}

	return &GateResult{
		Details: g.details(ctx, tx),
		Message: "Payment required",
	}, nil
}

// details builds caller-facing payment details including balance state.
// Balance lookup failures degrade to an unknown balance rather than
// failing the whole check.
func (g *Gate) details(ctx context.Context, tx *Transaction) *Details {
	d := &Details{
		PaymentID:   tx.ID,
		Amount:      tx.Amount,
		PayeeWallet: tx.PayeeWallet,
		Status:      tx.Status,
	}

	balance, err := g.balances.CurrentBalance(ctx, tx.Payer)
	if err != nil {
		return d
	}
	d.PayerBalance = balance

	bal, okB := usdc.Parse(balance)
	amt, okA := usdc.Parse(tx.Amount)
	if okB && okA {
		d.SufficientBalance = bal.Cmp(amt) >= 0
	}
	return d
}
