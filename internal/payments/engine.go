package payments

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/toolgate-io/toolgate/internal/idgen"
	"github.com/toolgate-io/toolgate/internal/metrics"
	"github.com/toolgate-io/toolgate/internal/syncutil"
	"github.com/toolgate-io/toolgate/internal/traces"
	"github.com/toolgate-io/toolgate/internal/usdc"
)

// DefaultConfirmTimeout bounds how long a settlement waits for the on-chain
// transfer to be mined before refunding the payer.
const DefaultConfirmTimeout = 90 * time.Second

// LedgerService abstracts balance mutations so payments doesn't import ledger.
type LedgerService interface {
	CurrentBalance(ctx context.Context, principal string) (string, error)
	Spend(ctx context.Context, principal, amount, reference string) error
	Refund(ctx context.Context, principal, amount, reference string) error
}

// ShortfallError reports an approval blocked by an underfunded balance,
// with the exact amount the payer still needs to deposit.
type ShortfallError struct {
	Required  string `json:"required"`
	Balance   string `json:"balance"`
	Shortfall string `json:"shortfall"`
}

func (e *ShortfallError) Error() string {
	return fmt.Sprintf("insufficient balance: have %s, need %s, short %s",
		e.Balance, e.Required, e.Shortfall)
}

// Settler moves USDC on-chain.
type Settler interface {
	Transfer(ctx context.Context, to, amount string) (txHash string, err error)
	WaitForConfirmation(ctx context.Context, txHash string, timeout time.Duration) error
}

// Engine settles approved payments: debit the payer's balance, send USDC to
// the payee wallet, wait for confirmation. Every failure after the debit
// refunds it before the transaction is marked failed.
type Engine struct {
	store          Store
	ledger         LedgerService
	settler        Settler
	confirmTimeout time.Duration
	locks          *syncutil.ContextShardedMutex
}

// NewEngine creates a settlement engine.
func NewEngine(store Store, ledger LedgerService, settler Settler, confirmTimeout time.Duration) *Engine {
	if confirmTimeout <= 0 {
		confirmTimeout = DefaultConfirmTimeout
	}
	return &Engine{
		store:          store,
		ledger:         ledger,
		settler:        settler,
		confirmTimeout: confirmTimeout,
		locks:          syncutil.NewContextShardedMutex(),
	}
}

// Approve settles a pending payment on behalf of its payer. On success the
// transaction is completed and its ID can be used once as a payment
// reference. An underfunded payer gets a ShortfallError before any state
// changes.
func (e *Engine) Approve(ctx context.Context, paymentID, payer string) (*Transaction, error) {
	ctx, span := traces.StartSpan(ctx, "payments.Approve",
		traces.PaymentID(paymentID),
		traces.Payer(payer),
	)
	defer span.End()

	// Settlement can hold this lock for the full confirmation wait, so a
	// caller queued behind it must be able to give up with its context.
	unlock, err := e.locks.LockContext(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	tx, err := e.store.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	if strings.ToLower(payer) != tx.Payer {
		return nil, ErrNotOwner
	}
	if tx.Status != StatusPending {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStatus, tx.Status)
	}

	balance, err := e.ledger.CurrentBalance(ctx, tx.Payer)
	if err != nil {
		return nil, fmt.Errorf("failed to read payer balance: %w", err)
	}
	if usdc.Cmp(balance, tx.Amount) < 0 {
		return nil, &ShortfallError{
			Required:  tx.Amount,
			Balance:   balance,
			Shortfall: usdc.Sub(tx.Amount, balance),
		}
	}

	start := time.Now()

	// Debit first. A shortfall here leaves everything untouched. Each debit
	// attempt carries its own reference so a retried approval can never have
	// its refund rejected as a duplicate of an earlier attempt's.
	attempt := idgen.WithPrefix(tx.ID + ".")
	if err := e.ledger.Spend(ctx, tx.Payer, tx.Amount, attempt); err != nil {
		return nil, fmt.Errorf("failed to debit payer: %w", err)
	}

	// The payer has been debited. Settlement must run to a terminal state
	// even if the caller hangs up, or the transfer could confirm on-chain
	// after the payer was already refunded.
	sctx := context.WithoutCancel(ctx)

	now := time.Now()
	tx.Status = StatusProcessing
	tx.SubmittedAt = &now
	if err := e.store.Update(sctx, tx); err != nil {
		e.refund(sctx, tx, attempt)
		return nil, fmt.Errorf("failed to mark payment processing: %w", err)
	}

	txHash, err := e.settler.Transfer(sctx, tx.PayeeWallet, tx.Amount)
	if err != nil {
		e.refund(sctx, tx, attempt)
		return e.fail(sctx, tx, fmt.Sprintf("transfer failed: %v", err))
	}
	tx.TxHash = txHash

	if err := e.settler.WaitForConfirmation(sctx, txHash, e.confirmTimeout); err != nil {
		e.refund(sctx, tx, attempt)
		return e.fail(sctx, tx, fmt.Sprintf("confirmation failed: %v", err))
	}

	completed := time.Now()
	tx.Status = StatusCompleted
	tx.CompletedAt = &completed
	if err := e.store.Update(sctx, tx); err != nil {
		// Retry once: funds already moved on-chain, we must persist the state.
		if retryErr := e.store.Update(sctx, tx); retryErr != nil {
			// CRITICAL: USDC was sent but the payment record is stale. The
			// transfer cannot be reversed, so log for manual resolution.
			log.Printf("CRITICAL: payment %s settled on-chain (tx %s) but status update failed: %v",
				tx.ID, tx.TxHash, retryErr)
			return nil, fmt.Errorf("failed to update payment after settlement (requires manual resolution): %w", err)
		}
	}

	metrics.PaymentsTotal.WithLabelValues(string(StatusCompleted)).Inc()
	metrics.SettlementDuration.Observe(time.Since(start).Seconds())
	return tx, nil
}

// fail records a settlement failure. The debit has already been refunded.
func (e *Engine) fail(ctx context.Context, tx *Transaction, reason string) (*Transaction, error) {
	now := time.Now()
	tx.Status = StatusFailed
	tx.Error = reason
	tx.CompletedAt = &now
	if err := e.store.Update(ctx, tx); err != nil {
		log.Printf("CRITICAL: payment %s failed (%s) but status update failed: %v", tx.ID, reason, err)
	}
	metrics.PaymentsTotal.WithLabelValues(string(StatusFailed)).Inc()
	return nil, fmt.Errorf("payment settlement failed: %s", reason)
}

// refund reverses one debit attempt. The refund store rejects duplicate
// references, so replaying the same attempt is harmless.
func (e *Engine) refund(ctx context.Context, tx *Transaction, attempt string) {
	if err := e.ledger.Refund(ctx, tx.Payer, tx.Amount, attempt); err != nil {
		log.Printf("CRITICAL: payment %s refund of %s to %s failed: %v", tx.ID, tx.Amount, tx.Payer, err)
	}
}

// Expire marks a pending payment as expired. Returns false when the payment
// already moved past pending. The per-payment lock prevents racing an
// in-flight approval.
func (e *Engine) Expire(ctx context.Context, id string) (bool, error) {
	unlock, err := e.locks.LockContext(ctx, id)
	if err != nil {
		return false, err
	}
	defer unlock()

	tx, err := e.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if tx.Status != StatusPending {
		return false, nil
	}

	tx.Status = StatusExpired
	if err := e.store.Update(ctx, tx); err != nil {
		return false, err
	}
	return true, nil
}

// Get returns a payment by ID.
func (e *Engine) Get(ctx context.Context, id string) (*Transaction, error) {
	return e.store.Get(ctx, id)
}

// ListByPayer returns a payer's payments, newest first.
func (e *Engine) ListByPayer(ctx context.Context, payer string, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	return e.store.ListByPayer(ctx, strings.ToLower(payer), limit)
}
