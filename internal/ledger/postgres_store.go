package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/toolgate-io/toolgate/internal/idgen"
)

// PostgresStore implements Store with PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the ledger tables with NUMERIC columns
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS balances (
			principal       VARCHAR(42) PRIMARY KEY,
			balance         NUMERIC(20,6) NOT NULL DEFAULT 0,
			total_deposited NUMERIC(20,6) NOT NULL DEFAULT 0,
			total_spent     NUMERIC(20,6) NOT NULL DEFAULT 0,
			updated_at      TIMESTAMPTZ DEFAULT NOW(),
			CONSTRAINT chk_balance_nonneg   CHECK (balance >= 0),
			CONSTRAINT chk_deposited_nonneg CHECK (total_deposited >= 0),
			CONSTRAINT chk_spent_nonneg     CHECK (total_spent >= 0)
		);

		CREATE TABLE IF NOT EXISTS ledger_entries (
			id          VARCHAR(36) PRIMARY KEY,
			principal   VARCHAR(42) NOT NULL,
			type        VARCHAR(20) NOT NULL,
			amount      NUMERIC(20,6) NOT NULL,
			tx_hash     VARCHAR(66),
			reference   VARCHAR(255),
			description TEXT,
			created_at  TIMESTAMPTZ DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_ledger_principal ON ledger_entries(principal);
		CREATE INDEX IF NOT EXISTS idx_ledger_tx ON ledger_entries(tx_hash);
		CREATE INDEX IF NOT EXISTS idx_ledger_created ON ledger_entries(created_at DESC);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_refund_once
			ON ledger_entries(principal, reference) WHERE type = 'refund';
	`)
	return err
}

// GetBalance retrieves a principal's balance
func (p *PostgresStore) GetBalance(ctx context.Context, principal string) (*Balance, error) {
	bal := &Balance{Principal: principal}

	err := p.db.QueryRowContext(ctx, `
		SELECT balance, total_deposited, total_spent, updated_at
		FROM balances WHERE principal = $1
	`, principal).Scan(&bal.Balance, &bal.TotalDeposited, &bal.TotalSpent, &bal.UpdatedAt)

	if err == sql.ErrNoRows {
		return &Balance{
			Principal:      principal,
			Balance:        "0",
			TotalDeposited: "0",
			TotalSpent:     "0",
			UpdatedAt:      time.Now(),
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return bal, nil
}

// Credit adds funds to a principal's balance
func (p *PostgresStore) Credit(ctx context.Context, principal, amount, txHash, description string) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Upsert balance using native NUMERIC arithmetic
	_, err = tx.ExecContext(ctx, `
		INSERT INTO balances (principal, balance, total_deposited, updated_at)
		VALUES ($1, $2::NUMERIC(20,6), $2::NUMERIC(20,6), NOW())
		ON CONFLICT (principal) DO UPDATE SET
			balance         = balances.balance         + $2::NUMERIC(20,6),
			total_deposited = balances.total_deposited + $2::NUMERIC(20,6),
			updated_at      = NOW()
	`, principal, amount)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}

	// Record entry
	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, principal, type, amount, tx_hash, description, created_at)
		VALUES ($1, $2, 'deposit', $3::NUMERIC(20,6), $4, $5, NOW())
	`, idgen.New(), principal, amount, txHash, description)
	if err != nil {
		return fmt.Errorf("failed to record entry: %w", err)
	}

	return tx.Commit()
}

// Debit removes funds from a principal's balance.
// The CHECK constraint on balance >= 0 prevents overdraft at the DB level.
func (p *PostgresStore) Debit(ctx context.Context, principal, amount, reference, description string) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Lock the row and verify sufficient balance in one atomic step.
	// The CHECK constraint (balance >= 0) will cause this to fail
	// if the debit would overdraw the account.
	result, err := tx.ExecContext(ctx, `
		UPDATE balances SET
			balance     = balance     - $2::NUMERIC(20,6),
			total_spent = total_spent + $2::NUMERIC(20,6),
			updated_at  = NOW()
		WHERE principal = $1
	`, principal, amount)
	if err != nil {
		// A concurrent debit can slip past the caller's balance pre-check,
		// in which case the overdraft surfaces as a CHECK violation here.
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23514" {
			return ErrInsufficientBalance
		}
		return fmt.Errorf("failed to update balance: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrPrincipalNotFound
	}

	// Record entry
	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, principal, type, amount, reference, description, created_at)
		VALUES ($1, $2, 'spend', $3::NUMERIC(20,6), $4, $5, NOW())
	`, idgen.New(), principal, amount, reference, description)
	if err != nil {
		return fmt.Errorf("failed to record entry: %w", err)
	}

	return tx.Commit()
}

// Refund credits back funds to a principal's balance (reverses a failed debit).
// The partial unique index on refund entries makes a second refund for the
// same reference fail, keeping refunds idempotent under races.
func (p *PostgresStore) Refund(ctx context.Context, principal, amount, reference, description string) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Record refund entry first so the unique index rejects duplicates
	// before any balance mutation.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, principal, type, amount, reference, description, created_at)
		VALUES ($1, $2, 'refund', $3::NUMERIC(20,6), $4, $5, NOW())
	`, idgen.New(), principal, amount, reference, description)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrDuplicateRefund
		}
		return fmt.Errorf("failed to record entry: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE balances SET
			balance     = balance     + $2::NUMERIC(20,6),
			total_spent = total_spent - $2::NUMERIC(20,6),
			updated_at  = NOW()
		WHERE principal = $1
	`, principal, amount)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrPrincipalNotFound
	}

	return tx.Commit()
}

// GetHistory returns the most recent ledger entries for a principal
func (p *PostgresStore) GetHistory(ctx context.Context, principal string, limit int) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, principal, type, amount, COALESCE(tx_hash, ''), COALESCE(reference, ''), COALESCE(description, ''), created_at
		FROM ledger_entries
		WHERE principal = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, principal, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(&e.ID, &e.Principal, &e.Type, &e.Amount, &e.TxHash, &e.Reference, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// HasDeposit reports whether a deposit with the given tx hash was already credited
func (p *PostgresStore) HasDeposit(ctx context.Context, txHash string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM ledger_entries WHERE tx_hash = $1 AND type = 'deposit'
		)
	`, txHash).Scan(&exists)
	return exists, err
}
