package payments

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists payment transactions in PostgreSQL. A partial
// unique index on (payer, tool_id) over non-terminal statuses enforces the
// one-active-payment rule at the database level.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed payment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, tx *Transaction) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO payment_transactions (
			id, payer, payee_wallet, tool_id, amount, status,
			tx_hash, error, consumed_at, created_at, submitted_at, completed_at
		) VALUES (
			$1, $2, $3, $4, $5::NUMERIC(20,6), $6,
			$7, $8, $9, $10, $11, $12
		)`,
		tx.ID, tx.Payer, tx.PayeeWallet, tx.ToolID, tx.Amount, string(tx.Status),
		nullString(tx.TxHash), nullString(tx.Error), nullTime(tx.ConsumedAt),
		tx.CreatedAt, nullTime(tx.SubmittedAt), nullTime(tx.CompletedAt),
	)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return ErrDuplicatePending
	}
	return err
}

const paymentColumns = `id, payer, payee_wallet, tool_id, amount, status,
		       tx_hash, error, consumed_at, created_at, submitted_at, completed_at`

func (p *PostgresStore) Get(ctx context.Context, id string) (*Transaction, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payment_transactions WHERE id = $1`, id)

	tx, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, ErrPaymentNotFound
	}
	return tx, err
}

func (p *PostgresStore) Update(ctx context.Context, tx *Transaction) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE payment_transactions SET
			status = $1, tx_hash = $2, error = $3,
			consumed_at = $4, submitted_at = $5, completed_at = $6
		WHERE id = $7`,
		string(tx.Status), nullString(tx.TxHash), nullString(tx.Error),
		nullTime(tx.ConsumedAt), nullTime(tx.SubmittedAt), nullTime(tx.CompletedAt),
		tx.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

// Consume atomically marks a completed payment as used. The WHERE clause is
// the compare-and-swap: a second consumer matches zero rows.
func (p *PostgresStore) Consume(ctx context.Context, id string, at time.Time) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE payment_transactions
		SET consumed_at = $1
		WHERE id = $2 AND status = 'completed' AND consumed_at IS NULL`,
		at, id,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 1 {
		return nil
	}

	// Distinguish why the CAS missed.
	tx, err := p.Get(ctx, id)
	if err != nil {
		return err
	}
	if tx.ConsumedAt != nil {
		return ErrAlreadyConsumed
	}
	return ErrInvalidStatus
}

func (p *PostgresStore) FindActive(ctx context.Context, payer, toolID string) (*Transaction, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payment_transactions
		WHERE payer = $1 AND tool_id = $2 AND status IN ('pending', 'processing')
		LIMIT 1`, payer, toolID)

	tx, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, ErrPaymentNotFound
	}
	return tx, err
}

func (p *PostgresStore) ListByPayer(ctx context.Context, payer string, limit int) ([]*Transaction, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payment_transactions
		WHERE payer = $1
		ORDER BY created_at DESC
		LIMIT $2`, payer, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanTransactions(rows)
}

func (p *PostgresStore) ListStalePending(ctx context.Context, before time.Time, limit int) ([]*Transaction, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payment_transactions
		WHERE status = 'pending' AND created_at < $1
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanTransactions(rows)
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(s scanner) (*Transaction, error) {
	tx := &Transaction{}
	var (
		status      string
		txHash      sql.NullString
		errMsg      sql.NullString
		consumedAt  sql.NullTime
		submittedAt sql.NullTime
		completedAt sql.NullTime
	)

	err := s.Scan(
		&tx.ID, &tx.Payer, &tx.PayeeWallet, &tx.ToolID, &tx.Amount, &status,
		&txHash, &errMsg, &consumedAt, &tx.CreatedAt, &submittedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	tx.Status = Status(status)
	tx.TxHash = txHash.String
	tx.Error = errMsg.String
	if consumedAt.Valid {
		tx.ConsumedAt = &consumedAt.Time
	}
	if submittedAt.Valid {
		tx.SubmittedAt = &submittedAt.Time
	}
	if completedAt.Valid {
		tx.CompletedAt = &completedAt.Time
	}
	return tx, nil
}

func scanTransactions(rows *sql.Rows) ([]*Transaction, error) {
	var result []*Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, tx)
	}
	return result, rows.Err()
}

// nullString converts an empty Go string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullTime converts a *time.Time to sql.NullTime.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
