package pricing

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore implements Store with PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed price store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Set(ctx context.Context, price *Price) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO tool_pricing (tool_id, amount, payee_wallet, updated_at)
		VALUES ($1, $2::NUMERIC(20,6), $3, $4)
		ON CONFLICT (tool_id) DO UPDATE SET
			amount       = $2::NUMERIC(20,6),
			payee_wallet = $3,
			updated_at   = $4
	`, price.ToolID, price.Amount, price.PayeeWallet, price.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to set price: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, toolID string) (*Price, error) {
	price := &Price{ToolID: toolID}
	err := p.db.QueryRowContext(ctx, `
		SELECT amount, payee_wallet, updated_at FROM tool_pricing WHERE tool_id = $1
	`, toolID).Scan(&price.Amount, &price.PayeeWallet, &price.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotPriced
	}
	if err != nil {
		return nil, err
	}
	return price, nil
}

func (p *PostgresStore) Delete(ctx context.Context, toolID string) error {
	result, err := p.db.ExecContext(ctx, `DELETE FROM tool_pricing WHERE tool_id = $1`, toolID)
	if err != nil {
		return fmt.Errorf("failed to delete price: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotPriced
	}
	return nil
}
