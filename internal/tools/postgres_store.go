package tools

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore implements Store with PostgreSQL. Params and headers are
// stored as JSONB.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed descriptor store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, d *Descriptor) error {
	params, headers, err := marshalFields(d)
	if err != nil {
		return err
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO tool_descriptors (id, tenant, name, description, url, method, params, headers, timeout_secs, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, d.ID, d.Tenant, d.Name, d.Description, d.URL, d.Method, params, headers, d.TimeoutSecs, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrDuplicateName
		}
		return fmt.Errorf("failed to create tool: %w", err)
	}
	return nil
}

func (p *PostgresStore) Update(ctx context.Context, d *Descriptor) error {
	params, headers, err := marshalFields(d)
	if err != nil {
		return err
	}

	result, err := p.db.ExecContext(ctx, `
		UPDATE tool_descriptors SET
			tenant = $2, name = $3, description = $4, url = $5, method = $6,
			params = $7, headers = $8, timeout_secs = $9, updated_at = $10
		WHERE id = $1
	`, d.ID, d.Tenant, d.Name, d.Description, d.URL, d.Method, params, headers, d.TimeoutSecs, d.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrDuplicateName
		}
		return fmt.Errorf("failed to update tool: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrToolNotFound
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, `DELETE FROM tool_descriptors WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete tool: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrToolNotFound
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Descriptor, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, tenant, name, COALESCE(description, ''), url, method, params, headers, timeout_secs, created_at, updated_at
		FROM tool_descriptors WHERE id = $1
	`, id)
	return scanDescriptor(row)
}

func (p *PostgresStore) GetByName(ctx context.Context, tenant, name string) (*Descriptor, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, tenant, name, COALESCE(description, ''), url, method, params, headers, timeout_secs, created_at, updated_at
		FROM tool_descriptors WHERE tenant = $1 AND name = $2
	`, tenant, name)
	return scanDescriptor(row)
}

func (p *PostgresStore) ListByTenant(ctx context.Context, tenant string) ([]*Descriptor, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, tenant, name, COALESCE(description, ''), url, method, params, headers, timeout_secs, created_at, updated_at
		FROM tool_descriptors WHERE tenant = $1 ORDER BY name
	`, tenant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Descriptor
	for rows.Next() {
		d, err := scanDescriptor(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func marshalFields(d *Descriptor) ([]byte, []byte, error) {
	params, err := json.Marshal(d.Params)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal params: %w", err)
	}
	headers := d.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	headersJSON, err := json.Marshal(headers)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal headers: %w", err)
	}
	return params, headersJSON, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDescriptor(row rowScanner) (*Descriptor, error) {
	d := &Descriptor{}
	var params, headers []byte
	err := row.Scan(&d.ID, &d.Tenant, &d.Name, &d.Description, &d.URL, &d.Method,
		&params, &headers, &d.TimeoutSecs, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrToolNotFound
	}
	if err != nil {
		return nil, err
	}

	if len(params) > 0 {
		if err := json.Unmarshal(params, &d.Params); err != nil {
			return nil, fmt.Errorf("failed to unmarshal params: %w", err)
		}
	}
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &d.Headers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal headers: %w", err)
		}
	}
	return d, nil
}
