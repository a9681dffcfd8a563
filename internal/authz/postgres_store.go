package authz

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresStore persists the issuance ledger in PostgreSQL. The primary key
// on nonce makes Reserve an atomic insert-if-absent.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed issuance ledger.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the issued_nonces table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS issued_nonces (
			nonce       VARCHAR(34) PRIMARY KEY,
			actor       VARCHAR(42) NOT NULL,
			service_id  VARCHAR(128) NOT NULL,
			gross       NUMERIC(20,6) NOT NULL,
			net         NUMERIC(20,6) NOT NULL,
			deadline    TIMESTAMPTZ NOT NULL,
			status      VARCHAR(10) NOT NULL DEFAULT 'issued'
			            CHECK (status IN ('issued', 'spent', 'expired')),
			issued_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_issued_nonces_expirable
			ON issued_nonces (deadline) WHERE status = 'issued';
	`)
	return err
}

func (s *PostgresStore) Reserve(ctx context.Context, n *IssuedNonce) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO issued_nonces (nonce, actor, service_id, gross, net, deadline, status, issued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (nonce) DO NOTHING
	`, n.Nonce, n.Actor, n.ServiceID, n.Gross, n.Net, n.Deadline, string(n.Status), n.IssuedAt)
	if err != nil {
		return fmt.Errorf("failed to reserve nonce: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to reserve nonce: %w", err)
	}
	if rows == 0 {
		return ErrNonceCollision
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, nonce string) (*IssuedNonce, error) {
	var n IssuedNonce
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT nonce, actor, service_id, gross::TEXT, net::TEXT, deadline, status, issued_at
		FROM issued_nonces WHERE nonce = $1
	`, nonce).Scan(&n.Nonce, &n.Actor, &n.ServiceID, &n.Gross, &n.Net, &n.Deadline, &status, &n.IssuedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNonceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}
	n.Status = Status(status)
	return &n, nil
}

func (s *PostgresStore) ListExpirable(ctx context.Context, cutoff time.Time, limit int) ([]*IssuedNonce, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT nonce, actor, service_id, gross::TEXT, net::TEXT, deadline, status, issued_at
		FROM issued_nonces
		WHERE status = 'issued' AND deadline < $1
		ORDER BY deadline
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expirable nonces: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*IssuedNonce
	for rows.Next() {
		var n IssuedNonce
		var status string
		if err := rows.Scan(&n.Nonce, &n.Actor, &n.ServiceID, &n.Gross, &n.Net, &n.Deadline, &status, &n.IssuedAt); err != nil {
			return nil, err
		}
		n.Status = Status(status)
		result = append(result, &n)
	}
	return result, rows.Err()
}

func (s *PostgresStore) Finalize(ctx context.Context, nonce string, status Status) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE issued_nonces SET status = $2 WHERE nonce = $1 AND status = 'issued'
	`, nonce, string(status))
	if err != nil {
		return fmt.Errorf("failed to finalize nonce: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to finalize nonce: %w", err)
	}
	if rows == 0 {
		if _, err := s.Get(ctx, nonce); err != nil {
			return err
		}
		return ErrNotIssued
	}
	return nil
}
