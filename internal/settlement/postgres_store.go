package settlement

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// PostgresSpendStore persists the spend ledger in PostgreSQL. The primary
// key on nonce makes MarkSpent a single conditional insert.
type PostgresSpendStore struct {
	db *sql.DB
}

// NewPostgresSpendStore creates a PostgreSQL-backed spend ledger.
func NewPostgresSpendStore(db *sql.DB) *PostgresSpendStore {
	return &PostgresSpendStore{db: db}
}

// Migrate creates the spent_nonces table if it doesn't exist.
func (s *PostgresSpendStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS spent_nonces (
			nonce         VARCHAR(34) PRIMARY KEY,
			spent_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			retain_until  TIMESTAMPTZ NOT NULL
		);
	`)
	return err
}

func (s *PostgresSpendStore) MarkSpent(ctx context.Context, nonce string, retainUntil time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO spent_nonces (nonce, retain_until)
		VALUES ($1, $2)
		ON CONFLICT (nonce) DO NOTHING
	`, strings.ToLower(nonce), retainUntil)
	if err != nil {
		return false, fmt.Errorf("failed to mark nonce spent: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to mark nonce spent: %w", err)
	}
	return rows == 1, nil
}

func (s *PostgresSpendStore) Release(ctx context.Context, nonce string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM spent_nonces WHERE nonce = $1`, strings.ToLower(nonce))
	if err != nil {
		return fmt.Errorf("failed to release nonce: %w", err)
	}
	return nil
}

func (s *PostgresSpendStore) IsSpent(ctx context.Context, nonce string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM spent_nonces WHERE nonce = $1)`, strings.ToLower(nonce),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check nonce: %w", err)
	}
	return exists, nil
}

var _ SpendStore = (*PostgresSpendStore)(nil)
