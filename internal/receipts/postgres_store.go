package receipts

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresStore persists receipt data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed receipt store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the receipts table and indexes.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS receipts (
			id           VARCHAR(40) PRIMARY KEY,
			tx_ref       VARCHAR(64) NOT NULL,
			actor        VARCHAR(42) NOT NULL,
			service_id   VARCHAR(128) NOT NULL,
			nonce        VARCHAR(34) NOT NULL UNIQUE,
			gross        NUMERIC(20,6) NOT NULL CHECK (gross > 0),
			fee          NUMERIC(20,6) NOT NULL CHECK (fee >= 0),
			net          NUMERIC(20,6) NOT NULL CHECK (net >= 0),
			received     NUMERIC(38,18) NOT NULL,
			treasury     VARCHAR(42) NOT NULL,
			payload_hash VARCHAR(64) NOT NULL,
			signature    VARCHAR(128) NOT NULL DEFAULT '',
			issued_at    TIMESTAMPTZ NOT NULL,
			expires_at   TIMESTAMPTZ NOT NULL,
			settled_at   TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_receipts_actor ON receipts (actor, settled_at DESC);
		CREATE INDEX IF NOT EXISTS idx_receipts_service_id ON receipts (service_id);
	`)
	return err
}

func (p *PostgresStore) Create(ctx context.Context, r *Receipt) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO receipts (
			id, tx_ref, actor, service_id, nonce,
			gross, fee, net, received, treasury,
			payload_hash, signature, issued_at, expires_at, settled_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6::NUMERIC(20,6), $7::NUMERIC(20,6), $8::NUMERIC(20,6), $9::NUMERIC(38,18), $10,
			$11, $12, $13, $14, $15
		)`,
		r.ID, r.TxRef, r.Actor, r.ServiceID, r.Nonce,
		r.Gross, r.Fee, r.Net, r.Received, r.Treasury,
		r.PayloadHash, r.Signature, r.IssuedAt, r.ExpiresAt, r.SettledAt,
	)
	return err
}

const receiptColumns = `
	id, tx_ref, actor, service_id, nonce,
	gross::TEXT, fee::TEXT, net::TEXT, received::TEXT, treasury,
	payload_hash, signature, issued_at, expires_at, settled_at`

func (p *PostgresStore) Get(ctx context.Context, id string) (*Receipt, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE id = $1`, id)
	r, err := scanReceipt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReceiptNotFound
	}
	return r, err
}

func (p *PostgresStore) GetByNonce(ctx context.Context, nonce string) (*Receipt, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE nonce = $1`, nonce)
	r, err := scanReceipt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReceiptNotFound
	}
	return r, err
}

func (p *PostgresStore) ListByActor(ctx context.Context, actor string, limit int) ([]*Receipt, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+receiptColumns+`
		FROM receipts
		WHERE actor = $1
		ORDER BY settled_at DESC
		LIMIT $2`, actor, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReceipt(sc scanner) (*Receipt, error) {
	r := &Receipt{}
	err := sc.Scan(
		&r.ID, &r.TxRef, &r.Actor, &r.ServiceID, &r.Nonce,
		&r.Gross, &r.Fee, &r.Net, &r.Received, &r.Treasury,
		&r.PayloadHash, &r.Signature, &r.IssuedAt, &r.ExpiresAt, &r.SettledAt,
	)
	if err != nil {
		return nil, err
	}
	return r, nil
}

var _ Store = (*PostgresStore)(nil)
