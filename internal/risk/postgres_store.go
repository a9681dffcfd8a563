package risk

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// PostgresStore persists risk assessments in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed risk assessment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the risk_assessments table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS risk_assessments (
			id            VARCHAR(64) PRIMARY KEY,
			actor         VARCHAR(42) NOT NULL,
			service_id    VARCHAR(128) NOT NULL,
			score         SMALLINT NOT NULL CHECK (score >= 0 AND score <= 100),
			tier          VARCHAR(20) NOT NULL CHECK (tier IN ('institutional_low', 'low', 'medium', 'high')),
			flags         JSONB NOT NULL DEFAULT '[]',
			approved      BOOLEAN NOT NULL,
			evaluated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_risk_assessments_actor
			ON risk_assessments (actor, evaluated_at DESC);

		CREATE INDEX IF NOT EXISTS idx_risk_assessments_rejections
			ON risk_assessments (evaluated_at DESC) WHERE approved = FALSE;
	`)
	return err
}

func (s *PostgresStore) Record(ctx context.Context, a *Assessment) error {
	flagsJSON, err := json.Marshal(a.Flags)
	if err != nil {
		return fmt.Errorf("failed to marshal flags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO risk_assessments (id, actor, service_id, score, tier, flags, approved, evaluated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		a.ID,
		strings.ToLower(a.Actor),
		a.ServiceID,
		a.Score,
		string(a.Tier),
		flagsJSON,
		a.Approved,
		a.EvaluatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record risk assessment: %w", err)
	}
	return nil
}

const assessmentColumns = `id, actor, service_id, score, tier, flags, approved, evaluated_at`

func (s *PostgresStore) Get(ctx context.Context, id string) (*Assessment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+assessmentColumns+` FROM risk_assessments WHERE id = $1`, id)
	a, err := scanAssessment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

func (s *PostgresStore) ListByActor(ctx context.Context, actor string, limit int) ([]*Assessment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+assessmentColumns+`
		FROM risk_assessments
		WHERE actor = $1
		ORDER BY evaluated_at DESC
		LIMIT $2
	`, strings.ToLower(actor), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list risk assessments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Assessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAssessment(sc scanner) (*Assessment, error) {
	var a Assessment
	var tier string
	var flagsJSON []byte
	if err := sc.Scan(&a.ID, &a.Actor, &a.ServiceID, &a.Score, &tier, &flagsJSON, &a.Approved, &a.EvaluatedAt); err != nil {
		return nil, err
	}
	a.Tier = Tier(tier)
	if err := json.Unmarshal(flagsJSON, &a.Flags); err != nil {
		return nil, fmt.Errorf("failed to decode flags for %s: %w", a.ID, err)
	}
	return &a, nil
}
