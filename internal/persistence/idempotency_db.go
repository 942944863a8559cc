package persistence

import (
	"context"
	"database/sql"

	"github.com/xvault/settlement/internal/ledger"
)

// PostgresRefIDStore implements ledger.RefIDStore, the durable backing
// store fronted by ledger.DedupSet's in-memory LRU.
type PostgresRefIDStore struct {
	db *sql.DB
}

func NewPostgresRefIDStore(db *sql.DB) *PostgresRefIDStore {
	return &PostgresRefIDStore{db: db}
}

// Contains checks whether refId has already been consumed.
func (s *PostgresRefIDStore) Contains(ctx context.Context, id ledger.RefID) (bool, error) {
	query := `SELECT 1 FROM settlement.consumed_ref_ids WHERE ref_id = $1 LIMIT 1`

	var exists int
	err := s.db.QueryRowContext(ctx, query, id.String()).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Insert durably records refId as consumed. Idempotent: a conflicting
// insert (the refId was already recorded by a concurrent writer) is not
// an error — both writers are racing to record the same at-most-once fact.
func (s *PostgresRefIDStore) Insert(ctx context.Context, id ledger.RefID) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settlement.consumed_ref_ids (ref_id, consumed_at)
		VALUES ($1, now())
		ON CONFLICT (ref_id) DO NOTHING
	`, id.String())
	return err
}

// CreateRefIDTable creates the consumed_ref_ids table if it doesn't exist.
func (s *PostgresRefIDStore) CreateRefIDTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS settlement.consumed_ref_ids (
			ref_id      TEXT PRIMARY KEY,
			consumed_at TIMESTAMPTZ NOT NULL
		)
	`)
	return err
}
