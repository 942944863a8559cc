package persistence

import (
	"context"
	"database/sql"

	"github.com/xvault/settlement/internal/settlement"
)

// PostgresOperatorQueue implements settlement.OperatorQueue: settlements
// that exhausted their retry budget land here for manual operator
// resolution rather than being dropped.
type PostgresOperatorQueue struct {
	db *sql.DB
}

func NewPostgresOperatorQueue(db *sql.DB) *PostgresOperatorQueue {
	return &PostgresOperatorQueue{db: db}
}

// Enqueue records a failed settlement for operator triage.
func (q *PostgresOperatorQueue) Enqueue(ctx context.Context, item settlement.FailedSettlement) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO settlement.failed_settlements
			(ref_id, kind, user_id, venue_id, amount, last_error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (ref_id) DO NOTHING
	`, item.RefID.String(), item.Kind, item.User.String(), item.Venue, int64(item.Amount), item.LastError)
	return err
}
