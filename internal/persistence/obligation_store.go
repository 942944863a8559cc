package persistence

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/xvault/settlement/internal/netting"
)

// PostgresObligationSource implements netting.ObligationSource. Venue
// adapters and the settlement coordinator append pending cross-venue
// transfers to settlement.netting_obligations as they arise; DrainPending
// atomically claims and removes the full pending set for the next netting
// run via DELETE ... RETURNING.
type PostgresObligationSource struct {
	db *sql.DB
}

func NewPostgresObligationSource(db *sql.DB) *PostgresObligationSource {
	return &PostgresObligationSource{db: db}
}

// DrainPending claims every pending obligation atomically, so two
// concurrent netting runs never double-drain the same row.
func (s *PostgresObligationSource) DrainPending(ctx context.Context) ([]netting.Obligation, error) {
	rows, err := s.db.QueryContext(ctx, `
		DELETE FROM settlement.netting_obligations
		RETURNING vault_id, user_id, amount
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var obligations []netting.Obligation
	for rows.Next() {
		var vaultID, userIDStr string
		var amount int64
		if err := rows.Scan(&vaultID, &userIDStr, &amount); err != nil {
			return nil, err
		}
		userID, err := uuid.Parse(userIDStr)
		if err != nil {
			continue
		}
		obligations = append(obligations, netting.Obligation{VaultID: vaultID, User: userID, Amount: amount})
	}
	return obligations, rows.Err()
}

// Append enqueues one pending obligation for the next netting run.
func (s *PostgresObligationSource) Append(ctx context.Context, obligation netting.Obligation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settlement.netting_obligations (vault_id, user_id, amount)
		VALUES ($1, $2, $3)
	`, obligation.VaultID, obligation.User.String(), obligation.Amount)
	return err
}
