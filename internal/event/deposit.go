// internal/event/deposit.go
package event

import "github.com/google/uuid"

// DepositConfirmed signals that a stable-token deposit has reached chain
// finality and should be applied via Ledger.DepositCollateral. The engine has no pending-deposit two-phase flow: confirmation
// is the only deposit event ingestion needs to act on.
type DepositConfirmed struct {
	DepositID uuid.UUID
	UserID    uuid.UUID
	Amount    int64 // fixedpoint.Money
	Sequence  int64
}

func (d *DepositConfirmed) IdempotencyKey() string {
	return d.DepositID.String()
}

func (d *DepositConfirmed) EventType() EventType {
	return EventTypeDepositConfirmed
}

func (d *DepositConfirmed) Venue() *string {
	return nil
}

func (d *DepositConfirmed) SourceSequence() int64 {
	return d.Sequence
}
