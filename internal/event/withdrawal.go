package event

import (
	"time"

	"github.com/google/uuid"
)

// WithdrawalRequested is an inbound request (from NATS or operator
// injection) that the engine applies by calling Ledger.WithdrawCollateral.
// The engine's withdraw primitives commit synchronously — unlike the
// prior two-phase requested/confirmed/rejected custody flow, there is
// no external custody actor to confirm or reject against, so those two
// event types have no counterpart here.
type WithdrawalRequested struct {
	WithdrawalID uuid.UUID
	UserID       uuid.UUID
	Amount       int64 // fixedpoint.Money
	Sequence     int64
	Timestamp    time.Time
}

func (w *WithdrawalRequested) IdempotencyKey() string {
	return w.WithdrawalID.String()
}

func (w *WithdrawalRequested) EventType() EventType {
	return EventTypeWithdrawalRequested
}

func (w *WithdrawalRequested) Venue() *string {
	return nil
}

func (w *WithdrawalRequested) SourceSequence() int64 {
	return w.Sequence
}
