// internal/event/position.go
package event

import (
	"fmt"

	"github.com/google/uuid"
)

// PositionSnapshot is a venue adapter's full-state publication for one
// (user, venue, instrument) position, merged via position.Store.ApplySnapshot.
type PositionSnapshot struct {
	User       uuid.UUID
	VenueID    string
	Instrument string
	PositionID string
	Side       int8 // +1 long, -1 short
	Size       int64
	EntryPrice int64
	Sequence   int64
}

func (p *PositionSnapshot) IdempotencyKey() string {
	return fmt.Sprintf("%s:%s:%s:snapshot:%d", p.VenueID, p.User, p.Instrument, p.Sequence)
}

func (p *PositionSnapshot) EventType() EventType {
	return EventTypePositionSnapshot
}

func (p *PositionSnapshot) Venue() *string {
	return &p.VenueID
}

func (p *PositionSnapshot) SourceSequence() int64 {
	return p.Sequence
}

// PositionDelta is a venue adapter's incremental update, merged via
// position.Store.ApplyDelta.
type PositionDelta struct {
	User       uuid.UUID
	VenueID    string
	Instrument string
	SizeDelta  int64
	EntryPrice int64
	HasEntry   bool
	Sequence   int64
}

func (p *PositionDelta) IdempotencyKey() string {
	return fmt.Sprintf("%s:%s:%s:delta:%d", p.VenueID, p.User, p.Instrument, p.Sequence)
}

func (p *PositionDelta) EventType() EventType {
	return EventTypePositionDelta
}

func (p *PositionDelta) Venue() *string {
	return &p.VenueID
}

func (p *PositionDelta) SourceSequence() int64 {
	return p.Sequence
}

// PositionClosed is forwarded to the SettlementCoordinator as a realized-
// PnL signal when a venue adapter reports a position fully closed.
type PositionClosed struct {
	User        uuid.UUID
	VenueID     string
	Instrument  string
	PositionID  string
	RealizedPnL int64
	Sequence    int64
}

func (p *PositionClosed) IdempotencyKey() string {
	return fmt.Sprintf("%s:%s:close", p.VenueID, p.PositionID)
}

func (p *PositionClosed) EventType() EventType {
	return EventTypePositionClosed
}

func (p *PositionClosed) Venue() *string {
	return &p.VenueID
}

func (p *PositionClosed) SourceSequence() int64 {
	return p.Sequence
}
