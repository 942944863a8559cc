// Package position implements PositionStore: the
// current position snapshot per (user, venue, instrument), merged from
// venue-adapter snapshot/delta events. Grounded on the prior
// internal/state/{position,position_manager}.go — PositionKey/Position
// shape and the GetOrCreatePosition/ApplyTradeFill bookkeeping style are
// kept, generalized from a single-market perpetual-futures book to a
// multi-venue position book with no funding/liquidation-state fields.
package position

import (
	"iter"
	"sync"

	"github.com/google/uuid"

	"github.com/xvault/settlement/internal/fixedpoint"
)

// Side is long or short (Position).
type Side int8

const (
	SideLong Side = iota
	SideShort
)

func (s Side) SideSign() int64 {
	if s == SideShort {
		return -1
	}
	return 1
}

// Key identifies a position: (user, venue, instrument)
type Key struct {
	User       uuid.UUID
	Venue      string
	Instrument string
}

// Position carries the full position state, plus a PositionID used for refId
// derivation on close.
type Position struct {
	User          uuid.UUID
	Venue         string
	Instrument    string
	PositionID    string
	Side          Side
	Size          fixedpoint.Money
	EntryPrice    fixedpoint.Price
	MarkPrice     fixedpoint.Price
	UnrealizedPnL int64
	// Stale is set when no validated oracle price was available at the last
	// mark-to-market pass: the position is excluded from
	// cross-venue EquityEngine updates but its own venue keeps its local view.
	Stale bool
}

// Delta is a partial update merged onto an existing position (// venue adapters publish "snapshot" and "delta" events).
type Delta struct {
	Side       *Side
	Size       *fixedpoint.Money
	EntryPrice *fixedpoint.Price
}

type entry struct {
	mu  sync.RWMutex
	pos Position
}

// Store is PositionStore. Per"one writer at a time per
// (venue,user,instrument), unlimited readers across keys" — each key gets
// its own RWMutex in a sync.Map, so contention on one key never blocks
// operations on another.
type Store struct {
	entries sync.Map // Key -> *entry

	// OnClose is invoked synchronously from Close with the removed position,
	// letting the wiring layer forward a realized-PnL signal to the
	// SettlementCoordinator. Must not call back into Store.
	OnClose func(Position)
}

func New() *Store {
	return &Store{}
}

func (s *Store) entryFor(key Key) *entry {
	v, _ := s.entries.LoadOrStore(key, &entry{})
	return v.(*entry)
}

// ApplySnapshot replaces the full position state for key (// venue adapters publish "snapshot" events).
func (s *Store) ApplySnapshot(key Key, pos Position) {
	e := s.entryFor(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	pos.User, pos.Venue, pos.Instrument = key.User, key.Venue, key.Instrument
	e.pos = pos
}

// ApplyDelta merges a partial update onto the existing position for key,
// creating a flat position first if none exists ("delta" events).
func (s *Store) ApplyDelta(key Key, delta Delta) {
	e := s.entryFor(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pos.User == (uuid.UUID{}) {
		e.pos = Position{User: key.User, Venue: key.Venue, Instrument: key.Instrument}
	}
	if delta.Side != nil {
		e.pos.Side = *delta.Side
	}
	if delta.Size != nil {
		e.pos.Size = *delta.Size
	}
	if delta.EntryPrice != nil {
		e.pos.EntryPrice = *delta.EntryPrice
	}
}

// MarkToMarket updates MarkPrice/UnrealizedPnL/Stale for key using a
// validated oracle price, or marks the position stale if none is available
//.
func (s *Store) MarkToMarket(key Key, markPrice fixedpoint.Price, available bool) {
	e := s.entryFor(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	if !available {
		e.pos.Stale = true
		return
	}
	e.pos.Stale = false
	e.pos.MarkPrice = markPrice
	e.pos.UnrealizedPnL = fixedpoint.PositionPnL(e.pos.Side.SideSign(), markPrice, e.pos.EntryPrice, e.pos.Size)
}

// Get returns a point-in-time copy of the position at key.
func (s *Store) Get(key Key) (Position, bool) {
	v, ok := s.entries.Load(key)
	if !ok {
		return Position{}, false
	}
	e := v.(*entry)
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.pos.Size == 0 {
		return Position{}, false
	}
	return e.pos, true
}

// Close removes the position at key and invokes OnClose with the removed state, if set.
func (s *Store) Close(key Key) (Position, bool) {
	v, ok := s.entries.LoadAndDelete(key)
	if !ok {
		return Position{}, false
	}
	e := v.(*entry)
	e.mu.Lock()
	pos := e.pos
	e.mu.Unlock()
	if pos.Size == 0 && pos.User == (uuid.UUID{}) {
		return Position{}, false
	}
	if s.OnClose != nil {
		s.OnClose(pos)
	}
	return pos, true
}

// IterUser returns an iterator over every non-flat position for user.
// Snapshots for EquityEngine are read as a consistent point-in-time view
// per key, not across keys — cross-instrument ordering is not
// required.
func (s *Store) IterUser(user uuid.UUID) iter.Seq[Position] {
	return func(yield func(Position) bool) {
		s.entries.Range(func(k, v any) bool {
			key := k.(Key)
			if key.User != user {
				return true
			}
			e := v.(*entry)
			e.mu.RLock()
			pos := e.pos
			e.mu.RUnlock()
			if pos.Size == 0 {
				return true
			}
			return yield(pos)
		})
	}
}

// IterAll returns an iterator over every non-flat position in the store.
func (s *Store) IterAll() iter.Seq[Position] {
	return func(yield func(Position) bool) {
		s.entries.Range(func(_, v any) bool {
			e := v.(*entry)
			e.mu.RLock()
			pos := e.pos
			e.mu.RUnlock()
			if pos.Size == 0 {
				return true
			}
			return yield(pos)
		})
	}
}
