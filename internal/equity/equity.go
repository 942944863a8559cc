// Package equity implements EquityEngine: mark-to-
// market aggregation across venues, the asymmetric-haircut per-venue
// equity formula, overspend detection, and trigger/debounce-driven
// VenueUpdate emission with strictly increasing per-(user,venue) sequence.
// Grounded on the prior internal/state/position_manager.go
// (ComputeTotalUnrealizedPnL/ComputeTotalNotional aggregation style) and
// internal/core/sequence_validator.go (per-key strictly-increasing
// sequence discipline), combined here into a standalone recompute pipeline.
package equity

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/xvault/settlement/internal/bus"
	"github.com/xvault/settlement/internal/fixedpoint"
	"github.com/xvault/settlement/internal/position"
)

// CollateralReader is the subset of Ledger the engine needs.
type CollateralReader interface {
	Collateral(user uuid.UUID) fixedpoint.Money
}

// OracleReader is the subset of PriceOracle the engine needs.
type OracleReader interface {
	GetValidatedPrice(ctx context.Context, symbol string) (fixedpoint.Price, int64, bool, error)
}

// VenueAdapter is the subset of the venue-adapter contract the
// engine drives directly.
type VenueAdapter interface {
	SetUserBalance(ctx context.Context, user uuid.UUID, equity int64, sequence int64) error
	FreezeNewOrders(ctx context.Context, user uuid.UUID) error
}

// Config holds operator-tunable equity parameters.
type Config struct {
	HaircutBps        int64 // default 5000 (50%)
	OverspendAlphaBps int64 // the "(1+alpha)" threshold in basis points over 1.0
	HeartbeatSeconds  int64 // default 300
}

type venueKey struct {
	user  uuid.UUID
	venue string
}

// Engine is EquityEngine.
type Engine struct {
	mu sync.Mutex

	store      *position.Store
	oracle     OracleReader
	collateral CollateralReader
	adapters   map[string]VenueAdapter
	cfg        Config

	sequences map[venueKey]int64
	clock     bus.Clock
	debouncer *bus.Debouncer
	heartbeat *bus.Heartbeat

	registeredUsers map[uuid.UUID]struct{}
}

// New creates an Engine. The final debounceWindow argument is not used;
// debouncing is done by the Debouncer passed to TriggerDebounced.
func New(clock bus.Clock, store *position.Store, oracle OracleReader, collateral CollateralReader, cfg Config, debounceWindow func(key string)) *Engine {
	e := &Engine{
		store:           store,
		oracle:          oracle,
		collateral:      collateral,
		adapters:        make(map[string]VenueAdapter),
		cfg:             cfg,
		sequences:       make(map[venueKey]int64),
		clock:           clock,
		heartbeat:       bus.NewHeartbeat(clock, cfg.HeartbeatSeconds),
		registeredUsers: make(map[uuid.UUID]struct{}),
	}
	return e
}

// RegisterAdapter wires a venue adapter under its venue name.
func (e *Engine) RegisterAdapter(venue string, adapter VenueAdapter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.adapters[venue] = adapter
}

// TriggerDebounced is the entry point ingestion/operator code calls on any
// of the trigger conditions. d is a shared Debouncer keyed by
// user ID string; fn is expected to have been built once via
// NewDebouncer(window, func(key string){ engine.Recompute(ctx, parsedUser) }).
func (e *Engine) TriggerDebounced(d *bus.Debouncer, user uuid.UUID) {
	e.mu.Lock()
	e.registeredUsers[user] = struct{}{}
	e.mu.Unlock()
	e.heartbeat.Suppress(user.String())
	d.Trigger(user.String())
}

// HeartbeatDue reports the set of registered users whose heartbeat
// interval has elapsed. Callers run
// this on a ticker and call Recompute for each returned user.
func (e *Engine) HeartbeatDue() []uuid.UUID {
	e.mu.Lock()
	users := make([]uuid.UUID, 0, len(e.registeredUsers))
	for u := range e.registeredUsers {
		users = append(users, u)
	}
	e.mu.Unlock()

	due := make([]uuid.UUID, 0)
	for _, u := range users {
		if e.heartbeat.Due(u.String()) {
			due = append(due, u)
		}
	}
	return due
}

// VenueUpdate is the emitted record.
type VenueUpdate struct {
	User     uuid.UUID
	Venue    string
	Equity   int64
	Sequence int64
}

func (VenueUpdate) Source() string { return "equity" }

// Recompute runs the full equity pipeline for one user: mark each
// position to market, compute the per-venue equity formula, apply
// overspend policy, and emit a VenueUpdate to every hosting venue's
// adapter with a strictly increasing sequence.
func (e *Engine) Recompute(ctx context.Context, user uuid.UUID) ([]VenueUpdate, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	type venueAgg struct {
		ownPnL      int64
		crossIn     int64 // unused; other venues' contribution is summed per venue below
		marginInUse fixedpoint.Money
	}

	positions := make([]position.Position, 0, 8)
	for p := range e.store.IterUser(user) {
		price, _, _, err := e.oracle.GetValidatedPrice(ctx, p.Instrument)
		key := position.Key{User: p.User, Venue: p.Venue, Instrument: p.Instrument}
		if err != nil {
			e.store.MarkToMarket(key, 0, false)
		} else {
			e.store.MarkToMarket(key, price, true)
		}
		updated, _ := e.store.Get(key)
		positions = append(positions, updated)
	}

	venues := make(map[string]*venueAgg)
	var totalPnL int64
	for _, p := range positions {
		agg, ok := venues[p.Venue]
		if !ok {
			agg = &venueAgg{}
			venues[p.Venue] = agg
		}
		agg.ownPnL += p.UnrealizedPnL
		if notional, err := fixedpoint.Notional(p.Size, p.MarkPrice); err == nil {
			agg.marginInUse, _ = agg.marginInUse.Add(notional)
		}
		if !p.Stale {
			totalPnL += p.UnrealizedPnL
		}
	}

	collateral := int64(e.collateral.Collateral(user))

	var totalMarginInUse fixedpoint.Money
	for _, agg := range venues {
		totalMarginInUse, _ = totalMarginInUse.Add(agg.marginInUse)
	}
	overspent := int64(totalMarginInUse) > collateral
	severelyOverspent := int64(totalMarginInUse)*10_000 > collateral*(10_000+e.cfg.OverspendAlphaBps)

	if overspent {
		for venueName := range venues {
			if adapter, ok := e.adapters[venueName]; ok {
				_ = adapter.FreezeNewOrders(ctx, user)
			}
		}
	}

	updates := make([]VenueUpdate, 0, len(venues))
	for venueName, agg := range venues {
		// crossPnL(v) = total non-stale unrealized PnL minus this venue's own
		// non-stale contribution (its stale positions never entered totalPnL).
		var ownNonStale int64
		for _, p := range positions {
			if p.Venue == venueName && !p.Stale {
				ownNonStale += p.UnrealizedPnL
			}
		}
		crossPnL := totalPnL - ownNonStale

		positiveCross := crossPnL
		if positiveCross < 0 {
			positiveCross = 0
		}
		negativeCross := crossPnL
		if negativeCross > 0 {
			negativeCross = 0
		}

		venueEquity := collateral + agg.ownPnL + (positiveCross*e.cfg.HaircutBps)/10_000 + negativeCross

		if severelyOverspent && int64(totalMarginInUse) > 0 {
			venueEquity = venueEquity * collateral / int64(totalMarginInUse)
		}

		vk := venueKey{user: user, venue: venueName}
		e.sequences[vk]++
		seq := e.sequences[vk]

		if adapter, ok := e.adapters[venueName]; ok {
			_ = adapter.SetUserBalance(ctx, user, venueEquity, seq)
		}
		updates = append(updates, VenueUpdate{User: user, Venue: venueName, Equity: venueEquity, Sequence: seq})
	}

	return updates, nil
}
