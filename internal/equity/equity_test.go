package equity

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/xvault/settlement/internal/bus"
	"github.com/xvault/settlement/internal/fixedpoint"
	"github.com/xvault/settlement/internal/position"
)

type fakeCollateral struct {
	byUser map[uuid.UUID]fixedpoint.Money
}

func (f *fakeCollateral) Collateral(user uuid.UUID) fixedpoint.Money {
	return f.byUser[user]
}

type fixedOracle struct {
	price fixedpoint.Price
	valid bool
}

func (o *fixedOracle) GetValidatedPrice(ctx context.Context, symbol string) (fixedpoint.Price, int64, bool, error) {
	if !o.valid {
		return 0, 0, false, context.DeadlineExceeded
	}
	return o.price, 0, true, nil
}

type recordingAdapter struct {
	calls  []struct{ equity, sequence int64 }
	frozen int
}

func (a *recordingAdapter) SetUserBalance(ctx context.Context, user uuid.UUID, equity int64, sequence int64) error {
	a.calls = append(a.calls, struct{ equity, sequence int64 }{equity, sequence})
	return nil
}

func (a *recordingAdapter) FreezeNewOrders(ctx context.Context, user uuid.UUID) error {
	a.frozen++
	return nil
}

// TestRecomputeAsymmetricHaircut exercises the worked cross-venue example:
// collateral 50000, 50% haircut, one venue long and one venue short the same
// instrument with a price move producing +4000/-4000 unrealized PnL.
//
// The formula (own PnL in full, negative cross in full, positive cross at
// the haircut rate) and the "Equity formula asymmetry" monotonicity law both
// say venueEquity(K) here is 50000 (not the 52000 the worked prose example
// states): crossPnL(K) is -4000, which is entirely negativeCross and so
// receives no haircut. The prose example appears to apply the haircut
// uniformly to the cross term regardless of sign, which contradicts its own
// "negative cross applied in full" rule. This engine follows the formula and
// the monotonicity law, not the arithmetic in the worked example.
func TestRecomputeAsymmetricHaircut(t *testing.T) {
	ctx := context.Background()
	clock := bus.NewManualClock(1000)
	store := position.New()
	user := uuid.New()

	entryPrice := fixedpoint.Price(100_000_000)
	markPrice := fixedpoint.Price(400_100_000_000)

	store.ApplySnapshot(position.Key{User: user, Venue: "K", Instrument: "BTC-PERP"}, position.Position{
		Side: position.SideLong, Size: fixedpoint.Money(1), EntryPrice: entryPrice,
	})
	store.ApplySnapshot(position.Key{User: user, Venue: "B", Instrument: "BTC-PERP"}, position.Position{
		Side: position.SideShort, Size: fixedpoint.Money(1), EntryPrice: entryPrice,
	})

	collateral := &fakeCollateral{byUser: map[uuid.UUID]fixedpoint.Money{user: 50_000}}
	oracle := &fixedOracle{price: markPrice, valid: true}
	engine := New(clock, store, oracle, collateral, Config{HaircutBps: 5000}, nil)

	adapterK := &recordingAdapter{}
	adapterB := &recordingAdapter{}
	engine.RegisterAdapter("K", adapterK)
	engine.RegisterAdapter("B", adapterB)

	updates, err := engine.Recompute(ctx, user)
	require.NoError(t, err)
	require.Len(t, updates, 2)

	var gotK, gotB *VenueUpdate
	for i := range updates {
		switch updates[i].Venue {
		case "K":
			gotK = &updates[i]
		case "B":
			gotB = &updates[i]
		}
	}
	require.NotNil(t, gotK)
	require.NotNil(t, gotB)

	require.Equal(t, int64(50_000), gotK.Equity)
	require.Equal(t, int64(48_000), gotB.Equity)
	require.Equal(t, int64(1), gotK.Sequence)
	require.Equal(t, int64(1), gotB.Sequence)

	require.Len(t, adapterK.calls, 1)
	require.Equal(t, int64(50_000), adapterK.calls[0].equity)
	require.Len(t, adapterB.calls, 1)
	require.Equal(t, int64(48_000), adapterB.calls[0].equity)

	require.Zero(t, adapterK.frozen)
	require.Zero(t, adapterB.frozen)

	// a second recompute strictly increases the per-(user,venue) sequence.
	updates2, err := engine.Recompute(ctx, user)
	require.NoError(t, err)
	for _, u := range updates2 {
		require.Equal(t, int64(2), u.Sequence)
	}
}

// TestRecomputeMarksStalePositionsAndExcludesFromCross verifies that a
// position with no validated oracle price is marked stale and contributes
// nothing to cross-venue PnL, matching the store's own Stale semantics.
func TestRecomputeMarksStalePositionsAndExcludesFromCross(t *testing.T) {
	ctx := context.Background()
	clock := bus.NewManualClock(1000)
	store := position.New()
	user := uuid.New()

	store.ApplySnapshot(position.Key{User: user, Venue: "K", Instrument: "ILLIQUID"}, position.Position{
		Side: position.SideLong, Size: fixedpoint.Money(1), EntryPrice: 100_000_000,
	})

	collateral := &fakeCollateral{byUser: map[uuid.UUID]fixedpoint.Money{user: 10_000}}
	oracle := &fixedOracle{valid: false}
	engine := New(clock, store, oracle, collateral, Config{HaircutBps: 5000}, nil)

	adapter := &recordingAdapter{}
	engine.RegisterAdapter("K", adapter)

	updates, err := engine.Recompute(ctx, user)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	require.Equal(t, int64(10_000), updates[0].Equity)

	pos, ok := store.Get(position.Key{User: user, Venue: "K", Instrument: "ILLIQUID"})
	require.True(t, ok)
	require.True(t, pos.Stale)
}

// TestRecomputeOverspendFreezesNewOrders verifies that margin-in-use
// exceeding collateral freezes every hosting venue.
func TestRecomputeOverspendFreezesNewOrders(t *testing.T) {
	ctx := context.Background()
	clock := bus.NewManualClock(1000)
	store := position.New()
	user := uuid.New()

	entryPrice := fixedpoint.Price(100_000_000)
	markPrice := fixedpoint.Price(100_000_000)
	store.ApplySnapshot(position.Key{User: user, Venue: "K", Instrument: "BTC-PERP"}, position.Position{
		Side: position.SideLong, Size: fixedpoint.Money(100_000_000), EntryPrice: entryPrice,
	})

	collateral := &fakeCollateral{byUser: map[uuid.UUID]fixedpoint.Money{user: 10}}
	oracle := &fixedOracle{price: markPrice, valid: true}
	engine := New(clock, store, oracle, collateral, Config{HaircutBps: 5000, OverspendAlphaBps: 1000}, nil)

	adapter := &recordingAdapter{}
	engine.RegisterAdapter("K", adapter)

	_, err := engine.Recompute(ctx, user)
	require.NoError(t, err)
	require.Equal(t, 1, adapter.frozen)
}

func TestHeartbeatDueTracksRegisteredUsers(t *testing.T) {
	clock := bus.NewManualClock(1000)
	store := position.New()
	user := uuid.New()
	collateral := &fakeCollateral{byUser: map[uuid.UUID]fixedpoint.Money{user: 1}}
	oracle := &fixedOracle{valid: true, price: 100_000_000}
	engine := New(clock, store, oracle, collateral, Config{HeartbeatSeconds: 10}, nil)

	d := bus.NewDebouncer(0, func(key string) {})
	engine.TriggerDebounced(d, user)

	clock.Advance(11)
	due := engine.HeartbeatDue()
	require.Contains(t, due, user)
}
