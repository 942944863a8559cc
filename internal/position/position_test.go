package position

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/xvault/settlement/internal/fixedpoint"
)

func TestApplySnapshotThenGet(t *testing.T) {
	s := New()
	u := uuid.New()
	key := Key{User: u, Venue: "K", Instrument: "BTC-PERP"}

	s.ApplySnapshot(key, Position{
		PositionID: "pos-1",
		Side:       SideLong,
		Size:       1_000_000,
		EntryPrice: 50_00000000,
	})

	got, ok := s.Get(key)
	require.True(t, ok)
	require.Equal(t, "pos-1", got.PositionID)
	require.Equal(t, fixedpoint.Money(1_000_000), got.Size)
}

func TestApplyDeltaCreatesThenMerges(t *testing.T) {
	s := New()
	u := uuid.New()
	key := Key{User: u, Venue: "K", Instrument: "BTC-PERP"}

	size := fixedpoint.Money(500_000)
	s.ApplyDelta(key, Delta{Size: &size})
	got, ok := s.Get(key)
	require.True(t, ok)
	require.Equal(t, size, got.Size)

	price := fixedpoint.Price(51_00000000)
	s.ApplyDelta(key, Delta{EntryPrice: &price})
	got, ok = s.Get(key)
	require.True(t, ok)
	require.Equal(t, size, got.Size)
	require.Equal(t, price, got.EntryPrice)
}

func TestMarkToMarketMarksStaleWhenUnavailable(t *testing.T) {
	s := New()
	u := uuid.New()
	key := Key{User: u, Venue: "K", Instrument: "BTC-PERP"}
	s.ApplySnapshot(key, Position{Side: SideLong, Size: 1_000_000, EntryPrice: 50_00000000})

	s.MarkToMarket(key, 0, false)
	got, _ := s.Get(key)
	require.True(t, got.Stale)

	s.MarkToMarket(key, 51_00000000, true)
	got, _ = s.Get(key)
	require.False(t, got.Stale)
	require.NotZero(t, got.UnrealizedPnL)
}

func TestCloseInvokesOnCloseAndRemoves(t *testing.T) {
	s := New()
	u := uuid.New()
	key := Key{User: u, Venue: "K", Instrument: "BTC-PERP"}
	s.ApplySnapshot(key, Position{PositionID: "pos-2", Side: SideLong, Size: 1_000_000, EntryPrice: 50_00000000})

	var closed Position
	s.OnClose = func(p Position) { closed = p }

	pos, ok := s.Close(key)
	require.True(t, ok)
	require.Equal(t, "pos-2", pos.PositionID)
	require.Equal(t, "pos-2", closed.PositionID)

	_, ok = s.Get(key)
	require.False(t, ok)
}

func TestIterUserOnlyReturnsThatUsersNonFlatPositions(t *testing.T) {
	s := New()
	a := uuid.New()
	b := uuid.New()
	s.ApplySnapshot(Key{User: a, Venue: "K", Instrument: "BTC-PERP"}, Position{Size: 1_000_000})
	s.ApplySnapshot(Key{User: a, Venue: "B", Instrument: "ETH-PERP"}, Position{Size: 2_000_000})
	s.ApplySnapshot(Key{User: b, Venue: "K", Instrument: "BTC-PERP"}, Position{Size: 3_000_000})

	var count int
	for p := range s.IterUser(a) {
		require.Equal(t, a, p.User)
		count++
	}
	require.Equal(t, 2, count)
}

func TestIterAllSkipsFlatPositions(t *testing.T) {
	s := New()
	u := uuid.New()
	s.ApplySnapshot(Key{User: u, Venue: "K", Instrument: "BTC-PERP"}, Position{Size: 0})
	s.ApplySnapshot(Key{User: u, Venue: "B", Instrument: "ETH-PERP"}, Position{Size: 1})

	var count int
	for range s.IterAll() {
		count++
	}
	require.Equal(t, 1, count)
}
