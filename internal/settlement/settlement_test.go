package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/xvault/settlement/internal/fixedpoint"
	"github.com/xvault/settlement/internal/hashing"
	"github.com/xvault/settlement/internal/ledger"
	"github.com/xvault/settlement/internal/position"
)

type fakeLedger struct {
	creditCalls []ledger.RefID
	seizeCalls  []ledger.RefID
	creditErr   error
	seizeResult ledger.SeizeCappedResult
	seizeErr    error

	failUntil int // CreditPnl/SeizeCollateralCapped return creditErr/seizeErr this many times before succeeding
	attempts  int
}

func (f *fakeLedger) CreditPnl(ctx context.Context, user uuid.UUID, amount fixedpoint.Money, refID ledger.RefID) error {
	f.creditCalls = append(f.creditCalls, refID)
	f.attempts++
	if f.attempts <= f.failUntil {
		return f.creditErr
	}
	return nil
}

func (f *fakeLedger) SeizeCollateralCapped(ctx context.Context, user uuid.UUID, requested fixedpoint.Money, refID ledger.RefID) (ledger.SeizeCappedResult, error) {
	f.seizeCalls = append(f.seizeCalls, refID)
	f.attempts++
	if f.attempts <= f.failUntil {
		return ledger.SeizeCappedResult{}, f.seizeErr
	}
	return f.seizeResult, nil
}

type fakeForwarder struct {
	forwarded []fixedpoint.Money
}

func (f *fakeForwarder) ForwardCoveredFunds(ctx context.Context, venue string, user uuid.UUID, amount fixedpoint.Money) error {
	f.forwarded = append(f.forwarded, amount)
	return nil
}

type fakeQueue struct {
	items []FailedSettlement
}

func (q *fakeQueue) Enqueue(ctx context.Context, item FailedSettlement) error {
	q.items = append(q.items, item)
	return nil
}

func testConfig() Config {
	return Config{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, MaxRetries: 3}
}

// newTestCoordinator starts a single-worker pool draining the coordinator's
// task queue and returns it alongside a cleanup that stops the worker.
func newTestCoordinator(t *testing.T, l ledgerPrimitives, fwd VenueForwarder, q OperatorQueue) *Coordinator {
	t.Helper()
	c := New(l, fwd, q, testConfig(), 16, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx, 1)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return c
}

func TestOnPositionClosedCreditsPositivePnL(t *testing.T) {
	fl := &fakeLedger{}
	c := newTestCoordinator(t, fl, nil, nil)

	pos := position.Position{User: uuid.New(), Venue: "K", PositionID: "pos-1", UnrealizedPnL: 4000}
	c.OnPositionClosed(pos)

	require.Eventually(t, func() bool { return len(fl.creditCalls) == 1 }, time.Second, time.Millisecond)
	require.Equal(t, ledger.RefID(hashing.RefIDForClose("K", "pos-1")), fl.creditCalls[0])
}

func TestOnPositionClosedSeizesNegativePnL(t *testing.T) {
	fl := &fakeLedger{seizeResult: ledger.SeizeCappedResult{Seized: 4000}}
	c := newTestCoordinator(t, fl, nil, nil)

	pos := position.Position{User: uuid.New(), Venue: "K", PositionID: "pos-2", UnrealizedPnL: -4000}
	c.OnPositionClosed(pos)

	require.Eventually(t, func() bool { return len(fl.seizeCalls) == 1 }, time.Second, time.Millisecond)
	require.Equal(t, ledger.RefID(hashing.RefIDForClose("K", "pos-2")), fl.seizeCalls[0])
}

func TestOnPositionClosedZeroPnLIsNoOp(t *testing.T) {
	fl := &fakeLedger{}
	c := newTestCoordinator(t, fl, nil, nil)

	c.OnPositionClosed(position.Position{User: uuid.New(), Venue: "K", PositionID: "pos-3", UnrealizedPnL: 0})
	time.Sleep(10 * time.Millisecond)
	require.Empty(t, fl.creditCalls)
	require.Empty(t, fl.seizeCalls)
}

func TestDuplicateRefIdDropsSilentlyWithoutRetry(t *testing.T) {
	fl := &fakeLedger{creditErr: ledger.ErrDuplicateRefId, failUntil: 100}
	c := newTestCoordinator(t, fl, nil, nil)

	c.OnPositionClosed(position.Position{User: uuid.New(), Venue: "K", PositionID: "pos-4", UnrealizedPnL: 100})
	require.Eventually(t, func() bool { return len(fl.creditCalls) == 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	require.Len(t, fl.creditCalls, 1) // classify(ErrDuplicateRefId) -> nil, no retry
}

func TestTransientFailureRetriesThenSucceeds(t *testing.T) {
	fl := &fakeLedger{creditErr: ledger.ErrPaused, failUntil: 2}
	c := newTestCoordinator(t, fl, nil, nil)

	c.OnPositionClosed(position.Position{User: uuid.New(), Venue: "K", PositionID: "pos-5", UnrealizedPnL: 500})
	require.Eventually(t, func() bool { return len(fl.creditCalls) == 3 }, time.Second, time.Millisecond) // 2 failures then a success
}

func TestExhaustedRetriesSurfacesToOperatorQueue(t *testing.T) {
	fl := &fakeLedger{creditErr: ledger.ErrPaused, failUntil: 1000}
	q := &fakeQueue{}
	c := newTestCoordinator(t, fl, nil, q)

	c.OnPositionClosed(position.Position{User: uuid.New(), Venue: "K", PositionID: "pos-6", UnrealizedPnL: 700})
	require.Eventually(t, func() bool { return len(q.items) == 1 }, time.Second, time.Millisecond)
	require.Equal(t, "position_close", q.items[0].Kind)
}

func TestPermanentErrorStopsImmediatelyWithoutExhaustingRetries(t *testing.T) {
	fl := &fakeLedger{creditErr: errors.New("unexpected invariant violation"), failUntil: 1000}
	q := &fakeQueue{}
	c := newTestCoordinator(t, fl, nil, q)

	c.OnPositionClosed(position.Position{User: uuid.New(), Venue: "K", PositionID: "pos-7", UnrealizedPnL: 900})
	require.Eventually(t, func() bool { return len(q.items) == 1 }, time.Second, time.Millisecond)
	require.Len(t, fl.creditCalls, 1) // backoff.Permanent short-circuits after the first attempt
}

func TestOnVenueShortfallForwardsCoveredFunds(t *testing.T) {
	fl := &fakeLedger{seizeResult: ledger.SeizeCappedResult{Seized: 250, Shortfall: 50}}
	fwd := &fakeForwarder{}
	c := newTestCoordinator(t, fl, fwd, nil)

	c.OnVenueShortfall(uuid.New(), "B", "claim-1", fixedpoint.Money(300))

	require.Eventually(t, func() bool { return len(fwd.forwarded) == 1 }, time.Second, time.Millisecond)
	require.Len(t, fl.seizeCalls, 1)
	require.Equal(t, ledger.RefID(hashing.RefIDForShortfall("B", "claim-1")), fl.seizeCalls[0])
	require.Equal(t, fixedpoint.Money(250), fwd.forwarded[0])
}
