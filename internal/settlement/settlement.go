// Package settlement implements the settlement coordinator: the bridge
// between position-close/shortfall signals and the ledger's credit/seize
// primitives, with idempotent refId derivation and a bounded
// exponential-backoff retry queue before a failed settlement is handed to
// the operator queue. Retry uses cenkalti/backoff/v4's exponential backoff
// over ledger primitive calls, with zerolog structured logging throughout.
//
// OnPositionClosed/OnVenueShortfall only build the retryable operation and
// enqueue it — the actual backoff.Retry loop runs on one of a small pool of
// worker goroutines, so a single struggling settlement retrying for seconds
// never blocks the caller (the event dispatch loop) or unrelated
// settlements from making progress.
package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/xvault/settlement/internal/fixedpoint"
	"github.com/xvault/settlement/internal/hashing"
	"github.com/xvault/settlement/internal/ledger"
	"github.com/xvault/settlement/internal/oracle"
	"github.com/xvault/settlement/internal/position"
)

// VenueForwarder is the subset of the venue-adapter contract the
// coordinator needs to return covered shortfall funds to the originating
// venue.
type VenueForwarder interface {
	ForwardCoveredFunds(ctx context.Context, venue string, user uuid.UUID, amount fixedpoint.Money) error
}

// OperatorQueue receives settlements that exhausted their retry budget.
type OperatorQueue interface {
	Enqueue(ctx context.Context, item FailedSettlement) error
}

// FailedSettlement is handed to the OperatorQueue.
type FailedSettlement struct {
	Kind      string // "position_close" or "venue_shortfall"
	RefID     ledger.RefID
	User      uuid.UUID
	Venue     string
	Amount    fixedpoint.Money
	LastError string
}

// Config holds the retry schedule.
type Config struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxRetries uint64
}

// ledgerPrimitives is the subset of *ledger.Ledger the coordinator drives.
type ledgerPrimitives interface {
	CreditPnl(ctx context.Context, user uuid.UUID, amount fixedpoint.Money, refID ledger.RefID) error
	SeizeCollateralCapped(ctx context.Context, user uuid.UUID, requested fixedpoint.Money, refID ledger.RefID) (ledger.SeizeCappedResult, error)
}

// settlementTask is one unit of retryable work handed from
// OnPositionClosed/OnVenueShortfall to the worker pool.
type settlementTask struct {
	op          func() error
	onExhausted FailedSettlement
}

// Coordinator is SettlementCoordinator.
type Coordinator struct {
	ledger    ledgerPrimitives
	forwarder VenueForwarder
	queue     OperatorQueue
	cfg       Config
	log       zerolog.Logger

	tasks chan settlementTask
}

// New creates a Coordinator with a bounded task queue of size queueSize.
// Wire OnPositionClosed onto position.Store.OnClose and OnVenueShortfall
// onto ledger.Ledger.OnShortfall after construction, then start Run in its
// own goroutine to drain the queue.
func New(l ledgerPrimitives, forwarder VenueForwarder, queue OperatorQueue, cfg Config, queueSize int, log zerolog.Logger) *Coordinator {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Coordinator{
		ledger:    l,
		forwarder: forwarder,
		queue:     queue,
		cfg:       cfg,
		log:       log.With().Str("component", "settlement").Logger(),
		tasks:     make(chan settlementTask, queueSize),
	}
}

// Run starts workerCount goroutines draining the task queue, each running
// the blocking backoff.Retry loop for whatever task it pulls off. A
// struggling settlement only ever occupies one worker — every other queued
// or future settlement keeps moving through the remaining workers. Blocks
// until ctx is cancelled and every worker has drained in flight.
func (c *Coordinator) Run(ctx context.Context, workerCount int) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	done := make(chan struct{}, workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for {
				select {
				case <-ctx.Done():
					return
				case task, ok := <-c.tasks:
					if !ok {
						return
					}
					c.runWithRetry(ctx, task.op, task.onExhausted)
				}
			}
		}()
	}
	for i := 0; i < workerCount; i++ {
		<-done
	}
	return ctx.Err()
}

// enqueue hands a task to the worker pool. The send blocks if the queue is
// full, propagating backpressure to the caller (the dispatch loop) rather
// than dropping a settlement — the queue only fills once every worker is
// itself stuck retrying.
func (c *Coordinator) enqueue(ctx context.Context, task settlementTask) {
	select {
	case c.tasks <- task:
	case <-ctx.Done():
	}
}

// OnPositionClosed computes realized PnL from the closed position's last
// mark, derives refId = keccak(venue||positionId), and enqueues the
// credit/seize settlement for the worker pool.
func (c *Coordinator) OnPositionClosed(pos position.Position) {
	refID := ledger.RefID(hashing.RefIDForClose(pos.Venue, pos.PositionID))
	c.settleRealizedPnL(context.Background(), pos.User, pos.Venue, pos.UnrealizedPnL, refID)
}

func (c *Coordinator) settleRealizedPnL(ctx context.Context, user uuid.UUID, venue string, realizedPnL int64, refID ledger.RefID) {
	var amount fixedpoint.Money
	var op func() error

	if realizedPnL >= 0 {
		amount = fixedpoint.Money(realizedPnL)
		if amount == 0 {
			return
		}
		op = func() error {
			return classify(c.ledger.CreditPnl(ctx, user, amount, refID))
		}
	} else {
		amount = fixedpoint.Money(-realizedPnL)
		op = func() error {
			_, err := c.ledger.SeizeCollateralCapped(ctx, user, amount, refID)
			return classify(err)
		}
	}

	c.enqueue(ctx, settlementTask{
		op: op,
		onExhausted: FailedSettlement{
			Kind: "position_close", RefID: refID, User: user, Venue: venue, Amount: amount,
		},
	})
}

// OnVenueShortfall derives refId = keccak("shortfall"||venue||claimId) and
// enqueues the seize-and-forward settlement for the worker pool.
func (c *Coordinator) OnVenueShortfall(user uuid.UUID, venue, claimID string, amount fixedpoint.Money) {
	ctx := context.Background()
	refID := ledger.RefID(hashing.RefIDForShortfall(venue, claimID))

	op := func() error {
		res, err := c.ledger.SeizeCollateralCapped(ctx, user, amount, refID)
		if err := classify(err); err != nil {
			return err
		}
		if res.Seized > 0 && c.forwarder != nil {
			if fwdErr := c.forwarder.ForwardCoveredFunds(ctx, venue, user, res.Seized); fwdErr != nil {
				c.log.Warn().Err(fwdErr).Str("venue", venue).Msg("forwarding covered shortfall funds failed")
			}
		}
		return nil
	}

	c.enqueue(ctx, settlementTask{
		op: op,
		onExhausted: FailedSettlement{
			Kind: "venue_shortfall", RefID: refID, User: user, Venue: venue, Amount: amount,
		},
	})
}

// classify turns a Ledger error into either nil (duplicate refId is proof
// of prior success — the event is dropped silently), a retryable error, or
// a backoff.Permanent wrapper for errors no amount of retrying will resolve.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ledger.ErrDuplicateRefId) {
		return nil
	}
	if isTransient(err) {
		return err
	}
	return backoff.Permanent(err)
}

// isTransient reports whether err is one of the conditions worth retrying:
// paused ledger, oracle unavailability/staleness, or network/context
// deadline errors.
func isTransient(err error) bool {
	switch {
	case errors.Is(err, ledger.ErrPaused):
		return true
	case errors.Is(err, oracle.ErrOracleUnavailable):
		return true
	case errors.Is(err, oracle.ErrPriceStale):
		return true
	case errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.Is(err, context.Canceled):
		return true
	default:
		return false
	}
}

func (c *Coordinator) runWithRetry(ctx context.Context, op func() error, onExhausted FailedSettlement) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.cfg.BaseDelay
	eb.MaxInterval = c.cfg.MaxDelay
	eb.Multiplier = 2
	bo := backoff.WithContext(backoff.WithMaxRetries(eb, c.cfg.MaxRetries), ctx)

	err := backoff.Retry(op, bo)
	if err == nil {
		return
	}

	c.log.Error().Err(err).Str("kind", onExhausted.Kind).Str("venue", onExhausted.Venue).
		Msg("settlement retry budget exhausted, surfacing to operator queue")
	onExhausted.LastError = err.Error()
	if c.queue != nil {
		if qerr := c.queue.Enqueue(ctx, onExhausted); qerr != nil {
			c.log.Error().Err(qerr).Msg("failed to enqueue exhausted settlement to operator queue")
		}
	}
}
