// Package ledger implements the authoritative Ledger state machine: the
// only component permitted to mutate money. Grounded on the prior
// internal/ledger + internal/core/engine.go single-owner-actor pattern,
// narrowed from a perpetual-futures ledger to the settlement engine's
// collateral/pnl/brokerPool/insuranceFund model.
//
// A Ledger is meant to be driven by exactly one goroutine at a time — all
// primitives serialize through it; the internal mutex exists so a Ledger
// can also be called safely from a request-reply channel handler without a
// second actor loop, matching how the prior DeterministicCore is invoked
// from ProcessEvent.
package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/xvault/settlement/internal/bus"
	"github.com/xvault/settlement/internal/fixedpoint"
)

// State is the Ledger's operational state.
type State int32

const (
	StateActive State = iota
	StatePaused
)

func (s State) String() string {
	if s == StatePaused {
		return "paused"
	}
	return "active"
}

// DailyCapBucket tracks withdrawn-in-day for a user or globally.
type DailyCapBucket struct {
	Day       int64
	Withdrawn fixedpoint.Money
}

// circuitBreakerRecord is one entry in the rolling settlement-volume window
// (CircuitBreakerWindow).
type circuitBreakerRecord struct {
	Timestamp int64
	Amount    fixedpoint.Money
}

// ShortfallEvent is emitted by seizeCollateralCapped whenever the requested
// seizure exceeds available collateral.
type ShortfallEvent struct {
	User               uuid.UUID
	Shortfall          fixedpoint.Money
	CoveredByInsurance fixedpoint.Money
	Socialized         fixedpoint.Money
}

// Config holds the mutable operator-tunable ledger parameters.
type Config struct {
	WithdrawalCooldownSeconds   int64
	UserDailyCap                fixedpoint.Money // 0 disables
	GlobalDailyCap              fixedpoint.Money // 0 disables
	CircuitBreakerThreshold     fixedpoint.Money // 0 disables
	CircuitBreakerWindowSeconds int64
}

// TradingHoursGuard gates guarded settlement primitives.
type TradingHoursGuard interface {
	IsOpen(symbol string, now int64) bool
}

// PriceValidator is the subset of PriceOracle the Ledger needs to guard a
// settlement primitive against an unvalidated price.
type PriceValidator interface {
	GetValidatedPrice(ctx context.Context, symbol string) (fixedpoint.Price, int64, bool, error)
}

// Ledger is the settlement engine's single-owner money-moving actor.
type Ledger struct {
	mu sync.Mutex

	clock     bus.Clock
	tracker   *BalanceTracker
	validator *InvariantValidator
	dedup     *DedupSet

	cfg   Config
	state State

	lastDepositTimestamp map[uuid.UUID]int64
	userCapBuckets       map[uuid.UUID]*DailyCapBucket
	globalCapBucket      DailyCapBucket
	breakerWindow        []circuitBreakerRecord
	socializedLoss       fixedpoint.Money

	guard  TradingHoursGuard
	oracle PriceValidator

	onShortfall func(ShortfallEvent)
	onBatch     func(*Batch)

	sequence int64
}

// New creates a Ledger in the Active state.
func New(clock bus.Clock, tracker *BalanceTracker, dedup *DedupSet, cfg Config) *Ledger {
	return &Ledger{
		clock:                clock,
		tracker:              tracker,
		validator:            NewInvariantValidator(tracker),
		dedup:                dedup,
		cfg:                  cfg,
		state:                StateActive,
		lastDepositTimestamp: make(map[uuid.UUID]int64),
		userCapBuckets:       make(map[uuid.UUID]*DailyCapBucket),
	}
}

// SetGuards wires the optional trading-hours guard and price oracle used by
// guarded primitive variants.
func (l *Ledger) SetGuards(guard TradingHoursGuard, oracle PriceValidator) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.guard = guard
	l.oracle = oracle
}

// OnShortfall registers the callback invoked synchronously whenever
// seizeCollateralCapped produces a shortfall. The callback runs under the
// Ledger's lock and must not call back into the Ledger.
func (l *Ledger) OnShortfall(fn func(ShortfallEvent)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onShortfall = fn
}

// OnBatch registers the callback invoked synchronously after every
// successfully applied batch, letting the wiring layer persist the journal
// without the Ledger depending on Postgres. Runs under the Ledger's lock
// and must not call back into the Ledger.
func (l *Ledger) OnBatch(fn func(*Batch)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onBatch = fn
}

// State returns the current operational state. A read primitive — always
// succeeds regardless of Paused.
func (l *Ledger) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Pause transitions Active -> Paused (admin operation).
func (l *Ledger) Pause() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = StatePaused
}

// Unpause transitions Paused -> Active (admin operationthe
// only way out of Paused).
func (l *Ledger) Unpause() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = StateActive
}

// SocializedLoss returns the monotonically non-decreasing socialized-loss
// tally. A read primitive.
func (l *Ledger) SocializedLoss() fixedpoint.Money {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.socializedLoss
}

// Collateral, PnL, BrokerPool, InsuranceFund are read primitives; they
// always succeed regardless of Paused.
func (l *Ledger) Collateral(user uuid.UUID) fixedpoint.Money {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fixedpoint.Money(l.tracker.Collateral(user))
}

func (l *Ledger) PnL(user uuid.UUID) fixedpoint.Money {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fixedpoint.Money(l.tracker.PnL(user))
}

func (l *Ledger) BrokerPool() fixedpoint.Money {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fixedpoint.Money(l.tracker.BrokerPool())
}

func (l *Ledger) InsuranceFund() fixedpoint.Money {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fixedpoint.Money(l.tracker.InsuranceFund())
}

func (l *Ledger) nextSequence() int64 {
	l.sequence++
	return l.sequence
}

func (l *Ledger) newBatch(refID RefID, typ JournalType, timestamp int64) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		EventRef:  refID.String(),
		Sequence:  l.nextSequence(),
		Timestamp: timestamp,
	}
}

func (l *Ledger) applyBatch(batch *Batch) error {
	if len(batch.Journals) == 0 {
		return nil
	}
	if err := l.validator.ValidateBatchBalance(batch); err != nil {
		l.state = StatePaused
		return fmt.Errorf("%w: %s", ErrInvariantViolation, err)
	}
	if err := l.tracker.ApplyBatch(batch); err != nil {
		// A batch failing Validate here means our own construction is wrong,
		// not a caller error —invariant violations are fatal.
		l.state = StatePaused
		return fmt.Errorf("%w: %s", ErrInvariantViolation, err)
	}
	if err := l.validateInvariants(batch); err != nil {
		l.state = StatePaused
		return fmt.Errorf("%w: %s", ErrInvariantViolation, err)
	}
	if l.onBatch != nil {
		l.onBatch(batch)
	}
	return nil
}

// validateInvariants re-checks every account the batch touched, plus the
// two system accounts, after the batch has been applied. Called with the
// batch already committed to the tracker — a failure here means the ledger
// itself has drifted out of a valid state, not that the caller's request
// was bad, so the caller pauses the ledger on error.
func (l *Ledger) validateInvariants(batch *Batch) error {
	seen := make(map[uuid.UUID]struct{})
	for _, j := range batch.Journals {
		for _, key := range [2]AccountKey{j.DebitAccount, j.CreditAccount} {
			if key.Scope != AccountScopeUser {
				continue
			}
			userID := uuid.UUID(key.EntityID)
			if _, ok := seen[userID]; ok {
				continue
			}
			seen[userID] = struct{}{}
			if err := l.validator.ValidateUserCollateralNonNegative(userID); err != nil {
				return err
			}
			if err := l.validator.ValidateUserPnLNonNegative(userID); err != nil {
				return err
			}
		}
	}
	return l.validator.ValidateSystemAccountsNonNegative()
}

// ---- 4.3.1 User primitives ----

// DepositCollateral requires amount > 0, transfers stable tokens in, and
// increments collateral[user].
func (l *Ledger) DepositCollateral(ctx context.Context, user uuid.UUID, amount fixedpoint.Money, refID RefID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StatePaused {
		return ErrPaused
	}
	if amount == 0 {
		return ErrZeroAmount
	}
	dup, err := l.dedup.Contains(ctx, refID)
	if err != nil {
		return err
	}
	if dup {
		return ErrDuplicateRefId
	}
	if err := l.dedup.Insert(ctx, refID); err != nil {
		return err
	}

	now := l.clock.NowUnix()
	batch := l.newBatch(refID, JournalTypeDepositCollateral, now)
	batch.Journals = append(batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       batch.BatchID,
		EventRef:      refID.String(),
		Sequence:      batch.Sequence,
		DebitAccount:  NewUserAccountKey(user, SubTypeCollateral),
		CreditAccount: NewExternalAccountKey(SubTypeExternalToken),
		AssetID:       StableAssetID,
		Amount:        int64(amount),
		JournalType:   JournalTypeDepositCollateral,
		Timestamp:     now,
	})
	if err := l.applyBatch(batch); err != nil {
		return err
	}
	l.lastDepositTimestamp[user] = now
	return nil
}

func (l *Ledger) checkCooldown(user uuid.UUID, now int64) error {
	if l.cfg.WithdrawalCooldownSeconds <= 0 {
		return nil
	}
	last, ok := l.lastDepositTimestamp[user]
	if !ok {
		return nil
	}
	elapsed := now - last
	if elapsed >= l.cfg.WithdrawalCooldownSeconds {
		return nil
	}
	return &WithdrawalCooldownActiveError{Remaining: l.cfg.WithdrawalCooldownSeconds - elapsed}
}

// checkDailyCaps reads the would-be post-increment totals (treating a bucket
// from an earlier day as zero) but records no withdrawal. Its only write is
// an empty bucket for a user seen for the first time, which commitDailyCaps
// relies on; a duplicate refId that aborts after this check therefore moves
// no cap totals. Callers that pass this check still need to call
// commitDailyCaps once the dedup insert has succeeded.
func (l *Ledger) checkDailyCaps(user uuid.UUID, amount fixedpoint.Money, now int64) error {
	today := now / 86400

	userBucket, ok := l.userCapBuckets[user]
	if !ok {
		userBucket = &DailyCapBucket{Day: today}
		l.userCapBuckets[user] = userBucket
	}
	userWithdrawn := userBucket.Withdrawn
	if userBucket.Day != today {
		userWithdrawn = 0
	}
	if l.cfg.UserDailyCap > 0 && userWithdrawn+amount > l.cfg.UserDailyCap {
		return ErrExceedsUserDailyCap
	}

	globalWithdrawn := l.globalCapBucket.Withdrawn
	if l.globalCapBucket.Day != today {
		globalWithdrawn = 0
	}
	if l.cfg.GlobalDailyCap > 0 && globalWithdrawn+amount > l.cfg.GlobalDailyCap {
		return ErrExceedsGlobalDailyCap
	}

	return nil
}

// commitDailyCaps records amount against the per-user and global withdrawal
// buckets, rolling each to the current day first. Only called once the
// dedup gate has accepted refID, so a replayed withdraw never consumes
// cap budget for a mutation that doesn't happen.
func (l *Ledger) commitDailyCaps(user uuid.UUID, amount fixedpoint.Money, now int64) {
	today := now / 86400

	userBucket := l.userCapBuckets[user]
	if userBucket.Day != today {
		userBucket.Day = today
		userBucket.Withdrawn = 0
	}
	userBucket.Withdrawn += amount

	if l.globalCapBucket.Day != today {
		l.globalCapBucket.Day = today
		l.globalCapBucket.Withdrawn = 0
	}
	l.globalCapBucket.Withdrawn += amount
}

// WithdrawCollateral enforces: amount>0, sufficient
// balance, cooldown, daily caps, then decrement and transfer out.
func (l *Ledger) WithdrawCollateral(ctx context.Context, user uuid.UUID, amount fixedpoint.Money, refID RefID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.withdrawLocked(ctx, user, amount, refID, SubTypeCollateral, JournalTypeWithdrawCollateral)
}

// WithdrawPnL is symmetric to WithdrawCollateral but operates on pnl[user]
// — the only primitive that reduces pnl[u].
func (l *Ledger) WithdrawPnL(ctx context.Context, user uuid.UUID, amount fixedpoint.Money, refID RefID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.withdrawLocked(ctx, user, amount, refID, SubTypePnL, JournalTypeWithdrawPnL)
}

func (l *Ledger) withdrawLocked(ctx context.Context, user uuid.UUID, amount fixedpoint.Money, refID RefID, subType AccountSubType, journalType JournalType) error {
	if l.state == StatePaused {
		return ErrPaused
	}
	if amount == 0 {
		return ErrZeroAmount
	}
	balance := fixedpoint.Money(l.tracker.GetBalance(NewUserAccountKey(user, subType)))
	if balance < amount {
		return ErrInsufficientBalance
	}
	now := l.clock.NowUnix()
	if err := l.checkCooldown(user, now); err != nil {
		return err
	}
	if err := l.checkDailyCaps(user, amount, now); err != nil {
		return err
	}

	dup, err := l.dedup.Contains(ctx, refID)
	if err != nil {
		return err
	}
	if dup {
		return ErrDuplicateRefId
	}
	if err := l.dedup.Insert(ctx, refID); err != nil {
		return err
	}
	l.commitDailyCaps(user, amount, now)

	batch := l.newBatch(refID, journalType, now)
	batch.Journals = append(batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       batch.BatchID,
		EventRef:      refID.String(),
		Sequence:      batch.Sequence,
		DebitAccount:  NewExternalAccountKey(SubTypeExternalToken),
		CreditAccount: NewUserAccountKey(user, subType),
		AssetID:       StableAssetID,
		Amount:        int64(amount),
		JournalType:   journalType,
		Timestamp:     now,
	})
	return l.applyBatch(batch)
}

// ---- 4.3.3 Broker primitives ----

func (l *Ledger) BrokerDeposit(ctx context.Context, amount fixedpoint.Money, refID RefID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StatePaused {
		return ErrPaused
	}
	if amount == 0 {
		return ErrZeroAmount
	}
	dup, err := l.dedup.Contains(ctx, refID)
	if err != nil {
		return err
	}
	if dup {
		return ErrDuplicateRefId
	}
	if err := l.dedup.Insert(ctx, refID); err != nil {
		return err
	}
	now := l.clock.NowUnix()
	batch := l.newBatch(refID, JournalTypeBrokerDeposit, now)
	batch.Journals = append(batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       batch.BatchID,
		EventRef:      refID.String(),
		Sequence:      batch.Sequence,
		DebitAccount:  NewSystemAccountKey(SubTypeBrokerPool),
		CreditAccount: NewExternalAccountKey(SubTypeExternalToken),
		AssetID:       StableAssetID,
		Amount:        int64(amount),
		JournalType:   JournalTypeBrokerDeposit,
		Timestamp:     now,
	})
	return l.applyBatch(batch)
}

func (l *Ledger) BrokerWithdraw(ctx context.Context, amount fixedpoint.Money, refID RefID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StatePaused {
		return ErrPaused
	}
	if amount == 0 {
		return ErrZeroAmount
	}
	if fixedpoint.Money(l.tracker.BrokerPool()) < amount {
		return ErrInsufficientBrokerPool
	}
	dup, err := l.dedup.Contains(ctx, refID)
	if err != nil {
		return err
	}
	if dup {
		return ErrDuplicateRefId
	}
	if err := l.dedup.Insert(ctx, refID); err != nil {
		return err
	}
	now := l.clock.NowUnix()
	batch := l.newBatch(refID, JournalTypeBrokerWithdraw, now)
	batch.Journals = append(batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       batch.BatchID,
		EventRef:      refID.String(),
		Sequence:      batch.Sequence,
		DebitAccount:  NewExternalAccountKey(SubTypeExternalToken),
		CreditAccount: NewSystemAccountKey(SubTypeBrokerPool),
		AssetID:       StableAssetID,
		Amount:        int64(amount),
		JournalType:   JournalTypeBrokerWithdraw,
		Timestamp:     now,
	})
	return l.applyBatch(batch)
}

// ---- 4.3.4 Circuit breaker ----

// circuitBreakerStep appends (now, amount) to the rolling window, prunes
// records older than the window, and trips the breaker if the sum exceeds
// threshold. Only called for settlement primitives that actually move
// money; a zero amount is a no-op.
func (l *Ledger) circuitBreakerStep(amount fixedpoint.Money, now int64) error {
	if l.cfg.CircuitBreakerThreshold == 0 || amount == 0 {
		return nil
	}
	l.breakerWindow = append(l.breakerWindow, circuitBreakerRecord{Timestamp: now, Amount: amount})

	kept := l.breakerWindow[:0]
	var sum fixedpoint.Money
	for _, rec := range l.breakerWindow {
		if now-rec.Timestamp > l.cfg.CircuitBreakerWindowSeconds {
			continue
		}
		kept = append(kept, rec)
		sum += rec.Amount
	}
	l.breakerWindow = kept

	if sum > l.cfg.CircuitBreakerThreshold {
		l.state = StatePaused
		return ErrCircuitBreakerTriggered
	}
	return nil
}

// ---- 4.3.2 Settlement primitives ----

// CreditPnl: amount>0; refId unused; brokerPool>=amount; circuit-breaker
// step; insert refId; brokerPool-=amount; pnl[user]+=amount.
func (l *Ledger) CreditPnl(ctx context.Context, user uuid.UUID, amount fixedpoint.Money, refID RefID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.creditPnlLocked(ctx, user, amount, refID, "")
}

// CreditPnlGuarded is the guarded variant consulting the trading-hours guard
// and PriceOracle before any check or mutation.
func (l *Ledger) CreditPnlGuarded(ctx context.Context, user uuid.UUID, amount fixedpoint.Money, refID RefID, symbol string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.creditPnlLocked(ctx, user, amount, refID, symbol)
}

func (l *Ledger) checkGuards(ctx context.Context, symbol string) error {
	if symbol == "" {
		return nil
	}
	now := l.clock.NowUnix()
	if l.guard != nil && !l.guard.IsOpen(symbol, now) {
		return ErrUnauthorized
	}
	if l.oracle != nil {
		if _, _, _, err := l.oracle.GetValidatedPrice(ctx, symbol); err != nil {
			return err
		}
	}
	return nil
}

func (l *Ledger) creditPnlLocked(ctx context.Context, user uuid.UUID, amount fixedpoint.Money, refID RefID, symbol string) error {
	if l.state == StatePaused {
		return ErrPaused
	}
	if err := l.checkGuards(ctx, symbol); err != nil {
		return err
	}
	if amount == 0 {
		return ErrZeroAmount
	}
	dup, err := l.dedup.Contains(ctx, refID)
	if err != nil {
		return err
	}
	if dup {
		return ErrDuplicateRefId
	}
	if fixedpoint.Money(l.tracker.BrokerPool()) < amount {
		return ErrInsufficientBrokerPool
	}
	now := l.clock.NowUnix()
	if err := l.circuitBreakerStep(amount, now); err != nil {
		return err
	}
	if err := l.dedup.Insert(ctx, refID); err != nil {
		return err
	}

	batch := l.newBatch(refID, JournalTypeCreditPnl, now)
	batch.Journals = append(batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       batch.BatchID,
		EventRef:      refID.String(),
		Sequence:      batch.Sequence,
		DebitAccount:  NewUserAccountKey(user, SubTypePnL),
		CreditAccount: NewSystemAccountKey(SubTypeBrokerPool),
		AssetID:       StableAssetID,
		Amount:        int64(amount),
		JournalType:   JournalTypeCreditPnl,
		Timestamp:     now,
	})
	return l.applyBatch(batch)
}

// SeizeCollateral: amount>0; refId unused; collateral[user]>=amount;
// circuit-breaker step; insert refId; collateral[user]-=amount;
// brokerPool+=amount.
func (l *Ledger) SeizeCollateral(ctx context.Context, user uuid.UUID, amount fixedpoint.Money, refID RefID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seizeCollateralLocked(ctx, user, amount, refID, "")
}

func (l *Ledger) SeizeCollateralGuarded(ctx context.Context, user uuid.UUID, amount fixedpoint.Money, refID RefID, symbol string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seizeCollateralLocked(ctx, user, amount, refID, symbol)
}

func (l *Ledger) seizeCollateralLocked(ctx context.Context, user uuid.UUID, amount fixedpoint.Money, refID RefID, symbol string) error {
	if l.state == StatePaused {
		return ErrPaused
	}
	if err := l.checkGuards(ctx, symbol); err != nil {
		return err
	}
	if amount == 0 {
		return ErrZeroAmount
	}
	dup, err := l.dedup.Contains(ctx, refID)
	if err != nil {
		return err
	}
	if dup {
		return ErrDuplicateRefId
	}
	if fixedpoint.Money(l.tracker.Collateral(user)) < amount {
		return ErrInsufficientBalance
	}
	now := l.clock.NowUnix()
	if err := l.circuitBreakerStep(amount, now); err != nil {
		return err
	}
	if err := l.dedup.Insert(ctx, refID); err != nil {
		return err
	}

	batch := l.newBatch(refID, JournalTypeSeizeCollateral, now)
	batch.Journals = append(batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       batch.BatchID,
		EventRef:      refID.String(),
		Sequence:      batch.Sequence,
		DebitAccount:  NewSystemAccountKey(SubTypeBrokerPool),
		CreditAccount: NewUserAccountKey(user, SubTypeCollateral),
		AssetID:       StableAssetID,
		Amount:        int64(amount),
		JournalType:   JournalTypeSeizeCollateral,
		Timestamp:     now,
	})
	return l.applyBatch(batch)
}

// SeizeCappedResult is the return value of SeizeCollateralCapped.
type SeizeCappedResult struct {
	Seized    fixedpoint.Money
	Shortfall fixedpoint.Money
}

// SeizeCollateralCapped consumes refID unconditionally (the primitive never
// fails on insufficient collateral — it caps instead), then applies the
// insurance waterfall on any shortfall. The only ways it can still fail are
// a duplicate refId or a circuit-breaker trip on the amount actually seized
// — see the inline note below on why that does not contradict "consumes
// refId unconditionally".
func (l *Ledger) SeizeCollateralCapped(ctx context.Context, user uuid.UUID, requested fixedpoint.Money, refID RefID) (SeizeCappedResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StatePaused {
		return SeizeCappedResult{}, ErrPaused
	}
	if requested == 0 {
		return SeizeCappedResult{}, ErrZeroAmount
	}
	dup, err := l.dedup.Contains(ctx, refID)
	if err != nil {
		return SeizeCappedResult{}, err
	}
	if dup {
		return SeizeCappedResult{}, ErrDuplicateRefId
	}

	collateral := fixedpoint.Money(l.tracker.Collateral(user))
	seized := fixedpoint.Min(collateral, requested)
	shortfall := requested - seized

	now := l.clock.NowUnix()
	// "actually moves money" — the breaker only sees seized,
	// never the unfunded shortfall portion.
	if err := l.circuitBreakerStep(seized, now); err != nil {
		return SeizeCappedResult{}, err
	}

	if err := l.dedup.Insert(ctx, refID); err != nil {
		return SeizeCappedResult{}, err
	}

	batch := l.newBatch(refID, JournalTypeSeizeCollateralCapped, now)

	if seized > 0 {
		batch.Journals = append(batch.Journals, Journal{
			JournalID:     uuid.New(),
			BatchID:       batch.BatchID,
			EventRef:      refID.String(),
			Sequence:      batch.Sequence,
			DebitAccount:  NewSystemAccountKey(SubTypeBrokerPool),
			CreditAccount: NewUserAccountKey(user, SubTypeCollateral),
			AssetID:       StableAssetID,
			Amount:        int64(seized),
			JournalType:   JournalTypeSeizeCollateralCapped,
			Timestamp:     now,
		})
	}

	var evt ShortfallEvent
	if shortfall > 0 {
		insurance := fixedpoint.Money(l.tracker.InsuranceFund())
		if insurance >= shortfall {
			batch.Journals = append(batch.Journals, Journal{
				JournalID:     uuid.New(),
				BatchID:       batch.BatchID,
				EventRef:      refID.String(),
				Sequence:      batch.Sequence,
				DebitAccount:  NewSystemAccountKey(SubTypeBrokerPool),
				CreditAccount: NewSystemAccountKey(SubTypeInsuranceFund),
				AssetID:       StableAssetID,
				Amount:        int64(shortfall),
				JournalType:   JournalTypeInsuranceWaterfall,
				Timestamp:     now,
			})
			evt = ShortfallEvent{User: user, Shortfall: shortfall, CoveredByInsurance: shortfall, Socialized: 0}
		} else {
			if insurance > 0 {
				batch.Journals = append(batch.Journals, Journal{
					JournalID:     uuid.New(),
					BatchID:       batch.BatchID,
					EventRef:      refID.String(),
					Sequence:      batch.Sequence,
					DebitAccount:  NewSystemAccountKey(SubTypeBrokerPool),
					CreditAccount: NewSystemAccountKey(SubTypeInsuranceFund),
					AssetID:       StableAssetID,
					Amount:        int64(insurance),
					JournalType:   JournalTypeInsuranceWaterfall,
					Timestamp:     now,
				})
			}
			socialized := shortfall - insurance
			l.socializedLoss += socialized
			evt = ShortfallEvent{User: user, Shortfall: shortfall, CoveredByInsurance: insurance, Socialized: socialized}
		}
	}

	if err := l.applyBatch(batch); err != nil {
		return SeizeCappedResult{}, err
	}
	if shortfall > 0 && l.onShortfall != nil {
		l.onShortfall(evt)
	}

	return SeizeCappedResult{Seized: seized, Shortfall: shortfall}, nil
}

// ---- 4.7 Netting batch primitive (invoked by NettingEngine) ----

// NettingLeaf is one per-user net obligation from a committed netting batch
//: NetAmount > 0 credits pnl[user] out of the broker pool;
// NetAmount < 0 debits pnl[user] into the broker pool. NetAmount == 0 is
// dropped — a user fully netted out has nothing to apply.
type NettingLeaf struct {
	User      uuid.UUID
	NetAmount int64
}

// ApplyNettingBatch consumes batchID via the refId dedup set to guarantee
// at-most-once application, then applies every leaf as a single atomic
// batch against pnl[user] — never collateral. The circuit breaker does not
// gate this primitive: it only scopes the per-call settlement primitives
// (creditPnl/seizeCollateral), while a netting batch is a pre-computed,
// already-net-zero redistribution the NettingEngine commits as one unit.
func (l *Ledger) ApplyNettingBatch(ctx context.Context, batchID RefID, leaves []NettingLeaf) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StatePaused {
		return ErrPaused
	}
	dup, err := l.dedup.Contains(ctx, batchID)
	if err != nil {
		return err
	}
	if dup {
		return ErrDuplicateRefId
	}
	if err := l.dedup.Insert(ctx, batchID); err != nil {
		return err
	}

	now := l.clock.NowUnix()
	batch := l.newBatch(batchID, JournalTypeNettingBatch, now)
	for _, leaf := range leaves {
		if leaf.NetAmount == 0 {
			continue
		}
		j := Journal{
			JournalID:   uuid.New(),
			BatchID:     batch.BatchID,
			EventRef:    batchID.String(),
			Sequence:    batch.Sequence,
			AssetID:     StableAssetID,
			JournalType: JournalTypeNettingBatch,
			Timestamp:   now,
		}
		if leaf.NetAmount > 0 {
			j.DebitAccount = NewUserAccountKey(leaf.User, SubTypePnL)
			j.CreditAccount = NewSystemAccountKey(SubTypeBrokerPool)
			j.Amount = leaf.NetAmount
		} else {
			j.DebitAccount = NewSystemAccountKey(SubTypeBrokerPool)
			j.CreditAccount = NewUserAccountKey(leaf.User, SubTypePnL)
			j.Amount = -leaf.NetAmount
		}
		batch.Journals = append(batch.Journals, j)
	}
	return l.applyBatch(batch)
}
