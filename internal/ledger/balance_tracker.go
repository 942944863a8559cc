package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// BalanceTracker maintains in-memory account balances. Grounded on the
// prior balance_tracker.go, narrowed to the settlement engine's account
// set (collateral, pnl, broker pool, insurance fund).
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyJournal applies a single journal entry to balances.
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] += j.Amount
	bt.balances[j.CreditAccount] -= j.Amount
}

// ApplyBatch applies all journals in a batch.
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}
	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}
	return nil
}

// GetBalance returns the current balance for an account.
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// Collateral returns collateral[user].
func (bt *BalanceTracker) Collateral(userID uuid.UUID) int64 {
	return bt.GetBalance(NewUserAccountKey(userID, SubTypeCollateral))
}

// PnL returns pnl[user].
func (bt *BalanceTracker) PnL(userID uuid.UUID) int64 {
	return bt.GetBalance(NewUserAccountKey(userID, SubTypePnL))
}

// BrokerPool returns the broker pool balance.
func (bt *BalanceTracker) BrokerPool() int64 {
	return bt.GetBalance(NewSystemAccountKey(SubTypeBrokerPool))
}

// InsuranceFund returns the insurance fund balance.
func (bt *BalanceTracker) InsuranceFund() int64 {
	return bt.GetBalance(NewSystemAccountKey(SubTypeInsuranceFund))
}

// ValidateNonNegative checks that a specific account balance is >= 0 — no
// account balance may ever go negative.
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// ComputeGlobalBalance sums all account balances per asset, including the
// external token-transfer boundary, so a balanced ledger yields zero for
// every asset. The integrity-verification endpoint does not call it; it runs
// the same sum in SQL over the persisted projection.
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]int64 {
	totals := make(map[AssetID]int64)
	for key, balance := range bt.balances {
		totals[key.AssetID] += balance
	}
	return totals
}

// VaultStableBalance computes Σcollateral + Σpnl + brokerPool + insuranceFund
// restricted to non-external accounts. It sums every
// user collateral/pnl account plus the two system accounts — the external
// token account is deliberately excluded, since it is the accounting plug
// against the outside world, not part of the vault's own balance.
func (bt *BalanceTracker) VaultStableBalance() int64 {
	var total int64
	for key, balance := range bt.balances {
		if key.Scope == AccountScopeExternal {
			continue
		}
		total += balance
	}
	return total
}

// Snapshot returns a copy of all balances (for state hashing and restore).
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}

// Restore replaces all balances (used by snapshot-restore on warm start).
func (bt *BalanceTracker) Restore(balances map[AccountKey]int64) {
	bt.balances = make(map[AccountKey]int64, len(balances))
	for k, v := range balances {
		bt.balances[k] = v
	}
}
