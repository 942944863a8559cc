package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// InvariantValidator checks the global invariants after every
// primitive. Grounded on the prior validator.go, narrowed to the
// settlement engine's invariant set.
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{tracker: tracker}
}

// ValidateBatchBalance verifies a batch is balanced-by-construction.
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateUserCollateralNonNegative checks collateral[user] >= 0.
func (v *InvariantValidator) ValidateUserCollateralNonNegative(userID uuid.UUID) error {
	return v.tracker.ValidateNonNegative(NewUserAccountKey(userID, SubTypeCollateral))
}

// ValidateUserPnLNonNegative checks pnl[user] >= 0.
func (v *InvariantValidator) ValidateUserPnLNonNegative(userID uuid.UUID) error {
	return v.tracker.ValidateNonNegative(NewUserAccountKey(userID, SubTypePnL))
}

// ValidateSystemAccountsNonNegative checks brokerPool and insuranceFund >= 0.
func (v *InvariantValidator) ValidateSystemAccountsNonNegative() error {
	if err := v.tracker.ValidateNonNegative(NewSystemAccountKey(SubTypeBrokerPool)); err != nil {
		return err
	}
	return v.tracker.ValidateNonNegative(NewSystemAccountKey(SubTypeInsuranceFund))
}

// ValidateVaultBalance verifies vaultStableBalance equals
// the externally tracked total (passed in by the caller, who maintains it
// incrementally as transfers occur at the external boundary).
func (v *InvariantValidator) ValidateVaultBalance(expected int64) error {
	got := v.tracker.VaultStableBalance()
	if got != expected {
		return fmt.Errorf("vault stable balance mismatch: tracker=%d expected=%d", got, expected)
	}
	return nil
}
