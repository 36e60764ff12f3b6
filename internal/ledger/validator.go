package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateGlobalBalance verifies the ledger is zero-sum per asset
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for assetID, total := range totals {
		if total.Sign() != 0 {
			assetName, _ := GetAssetName(assetID)
			return fmt.Errorf("global balance for %s is non-zero: %s", assetName, total)
		}
	}

	return nil
}

// ValidatePoolsNonNegative checks no system pool account is overdrawn
func (v *InvariantValidator) ValidatePoolsNonNegative() error {
	checks := []AccountKey{
		NewSystemAccountKey(SubTypeSystemActivePool, AssetCollateral),
		NewSystemAccountKey(SubTypeSystemDefaultPool, AssetCollateral),
		NewSystemAccountKey(SubTypeSystemStabilityPool, AssetCollateral),
		NewSystemAccountKey(SubTypeSystemStabilityPool, AssetStable),
		NewSystemAccountKey(SubTypeSystemFees, AssetStable),
	}
	for _, key := range checks {
		if err := v.tracker.ValidateNonNegative(key); err != nil {
			return err
		}
	}
	return nil
}

// ValidateUserStableNonNegative checks a user cannot spend tokens they do
// not hold
func (v *InvariantValidator) ValidateUserStableNonNegative(userID uuid.UUID) error {
	key := NewUserAccountKey(userID, SubTypeStableBalance, AssetStable)
	return v.tracker.ValidateNonNegative(key)
}
