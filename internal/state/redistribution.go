package state

import (
	fpmath "TroveLedger/internal/math"

	"github.com/holiman/uint256"
)

// Redistribution tracks the global per-unit-staked loss accumulators
// L_Collateral and L_Debt. When a liquidation redistributes, each
// accumulator grows by amount/totalStakes; a Trove's pending share is
// stake * (L_now - L_at_snapshot), applied lazily on its next touch.
//
// Division truncates, so the running remainder of each redistribution is
// carried into the next one instead of being lost.
type Redistribution struct {
	collateralPerStake uint256.Int
	debtPerStake       uint256.Int

	collateralErr uint256.Int
	debtErr       uint256.Int
}

func NewRedistribution() *Redistribution {
	return &Redistribution{}
}

func (rd *Redistribution) CollateralPerStake() *uint256.Int {
	return rd.collateralPerStake.Clone()
}

func (rd *Redistribution) DebtPerStake() *uint256.Int {
	return rd.debtPerStake.Clone()
}

// Distribute folds a redistributed (collateral, debt) pair into the
// accumulators against the current stake total.
func (rd *Redistribution) Distribute(collateral, debt, totalStakes *uint256.Int) error {
	if totalStakes.IsZero() {
		// No surviving stakes to absorb the loss. The engine prevents
		// this by refusing to liquidate the last Trove.
		return fpmath.ErrDivideByZero
	}

	newCollPerStake, newCollErr, err := dividePerStake(collateral, &rd.collateralErr, totalStakes)
	if err != nil {
		return err
	}
	newDebtPerStake, newDebtErr, err := dividePerStake(debt, &rd.debtErr, totalStakes)
	if err != nil {
		return err
	}

	accColl, err := fpmath.Add(&rd.collateralPerStake, newCollPerStake)
	if err != nil {
		return err
	}
	accDebt, err := fpmath.Add(&rd.debtPerStake, newDebtPerStake)
	if err != nil {
		return err
	}

	rd.collateralPerStake = *accColl
	rd.debtPerStake = *accDebt
	rd.collateralErr = *newCollErr
	rd.debtErr = *newDebtErr
	return nil
}

// dividePerStake computes (amount*One + carriedErr) / totalStakes and the
// new remainder to carry forward.
func dividePerStake(amount, carriedErr, totalStakes *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	numerator, err := fpmath.MulDiv(amount, fpmath.One, uint256.NewInt(1))
	if err != nil {
		return nil, nil, err
	}
	numerator, err = fpmath.Add(numerator, carriedErr)
	if err != nil {
		return nil, nil, err
	}

	perStake := new(uint256.Int).Div(numerator, totalStakes)

	consumed, err := fpmath.MulDiv(perStake, totalStakes, uint256.NewInt(1))
	if err != nil {
		return nil, nil, err
	}
	remainder, err := fpmath.Sub(numerator, consumed)
	if err != nil {
		return nil, nil, err
	}
	return perStake, remainder, nil
}

// PendingRewards returns the (collateral, debt) share accrued to a Trove
// since its snapshot. Zero for Troves with no stake.
func (rd *Redistribution) PendingRewards(tr *Trove) (*uint256.Int, *uint256.Int, error) {
	if tr.Stake.IsZero() {
		return new(uint256.Int), new(uint256.Int), nil
	}

	collDelta, err := fpmath.Sub(&rd.collateralPerStake, &tr.Snapshot.CollateralPerStake)
	if err != nil {
		return nil, nil, err
	}
	debtDelta, err := fpmath.Sub(&rd.debtPerStake, &tr.Snapshot.DebtPerStake)
	if err != nil {
		return nil, nil, err
	}

	collReward, err := fpmath.MulDiv(&tr.Stake, collDelta, fpmath.One)
	if err != nil {
		return nil, nil, err
	}
	debtReward, err := fpmath.MulDiv(&tr.Stake, debtDelta, fpmath.One)
	if err != nil {
		return nil, nil, err
	}
	return collReward, debtReward, nil
}

// HasPendingRewards reports whether the Trove's snapshot lags the global
// accumulators.
func (rd *Redistribution) HasPendingRewards(tr *Trove) bool {
	if !tr.IsActive() {
		return false
	}
	return tr.Snapshot.CollateralPerStake.Cmp(&rd.collateralPerStake) < 0 ||
		tr.Snapshot.DebtPerStake.Cmp(&rd.debtPerStake) < 0
}

// TakeSnapshot pins the Trove's snapshot to the current accumulators.
func (rd *Redistribution) TakeSnapshot(tr *Trove) {
	tr.Snapshot.CollateralPerStake = *rd.collateralPerStake.Clone()
	tr.Snapshot.DebtPerStake = *rd.debtPerStake.Clone()
}

// Errors returns the carried truncation remainders (snapshot capture).
func (rd *Redistribution) Errors() (*uint256.Int, *uint256.Int) {
	return rd.collateralErr.Clone(), rd.debtErr.Clone()
}

// Restore directly installs accumulator values (snapshot restore only).
func (rd *Redistribution) Restore(collPerStake, debtPerStake, collErr, debtErr *uint256.Int) {
	rd.collateralPerStake = *collPerStake.Clone()
	rd.debtPerStake = *debtPerStake.Clone()
	rd.collateralErr = *collErr.Clone()
	rd.debtErr = *debtErr.Clone()
}
