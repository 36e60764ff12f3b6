package math

import "github.com/holiman/uint256"

// Protocol ratio constants, 18-decimal scale. Treated as constants.
var (
	// MCR is the minimum collateral ratio (110%) below which a Trove is
	// liquidatable in normal mode.
	MCR = uint256.NewInt(1_100_000_000_000_000_000)

	// CCR is the critical system ratio (150%) below which recovery mode
	// activates.
	CCR = uint256.NewInt(1_500_000_000_000_000_000)

	// BorrowFeeRate is the issuance fee charged on minted debt (0.5%),
	// capitalized into the Trove's debt.
	BorrowFeeRate = uint256.NewInt(5_000_000_000_000_000)
)

// CollateralRatio computes collateral*price/debt at extended precision.
// An empty Trove (no collateral, no debt) is defined as exactly One (100%),
// a liquidation-safe sentinel. A Trove with collateral but no debt has an
// infinite ratio, reported as MaxValue.
func CollateralRatio(collateral, debt, price *uint256.Int) (*uint256.Int, error) {
	if collateral.IsZero() && debt.IsZero() {
		return One.Clone(), nil
	}
	if debt.IsZero() {
		return MaxValue.Clone(), nil
	}
	return MulDiv(collateral, price, debt)
}

// IssuanceFee returns the fee capitalized onto newly minted debt.
func IssuanceFee(debtAmount *uint256.Int) (*uint256.Int, error) {
	return WadMul(debtAmount, BorrowFeeRate)
}

// LessRisky reports whether Trove a (collateralA, debtA) has a strictly
// higher collateral ratio than Trove b. The comparison cross-multiplies
// (cA*dB vs cB*dA) so it is exact and independent of the oracle price,
// which cancels out of the ordering. Zero-debt Troves sort as infinitely
// safe.
func LessRisky(collateralA, debtA, collateralB, debtB *uint256.Int) bool {
	if debtA.IsZero() {
		return true
	}
	if debtB.IsZero() {
		return false
	}

	lhs := getBig()
	rhs := getBig()
	defer putBig(lhs)
	defer putBig(rhs)

	lhs.Mul(collateralA.ToBig(), debtB.ToBig())
	rhs.Mul(collateralB.ToBig(), debtA.ToBig())
	return lhs.Cmp(rhs) > 0
}
