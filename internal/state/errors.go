package state

import "errors"

// Store-level precondition failures. All are raised before any mutation;
// the calling operation aborts with no partial state change.
var (
	ErrTroveNotActive         = errors.New("trove not active")
	ErrTroveAlreadyExists     = errors.New("trove already exists")
	ErrInsufficientCollateral = errors.New("insufficient collateral to withdraw")
	ErrRepaymentExceedsDebt   = errors.New("repayment exceeds outstanding debt")
	ErrNoStabilityDeposit     = errors.New("no stability deposit for account")
)
