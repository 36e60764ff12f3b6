package core

import "errors"

// Operation rejections. Each aborts the event with no state change; the
// envelope is never written for a rejected command.
var (
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrNoPrice              = errors.New("no oracle price yet")
	ErrBelowMCR             = errors.New("collateral ratio below minimum")
	ErrBelowCCR             = errors.New("operation would breach critical system ratio")
	ErrForbiddenInRecovery  = errors.New("operation forbidden in recovery mode")
	ErrTroveNotLiquidatable = errors.New("trove not liquidatable")
	ErrLastTrove            = errors.New("cannot liquidate the last trove")
	ErrRedemptionIncomplete = errors.New("redemption cannot be fully filled")
)
