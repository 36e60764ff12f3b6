package query

import (
	"github.com/google/uuid"
)

// BalanceResponse represents a user's stable token balance for API queries.
// Balances are wad decimal strings.
type BalanceResponse struct {
	UserID uuid.UUID `json:"user_id"`

	// Ledger balance (from journal entries)
	StableBalance string `json:"stable_balance"`

	// Metadata
	AsOfSequence int64 `json:"as_of_sequence"` // last applied event sequence
}

// SystemStatusResponse contains system-wide pool holdings and derived
// ratios, computed at query time from the projected pool accounts.
type SystemStatusResponse struct {
	// Pool holdings
	ActiveCollateral    string `json:"active_collateral"`
	ActiveDebt          string `json:"active_debt"`
	DefaultCollateral   string `json:"default_collateral"`
	DefaultDebt         string `json:"default_debt"`
	StabilityCollateral string `json:"stability_collateral"`
	StabilityDeposits   string `json:"stability_deposits"`

	// Derived (computed at query time, NOT ledger balances)
	TotalCollateral string `json:"total_collateral"`
	TotalDebt       string `json:"total_debt"`

	// Latest oracle price; empty until the first price update lands.
	Price         string `json:"price,omitempty"`
	PriceSequence int64  `json:"price_sequence,omitempty"`

	// Total collateral ratio and the recovery-mode flag, derived from the
	// projected totals and price. TCR is empty with no price or no debt.
	TCR          string `json:"tcr,omitempty"`
	RecoveryMode bool   `json:"recovery_mode"`

	AsOfSequence int64 `json:"as_of_sequence"`
}
