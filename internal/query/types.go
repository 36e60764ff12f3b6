package query

import "github.com/google/uuid"

// TroveResponse represents a Trove for API queries. Wads are decimal strings.
type TroveResponse struct {
	Owner        uuid.UUID `json:"owner"`
	Collateral   string    `json:"collateral"`
	Debt         string    `json:"debt"`
	Stake        string    `json:"stake"`
	Status       int32     `json:"status"`
	Version      int64     `json:"version"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// StabilityDepositResponse represents a stability pool deposit for API queries.
// CompoundedDeposit and CollateralGain are derived at query time from the
// projected P/S snapshots.
type StabilityDepositResponse struct {
	Depositor         uuid.UUID `json:"depositor"`
	InitialDeposit    string    `json:"initial_deposit"`
	CompoundedDeposit string    `json:"compounded_deposit"`
	CollateralGain    string    `json:"collateral_gain"`
	Epoch             int64     `json:"epoch"`
	Scale             int64     `json:"scale"`
	AsOfSequence      int64     `json:"as_of_sequence"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	AssetID       uint16 `json:"asset_id"`
	Amount        string `json:"amount"`
	JournalType   int32  `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
}

// UnbalancedAsset represents an asset with non-zero global balance sum.
type UnbalancedAsset struct {
	AssetID   uint16 `json:"asset_id"`
	Imbalance string `json:"imbalance"`
}
