package projection

import (
	"math/big"
	"sync"
)

// Journal type codes mirrored from the ledger package; the projection
// consumes flattened int32 values.
const (
	journalTypeOffsetBurn       = 7
	journalTypeOffsetCollateral = 8
	journalTypeRedistribution   = 9
	journalTypeRedemptionBurn   = 12
	journalTypeRedemptionPayout = 13
)

// LiquidationTag identifies one liquidated Trove and the mode and risk
// band it was liquidated under.
type LiquidationTag struct {
	Target string `json:"target"`
	Mode   string `json:"mode"`
	Band   string `json:"band"`
}

// LiquidationHistoryEntry aggregates one liquidation batch: debt cancelled
// against the stability pool, collateral seized or redistributed, and the
// mode-tagged Troves involved. Amounts are wad decimal strings.
type LiquidationHistoryEntry struct {
	Sequence                int64            `json:"sequence"`
	Timestamp               int64            `json:"timestamp"`
	Mode                    string           `json:"mode"`
	DebtOffset              string           `json:"debt_offset"`
	CollateralToStability   string           `json:"collateral_to_stability"`
	CollateralRedistributed string           `json:"collateral_redistributed"`
	Troves                  []LiquidationTag `json:"troves"`
}

// RedemptionHistoryEntry records one redemption step: stable burned and
// collateral paid out.
type RedemptionHistoryEntry struct {
	Sequence       int64  `json:"sequence"`
	Timestamp      int64  `json:"timestamp"`
	StableBurned   string `json:"stable_burned"`
	CollateralPaid string `json:"collateral_paid"`
}

// TroveHistoryProjection maintains queryable liquidation and redemption
// history in memory, derived from journal entries. Bounded; older entries
// roll off and can always be recovered from the event log.
type TroveHistoryProjection struct {
	mu           sync.RWMutex
	maxEntries   int
	liquidations []LiquidationHistoryEntry
	redemptions  []RedemptionHistoryEntry
}

func NewTroveHistoryProjection(maxEntries int) *TroveHistoryProjection {
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	return &TroveHistoryProjection{maxEntries: maxEntries}
}

// sumJournals adds the amounts of all entries with the given journal type.
func sumJournals(entries []JournalEntry, journalType int32) *big.Int {
	total := new(big.Int)
	for _, j := range entries {
		if j.JournalType != journalType {
			continue
		}
		amount, ok := new(big.Int).SetString(j.Amount, 10)
		if !ok {
			continue
		}
		total.Add(total, amount)
	}
	return total
}

// RecordLiquidation derives a liquidation history entry from a processed
// output's journals and mode tags. Outputs that touched nothing are skipped.
func (p *TroveHistoryProjection) RecordLiquidation(output ProjectionOutput) {
	debtOffset := sumJournals(output.JournalEntries, journalTypeOffsetBurn)
	collToSP := sumJournals(output.JournalEntries, journalTypeOffsetCollateral)
	redistributed := sumJournals(output.JournalEntries, journalTypeRedistribution)

	if debtOffset.Sign() == 0 && collToSP.Sign() == 0 &&
		redistributed.Sign() == 0 && len(output.Liquidations) == 0 {
		return
	}

	mode := ""
	if len(output.Liquidations) > 0 {
		// Every Trove in one event shares the mode; bands differ per Trove.
		mode = output.Liquidations[0].Mode
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.liquidations = append(p.liquidations, LiquidationHistoryEntry{
		Sequence:                output.Sequence,
		Timestamp:               output.Timestamp,
		Mode:                    mode,
		DebtOffset:              debtOffset.String(),
		CollateralToStability:   collToSP.String(),
		CollateralRedistributed: redistributed.String(),
		Troves:                  output.Liquidations,
	})
	if len(p.liquidations) > p.maxEntries {
		p.liquidations = p.liquidations[len(p.liquidations)-p.maxEntries:]
	}
}

// RecordRedemption derives a redemption history entry from a processed
// output's journals.
func (p *TroveHistoryProjection) RecordRedemption(output ProjectionOutput) {
	burned := sumJournals(output.JournalEntries, journalTypeRedemptionBurn)
	paid := sumJournals(output.JournalEntries, journalTypeRedemptionPayout)

	if burned.Sign() == 0 && paid.Sign() == 0 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.redemptions = append(p.redemptions, RedemptionHistoryEntry{
		Sequence:       output.Sequence,
		Timestamp:      output.Timestamp,
		StableBurned:   burned.String(),
		CollateralPaid: paid.String(),
	})
	if len(p.redemptions) > p.maxEntries {
		p.redemptions = p.redemptions[len(p.redemptions)-p.maxEntries:]
	}
}

// RecentLiquidations returns the most recent liquidation entries, newest first.
func (p *TroveHistoryProjection) RecentLiquidations(limit int) []LiquidationHistoryEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]LiquidationHistoryEntry, 0, limit)
	for i := len(p.liquidations) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, p.liquidations[i])
	}
	return result
}

// RecentRedemptions returns the most recent redemption entries, newest first.
func (p *TroveHistoryProjection) RecentRedemptions(limit int) []RedemptionHistoryEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]RedemptionHistoryEntry, 0, limit)
	for i := len(p.redemptions) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, p.redemptions[i])
	}
	return result
}
