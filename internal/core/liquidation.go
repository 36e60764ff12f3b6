package core

import (
	"fmt"
	"sort"

	"TroveLedger/internal/event"
	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/state"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Liquidation mode and ICR-band labels, carried on liquidation records and
// the per-mode metric.
const (
	LiquidationModeNormal   = "normal"
	LiquidationModeRecovery = "recovery"

	LiquidationBandBelowOne = "below-100"
	LiquidationBandBelowMCR = "below-mcr"
	LiquidationBandMCRToCCR = "mcr-to-ccr"
)

// LiquidationRecord tags one liquidated Trove with the mode and ICR band
// that selected its path, plus the resulting debt split.
type LiquidationRecord struct {
	Target            uuid.UUID
	Mode              string
	Band              string
	DebtOffset        *uint256.Int
	DebtRedistributed *uint256.Int
	Closed            bool
}

// liquidationSplit is the computed outcome for one Trove before any state
// is touched: how much debt the stability pool absorbs, how much
// redistributes, and whether the Trove is fully drained.
type liquidationSplit struct {
	mode string
	band string

	debtToOffset       *uint256.Int
	collToOffset       *uint256.Int
	debtToRedistribute *uint256.Int
	collToRedistribute *uint256.Int

	closes bool
}

// handleLiquidate liquidates one Trove against the current price.
func (c *DeterministicCore) handleLiquidate(evt *event.Liquidate) ([]*ledger.Batch, error) {
	return c.liquidateOne(evt.Target, evt.IdempotencyKey(), evt.Timestamp.UnixMicro())
}

// handleLiquidateBatch sweeps liquidatable Troves riskiest-first, stopping
// at the cap or at the first Trove that is safe — in ascending-ratio order
// everything after it is safer still.
func (c *DeterministicCore) handleLiquidateBatch(evt *event.LiquidateBatch) ([]*ledger.Batch, error) {
	if evt.MaxTroves <= 0 {
		return nil, fmt.Errorf("%w: batch size %d", ErrInvalidAmount, evt.MaxTroves)
	}

	targets, err := c.trovesByRiskAscendingRatio()
	if err != nil {
		return nil, err
	}

	ref := evt.IdempotencyKey()
	ts := evt.Timestamp.UnixMicro()
	batches := make([]*ledger.Batch, 0)
	liquidated := 0
	var firstErr error

	for _, owner := range targets {
		if liquidated >= evt.MaxTroves {
			break
		}
		stepRef := fmt.Sprintf("%s:%d", ref, liquidated)
		stepBatches, lerr := c.liquidateOne(owner, stepRef, ts)
		if lerr != nil {
			if firstErr == nil {
				firstErr = lerr
			}
			break
		}
		batches = append(batches, stepBatches...)
		liquidated++
	}

	if liquidated == 0 {
		if firstErr != nil {
			return nil, firstErr
		}
		return nil, ErrTroveNotLiquidatable
	}
	return batches, nil
}

// trovesByRiskAscendingRatio returns active owners ordered riskiest first.
// Pending redistribution rewards are included so the ordering matches what
// liquidation will actually see. The comparison cross-multiplies, so it
// holds at any price.
func (c *DeterministicCore) trovesByRiskAscendingRatio() ([]uuid.UUID, error) {
	owners := c.troves.ActiveOwners()

	type ranked struct {
		owner uuid.UUID
		coll  *uint256.Int
		debt  *uint256.Int
	}
	entries := make([]ranked, 0, len(owners))
	for _, owner := range owners {
		tr := c.troves.Get(owner)
		coll, debt, err := c.entireTroveAmounts(tr)
		if err != nil {
			return nil, err
		}
		entries = append(entries, ranked{owner: owner, coll: coll, debt: debt})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		// i sorts first when j is strictly safer.
		return fpmath.LessRisky(entries[j].coll, entries[j].debt, entries[i].coll, entries[i].debt)
	})

	out := make([]uuid.UUID, len(entries))
	for i, e := range entries {
		out[i] = e.owner
	}
	return out, nil
}

// liquidateOne runs the full liquidation state machine for one Trove.
// Eligibility is decided on the entire position (pending redistribution
// rewards folded in, nothing mutated yet), so a rejected command leaves
// no trace in state or in the event log.
func (c *DeterministicCore) liquidateOne(target uuid.UUID, eventRef string, timestamp int64) ([]*ledger.Batch, error) {
	tr := c.troves.Get(target)
	if tr == nil || !tr.IsActive() {
		return nil, fmt.Errorf("%w: account %s", state.ErrTroveNotActive, target)
	}
	if c.troves.ActiveCount() <= 1 {
		return nil, ErrLastTrove
	}

	price, err := c.requirePrice()
	if err != nil {
		return nil, err
	}
	recovery, err := c.inRecoveryMode(price)
	if err != nil {
		return nil, err
	}

	collateral, debt, err := c.entireTroveAmounts(tr)
	if err != nil {
		return nil, err
	}
	icr, err := fpmath.CollateralRatio(collateral, debt, price)
	if err != nil {
		return nil, err
	}

	split, err := c.planLiquidation(collateral, debt, icr, recovery)
	if err != nil {
		return nil, err
	}

	// All gates passed; mutations start here.
	batches := make([]*ledger.Batch, 0, 4)
	rewardBatch, err := c.applyPendingRewards(target, eventRef, timestamp)
	if err != nil {
		return nil, err
	}
	if rewardBatch != nil {
		batches = append(batches, rewardBatch)
	}

	splitBatches, err := c.applyLiquidationSplit(target, eventRef, split, timestamp)
	if err != nil {
		return nil, err
	}
	batches = append(batches, splitBatches...)

	if split.closes {
		if err := c.troves.Close(target); err != nil {
			return nil, err
		}
	}
	totalColl, err := c.pools.TotalCollateral()
	if err != nil {
		return nil, err
	}
	c.troves.RecordSystemSnapshots(totalColl)

	c.liquidations = append(c.liquidations, LiquidationRecord{
		Target:            target,
		Mode:              split.mode,
		Band:              split.band,
		DebtOffset:        split.debtToOffset,
		DebtRedistributed: split.debtToRedistribute,
		Closed:            split.closes,
	})

	return batches, nil
}

// planLiquidation selects the mode/band and computes the debt/collateral
// split without touching any state. Per doc §4.5: normal mode liquidates
// only below MCR; recovery mode adds the ≤100% full-redistribution band
// and the MCR..CCR offset-only band.
func (c *DeterministicCore) planLiquidation(collateral, debt, icr *uint256.Int, recovery bool) (*liquidationSplit, error) {
	split := &liquidationSplit{
		debtToOffset:       new(uint256.Int),
		collToOffset:       new(uint256.Int),
		debtToRedistribute: new(uint256.Int),
		collToRedistribute: new(uint256.Int),
		closes:             true,
	}

	switch {
	case !recovery:
		if icr.Cmp(fpmath.MCR) >= 0 {
			return nil, fmt.Errorf("%w: ICR %s", ErrTroveNotLiquidatable, icr.Dec())
		}
		split.mode, split.band = LiquidationModeNormal, LiquidationBandBelowMCR
		return split, c.splitOffsetAndRemainder(split, collateral, debt)

	case icr.Cmp(fpmath.One) <= 0:
		// ICR <= 100%: the collateral cannot cover the debt; everything
		// redistributes, the stability pool is spared.
		split.mode, split.band = LiquidationModeRecovery, LiquidationBandBelowOne
		split.debtToRedistribute = debt.Clone()
		split.collToRedistribute = collateral.Clone()
		return split, nil

	case icr.Cmp(fpmath.MCR) < 0:
		// 100% < ICR < MCR: same split as normal mode.
		split.mode, split.band = LiquidationModeRecovery, LiquidationBandBelowMCR
		return split, c.splitOffsetAndRemainder(split, collateral, debt)

	case icr.Cmp(fpmath.CCR) < 0:
		// MCR <= ICR < CCR: offset what the pool holds, collateral in
		// exact proportion, no redistribution. Skipped entirely when the
		// pool is empty; the Trove stays open with reduced balances when
		// the pool cannot drain it fully.
		if c.stability.TotalDeposits().IsZero() {
			return nil, fmt.Errorf("%w: stability pool is empty", ErrTroveNotLiquidatable)
		}
		split.mode, split.band = LiquidationModeRecovery, LiquidationBandMCRToCCR
		split.debtToOffset = fpmath.Min(debt, c.stability.TotalDeposits())
		var err error
		if split.collToOffset, err = fpmath.MulDiv(collateral, split.debtToOffset, debt); err != nil {
			return nil, err
		}
		split.closes = split.debtToOffset.Cmp(debt) == 0
		return split, nil

	default:
		return nil, fmt.Errorf("%w: ICR %s above CCR", ErrTroveNotLiquidatable, icr.Dec())
	}
}

// splitOffsetAndRemainder fills the normal-mode split: the pool absorbs
// min(debt, deposits) with collateral in exact proportion to the offset
// share, and the remainder redistributes.
func (c *DeterministicCore) splitOffsetAndRemainder(split *liquidationSplit, collateral, debt *uint256.Int) error {
	split.debtToOffset = fpmath.Min(debt, c.stability.TotalDeposits())
	if !split.debtToOffset.IsZero() {
		var err error
		if split.collToOffset, err = fpmath.MulDiv(collateral, split.debtToOffset, debt); err != nil {
			return err
		}
	}
	var err error
	if split.debtToRedistribute, err = fpmath.Sub(debt, split.debtToOffset); err != nil {
		return err
	}
	if split.collToRedistribute, err = fpmath.Sub(collateral, split.collToOffset); err != nil {
		return err
	}
	return nil
}

// applyLiquidationSplit executes a computed split: stake out first so
// redistribution excludes the target, then the pool offset, then the
// remainder; finally the Trove itself is reduced when it stays open.
func (c *DeterministicCore) applyLiquidationSplit(target uuid.UUID, eventRef string, split *liquidationSplit, timestamp int64) ([]*ledger.Batch, error) {
	if err := c.troves.RemoveStake(target); err != nil {
		return nil, err
	}

	batches := make([]*ledger.Batch, 0, 2)

	if !split.debtToOffset.IsZero() {
		if err := c.stability.Offset(split.debtToOffset, split.collToOffset); err != nil {
			return nil, err
		}
		if err := c.pools.Offset(split.debtToOffset, split.collToOffset); err != nil {
			return nil, err
		}
		offsetBatch, err := c.journalGen.GenerateOffset(eventRef, split.debtToOffset, split.collToOffset, timestamp)
		if err != nil {
			return nil, err
		}
		batches = append(batches, offsetBatch)
	}

	if !split.debtToRedistribute.IsZero() || !split.collToRedistribute.IsZero() {
		if err := c.redistribution.Distribute(split.collToRedistribute, split.debtToRedistribute, c.troves.TotalStakes()); err != nil {
			return nil, err
		}
		if err := c.pools.RedistributeToDefault(split.collToRedistribute, split.debtToRedistribute); err != nil {
			return nil, err
		}
		if !split.collToRedistribute.IsZero() {
			redistBatch, err := c.journalGen.GenerateRedistribution(eventRef, split.collToRedistribute, timestamp)
			if err != nil {
				return nil, err
			}
			batches = append(batches, redistBatch)
		}
	}

	if !split.closes {
		if err := c.troves.DecreaseDebt(target, split.debtToOffset); err != nil {
			return nil, err
		}
		if err := c.troves.DecreaseCollateral(target, split.collToOffset); err != nil {
			return nil, err
		}
		totalColl, err := c.pools.TotalCollateral()
		if err != nil {
			return nil, err
		}
		if _, err := c.troves.UpdateStake(target, totalColl); err != nil {
			return nil, err
		}
	}

	return batches, nil
}
