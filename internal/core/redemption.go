package core

import (
	"fmt"

	"TroveLedger/internal/event"
	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// redemptionStep is one Trove's share of a redemption plan.
type redemptionStep struct {
	owner       uuid.UUID
	debtPortion *uint256.Int
	collPortion *uint256.Int
	closes      bool
	surplus     *uint256.Int
}

// handleRedeem burns stable tokens against the riskiest Troves at face
// value. The whole plan is computed first; state is only touched once the
// full requested amount is known to be coverable, so a redemption either
// completes in full or leaves nothing changed.
func (c *DeterministicCore) handleRedeem(evt *event.Redeem) ([]*ledger.Batch, error) {
	amount := amountOrZero(evt.Amount)
	if amount.IsZero() {
		return nil, fmt.Errorf("%w: zero redemption", ErrInvalidAmount)
	}

	// The burn journal is generated last; check the redeemer can fund it
	// before anything mutates.
	if err := c.balanceTracker.ValidateSufficientStable(evt.Redeemer, amount.ToBig()); err != nil {
		return nil, err
	}

	price, err := c.requirePrice()
	if err != nil {
		return nil, err
	}
	tcr, err := c.computeTCR(price)
	if err != nil {
		return nil, err
	}
	if tcr.Cmp(fpmath.MCR) < 0 {
		return nil, fmt.Errorf("%w: redemption with TCR %s", ErrForbiddenInRecovery, tcr.Dec())
	}

	ref := evt.IdempotencyKey()
	ts := evt.Timestamp.UnixMicro()
	batches := make([]*ledger.Batch, 0, 4)

	// The plan is carved from entire positions (pending rewards included)
	// before anything mutates, so an uncoverable request leaves no trace.
	ordered, err := c.trovesByRiskAscendingRatio()
	if err != nil {
		return nil, err
	}
	plan, err := c.planRedemption(ordered, amount, price)
	if err != nil {
		return nil, err
	}

	// Materialize pending rewards on the planned Troves so the portions
	// below subtract from the same amounts the plan saw.
	for _, step := range plan {
		rewardBatch, rerr := c.applyPendingRewards(step.owner, ref, ts)
		if rerr != nil {
			return nil, rerr
		}
		if rewardBatch != nil {
			batches = append(batches, rewardBatch)
		}
	}

	totalBurned := new(uint256.Int)
	totalPaid := new(uint256.Int)
	for _, step := range plan {
		stepBatches, aerr := c.applyRedemptionStep(step, evt.Redeemer, ref, ts)
		if aerr != nil {
			return nil, aerr
		}
		batches = append(batches, stepBatches...)
		if totalBurned, err = fpmath.Add(totalBurned, step.debtPortion); err != nil {
			return nil, err
		}
		if totalPaid, err = fpmath.Add(totalPaid, step.collPortion); err != nil {
			return nil, err
		}
	}

	redemptionBatch, err := c.journalGen.GenerateRedemption(evt.Redeemer, ref, totalBurned, totalPaid, ts)
	if err != nil {
		return nil, err
	}
	batches = append(batches, redemptionBatch)

	return batches, nil
}

// planRedemption walks the Troves riskiest-first and carves the requested
// amount into per-Trove portions, reading entire amounts (pending rewards
// included) without mutating anything. Troves below MCR are skipped —
// their collateral is worth less than face value and they belong to
// liquidation. Returns ErrRedemptionIncomplete if the eligible debt
// cannot cover the full amount.
func (c *DeterministicCore) planRedemption(ordered []uuid.UUID, amount, price *uint256.Int) ([]redemptionStep, error) {
	remaining := amount.Clone()
	plan := make([]redemptionStep, 0, 4)

	for _, owner := range ordered {
		if remaining.IsZero() {
			break
		}
		tr := c.troves.Get(owner)
		if tr == nil || !tr.IsActive() {
			continue
		}
		coll, debt, err := c.entireTroveAmounts(tr)
		if err != nil {
			return nil, err
		}
		icr, err := fpmath.CollateralRatio(coll, debt, price)
		if err != nil {
			return nil, err
		}
		if icr.Cmp(fpmath.MCR) < 0 {
			continue
		}

		debtPortion := fpmath.Min(remaining, debt)
		collPortion, err := fpmath.MulDiv(debtPortion, fpmath.One, price)
		if err != nil {
			return nil, err
		}

		step := redemptionStep{
			owner:       owner,
			debtPortion: debtPortion,
			collPortion: collPortion,
		}
		if debtPortion.Cmp(debt) == 0 {
			step.closes = true
			if step.surplus, err = fpmath.Sub(coll, collPortion); err != nil {
				return nil, err
			}
		}
		plan = append(plan, step)

		if remaining, err = fpmath.Sub(remaining, debtPortion); err != nil {
			return nil, err
		}
	}

	if !remaining.IsZero() {
		return nil, fmt.Errorf("%w: %s of %s uncovered",
			ErrRedemptionIncomplete, remaining.Dec(), amount.Dec())
	}
	return plan, nil
}

// applyRedemptionStep mutates one Trove per the plan and pays the redeemer
// its collateral portion. Full redemptions close the Trove and return the
// surplus collateral to the owner.
func (c *DeterministicCore) applyRedemptionStep(step redemptionStep, redeemer uuid.UUID, eventRef string, timestamp int64) ([]*ledger.Batch, error) {
	if err := c.pools.DecreaseActiveDebt(step.debtPortion); err != nil {
		return nil, err
	}
	if err := c.pools.WithdrawCollateral(c.paymentSink, redeemer, step.collPortion); err != nil {
		return nil, err
	}

	if !step.closes {
		if err := c.troves.DecreaseDebt(step.owner, step.debtPortion); err != nil {
			return nil, err
		}
		if err := c.troves.DecreaseCollateral(step.owner, step.collPortion); err != nil {
			return nil, err
		}
		totalColl, err := c.pools.TotalCollateral()
		if err != nil {
			return nil, err
		}
		if _, err := c.troves.UpdateStake(step.owner, totalColl); err != nil {
			return nil, err
		}
		return nil, nil
	}

	batches := make([]*ledger.Batch, 0, 1)
	if !step.surplus.IsZero() {
		if err := c.pools.WithdrawCollateral(c.paymentSink, step.owner, step.surplus); err != nil {
			return nil, err
		}
		unlock, err := c.journalGen.GenerateCollateralUnlock(eventRef, step.surplus, timestamp)
		if err != nil {
			return nil, err
		}
		batches = append(batches, unlock)
	}
	if err := c.troves.Close(step.owner); err != nil {
		return nil, err
	}
	return batches, nil
}
