package core

import (
	"fmt"

	"TroveLedger/internal/event"
	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/state"
)

// handleOpenTrove locks collateral and mints debt for a new position.
// Normal mode requires ICR >= MCR and a post-open TCR >= CCR; recovery mode
// requires ICR >= CCR and waives the issuance fee.
func (c *DeterministicCore) handleOpenTrove(evt *event.OpenTrove) ([]*ledger.Batch, error) {
	collateral := amountOrZero(evt.Collateral)
	debt := amountOrZero(evt.Debt)
	if collateral.IsZero() || debt.IsZero() {
		return nil, fmt.Errorf("%w: open requires collateral and debt", ErrInvalidAmount)
	}

	price, err := c.requirePrice()
	if err != nil {
		return nil, err
	}
	recovery, err := c.inRecoveryMode(price)
	if err != nil {
		return nil, err
	}

	fee := zeroAmount
	if !recovery {
		if fee, err = fpmath.IssuanceFee(debt); err != nil {
			return nil, err
		}
	}
	compositeDebt, err := fpmath.Add(debt, fee)
	if err != nil {
		return nil, err
	}

	icr, err := fpmath.CollateralRatio(collateral, compositeDebt, price)
	if err != nil {
		return nil, err
	}
	if recovery {
		if icr.Cmp(fpmath.CCR) < 0 {
			return nil, fmt.Errorf("%w: ICR %s in recovery mode", ErrBelowCCR, icr.Dec())
		}
	} else {
		if icr.Cmp(fpmath.MCR) < 0 {
			return nil, fmt.Errorf("%w: ICR %s", ErrBelowMCR, icr.Dec())
		}
		newTCR, terr := c.projectedTCR(price, collateral, zeroAmount, compositeDebt, zeroAmount)
		if terr != nil {
			return nil, terr
		}
		if newTCR.Cmp(fpmath.CCR) < 0 {
			return nil, fmt.Errorf("%w: TCR would fall to %s", ErrBelowCCR, newTCR.Dec())
		}
	}

	tr, err := c.troves.Create(evt.Owner)
	if err != nil {
		return nil, err
	}
	if err := c.troves.IncreaseCollateral(evt.Owner, collateral); err != nil {
		return nil, err
	}
	if err := c.troves.IncreaseDebt(evt.Owner, debt, fee); err != nil {
		return nil, err
	}
	if err := c.pools.DepositCollateral(collateral); err != nil {
		return nil, err
	}
	if err := c.pools.IncreaseActiveDebt(compositeDebt); err != nil {
		return nil, err
	}

	totalColl, err := c.pools.TotalCollateral()
	if err != nil {
		return nil, err
	}
	if _, err := c.troves.UpdateStake(evt.Owner, totalColl); err != nil {
		return nil, err
	}
	c.redistribution.TakeSnapshot(tr)

	ref := evt.IdempotencyKey()
	ts := evt.Timestamp.UnixMicro()
	lock, err := c.journalGen.GenerateCollateralLock(ref, collateral, ts)
	if err != nil {
		return nil, err
	}
	borrow, err := c.journalGen.GenerateBorrow(evt.Owner, ref, debt, fee, ts)
	if err != nil {
		return nil, err
	}
	return []*ledger.Batch{lock, borrow}, nil
}

// handleAdjustTrove applies collateral and debt deltas to an open Trove.
// Pending redistribution rewards are folded in first so the gates see the
// true position.
func (c *DeterministicCore) handleAdjustTrove(evt *event.AdjustTrove) ([]*ledger.Batch, error) {
	deposit := amountOrZero(evt.CollateralDeposit)
	withdraw := amountOrZero(evt.CollateralWithdraw)
	borrow := amountOrZero(evt.DebtBorrow)
	repay := amountOrZero(evt.DebtRepay)

	if !deposit.IsZero() && !withdraw.IsZero() {
		return nil, fmt.Errorf("%w: deposit and withdraw are exclusive", ErrInvalidAmount)
	}
	if !borrow.IsZero() && !repay.IsZero() {
		return nil, fmt.Errorf("%w: borrow and repay are exclusive", ErrInvalidAmount)
	}
	if deposit.IsZero() && withdraw.IsZero() && borrow.IsZero() && repay.IsZero() {
		return nil, fmt.Errorf("%w: empty adjustment", ErrInvalidAmount)
	}

	tr := c.troves.Get(evt.Owner)
	if tr == nil || !tr.IsActive() {
		return nil, fmt.Errorf("%w: account %s", state.ErrTroveNotActive, evt.Owner)
	}

	price, err := c.requirePrice()
	if err != nil {
		return nil, err
	}
	recovery, err := c.inRecoveryMode(price)
	if err != nil {
		return nil, err
	}
	if recovery && !withdraw.IsZero() {
		return nil, fmt.Errorf("%w: collateral withdrawal", ErrForbiddenInRecovery)
	}

	fee := zeroAmount
	if !borrow.IsZero() && !recovery {
		if fee, err = fpmath.IssuanceFee(borrow); err != nil {
			return nil, err
		}
	}
	debtIn, err := fpmath.Add(borrow, fee)
	if err != nil {
		return nil, err
	}

	// Project the post-adjustment position from the entire amounts
	// (pending rewards folded in, nothing mutated yet) so a rejected
	// command leaves no trace.
	entireColl, entireDebt, err := c.entireTroveAmounts(tr)
	if err != nil {
		return nil, err
	}
	newColl, err := fpmath.Add(entireColl, deposit)
	if err != nil {
		return nil, err
	}
	if newColl, err = fpmath.Sub(newColl, withdraw); err != nil {
		return nil, fmt.Errorf("%w: have %s, withdraw %s",
			state.ErrInsufficientCollateral, entireColl.Dec(), withdraw.Dec())
	}
	newDebt, err := fpmath.Add(entireDebt, debtIn)
	if err != nil {
		return nil, err
	}
	if repay.Cmp(newDebt) >= 0 {
		return nil, fmt.Errorf("%w: debt %s, repay %s (close the trove instead)",
			state.ErrRepaymentExceedsDebt, newDebt.Dec(), repay.Dec())
	}
	if newDebt, err = fpmath.Sub(newDebt, repay); err != nil {
		return nil, err
	}

	newICR, err := fpmath.CollateralRatio(newColl, newDebt, price)
	if err != nil {
		return nil, err
	}
	if recovery {
		if !borrow.IsZero() && newICR.Cmp(fpmath.CCR) < 0 {
			return nil, fmt.Errorf("%w: ICR %s in recovery mode", ErrBelowCCR, newICR.Dec())
		}
	} else {
		if newICR.Cmp(fpmath.MCR) < 0 {
			return nil, fmt.Errorf("%w: ICR %s", ErrBelowMCR, newICR.Dec())
		}
		// Reward application only moves Default→Active, so the system
		// totals behind the projected TCR are unaffected by its timing.
		newTCR, terr := c.projectedTCR(price, deposit, withdraw, debtIn, repay)
		if terr != nil {
			return nil, terr
		}
		if newTCR.Cmp(fpmath.CCR) < 0 {
			return nil, fmt.Errorf("%w: TCR would fall to %s", ErrBelowCCR, newTCR.Dec())
		}
	}

	ref := evt.IdempotencyKey()
	ts := evt.Timestamp.UnixMicro()
	batches := make([]*ledger.Batch, 0, 3)

	rewardBatch, err := c.applyPendingRewards(evt.Owner, ref, ts)
	if err != nil {
		return nil, err
	}
	if rewardBatch != nil {
		batches = append(batches, rewardBatch)
	}

	if !deposit.IsZero() {
		if err := c.troves.IncreaseCollateral(evt.Owner, deposit); err != nil {
			return nil, err
		}
		if err := c.pools.DepositCollateral(deposit); err != nil {
			return nil, err
		}
		lock, jerr := c.journalGen.GenerateCollateralLock(ref, deposit, ts)
		if jerr != nil {
			return nil, jerr
		}
		batches = append(batches, lock)
	}
	if !withdraw.IsZero() {
		if err := c.troves.DecreaseCollateral(evt.Owner, withdraw); err != nil {
			return nil, err
		}
		if err := c.pools.WithdrawCollateral(c.paymentSink, evt.Owner, withdraw); err != nil {
			return nil, err
		}
		unlock, jerr := c.journalGen.GenerateCollateralUnlock(ref, withdraw, ts)
		if jerr != nil {
			return nil, jerr
		}
		batches = append(batches, unlock)
	}
	if !borrow.IsZero() {
		if err := c.troves.IncreaseDebt(evt.Owner, borrow, fee); err != nil {
			return nil, err
		}
		if err := c.pools.IncreaseActiveDebt(debtIn); err != nil {
			return nil, err
		}
		mint, jerr := c.journalGen.GenerateBorrow(evt.Owner, ref, borrow, fee, ts)
		if jerr != nil {
			return nil, jerr
		}
		batches = append(batches, mint)
	}
	if !repay.IsZero() {
		burn, jerr := c.journalGen.GenerateRepay(evt.Owner, ref, repay, ts)
		if jerr != nil {
			return nil, jerr
		}
		if err := c.troves.DecreaseDebt(evt.Owner, repay); err != nil {
			return nil, err
		}
		if err := c.pools.DecreaseActiveDebt(repay); err != nil {
			return nil, err
		}
		batches = append(batches, burn)
	}

	totalColl, err := c.pools.TotalCollateral()
	if err != nil {
		return nil, err
	}
	if _, err := c.troves.UpdateStake(evt.Owner, totalColl); err != nil {
		return nil, err
	}

	return batches, nil
}

// handleCloseTrove repays the full debt and releases all collateral.
// Forbidden in recovery mode; the post-close TCR must stay above CCR.
func (c *DeterministicCore) handleCloseTrove(evt *event.CloseTrove) ([]*ledger.Batch, error) {
	tr := c.troves.Get(evt.Owner)
	if tr == nil || !tr.IsActive() {
		return nil, fmt.Errorf("%w: account %s", state.ErrTroveNotActive, evt.Owner)
	}

	price, err := c.requirePrice()
	if err != nil {
		return nil, err
	}
	recovery, err := c.inRecoveryMode(price)
	if err != nil {
		return nil, err
	}
	if recovery {
		return nil, fmt.Errorf("%w: close trove", ErrForbiddenInRecovery)
	}

	// Gate on the entire position before materializing anything.
	collateral, debt, err := c.entireTroveAmounts(tr)
	if err != nil {
		return nil, err
	}
	newTCR, err := c.projectedTCR(price, zeroAmount, collateral, zeroAmount, debt)
	if err != nil {
		return nil, err
	}
	if newTCR.Cmp(fpmath.CCR) < 0 {
		return nil, fmt.Errorf("%w: TCR would fall to %s", ErrBelowCCR, newTCR.Dec())
	}

	ref := evt.IdempotencyKey()
	ts := evt.Timestamp.UnixMicro()
	batches := make([]*ledger.Batch, 0, 3)

	rewardBatch, err := c.applyPendingRewards(evt.Owner, ref, ts)
	if err != nil {
		return nil, err
	}
	if rewardBatch != nil {
		batches = append(batches, rewardBatch)
	}

	if !debt.IsZero() {
		burn, jerr := c.journalGen.GenerateRepay(evt.Owner, ref, debt, ts)
		if jerr != nil {
			return nil, jerr
		}
		if err := c.pools.DecreaseActiveDebt(debt); err != nil {
			return nil, err
		}
		batches = append(batches, burn)
	}
	if !collateral.IsZero() {
		unlock, jerr := c.journalGen.GenerateCollateralUnlock(ref, collateral, ts)
		if jerr != nil {
			return nil, jerr
		}
		if err := c.pools.WithdrawCollateral(c.paymentSink, evt.Owner, collateral); err != nil {
			return nil, err
		}
		batches = append(batches, unlock)
	}

	if err := c.troves.Close(evt.Owner); err != nil {
		return nil, err
	}

	return batches, nil
}
