package core

import (
	"fmt"

	"TroveLedger/internal/event"
	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/state"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

var zeroAmount = uint256.NewInt(0)

// amountOrZero normalizes optional command fields.
func amountOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return zeroAmount
	}
	return v
}

// requirePrice returns the current oracle price, or ErrNoPrice before the
// first update. Every ratio-dependent operation goes through here.
func (c *DeterministicCore) requirePrice() (*uint256.Int, error) {
	price, ok := c.priceFeed.Price()
	if !ok {
		return nil, ErrNoPrice
	}
	return price, nil
}

// computeTCR returns the total collateral ratio over Active plus Default
// pool holdings. A debtless system has nothing at risk and reports an
// unbounded ratio, so a fresh deployment starts in normal mode.
func (c *DeterministicCore) computeTCR(price *uint256.Int) (*uint256.Int, error) {
	totalColl, err := c.pools.TotalCollateral()
	if err != nil {
		return nil, err
	}
	totalDebt, err := c.pools.TotalDebt()
	if err != nil {
		return nil, err
	}
	if totalDebt.IsZero() {
		return fpmath.MaxValue.Clone(), nil
	}
	return fpmath.CollateralRatio(totalColl, totalDebt, price)
}

// inRecoveryMode reports whether the system ratio is below CCR.
func (c *DeterministicCore) inRecoveryMode(price *uint256.Int) (bool, error) {
	tcr, err := c.computeTCR(price)
	if err != nil {
		return false, err
	}
	return tcr.Cmp(fpmath.CCR) < 0, nil
}

// projectedTCR computes the system ratio after the given deltas, used to
// gate operations that would weaken the system in normal mode.
func (c *DeterministicCore) projectedTCR(price, collIn, collOut, debtIn, debtOut *uint256.Int) (*uint256.Int, error) {
	totalColl, err := c.pools.TotalCollateral()
	if err != nil {
		return nil, err
	}
	totalDebt, err := c.pools.TotalDebt()
	if err != nil {
		return nil, err
	}

	if totalColl, err = fpmath.Add(totalColl, collIn); err != nil {
		return nil, err
	}
	if totalColl, err = fpmath.Sub(totalColl, collOut); err != nil {
		return nil, err
	}
	if totalDebt, err = fpmath.Add(totalDebt, debtIn); err != nil {
		return nil, err
	}
	if totalDebt, err = fpmath.Sub(totalDebt, debtOut); err != nil {
		return nil, err
	}

	if totalDebt.IsZero() {
		return fpmath.MaxValue.Clone(), nil
	}
	return fpmath.CollateralRatio(totalColl, totalDebt, price)
}

// entireTroveAmounts returns the Trove's collateral and debt with pending
// redistribution rewards folded in, without mutating anything.
func (c *DeterministicCore) entireTroveAmounts(tr *state.Trove) (*uint256.Int, *uint256.Int, error) {
	pendingColl, pendingDebt, err := c.redistribution.PendingRewards(tr)
	if err != nil {
		return nil, nil, err
	}
	coll, err := fpmath.Add(&tr.Collateral, pendingColl)
	if err != nil {
		return nil, nil, err
	}
	debt, err := fpmath.Add(&tr.Debt, pendingDebt)
	if err != nil {
		return nil, nil, err
	}
	return coll, debt, nil
}

// handlePriceUpdate installs a new oracle price. Stale sequences are
// dropped upstream by the sequence validator; a stale price reaching here
// is still ignored.
func (c *DeterministicCore) handlePriceUpdate(evt *event.PriceUpdate) ([]*ledger.Batch, error) {
	price := amountOrZero(evt.Price)
	if price.IsZero() {
		return nil, fmt.Errorf("%w: zero price", ErrInvalidAmount)
	}
	c.priceFeed.Update(price, uint64(evt.PriceSequence))

	// Price updates move no tokens; an empty batch still earns an
	// envelope in the event log.
	return []*ledger.Batch{{
		BatchID:   uuid.New(),
		EventRef:  evt.IdempotencyKey(),
		Sequence:  c.sequence,
		Timestamp: evt.Timestamp.UnixMicro(),
		Journals:  []ledger.Journal{},
	}}, nil
}

// applyPendingRewards materializes a Trove's accrued redistribution share
// into its record before any operation touches it. Returns the reward
// batch, or nil when nothing was pending.
func (c *DeterministicCore) applyPendingRewards(owner uuid.UUID, eventRef string, timestamp int64) (*ledger.Batch, error) {
	tr := c.troves.Get(owner)
	if tr == nil || !tr.IsActive() {
		return nil, nil
	}
	if !c.redistribution.HasPendingRewards(tr) {
		return nil, nil
	}

	pendingColl, pendingDebt, err := c.redistribution.PendingRewards(tr)
	if err != nil {
		return nil, err
	}

	if !pendingColl.IsZero() {
		if err := c.troves.IncreaseCollateral(owner, pendingColl); err != nil {
			return nil, err
		}
	}
	if !pendingDebt.IsZero() {
		if err := c.troves.IncreaseDebt(owner, pendingDebt, zeroAmount); err != nil {
			return nil, err
		}
	}
	if err := c.pools.ApplyPendingRewards(pendingColl, pendingDebt); err != nil {
		return nil, err
	}
	c.redistribution.TakeSnapshot(tr)

	// Debt-only rewards move no collateral tokens, so no journal.
	if pendingColl.IsZero() {
		return nil, nil
	}
	batch, err := c.journalGen.GenerateRewardApplication(eventRef, pendingColl, timestamp)
	if err != nil {
		return nil, fmt.Errorf("reward application journal: %w", err)
	}
	return batch, nil
}
