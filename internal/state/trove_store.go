package state

import (
	"fmt"

	fpmath "TroveLedger/internal/math"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// TroveStore owns the account→Trove mapping, the insertion-ordered list of
// active owners, and the system stake totals. Totals are maintained
// incrementally on every mutation — never re-derived by scanning the full
// Trove set.
type TroveStore struct {
	troves map[uuid.UUID]*Trove
	owners []uuid.UUID

	// dirty collects owners whose record changed since the last drain, so
	// projections only see Troves the current event actually touched.
	dirty map[uuid.UUID]struct{}

	totalStakes             uint256.Int
	totalStakesSnapshot     uint256.Int
	totalCollateralSnapshot uint256.Int
	totalFees               uint256.Int
}

func NewTroveStore() *TroveStore {
	return &TroveStore{
		troves: make(map[uuid.UUID]*Trove),
		dirty:  make(map[uuid.UUID]struct{}),
	}
}

func (ts *TroveStore) markDirty(owner uuid.UUID) {
	ts.dirty[owner] = struct{}{}
}

// DrainDirty returns the Troves mutated since the last drain and resets
// the dirty set. Order is unspecified; callers sort if they need
// determinism.
func (ts *TroveStore) DrainDirty() []*Trove {
	if len(ts.dirty) == 0 {
		return nil
	}
	out := make([]*Trove, 0, len(ts.dirty))
	for owner := range ts.dirty {
		if tr := ts.troves[owner]; tr != nil {
			out = append(out, tr)
		}
	}
	ts.dirty = make(map[uuid.UUID]struct{})
	return out
}

// Get returns the Trove record for an account, or nil. Closed records are
// retained for history; callers must check Status.
func (ts *TroveStore) Get(owner uuid.UUID) *Trove {
	return ts.troves[owner]
}

// Create opens a Trove record for an account and registers it in the
// active-owner list. Reopening a closed record goes through here too.
func (ts *TroveStore) Create(owner uuid.UUID) (*Trove, error) {
	tr := ts.troves[owner]
	if tr == nil {
		tr = &Trove{Owner: owner, Status: StatusNonExistent}
		ts.troves[owner] = tr
	}

	if tr.Status == StatusActive {
		return nil, fmt.Errorf("%w: account %s", ErrTroveAlreadyExists, owner)
	}
	if !tr.Status.CanTransitionTo(StatusActive) {
		return nil, fmt.Errorf("invalid status transition: %s -> Active", tr.Status)
	}

	tr.Status = StatusActive
	tr.Collateral.Clear()
	tr.Debt.Clear()
	tr.Stake.Clear()
	tr.Snapshot = RewardSnapshot{}
	tr.OwnerIndex = len(ts.owners)
	tr.Version++
	ts.owners = append(ts.owners, owner)
	ts.markDirty(owner)

	return tr, nil
}

// ActiveOwners returns a copy of the active-owner list in insertion order.
func (ts *TroveStore) ActiveOwners() []uuid.UUID {
	out := make([]uuid.UUID, len(ts.owners))
	copy(out, ts.owners)
	return out
}

// ActiveCount returns the number of open Troves.
func (ts *TroveStore) ActiveCount() int {
	return len(ts.owners)
}

func (ts *TroveStore) activeTrove(owner uuid.UUID) (*Trove, error) {
	tr := ts.troves[owner]
	if tr == nil || tr.Status != StatusActive {
		return nil, fmt.Errorf("%w: account %s", ErrTroveNotActive, owner)
	}
	return tr, nil
}

// IncreaseCollateral adds locked collateral to an active Trove.
func (ts *TroveStore) IncreaseCollateral(owner uuid.UUID, amount *uint256.Int) error {
	tr, err := ts.activeTrove(owner)
	if err != nil {
		return err
	}
	sum, err := fpmath.Add(&tr.Collateral, amount)
	if err != nil {
		return err
	}
	tr.Collateral = *sum
	tr.Version++
	ts.markDirty(owner)
	return nil
}

// DecreaseCollateral removes collateral from an active Trove.
func (ts *TroveStore) DecreaseCollateral(owner uuid.UUID, amount *uint256.Int) error {
	tr, err := ts.activeTrove(owner)
	if err != nil {
		return err
	}
	diff, err := fpmath.Sub(&tr.Collateral, amount)
	if err != nil {
		return fmt.Errorf("%w: have %s, withdraw %s",
			ErrInsufficientCollateral, tr.Collateral.Dec(), amount.Dec())
	}
	tr.Collateral = *diff
	tr.Version++
	ts.markDirty(owner)
	return nil
}

// IncreaseDebt adds amount+fee to the Trove's debt liability. The fee is
// capitalized into the Trove but accrues to the system fee total.
func (ts *TroveStore) IncreaseDebt(owner uuid.UUID, amount, fee *uint256.Int) error {
	tr, err := ts.activeTrove(owner)
	if err != nil {
		return err
	}

	withFee, err := fpmath.Add(amount, fee)
	if err != nil {
		return err
	}
	newDebt, err := fpmath.Add(&tr.Debt, withFee)
	if err != nil {
		return err
	}
	newFees, err := fpmath.Add(&ts.totalFees, fee)
	if err != nil {
		return err
	}

	tr.Debt = *newDebt
	ts.totalFees = *newFees
	tr.Version++
	ts.markDirty(owner)
	return nil
}

// DecreaseDebt repays part of the Trove's debt. Repaying the full amount
// is rejected: a full drain must go through Close, which zeroes debt and
// collateral atomically with the status flip.
func (ts *TroveStore) DecreaseDebt(owner uuid.UUID, amount *uint256.Int) error {
	tr, err := ts.activeTrove(owner)
	if err != nil {
		return err
	}
	if amount.Cmp(&tr.Debt) >= 0 {
		return fmt.Errorf("%w: debt %s, repay %s",
			ErrRepaymentExceedsDebt, tr.Debt.Dec(), amount.Dec())
	}
	diff, err := fpmath.Sub(&tr.Debt, amount)
	if err != nil {
		return err
	}
	tr.Debt = *diff
	tr.Version++
	ts.markDirty(owner)
	return nil
}

// UpdateStake recomputes the Trove's stake after a collateral change and
// folds the delta into the running stake total. totalCollateral is the
// entire system collateral (Active + Default pools).
func (ts *TroveStore) UpdateStake(owner uuid.UUID, totalCollateral *uint256.Int) (*uint256.Int, error) {
	tr, err := ts.activeTrove(owner)
	if err != nil {
		return nil, err
	}

	var newStake *uint256.Int
	if totalCollateral.IsZero() || ts.totalStakes.IsZero() {
		// Bootstrap: with no stakes in the system the proportional
		// formula would pin every stake at zero forever.
		newStake = tr.Collateral.Clone()
	} else {
		newStake, err = fpmath.MulDiv(&tr.Collateral, &ts.totalStakes, totalCollateral)
		if err != nil {
			return nil, err
		}
	}

	// totalStakes += newStake - oldStake, kept exact in two unsigned steps.
	withoutOld, err := fpmath.Sub(&ts.totalStakes, &tr.Stake)
	if err != nil {
		return nil, err
	}
	withNew, err := fpmath.Add(withoutOld, newStake)
	if err != nil {
		return nil, err
	}

	ts.totalStakes = *withNew
	tr.Stake = *newStake
	tr.Version++
	ts.markDirty(owner)
	return newStake.Clone(), nil
}

// RemoveStake takes the Trove's stake out of the system total ahead of a
// liquidation, so redistribution math excludes the doomed position.
func (ts *TroveStore) RemoveStake(owner uuid.UUID) error {
	tr, err := ts.activeTrove(owner)
	if err != nil {
		return err
	}
	remaining, err := fpmath.Sub(&ts.totalStakes, &tr.Stake)
	if err != nil {
		return err
	}
	ts.totalStakes = *remaining
	tr.Stake.Clear()
	tr.Version++
	ts.markDirty(owner)
	return nil
}

// Close zeroes the Trove, clears its reward snapshot, flips the status and
// removes the account from the active-owner list via swap-with-last.
func (ts *TroveStore) Close(owner uuid.UUID) error {
	tr, err := ts.activeTrove(owner)
	if err != nil {
		return err
	}
	if !tr.Status.CanTransitionTo(StatusClosed) {
		return fmt.Errorf("invalid status transition: %s -> Closed", tr.Status)
	}

	// Any stake still attached leaves the total with the Trove.
	remaining, err := fpmath.Sub(&ts.totalStakes, &tr.Stake)
	if err != nil {
		return err
	}
	ts.totalStakes = *remaining

	tr.Collateral.Clear()
	tr.Debt.Clear()
	tr.Stake.Clear()
	tr.Snapshot = RewardSnapshot{}
	tr.Status = StatusClosed
	tr.Version++
	ts.markDirty(owner)

	ts.removeOwner(tr.OwnerIndex)
	tr.OwnerIndex = -1
	return nil
}

// removeOwner swap-removes the list slot and fixes the swapped element's
// stored index. The list is unordered.
func (ts *TroveStore) removeOwner(index int) {
	last := len(ts.owners) - 1
	if index != last {
		moved := ts.owners[last]
		ts.owners[index] = moved
		ts.troves[moved].OwnerIndex = index
	}
	ts.owners = ts.owners[:last]
}

// --- System totals ---

func (ts *TroveStore) TotalStakes() *uint256.Int {
	return ts.totalStakes.Clone()
}

func (ts *TroveStore) TotalFees() *uint256.Int {
	return ts.totalFees.Clone()
}

func (ts *TroveStore) TotalStakesSnapshot() *uint256.Int {
	return ts.totalStakesSnapshot.Clone()
}

func (ts *TroveStore) TotalCollateralSnapshot() *uint256.Int {
	return ts.totalCollateralSnapshot.Clone()
}

// RecordSystemSnapshots captures the stake and collateral totals after a
// liquidation, for the next round of stake recomputation.
func (ts *TroveStore) RecordSystemSnapshots(totalCollateral *uint256.Int) {
	ts.totalStakesSnapshot = *ts.totalStakes.Clone()
	ts.totalCollateralSnapshot = *totalCollateral.Clone()
}

// --- Snapshot restore ---

// SetTrove directly installs a Trove record (snapshot restore only).
func (ts *TroveStore) SetTrove(tr *Trove) {
	// Installed as a copy: the caller's record (typically a snapshot)
	// must not alias live store state.
	cp := *tr
	ts.troves[cp.Owner] = &cp
	if cp.Status == StatusActive {
		for len(ts.owners) <= cp.OwnerIndex {
			ts.owners = append(ts.owners, uuid.Nil)
		}
		ts.owners[cp.OwnerIndex] = cp.Owner
	}
}

// RestoreTotals directly installs system totals (snapshot restore only).
func (ts *TroveStore) RestoreTotals(totalStakes, stakesSnap, collSnap, fees *uint256.Int) {
	ts.totalStakes = *totalStakes.Clone()
	ts.totalStakesSnapshot = *stakesSnap.Clone()
	ts.totalCollateralSnapshot = *collSnap.Clone()
	ts.totalFees = *fees.Clone()
}

// AllTroves returns a copy of every record, active and closed (snapshots,
// iteration). Copies keep snapshots detached from live mutations.
func (ts *TroveStore) AllTroves() []*Trove {
	out := make([]*Trove, 0, len(ts.troves))
	for _, tr := range ts.troves {
		cp := *tr
		out = append(out, &cp)
	}
	return out
}
