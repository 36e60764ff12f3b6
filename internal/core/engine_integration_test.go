package core_test

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"TroveLedger/internal/core"
	"TroveLedger/internal/event"
	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/state"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// --- Test helpers ---

func wad(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), fpmath.One)
}

// centiWad returns n/100 as an 18-decimal value.
func centiWad(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(10_000_000_000_000_000))
}

func ts(seq int64) time.Time {
	return time.UnixMicro(1_000_000 + seq*1000)
}

// recordingSink accumulates outbound collateral payments per recipient.
type recordingSink struct {
	payments map[uuid.UUID]*uint256.Int
}

func newRecordingSink() *recordingSink {
	return &recordingSink{payments: make(map[uuid.UUID]*uint256.Int)}
}

func (s *recordingSink) Pay(recipient uuid.UUID, amount *uint256.Int) error {
	total, ok := s.payments[recipient]
	if !ok {
		total = new(uint256.Int)
		s.payments[recipient] = total
	}
	total.Add(total, amount)
	return nil
}

func (s *recordingSink) paid(recipient uuid.UUID) *uint256.Int {
	if total, ok := s.payments[recipient]; ok {
		return total.Clone()
	}
	return new(uint256.Int)
}

// newTestCore creates a DeterministicCore with buffered channels, a
// recording payment sink and no DB checker.
func newTestCore() (*core.DeterministicCore, *recordingSink, chan core.CoreOutput, chan core.CoreOutput) {
	persistChan := make(chan core.CoreOutput, 1024)
	projChan := make(chan core.CoreOutput, 1024)
	sink := newRecordingSink()
	c := core.NewDeterministicCore(0, persistChan, projChan, nil, sink, nil)
	return c, sink, persistChan, projChan
}

func mustPriceUpdate(price *uint256.Int, priceSeq int64) *event.PriceUpdate {
	return &event.PriceUpdate{
		Price:         price,
		PriceSequence: priceSeq,
		Timestamp:     ts(priceSeq),
	}
}

func mustOpenTrove(owner uuid.UUID, collateral, debt *uint256.Int, seq int64) *event.OpenTrove {
	return &event.OpenTrove{
		CommandID:       uuid.New(),
		Owner:           owner,
		Collateral:      collateral,
		Debt:            debt,
		CommandSequence: seq,
		Timestamp:       ts(seq),
	}
}

func mustProvideStability(depositor uuid.UUID, amount *uint256.Int, seq int64) *event.ProvideStability {
	return &event.ProvideStability{
		CommandID:       uuid.New(),
		Depositor:       depositor,
		Amount:          amount,
		CommandSequence: seq,
		Timestamp:       ts(seq),
	}
}

func mustWithdrawStability(depositor uuid.UUID, amount *uint256.Int, seq int64) *event.WithdrawStability {
	return &event.WithdrawStability{
		CommandID:       uuid.New(),
		Depositor:       depositor,
		Amount:          amount,
		CommandSequence: seq,
		Timestamp:       ts(seq),
	}
}

func mustLiquidate(target uuid.UUID, seq int64) *event.Liquidate {
	return &event.Liquidate{
		CommandID:       uuid.New(),
		Target:          target,
		CommandSequence: seq,
		Timestamp:       ts(seq),
	}
}

func mustRedeem(redeemer uuid.UUID, amount *uint256.Int, seq int64) *event.Redeem {
	return &event.Redeem{
		CommandID:       uuid.New(),
		Redeemer:        redeemer,
		Amount:          amount,
		CommandSequence: seq,
		Timestamp:       ts(seq),
	}
}

func mustProcess(t *testing.T, c *core.DeterministicCore, evt event.Event) {
	t.Helper()
	if err := c.ProcessEvent(evt); err != nil {
		t.Fatalf("ProcessEvent(%s) failed: %v", evt.EventType(), err)
	}
}

func drainOutputs(ch chan core.CoreOutput) []core.CoreOutput {
	var outputs []core.CoreOutput
	for {
		select {
		case o := <-ch:
			outputs = append(outputs, o)
		default:
			return outputs
		}
	}
}

func troveOf(t *testing.T, snap *core.SnapshotState, owner uuid.UUID) *state.Trove {
	t.Helper()
	for _, tr := range snap.Troves {
		if tr.Owner == owner {
			return tr
		}
	}
	t.Fatalf("no trove record for %s", owner)
	return nil
}

func stableBalance(snap *core.SnapshotState, owner uuid.UUID) *big.Int {
	key := ledger.NewUserAccountKey(owner, ledger.SubTypeStableBalance, ledger.AssetStable)
	if bal, ok := snap.Balances[key]; ok {
		return bal
	}
	return new(big.Int)
}

// withinWei reports whether got is within tol wei of want, absorbing the
// deliberate round-up in offset loss math.
func withinWei(got, want *uint256.Int, tol uint64) bool {
	diff := new(uint256.Int)
	if got.Cmp(want) >= 0 {
		diff.Sub(got, want)
	} else {
		diff.Sub(want, got)
	}
	return diff.CmpUint64(tol) <= 0
}

// ============================================================================
// Test: Open / Adjust / Close
// ============================================================================

func TestOpenTrove_MintsAndLocks(t *testing.T) {
	c, _, persistCh, _ := newTestCore()
	owner := uuid.New()

	mustProcess(t, c, mustPriceUpdate(wad(100), 1))
	mustProcess(t, c, mustOpenTrove(owner, wad(10), wad(500), 0))

	// 1 price envelope + 2 open batches (lock, borrow)
	outputs := drainOutputs(persistCh)
	if len(outputs) != 3 {
		t.Fatalf("expected 3 outputs, got %d", len(outputs))
	}

	snap := c.CreateSnapshotState()
	tr := troveOf(t, snap, owner)

	if tr.Collateral.Cmp(wad(10)) != 0 {
		t.Errorf("collateral = %s, want 10e18", tr.Collateral.Dec())
	}
	// Composite debt = 500 + 0.5% fee
	if tr.Debt.Cmp(centiWad(50250)) != 0 {
		t.Errorf("debt = %s, want 502.5e18", tr.Debt.Dec())
	}
	if tr.Stake.Cmp(wad(10)) != 0 {
		t.Errorf("stake = %s, want 10e18", tr.Stake.Dec())
	}
	if got := stableBalance(snap, owner); got.Cmp(wad(500).ToBig()) != 0 {
		t.Errorf("stable balance = %s, want 500e18", got)
	}
	if snap.ActiveCollateral.Cmp(wad(10)) != 0 {
		t.Errorf("active pool collateral = %s, want 10e18", snap.ActiveCollateral.Dec())
	}
	if snap.ActiveDebt.Cmp(centiWad(50250)) != 0 {
		t.Errorf("active pool debt = %s, want 502.5e18", snap.ActiveDebt.Dec())
	}
}

func TestOpenTrove_RequiresPrice(t *testing.T) {
	c, _, _, _ := newTestCore()

	err := c.ProcessEvent(mustOpenTrove(uuid.New(), wad(10), wad(500), 0))
	if !errors.Is(err, core.ErrNoPrice) {
		t.Errorf("error = %v, want ErrNoPrice", err)
	}
}

func TestOpenTrove_BelowMCR(t *testing.T) {
	c, _, _, _ := newTestCore()

	mustProcess(t, c, mustPriceUpdate(wad(100), 1))

	// 5 collateral at $100 against 502.5 composite debt: ICR < 100%
	err := c.ProcessEvent(mustOpenTrove(uuid.New(), wad(5), wad(500), 0))
	if !errors.Is(err, core.ErrBelowMCR) {
		t.Errorf("error = %v, want ErrBelowMCR", err)
	}
}

func TestOpenTrove_DuplicateIgnored(t *testing.T) {
	c, _, persistCh, _ := newTestCore()
	owner := uuid.New()

	mustProcess(t, c, mustPriceUpdate(wad(100), 1))
	open := mustOpenTrove(owner, wad(10), wad(500), 0)
	mustProcess(t, c, open)
	drainOutputs(persistCh)

	// Same command redelivered: dropped by the idempotency tier, no output
	if err := c.ProcessEvent(open); err != nil {
		t.Fatalf("duplicate delivery errored: %v", err)
	}
	if outputs := drainOutputs(persistCh); len(outputs) != 0 {
		t.Errorf("duplicate produced %d outputs, want 0", len(outputs))
	}

	snap := c.CreateSnapshotState()
	tr := troveOf(t, snap, owner)
	if tr.Debt.Cmp(centiWad(50250)) != 0 {
		t.Errorf("debt after duplicate = %s, want 502.5e18", tr.Debt.Dec())
	}
}

func TestCommandSequenceGap_Rejected(t *testing.T) {
	c, _, _, _ := newTestCore()

	mustProcess(t, c, mustPriceUpdate(wad(100), 1))
	mustProcess(t, c, mustOpenTrove(uuid.New(), wad(100), wad(500), 0))

	err := c.ProcessEvent(mustOpenTrove(uuid.New(), wad(100), wad(500), 2))
	if err == nil {
		t.Fatal("expected sequence gap rejection, got nil")
	}
}

func TestRecoveryMode_FeeWaived(t *testing.T) {
	c, _, _, _ := newTestCore()
	alice := uuid.New()
	bob := uuid.New()

	mustProcess(t, c, mustPriceUpdate(wad(100), 1))
	mustProcess(t, c, mustOpenTrove(alice, wad(10), wad(500), 0))

	// $60: TCR = 600/502.5 < 150%, recovery mode
	mustProcess(t, c, mustPriceUpdate(wad(60), 2))
	mustProcess(t, c, mustOpenTrove(bob, wad(10), wad(300), 1))

	snap := c.CreateSnapshotState()
	tr := troveOf(t, snap, bob)
	if tr.Debt.Cmp(wad(300)) != 0 {
		t.Errorf("recovery-mode debt = %s, want 300e18 (no fee)", tr.Debt.Dec())
	}
	if got := stableBalance(snap, bob); got.Cmp(wad(300).ToBig()) != 0 {
		t.Errorf("stable balance = %s, want 300e18", got)
	}
}

func TestAdjustTrove_WithdrawForbiddenInRecovery(t *testing.T) {
	c, _, _, _ := newTestCore()
	alice := uuid.New()

	mustProcess(t, c, mustPriceUpdate(wad(100), 1))
	mustProcess(t, c, mustOpenTrove(alice, wad(10), wad(500), 0))
	mustProcess(t, c, mustPriceUpdate(wad(60), 2))

	err := c.ProcessEvent(&event.AdjustTrove{
		CommandID:          uuid.New(),
		Owner:              alice,
		CollateralWithdraw: wad(1),
		CommandSequence:    1,
		Timestamp:          ts(1),
	})
	if !errors.Is(err, core.ErrForbiddenInRecovery) {
		t.Errorf("error = %v, want ErrForbiddenInRecovery", err)
	}
}

func TestCloseTrove_FullRepayReleasesCollateral(t *testing.T) {
	c, sink, _, _ := newTestCore()
	alice := uuid.New()
	bob := uuid.New()

	mustProcess(t, c, mustPriceUpdate(wad(100), 1))
	mustProcess(t, c, mustOpenTrove(alice, wad(100), wad(1000), 0))

	// Crash to $15: recovery mode, so Bob's open waives the fee and his
	// balance exactly covers his debt.
	mustProcess(t, c, mustPriceUpdate(wad(15), 2))
	mustProcess(t, c, mustOpenTrove(bob, wad(100), wad(500), 1))

	// Recover to $100 and close
	mustProcess(t, c, mustPriceUpdate(wad(100), 3))
	mustProcess(t, c, &event.CloseTrove{
		CommandID:       uuid.New(),
		Owner:           bob,
		CommandSequence: 2,
		Timestamp:       ts(2),
	})

	snap := c.CreateSnapshotState()
	tr := troveOf(t, snap, bob)
	if tr.Status != state.StatusClosed {
		t.Errorf("status = %s, want Closed", tr.Status)
	}
	if !tr.Collateral.IsZero() || !tr.Debt.IsZero() || !tr.Stake.IsZero() {
		t.Error("closed trove retains collateral, debt or stake")
	}
	if got := stableBalance(snap, bob); got.Sign() != 0 {
		t.Errorf("stable balance after close = %s, want 0", got)
	}
	if got := sink.paid(bob); got.Cmp(wad(100)) != 0 {
		t.Errorf("collateral paid out = %s, want 100e18", got.Dec())
	}
}

// ============================================================================
// Test: Liquidation
// ============================================================================

func TestLiquidate_NormalModeFullOffset(t *testing.T) {
	c, _, _, _ := newTestCore()
	alice := uuid.New()
	bob := uuid.New()

	mustProcess(t, c, mustPriceUpdate(wad(100), 1))
	mustProcess(t, c, mustOpenTrove(alice, wad(100), wad(1000), 0))
	mustProcess(t, c, mustOpenTrove(bob, wad(10), wad(850), 1))
	mustProcess(t, c, mustProvideStability(alice, wad(1000), 2))

	// $92: Bob's ICR = 920/854.25 < 110%, system TCR far above 150%
	mustProcess(t, c, mustPriceUpdate(wad(92), 2))
	mustProcess(t, c, mustLiquidate(bob, 3))

	snap := c.CreateSnapshotState()
	tr := troveOf(t, snap, bob)
	if tr.Status != state.StatusClosed {
		t.Fatalf("status = %s, want Closed", tr.Status)
	}

	// Full offset: the pool absorbed Bob's 854.25 debt and gained all 10
	// collateral.
	wantRemaining := new(uint256.Int).Sub(wad(1000), centiWad(85425))
	if !withinWei(snap.StabilityTotal, wantRemaining, 1000) {
		t.Errorf("stability deposits = %s, want ~%s", snap.StabilityTotal.Dec(), wantRemaining.Dec())
	}
	if snap.StabilityCollateral.Cmp(wad(10)) != 0 {
		t.Errorf("stability collateral = %s, want 10e18", snap.StabilityCollateral.Dec())
	}
	if snap.ActiveDebt.Cmp(centiWad(100500)) != 0 {
		t.Errorf("active debt = %s, want 1005e18", snap.ActiveDebt.Dec())
	}
	if !snap.DefaultCollateral.IsZero() || !snap.DefaultDebt.IsZero() {
		t.Error("default pool should be empty after full offset")
	}
}

func TestLiquidate_HealthyTroveRejected(t *testing.T) {
	c, _, _, _ := newTestCore()
	alice := uuid.New()
	bob := uuid.New()

	mustProcess(t, c, mustPriceUpdate(wad(100), 1))
	mustProcess(t, c, mustOpenTrove(alice, wad(100), wad(1000), 0))
	mustProcess(t, c, mustOpenTrove(bob, wad(10), wad(500), 1))

	err := c.ProcessEvent(mustLiquidate(bob, 2))
	if !errors.Is(err, core.ErrTroveNotLiquidatable) {
		t.Errorf("error = %v, want ErrTroveNotLiquidatable", err)
	}
}

func TestLiquidate_LastTroveRejected(t *testing.T) {
	c, _, _, _ := newTestCore()
	alice := uuid.New()

	mustProcess(t, c, mustPriceUpdate(wad(100), 1))
	mustProcess(t, c, mustOpenTrove(alice, wad(10), wad(850), 0))
	mustProcess(t, c, mustPriceUpdate(wad(92), 2))

	err := c.ProcessEvent(mustLiquidate(alice, 1))
	if !errors.Is(err, core.ErrLastTrove) {
		t.Errorf("error = %v, want ErrLastTrove", err)
	}
}

func TestLiquidate_RedistributionAppliedLazily(t *testing.T) {
	c, _, _, _ := newTestCore()
	alice := uuid.New()
	bob := uuid.New()

	mustProcess(t, c, mustPriceUpdate(wad(100), 1))
	mustProcess(t, c, mustOpenTrove(alice, wad(100), wad(1000), 0))
	mustProcess(t, c, mustOpenTrove(bob, wad(10), wad(850), 1))

	// No stability deposits: everything redistributes to Alice
	mustProcess(t, c, mustPriceUpdate(wad(92), 2))
	mustProcess(t, c, mustLiquidate(bob, 2))

	snap := c.CreateSnapshotState()
	if snap.DefaultCollateral.Cmp(wad(10)) != 0 {
		t.Errorf("default collateral = %s, want 10e18", snap.DefaultCollateral.Dec())
	}
	if snap.DefaultDebt.Cmp(centiWad(85425)) != 0 {
		t.Errorf("default debt = %s, want 854.25e18", snap.DefaultDebt.Dec())
	}

	// Alice's record is untouched until her next operation
	tr := troveOf(t, snap, alice)
	if tr.Collateral.Cmp(wad(100)) != 0 {
		t.Errorf("collateral before touch = %s, want 100e18", tr.Collateral.Dec())
	}

	// A deposit adjustment folds the pending share in first
	mustProcess(t, c, &event.AdjustTrove{
		CommandID:         uuid.New(),
		Owner:             alice,
		CollateralDeposit: wad(1),
		CommandSequence:   3,
		Timestamp:         ts(3),
	})

	snap = c.CreateSnapshotState()
	tr = troveOf(t, snap, alice)
	if !withinWei(&tr.Collateral, wad(111), 1000) {
		t.Errorf("collateral after touch = %s, want ~111e18", tr.Collateral.Dec())
	}
	wantDebt := new(uint256.Int).Add(centiWad(100500), centiWad(85425))
	if !withinWei(&tr.Debt, wantDebt, 1000) {
		t.Errorf("debt after touch = %s, want ~%s", tr.Debt.Dec(), wantDebt.Dec())
	}
	if !withinWei(snap.DefaultCollateral, new(uint256.Int), 1000) {
		t.Errorf("default collateral not drained: %s", snap.DefaultCollateral.Dec())
	}
}

func TestLiquidate_RecoveryPartialOffsetKeepsTroveOpen(t *testing.T) {
	c, sink, persistCh, _ := newTestCore()
	alice := uuid.New()
	bob := uuid.New()

	mustProcess(t, c, mustPriceUpdate(wad(100), 1))
	mustProcess(t, c, mustOpenTrove(alice, wad(20), wad(1000), 0))
	mustProcess(t, c, mustOpenTrove(bob, wad(12), wad(850), 1))
	mustProcess(t, c, mustProvideStability(alice, wad(100), 2))

	// $80: TCR = 2560/1859.25 < 150% (recovery); Bob's ICR = 960/854.25,
	// between MCR and CCR. The pool holds 100 against Bob's 854.25 debt, so
	// the offset is partial and the Trove survives with reduced balances.
	mustProcess(t, c, mustPriceUpdate(wad(80), 2))
	drainOutputs(persistCh)
	mustProcess(t, c, mustLiquidate(bob, 3))

	snap := c.CreateSnapshotState()
	tr := troveOf(t, snap, bob)
	if tr.Status != state.StatusActive {
		t.Fatalf("status = %s, want Active", tr.Status)
	}

	// Debt drops by the pool's 100; collateral leaves in exact proportion.
	collOff, err := fpmath.MulDiv(wad(12), wad(100), centiWad(85425))
	if err != nil {
		t.Fatal(err)
	}
	wantColl := new(uint256.Int).Sub(wad(12), collOff)
	if tr.Debt.Cmp(centiWad(75425)) != 0 {
		t.Errorf("debt = %s, want 754.25e18", tr.Debt.Dec())
	}
	if tr.Collateral.Cmp(wantColl) != 0 {
		t.Errorf("collateral = %s, want %s", tr.Collateral.Dec(), wantColl.Dec())
	}
	if tr.Stake.IsZero() {
		t.Error("surviving trove lost its stake")
	}

	if snap.StabilityCollateral.Cmp(collOff) != 0 {
		t.Errorf("stability collateral = %s, want %s", snap.StabilityCollateral.Dec(), collOff.Dec())
	}
	if !withinWei(snap.StabilityTotal, new(uint256.Int), 1000) {
		t.Errorf("stability deposits = %s, want ~0", snap.StabilityTotal.Dec())
	}
	if !snap.DefaultCollateral.IsZero() || !snap.DefaultDebt.IsZero() {
		t.Error("partial offset must not redistribute")
	}
	if got := sink.paid(bob); !got.IsZero() {
		t.Errorf("owner paid %s, want nothing", got.Dec())
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) == 0 {
		t.Fatal("no outputs emitted")
	}
	for _, o := range outputs {
		if len(o.Liquidations) != 1 {
			t.Fatalf("output carries %d liquidation records, want 1", len(o.Liquidations))
		}
		rec := o.Liquidations[0]
		if rec.Target != bob || rec.Mode != core.LiquidationModeRecovery || rec.Band != core.LiquidationBandMCRToCCR {
			t.Errorf("record = %+v, want recovery/mcr-to-ccr on bob", rec)
		}
		if rec.Closed {
			t.Error("partial liquidation recorded as closing")
		}
	}
}

func TestLiquidate_RecoveryFullOffsetCloses(t *testing.T) {
	c, sink, _, _ := newTestCore()
	alice := uuid.New()
	bob := uuid.New()

	mustProcess(t, c, mustPriceUpdate(wad(100), 1))
	mustProcess(t, c, mustOpenTrove(alice, wad(20), wad(1000), 0))
	mustProcess(t, c, mustOpenTrove(bob, wad(12), wad(850), 1))
	mustProcess(t, c, mustProvideStability(alice, wad(1000), 2))

	// Same band as above, but the pool covers the entire 854.25 debt: the
	// offset takes all 12 collateral and the Trove closes. Nothing flows
	// back to the owner.
	mustProcess(t, c, mustPriceUpdate(wad(80), 2))
	mustProcess(t, c, mustLiquidate(bob, 3))

	snap := c.CreateSnapshotState()
	tr := troveOf(t, snap, bob)
	if tr.Status != state.StatusClosed {
		t.Fatalf("status = %s, want Closed", tr.Status)
	}
	if snap.StabilityCollateral.Cmp(wad(12)) != 0 {
		t.Errorf("stability collateral = %s, want 12e18", snap.StabilityCollateral.Dec())
	}
	wantRemaining := new(uint256.Int).Sub(wad(1000), centiWad(85425))
	if !withinWei(snap.StabilityTotal, wantRemaining, 1000) {
		t.Errorf("stability deposits = %s, want ~%s", snap.StabilityTotal.Dec(), wantRemaining.Dec())
	}
	if !snap.DefaultCollateral.IsZero() || !snap.DefaultDebt.IsZero() {
		t.Error("full offset must not redistribute")
	}
	if got := sink.paid(bob); !got.IsZero() {
		t.Errorf("owner paid %s, want nothing", got.Dec())
	}
}

func TestLiquidate_RecoveryBandSkippedWhenPoolEmpty(t *testing.T) {
	c, _, _, _ := newTestCore()
	alice := uuid.New()
	bob := uuid.New()

	mustProcess(t, c, mustPriceUpdate(wad(100), 1))
	mustProcess(t, c, mustOpenTrove(alice, wad(20), wad(1000), 0))
	mustProcess(t, c, mustOpenTrove(bob, wad(12), wad(850), 1))

	// Recovery mode, Bob between MCR and CCR, but no deposits to offset
	// against: the liquidation is skipped outright, never redistributed.
	mustProcess(t, c, mustPriceUpdate(wad(80), 2))

	err := c.ProcessEvent(mustLiquidate(bob, 2))
	if !errors.Is(err, core.ErrTroveNotLiquidatable) {
		t.Fatalf("error = %v, want ErrTroveNotLiquidatable", err)
	}

	snap := c.CreateSnapshotState()
	if !snap.DefaultCollateral.IsZero() || !snap.DefaultDebt.IsZero() {
		t.Error("skipped liquidation touched the default pool")
	}
	tr := troveOf(t, snap, bob)
	if tr.Status != state.StatusActive || tr.Collateral.Cmp(wad(12)) != 0 {
		t.Errorf("trove mutated by skipped liquidation: %s %s", tr.Status, tr.Collateral.Dec())
	}
}

func TestLiquidate_RejectedCommandLeavesNoTrace(t *testing.T) {
	c, _, _, _ := newTestCore()
	alice := uuid.New()
	bob := uuid.New()

	mustProcess(t, c, mustPriceUpdate(wad(100), 1))
	mustProcess(t, c, mustOpenTrove(alice, wad(100), wad(1000), 0))
	mustProcess(t, c, mustOpenTrove(bob, wad(10), wad(850), 1))

	// Bob redistributes to Alice, who now carries a pending share.
	mustProcess(t, c, mustPriceUpdate(wad(92), 2))
	mustProcess(t, c, mustLiquidate(bob, 2))
	mustProcess(t, c, mustPriceUpdate(wad(100), 3))

	hashBefore := c.GetStateHash()
	err := c.ProcessEvent(mustLiquidate(alice, 3))
	if !errors.Is(err, core.ErrTroveNotLiquidatable) {
		t.Fatalf("error = %v, want ErrTroveNotLiquidatable", err)
	}

	// The rejection must not have materialized Alice's pending rewards or
	// drained the default pool.
	snap := c.CreateSnapshotState()
	tr := troveOf(t, snap, alice)
	if tr.Collateral.Cmp(wad(100)) != 0 {
		t.Errorf("collateral = %s, want untouched 100e18", tr.Collateral.Dec())
	}
	if snap.DefaultCollateral.Cmp(wad(10)) != 0 {
		t.Errorf("default collateral = %s, want untouched 10e18", snap.DefaultCollateral.Dec())
	}
	if c.GetStateHash() != hashBefore {
		t.Error("rejected command advanced the state hash")
	}
}

func TestAdjustTrove_RejectedWithdrawLeavesNoTrace(t *testing.T) {
	c, _, _, _ := newTestCore()
	alice := uuid.New()
	bob := uuid.New()

	mustProcess(t, c, mustPriceUpdate(wad(100), 1))
	mustProcess(t, c, mustOpenTrove(alice, wad(100), wad(1000), 0))
	mustProcess(t, c, mustOpenTrove(bob, wad(10), wad(850), 1))
	mustProcess(t, c, mustPriceUpdate(wad(92), 2))
	mustProcess(t, c, mustLiquidate(bob, 2))

	// Alice's entire position carries Bob's debt; a 95-collateral withdraw
	// would put her under MCR and must bounce without materializing the
	// pending share.
	hashBefore := c.GetStateHash()
	err := c.ProcessEvent(&event.AdjustTrove{
		CommandID:          uuid.New(),
		Owner:              alice,
		CollateralWithdraw: wad(95),
		CommandSequence:    3,
		Timestamp:          ts(3),
	})
	if !errors.Is(err, core.ErrBelowMCR) {
		t.Fatalf("error = %v, want ErrBelowMCR", err)
	}

	snap := c.CreateSnapshotState()
	tr := troveOf(t, snap, alice)
	if tr.Collateral.Cmp(wad(100)) != 0 {
		t.Errorf("collateral = %s, want untouched 100e18", tr.Collateral.Dec())
	}
	if snap.DefaultCollateral.Cmp(wad(10)) != 0 {
		t.Errorf("default collateral = %s, want untouched 10e18", snap.DefaultCollateral.Dec())
	}
	if c.GetStateHash() != hashBefore {
		t.Error("rejected command advanced the state hash")
	}
}

// ============================================================================
// Test: Stability Pool
// ============================================================================

func TestStability_WithdrawCompoundedWithGain(t *testing.T) {
	c, sink, _, _ := newTestCore()
	alice := uuid.New()
	bob := uuid.New()

	mustProcess(t, c, mustPriceUpdate(wad(100), 1))
	mustProcess(t, c, mustOpenTrove(alice, wad(100), wad(1000), 0))
	mustProcess(t, c, mustOpenTrove(bob, wad(10), wad(850), 1))
	mustProcess(t, c, mustProvideStability(alice, wad(1000), 2))

	mustProcess(t, c, mustPriceUpdate(wad(92), 2))
	mustProcess(t, c, mustLiquidate(bob, 3))

	// Withdraw everything: clamped to the compounded remainder, plus the
	// collateral gain from the offset.
	mustProcess(t, c, mustWithdrawStability(alice, wad(1000), 4))

	if got := sink.paid(alice); !withinWei(got, wad(10), 1000) {
		t.Errorf("collateral gain = %s, want ~10e18", got.Dec())
	}

	snap := c.CreateSnapshotState()
	wantBalance := new(uint256.Int).Sub(wad(1000), centiWad(85425))
	got := stableBalance(snap, alice)
	gotU, overflow := uint256.FromBig(got)
	if overflow {
		t.Fatalf("balance out of range: %s", got)
	}
	if !withinWei(gotU, wantBalance, 1000) {
		t.Errorf("stable balance = %s, want ~%s", got, wantBalance.Dec())
	}
	if !withinWei(snap.StabilityTotal, new(uint256.Int), 1000) {
		t.Errorf("stability deposits not drained: %s", snap.StabilityTotal.Dec())
	}
}

func TestStability_ProvideRequiresBalance(t *testing.T) {
	c, _, _, _ := newTestCore()
	alice := uuid.New()

	mustProcess(t, c, mustPriceUpdate(wad(100), 1))
	mustProcess(t, c, mustOpenTrove(alice, wad(100), wad(1000), 0))

	err := c.ProcessEvent(mustProvideStability(alice, wad(2000), 1))
	if err == nil {
		t.Fatal("expected insufficient balance rejection, got nil")
	}
}

// ============================================================================
// Test: Redemption
// ============================================================================

func TestRedeem_HitsRiskiestTroveFirst(t *testing.T) {
	c, sink, _, _ := newTestCore()
	alice := uuid.New()
	bob := uuid.New()

	mustProcess(t, c, mustPriceUpdate(wad(100), 1))
	mustProcess(t, c, mustOpenTrove(alice, wad(100), wad(500), 0))
	mustProcess(t, c, mustOpenTrove(bob, wad(11), wad(850), 1))

	// Bob's trove has the lowest ICR, so his debt is redeemed first
	mustProcess(t, c, mustRedeem(bob, wad(100), 2))

	snap := c.CreateSnapshotState()
	bobTrove := troveOf(t, snap, bob)
	wantDebt := new(uint256.Int).Sub(centiWad(85425), wad(100))
	if bobTrove.Debt.Cmp(wantDebt) != 0 {
		t.Errorf("debt = %s, want %s", bobTrove.Debt.Dec(), wantDebt.Dec())
	}
	if bobTrove.Collateral.Cmp(wad(10)) != 0 {
		t.Errorf("collateral = %s, want 10e18 (1e18 redeemed at $100)", bobTrove.Collateral.Dec())
	}

	aliceTrove := troveOf(t, snap, alice)
	if aliceTrove.Debt.Cmp(centiWad(50250)) != 0 {
		t.Errorf("untouched trove debt = %s, want 502.5e18", aliceTrove.Debt.Dec())
	}

	if got := sink.paid(bob); got.Cmp(wad(1)) != 0 {
		t.Errorf("redeemer paid = %s, want 1e18", got.Dec())
	}
	if got := stableBalance(snap, bob); got.Cmp(wad(750).ToBig()) != 0 {
		t.Errorf("redeemer balance = %s, want 750e18", got)
	}
}

func TestRedeem_IncompleteLeavesStateUntouched(t *testing.T) {
	c, _, _, _ := newTestCore()
	alice := uuid.New()
	bob := uuid.New()

	mustProcess(t, c, mustPriceUpdate(wad(100), 1))
	mustProcess(t, c, mustOpenTrove(alice, wad(100), wad(500), 0))
	mustProcess(t, c, mustOpenTrove(bob, wad(10), wad(850), 1))

	// $92: Bob is below MCR and therefore ineligible, leaving only
	// Alice's 502.5 to redeem against.
	mustProcess(t, c, mustPriceUpdate(wad(92), 2))

	err := c.ProcessEvent(mustRedeem(bob, wad(600), 2))
	if !errors.Is(err, core.ErrRedemptionIncomplete) {
		t.Fatalf("error = %v, want ErrRedemptionIncomplete", err)
	}

	snap := c.CreateSnapshotState()
	aliceTrove := troveOf(t, snap, alice)
	if aliceTrove.Debt.Cmp(centiWad(50250)) != 0 {
		t.Errorf("debt mutated by failed redemption: %s", aliceTrove.Debt.Dec())
	}
}

func TestRedeem_IncompleteLeavesPendingRewardsUnapplied(t *testing.T) {
	c, _, _, _ := newTestCore()
	alice := uuid.New()
	bob := uuid.New()
	carol := uuid.New()

	mustProcess(t, c, mustPriceUpdate(wad(100), 1))
	mustProcess(t, c, mustOpenTrove(alice, wad(100), wad(150), 0))
	mustProcess(t, c, mustOpenTrove(bob, wad(1), wad(85), 1))
	mustProcess(t, c, mustOpenTrove(carol, centiWad(1020), wad(850), 2))

	// $92 puts Bob under MCR; with no deposits his position redistributes,
	// leaving Alice and Carol with pending shares. Carol's entire position
	// lands just under MCR, so only Alice is redeemable.
	mustProcess(t, c, mustPriceUpdate(wad(92), 2))
	mustProcess(t, c, mustLiquidate(bob, 3))

	hashBefore := c.GetStateHash()
	err := c.ProcessEvent(mustRedeem(carol, wad(300), 4))
	if !errors.Is(err, core.ErrRedemptionIncomplete) {
		t.Fatalf("error = %v, want ErrRedemptionIncomplete", err)
	}

	// The failed plan must not have materialized anyone's pending share.
	snap := c.CreateSnapshotState()
	aliceTrove := troveOf(t, snap, alice)
	if aliceTrove.Collateral.Cmp(wad(100)) != 0 {
		t.Errorf("collateral = %s, want untouched 100e18", aliceTrove.Collateral.Dec())
	}
	if snap.DefaultCollateral.Cmp(wad(1)) != 0 {
		t.Errorf("default collateral = %s, want untouched 1e18", snap.DefaultCollateral.Dec())
	}
	if c.GetStateHash() != hashBefore {
		t.Error("rejected redemption advanced the state hash")
	}
}

// ============================================================================
// Test: Prices, Ordering, Hash Chain
// ============================================================================

func TestPriceUpdate_StaleSequenceIgnored(t *testing.T) {
	c, _, persistCh, _ := newTestCore()

	mustProcess(t, c, mustPriceUpdate(wad(100), 5))
	drainOutputs(persistCh)

	// Lower price sequence: silently dropped, price unchanged
	if err := c.ProcessEvent(mustPriceUpdate(wad(50), 3)); err != nil {
		t.Fatalf("stale price errored: %v", err)
	}

	snap := c.CreateSnapshotState()
	if snap.Price.Cmp(wad(100)) != 0 {
		t.Errorf("price = %s, want 100e18", snap.Price.Dec())
	}
}

func TestPriceUpdate_GapTolerated(t *testing.T) {
	c, _, _, _ := newTestCore()

	mustProcess(t, c, mustPriceUpdate(wad(100), 1))
	mustProcess(t, c, mustPriceUpdate(wad(90), 10))

	snap := c.CreateSnapshotState()
	if snap.Price.Cmp(wad(90)) != 0 {
		t.Errorf("price = %s, want 90e18", snap.Price.Dec())
	}
}

func TestHashChain_DeterministicAcrossRuns(t *testing.T) {
	run := func() [32]byte {
		c, _, persistCh, _ := newTestCore()
		owner := uuid.MustParse("a0000000-0000-0000-0000-000000000001")

		mustProcess(t, c, &event.PriceUpdate{Price: wad(100), PriceSequence: 1, Timestamp: ts(1)})
		mustProcess(t, c, &event.OpenTrove{
			CommandID:       uuid.MustParse("b0000000-0000-0000-0000-000000000001"),
			Owner:           owner,
			Collateral:      wad(10),
			Debt:            wad(500),
			CommandSequence: 0,
			Timestamp:       ts(0),
		})
		drainOutputs(persistCh)
		return c.GetStateHash()
	}

	first := run()
	second := run()
	if first != second {
		t.Error("identical event streams produced different state hashes")
	}

	var zero [32]byte
	if first == zero {
		t.Error("state hash never advanced")
	}
}

func TestHashChain_EnvelopesLinked(t *testing.T) {
	c, _, persistCh, _ := newTestCore()

	mustProcess(t, c, mustPriceUpdate(wad(100), 1))
	mustProcess(t, c, mustOpenTrove(uuid.New(), wad(10), wad(500), 0))

	outputs := drainOutputs(persistCh)
	if len(outputs) < 2 {
		t.Fatalf("expected at least 2 outputs, got %d", len(outputs))
	}
	for i := 1; i < len(outputs); i++ {
		if outputs[i].Envelope.PrevHash != outputs[i-1].Envelope.StateHash {
			t.Errorf("envelope %d prev hash does not chain to envelope %d", i, i-1)
		}
	}
	for i, o := range outputs {
		if o.Envelope.Sequence != int64(i) {
			t.Errorf("envelope %d sequence = %d", i, o.Envelope.Sequence)
		}
	}
}

// ============================================================================
// Test: Snapshot / Restore
// ============================================================================

func TestSnapshotRestore_ResumesProcessing(t *testing.T) {
	c1, _, persistCh1, _ := newTestCore()
	alice := uuid.New()
	bob := uuid.New()

	mustProcess(t, c1, mustPriceUpdate(wad(100), 1))
	mustProcess(t, c1, mustOpenTrove(alice, wad(100), wad(1000), 0))
	mustProcess(t, c1, mustOpenTrove(bob, wad(10), wad(850), 1))
	drainOutputs(persistCh1)

	snap := c1.CreateSnapshotState()

	c2, _, persistCh2, _ := newTestCore()
	c2.RestoreFromSnapshot(snap)

	if c2.GetSequence() != c1.GetSequence() {
		t.Fatalf("restored sequence = %d, want %d", c2.GetSequence(), c1.GetSequence())
	}
	if c2.GetStateHash() != c1.GetStateHash() {
		t.Fatal("restored state hash differs")
	}

	// Both cores process the same follow-up event and stay identical
	evt := mustLiquidate(bob, 2)
	mustProcess(t, c1, &event.PriceUpdate{Price: wad(92), PriceSequence: 2, Timestamp: ts(2)})
	mustProcess(t, c2, &event.PriceUpdate{Price: wad(92), PriceSequence: 2, Timestamp: ts(2)})
	mustProcess(t, c1, evt)
	mustProcess(t, c2, evt)
	drainOutputs(persistCh1)
	drainOutputs(persistCh2)

	if c2.GetStateHash() != c1.GetStateHash() {
		t.Error("cores diverged after restore")
	}
}

func TestSnapshotState_DetachedFromLiveState(t *testing.T) {
	c1, _, _, _ := newTestCore()
	alice := uuid.New()

	mustProcess(t, c1, mustPriceUpdate(wad(100), 1))
	mustProcess(t, c1, mustOpenTrove(alice, wad(10), wad(500), 0))
	snap := c1.CreateSnapshotState()

	// Mutating the live core must not bleed into the captured snapshot.
	mustProcess(t, c1, &event.AdjustTrove{
		CommandID:         uuid.New(),
		Owner:             alice,
		CollateralDeposit: wad(5),
		CommandSequence:   1,
		Timestamp:         ts(1),
	})
	if tr := troveOf(t, snap, alice); tr.Collateral.Cmp(wad(10)) != 0 {
		t.Errorf("snapshot collateral = %s, want 10e18", tr.Collateral.Dec())
	}

	// Nor must a core restored from the snapshot mutate it.
	c2, _, _, _ := newTestCore()
	c2.RestoreFromSnapshot(snap)
	mustProcess(t, c2, &event.AdjustTrove{
		CommandID:         uuid.New(),
		Owner:             alice,
		CollateralDeposit: wad(7),
		CommandSequence:   1,
		Timestamp:         ts(1),
	})
	if tr := troveOf(t, snap, alice); tr.Collateral.Cmp(wad(10)) != 0 {
		t.Errorf("snapshot collateral after restore-side mutation = %s, want 10e18", tr.Collateral.Dec())
	}
}

func TestReplayEvent_RebuildsIdenticalState(t *testing.T) {
	alice := uuid.New()
	bob := uuid.New()

	// First run: a mixed history including a liquidation so replay covers
	// multi-batch events and suppressed payment re-emission.
	c1, _, persist1, _ := newTestCore()
	mustProcess(t, c1, mustPriceUpdate(wad(2000), 1))
	mustProcess(t, c1, mustOpenTrove(alice, wad(10), wad(12000), 0))
	mustProcess(t, c1, mustOpenTrove(bob, wad(100), wad(50000), 1))
	mustProcess(t, c1, mustProvideStability(bob, wad(40000), 2))
	mustProcess(t, c1, mustPriceUpdate(wad(1300), 2))
	mustProcess(t, c1, mustLiquidate(alice, 3))
	outputs := drainOutputs(persist1)

	// Second run: replay every archived envelope into a fresh core.
	c2, sink2, _, _ := newTestCore()
	for _, o := range outputs {
		if err := c2.ReplayEvent(o.Envelope); err != nil {
			t.Fatalf("replay seq %d: %v", o.Envelope.Sequence, err)
		}
	}

	if c2.GetStateHash() != c1.GetStateHash() {
		t.Error("replayed core diverged from original")
	}
	if c2.GetSequence() != c1.GetSequence() {
		t.Errorf("sequence: got %d, want %d", c2.GetSequence(), c1.GetSequence())
	}
	if len(sink2.payments) != 0 {
		t.Errorf("replay re-emitted %d payments", len(sink2.payments))
	}

	// Replaying the whole log again is a no-op: every row is behind the
	// current sequence.
	for _, o := range outputs {
		if err := c2.ReplayEvent(o.Envelope); err != nil {
			t.Fatalf("second replay seq %d: %v", o.Envelope.Sequence, err)
		}
	}
	if c2.GetStateHash() != c1.GetStateHash() {
		t.Error("idempotent replay changed state")
	}
}

func TestReplayEvent_GapRejected(t *testing.T) {
	c1, _, persist1, _ := newTestCore()
	mustProcess(t, c1, mustPriceUpdate(wad(2000), 1))
	mustProcess(t, c1, mustOpenTrove(uuid.New(), wad(10), wad(9000), 0))
	outputs := drainOutputs(persist1)
	if len(outputs) < 2 {
		t.Fatalf("expected at least 2 outputs, got %d", len(outputs))
	}

	c2, _, _, _ := newTestCore()
	if err := c2.ReplayEvent(outputs[1].Envelope); err == nil {
		t.Error("expected gap error when skipping the first archived event")
	}
}
