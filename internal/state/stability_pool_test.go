package state_test

import (
	"errors"
	"testing"

	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/state"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// withinWei checks |got-want| <= tolerance. Offset math rounds the debt
// loss up, so compounded values sit a few wei under the ideal figure.
func withinWei(t *testing.T, label string, got, want *uint256.Int, tolerance uint64) {
	t.Helper()
	diff := new(uint256.Int)
	if got.Cmp(want) >= 0 {
		diff.Sub(got, want)
	} else {
		diff.Sub(want, got)
	}
	if diff.Cmp(uint256.NewInt(tolerance)) > 0 {
		t.Errorf("%s: got %s, want %s (±%d wei)", label, got.Dec(), want.Dec(), tolerance)
	}
}

func TestProvide_ThenOffset_CompoundsDown(t *testing.T) {
	sp := state.NewStabilityPoolLedger()
	dep := uuid.New()

	if _, err := sp.Provide(dep, wad(100)); err != nil {
		t.Fatalf("provide: %v", err)
	}
	if sp.TotalDeposits().Cmp(wad(100)) != 0 {
		t.Fatalf("total: got %s, want 100", sp.TotalDeposits().Dec())
	}

	// Offset 40 debt, 0.4 collateral.
	coll := new(uint256.Int).Div(wad(4), uint256.NewInt(10))
	if err := sp.Offset(wad(40), coll); err != nil {
		t.Fatalf("offset: %v", err)
	}

	compounded, err := sp.CompoundedDeposit(dep)
	if err != nil {
		t.Fatalf("compounded: %v", err)
	}
	withinWei(t, "compounded deposit", compounded, wad(60), 1000)

	gain, err := sp.CollateralGain(dep)
	if err != nil {
		t.Fatalf("gain: %v", err)
	}
	withinWei(t, "collateral gain", gain, coll, 1000)

	if sp.TotalDeposits().Cmp(wad(60)) != 0 {
		t.Errorf("total after offset: got %s, want 60", sp.TotalDeposits().Dec())
	}
}

func TestOffset_TwoDepositorsProRata(t *testing.T) {
	sp := state.NewStabilityPoolLedger()
	a, b := uuid.New(), uuid.New()

	if _, err := sp.Provide(a, wad(100)); err != nil {
		t.Fatal(err)
	}
	if _, err := sp.Provide(b, wad(300)); err != nil {
		t.Fatal(err)
	}

	if err := sp.Offset(wad(200), wad(2)); err != nil {
		t.Fatalf("offset: %v", err)
	}

	compA, err := sp.CompoundedDeposit(a)
	if err != nil {
		t.Fatal(err)
	}
	compB, err := sp.CompoundedDeposit(b)
	if err != nil {
		t.Fatal(err)
	}
	withinWei(t, "depositor a (25% of pool)", compA, wad(50), 1000)
	withinWei(t, "depositor b (75% of pool)", compB, wad(150), 1000)

	gainA, err := sp.CollateralGain(a)
	if err != nil {
		t.Fatal(err)
	}
	gainB, err := sp.CollateralGain(b)
	if err != nil {
		t.Fatal(err)
	}
	half := new(uint256.Int).Div(wad(1), uint256.NewInt(2))
	threeHalves := new(uint256.Int).Add(wad(1), half)
	withinWei(t, "gain a", gainA, half, 1000)
	withinWei(t, "gain b", gainB, threeHalves, 1000)
}

func TestOffset_FullDepletionOpensNewEpoch(t *testing.T) {
	sp := state.NewStabilityPoolLedger()
	dep := uuid.New()
	if _, err := sp.Provide(dep, wad(100)); err != nil {
		t.Fatal(err)
	}

	if err := sp.Offset(wad(100), wad(1)); err != nil {
		t.Fatalf("offset: %v", err)
	}

	if sp.CurrentEpoch() != 1 {
		t.Errorf("epoch: got %d, want 1", sp.CurrentEpoch())
	}
	if sp.CurrentScale() != 0 {
		t.Errorf("scale: got %d, want 0", sp.CurrentScale())
	}
	if sp.Product().Cmp(fpmath.One) != 0 {
		t.Errorf("product: got %s, want One", sp.Product().Dec())
	}

	compounded, err := sp.CompoundedDeposit(dep)
	if err != nil {
		t.Fatal(err)
	}
	if !compounded.IsZero() {
		t.Errorf("deposit from closed epoch: got %s, want 0", compounded.Dec())
	}

	// The gain from the wipe-out offset survives the epoch change.
	gain, err := sp.CollateralGain(dep)
	if err != nil {
		t.Fatal(err)
	}
	withinWei(t, "gain after wipe-out", gain, wad(1), 1000)
}

func TestOffset_DeepDrawdownShiftsScale(t *testing.T) {
	sp := state.NewStabilityPoolLedger()
	dep := uuid.New()

	// 1e10 units deposited, all but 1 unit offset: the product decays by
	// ~1e-10, crossing the One/ScaleShift boundary.
	total := wad(10_000_000_000)
	debt := new(uint256.Int).Sub(total, wad(1))
	if _, err := sp.Provide(dep, total); err != nil {
		t.Fatal(err)
	}
	if err := sp.Offset(debt, wad(1)); err != nil {
		t.Fatalf("offset: %v", err)
	}

	if sp.CurrentScale() != 1 {
		t.Errorf("scale: got %d, want 1", sp.CurrentScale())
	}
	if sp.CurrentEpoch() != 0 {
		t.Errorf("epoch: got %d, want 0", sp.CurrentEpoch())
	}

	// A deposit down to a billionth of its initial value reads as zero.
	compounded, err := sp.CompoundedDeposit(dep)
	if err != nil {
		t.Fatal(err)
	}
	if !compounded.IsZero() {
		t.Errorf("deposit below dust floor: got %s, want 0", compounded.Dec())
	}

	// The collateral gain is unaffected by the dust floor.
	gain, err := sp.CollateralGain(dep)
	if err != nil {
		t.Fatal(err)
	}
	withinWei(t, "gain as sole depositor", gain, wad(1), 1000)

	// New deposits land in the shifted scale and compound normally.
	b := uuid.New()
	if _, err := sp.Provide(b, wad(100)); err != nil {
		t.Fatal(err)
	}
	compB, err := sp.CompoundedDeposit(b)
	if err != nil {
		t.Fatal(err)
	}
	if compB.Cmp(wad(100)) != 0 {
		t.Errorf("fresh deposit at scale 1: got %s, want 100", compB.Dec())
	}
}

func TestWithdraw_ClampedToCompounded(t *testing.T) {
	sp := state.NewStabilityPoolLedger()
	dep := uuid.New()
	if _, err := sp.Provide(dep, wad(100)); err != nil {
		t.Fatal(err)
	}
	if err := sp.Offset(wad(40), wad(1)); err != nil {
		t.Fatal(err)
	}

	withdrawn, gain, err := sp.Withdraw(dep, wad(100))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	withinWei(t, "clamped withdrawal", withdrawn, wad(60), 1000)
	withinWei(t, "gain on withdraw", gain, wad(1), 1000)

	// Nothing meaningful left.
	compounded, err := sp.CompoundedDeposit(dep)
	if err != nil {
		t.Fatal(err)
	}
	if !compounded.IsZero() {
		t.Errorf("residual deposit: got %s, want 0", compounded.Dec())
	}
}

func TestWithdraw_NoDeposit(t *testing.T) {
	sp := state.NewStabilityPoolLedger()
	_, _, err := sp.Withdraw(uuid.New(), wad(1))
	if !errors.Is(err, state.ErrNoStabilityDeposit) {
		t.Errorf("got %v, want ErrNoStabilityDeposit", err)
	}
}

func TestOffset_ZeroIsNoOp(t *testing.T) {
	sp := state.NewStabilityPoolLedger()
	dep := uuid.New()
	if _, err := sp.Provide(dep, wad(100)); err != nil {
		t.Fatal(err)
	}

	before := sp.Product()
	if err := sp.Offset(uint256.NewInt(0), wad(1)); err != nil {
		t.Fatalf("zero offset: %v", err)
	}
	if sp.Product().Cmp(before) != 0 {
		t.Error("zero offset must not move the product")
	}
	if sp.TotalDeposits().Cmp(wad(100)) != 0 {
		t.Error("zero offset must not move the total")
	}
}

func TestProvide_TopUpFoldsInGain(t *testing.T) {
	sp := state.NewStabilityPoolLedger()
	dep := uuid.New()
	if _, err := sp.Provide(dep, wad(100)); err != nil {
		t.Fatal(err)
	}
	if err := sp.Offset(wad(50), wad(1)); err != nil {
		t.Fatal(err)
	}

	// Topping up pays out the pending gain and restarts from a fresh
	// snapshot: compounded (~50) + 100 new.
	gain, err := sp.Provide(dep, wad(100))
	if err != nil {
		t.Fatalf("top-up: %v", err)
	}
	withinWei(t, "gain paid on top-up", gain, wad(1), 1000)

	compounded, err := sp.CompoundedDeposit(dep)
	if err != nil {
		t.Fatal(err)
	}
	withinWei(t, "deposit after top-up", compounded, wad(150), 1000)

	gainAfter, err := sp.CollateralGain(dep)
	if err != nil {
		t.Fatal(err)
	}
	if !gainAfter.IsZero() {
		t.Errorf("gain after fresh snapshot: got %s, want 0", gainAfter.Dec())
	}
}
