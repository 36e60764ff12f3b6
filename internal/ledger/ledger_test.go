package ledger

import (
	"math/big"
	"testing"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

func wad(whole uint64) *uint256.Int {
	v := uint256.NewInt(whole)
	return v.Mul(v, uint256.NewInt(1_000_000_000_000_000_000))
}

func bigWad(whole int64) *big.Int {
	v := big.NewInt(whole)
	return v.Mul(v, big.NewInt(1_000_000_000_000_000_000))
}

func applyAll(t *testing.T, bt *BalanceTracker, batches ...*Batch) {
	t.Helper()
	for _, b := range batches {
		if err := bt.ApplyBatch(b); err != nil {
			t.Fatalf("apply batch %s: %v", b.EventRef, err)
		}
	}
}

func TestGenerateBorrow_MintsToUserAndFees(t *testing.T) {
	bt := NewBalanceTracker()
	jg := NewJournalGenerator(1, bt)
	user := uuid.New()

	batch, err := jg.GenerateBorrow(user, "evt-1", wad(1000), wad(5), 1)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	applyAll(t, bt, batch)

	if got := bt.GetUserStableBalance(user); got.Cmp(bigWad(1000)) != 0 {
		t.Errorf("user stable: got %s, want 1000", got)
	}
	fees := bt.GetBalance(NewSystemAccountKey(SubTypeSystemFees, AssetStable))
	if fees.Cmp(bigWad(5)) != 0 {
		t.Errorf("fees: got %s, want 5", fees)
	}
	supply := bt.GetBalance(NewExternalAccountKey(SubTypeExternalStableSupply, AssetStable))
	if supply.Cmp(bigWad(-1005)) != 0 {
		t.Errorf("supply account: got %s, want -1005", supply)
	}
}

func TestGenerateRepay_PreCheckRejectsOverdraft(t *testing.T) {
	bt := NewBalanceTracker()
	jg := NewJournalGenerator(1, bt)
	user := uuid.New()

	_, err := jg.GenerateRepay(user, "evt-1", wad(10), 1)
	if err == nil {
		t.Fatal("repay with no balance must fail the pre-check")
	}
}

func TestStabilityFlow_ZeroSum(t *testing.T) {
	bt := NewBalanceTracker()
	jg := NewJournalGenerator(1, bt)
	v := NewInvariantValidator(bt)
	user := uuid.New()

	borrow, err := jg.GenerateBorrow(user, "evt-1", wad(500), wad(0), 1)
	if err != nil {
		t.Fatal(err)
	}
	lock, err := jg.GenerateCollateralLock("evt-1", wad(10), 1)
	if err != nil {
		t.Fatal(err)
	}
	applyAll(t, bt, borrow, lock)

	provide, err := jg.GenerateStabilityProvide(user, "evt-2", wad(300), 2)
	if err != nil {
		t.Fatalf("provide: %v", err)
	}
	applyAll(t, bt, provide)

	// Liquidation offsets 200 debt, moving 4 collateral to depositors.
	offset, err := jg.GenerateOffset("evt-3", wad(200), wad(4), 3)
	if err != nil {
		t.Fatal(err)
	}
	applyAll(t, bt, offset)

	// Depositor withdraws the compounded 100 and their 4 gain.
	withdraw, err := jg.GenerateStabilityWithdraw(user, "evt-4", wad(100), wad(4), 4)
	if err != nil {
		t.Fatal(err)
	}
	applyAll(t, bt, withdraw)

	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("zero-sum violated: %v", err)
	}
	if err := v.ValidatePoolsNonNegative(); err != nil {
		t.Errorf("pool overdrawn: %v", err)
	}

	poolStable := bt.GetBalance(NewSystemAccountKey(SubTypeSystemStabilityPool, AssetStable))
	if poolStable.Cmp(bigWad(0)) != 0 {
		t.Errorf("pool stable after flow: got %s, want 0", poolStable)
	}
	if got := bt.GetUserStableBalance(user); got.Cmp(bigWad(300)) != 0 {
		t.Errorf("user stable: got %s, want 300", got)
	}
}

func TestGenerateRedemption_BurnsAndPays(t *testing.T) {
	bt := NewBalanceTracker()
	jg := NewJournalGenerator(1, bt)
	redeemer := uuid.New()

	borrow, err := jg.GenerateBorrow(redeemer, "evt-1", wad(100), wad(0), 1)
	if err != nil {
		t.Fatal(err)
	}
	lock, err := jg.GenerateCollateralLock("evt-1", wad(10), 1)
	if err != nil {
		t.Fatal(err)
	}
	applyAll(t, bt, borrow, lock)

	half := new(uint256.Int).Div(wad(1), uint256.NewInt(2))
	redeem, err := jg.GenerateRedemption(redeemer, "evt-2", wad(100), half, 2)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	applyAll(t, bt, redeem)

	if got := bt.GetUserStableBalance(redeemer); got.Sign() != 0 {
		t.Errorf("redeemer stable after burn: got %s, want 0", got)
	}
	active := bt.GetBalance(NewSystemAccountKey(SubTypeSystemActivePool, AssetCollateral))
	want := new(big.Int).Sub(bigWad(10), new(big.Int).Div(bigWad(1), big.NewInt(2)))
	if active.Cmp(want) != 0 {
		t.Errorf("active collateral: got %s, want %s", active, want)
	}
}

func TestBatchValidate_Rejections(t *testing.T) {
	empty := &Batch{BatchID: uuid.New()}
	if err := empty.Validate(); err == nil {
		t.Error("empty batch must fail validation")
	}

	batchID := uuid.New()
	key := NewSystemAccountKey(SubTypeSystemActivePool, AssetCollateral)
	zeroAmount := &Batch{
		BatchID: batchID,
		Journals: []Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			DebitAccount:  key,
			CreditAccount: NewExternalAccountKey(SubTypeExternalCollateral, AssetCollateral),
			AssetID:       AssetCollateral,
			Amount:        uint256.NewInt(0),
		}},
	}
	if err := zeroAmount.Validate(); err == nil {
		t.Error("zero-amount journal must fail validation")
	}

	selfTransfer := &Batch{
		BatchID: batchID,
		Journals: []Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			DebitAccount:  key,
			CreditAccount: key,
			AssetID:       AssetCollateral,
			Amount:        uint256.NewInt(1),
		}},
	}
	if err := selfTransfer.Validate(); err == nil {
		t.Error("self-transfer must fail validation")
	}
}

func TestRedistributionRoundTrip(t *testing.T) {
	bt := NewBalanceTracker()
	jg := NewJournalGenerator(1, bt)

	lock, err := jg.GenerateCollateralLock("evt-1", wad(100), 1)
	if err != nil {
		t.Fatal(err)
	}
	redist, err := jg.GenerateRedistribution("evt-2", wad(30), 2)
	if err != nil {
		t.Fatal(err)
	}
	apply, err := jg.GenerateRewardApplication("evt-3", wad(30), 3)
	if err != nil {
		t.Fatal(err)
	}
	applyAll(t, bt, lock, redist, apply)

	defaulted := bt.GetBalance(NewSystemAccountKey(SubTypeSystemDefaultPool, AssetCollateral))
	if defaulted.Sign() != 0 {
		t.Errorf("default pool: got %s, want 0", defaulted)
	}
	active := bt.GetBalance(NewSystemAccountKey(SubTypeSystemActivePool, AssetCollateral))
	if active.Cmp(bigWad(100)) != 0 {
		t.Errorf("active pool: got %s, want 100", active)
	}
}
