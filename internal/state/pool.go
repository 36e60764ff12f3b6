package state

import (
	fpmath "TroveLedger/internal/math"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// TokenLedger is the stable-token supply authority. The accounting core
// calls it when debt is minted, repaid or offset; implementations range
// from the in-memory tracker used in tests to the double-entry ledger.
type TokenLedger interface {
	Mint(account uuid.UUID, amount *uint256.Int) error
	Burn(account uuid.UUID, amount *uint256.Int) error
	Transfer(from, to uuid.UUID, amount *uint256.Int) error
}

// PaymentSink receives collateral leaving the system (withdrawals,
// redemptions, liquidation compensation).
type PaymentSink interface {
	Pay(recipient uuid.UUID, amount *uint256.Int) error
}

// Pool is one collateral/debt bucket. Amounts only move between pools
// through PoolAccounting, which keeps the cross-pool totals conserved.
type Pool struct {
	collateral uint256.Int
	debt       uint256.Int
}

func (p *Pool) Collateral() *uint256.Int { return p.collateral.Clone() }
func (p *Pool) Debt() *uint256.Int       { return p.debt.Clone() }

func (p *Pool) addCollateral(amount *uint256.Int) error {
	sum, err := fpmath.Add(&p.collateral, amount)
	if err != nil {
		return err
	}
	p.collateral = *sum
	return nil
}

func (p *Pool) subCollateral(amount *uint256.Int) error {
	diff, err := fpmath.Sub(&p.collateral, amount)
	if err != nil {
		return err
	}
	p.collateral = *diff
	return nil
}

func (p *Pool) addDebt(amount *uint256.Int) error {
	sum, err := fpmath.Add(&p.debt, amount)
	if err != nil {
		return err
	}
	p.debt = *sum
	return nil
}

func (p *Pool) subDebt(amount *uint256.Int) error {
	diff, err := fpmath.Sub(&p.debt, amount)
	if err != nil {
		return err
	}
	p.debt = *diff
	return nil
}

// PoolAccounting tracks system-wide collateral and debt across the three
// pools. The Active pool backs open Troves, the Default pool holds
// redistributed amounts pending per-Trove application, and the Stability
// pool holds collateral gains earned by depositors through offsets.
type PoolAccounting struct {
	active    Pool
	defaulted Pool
	stability Pool
}

func NewPoolAccounting() *PoolAccounting {
	return &PoolAccounting{}
}

func (pa *PoolAccounting) ActivePool() *Pool    { return &pa.active }
func (pa *PoolAccounting) DefaultPool() *Pool   { return &pa.defaulted }
func (pa *PoolAccounting) StabilityPool() *Pool { return &pa.stability }

// TotalCollateral is the entire system collateral backing Troves:
// Active plus Default. Stability-pool collateral already belongs to
// depositors and is excluded.
func (pa *PoolAccounting) TotalCollateral() (*uint256.Int, error) {
	return fpmath.Add(&pa.active.collateral, &pa.defaulted.collateral)
}

// TotalDebt is the entire outstanding stable-token debt: Active plus
// Default.
func (pa *PoolAccounting) TotalDebt() (*uint256.Int, error) {
	return fpmath.Add(&pa.active.debt, &pa.defaulted.debt)
}

// DepositCollateral credits incoming Trove collateral to the Active pool.
func (pa *PoolAccounting) DepositCollateral(amount *uint256.Int) error {
	return pa.active.addCollateral(amount)
}

// WithdrawCollateral debits the Active pool and pays the recipient.
func (pa *PoolAccounting) WithdrawCollateral(sink PaymentSink, recipient uuid.UUID, amount *uint256.Int) error {
	if err := pa.active.subCollateral(amount); err != nil {
		return err
	}
	return sink.Pay(recipient, amount)
}

// IncreaseActiveDebt records newly minted debt (including capitalized fees).
func (pa *PoolAccounting) IncreaseActiveDebt(amount *uint256.Int) error {
	return pa.active.addDebt(amount)
}

// DecreaseActiveDebt records repaid or offset debt.
func (pa *PoolAccounting) DecreaseActiveDebt(amount *uint256.Int) error {
	return pa.active.subDebt(amount)
}

// RedistributeToDefault moves a liquidated Trove's remainder from Active
// to Default, where it waits to be pulled into surviving Troves.
func (pa *PoolAccounting) RedistributeToDefault(collateral, debt *uint256.Int) error {
	if err := pa.active.subCollateral(collateral); err != nil {
		return err
	}
	if err := pa.active.subDebt(debt); err != nil {
		return err
	}
	if err := pa.defaulted.addCollateral(collateral); err != nil {
		return err
	}
	return pa.defaulted.addDebt(debt)
}

// ApplyPendingRewards moves a Trove's accrued share from Default back to
// Active as the rewards are folded into the Trove record.
func (pa *PoolAccounting) ApplyPendingRewards(collateral, debt *uint256.Int) error {
	if err := pa.defaulted.subCollateral(collateral); err != nil {
		return err
	}
	if err := pa.defaulted.subDebt(debt); err != nil {
		return err
	}
	if err := pa.active.addCollateral(collateral); err != nil {
		return err
	}
	return pa.active.addDebt(debt)
}

// Offset cancels debt against stability-pool deposits: the debt leaves the
// Active pool (the deposits that absorb it are burned on the ledger side)
// and the matching collateral moves to the Stability pool as depositor gain.
func (pa *PoolAccounting) Offset(debtToOffset, collateralToSend *uint256.Int) error {
	if err := pa.active.subDebt(debtToOffset); err != nil {
		return err
	}
	if err := pa.active.subCollateral(collateralToSend); err != nil {
		return err
	}
	return pa.stability.addCollateral(collateralToSend)
}

// PayStabilityGain debits the Stability pool and pays a withdrawing
// depositor their collateral gain.
func (pa *PoolAccounting) PayStabilityGain(sink PaymentSink, recipient uuid.UUID, amount *uint256.Int) error {
	if err := pa.stability.subCollateral(amount); err != nil {
		return err
	}
	return sink.Pay(recipient, amount)
}

// RestorePools directly installs pool balances (snapshot restore only).
func (pa *PoolAccounting) RestorePools(activeColl, activeDebt, defaultColl, defaultDebt, stabilityColl *uint256.Int) {
	pa.active.collateral = *activeColl.Clone()
	pa.active.debt = *activeDebt.Clone()
	pa.defaulted.collateral = *defaultColl.Clone()
	pa.defaulted.debt = *defaultDebt.Clone()
	pa.stability.collateral = *stabilityColl.Clone()
}
