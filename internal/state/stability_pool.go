package state

import (
	fpmath "TroveLedger/internal/math"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// ScaleShift is the factor applied to the running product P when it decays
// below One/ScaleShift, opening a new scale bucket so small deposits keep
// precision after deep drawdowns. Treated as a constant.
var ScaleShift = uint256.NewInt(1_000_000_000)

// StabilityDeposit is one depositor's position, recorded as the initial
// amount plus the (P, S, epoch, scale) snapshot taken when it was last
// written. The current value is always derived from the snapshot, never
// stored.
type StabilityDeposit struct {
	Depositor uuid.UUID
	Initial   uint256.Int

	P     uint256.Int
	S     uint256.Int
	Epoch int64
	Scale int64
}

type epochScale struct {
	epoch int64
	scale int64
}

// StabilityPoolLedger implements the compounding scheme that lets offsets
// debit every depositor pro rata in O(1): each offset multiplies the global
// product P by (1 - debt/total) and accrues collateral into the per-scale
// sum S. A depositor's compounded value is initial * P/P_snapshot, and
// their collateral gain follows from the S deltas across at most two
// adjacent scales.
type StabilityPoolLedger struct {
	totalDeposits uint256.Int
	deposits      map[uuid.UUID]*StabilityDeposit

	product uint256.Int
	sums    map[epochScale]*uint256.Int
	epoch   int64
	scale   int64

	// Truncation remainders carried between offsets.
	collateralErr uint256.Int
	debtErr       uint256.Int

	// Mutation tracking feeding the stability projection.
	dirtyDeposits map[uuid.UUID]struct{}
	poolDirty     bool
}

func NewStabilityPoolLedger() *StabilityPoolLedger {
	sp := &StabilityPoolLedger{
		deposits:      make(map[uuid.UUID]*StabilityDeposit),
		sums:          make(map[epochScale]*uint256.Int),
		dirtyDeposits: make(map[uuid.UUID]struct{}),
	}
	sp.product = *fpmath.One.Clone()
	return sp
}

// DrainDirty returns the deposits written since the last drain and whether
// the pool-wide compounding state changed, then resets the tracking.
// Snapshot restore does not mark anything dirty.
func (sp *StabilityPoolLedger) DrainDirty() ([]*StabilityDeposit, bool) {
	poolDirty := sp.poolDirty
	sp.poolDirty = false

	if len(sp.dirtyDeposits) == 0 {
		return nil, poolDirty
	}
	out := make([]*StabilityDeposit, 0, len(sp.dirtyDeposits))
	for depositor := range sp.dirtyDeposits {
		if dep := sp.deposits[depositor]; dep != nil {
			out = append(out, dep)
		}
	}
	sp.dirtyDeposits = make(map[uuid.UUID]struct{})
	return out, poolDirty
}

func (sp *StabilityPoolLedger) TotalDeposits() *uint256.Int {
	return sp.totalDeposits.Clone()
}

func (sp *StabilityPoolLedger) Product() *uint256.Int {
	return sp.product.Clone()
}

func (sp *StabilityPoolLedger) CurrentEpoch() int64 { return sp.epoch }
func (sp *StabilityPoolLedger) CurrentScale() int64 { return sp.scale }

func (sp *StabilityPoolLedger) sumAt(epoch, scale int64) *uint256.Int {
	if s, ok := sp.sums[epochScale{epoch, scale}]; ok {
		return s.Clone()
	}
	return new(uint256.Int)
}

// Deposit returns the stored record for a depositor, or nil.
func (sp *StabilityPoolLedger) Deposit(depositor uuid.UUID) *StabilityDeposit {
	return sp.deposits[depositor]
}

// CompoundedDeposit returns the depositor's current value after all offsets
// since their snapshot. A deposit from a closed epoch was fully consumed
// and is zero; one that has fallen more than one scale behind, or below a
// billionth of its initial value, is rounded to zero.
func (sp *StabilityPoolLedger) CompoundedDeposit(depositor uuid.UUID) (*uint256.Int, error) {
	dep := sp.deposits[depositor]
	if dep == nil || dep.Initial.IsZero() {
		return new(uint256.Int), nil
	}
	if dep.Epoch < sp.epoch {
		return new(uint256.Int), nil
	}

	scaleDiff := sp.scale - dep.Scale
	var compounded *uint256.Int
	var err error
	switch scaleDiff {
	case 0:
		compounded, err = fpmath.MulDiv(&dep.Initial, &sp.product, &dep.P)
	case 1:
		denom, derr := fpmath.MulDiv(&dep.P, ScaleShift, uint256.NewInt(1))
		if derr != nil {
			return nil, derr
		}
		compounded, err = fpmath.MulDiv(&dep.Initial, &sp.product, denom)
	default:
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, err
	}

	dust := new(uint256.Int).Div(&dep.Initial, ScaleShift)
	if compounded.Cmp(dust) < 0 {
		return new(uint256.Int), nil
	}
	return compounded, nil
}

// CollateralGain returns the collateral accrued to the depositor since
// their snapshot. Gains span at most the snapshot scale and the one after
// it; anything beyond is below resolution.
func (sp *StabilityPoolLedger) CollateralGain(depositor uuid.UUID) (*uint256.Int, error) {
	dep := sp.deposits[depositor]
	if dep == nil || dep.Initial.IsZero() {
		return new(uint256.Int), nil
	}

	first, err := fpmath.Sub(sp.sumAt(dep.Epoch, dep.Scale), &dep.S)
	if err != nil {
		return nil, err
	}
	second := new(uint256.Int).Div(sp.sumAt(dep.Epoch, dep.Scale+1), ScaleShift)

	portions, err := fpmath.Add(first, second)
	if err != nil {
		return nil, err
	}

	gain, err := fpmath.MulDiv(&dep.Initial, portions, &dep.P)
	if err != nil {
		return nil, err
	}
	return gain.Div(gain, fpmath.One), nil
}

// Provide tops up a deposit: the compounded remainder of any existing
// position plus the new amount becomes the new initial value under a fresh
// snapshot. The pending collateral gain is returned for the caller to pay
// out.
func (sp *StabilityPoolLedger) Provide(depositor uuid.UUID, amount *uint256.Int) (*uint256.Int, error) {
	gain, err := sp.CollateralGain(depositor)
	if err != nil {
		return nil, err
	}
	compounded, err := sp.CompoundedDeposit(depositor)
	if err != nil {
		return nil, err
	}

	newInitial, err := fpmath.Add(compounded, amount)
	if err != nil {
		return nil, err
	}
	newTotal, err := fpmath.Add(&sp.totalDeposits, amount)
	if err != nil {
		return nil, err
	}

	sp.totalDeposits = *newTotal
	sp.writeDeposit(depositor, newInitial)
	return gain, nil
}

// Withdraw removes up to requested from the depositor's compounded value,
// clamped to what remains. It returns the amount actually withdrawn and
// the pending collateral gain.
func (sp *StabilityPoolLedger) Withdraw(depositor uuid.UUID, requested *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	if sp.deposits[depositor] == nil {
		return nil, nil, ErrNoStabilityDeposit
	}

	gain, err := sp.CollateralGain(depositor)
	if err != nil {
		return nil, nil, err
	}
	compounded, err := sp.CompoundedDeposit(depositor)
	if err != nil {
		return nil, nil, err
	}

	withdrawn := fpmath.Min(requested, compounded)
	remaining, err := fpmath.Sub(compounded, withdrawn)
	if err != nil {
		return nil, nil, err
	}
	newTotal, err := fpmath.Sub(&sp.totalDeposits, withdrawn)
	if err != nil {
		return nil, nil, err
	}

	sp.totalDeposits = *newTotal
	sp.writeDeposit(depositor, remaining)
	return withdrawn, gain, nil
}

func (sp *StabilityPoolLedger) writeDeposit(depositor uuid.UUID, initial *uint256.Int) {
	dep := sp.deposits[depositor]
	if dep == nil {
		dep = &StabilityDeposit{Depositor: depositor}
		sp.deposits[depositor] = dep
	}
	dep.Initial = *initial.Clone()
	dep.P = *sp.product.Clone()
	dep.S = *sp.sumAt(sp.epoch, sp.scale)
	dep.Epoch = sp.epoch
	dep.Scale = sp.scale
	sp.dirtyDeposits[depositor] = struct{}{}
	sp.poolDirty = true
}

// Offset absorbs debtToOffset against the pool and credits collateralToAdd
// to depositors. The caller has already clamped debtToOffset to
// TotalDeposits. Offsetting nothing, or against an empty pool, is a no-op.
func (sp *StabilityPoolLedger) Offset(debtToOffset, collateralToAdd *uint256.Int) error {
	if debtToOffset.IsZero() || sp.totalDeposits.IsZero() {
		return nil
	}

	collPerUnit, debtPerUnit, err := sp.perUnitAmounts(debtToOffset, collateralToAdd)
	if err != nil {
		return err
	}
	if err := sp.accrueSum(collPerUnit); err != nil {
		return err
	}
	if err := sp.decayProduct(debtPerUnit); err != nil {
		return err
	}

	newTotal, err := fpmath.Sub(&sp.totalDeposits, debtToOffset)
	if err != nil {
		return err
	}
	sp.totalDeposits = *newTotal
	sp.poolDirty = true
	return nil
}

// perUnitAmounts converts the offset into per-unit-deposited terms.
// Collateral rounds down with the remainder carried forward; the debt loss
// rounds up so P never understates the drawdown.
func (sp *StabilityPoolLedger) perUnitAmounts(debtToOffset, collateralToAdd *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	collNumerator, err := fpmath.MulDiv(collateralToAdd, fpmath.One, uint256.NewInt(1))
	if err != nil {
		return nil, nil, err
	}
	collNumerator, err = fpmath.Add(collNumerator, &sp.collateralErr)
	if err != nil {
		return nil, nil, err
	}
	collPerUnit := new(uint256.Int).Div(collNumerator, &sp.totalDeposits)
	consumed, err := fpmath.MulDiv(collPerUnit, &sp.totalDeposits, uint256.NewInt(1))
	if err != nil {
		return nil, nil, err
	}
	collErr, err := fpmath.Sub(collNumerator, consumed)
	if err != nil {
		return nil, nil, err
	}

	var debtPerUnit *uint256.Int
	if debtToOffset.Cmp(&sp.totalDeposits) == 0 {
		debtPerUnit = fpmath.One.Clone()
		sp.debtErr.Clear()
	} else {
		debtNumerator, nerr := fpmath.MulDiv(debtToOffset, fpmath.One, uint256.NewInt(1))
		if nerr != nil {
			return nil, nil, nerr
		}
		debtNumerator, nerr = fpmath.Sub(debtNumerator, &sp.debtErr)
		if nerr != nil {
			return nil, nil, nerr
		}
		debtPerUnit = new(uint256.Int).Div(debtNumerator, &sp.totalDeposits)
		debtPerUnit.AddUint64(debtPerUnit, 1)
		covered, nerr := fpmath.MulDiv(debtPerUnit, &sp.totalDeposits, uint256.NewInt(1))
		if nerr != nil {
			return nil, nil, nerr
		}
		debtErr, nerr := fpmath.Sub(covered, debtNumerator)
		if nerr != nil {
			return nil, nil, nerr
		}
		sp.debtErr = *debtErr
	}

	sp.collateralErr = *collErr
	return collPerUnit, debtPerUnit, nil
}

// accrueSum adds the marginal collateral gain, weighted by the current
// product, to the active scale's S bucket.
func (sp *StabilityPoolLedger) accrueSum(collPerUnit *uint256.Int) error {
	marginal, err := fpmath.MulDiv(collPerUnit, &sp.product, uint256.NewInt(1))
	if err != nil {
		return err
	}
	key := epochScale{sp.epoch, sp.scale}
	current := sp.sums[key]
	if current == nil {
		current = new(uint256.Int)
		sp.sums[key] = current
	}
	updated, err := fpmath.Add(current, marginal)
	if err != nil {
		return err
	}
	sp.sums[key] = updated
	return nil
}

// decayProduct applies the (1 - loss) factor to P, opening a new scale
// when P would drop below One/ScaleShift and a new epoch when the pool is
// emptied outright.
func (sp *StabilityPoolLedger) decayProduct(debtPerUnit *uint256.Int) error {
	factor, err := fpmath.Sub(fpmath.One, debtPerUnit)
	if err != nil {
		return err
	}

	if factor.IsZero() {
		sp.epoch++
		sp.scale = 0
		sp.product = *fpmath.One.Clone()
		return nil
	}

	decayed, err := fpmath.MulDiv(&sp.product, factor, fpmath.One)
	if err != nil {
		return err
	}

	boundary := new(uint256.Int).Div(fpmath.One, ScaleShift)
	if decayed.Cmp(boundary) < 0 {
		rescaled, rerr := fpmath.MulDiv(decayed, ScaleShift, uint256.NewInt(1))
		if rerr != nil {
			return rerr
		}
		sp.product = *rescaled
		sp.scale++
		return nil
	}

	sp.product = *decayed
	return nil
}

// AllDeposits returns a copy of every stored deposit record (snapshots,
// iteration). Copies keep snapshots detached from live mutations.
func (sp *StabilityPoolLedger) AllDeposits() []*StabilityDeposit {
	out := make([]*StabilityDeposit, 0, len(sp.deposits))
	for _, dep := range sp.deposits {
		cp := *dep
		out = append(out, &cp)
	}
	return out
}

// SetDeposit directly installs a deposit record (snapshot restore only).
func (sp *StabilityPoolLedger) SetDeposit(dep *StabilityDeposit) {
	// Installed as a copy: the caller's record (typically a snapshot)
	// must not alias live ledger state.
	cp := *dep
	sp.deposits[cp.Depositor] = &cp
}

// SumRecord is one (epoch, scale) → S entry, exported for snapshotting.
type SumRecord struct {
	Epoch int64
	Scale int64
	Value *uint256.Int
}

// SumRecords returns every S bucket (snapshots only).
func (sp *StabilityPoolLedger) SumRecords() []SumRecord {
	out := make([]SumRecord, 0, len(sp.sums))
	for k, v := range sp.sums {
		out = append(out, SumRecord{Epoch: k.epoch, Scale: k.scale, Value: v.Clone()})
	}
	return out
}

// RestoreSum directly installs one S bucket (snapshot restore only).
func (sp *StabilityPoolLedger) RestoreSum(epoch, scale int64, value *uint256.Int) {
	sp.sums[epochScale{epoch, scale}] = value.Clone()
}

// Errors returns the carried truncation remainders (snapshot capture).
func (sp *StabilityPoolLedger) Errors() (*uint256.Int, *uint256.Int) {
	return sp.collateralErr.Clone(), sp.debtErr.Clone()
}

// RestoreGlobals directly installs the pool-wide compounding state
// (snapshot restore only).
func (sp *StabilityPoolLedger) RestoreGlobals(totalDeposits, product *uint256.Int, epoch, scale int64, collErr, debtErr *uint256.Int) {
	sp.totalDeposits = *totalDeposits.Clone()
	sp.product = *product.Clone()
	sp.epoch = epoch
	sp.scale = scale
	sp.collateralErr = *collErr.Clone()
	sp.debtErr = *debtErr.Clone()
}
