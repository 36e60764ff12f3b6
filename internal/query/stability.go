package query

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

var (
	wadOne     = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	scaleShift = new(big.Int).Exp(big.NewInt(10), big.NewInt(9), nil)
)

// stabilityDepositRow is a projected deposit record with its compounding
// snapshot.
type stabilityDepositRow struct {
	Initial   *big.Int
	PSnapshot *big.Int
	SSnapshot *big.Int
	Epoch     int64
	Scale     int64
}

// stabilityStateRow is the projected pool-wide compounding state.
type stabilityStateRow struct {
	Product *big.Int
	Epoch   int64
	Scale   int64
}

// GetStabilityDeposit returns a depositor's stability pool position with
// the compounded value and collateral gain derived from the projected
// P/S snapshots.
func (qs *QueryService) GetStabilityDeposit(
	ctx context.Context,
	depositor uuid.UUID,
) (*StabilityDepositResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	dep, err := qs.getStabilityDepositRow(ctx, depositor)
	if err != nil {
		return nil, err
	}
	if dep == nil {
		return nil, nil
	}

	pool, err := qs.getStabilityStateRow(ctx)
	if err != nil {
		return nil, err
	}

	sumAtSnap, err := qs.getStabilitySum(ctx, dep.Epoch, dep.Scale)
	if err != nil {
		return nil, err
	}
	sumAtNext, err := qs.getStabilitySum(ctx, dep.Epoch, dep.Scale+1)
	if err != nil {
		return nil, err
	}

	compounded := compoundedDeposit(dep, pool)
	gain := collateralGain(dep, sumAtSnap, sumAtNext)

	return &StabilityDepositResponse{
		Depositor:         depositor,
		InitialDeposit:    dep.Initial.String(),
		CompoundedDeposit: compounded.String(),
		CollateralGain:    gain.String(),
		Epoch:             dep.Epoch,
		Scale:             dep.Scale,
		AsOfSequence:      asOfSeq,
	}, nil
}

// compoundedDeposit mirrors the core's compounding: a deposit from a closed
// epoch was fully consumed; one more than a scale behind, or below a
// billionth of its initial value, rounds to zero.
func compoundedDeposit(dep *stabilityDepositRow, pool *stabilityStateRow) *big.Int {
	if dep.Initial.Sign() == 0 || pool == nil || dep.Epoch < pool.Epoch {
		return new(big.Int)
	}

	compounded := new(big.Int)
	switch pool.Scale - dep.Scale {
	case 0:
		compounded.Mul(dep.Initial, pool.Product)
		compounded.Div(compounded, dep.PSnapshot)
	case 1:
		compounded.Mul(dep.Initial, pool.Product)
		compounded.Div(compounded, new(big.Int).Mul(dep.PSnapshot, scaleShift))
	default:
		return new(big.Int)
	}

	dust := new(big.Int).Div(dep.Initial, scaleShift)
	if compounded.Cmp(dust) < 0 {
		return new(big.Int)
	}
	return compounded
}

// collateralGain mirrors the core: gains span at most the snapshot scale
// and the one after it.
func collateralGain(dep *stabilityDepositRow, sumAtSnap, sumAtNext *big.Int) *big.Int {
	if dep.Initial.Sign() == 0 {
		return new(big.Int)
	}

	portions := new(big.Int).Sub(sumAtSnap, dep.SSnapshot)
	portions.Add(portions, new(big.Int).Div(sumAtNext, scaleShift))

	gain := new(big.Int).Mul(dep.Initial, portions)
	gain.Div(gain, dep.PSnapshot)
	return gain.Div(gain, wadOne)
}

func (qs *QueryService) getStabilityDepositRow(ctx context.Context, depositor uuid.UUID) (*stabilityDepositRow, error) {
	var initial, pSnap, sSnap string
	row := &stabilityDepositRow{}
	err := qs.db.QueryRowContext(ctx, `
		SELECT initial::text, p_snapshot::text, s_snapshot::text, epoch, scale
		FROM projections.stability_deposits
		WHERE depositor = $1
	`, depositor).Scan(&initial, &pSnap, &sSnap, &row.Epoch, &row.Scale)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var ok bool
	if row.Initial, ok = new(big.Int).SetString(initial, 10); !ok {
		return nil, fmt.Errorf("bad initial deposit: %q", initial)
	}
	if row.PSnapshot, ok = new(big.Int).SetString(pSnap, 10); !ok {
		return nil, fmt.Errorf("bad p snapshot: %q", pSnap)
	}
	if row.SSnapshot, ok = new(big.Int).SetString(sSnap, 10); !ok {
		return nil, fmt.Errorf("bad s snapshot: %q", sSnap)
	}
	return row, nil
}

func (qs *QueryService) getStabilityStateRow(ctx context.Context) (*stabilityStateRow, error) {
	var product string
	row := &stabilityStateRow{}
	err := qs.db.QueryRowContext(ctx, `
		SELECT product::text, epoch, scale
		FROM projections.stability_state
		WHERE state_id = 'main'
	`).Scan(&product, &row.Epoch, &row.Scale)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var ok bool
	if row.Product, ok = new(big.Int).SetString(product, 10); !ok {
		return nil, fmt.Errorf("bad product: %q", product)
	}
	return row, nil
}

func (qs *QueryService) getStabilitySum(ctx context.Context, epoch, scale int64) (*big.Int, error) {
	var value string
	err := qs.db.QueryRowContext(ctx, `
		SELECT value::text FROM projections.stability_sums
		WHERE epoch = $1 AND scale = $2
	`, epoch, scale).Scan(&value)
	if err == sql.ErrNoRows {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, err
	}

	sum, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("bad stability sum: %q", value)
	}
	return sum, nil
}
