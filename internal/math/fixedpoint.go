package math

import (
	"errors"
	"math/big"
	"sync"

	"github.com/holiman/uint256"
)

// All protocol amounts are unsigned fixed-point values at 18-decimal scale:
// One represents 1.0 (equivalently 100%). Arithmetic never wraps silently —
// overflow and underflow surface as errors and abort the calling operation.
var (
	ErrOverflow     = errors.New("fixed-point overflow")
	ErrUnderflow    = errors.New("fixed-point underflow")
	ErrDivideByZero = errors.New("fixed-point divide by zero")
)

// One is the canonical scale factor (10^18). Treated as a constant.
var One = uint256.NewInt(1_000_000_000_000_000_000)

// MaxValue is the largest representable amount, used as the infinite-ratio
// sentinel for zero-debt Troves. Treated as a constant.
var MaxValue = func() *uint256.Int {
	max := new(uint256.Int)
	return max.Not(max)
}()

// bigPool recycles big.Int values used for extended-precision intermediates.
var bigPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getBig() *big.Int {
	return bigPool.Get().(*big.Int)
}

func putBig(v *big.Int) {
	v.SetInt64(0)
	bigPool.Put(v)
}

// Add returns a+b, failing with ErrOverflow past 2^256-1.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	sum, carry := new(uint256.Int).AddOverflow(a, b)
	if carry {
		return nil, ErrOverflow
	}
	return sum, nil
}

// Sub returns a-b, failing with ErrUnderflow if b > a.
func Sub(a, b *uint256.Int) (*uint256.Int, error) {
	diff, borrow := new(uint256.Int).SubOverflow(a, b)
	if borrow {
		return nil, ErrUnderflow
	}
	return diff, nil
}

// MulDiv returns (a*b)/den with the multiplication performed at full
// precision via big.Int, so the product never truncates before the division.
func MulDiv(a, b, den *uint256.Int) (*uint256.Int, error) {
	if den.IsZero() {
		return nil, ErrDivideByZero
	}

	product := getBig()
	defer putBig(product)

	product.Mul(a.ToBig(), b.ToBig())
	product.Quo(product, den.ToBig())

	result, overflow := uint256.FromBig(product)
	if overflow {
		return nil, ErrOverflow
	}
	return result, nil
}

// WadMul returns a*b/One.
func WadMul(a, b *uint256.Int) (*uint256.Int, error) {
	return MulDiv(a, b, One)
}

// WadDiv returns a*One/b.
func WadDiv(a, b *uint256.Int) (*uint256.Int, error) {
	if b.IsZero() {
		return nil, ErrDivideByZero
	}
	return MulDiv(a, One, b)
}

// Min returns the smaller of a and b (a copy, never an alias).
func Min(a, b *uint256.Int) *uint256.Int {
	if a.Cmp(b) <= 0 {
		return a.Clone()
	}
	return b.Clone()
}
