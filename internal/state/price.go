package state

import (
	"github.com/holiman/uint256"
)

// PriceFeed holds the latest oracle price for the collateral asset,
// 18-decimal scaled. Updates carry the feed's own sequence number; an
// update at or behind the stored sequence is stale and ignored.
type PriceFeed struct {
	price    uint256.Int
	sequence uint64
	set      bool
}

func NewPriceFeed() *PriceFeed {
	return &PriceFeed{}
}

// Update installs a new price. It reports whether the update was applied
// or dropped as stale.
func (pf *PriceFeed) Update(price *uint256.Int, sequence uint64) bool {
	if pf.set && sequence <= pf.sequence {
		return false
	}
	pf.price = *price.Clone()
	pf.sequence = sequence
	pf.set = true
	return true
}

// Price returns the current price. ok is false until the first update
// lands; ratio-dependent operations must refuse to run before then.
func (pf *PriceFeed) Price() (*uint256.Int, bool) {
	if !pf.set {
		return nil, false
	}
	return pf.price.Clone(), true
}

// Sequence returns the sequence of the last applied update.
func (pf *PriceFeed) Sequence() uint64 {
	return pf.sequence
}

// Restore directly installs feed state (snapshot restore only).
func (pf *PriceFeed) Restore(price *uint256.Int, sequence uint64, set bool) {
	if price != nil {
		pf.price = *price.Clone()
	}
	pf.sequence = sequence
	pf.set = set
}
