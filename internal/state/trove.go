package state

import (
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Status tracks a Trove's lifecycle.
type Status int32

const (
	StatusNonExistent Status = iota
	StatusActive
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusNonExistent:
		return "NonExistent"
	case StatusActive:
		return "Active"
	case StatusClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates status transitions. A closed Trove may only
// come back through the creation path (Closed → Active via Create).
func (s Status) CanTransitionTo(next Status) bool {
	validTransitions := map[Status][]Status{
		StatusNonExistent: {StatusActive},
		StatusActive:      {StatusClosed},
		StatusClosed:      {StatusActive},
	}

	allowed, ok := validTransitions[s]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if next == a {
			return true
		}
	}
	return false
}

// RewardSnapshot records the global per-unit-staked redistribution
// accumulators at the last time this Trove's pending rewards were applied.
// Pending reward = stake * (L_now - snapshot).
type RewardSnapshot struct {
	CollateralPerStake uint256.Int
	DebtPerStake       uint256.Int
}

// Trove is a single account's collateralized debt position.
type Trove struct {
	Owner      uuid.UUID
	Collateral uint256.Int
	Debt       uint256.Int

	// Stake apportions redistributed losses; recomputed whenever the
	// Trove's collateral changes.
	Stake uint256.Int

	Status Status

	// OwnerIndex is this Trove's slot in the active-owner list, enabling
	// O(1) swap-with-last removal.
	OwnerIndex int

	Snapshot RewardSnapshot

	// Version increments on every mutation (optimistic concurrency for
	// projections).
	Version int64
}

// IsActive reports whether the Trove is an open position.
func (tr *Trove) IsActive() bool {
	return tr.Status == StatusActive
}
