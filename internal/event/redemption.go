package event

import (
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Redeem exchanges stable tokens for collateral at face value, drawn from
// the riskiest Troves first.
type Redeem struct {
	CommandID       uuid.UUID
	Redeemer        uuid.UUID
	Amount          *uint256.Int // Stable tokens to redeem
	CommandSequence int64
	Timestamp       time.Time
}

func (e *Redeem) IdempotencyKey() string { return e.CommandID.String() }
func (e *Redeem) EventType() EventType   { return EventTypeRedeem }
func (e *Redeem) Stream() string         { return StreamCommands }
func (e *Redeem) SourceSequence() int64  { return e.CommandSequence }
