package event

import (
	"time"

	"github.com/google/uuid"
)

// Liquidate targets one undercollateralized Trove.
type Liquidate struct {
	CommandID       uuid.UUID
	Target          uuid.UUID
	CommandSequence int64
	Timestamp       time.Time
}

func (e *Liquidate) IdempotencyKey() string { return e.CommandID.String() }
func (e *Liquidate) EventType() EventType   { return EventTypeLiquidate }
func (e *Liquidate) Stream() string         { return StreamCommands }
func (e *Liquidate) SourceSequence() int64  { return e.CommandSequence }

// LiquidateBatch sweeps up to MaxTroves liquidatable Troves in ascending
// collateral-ratio order.
type LiquidateBatch struct {
	CommandID       uuid.UUID
	MaxTroves       int
	CommandSequence int64
	Timestamp       time.Time
}

func (e *LiquidateBatch) IdempotencyKey() string { return e.CommandID.String() }
func (e *LiquidateBatch) EventType() EventType   { return EventTypeLiquidateBatch }
func (e *LiquidateBatch) Stream() string         { return StreamCommands }
func (e *LiquidateBatch) SourceSequence() int64  { return e.CommandSequence }
