package event

import (
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// ProvideStability deposits stable tokens into the stability pool.
type ProvideStability struct {
	CommandID       uuid.UUID
	Depositor       uuid.UUID
	Amount          *uint256.Int
	CommandSequence int64
	Timestamp       time.Time
}

func (e *ProvideStability) IdempotencyKey() string { return e.CommandID.String() }
func (e *ProvideStability) EventType() EventType   { return EventTypeProvideStability }
func (e *ProvideStability) Stream() string         { return StreamCommands }
func (e *ProvideStability) SourceSequence() int64  { return e.CommandSequence }

// WithdrawStability withdraws up to Amount from the depositor's compounded
// deposit, plus any accrued collateral gain.
type WithdrawStability struct {
	CommandID       uuid.UUID
	Depositor       uuid.UUID
	Amount          *uint256.Int
	CommandSequence int64
	Timestamp       time.Time
}

func (e *WithdrawStability) IdempotencyKey() string { return e.CommandID.String() }
func (e *WithdrawStability) EventType() EventType   { return EventTypeWithdrawStability }
func (e *WithdrawStability) Stream() string         { return StreamCommands }
func (e *WithdrawStability) SourceSequence() int64  { return e.CommandSequence }
