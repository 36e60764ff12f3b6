package event

import (
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// OpenTrove opens a new position: lock collateral, mint debt.
// Idempotency key: command_id (UUID from the gateway).
type OpenTrove struct {
	CommandID       uuid.UUID // Idempotency key
	Owner           uuid.UUID
	Collateral      *uint256.Int // 18-decimal fixed point
	Debt            *uint256.Int // Requested mint, before the issuance fee
	CommandSequence int64        // Source sequence from the gateway
	Timestamp       time.Time    // Versioned input timestamp (NOT wall-clock)
}

func (e *OpenTrove) IdempotencyKey() string { return e.CommandID.String() }
func (e *OpenTrove) EventType() EventType   { return EventTypeOpenTrove }
func (e *OpenTrove) Stream() string         { return StreamCommands }
func (e *OpenTrove) SourceSequence() int64  { return e.CommandSequence }

// AdjustTrove changes an open position. Each delta is optional; a zero
// value means that leg is untouched. Deposit/withdraw and borrow/repay are
// mutually exclusive per leg.
type AdjustTrove struct {
	CommandID          uuid.UUID
	Owner              uuid.UUID
	CollateralDeposit  *uint256.Int
	CollateralWithdraw *uint256.Int
	DebtBorrow         *uint256.Int
	DebtRepay          *uint256.Int
	CommandSequence    int64
	Timestamp          time.Time
}

func (e *AdjustTrove) IdempotencyKey() string { return e.CommandID.String() }
func (e *AdjustTrove) EventType() EventType   { return EventTypeAdjustTrove }
func (e *AdjustTrove) Stream() string         { return StreamCommands }
func (e *AdjustTrove) SourceSequence() int64  { return e.CommandSequence }

// CloseTrove repays all debt and releases all collateral.
type CloseTrove struct {
	CommandID       uuid.UUID
	Owner           uuid.UUID
	CommandSequence int64
	Timestamp       time.Time
}

func (e *CloseTrove) IdempotencyKey() string { return e.CommandID.String() }
func (e *CloseTrove) EventType() EventType   { return EventTypeCloseTrove }
func (e *CloseTrove) Stream() string         { return StreamCommands }
func (e *CloseTrove) SourceSequence() int64  { return e.CommandSequence }
