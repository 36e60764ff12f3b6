package ingestion

import (
	"TroveLedger/internal/event"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// ParseRawEvent converts a RawEvent (JSON bytes + event type string) into a typed event.Event.
// Per doc §15: the ingestion shell validates, parses, and converts raw events before
// sending to the deterministic core.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch eventType {
	case "OpenTrove":
		return parseOpenTrove(raw.Data)
	case "AdjustTrove":
		return parseAdjustTrove(raw.Data)
	case "CloseTrove":
		return parseCloseTrove(raw.Data)
	case "ProvideStability":
		return parseProvideStability(raw.Data)
	case "WithdrawStability":
		return parseWithdrawStability(raw.Data)
	case "Liquidate":
		return parseLiquidate(raw.Data)
	case "LiquidateBatch":
		return parseLiquidateBatch(raw.Data)
	case "Redeem":
		return parseRedeem(raw.Data)
	case "PriceUpdate":
		return parsePriceUpdate(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS.
// Field names use snake_case to match upstream producers. Token amounts
// are 18-decimal fixed-point values encoded as decimal strings; int64
// cannot carry a wad.

// parseWad parses a decimal-string wad. Empty means zero (optional legs).
func parseWad(field, s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", field, err)
	}
	return v, nil
}

type openTroveJSON struct {
	CommandID   string `json:"command_id"`
	Owner       string `json:"owner"`
	Collateral  string `json:"collateral"`
	Debt        string `json:"debt"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseOpenTrove(data []byte) (*event.OpenTrove, error) {
	var j openTroveJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse OpenTrove: %w", err)
	}

	commandID, err := uuid.Parse(j.CommandID)
	if err != nil {
		return nil, fmt.Errorf("parse command_id: %w", err)
	}
	owner, err := uuid.Parse(j.Owner)
	if err != nil {
		return nil, fmt.Errorf("parse owner: %w", err)
	}
	collateral, err := parseWad("collateral", j.Collateral)
	if err != nil {
		return nil, err
	}
	debt, err := parseWad("debt", j.Debt)
	if err != nil {
		return nil, err
	}

	return &event.OpenTrove{
		CommandID:       commandID,
		Owner:           owner,
		Collateral:      collateral,
		Debt:            debt,
		CommandSequence: j.Sequence,
		Timestamp:       time.UnixMicro(j.TimestampUs),
	}, nil
}

type adjustTroveJSON struct {
	CommandID          string `json:"command_id"`
	Owner              string `json:"owner"`
	CollateralDeposit  string `json:"collateral_deposit,omitempty"`
	CollateralWithdraw string `json:"collateral_withdraw,omitempty"`
	DebtBorrow         string `json:"debt_borrow,omitempty"`
	DebtRepay          string `json:"debt_repay,omitempty"`
	Sequence           int64  `json:"sequence"`
	TimestampUs        int64  `json:"timestamp_us"`
}

func parseAdjustTrove(data []byte) (*event.AdjustTrove, error) {
	var j adjustTroveJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse AdjustTrove: %w", err)
	}

	commandID, err := uuid.Parse(j.CommandID)
	if err != nil {
		return nil, fmt.Errorf("parse command_id: %w", err)
	}
	owner, err := uuid.Parse(j.Owner)
	if err != nil {
		return nil, fmt.Errorf("parse owner: %w", err)
	}
	deposit, err := parseWad("collateral_deposit", j.CollateralDeposit)
	if err != nil {
		return nil, err
	}
	withdraw, err := parseWad("collateral_withdraw", j.CollateralWithdraw)
	if err != nil {
		return nil, err
	}
	borrow, err := parseWad("debt_borrow", j.DebtBorrow)
	if err != nil {
		return nil, err
	}
	repay, err := parseWad("debt_repay", j.DebtRepay)
	if err != nil {
		return nil, err
	}

	return &event.AdjustTrove{
		CommandID:          commandID,
		Owner:              owner,
		CollateralDeposit:  deposit,
		CollateralWithdraw: withdraw,
		DebtBorrow:         borrow,
		DebtRepay:          repay,
		CommandSequence:    j.Sequence,
		Timestamp:          time.UnixMicro(j.TimestampUs),
	}, nil
}

type closeTroveJSON struct {
	CommandID   string `json:"command_id"`
	Owner       string `json:"owner"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseCloseTrove(data []byte) (*event.CloseTrove, error) {
	var j closeTroveJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CloseTrove: %w", err)
	}
	commandID, err := uuid.Parse(j.CommandID)
	if err != nil {
		return nil, fmt.Errorf("parse command_id: %w", err)
	}
	owner, err := uuid.Parse(j.Owner)
	if err != nil {
		return nil, fmt.Errorf("parse owner: %w", err)
	}
	return &event.CloseTrove{
		CommandID:       commandID,
		Owner:           owner,
		CommandSequence: j.Sequence,
		Timestamp:       time.UnixMicro(j.TimestampUs),
	}, nil
}

type stabilityJSON struct {
	CommandID   string `json:"command_id"`
	Depositor   string `json:"depositor"`
	Amount      string `json:"amount"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseProvideStability(data []byte) (*event.ProvideStability, error) {
	var j stabilityJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ProvideStability: %w", err)
	}
	commandID, err := uuid.Parse(j.CommandID)
	if err != nil {
		return nil, fmt.Errorf("parse command_id: %w", err)
	}
	depositor, err := uuid.Parse(j.Depositor)
	if err != nil {
		return nil, fmt.Errorf("parse depositor: %w", err)
	}
	amount, err := parseWad("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.ProvideStability{
		CommandID:       commandID,
		Depositor:       depositor,
		Amount:          amount,
		CommandSequence: j.Sequence,
		Timestamp:       time.UnixMicro(j.TimestampUs),
	}, nil
}

func parseWithdrawStability(data []byte) (*event.WithdrawStability, error) {
	var j stabilityJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse WithdrawStability: %w", err)
	}
	commandID, err := uuid.Parse(j.CommandID)
	if err != nil {
		return nil, fmt.Errorf("parse command_id: %w", err)
	}
	depositor, err := uuid.Parse(j.Depositor)
	if err != nil {
		return nil, fmt.Errorf("parse depositor: %w", err)
	}
	amount, err := parseWad("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.WithdrawStability{
		CommandID:       commandID,
		Depositor:       depositor,
		Amount:          amount,
		CommandSequence: j.Sequence,
		Timestamp:       time.UnixMicro(j.TimestampUs),
	}, nil
}

type liquidateJSON struct {
	CommandID   string `json:"command_id"`
	Target      string `json:"target"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseLiquidate(data []byte) (*event.Liquidate, error) {
	var j liquidateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Liquidate: %w", err)
	}
	commandID, err := uuid.Parse(j.CommandID)
	if err != nil {
		return nil, fmt.Errorf("parse command_id: %w", err)
	}
	target, err := uuid.Parse(j.Target)
	if err != nil {
		return nil, fmt.Errorf("parse target: %w", err)
	}
	return &event.Liquidate{
		CommandID:       commandID,
		Target:          target,
		CommandSequence: j.Sequence,
		Timestamp:       time.UnixMicro(j.TimestampUs),
	}, nil
}

type liquidateBatchJSON struct {
	CommandID   string `json:"command_id"`
	MaxTroves   int    `json:"max_troves"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseLiquidateBatch(data []byte) (*event.LiquidateBatch, error) {
	var j liquidateBatchJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse LiquidateBatch: %w", err)
	}
	commandID, err := uuid.Parse(j.CommandID)
	if err != nil {
		return nil, fmt.Errorf("parse command_id: %w", err)
	}
	return &event.LiquidateBatch{
		CommandID:       commandID,
		MaxTroves:       j.MaxTroves,
		CommandSequence: j.Sequence,
		Timestamp:       time.UnixMicro(j.TimestampUs),
	}, nil
}

type redeemJSON struct {
	CommandID   string `json:"command_id"`
	Redeemer    string `json:"redeemer"`
	Amount      string `json:"amount"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseRedeem(data []byte) (*event.Redeem, error) {
	var j redeemJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Redeem: %w", err)
	}
	commandID, err := uuid.Parse(j.CommandID)
	if err != nil {
		return nil, fmt.Errorf("parse command_id: %w", err)
	}
	redeemer, err := uuid.Parse(j.Redeemer)
	if err != nil {
		return nil, fmt.Errorf("parse redeemer: %w", err)
	}
	amount, err := parseWad("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.Redeem{
		CommandID:       commandID,
		Redeemer:        redeemer,
		Amount:          amount,
		CommandSequence: j.Sequence,
		Timestamp:       time.UnixMicro(j.TimestampUs),
	}, nil
}

type priceUpdateJSON struct {
	Price         string `json:"price"`
	PriceSequence int64  `json:"price_sequence"`
	TimestampUs   int64  `json:"timestamp_us"`
}

func parsePriceUpdate(data []byte) (*event.PriceUpdate, error) {
	var j priceUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PriceUpdate: %w", err)
	}
	price, err := parseWad("price", j.Price)
	if err != nil {
		return nil, err
	}
	return &event.PriceUpdate{
		Price:         price,
		PriceSequence: j.PriceSequence,
		Timestamp:     time.UnixMicro(j.TimestampUs),
	}, nil
}
