package core

import (
	"fmt"

	"TroveLedger/internal/event"
	"TroveLedger/internal/ledger"
)

// handleProvideStability tops up a stability deposit. Any pending
// collateral gain is paid out as part of the same event.
func (c *DeterministicCore) handleProvideStability(evt *event.ProvideStability) ([]*ledger.Batch, error) {
	amount := amountOrZero(evt.Amount)
	if amount.IsZero() {
		return nil, fmt.Errorf("%w: zero stability deposit", ErrInvalidAmount)
	}

	ref := evt.IdempotencyKey()
	ts := evt.Timestamp.UnixMicro()

	provide, err := c.journalGen.GenerateStabilityProvide(evt.Depositor, ref, amount, ts)
	if err != nil {
		return nil, err
	}

	gain, err := c.stability.Provide(evt.Depositor, amount)
	if err != nil {
		return nil, err
	}

	batches := []*ledger.Batch{provide}
	if !gain.IsZero() {
		if err := c.pools.PayStabilityGain(c.paymentSink, evt.Depositor, gain); err != nil {
			return nil, err
		}
		payout, jerr := c.journalGen.GenerateStabilityWithdraw(evt.Depositor, ref, zeroAmount, gain, ts)
		if jerr != nil {
			return nil, jerr
		}
		batches = append(batches, payout)
	}
	return batches, nil
}

// handleWithdrawStability withdraws up to the requested amount from the
// depositor's compounded deposit, clamped to what survived offsets, plus
// the accrued collateral gain.
func (c *DeterministicCore) handleWithdrawStability(evt *event.WithdrawStability) ([]*ledger.Batch, error) {
	amount := amountOrZero(evt.Amount)
	if amount.IsZero() {
		return nil, fmt.Errorf("%w: zero stability withdrawal", ErrInvalidAmount)
	}

	withdrawn, gain, err := c.stability.Withdraw(evt.Depositor, amount)
	if err != nil {
		return nil, err
	}
	if !gain.IsZero() {
		if err := c.pools.PayStabilityGain(c.paymentSink, evt.Depositor, gain); err != nil {
			return nil, err
		}
	}

	batch, err := c.journalGen.GenerateStabilityWithdraw(
		evt.Depositor, evt.IdempotencyKey(), withdrawn, gain, evt.Timestamp.UnixMicro())
	if err != nil {
		return nil, err
	}
	return []*ledger.Batch{batch}, nil
}
