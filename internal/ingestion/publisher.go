package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/nats-io/nats.go/jetstream"
)

// OutboundPublisher publishes processed events to NATS for downstream consumers.
// Per doc §15: outbound events are published after persistence is confirmed.
// Subjects follow the pattern: trove.ledger.events.{event_type}
type OutboundPublisher struct {
	js          jetstream.JetStream
	inputChan   <-chan PublishableEvent
	paymentChan <-chan PaymentInstruction
}

// PublishableEvent is a processed event ready for outbound publishing.
type PublishableEvent struct {
	Sequence       int64       `json:"sequence"`
	EventType      string      `json:"event_type"`
	IdempotencyKey string      `json:"idempotency_key"`
	Payload        interface{} `json:"payload"`
	StateHash      []byte      `json:"state_hash"`
	Timestamp      time.Time   `json:"timestamp"`
}

// PaymentInstruction tells the settlement layer to release collateral to a
// recipient: Trove withdrawals and closes, redemption proceeds, liquidation
// surplus, stability gains. The authoritative record is the journal row; this
// message only triggers the transfer.
type PaymentInstruction struct {
	PaymentID uuid.UUID `json:"payment_id"`
	Recipient uuid.UUID `json:"recipient"`
	Amount    string    `json:"amount"` // wad, decimal string
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan PublishableEvent, paymentChan <-chan PaymentInstruction) *OutboundPublisher {
	return &OutboundPublisher{
		js:          js,
		inputChan:   inputChan,
		paymentChan: paymentChan,
	}
}

// Run starts the outbound publisher loop.
// Per doc §15: publishes to trove.ledger.events.{event_type} and
// trove.ledger.payments.{recipient}.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			if err := op.publishEvent(ctx, evt); err != nil {
				log.Printf("WARN: outbound publish failed seq=%d: %v", evt.Sequence, err)
				// Non-fatal: downstream consumers can query the event log directly
			}

		case pay, ok := <-op.paymentChan:
			if !ok {
				return nil
			}
			if err := op.publishPayment(ctx, pay); err != nil {
				log.Printf("WARN: payment publish failed id=%s: %v", pay.PaymentID, err)
			}
		}
	}
}

func (op *OutboundPublisher) publishEvent(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("trove.ledger.events.%s", evt.EventType)
	_, err = op.js.Publish(ctx, subject, data)
	return err
}

func (op *OutboundPublisher) publishPayment(ctx context.Context, pay PaymentInstruction) error {
	data, err := json.Marshal(pay)
	if err != nil {
		return fmt.Errorf("marshal payment: %w", err)
	}

	subject := fmt.Sprintf("trove.ledger.payments.%s", pay.Recipient)
	_, err = op.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "TROVE_LEDGER_EVENTS",
		Subjects:  []string{"trove.ledger.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log.Println("INFO: ensured outbound stream TROVE_LEDGER_EVENTS")
	return nil
}

// ChannelPaymentSink adapts the publisher's payment channel to the core's
// PaymentSink. Pay never blocks the core: a full channel drops the message
// and relies on the journal row for reconciliation.
type ChannelPaymentSink struct {
	ch    chan<- PaymentInstruction
	drops int64
}

func NewChannelPaymentSink(ch chan<- PaymentInstruction) *ChannelPaymentSink {
	return &ChannelPaymentSink{ch: ch}
}

func (s *ChannelPaymentSink) Pay(recipient uuid.UUID, amount *uint256.Int) error {
	instr := PaymentInstruction{
		PaymentID: uuid.New(),
		Recipient: recipient,
		Amount:    amount.Dec(),
	}
	select {
	case s.ch <- instr:
	default:
		s.drops++
		log.Printf("WARN: payment channel full, dropped payment to %s", recipient)
	}
	return nil
}

// Drops returns the number of payment instructions dropped so far.
func (s *ChannelPaymentSink) Drops() int64 {
	return s.drops
}
