package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeOpenTrove
	EventTypeAdjustTrove
	EventTypeCloseTrove
	EventTypeProvideStability
	EventTypeWithdrawStability
	EventTypeLiquidate
	EventTypeLiquidateBatch
	EventTypeRedeem
	EventTypePriceUpdate
)

// Stream names partition the event log for ordering validation: borrower
// and liquidation commands ride one stream, oracle prices another.
const (
	StreamCommands = "commands"
	StreamPrices   = "prices"
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Source stream for per-partition ordering
	Stream string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded event-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// Stream returns the source stream for ordering
	Stream() string

	// SourceSequence returns upstream ordering key
	SourceSequence() int64
}

// EventTypeFromString is the inverse of EventType.String, used when
// rehydrating archived envelopes.
func EventTypeFromString(s string) EventType {
	switch s {
	case "OpenTrove":
		return EventTypeOpenTrove
	case "AdjustTrove":
		return EventTypeAdjustTrove
	case "CloseTrove":
		return EventTypeCloseTrove
	case "ProvideStability":
		return EventTypeProvideStability
	case "WithdrawStability":
		return EventTypeWithdrawStability
	case "Liquidate":
		return EventTypeLiquidate
	case "LiquidateBatch":
		return EventTypeLiquidateBatch
	case "Redeem":
		return EventTypeRedeem
	case "PriceUpdate":
		return EventTypePriceUpdate
	default:
		return EventTypeUnknown
	}
}

// DecodePayload reconstructs a typed event from an archived envelope
// payload. Used on warm restart to replay events past the last snapshot.
func DecodePayload(et EventType, payload []byte) (Event, error) {
	var evt Event
	switch et {
	case EventTypeOpenTrove:
		evt = &OpenTrove{}
	case EventTypeAdjustTrove:
		evt = &AdjustTrove{}
	case EventTypeCloseTrove:
		evt = &CloseTrove{}
	case EventTypeProvideStability:
		evt = &ProvideStability{}
	case EventTypeWithdrawStability:
		evt = &WithdrawStability{}
	case EventTypeLiquidate:
		evt = &Liquidate{}
	case EventTypeLiquidateBatch:
		evt = &LiquidateBatch{}
	case EventTypeRedeem:
		evt = &Redeem{}
	case EventTypePriceUpdate:
		evt = &PriceUpdate{}
	default:
		return nil, fmt.Errorf("unknown event type: %d", et)
	}

	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", et, err)
	}
	return evt, nil
}

func (et EventType) String() string {
	switch et {
	case EventTypeOpenTrove:
		return "OpenTrove"
	case EventTypeAdjustTrove:
		return "AdjustTrove"
	case EventTypeCloseTrove:
		return "CloseTrove"
	case EventTypeProvideStability:
		return "ProvideStability"
	case EventTypeWithdrawStability:
		return "WithdrawStability"
	case EventTypeLiquidate:
		return "Liquidate"
	case EventTypeLiquidateBatch:
		return "LiquidateBatch"
	case EventTypeRedeem:
		return "Redeem"
	case EventTypePriceUpdate:
		return "PriceUpdate"
	default:
		return "Unknown"
	}
}
