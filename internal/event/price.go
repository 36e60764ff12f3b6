package event

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"
)

// PriceUpdate carries a new oracle price for the collateral asset.
type PriceUpdate struct {
	Price         *uint256.Int // 18-decimal fixed point
	PriceSequence int64        // Monotonic per feed
	Timestamp     time.Time    // Versioned input timestamp
}

func (e *PriceUpdate) IdempotencyKey() string {
	return fmt.Sprintf("price:%d", e.PriceSequence)
}

func (e *PriceUpdate) EventType() EventType  { return EventTypePriceUpdate }
func (e *PriceUpdate) Stream() string        { return StreamPrices }
func (e *PriceUpdate) SourceSequence() int64 { return e.PriceSequence }
