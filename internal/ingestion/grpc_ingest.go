package ingestion

import (
	"TroveLedger/internal/event"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// GRPCIngestService provides admin/manual event injection via gRPC.
// Per doc §15: gRPC ingest is for admin operations and manual event injection,
// not for high-throughput ingestion (use NATS for that).
type GRPCIngestService struct {
	eventChan chan<- event.Event
}

func NewGRPCIngestService(eventChan chan<- event.Event) *GRPCIngestService {
	return &GRPCIngestService{eventChan: eventChan}
}

// Submit enqueues a parsed command event. The HTTP command API uses this
// after running the same wire parsing as the NATS path.
func (s *GRPCIngestService) Submit(ctx context.Context, evt event.Event) error {
	select {
	case s.eventChan <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectPrice manually injects a PriceUpdate event, e.g. to unstick the
// system when the oracle feed is down.
func (s *GRPCIngestService) InjectPrice(
	ctx context.Context,
	price *uint256.Int,
	priceSequence int64,
) error {
	if price == nil || price.IsZero() {
		return fmt.Errorf("price must be positive")
	}

	evt := &event.PriceUpdate{
		Price:         price,
		PriceSequence: priceSequence,
		Timestamp:     time.Now(),
	}

	select {
	case s.eventChan <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectLiquidate manually injects a Liquidate command for one Trove.
func (s *GRPCIngestService) InjectLiquidate(
	ctx context.Context,
	target uuid.UUID,
) error {
	evt := &event.Liquidate{
		CommandID:       uuid.New(),
		Target:          target,
		CommandSequence: time.Now().UnixMicro(), // Admin-injected: use timestamp as sequence
		Timestamp:       time.Now(),
	}

	select {
	case s.eventChan <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectLiquidateBatch manually injects a batch liquidation sweep.
func (s *GRPCIngestService) InjectLiquidateBatch(
	ctx context.Context,
	maxTroves int,
) error {
	if maxTroves <= 0 {
		return fmt.Errorf("max troves must be positive")
	}

	evt := &event.LiquidateBatch{
		CommandID:       uuid.New(),
		MaxTroves:       maxTroves,
		CommandSequence: time.Now().UnixMicro(),
		Timestamp:       time.Now(),
	}

	select {
	case s.eventChan <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
