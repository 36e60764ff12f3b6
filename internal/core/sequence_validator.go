package core

import (
	"fmt"
)

// SequenceValidator validates source sequences per stream.
// Not thread-safe — only accessed from the single-threaded deterministic core.
//
// Command streams are strict: a gap or out-of-order delivery is an error.
// The price stream tolerates gaps — the oracle only guarantees the feed is
// monotonic, not dense.
type SequenceValidator struct {
	expectedNextSeq map[string]int64 // stream -> next expected sequence
	metrics         *SequenceMetrics
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{
		expectedNextSeq: make(map[string]int64),
		metrics:         NewSequenceMetrics(),
	}
}

// ValidateSequence checks source sequence ordering on a strict stream
func (sv *SequenceValidator) ValidateSequence(
	stream string,
	sourceSequence int64,
	idempotencyKey string,
	isDuplicate bool,
) error {
	expected := sv.expectedNextSeq[stream]

	if sourceSequence < expected {
		// Stale or duplicate
		if isDuplicate {
			// This is expected - already processed
			return nil
		}
		// Out-of-order delivery of NEW event
		sv.metrics.RecordOutOfOrder(stream)
		return fmt.Errorf("out-of-order event: stream=%s, expected=%d, got=%d",
			stream, expected, sourceSequence)
	}

	if sourceSequence == expected {
		// Normal case - advance sequence
		sv.expectedNextSeq[stream] = expected + 1
		return nil
	}

	// sourceSequence > expected - gap detected
	sv.metrics.RecordGap(stream, expected, sourceSequence)
	return fmt.Errorf("sequence gap: stream=%s, expected=%d, got=%d",
		stream, expected, sourceSequence)
}

// ValidatePriceSequence validates price updates (gaps tolerated)
func (sv *SequenceValidator) ValidatePriceSequence(stream string, priceSequence int64) error {
	expected := sv.expectedNextSeq[stream]

	if priceSequence <= expected {
		// Stale - silently ignore (idempotent)
		return nil
	}

	if priceSequence > expected+1 {
		// Gap detected - record but accept
		sv.metrics.RecordPriceGap(stream, expected, priceSequence)
	}

	sv.expectedNextSeq[stream] = priceSequence + 1

	return nil
}

// GetExpectedSequence returns next expected sequence for a stream
func (sv *SequenceValidator) GetExpectedSequence(stream string) int64 {
	return sv.expectedNextSeq[stream]
}

// SetExpectedSequence initializes expected sequence (used during recovery)
func (sv *SequenceValidator) SetExpectedSequence(stream string, seq int64) {
	sv.expectedNextSeq[stream] = seq
}

// GetAllStreams returns the full stream → next-sequence map for snapshots
func (sv *SequenceValidator) GetAllStreams() map[string]int64 {
	out := make(map[string]int64, len(sv.expectedNextSeq))
	for k, v := range sv.expectedNextSeq {
		out[k] = v
	}
	return out
}

// --- Metrics ---

// SequenceMetrics tracks sequence validation stats.
// Not thread-safe — only accessed from the single-threaded deterministic core.
type SequenceMetrics struct {
	gaps       map[string]int64 // stream -> gap count
	outOfOrder map[string]int64 // stream -> out-of-order count
	priceGaps  map[string]int64 // stream -> price gap count
}

func NewSequenceMetrics() *SequenceMetrics {
	return &SequenceMetrics{
		gaps:       make(map[string]int64),
		outOfOrder: make(map[string]int64),
		priceGaps:  make(map[string]int64),
	}
}

func (m *SequenceMetrics) RecordGap(stream string, expected, got int64) {
	m.gaps[stream]++
}

func (m *SequenceMetrics) RecordOutOfOrder(stream string) {
	m.outOfOrder[stream]++
}

func (m *SequenceMetrics) RecordPriceGap(stream string, expected, got int64) {
	m.priceGaps[stream]++
}

func (m *SequenceMetrics) GetGaps(stream string) int64 {
	return m.gaps[stream]
}

func (m *SequenceMetrics) GetOutOfOrder(stream string) int64 {
	return m.outOfOrder[stream]
}

func (m *SequenceMetrics) GetPriceGaps(stream string) int64 {
	return m.priceGaps[stream]
}
