package ingestion_test

import (
	"TroveLedger/internal/event"
	"TroveLedger/internal/ingestion"
	"encoding/json"
	"testing"
	"time"
)

func rawFromJSON(t *testing.T, v interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawEvent{
		Subject:   "test",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func TestParseOpenTrove(t *testing.T) {
	payload := map[string]interface{}{
		"command_id":   "550e8400-e29b-41d4-a716-446655440000",
		"owner":        "660e8400-e29b-41d4-a716-446655440001",
		"collateral":   "10000000000000000000", // 10 wad
		"debt":         "500000000000000000000",
		"sequence":     int64(42),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "OpenTrove")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	ot, ok := evt.(*event.OpenTrove)
	if !ok {
		t.Fatalf("expected *event.OpenTrove, got %T", evt)
	}

	if ot.Collateral.Dec() != "10000000000000000000" {
		t.Errorf("collateral: got %s, want 10000000000000000000", ot.Collateral.Dec())
	}
	if ot.Debt.Dec() != "500000000000000000000" {
		t.Errorf("debt: got %s, want 500000000000000000000", ot.Debt.Dec())
	}
	if ot.CommandSequence != 42 {
		t.Errorf("sequence: got %d, want 42", ot.CommandSequence)
	}
	if ot.EventType() != event.EventTypeOpenTrove {
		t.Errorf("event type: got %v, want OpenTrove", ot.EventType())
	}
	if ot.Timestamp.UnixMicro() != 1700000000000000 {
		t.Errorf("timestamp: got %d", ot.Timestamp.UnixMicro())
	}
}

func TestParseAdjustTrove_OmittedLegsAreZero(t *testing.T) {
	payload := map[string]interface{}{
		"command_id":         "550e8400-e29b-41d4-a716-446655440000",
		"owner":              "660e8400-e29b-41d4-a716-446655440001",
		"collateral_deposit": "2000000000000000000",
		"sequence":           int64(7),
		"timestamp_us":       int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "AdjustTrove")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	at, ok := evt.(*event.AdjustTrove)
	if !ok {
		t.Fatalf("expected *event.AdjustTrove, got %T", evt)
	}

	if at.CollateralDeposit.Dec() != "2000000000000000000" {
		t.Errorf("deposit: got %s, want 2000000000000000000", at.CollateralDeposit.Dec())
	}
	if !at.CollateralWithdraw.IsZero() {
		t.Errorf("withdraw: got %s, want 0", at.CollateralWithdraw.Dec())
	}
	if !at.DebtBorrow.IsZero() {
		t.Errorf("borrow: got %s, want 0", at.DebtBorrow.Dec())
	}
	if !at.DebtRepay.IsZero() {
		t.Errorf("repay: got %s, want 0", at.DebtRepay.Dec())
	}
}

func TestParseProvideStability(t *testing.T) {
	payload := map[string]interface{}{
		"command_id":   "550e8400-e29b-41d4-a716-446655440000",
		"depositor":    "660e8400-e29b-41d4-a716-446655440001",
		"amount":       "1000000000000000000000",
		"sequence":     int64(3),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "ProvideStability")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	ps, ok := evt.(*event.ProvideStability)
	if !ok {
		t.Fatalf("expected *event.ProvideStability, got %T", evt)
	}
	if ps.Amount.Dec() != "1000000000000000000000" {
		t.Errorf("amount: got %s", ps.Amount.Dec())
	}
	if ps.EventType() != event.EventTypeProvideStability {
		t.Errorf("event type: got %v, want ProvideStability", ps.EventType())
	}
}

func TestParseLiquidateBatch(t *testing.T) {
	payload := map[string]interface{}{
		"command_id":   "550e8400-e29b-41d4-a716-446655440000",
		"max_troves":   25,
		"sequence":     int64(9),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "LiquidateBatch")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	lb, ok := evt.(*event.LiquidateBatch)
	if !ok {
		t.Fatalf("expected *event.LiquidateBatch, got %T", evt)
	}
	if lb.MaxTroves != 25 {
		t.Errorf("max_troves: got %d, want 25", lb.MaxTroves)
	}
}

func TestParsePriceUpdate(t *testing.T) {
	payload := map[string]interface{}{
		"price":          "92000000000000000000",
		"price_sequence": int64(100),
		"timestamp_us":   int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "PriceUpdate")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	pu, ok := evt.(*event.PriceUpdate)
	if !ok {
		t.Fatalf("expected *event.PriceUpdate, got %T", evt)
	}

	if pu.Price.Dec() != "92000000000000000000" {
		t.Errorf("price: got %s", pu.Price.Dec())
	}
	if pu.PriceSequence != 100 {
		t.Errorf("price_sequence: got %d, want 100", pu.PriceSequence)
	}
	if pu.Stream() != event.StreamPrices {
		t.Errorf("stream: got %s, want %s", pu.Stream(), event.StreamPrices)
	}
}

func TestParseRedeem(t *testing.T) {
	payload := map[string]interface{}{
		"command_id":   "550e8400-e29b-41d4-a716-446655440000",
		"redeemer":     "660e8400-e29b-41d4-a716-446655440001",
		"amount":       "100000000000000000000",
		"sequence":     int64(11),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "Redeem")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	rd, ok := evt.(*event.Redeem)
	if !ok {
		t.Fatalf("expected *event.Redeem, got %T", evt)
	}
	if rd.Amount.Dec() != "100000000000000000000" {
		t.Errorf("amount: got %s", rd.Amount.Dec())
	}
}

func TestParseUnknownEventType_Fails(t *testing.T) {
	raw := ingestion.RawEvent{Data: []byte(`{}`)}
	_, err := ingestion.ParseRawEvent(raw, "NonExistentType")
	if err == nil {
		t.Fatal("expected error for unknown event type")
	}
}

func TestParseInvalidJSON_Fails(t *testing.T) {
	raw := ingestion.RawEvent{Data: []byte(`{invalid json`)}
	_, err := ingestion.ParseRawEvent(raw, "OpenTrove")
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestParseInvalidUUID_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"command_id":   "not-a-uuid",
		"owner":        "also-not-a-uuid",
		"collateral":   "1",
		"debt":         "1",
		"sequence":     int64(0),
		"timestamp_us": int64(0),
	}

	raw := rawFromJSON(t, payload)
	_, err := ingestion.ParseRawEvent(raw, "OpenTrove")
	if err == nil {
		t.Fatal("expected error for invalid UUID")
	}
}

func TestParseInvalidWad_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"command_id":   "550e8400-e29b-41d4-a716-446655440000",
		"owner":        "660e8400-e29b-41d4-a716-446655440001",
		"collateral":   "12.5", // not an integer wad
		"debt":         "1",
		"sequence":     int64(0),
		"timestamp_us": int64(0),
	}

	raw := rawFromJSON(t, payload)
	_, err := ingestion.ParseRawEvent(raw, "OpenTrove")
	if err == nil {
		t.Fatal("expected error for non-integer wad")
	}
}
