package projection_test

import (
	"TroveLedger/internal/projection"
	"testing"
)

func journal(debit, credit, amount string, journalType int32) projection.JournalEntry {
	return projection.JournalEntry{
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       1,
		Amount:        amount,
		JournalType:   journalType,
	}
}

func TestRecordLiquidationAggregatesJournals(t *testing.T) {
	h := projection.NewTroveHistoryProjection(10)

	h.RecordLiquidation(projection.ProjectionOutput{
		Sequence:  7,
		EventType: "Liquidate",
		Timestamp: 1700000000000000,
		JournalEntries: []projection.JournalEntry{
			// Two offset burns across scales sum together
			journal("external:burn", "system:stability_pool:STABLE", "300000000000000000000", 7),
			journal("external:burn", "system:stability_pool:STABLE", "200000000000000000000", 7),
			journal("system:stability_pool:COLL", "system:active_pool:COLL", "2750000000000000000", 8),
			journal("system:default_pool:COLL", "system:active_pool:COLL", "1000000000000000000", 9),
		},
		Liquidations: []projection.LiquidationTag{
			{Target: "a0000000-0000-0000-0000-000000000001", Mode: "recovery", Band: "below-mcr"},
		},
	})

	entries := h.RecentLiquidations(10)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	e := entries[0]
	if e.Sequence != 7 {
		t.Errorf("sequence: got %d, want 7", e.Sequence)
	}
	if e.DebtOffset != "500000000000000000000" {
		t.Errorf("debt offset: got %s", e.DebtOffset)
	}
	if e.CollateralToStability != "2750000000000000000" {
		t.Errorf("collateral to stability: got %s", e.CollateralToStability)
	}
	if e.CollateralRedistributed != "1000000000000000000" {
		t.Errorf("redistributed: got %s", e.CollateralRedistributed)
	}
	if e.Mode != "recovery" {
		t.Errorf("mode: got %q, want recovery", e.Mode)
	}
	if len(e.Troves) != 1 || e.Troves[0].Band != "below-mcr" {
		t.Errorf("troves: got %+v", e.Troves)
	}
}

func TestRecordLiquidationSkipsEmptyOutput(t *testing.T) {
	h := projection.NewTroveHistoryProjection(10)

	// Reward-application batches carry no offset/redistribution legs
	h.RecordLiquidation(projection.ProjectionOutput{
		Sequence:  3,
		EventType: "Liquidate",
		JournalEntries: []projection.JournalEntry{
			journal("system:active_pool:COLL", "system:default_pool:COLL", "500000000000000000", 10),
		},
	})

	if got := h.RecentLiquidations(10); len(got) != 0 {
		t.Fatalf("expected no entries, got %d", len(got))
	}
}

func TestRecordRedemption(t *testing.T) {
	h := projection.NewTroveHistoryProjection(10)

	h.RecordRedemption(projection.ProjectionOutput{
		Sequence:  9,
		EventType: "Redeem",
		Timestamp: 1700000001000000,
		JournalEntries: []projection.JournalEntry{
			journal("external:burn", "user:x:stable:STABLE", "100000000000000000000", 12),
			journal("external:redeemer", "system:active_pool:COLL", "50000000000000000", 13),
		},
	})

	entries := h.RecentRedemptions(10)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].StableBurned != "100000000000000000000" {
		t.Errorf("stable burned: got %s", entries[0].StableBurned)
	}
	if entries[0].CollateralPaid != "50000000000000000" {
		t.Errorf("collateral paid: got %s", entries[0].CollateralPaid)
	}
}

func TestHistoryBoundedAndNewestFirst(t *testing.T) {
	h := projection.NewTroveHistoryProjection(3)

	for i := int64(1); i <= 5; i++ {
		h.RecordRedemption(projection.ProjectionOutput{
			Sequence: i,
			JournalEntries: []projection.JournalEntry{
				journal("external:burn", "user:x:stable:STABLE", "1000", 12),
			},
		})
	}

	entries := h.RecentRedemptions(10)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries after trim, got %d", len(entries))
	}
	if entries[0].Sequence != 5 || entries[2].Sequence != 3 {
		t.Errorf("order wrong: got sequences %d..%d", entries[0].Sequence, entries[2].Sequence)
	}
}
