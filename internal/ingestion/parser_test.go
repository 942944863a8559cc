package ingestion_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/xvault/settlement/internal/event"
	"github.com/xvault/settlement/internal/ingestion"
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

func TestParseDepositConfirmed(t *testing.T) {
	payload := map[string]interface{}{
		"deposit_id":   "550e8400-e29b-41d4-a716-446655440000",
		"user_id":      "660e8400-e29b-41d4-a716-446655440001",
		"amount":       int64(2_000_000),
		"sequence":     int64(2),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "DepositConfirmed")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	dc, ok := evt.(*event.DepositConfirmed)
	if !ok {
		t.Fatalf("expected *event.DepositConfirmed, got %T", evt)
	}

	if dc.Amount != 2_000_000 {
		t.Errorf("amount: got %d, want 2_000_000", dc.Amount)
	}
	if dc.EventType() != event.EventTypeDepositConfirmed {
		t.Errorf("event type: got %v, want DepositConfirmed", dc.EventType())
	}
}

func TestParseWithdrawalRequested(t *testing.T) {
	payload := map[string]interface{}{
		"withdrawal_id": "550e8400-e29b-41d4-a716-446655440000",
		"user_id":       "660e8400-e29b-41d4-a716-446655440001",
		"amount":        int64(1_000_000),
		"sequence":      int64(7),
		"timestamp_us":  int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "WithdrawalRequested")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	wr, ok := evt.(*event.WithdrawalRequested)
	if !ok {
		t.Fatalf("expected *event.WithdrawalRequested, got %T", evt)
	}
	if wr.Amount != 1_000_000 {
		t.Errorf("amount: got %d, want 1_000_000", wr.Amount)
	}
	if wr.Sequence != 7 {
		t.Errorf("sequence: got %d, want 7", wr.Sequence)
	}
}

func TestParsePositionSnapshot(t *testing.T) {
	payload := map[string]interface{}{
		"user_id":     "660e8400-e29b-41d4-a716-446655440001",
		"venue_id":    "venue-a",
		"instrument":  "BTC-PERP",
		"position_id": "pos-1",
		"side":        "short",
		"size":        int64(1_000_000),
		"entry_price": int64(50_000_00000000),
		"sequence":    int64(3),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "PositionSnapshot")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	ps, ok := evt.(*event.PositionSnapshot)
	if !ok {
		t.Fatalf("expected *event.PositionSnapshot, got %T", evt)
	}
	if ps.Side != -1 {
		t.Errorf("side: got %d, want -1 (short)", ps.Side)
	}
	if ps.VenueID != "venue-a" {
		t.Errorf("venue_id: got %s, want venue-a", ps.VenueID)
	}
	if *ps.Venue() != "venue-a" {
		t.Errorf("Venue(): got %s, want venue-a", *ps.Venue())
	}
}

func TestParsePositionClosed(t *testing.T) {
	payload := map[string]interface{}{
		"user_id":      "660e8400-e29b-41d4-a716-446655440001",
		"venue_id":     "venue-a",
		"instrument":   "BTC-PERP",
		"position_id":  "pos-1",
		"realized_pnl": int64(-50_000),
		"sequence":     int64(9),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "PositionClosed")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	pc, ok := evt.(*event.PositionClosed)
	if !ok {
		t.Fatalf("expected *event.PositionClosed, got %T", evt)
	}
	if pc.RealizedPnL != -50_000 {
		t.Errorf("realized_pnl: got %d, want -50000", pc.RealizedPnL)
	}
	if pc.IdempotencyKey() != "venue-a:pos-1:close" {
		t.Errorf("idempotency key: got %s", pc.IdempotencyKey())
	}
}

func TestParseMarkPriceUpdate(t *testing.T) {
	payload := map[string]interface{}{
		"symbol":             "ETH-PERP",
		"raw_price":          int64(3_000_00),
		"decimals":           2,
		"price_sequence":     int64(100),
		"price_timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "MarkPriceUpdate")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	mp, ok := evt.(*event.MarkPriceUpdate)
	if !ok {
		t.Fatalf("expected *event.MarkPriceUpdate, got %T", evt)
	}

	if mp.Symbol != "ETH-PERP" {
		t.Errorf("symbol: got %s, want ETH-PERP", mp.Symbol)
	}
	if mp.RawPrice != 3_000_00 {
		t.Errorf("raw_price: got %d, want 3_000_00", mp.RawPrice)
	}
	if mp.PriceSequence != 100 {
		t.Errorf("price_sequence: got %d, want 100", mp.PriceSequence)
	}
}

func TestParseVenueShortfall(t *testing.T) {
	payload := map[string]interface{}{
		"claim_id": "claim-1",
		"user_id":  "660e8400-e29b-41d4-a716-446655440001",
		"venue_id": "venue-a",
		"amount":   int64(12_000),
		"sequence": int64(4),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "VenueShortfall")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	vs, ok := evt.(*event.VenueShortfall)
	if !ok {
		t.Fatalf("expected *event.VenueShortfall, got %T", evt)
	}
	if vs.Amount != 12_000 {
		t.Errorf("amount: got %d, want 12000", vs.Amount)
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
	_, err := ingestion.ParseRawEvent(raw, "DepositConfirmed")
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestParseInvalidUUID_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"deposit_id":   "not-a-uuid",
		"user_id":      "also-not-a-uuid",
		"amount":       int64(1),
		"sequence":     int64(0),
		"timestamp_us": int64(0),
	}

	raw := rawFromJSON(t, payload)
	_, err := ingestion.ParseRawEvent(raw, "DepositConfirmed")
	if err == nil {
		t.Fatal("expected error for invalid UUID")
	}
}
