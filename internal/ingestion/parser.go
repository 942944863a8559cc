package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/xvault/settlement/internal/event"
)

// ParseRawEvent converts a RawEvent (JSON bytes + event type string) into a
// typed event.Event. The ingestion shell validates, parses, and converts raw
// events before handing them to the bus.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch eventType {
	case "DepositConfirmed":
		return parseDepositConfirmed(raw.Data)
	case "WithdrawalRequested":
		return parseWithdrawalRequested(raw.Data)
	case "PositionSnapshot":
		return parsePositionSnapshot(raw.Data)
	case "PositionDelta":
		return parsePositionDelta(raw.Data)
	case "PositionClosed":
		return parsePositionClosed(raw.Data)
	case "MarkPriceUpdate":
		return parseMarkPriceUpdate(raw.Data)
	case "VenueShortfall":
		return parseVenueShortfall(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS.
// Field names use snake_case to match upstream producers.

type depositJSON struct {
	DepositID   string `json:"deposit_id"`
	UserID      string `json:"user_id"`
	Amount      int64  `json:"amount"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseDepositConfirmed(data []byte) (*event.DepositConfirmed, error) {
	var j depositJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse DepositConfirmed: %w", err)
	}
	depositID, err := uuid.Parse(j.DepositID)
	if err != nil {
		return nil, fmt.Errorf("parse deposit_id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}
	return &event.DepositConfirmed{
		DepositID: depositID,
		UserID:    userID,
		Amount:    j.Amount,
		Sequence:  j.Sequence,
	}, nil
}

type withdrawalJSON struct {
	WithdrawalID string `json:"withdrawal_id"`
	UserID       string `json:"user_id"`
	Amount       int64  `json:"amount"`
	Sequence     int64  `json:"sequence"`
	TimestampUs  int64  `json:"timestamp_us"`
}

func parseWithdrawalRequested(data []byte) (*event.WithdrawalRequested, error) {
	var j withdrawalJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse WithdrawalRequested: %w", err)
	}
	wdID, err := uuid.Parse(j.WithdrawalID)
	if err != nil {
		return nil, fmt.Errorf("parse withdrawal_id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}
	return &event.WithdrawalRequested{
		WithdrawalID: wdID,
		UserID:       userID,
		Amount:       j.Amount,
		Sequence:     j.Sequence,
		Timestamp:    time.UnixMicro(j.TimestampUs),
	}, nil
}

type positionSnapshotJSON struct {
	UserID     string `json:"user_id"`
	VenueID    string `json:"venue_id"`
	Instrument string `json:"instrument"`
	PositionID string `json:"position_id"`
	Side       string `json:"side"` // "long" or "short"
	Size       int64  `json:"size"`
	EntryPrice int64  `json:"entry_price"`
	Sequence   int64  `json:"sequence"`
}

func parsePositionSnapshot(data []byte) (*event.PositionSnapshot, error) {
	var j positionSnapshotJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PositionSnapshot: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}

	var side int8 = 1 // long
	if j.Side == "short" {
		side = -1
	}

	return &event.PositionSnapshot{
		User:       userID,
		VenueID:    j.VenueID,
		Instrument: j.Instrument,
		PositionID: j.PositionID,
		Side:       side,
		Size:       j.Size,
		EntryPrice: j.EntryPrice,
		Sequence:   j.Sequence,
	}, nil
}

type positionDeltaJSON struct {
	UserID     string `json:"user_id"`
	VenueID    string `json:"venue_id"`
	Instrument string `json:"instrument"`
	SizeDelta  int64  `json:"size_delta"`
	EntryPrice int64  `json:"entry_price"`
	HasEntry   bool   `json:"has_entry"`
	Sequence   int64  `json:"sequence"`
}

func parsePositionDelta(data []byte) (*event.PositionDelta, error) {
	var j positionDeltaJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PositionDelta: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}
	return &event.PositionDelta{
		User:       userID,
		VenueID:    j.VenueID,
		Instrument: j.Instrument,
		SizeDelta:  j.SizeDelta,
		EntryPrice: j.EntryPrice,
		HasEntry:   j.HasEntry,
		Sequence:   j.Sequence,
	}, nil
}

type positionClosedJSON struct {
	UserID      string `json:"user_id"`
	VenueID     string `json:"venue_id"`
	Instrument  string `json:"instrument"`
	PositionID  string `json:"position_id"`
	RealizedPnL int64  `json:"realized_pnl"`
	Sequence    int64  `json:"sequence"`
}

func parsePositionClosed(data []byte) (*event.PositionClosed, error) {
	var j positionClosedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PositionClosed: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}
	return &event.PositionClosed{
		User:        userID,
		VenueID:     j.VenueID,
		Instrument:  j.Instrument,
		PositionID:  j.PositionID,
		RealizedPnL: j.RealizedPnL,
		Sequence:    j.Sequence,
	}, nil
}

type markPriceJSON struct {
	Symbol         string `json:"symbol"`
	RawPrice       int64  `json:"raw_price"`
	Decimals       int    `json:"decimals"`
	Expo           int    `json:"expo"`
	PriceSequence  int64  `json:"price_sequence"`
	PriceTimestamp int64  `json:"price_timestamp_us"`
}

func parseMarkPriceUpdate(data []byte) (*event.MarkPriceUpdate, error) {
	var j markPriceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse MarkPriceUpdate: %w", err)
	}
	return &event.MarkPriceUpdate{
		Symbol:         j.Symbol,
		RawPrice:       j.RawPrice,
		Decimals:       j.Decimals,
		Expo:           j.Expo,
		PriceSequence:  j.PriceSequence,
		PriceTimestamp: j.PriceTimestamp,
	}, nil
}

type venueShortfallJSON struct {
	ClaimID  string `json:"claim_id"`
	UserID   string `json:"user_id"`
	VenueID  string `json:"venue_id"`
	Amount   int64  `json:"amount"`
	Sequence int64  `json:"sequence"`
}

func parseVenueShortfall(data []byte) (*event.VenueShortfall, error) {
	var j venueShortfallJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse VenueShortfall: %w", err)
	}
	return &event.VenueShortfall{
		ClaimID:  j.ClaimID,
		UserID:   j.UserID,
		VenueID:  j.VenueID,
		Amount:   j.Amount,
		Sequence: j.Sequence,
	}, nil
}
