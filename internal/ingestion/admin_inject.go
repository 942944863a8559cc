package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/xvault/settlement/internal/event"
)

// AdminIngestService provides manual event injection for operator tooling.
// This engine's operator surface is a plain net/http JSON API (see
// internal/api), whose handlers call these methods directly from the
// request body. Not for high-throughput ingestion — venue adapters and the
// NATS subscriber feed the bus for that.
type AdminIngestService struct {
	eventChan chan<- event.Event
}

func NewAdminIngestService(eventChan chan<- event.Event) *AdminIngestService {
	return &AdminIngestService{eventChan: eventChan}
}

// InjectDeposit manually injects a DepositConfirmed event.
func (s *AdminIngestService) InjectDeposit(
	ctx context.Context,
	userID uuid.UUID,
	amount int64,
) error {
	if amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}

	evt := &event.DepositConfirmed{
		DepositID: uuid.New(),
		UserID:    userID,
		Amount:    amount,
		Sequence:  time.Now().UnixMicro(), // admin-injected: use timestamp as sequence
	}

	select {
	case s.eventChan <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectWithdrawal manually injects a WithdrawalRequested event.
func (s *AdminIngestService) InjectWithdrawal(
	ctx context.Context,
	userID uuid.UUID,
	amount int64,
) error {
	if amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}

	evt := &event.WithdrawalRequested{
		WithdrawalID: uuid.New(),
		UserID:       userID,
		Amount:       amount,
		Sequence:     time.Now().UnixMicro(),
		Timestamp:    time.Now(),
	}

	select {
	case s.eventChan <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectMarkPrice manually injects a MarkPriceUpdate event, handled exactly
// like a price arriving over NATS: it updates the oracle's push feed. It
// does not refresh the oracle's reference or last-valid price.
func (s *AdminIngestService) InjectMarkPrice(
	ctx context.Context,
	symbol string,
	rawPrice int64,
	expo int,
	priceSequence int64,
) error {
	if rawPrice <= 0 {
		return fmt.Errorf("price must be positive")
	}

	evt := &event.MarkPriceUpdate{
		Symbol:         symbol,
		RawPrice:       rawPrice,
		Expo:           expo,
		PriceSequence:  priceSequence,
		PriceTimestamp: time.Now().UnixMicro(),
	}

	select {
	case s.eventChan <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectVenueShortfall manually injects a VenueShortfall claim, for
// operators replaying a claim a venue adapter failed to deliver.
func (s *AdminIngestService) InjectVenueShortfall(
	ctx context.Context,
	claimID, userID, venueID string,
	amount int64,
) error {
	if amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}

	evt := &event.VenueShortfall{
		ClaimID:  claimID,
		UserID:   userID,
		VenueID:  venueID,
		Amount:   amount,
		Sequence: time.Now().UnixMicro(),
	}

	select {
	case s.eventChan <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
