// internal/event/mark_price.go
package event

import "fmt"

// MarkPriceUpdate is a raw price sample from a venue or aggregator feed,
// ingested and handed to oracle.Oracle.GetValidatedPrice's underlying feed
// (Aggregator- and Expo-kind feeds).
type MarkPriceUpdate struct {
	Symbol         string
	RawPrice       int64
	Decimals       int   // Aggregator-kind: decimal places
	Expo           int   // Expo-kind: signed exponent
	PriceSequence  int64 // monotonic per symbol
	PriceTimestamp int64 // epoch microseconds (versioned input)
}

func (m *MarkPriceUpdate) IdempotencyKey() string {
	return fmt.Sprintf("%s:price:%d", m.Symbol, m.PriceSequence)
}

func (m *MarkPriceUpdate) EventType() EventType {
	return EventTypeMarkPriceUpdate
}

func (m *MarkPriceUpdate) Venue() *string {
	return nil
}

func (m *MarkPriceUpdate) SourceSequence() int64 {
	return m.PriceSequence
}
