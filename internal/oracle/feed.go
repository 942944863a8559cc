package oracle

import (
	"context"
	"errors"

	"github.com/xvault/settlement/internal/fixedpoint"
)

// FeedKind tags which normalization rule a feed's raw samples need:
// "Aggregator" vs "Expo" feeds. Modeled as a tagged variant with a common
// capability set {fetch, normalize}, not an inheritance hierarchy.
type FeedKind int

const (
	FeedAggregator FeedKind = iota
	FeedExpo
)

// RawSample is what a Feed implementation returns before normalization.
type RawSample struct {
	Kind FeedKind

	// Aggregator fields.
	Answer   int64
	Decimals int

	// Expo fields.
	ExpoPrice int64
	Expo      int

	PublishedAt int64 // unix seconds
}

// Normalize converts a RawSample into the engine's common (10^8 Price,
// timestamp) tuple.
func (s RawSample) Normalize() (fixedpoint.Price, int64, error) {
	switch s.Kind {
	case FeedAggregator:
		p, err := fixedpoint.NormalizeAggregatorPrice(s.Answer, s.Decimals)
		return p, s.PublishedAt, err
	case FeedExpo:
		p, err := fixedpoint.NormalizeExpoPrice(s.ExpoPrice, s.Expo)
		return p, s.PublishedAt, err
	default:
		return 0, 0, errors.New("oracle: unknown feed kind")
	}
}

// Feed is the capability set a venue/feed-specific price source must
// implement. Fetch must never propagate upstream exceptions — any failure
// is reported as a plain error and treated by the Oracle as "no fresh
// price" step 1.
type Feed interface {
	Fetch(ctx context.Context, symbol string) (RawSample, error)
}

// FeedFunc adapts a plain function to the Feed interface, the same
// adapter-over-closure style the original design uses for its parser dispatch
// table (internal/ingestion/parser.go).
type FeedFunc func(ctx context.Context, symbol string) (RawSample, error)

func (f FeedFunc) Fetch(ctx context.Context, symbol string) (RawSample, error) {
	return f(ctx, symbol)
}
