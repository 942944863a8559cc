package oracle

import (
	"context"
	"sync"
)

// PushFeed is a Feed fed by push-delivered price updates (NATS mark-price
// events or operator injection) rather than an outbound HTTP/RPC call. It
// caches the latest RawSample per symbol; Fetch returns whatever was last
// pushed, so staleness/band validation in GetValidatedPrice still applies
// against the push timestamp exactly as it would against a polled feed.
type PushFeed struct {
	mu      sync.RWMutex
	samples map[string]RawSample
}

func NewPushFeed() *PushFeed {
	return &PushFeed{samples: make(map[string]RawSample)}
}

// Update records the latest sample pushed for symbol.
func (f *PushFeed) Update(symbol string, sample RawSample) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples[symbol] = sample
}

// Fetch returns the latest pushed sample for symbol, or ErrOracleUnavailable
// if nothing has ever been pushed.
func (f *PushFeed) Fetch(ctx context.Context, symbol string) (RawSample, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	sample, ok := f.samples[symbol]
	if !ok {
		return RawSample{}, ErrOracleUnavailable
	}
	return sample, nil
}
