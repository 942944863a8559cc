package oracle

import (
	"context"
	"testing"

	"github.com/xvault/settlement/internal/bus"
)

type memStore struct {
	cfgs map[string]*Config
}

func newMemStore() *memStore { return &memStore{cfgs: make(map[string]*Config)} }

func (m *memStore) Load(ctx context.Context, symbol string) (*Config, error) {
	c, ok := m.cfgs[symbol]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) Save(ctx context.Context, cfg *Config) error {
	cp := *cfg
	m.cfgs[cfg.Symbol] = &cp
	return nil
}

func TestGetValidatedPriceFresh(t *testing.T) {
	clock := bus.NewManualClock(1000)
	store := newMemStore()
	store.Save(context.Background(), &Config{
		Symbol: "BTC", MaxStaleness: 300, PriceBandBps: 500, MaxFallbackAge: 300,
	})
	o, err := New(clock, store, 16)
	if err != nil {
		t.Fatal(err)
	}
	o.RegisterFeed("BTC", FeedFunc(func(ctx context.Context, symbol string) (RawSample, error) {
		return RawSample{Kind: FeedAggregator, Answer: 50000_00, Decimals: 2, PublishedAt: 1000}, nil
	}))

	price, ts, fallback, err := o.GetValidatedPrice(context.Background(), "BTC")
	if err != nil {
		t.Fatal(err)
	}
	if fallback {
		t.Fatal("expected no fallback")
	}
	if ts != 1000 {
		t.Fatalf("got ts %d", ts)
	}
	if price != 50000*100_000_000 {
		t.Fatalf("got price %d", price)
	}
}

func TestGetValidatedPriceStaleFallsBackThenFails(t *testing.T) {
	clock := bus.NewManualClock(1000)
	store := newMemStore()
	store.Save(context.Background(), &Config{
		Symbol: "BTC", MaxStaleness: 10, PriceBandBps: 500, MaxFallbackAge: 300,
		LastValidPrice: 5000 * 100_000_000, LastValidTime: 950,
	})
	o, _ := New(clock, store, 16)
	o.RegisterFeed("BTC", FeedFunc(func(ctx context.Context, symbol string) (RawSample, error) {
		return RawSample{Kind: FeedAggregator, Answer: 5000_00, Decimals: 2, PublishedAt: 100}, nil
	}))

	price, ts, fallback, err := o.GetValidatedPrice(context.Background(), "BTC")
	if err != nil {
		t.Fatal(err)
	}
	if !fallback || price != 5000*100_000_000 || ts != 950 {
		t.Fatalf("expected fallback to last valid, got %d %d %v", price, ts, fallback)
	}

	// exactly at maxFallbackAge boundary succeeds
	clock.Set(950 + 300)
	if _, _, fb, err := o.GetValidatedPrice(context.Background(), "BTC"); err != nil || !fb {
		t.Fatalf("expected fallback success at boundary, err=%v", err)
	}

	// one second beyond fails
	clock.Set(950 + 301)
	if _, _, _, err := o.GetValidatedPrice(context.Background(), "BTC"); err != ErrPriceStale {
		t.Fatalf("expected ErrPriceStale, got %v", err)
	}
}

func TestRefreshReferenceThenBandCheck(t *testing.T) {
	clock := bus.NewManualClock(1000)
	store := newMemStore()
	store.Save(context.Background(), &Config{
		Symbol: "BTC", MaxStaleness: 300, PriceBandBps: 500, MaxFallbackAge: 300,
	})
	o, _ := New(clock, store, 16)

	var answer int64 = 50000_00
	o.RegisterFeed("BTC", FeedFunc(func(ctx context.Context, symbol string) (RawSample, error) {
		return RawSample{Kind: FeedAggregator, Answer: answer, Decimals: 2, PublishedAt: clock.NowUnix()}, nil
	}))

	if err := o.RefreshReference(context.Background(), "BTC"); err != nil {
		t.Fatal(err)
	}

	// move past MaxFallbackAge so the last-valid fallback cannot mask the
	// band rejection, then move price 10% away from reference -> outside 5% band
	clock.Set(1000 + 301)
	answer = 55000_00
	if _, _, _, err := o.GetValidatedPrice(context.Background(), "BTC"); err != ErrPriceOutsideBand {
		t.Fatalf("expected ErrPriceOutsideBand, got %v", err)
	}
}
