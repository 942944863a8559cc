// Package oracle implements PriceOracle: validates
// prices from configured feeds with staleness and deviation-band checks,
// falling back to the last-valid price within a bound, never overwriting
// the fallback-state except through an explicit operator refresh. Grounded
// on the prior mark-price handling (internal/event/mark_price.go,
// internal/state/margin.go) generalized to a standalone validated-price
// service instead of inline margin computation.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/xvault/settlement/internal/bus"
	"github.com/xvault/settlement/internal/fixedpoint"
)

var (
	ErrOracleNotConfigured = errors.New("oracle: not configured for symbol")
	ErrPriceStale          = errors.New("oracle: price stale")
	ErrPriceOutsideBand    = errors.New("oracle: price outside band")
	ErrOracleUnavailable   = errors.New("oracle: unavailable")
)

// Config is the per-symbol oracle configuration (OracleConfig).
type Config struct {
	Symbol         string
	Kind           FeedKind
	FeedID         string
	MaxStaleness   int64 // seconds
	PriceBandBps   int64
	Decimals       int
	MaxFallbackAge int64 // seconds

	ReferencePrice fixedpoint.Price
	ReferenceTime  int64
	LastValidPrice fixedpoint.Price
	LastValidTime  int64
}

// ConfigStore is the durable backing store for oracle configs, implemented
// over Postgres in internal/persistence — the Oracle fronts it with an LRU
// exactly the way the prior IdempotencyChecker fronts its DB checker
// with an in-memory LRU (internal/core/idempotency.go).
type ConfigStore interface {
	Load(ctx context.Context, symbol string) (*Config, error)
	Save(ctx context.Context, cfg *Config) error
}

// Oracle is the runtime PriceOracle. Oracle state (reference,
// last-valid) is protected by a per-symbol guard; fetches are idempotent
// reads — here realized as one mutex per symbol held in a sync.Map so
// concurrent symbols never contend.
type Oracle struct {
	clock bus.Clock
	store ConfigStore
	feeds map[string]Feed // symbol -> feed

	cache *lru.Cache[string, *Config]
	locks sync.Map // symbol -> *sync.Mutex
}

// New creates an Oracle fronting store with an LRU of cacheSize hot configs.
func New(clock bus.Clock, store ConfigStore, cacheSize int) (*Oracle, error) {
	cache, err := lru.New[string, *Config](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("oracle: new lru: %w", err)
	}
	return &Oracle{
		clock: clock,
		store: store,
		feeds: make(map[string]Feed),
		cache: cache,
	}, nil
}

// RegisterFeed wires a Feed implementation for a symbol.
func (o *Oracle) RegisterFeed(symbol string, f Feed) {
	o.lockFor(symbol).Lock()
	defer o.lockFor(symbol).Unlock()
	o.feeds[symbol] = f
}

func (o *Oracle) lockFor(symbol string) *sync.Mutex {
	v, _ := o.locks.LoadOrStore(symbol, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (o *Oracle) loadConfig(ctx context.Context, symbol string) (*Config, error) {
	if cfg, ok := o.cache.Get(symbol); ok {
		return cfg, nil
	}
	cfg, err := o.store.Load(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, ErrOracleNotConfigured
	}
	o.cache.Add(symbol, cfg)
	return cfg, nil
}

func (o *Oracle) saveConfig(ctx context.Context, cfg *Config) error {
	o.cache.Add(cfg.Symbol, cfg)
	return o.store.Save(ctx, cfg)
}

// GetValidatedPrice runs: attempt a fresh fetch,
// validate staleness and band, fall back to the last-valid price within
// bound, or fail.
func (o *Oracle) GetValidatedPrice(ctx context.Context, symbol string) (fixedpoint.Price, int64, bool, error) {
	mu := o.lockFor(symbol)
	mu.Lock()
	defer mu.Unlock()

	cfg, err := o.loadConfig(ctx, symbol)
	if err != nil {
		return 0, 0, false, err
	}

	feed, ok := o.feeds[symbol]
	fetchAttempted := ok

	var freshErr error = ErrOracleUnavailable
	if ok {
		sample, ferr := feed.Fetch(ctx, symbol)
		if ferr == nil {
			price, ts, nerr := sample.Normalize()
			if nerr != nil {
				freshErr = nerr
			} else {
				now := o.clock.NowUnix()
				if now-ts > cfg.MaxStaleness {
					freshErr = ErrPriceStale
				} else if cfg.ReferencePrice != 0 && fixedpoint.DeviationBps(price, cfg.ReferencePrice) > cfg.PriceBandBps {
					freshErr = ErrPriceOutsideBand
				} else {
					// Fresh price validated. This does NOT update lastValid
					// automatically — only RefreshReference does. The fresh
					// value is returned directly without touching cfg.
					return price, ts, false, nil
				}
			}
		} else {
			freshErr = ErrOracleUnavailable
		}
	}

	now := o.clock.NowUnix()
	if cfg.LastValidPrice != 0 && now-cfg.LastValidTime <= cfg.MaxFallbackAge {
		return cfg.LastValidPrice, cfg.LastValidTime, true, nil
	}

	if fetchAttempted {
		return 0, 0, false, freshErr
	}
	return 0, 0, false, ErrOracleUnavailable
}

// RefreshReference is the explicit operator operation: calls a
// fresh fetch and, on success, stores both reference and lastValid. Feeds
// never overwrite reference directly.
func (o *Oracle) RefreshReference(ctx context.Context, symbol string) error {
	mu := o.lockFor(symbol)
	mu.Lock()
	defer mu.Unlock()

	cfg, err := o.loadConfig(ctx, symbol)
	if err != nil {
		return err
	}
	feed, ok := o.feeds[symbol]
	if !ok {
		return ErrOracleUnavailable
	}
	sample, err := feed.Fetch(ctx, symbol)
	if err != nil {
		return ErrOracleUnavailable
	}
	price, ts, err := sample.Normalize()
	if err != nil {
		return err
	}

	cfg.ReferencePrice = price
	cfg.ReferenceTime = ts
	cfg.LastValidPrice = price
	cfg.LastValidTime = ts
	return o.saveConfig(ctx, cfg)
}

// SetConfig is the operator surface for setting per-symbol oracle
// parameters.
func (o *Oracle) SetConfig(ctx context.Context, cfg Config) error {
	mu := o.lockFor(cfg.Symbol)
	mu.Lock()
	defer mu.Unlock()
	existing, err := o.loadConfig(ctx, cfg.Symbol)
	if err == nil {
		cfg.ReferencePrice = existing.ReferencePrice
		cfg.ReferenceTime = existing.ReferenceTime
		cfg.LastValidPrice = existing.LastValidPrice
		cfg.LastValidTime = existing.LastValidTime
	}
	c := cfg
	return o.saveConfig(ctx, &c)
}
