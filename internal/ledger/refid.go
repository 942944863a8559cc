package ledger

import (
	"context"
	"encoding/hex"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// RefID is the 32-byte reference-ID key giving every monetary primitive
// at-most-once semantics.
type RefID [32]byte

func (r RefID) String() string { return hex.EncodeToString(r[:]) }

// RefIDStore is the durable backing store for previously-consumed refIds,
// implemented over Postgres in internal/persistence.
type RefIDStore interface {
	Contains(ctx context.Context, id RefID) (bool, error)
	Insert(ctx context.Context, id RefID) error
}

// DedupSet implements the two-tier dedup checker the original design uses for event
// idempotency (internal/core/idempotency.go: in-memory LRU in front of a
// durable Postgres checker), generalized from composite string keys to the
// engine's 32-byte RefID.
type DedupSet struct {
	lru   *lru.Cache[RefID, struct{}]
	store RefIDStore

	evictions int64
}

// NewDedupSet creates a DedupSet with an LRU of the given capacity fronting
// store. store may be nil for pure in-memory use in tests.
func NewDedupSet(capacity int, store RefIDStore) (*DedupSet, error) {
	ds := &DedupSet{store: store}
	cache, err := lru.NewWithEvict[RefID, struct{}](capacity, func(RefID, struct{}) {
		atomic.AddInt64(&ds.evictions, 1)
	})
	if err != nil {
		return nil, err
	}
	ds.lru = cache
	return ds, nil
}

// Contains reports whether id has already been consumed, checking the LRU
// first and falling back to the durable store.
func (ds *DedupSet) Contains(ctx context.Context, id RefID) (bool, error) {
	if _, ok := ds.lru.Get(id); ok {
		return true, nil
	}
	if ds.store == nil {
		return false, nil
	}
	found, err := ds.store.Contains(ctx, id)
	if err != nil {
		// Conservative: a transient DB error must not block settlement —
		// treat as not-a-duplicate and let the durable write still happen
		// through Insert, mirroring the prior idempotency_db fallback.
		return false, nil
	}
	if found {
		ds.lru.Add(id, struct{}{})
	}
	return found, nil
}

// Insert marks id as consumed in both tiers. Callers MUST call Insert
// before any mutation is visible, and must have already
// confirmed via Contains that id was unused.
func (ds *DedupSet) Insert(ctx context.Context, id RefID) error {
	ds.lru.Add(id, struct{}{})
	if ds.store == nil {
		return nil
	}
	return ds.store.Insert(ctx, id)
}

// WarmFromKeys loads a batch of refIds into the LRU on warm restart, per
// the prior WarmFromKeys pattern, to avoid cold-path DB lookups for
// recently processed refIds.
func (ds *DedupSet) WarmFromKeys(ids []RefID) {
	for _, id := range ids {
		ds.lru.Add(id, struct{}{})
	}
}

// Evictions returns total LRU evictions, for metrics.
func (ds *DedupSet) Evictions() int64 {
	return atomic.LoadInt64(&ds.evictions)
}

// Keys returns the refIds currently hot in the LRU, used to populate a
// snapshot's IdempotencyKeys field.
func (ds *DedupSet) Keys() []RefID {
	return ds.lru.Keys()
}
