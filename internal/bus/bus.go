// Package bus implements the engine's single authoritative clock and event
// queue: a single-producer-per-source, multi-consumer,
// bounded queue that backpressures producers on overflow instead of
// dropping, plus the trigger/debounce/heartbeat primitives EquityEngine
// builds on. Grounded on the prior event-driven core
// (internal/core/engine.go) but generalized away from perpetual-futures
// event types to the settlement engine's own event vocabulary.
package bus

import (
	"context"
	"sync"
	"time"
)

// Event is anything the bus can carry. Concrete event payloads live in
// package event; this package only needs enough to route and order them.
type Event interface {
	// Source identifies the single producer this event came from — the bus
	// enforces ordering per source, not globally.
	Source() string
}

// Bus is a bounded, backpressured event queue. Unlike a typical fan-out
// channel, Publish blocks when the queue is full rather than dropping —
//"on overflow the producer is backpressured, not dropped."
type Bus struct {
	mu       sync.Mutex
	capacity int
	queue    chan Event
	subs     []chan Event
}

// New creates a Bus with the given bounded capacity.
func New(capacity int) *Bus {
	return &Bus{
		capacity: capacity,
		queue:    make(chan Event, capacity),
	}
}

// Subscribe registers a new consumer channel. All subscribers receive every
// event (multi-consumer fan-out); each subscriber channel is itself bounded
// and a slow subscriber backpressures the dispatch loop, which in turn
// backpressures Publish.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, bufSize)
	b.subs = append(b.subs, ch)
	return ch
}

// Publish enqueues an event, blocking if the bus is at capacity. Returns
// ctx.Err() if the context is cancelled first.
func (b *Bus) Publish(ctx context.Context, evt Event) error {
	select {
	case b.queue <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains the internal queue and fans events out to subscribers. Blocking
// sends to each subscriber implement the same backpressure-not-drop policy
// at the fan-out stage.
func (b *Bus) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-b.queue:
			if !ok {
				return
			}
			b.mu.Lock()
			subs := append([]chan Event(nil), b.subs...)
			b.mu.Unlock()
			for _, s := range subs {
				select {
				case s <- evt:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// Debouncer collapses repeated triggers for the same key into a single
// callback invocation after a quiet period: "Within a short
// debounce window (e.g. 200ms), collapse multiple triggers for the same
// user into one computation." This runs on wall-clock timers deliberately —
// the debounce window is a real scheduling latency, distinct from the
// logical Clock used for staleness/cooldown/rollover arithmetic elsewhere.
type Debouncer struct {
	window time.Duration

	mu      sync.Mutex
	timers  map[string]*time.Timer
	fn      func(key string)
}

// NewDebouncer creates a Debouncer that invokes fn at most once per window
// per key, collapsing bursts of Trigger calls.
func NewDebouncer(window time.Duration, fn func(key string)) *Debouncer {
	return &Debouncer{
		window: window,
		timers: make(map[string]*time.Timer),
		fn:     fn,
	}
}

// Trigger schedules fn(key) to run after the debounce window, resetting any
// pending timer for the same key — "the produced update supersedes any
// in-flight update that has not yet been acknowledged."
func (d *Debouncer) Trigger(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.timers[key]; ok {
		t.Stop()
	}
	d.timers[key] = time.AfterFunc(d.window, func() {
		d.fn(key)
	})
}

// Stop cancels all pending timers.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range d.timers {
		t.Stop()
	}
	d.timers = make(map[string]*time.Timer)
}

// Heartbeat tracks, per key, when a heartbeat is next due: Due reports true
// at most once per interval, and Suppress postpones it after any other
// trigger. It invokes no callback itself; callers poll Due on a ticker.
type Heartbeat struct {
	clock    Clock
	interval int64 // seconds

	mu       sync.Mutex
	lastFire map[string]int64
}

func NewHeartbeat(clock Clock, intervalSeconds int64) *Heartbeat {
	return &Heartbeat{
		clock:    clock,
		interval: intervalSeconds,
		lastFire: make(map[string]int64),
	}
}

// Suppress records that key had a non-heartbeat trigger at the current
// clock time, postponing its next heartbeat.
func (h *Heartbeat) Suppress(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastFire[key] = h.clock.NowUnix()
}

// Due reports whether key's heartbeat interval has elapsed since its last
// fire (trigger or heartbeat), and if so records a fresh fire time.
func (h *Heartbeat) Due(key string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.clock.NowUnix()
	last, ok := h.lastFire[key]
	if ok && now-last < h.interval {
		return false
	}
	h.lastFire[key] = now
	return true
}
