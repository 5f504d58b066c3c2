// Package bus implements the in-process broadcast bus: a bounded,
// non-blocking fan-out channel used to carry storage-change events between
// the Storage Port (C3) and the Agent Liveness & Scheduler Fleet's log
// drain (C7), without a round trip through the broker or the database.
package bus

import "sync"

// capacity is fixed at 100 per spec §4.4 — not configurable, since the bus
// is a performance shortcut for same-process subscribers, not a durable
// queue.
const capacity = 100

// Bus is a broadcast channel: every subscriber receives an independent view
// of messages published after it subscribed. Publish never blocks —
// a slow or absent subscriber drops messages rather than stall the writer.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan any
}

// New constructs an empty Bus. Most callers should use Default rather than
// constructing their own, since the bus is meant to be a single process-wide
// instance (spec §5 shared-resource policy).
func New() *Bus {
	return &Bus{subs: make(map[int]chan any)}
}

// Subscribe registers a new listener and returns its receive channel plus
// an unsubscribe function. The channel is closed on unsubscribe.
func (b *Bus) Subscribe() (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan any, capacity)
	b.subs[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
	}
	return ch, unsubscribe
}

// Publish fans an event out to every current subscriber. A subscriber whose
// buffer is full does not receive the event — Publish drops rather than
// blocks.
func (b *Bus) Publish(event any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

var (
	defaultOnce sync.Once
	defaultBus  *Bus
)

// Default returns the single process-wide Bus instance, initializing it on
// first use. Isolating the global behind this accessor (rather than an
// exported package variable) keeps the global mutable cell explicit and
// narrow, per the re-architecture note on global mutable state.
func Default() *Bus {
	defaultOnce.Do(func() {
		defaultBus = New()
	})
	return defaultBus
}
