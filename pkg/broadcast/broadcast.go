// Package broadcast implements the Change Broadcaster (C7): a bounded
// fan-out of state-change events to any number of watch_state subscribers.
package broadcast

import (
	"encoding/json"
	"sync"
	"time"
)

// Capacity bounds each subscriber's event channel. A subscriber that
// falls Capacity events behind is dropped and told to resync rather than
// blocking the publisher (spec.md's watch_state "lagged subscriber"
// recoverable error).
const Capacity = 100

// ChangeEvent is published every time apply_state commits a write.
// Path stays reserved for a future per-path granularity refinement
// (SPEC_FULL.md Open Question Decision #3) and is always "" today.
type ChangeEvent struct {
	Path      string          `json:"path"`
	Value     json.RawMessage `json:"value"`
	PluginID  string          `json:"plugin_id"`
	Timestamp time.Time       `json:"timestamp"`
}

// Subscription is a live handle to a subscriber's event stream.
type Subscription struct {
	Events <-chan ChangeEvent
	// Lagged is closed when the publisher had to drop this subscriber
	// for falling too far behind. Events is also closed at that point.
	Lagged <-chan struct{}

	events chan ChangeEvent
	lagged chan struct{}
}

// Close unsubscribes, releasing the broadcaster's reference to this
// subscription. Safe to call multiple times.
func (s *Subscription) Close(b *Broadcaster) {
	b.unsubscribe(s)
}

// Broadcaster fans ChangeEvents out to every active Subscription.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// New returns an empty broadcaster.
func New() *Broadcaster {
	return &Broadcaster{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a new subscriber and returns its event stream.
func (b *Broadcaster) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		events: make(chan ChangeEvent, Capacity),
		lagged: make(chan struct{}),
	}
	sub.Events = sub.events
	sub.Lagged = sub.lagged
	b.subs[sub] = struct{}{}
	return sub
}

func (b *Broadcaster) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.events)
	}
}

// Publish sends evt to every live subscriber. A subscriber whose buffer
// is full is dropped immediately: its Lagged channel is closed and its
// Events channel is closed, signaling it must re-fetch state via
// get_state and re-subscribe.
func (b *Broadcaster) Publish(evt ChangeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs {
		select {
		case sub.events <- evt:
		default:
			delete(b.subs, sub)
			close(sub.lagged)
			close(sub.events)
		}
	}
}

// SubscriberCount returns the number of currently active subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
