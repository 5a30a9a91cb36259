package repository

import "sync"

// Event names one mutation a Repository made to one of its own
// resources, translating spec.md §9's "process-wide mutation stream"
// into an explicit, per-Repository bus instead: ordered
// (resource, version, event) tuples delivered only to subscribers of
// this one Repository value.
type Event struct {
	Resource string // e.g. "refs/heads/main", "index", "HEAD"
	Version  uint64 // monotonically increasing per Repository, not per resource
	Kind     string // e.g. "updated", "deleted", "checked-out"
}

// EventBus delivers ordered Events to subscribers. It never drops an
// event for a slow subscriber: each subscriber has its own buffered
// channel, and a full buffer blocks the publisher rather than losing
// history, matching the "ordered" guarantee over a "never blocks"
// one — a subscriber that can't keep up should unsubscribe.
type EventBus struct {
	mu      sync.Mutex
	version uint64
	subs    map[int]chan Event
	nextID  int
}

// NewEventBus returns an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[int]chan Event)}
}

// Subscribe registers a new listener with the given channel buffer
// size, returning the channel and an unsubscribe function.
func (b *EventBus) Subscribe(buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}

// Publish assigns the next version number and delivers the event to
// every current subscriber.
func (b *EventBus) Publish(resource, kind string) Event {
	b.mu.Lock()
	b.version++
	ev := Event{Resource: resource, Version: b.version, Kind: kind}
	subs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		subs = append(subs, ch)
	}
	b.mu.Unlock()

	for _, ch := range subs {
		ch <- ev
	}
	return ev
}
