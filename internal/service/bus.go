package service

import "sync"

// Event represents a change to viewer state.
type Event struct {
	Session  string // session ID, empty for data-wide events
	Resource string // "view", "map", "session", "data"
	Action   string // "changed", "created", "expired", "failed", "reloaded"
	Kind     string // raster kind, when the event concerns one
}

// EventBus fans state changes out to the open event streams. A slow
// stream misses events rather than stalling the publisher; every stream
// resyncs the whole session on the next event it does receive.
type EventBus struct {
	mu     sync.RWMutex
	subs   map[chan Event]struct{}
	closed bool
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[chan Event]struct{})}
}

// Publish sends e to every subscriber without blocking.
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe returns a buffered channel of events. After Close it returns
// an already closed channel.
func (b *EventBus) Subscribe() chan Event {
	ch := make(chan Event, 16)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *EventBus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; !ok {
		b.mu.Unlock()
		return
	}
	delete(b.subs, ch)
	b.mu.Unlock()
	close(ch)
}

// Close closes every subscriber channel, ending the streams reading them.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
	}
	b.subs = map[chan Event]struct{}{}
}

// Len returns the number of subscribers.
func (b *EventBus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
