// Package bus provides the in-process event bus the sync coordinator owns.
//
// Events are fire-and-forget notifications: login data changed locally
// (triggers a debounced logins-only sync) and account changed (observed by
// external listeners such as the dashboard). Subscription lifecycle is
// explicit: Subscribe returns an unsubscribe func tied to the owning
// component's teardown.
package bus

import "sync"

// Event identifies one notification kind.
type Event int

const (
	// EventLoginsChanged fires when local login data was modified.
	EventLoginsChanged Event = iota
	// EventAccountChanged fires when an account was added or removed.
	EventAccountChanged
)

// String returns a human-readable representation of the event.
func (e Event) String() string {
	switch e {
	case EventLoginsChanged:
		return "logins-changed"
	case EventAccountChanged:
		return "account-changed"
	default:
		return "unknown"
	}
}

// Handler consumes one published event.
type Handler func(Event)

// Bus is an explicit observer-list publish/subscribe. Handlers run
// synchronously on the publisher's goroutine, in subscription order.
type Bus struct {
	mu       sync.Mutex
	nextID   int
	handlers map[Event]map[int]Handler
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{handlers: make(map[Event]map[int]Handler)}
}

// Subscribe registers a handler for one event and returns its
// unsubscribe func. Unsubscribing twice is a no-op.
func (b *Bus) Subscribe(ev Event, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers[ev] == nil {
		b.handlers[ev] = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.handlers[ev][id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[ev], id)
	}
}

// Publish delivers an event to every current subscriber. Fire-and-forget:
// handler outcomes are not collected.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	handlers := make([]Handler, 0, len(b.handlers[ev]))
	for _, h := range b.handlers[ev] {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}
