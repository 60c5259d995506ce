// ABOUTME: Typed publish/subscribe event bus shared by clocks, providers and objects
// ABOUTME: Synchronous ordered dispatch, with an async path for deferred events
package eventbus

import "sync"

// Event is a single dispatched notification: a name ("change",
// "readystatechange", "timeupdate") plus an opaque payload whose type is
// event-specific.
type Event struct {
	Type    string
	Payload any
}

// Handler receives one dispatched Event.
type Handler func(Event)

// Unsubscribe removes the handler it was returned for.
type Unsubscribe func()

// Bus is a per-object registry of typed listeners with ordered dispatch:
// handlers for a given event type fire synchronously, in the order they
// were registered, whenever Emit is called for that type.
type Bus struct {
	mu   sync.Mutex
	subs map[string][]*subscription
	next uint64
}

type subscription struct {
	id      uint64
	handler Handler
}

// New creates an empty event bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]*subscription)}
}

// On registers handler for eventType and returns a function that removes
// it again. Registration order determines dispatch order for Emit.
func (b *Bus) On(eventType string, handler Handler) Unsubscribe {
	b.mu.Lock()
	b.next++
	id := b.next
	b.subs[eventType] = append(b.subs[eventType], &subscription{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[eventType]
		for i, s := range subs {
			if s.id == id {
				b.subs[eventType] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Emit dispatches an event synchronously to every handler currently
// registered for eventType, in registration order. Handlers registered
// during dispatch do not receive this Emit's event.
func (b *Bus) Emit(eventType string, payload any) {
	b.mu.Lock()
	subs := append([]*subscription(nil), b.subs[eventType]...)
	b.mu.Unlock()

	evt := Event{Type: eventType, Payload: payload}
	for _, s := range subs {
		s.handler(evt)
	}
}

// EmitDeferred dispatches on the next scheduler tick rather than
// synchronously, so a handler registered immediately after the emitting
// constructor returns still observes the event. Used for the initial
// readystatechange transition to "open".
func (b *Bus) EmitDeferred(eventType string, payload any) {
	go b.Emit(eventType, payload)
}

// Clear removes every handler for every event type.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[string][]*subscription)
}
