package events

import (
	"sync"

	"github.com/meszmate/inbox/internal/message"
)

// Type is the type of an event
type Type int

const (
	// EventMessage carries a message.Inbound that was stored.
	EventMessage Type = iota
	// EventStatus carries a StatusChange.
	EventStatus
	// EventChatState carries a message.ChatStateNotice.
	EventChatState
	// EventTransportError carries a TransportError.
	EventTransportError
)

func (t Type) String() string {
	switch t {
	case EventMessage:
		return "message"
	case EventStatus:
		return "status"
	case EventChatState:
		return "chatstate"
	case EventTransportError:
		return "transport_error"
	default:
		return "unknown"
	}
}

// Event is published on the bus.
type Event struct {
	Type Type
	Data interface{}
}

// StatusChange reports a receipt state transition of an outgoing message.
type StatusChange struct {
	TransportID string
	Previous    message.State
	Current     message.State
}

// TransportError reports an error stanza correlated to one of our messages.
type TransportError struct {
	TransportID string
	Condition   string
	Text        string
}

// Publisher is what producers depend on.
type Publisher interface {
	Publish(event Event)
}

// Handler is a function that handles events
type Handler func(event Event)

// Bus handles event subscription and publishing. Handlers run on their
// own goroutine so a slow subscriber never blocks stanza processing.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Type][]Handler
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[Type][]Handler),
	}
}

// Subscribe subscribes to an event type
func (b *Bus) Subscribe(eventType Type, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeAll subscribes handler to every event type
func (b *Bus) SubscribeAll(handler Handler) {
	for _, t := range []Type{EventMessage, EventStatus, EventChatState, EventTransportError} {
		b.Subscribe(t, handler)
	}
}

// Publish publishes an event to all subscribers
func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	handlers := b.handlers[event.Type]
	b.mu.RUnlock()

	for _, handler := range handlers {
		go handler(event)
	}
}

// Unsubscribe removes all handlers for an event type
func (b *Bus) Unsubscribe(eventType Type) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, eventType)
}

// Clear removes all handlers
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[Type][]Handler)
}

// Discard is a Publisher that drops every event.
type Discard struct{}

func (Discard) Publish(Event) {}
