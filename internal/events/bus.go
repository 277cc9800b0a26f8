package events

import (
	"sync"
	"time"
)

// Handler processes a single event
type Handler func(Event)

// Bus distributes events to subscribed handlers.
//
// Dispatch is synchronous: Emit calls every handler inline, in subscription
// order, before returning. The session supervisor relies on this to keep
// delivered-event order identical to the order lines were read from the
// subprocess stream.
type Bus struct {
	mu       sync.Mutex
	handlers []Handler
}

// NewBus creates an empty event bus
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for all subsequent events
func (b *Bus) Subscribe(h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
}

// Emit delivers the event to every subscribed handler
func (b *Bus) Emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.Lock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.Unlock()

	for _, h := range handlers {
		h(e)
	}
}

// Notice emits a Notice event with a human-readable message
func (b *Bus) Notice(story, msg string) {
	b.Emit(NewEvent(Notice, story).WithPayload(msg))
}

// Warn emits a Warning event
func (b *Bus) Warn(story, msg string) {
	b.Emit(NewEvent(Warning, story).WithPayload(msg))
}
