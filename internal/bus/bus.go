package bus

import (
	"sync"

	"go.uber.org/zap"
)

// Handler receives the event name and its payload.
type Handler func(name string, payload any)

// Wildcard subscribes a handler to every published event.
const Wildcard = "*"

// Bus is a small in-process publish/subscribe hub keyed by dot-namespaced
// event names (email.sent, user.created). Delivery is synchronous and
// best-effort: a panicking subscriber is logged and never affects the
// publisher or sibling subscribers. The bus is created at the composition
// root and all subscribers are registered before traffic begins.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]subscription
	nextID   int
	logger   *zap.SugaredLogger
}

type subscription struct {
	id      int
	handler Handler
}

func New(logger *zap.SugaredLogger) *Bus {
	return &Bus{
		handlers: make(map[string][]subscription),
		logger:   logger,
	}
}

// Subscribe registers a handler for an event name and returns a token
// usable with Unsubscribe.
func (b *Bus) Subscribe(name string, handler Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.handlers[name] = append(b.handlers[name], subscription{id: b.nextID, handler: handler})
	return b.nextID
}

// Unsubscribe removes a previously registered handler. Mainly useful in
// tests; production wiring never unsubscribes.
func (b *Bus) Unsubscribe(name string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.handlers[name]
	for i, sub := range subs {
		if sub.id == id {
			b.handlers[name] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Publish delivers the payload to every subscriber of name and to all
// wildcard subscribers.
func (b *Bus) Publish(name string, payload any) {
	b.mu.RLock()
	subs := make([]subscription, 0, len(b.handlers[name])+len(b.handlers[Wildcard]))
	subs = append(subs, b.handlers[name]...)
	subs = append(subs, b.handlers[Wildcard]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		b.deliver(name, payload, sub.handler)
	}
}

func (b *Bus) deliver(name string, payload any, handler Handler) {
	defer func() {
		if r := recover(); r != nil {
			if b.logger != nil {
				b.logger.Errorw("event subscriber panicked", "event", name, "panic", r)
			}
		}
	}()
	handler(name, payload)
}
