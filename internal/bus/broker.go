package bus

import "sync"

// Broker is an in-process EventPublisher. Handlers run synchronously on the
// broadcasting goroutine and must not block.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]EventHandler
}

// NewBroker creates an empty event broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string]EventHandler)}
}

// Subscribe registers handler under id, replacing any previous handler with the same id.
func (b *Broker) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[id] = handler
}

// Unsubscribe removes the handler registered under id.
func (b *Broker) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Broadcast delivers event to every subscriber.
func (b *Broker) Broadcast(event Event) {
	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.subs))
	for _, h := range b.subs {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

// Subscribers returns the number of registered handlers.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
