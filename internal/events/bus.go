package events

import (
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
)

// Handler handles a published event
type Handler func(Event)

type subscription struct {
	id      string
	topic   string
	handler Handler
}

const wildcard = "*"

// Bus is a synchronous in-process pub-sub bus.
// Handlers run on the publisher's goroutine in registration order.
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[string][]subscription
	logger        *slog.Logger
}

// NewBus creates an empty bus
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subscriptions: make(map[string][]subscription),
		logger:        logger,
	}
}

// Subscribe registers a handler for one topic and returns its subscription id
func (b *Bus) Subscribe(topic string, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := subscription{
		id:      uuid.NewString(),
		topic:   topic,
		handler: handler,
	}
	b.subscriptions[topic] = append(b.subscriptions[topic], sub)
	return sub.id
}

// SubscribeAll registers a handler called for every topic
func (b *Bus) SubscribeAll(handler Handler) string {
	return b.Subscribe(wildcard, handler)
}

// Unsubscribe removes a subscription, reporting whether it existed
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, subs := range b.subscriptions {
		for i, sub := range subs {
			if sub.id != id {
				continue
			}
			remaining := make([]subscription, 0, len(subs)-1)
			remaining = append(remaining, subs[:i]...)
			remaining = append(remaining, subs[i+1:]...)
			b.subscriptions[topic] = remaining
			return true
		}
	}
	return false
}

// Publish delivers an event to topic subscribers, then to wildcard subscribers.
// A panicking handler is logged and does not stop delivery.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	specific := append([]subscription(nil), b.subscriptions[event.Topic()]...)
	all := append([]subscription(nil), b.subscriptions[wildcard]...)
	b.mu.RUnlock()

	for _, sub := range specific {
		b.safeCall(sub.handler, event)
	}
	for _, sub := range all {
		b.safeCall(sub.handler, event)
	}
}

func (b *Bus) safeCall(handler Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event handler panicked",
				"topic", event.Topic(),
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	handler(event)
}

// SubscriptionCount returns the number of active subscriptions
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, subs := range b.subscriptions {
		count += len(subs)
	}
	return count
}
