package bus

import (
	"context"
	"log/slog"
	"sync"
)

// Relay topics consumed inside the process. These never cross the wire to
// clients; the gateways translate them into outbound events.
const (
	TopicOrderAssigned = "order.assignedToDriver"
	TopicOrderTracking = "listenUpdateOrderTracking"
	TopicNewOrder      = "newOrderForRestaurant"
)

// Handler reacts to a published event. Handlers run on the publisher's
// goroutine; anything slow should hand off internally.
type Handler func(ctx context.Context, payload any)

// Bus is the in-process publish/subscribe relay that decouples state
// mutations from the gateways that react to them.
//
// Subscribe is idempotent per (topic, owner): a component re-initialized by
// the host lifecycle replaces its previous registration instead of stacking
// a second handler. The replaced handle is logged, since a duplicate
// registration usually means a teardown path was skipped.
type Bus struct {
	mu     sync.RWMutex
	topics map[string]map[*Subscription]Handler
	owners map[string]*Subscription // "topic|owner" -> live subscription
	logger *slog.Logger
}

// Subscription is the handle a subscriber owns; it unsubscribes exactly once
// during the subscriber's own teardown.
type Subscription struct {
	bus      *Bus
	topic    string
	ownerKey string
	once     sync.Once
}

func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		topics: make(map[string]map[*Subscription]Handler),
		owners: make(map[string]*Subscription),
		logger: logger,
	}
}

func (b *Bus) Subscribe(topic, owner string, h Handler) *Subscription {
	key := topic + "|" + owner
	b.mu.Lock()
	if prev, ok := b.owners[key]; ok {
		b.removeLocked(prev)
		b.logger.Warn("duplicate bus subscription replaced", "topic", topic, "owner", owner)
	}
	sub := &Subscription{bus: b, topic: topic, ownerKey: key}
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[*Subscription]Handler)
	}
	b.topics[topic][sub] = h
	b.owners[key] = sub
	b.mu.Unlock()
	return sub
}

func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		s.bus.removeLocked(s)
		s.bus.mu.Unlock()
	})
}

// removeLocked drops a subscription; caller holds b.mu.
func (b *Bus) removeLocked(s *Subscription) {
	if subs, ok := b.topics[s.topic]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(b.topics, s.topic)
		}
	}
	if b.owners[s.ownerKey] == s {
		delete(b.owners, s.ownerKey)
	}
}

// Publish delivers payload to every subscriber of topic and reports how many
// handlers ran.
func (b *Bus) Publish(ctx context.Context, topic string, payload any) int {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.topics[topic]))
	for _, h := range b.topics[topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()
	for _, h := range handlers {
		h(ctx, payload)
	}
	return len(handlers)
}

// SubscriberCount exists for defect detection: more than one subscriber for
// a topic a single component owns means a leaked registration.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}
