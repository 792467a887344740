// Package stream distributes outbound events to subscribers.
package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"tradebot/internal/id"
	"tradebot/internal/models"
)

// HubConfig holds configuration for the event Hub.
type HubConfig struct {
	// BufferSize is the size of the internal event channel buffer.
	BufferSize int
	// SubscriberBufferSize is the size of each subscriber's channel buffer.
	SubscriberBufferSize int
}

// DefaultHubConfig returns the default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		BufferSize:           1000,
		SubscriberBufferSize: 100,
	}
}

// Hub fans events out to subscribers. Delivery is at most once: a full
// buffer drops the event rather than blocking the publisher.
type Hub struct {
	config HubConfig

	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	started     bool
	done        chan struct{}

	events chan models.Event

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// Subscriber is one consumer of the hub.
type Subscriber struct {
	ID        string
	Channel   chan models.Event
	CreatedAt time.Time

	types   map[models.EventType]struct{}
	dropped atomic.Uint64
}

func (s *Subscriber) wants(t models.EventType) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// NewHub creates a new hub with default configuration.
func NewHub() *Hub {
	return NewHubWithConfig(DefaultHubConfig())
}

// NewHubWithConfig creates a new hub with custom configuration.
func NewHubWithConfig(config HubConfig) *Hub {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultHubConfig().BufferSize
	}
	if config.SubscriberBufferSize <= 0 {
		config.SubscriberBufferSize = DefaultHubConfig().SubscriberBufferSize
	}
	return &Hub{
		config:      config,
		subscribers: make(map[string]*Subscriber),
		events:      make(chan models.Event, config.BufferSize),
	}
}

// Start begins the distribution loop. It runs until ctx is done or Stop is
// called.
func (h *Hub) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return
	}
	h.started = true
	h.done = make(chan struct{})
	go h.broadcastLoop(ctx, h.done)
}

func (h *Hub) broadcastLoop(ctx context.Context, done <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case ev := <-h.events:
			h.broadcast(ev)
		}
	}
}

// Stop stops the hub and closes all subscriber channels.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		return
	}
	close(h.done)
	h.started = false

	for id, sub := range h.subscribers {
		close(sub.Channel)
		delete(h.subscribers, id)
	}
}

// Subscribe returns a channel receiving events of the given types, or of
// every type when none are given.
func (h *Hub) Subscribe(types ...models.EventType) <-chan models.Event {
	return h.SubscribeWithID(id.WithPrefix("sub"), types...)
}

// SubscribeWithID is Subscribe with a caller-chosen subscriber id.
func (h *Hub) SubscribeWithID(subID string, types ...models.EventType) <-chan models.Event {
	sub := &Subscriber{
		ID:        subID,
		Channel:   make(chan models.Event, h.config.SubscriberBufferSize),
		CreatedAt: time.Now(),
		types:     make(map[models.EventType]struct{}, len(types)),
	}
	for _, t := range types {
		sub.types[t] = struct{}{}
	}

	h.mu.Lock()
	if old, ok := h.subscribers[subID]; ok {
		close(old.Channel)
	}
	h.subscribers[subID] = sub
	h.mu.Unlock()

	return sub.Channel
}

// Unsubscribe removes and closes the subscriber channel ch.
func (h *Hub) Unsubscribe(ch <-chan models.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, sub := range h.subscribers {
		if sub.Channel == ch {
			close(sub.Channel)
			delete(h.subscribers, id)
			return
		}
	}
}

// Publish queues an event for distribution without blocking. If the
// internal buffer is full the event is dropped.
func (h *Hub) Publish(ev models.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case h.events <- ev:
		h.published.Add(1)
	default:
		h.dropped.Add(1)
	}
}

// broadcast holds the read lock across the non-blocking sends so Stop cannot
// close a channel mid-send.
func (h *Hub) broadcast(ev models.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscribers {
		if !sub.wants(ev.Type) {
			continue
		}
		select {
		case sub.Channel <- ev:
			h.delivered.Add(1)
		default:
			sub.dropped.Add(1)
			h.dropped.Add(1)
		}
	}
}

// SubscriberCount returns the number of live subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// IsStarted returns whether the hub is running.
func (h *Hub) IsStarted() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.started
}

// HubMetrics contains hub counters.
type HubMetrics struct {
	Published   uint64
	Delivered   uint64
	Dropped     uint64
	Subscribers int
}

// Metrics returns hub counters.
func (h *Hub) Metrics() HubMetrics {
	return HubMetrics{
		Published:   h.published.Load(),
		Delivered:   h.delivered.Load(),
		Dropped:     h.dropped.Load(),
		Subscribers: h.SubscriberCount(),
	}
}
