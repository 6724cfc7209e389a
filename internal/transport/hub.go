// internal/transport/hub.go
package transport

import (
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// Event names published by the status loop.
const (
	EventServerStatusUpdate = "ServerStatusUpdate"
	EventMetricsSample      = "MetricsSample"
)

const subscriberBuffer = 16

// Event is one published notification. Payload is the typed value the
// publisher handed in; subscribers that need JSON marshal it themselves.
type Event struct {
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// Subscriber receives events from the hub.
type Subscriber chan Event

// Hub is the in-process pub-sub fan-out for status events. Delivery is best
// effort: a subscriber that stops draining its channel loses events, the
// publisher never waits.
type Hub struct {
	logger logr.Logger

	subscribersMu sync.RWMutex
	subscribers   map[Subscriber]bool

	historyMu  sync.RWMutex
	history    []Event
	maxHistory int
}

// NewHub creates a hub keeping up to maxHistory past events for late
// subscribers to catch up from.
func NewHub(maxHistory int, logger logr.Logger) *Hub {
	if maxHistory <= 0 {
		maxHistory = 100
	}
	return &Hub{
		logger:      logger.WithName("status-hub"),
		subscribers: make(map[Subscriber]bool),
		history:     make([]Event, 0, maxHistory),
		maxHistory:  maxHistory,
	}
}

// Subscribe registers a new subscriber channel.
func (h *Hub) Subscribe() Subscriber {
	h.subscribersMu.Lock()
	defer h.subscribersMu.Unlock()

	subscriber := make(Subscriber, subscriberBuffer)
	h.subscribers[subscriber] = true
	return subscriber
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(subscriber Subscriber) {
	h.subscribersMu.Lock()
	defer h.subscribersMu.Unlock()

	if _, exists := h.subscribers[subscriber]; exists {
		delete(h.subscribers, subscriber)
		close(subscriber)
	}
}

// Publish fans an event out to every subscriber without blocking.
func (h *Hub) Publish(name string, payload any) {
	event := Event{
		Name:      name,
		Timestamp: time.Now(),
		Payload:   payload,
	}

	h.historyMu.Lock()
	if len(h.history) >= h.maxHistory {
		h.history = append(h.history[1:], event)
	} else {
		h.history = append(h.history, event)
	}
	h.historyMu.Unlock()

	h.subscribersMu.RLock()
	defer h.subscribersMu.RUnlock()

	for subscriber := range h.subscribers {
		select {
		case subscriber <- event:
		default:
			h.logger.V(1).Info("subscriber channel full, event dropped", "event", name)
		}
	}
}

// RecentEvents returns up to limit events from history, oldest first.
func (h *Hub) RecentEvents(limit int) []Event {
	h.historyMu.RLock()
	defer h.historyMu.RUnlock()

	if limit <= 0 || limit > len(h.history) {
		limit = len(h.history)
	}
	start := len(h.history) - limit

	result := make([]Event, limit)
	copy(result, h.history[start:])
	return result
}

// SubscriberCount reports how many subscribers are attached.
func (h *Hub) SubscriberCount() int {
	h.subscribersMu.RLock()
	defer h.subscribersMu.RUnlock()
	return len(h.subscribers)
}
