// Package events is the in-process pub/sub bus feeding the websocket event
// stream and any other in-process observers.
package events

import (
	"sync"
	"time"
)

// Event types published on the bus.
const (
	EventSignalEmitted      = "signal.emitted"
	EventOrderPlaced        = "order.placed"
	EventOrderCancelled     = "order.cancelled"
	EventOrderFailed        = "order.failed"
	EventReconcileCompleted = "reconcile.completed"
	EventError              = "error"
)

// Event is one bus message.
type Event struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	BotID     string      `json:"bot_id,omitempty"`
	Symbol    string      `json:"symbol,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// Bus fans events out to subscribers. Slow subscribers drop events rather
// than block publishers.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Event
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber. Call the returned cancel func to
// unsubscribe; the channel is closed then.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, 64)
	b.subs[id] = ch
	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers an event to all subscribers, stamping the time if unset.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
