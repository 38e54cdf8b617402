// File: internal/coordinator/bus.go
package coordinator

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventType names one class of coordinator event.
type EventType string

const (
	EventSessionCreated   EventType = "session_created"
	EventSessionDestroyed EventType = "session_destroyed"
	EventNavigated        EventType = "navigated"
	EventPlanExecuted     EventType = "plan_executed"
)

// Event is the envelope for data transmitted over the session bus.
type Event struct {
	ID        string
	Type      EventType
	SessionID string
	Payload   any
	At        time.Time
}

// Bus is a small pub/sub fan-out for session lifecycle and execution
// events. Delivery is best-effort: a subscriber that stops draining its
// channel loses events rather than blocking publishers.
type Bus struct {
	logger *zap.Logger

	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	bufferSize  int
	closed      bool
}

// NewBus initializes the bus with the given per-subscriber buffer size.
func NewBus(logger *zap.Logger, bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &Bus{
		logger:      logger.Named("bus"),
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Publish fans the event out to every subscriber of its type.
func (b *Bus) Publish(eventType EventType, sessionID string, payload any) {
	ev := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		SessionID: sessionID,
		Payload:   payload,
		At:        time.Now().UTC(),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subscribers[eventType] {
		select {
		case ch <- ev:
		default:
			b.logger.Debug("Dropping event for slow subscriber.",
				zap.String("type", string(eventType)),
				zap.String("session_id", sessionID))
		}
	}
}

// Subscribe returns a channel receiving the given event types and a cancel
// function that detaches the subscription and closes the channel.
func (b *Bus) Subscribe(eventTypes ...EventType) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	for _, t := range eventTypes {
		b.subscribers[t] = append(b.subscribers[t], ch)
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for _, t := range eventTypes {
				subs := b.subscribers[t]
				for i, sub := range subs {
					if sub == ch {
						b.subscribers[t] = append(subs[:i:i], subs[i+1:]...)
						break
					}
				}
			}
			if !b.closed {
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Close detaches and closes every subscriber channel. Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	seen := make(map[chan Event]bool)
	for _, subs := range b.subscribers {
		for _, ch := range subs {
			if !seen[ch] {
				seen[ch] = true
				close(ch)
			}
		}
	}
	b.subscribers = make(map[EventType][]chan Event)
}
