package orchestrator

import (
	"sync"
	"time"
)

// Event topics. Group-scoped topics are built with TopicUpdate/TopicBatch.
const (
	TopicTimeout        = "timeout"
	TopicTimeoutWarning = "timeout-warning"
	TopicProgressStale  = "progress-stale"
)

// TopicUpdate is the per-group topic for applied context updates
func TopicUpdate(groupID string) string { return "update:" + groupID }

// TopicBatch is the per-group topic for flushed update batches
func TopicBatch(groupID string) string { return "batch:" + groupID }

// Event is one published orchestration event
type Event struct {
	Topic     string         `json:"topic"`
	GroupID   string         `json:"groupId,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	At        time.Time      `json:"at"`
}

// EventBus is a topic-keyed observer registry. Subscribing returns an
// explicit unsubscribe handle; handlers run synchronously on the
// publishing goroutine and must not block.
type EventBus struct {
	mu     sync.RWMutex
	subs   map[string]map[int]func(Event)
	nextID int
}

// NewEventBus creates an event bus with no subscribers
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[string]map[int]func(Event))}
}

// Subscribe registers a handler for a topic and returns its unsubscribe
// handle. Unsubscribing twice is harmless.
func (b *EventBus) Subscribe(topic string, fn func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]func(Event))
	}
	id := b.nextID
	b.nextID++
	b.subs[topic][id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[topic], id)
		if len(b.subs[topic]) == 0 {
			delete(b.subs, topic)
		}
	}
}

// Publish delivers an event to every subscriber of its topic. Handlers are
// snapshotted first so a handler may unsubscribe (itself or others) safely.
func (b *EventBus) Publish(ev Event) {
	b.mu.RLock()
	handlers := make([]func(Event), 0, len(b.subs[ev.Topic]))
	for _, fn := range b.subs[ev.Topic] {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(ev)
	}
}

// DropTopic removes every subscriber of a topic; used when a group is
// cleared and its listeners must not outlive it.
func (b *EventBus) DropTopic(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, topic)
}

// SubscriberCount returns the number of handlers registered for a topic
func (b *EventBus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
