// Package events provides the in-process event bus for run-lifecycle
// updates. Regular subscriptions trade completeness for liveness: a full
// buffer evicts its oldest event so progress spam can never stall a
// publisher. Priority subscriptions block the publisher instead and are
// reserved for transitions that must not be missed.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is the envelope every bus message satisfies. RunID is empty for
// events not tied to a run, such as navigation and config-dirty updates.
type Event interface {
	EventType() string
	Timestamp() time.Time
	RunID() string
}

// BaseEvent carries the envelope fields shared by all event types.
type BaseEvent struct {
	Type string    `json:"type"`
	Time time.Time `json:"timestamp"`
	Run  string    `json:"run_id,omitempty"`
}

func (e BaseEvent) EventType() string    { return e.Type }
func (e BaseEvent) Timestamp() time.Time { return e.Time }
func (e BaseEvent) RunID() string        { return e.Run }

// NewBaseEvent stamps an envelope with the current time.
func NewBaseEvent(eventType, runID string) BaseEvent {
	return BaseEvent{Type: eventType, Time: time.Now(), Run: runID}
}

type subscription struct {
	ch       chan Event
	types    map[string]struct{} // nil means every type
	priority bool
}

func (s *subscription) wants(eventType string) bool {
	if s.types == nil {
		return true
	}
	_, ok := s.types[eventType]
	return ok
}

// EventBus fans events out to subscribers.
type EventBus struct {
	mu      sync.RWMutex
	subs    map[<-chan Event]*subscription
	bufSize int
	closed  bool

	dropped atomic.Int64
}

// New creates a bus whose regular subscriptions buffer bufferSize events.
func New(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &EventBus{
		subs:    make(map[<-chan Event]*subscription),
		bufSize: bufferSize,
	}
}

// Subscribe registers for the named event types, or for every type when none
// are named. The returned channel is closed on Unsubscribe or bus Close.
func (eb *EventBus) Subscribe(types ...string) <-chan Event {
	sub := &subscription{ch: make(chan Event, eb.bufSize)}
	if len(types) > 0 {
		sub.types = make(map[string]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}
	eb.add(sub)
	return sub.ch
}

// SubscribePriority registers a subscription whose events are never dropped.
// Sends block the publisher, so priority consumers must drain promptly. Only
// PublishPriority reaches these subscribers.
func (eb *EventBus) SubscribePriority() <-chan Event {
	sub := &subscription{ch: make(chan Event, 50), priority: true}
	eb.add(sub)
	return sub.ch
}

func (eb *EventBus) add(sub *subscription) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subs[sub.ch] = sub
}

// Unsubscribe removes a subscription and closes its channel.
func (eb *EventBus) Unsubscribe(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if sub, ok := eb.subs[ch]; ok {
		close(sub.ch)
		delete(eb.subs, ch)
	}
}

// Publish delivers an event to matching regular subscribers. Full buffers
// evict their oldest event. Priority subscribers do not see plain publishes.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}
	eb.fanOut(event, false)
}

// PublishPriority delivers an event to every subscriber, blocking on
// priority channels so the event cannot be lost.
func (eb *EventBus) PublishPriority(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}
	eb.fanOut(event, true)
}

func (eb *EventBus) fanOut(event Event, includePriority bool) {
	for _, sub := range eb.subs {
		if sub.priority {
			if includePriority {
				sub.ch <- event
			}
			continue
		}
		if sub.wants(event.EventType()) {
			eb.offer(sub.ch, event)
		}
	}
}

// offer delivers without blocking, evicting the oldest buffered event when
// the channel is full. The event is counted dropped if it still cannot be
// placed after one eviction.
func (eb *EventBus) offer(ch chan Event, event Event) {
	select {
	case ch <- event:
		return
	default:
	}

	select {
	case <-ch:
		eb.dropped.Add(1)
	default:
	}

	select {
	case ch <- event:
	default:
		eb.dropped.Add(1)
	}
}

// DroppedCount reports how many events have been evicted or discarded.
func (eb *EventBus) DroppedCount() int64 {
	return eb.dropped.Load()
}

// Close shuts the bus down and closes every subscriber channel. Publishing
// after Close is a no-op.
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}
	eb.closed = true

	for _, sub := range eb.subs {
		close(sub.ch)
	}
	eb.subs = nil
}
