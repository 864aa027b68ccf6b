// Package events provides the observer bus through which the pipeline
// controller announces state changes. The controller is the sole owner of its
// subscriber set; there is no ambient global emitter.
package events

import (
	"sync"
	"time"

	"quartet/internal/model"
)

// EventType represents the type of event being published.
type EventType string

const (
	// EventPhaseChanged is published after every phase transition, including
	// the re-announcement that follows a reload from the persisted store.
	EventPhaseChanged EventType = "phase_changed"
	// EventOutputSaved is published when an agent's output is durably written.
	EventOutputSaved EventType = "output_saved"
	// EventPipelineReset is published when the pipeline is reset to idle.
	EventPipelineReset EventType = "pipeline_reset"
)

// Payload carries the phase/agent context of an event.
type Payload struct {
	Phase  model.Phase
	Agent  model.AgentID
	Detail string
}

// Event represents one controller announcement.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   Payload
}

// Subscriber is a function that receives events.
type Subscriber func(Event)

// Bus is a non-blocking event bus. Events are delivered asynchronously via
// buffered channels; if a subscriber's channel is full the event is dropped
// silently rather than blocking a state-machine operation.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	bufferSize  int
}

// NewBus creates a new event bus with the specified buffer size per subscriber.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a subscriber for a specific event type.
// The subscriber function is called asynchronously in a goroutine.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)

	go func() {
		for event := range ch {
			func() {
				defer func() {
					if r := recover(); r != nil {
						// A panicking subscriber must not take down the bus.
					}
				}()
				fn(event)
			}()
		}
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subs := b.subscribers[eventType]
		for i, subCh := range subs {
			if subCh == ch {
				b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}
}

// Publish sends an event to all subscribers of the given type. Uses select
// with default so a slow subscriber never blocks the publisher.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}

	for _, ch := range b.subscribers[eventType] {
		select {
		case ch <- event:
		default:
			// Channel full, drop for this subscriber.
		}
	}
}

// Close closes all subscriber channels and clears subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, eventType)
	}
}
