// Package events defines the engine's progress event vocabulary, an
// in-process bus, and the JSONL run journal.
package events

import (
	"sync"
	"time"
)

// Type identifies a progress event.
type Type string

const (
	ProjectStarted   Type = "project_started"
	ProjectCompleted Type = "project_completed"
	ProjectFailed    Type = "project_failed"
	PhaseStarted     Type = "phase_started"
	PhaseCompleted   Type = "phase_completed"
	PhaseFailed      Type = "phase_failed"
	PhaseSkipped     Type = "phase_skipped"
	PhaseRetrying    Type = "phase_retrying"
	EscalationRaised Type = "escalation_raised"
)

// Event is one progress notification from a run.
type Event struct {
	Type      Type
	Timestamp time.Time
	ProjectID string
	PhaseID   string
	Message   string
	Details   map[string]any
}

// Subscriber receives events asynchronously.
type Subscriber func(Event)

// Bus is a non-blocking publish/subscribe fan-out. Each subscriber gets
// a buffered channel; when the buffer is full the event is dropped for
// that subscriber so a slow consumer can never stall the run loop.
type Bus struct {
	mu         sync.RWMutex
	byType     map[Type][]chan Event
	all        []chan Event
	bufferSize int
}

// NewBus creates a bus with the given per-subscriber buffer size.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		byType:     make(map[Type][]chan Event),
		bufferSize: bufferSize,
	}
}

// Subscribe registers fn for one event type and returns an unsubscribe
// function. fn runs on its own goroutine; panics are contained.
func (b *Bus) Subscribe(t Type, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := b.startSubscriber(fn)
	b.byType[t] = append(b.byType[t], ch)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.byType[t] = removeChan(b.byType[t], ch)
	}
}

// SubscribeAll registers fn for every event type. The run journal uses
// this to record the complete event stream.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := b.startSubscriber(fn)
	b.all = append(b.all, ch)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.all = removeChan(b.all, ch)
	}
}

func (b *Bus) startSubscriber(fn Subscriber) chan Event {
	ch := make(chan Event, b.bufferSize)
	go func() {
		for ev := range ch {
			func() {
				defer func() {
					// A panicking subscriber must not take down the bus.
					_ = recover()
				}()
				fn(ev)
			}()
		}
	}()
	return ch
}

func removeChan(subs []chan Event, ch chan Event) []chan Event {
	for i, c := range subs {
		if c == ch {
			close(ch)
			return append(subs[:i], subs[i+1:]...)
		}
	}
	return subs
}

// Publish delivers ev to type subscribers and all-subscribers without
// blocking. A full subscriber buffer drops the event for that subscriber.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.byType[ev.Type] {
		select {
		case ch <- ev:
		default:
		}
	}
	for _, ch := range b.all {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close closes every subscriber channel and clears all subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for t, subs := range b.byType {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.byType, t)
	}
	for _, ch := range b.all {
		close(ch)
	}
	b.all = nil
}
