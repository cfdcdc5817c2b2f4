// Package events provides an ordered pub/sub bus for session lifecycle events.
//
// Events are delivered on a single dispatch goroutine in publish order, so a
// listener never sees "ended" before the phase change that preceded it.
package events

import (
	"sync"

	"github.com/Nathan-Asif/AegisMedix/logger"
)

// backlog is the dispatch buffer. Publishers block only when listeners fall
// this far behind.
const backlog = 256

// anyType marks a subscription that receives every event.
const anyType EventType = ""

// Listener is a function that handles events.
type Listener func(*Event)

type subscription struct {
	only EventType
	fn   Listener
}

func (s subscription) wants(t EventType) bool {
	return s.only == anyType || s.only == t
}

// EventBus fans session events out to listeners.
type EventBus struct {
	mu     sync.RWMutex
	subs   []subscription
	closed bool

	pending chan *Event
	drained chan struct{}
}

// NewEventBus creates an event bus and starts its dispatcher.
func NewEventBus() *EventBus {
	b := &EventBus{
		pending: make(chan *Event, backlog),
		drained: make(chan struct{}),
	}
	go b.run()
	return b
}

// Subscribe registers a listener for one event type.
func (b *EventBus) Subscribe(t EventType, fn Listener) {
	b.add(subscription{only: t, fn: fn})
}

// SubscribeAll registers a listener for every event type. Listeners run in
// subscription order, whatever their filter.
func (b *EventBus) SubscribeAll(fn Listener) {
	b.add(subscription{only: anyType, fn: fn})
}

func (b *EventBus) add(s subscription) {
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()
}

// Publish queues an event. Events published after Close are dropped.
func (b *EventBus) Publish(e *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.closed {
		b.pending <- e
	}
}

func (b *EventBus) run() {
	defer close(b.drained)
	for e := range b.pending {
		b.mu.RLock()
		subs := b.subs
		b.mu.RUnlock()

		for _, s := range subs {
			if s.wants(e.Type) {
				deliver(s.fn, e)
			}
		}
	}
}

// Close stops accepting events, delivers those already queued, and returns
// once the dispatcher has exited. Safe to call more than once.
func (b *EventBus) Close() {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.pending)
	}
	b.mu.Unlock()
	<-b.drained
}

// Clear drops every subscription.
func (b *EventBus) Clear() {
	b.mu.Lock()
	b.subs = nil
	b.mu.Unlock()
}

// deliver runs one listener, containing its panic so the rest still run.
func deliver(fn Listener, e *Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("event listener panicked", "event", e.Type, "panic", r)
		}
	}()
	fn(e)
}
