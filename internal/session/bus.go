package session

import (
	"sync"

	"github.com/google/uuid"

	"github.com/devicehub-server/devicehub-server/internal/models"
)

// subscriptionBuffer bounds how far a slow subscriber may lag before
// events are dropped for it. The bus never blocks publishing on a
// stalled consumer.
const subscriptionBuffer = 16

// Filter selects which events a subscription receives. A zero Filter
// matches everything.
type Filter struct {
	TargetID string             `json:"target,omitempty"`
	Types    []models.EventType `json:"events,omitempty"`
}

// Matches reports whether the filter selects the event
func (f Filter) Matches(ev models.DomainEvent) bool {
	if f.TargetID != "" && f.TargetID != ev.TargetID {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if t == ev.Type {
			return true
		}
	}
	return false
}

// Subscription is a live handle onto the bus. Its filter can be
// replaced in place without re-subscribing.
type Subscription struct {
	ID uuid.UUID

	ch     chan models.DomainEvent
	filter Filter
}

// Events returns the subscription's delivery channel. It is closed
// when the subscription is removed or the bus shuts down.
func (s *Subscription) Events() <-chan models.DomainEvent {
	return s.ch
}

// Bus fans normalized events out to filtered subscribers
type Bus struct {
	mu     sync.RWMutex
	subs   []*Subscription
	closed bool
}

// NewBus creates an event bus
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a subscriber. It takes effect for all events
// published after it returns. The delivery channel is buffered with
// subscriptionBuffer slots; a subscriber that falls further behind
// than that loses events rather than stalling the bus.
func (b *Bus) Subscribe(filter Filter) *Subscription {
	sub := &Subscription{
		ID:     uuid.New(),
		ch:     make(chan models.DomainEvent, subscriptionBuffer),
		filter: filter,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs = append(b.subs, sub)
	return sub
}

// UpdateFilter replaces a subscription's filter in place. It affects
// only events published after it returns.
func (b *Bus) UpdateFilter(sub *Subscription, filter Filter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		if s == sub {
			s.filter = filter
			return
		}
	}
}

// Unsubscribe removes a subscription. Idempotent.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(s.ch)
			return
		}
	}
}

// Publish delivers the event to every matching subscription in
// registration order. Delivery is fire-and-forget: a full subscriber
// buffer drops the event for that subscriber only.
func (b *Bus) Publish(ev models.DomainEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		if !s.filter.Matches(ev) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
		}
	}
}

// Close removes every subscription and closes their channels
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subs {
		close(s.ch)
	}
	b.subs = nil
}
