package main

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

var ErrBusClosed = errors.New("relay bus closed")

// Bus is a broadcast topic of Events with a fixed backlog.
//
// Every Subscription reads the same sequence of events through its own
// cursor. Publish never waits for readers: a subscription that falls more
// than capacity events behind skips ahead to the oldest event still buffered.
type Bus struct {
	mu     sync.Mutex
	ring   []Event
	head   uint64        // sequence number of the next publish
	notify chan struct{} // closed and replaced on every publish
	closed bool

	nextID uint64
	subs   map[uint64]*Subscription

	// OnLag is called outside the lock when a subscription skips events.
	OnLag func(sub *Subscription, skipped uint64)
}

func NewBus(capacity int) *Bus {
	if capacity < 1 {
		capacity = 1
	}
	return &Bus{
		ring:   make([]Event, capacity),
		notify: make(chan struct{}),
		subs:   make(map[uint64]*Subscription),
	}
}

// Publish appends event to the backlog and wakes any waiting receivers.
// Publishing on a closed bus is a no-op.
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.ring[b.head%uint64(len(b.ring))] = event
	b.head++
	close(b.notify)
	b.notify = make(chan struct{})
}

// Subscribe returns a cursor that observes every event published from now on.
func (b *Bus) Subscribe(name string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	s := &Subscription{id: b.nextID, name: name, bus: b, next: b.head}
	b.subs[s.id] = s
	return s
}

// Subscribers returns the number of open subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close wakes every receiver with ErrBusClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.notify)
}

// Subscription is one reader's position in the bus. A Subscription must
// only be read from a single goroutine.
type Subscription struct {
	id   uint64
	name string
	bus  *Bus
	next uint64
}

func (s *Subscription) Name() string { return s.name }

// Recv blocks until the next event is available, ctx is done, or the bus closes.
func (s *Subscription) Recv(ctx context.Context) (Event, error) {
	b := s.bus
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return Event{}, ErrBusClosed
		}
		if s.next < b.head {
			var skipped uint64
			if oldest := b.oldest(); s.next < oldest {
				skipped = oldest - s.next
				s.next = oldest
			}
			event := b.ring[s.next%uint64(len(b.ring))]
			s.next++
			onLag := b.OnLag
			b.mu.Unlock()

			if skipped > 0 && onLag != nil {
				onLag(s, skipped)
			}
			return event, nil
		}
		wait := b.notify
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return Event{}, errors.WithStack(ctx.Err())
		case <-wait:
		}
	}
}

// Close releases the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.subs, s.id)
}

// oldest is the sequence number of the oldest buffered event. Callers hold mu.
func (b *Bus) oldest() uint64 {
	if n := uint64(len(b.ring)); b.head > n {
		return b.head - n
	}
	return 0
}
