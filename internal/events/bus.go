// Package events fans progress events out to independent subscribers.
package events

import (
	"sync"
	"sync/atomic"

	"evalgo.org/anchor/models"
)

// DefaultBufferSize is the per-subscriber queue length used when none is given.
const DefaultBufferSize = 64

// Bus is a publish/subscribe registry with a bounded queue per subscriber.
//
// Publish never blocks: when a subscriber's queue is full its oldest unread
// event is dropped to make room. New subscribers only see events published
// after they subscribed.
type Bus struct {
	mu         sync.RWMutex
	subs       map[uint64]*Subscription
	nextID     uint64
	bufferSize int
	closed     bool
}

// Subscription is one receiver registered on a Bus.
type Subscription struct {
	id      uint64
	bus     *Bus
	ch      chan models.ProgressEvent
	sendMu  sync.Mutex
	dropped atomic.Uint64
}

// NewBus creates a bus whose subscribers each buffer up to bufferSize events.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		subs:       make(map[uint64]*Subscription),
		bufferSize: bufferSize,
	}
}

// Subscribe registers a new receiver. Subscribing to a closed bus returns a
// subscription whose channel is already closed.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := &Subscription{
		bus: b,
		ch:  make(chan models.ProgressEvent, b.bufferSize),
	}
	if b.closed {
		close(s.ch)
		return s
	}

	b.nextID++
	s.id = b.nextID
	b.subs[s.id] = s
	return s
}

// Publish delivers e to every current subscriber.
func (b *Bus) Publish(e models.ProgressEvent) {
	if e == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		s.deliver(e)
	}
}

// Subscribers returns the number of registered receivers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close unregisters every subscriber and closes their channels. Publishing
// after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		delete(b.subs, id)
		close(s.ch)
	}
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(s.ch)
}

// deliver enqueues e, evicting the oldest queued event if the queue is full.
// Only publishers hold sendMu, so once an event has been evicted the
// following send cannot block.
func (s *Subscription) deliver(e models.ProgressEvent) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	select {
	case s.ch <- e:
		return
	default:
	}

	select {
	case <-s.ch:
		s.dropped.Add(1)
	default:
	}
	s.ch <- e
}

// Events returns the channel events are delivered on. It is closed when the
// subscription or the bus is closed.
func (s *Subscription) Events() <-chan models.ProgressEvent {
	return s.ch
}

// Dropped returns how many events were discarded because the receiver fell behind.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unregisters the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	if s.id == 0 {
		return
	}
	s.bus.unsubscribe(s.id)
}
