// Package eventbus delivers events to multiple subscribers in emission order.
package eventbus

import (
	"sync"

	"github.com/cenkalti/steward/internal/logger"
	"github.com/rcrowley/go-metrics"
)

// Bus fans out events of type E to subscribers.
//
// Events are queued with Enqueue and delivered by Flush. Only one goroutine delivers at a time,
// so subscribers receive events in the order they were enqueued even if Flush is called concurrently.
// Subscribers run without any lock of the Bus held and may enqueue new events;
// those are delivered after the current event.
type Bus[E any] struct {
	m          sync.Mutex
	queue      []E
	delivering bool

	subsM  sync.RWMutex
	subs   []*subscriber[E]
	nextID uint64

	// Delivered counts events handed to subscribers.
	Delivered metrics.Counter
	// Panics counts recovered subscriber panics.
	Panics metrics.Counter

	log logger.Logger
}

type subscriber[E any] struct {
	id uint64
	fn func(E)
}

// New returns an empty Bus. Panicking subscribers are reported to log.
func New[E any](log logger.Logger) *Bus[E] {
	return &Bus[E]{
		Delivered: metrics.NilCounter{},
		Panics:    metrics.NilCounter{},
		log:       log,
	}
}

// Subscribe adds fn to the list of subscribers.
// Returned function removes the subscription. It is safe to call it more than once.
func (b *Bus[E]) Subscribe(fn func(E)) (cancel func()) {
	b.subsM.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, &subscriber[E]{id: id, fn: fn})
	b.subsM.Unlock()
	return func() { b.unsubscribe(id) }
}

func (b *Bus[E]) unsubscribe(id uint64) {
	b.subsM.Lock()
	defer b.subsM.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Len returns the number of subscribers.
func (b *Bus[E]) Len() int {
	b.subsM.RLock()
	defer b.subsM.RUnlock()
	return len(b.subs)
}

// Enqueue adds e to the delivery queue without calling subscribers.
// It is cheap and does not block on subscribers, so it can be called while holding other locks.
func (b *Bus[E]) Enqueue(e E) {
	b.m.Lock()
	b.queue = append(b.queue, e)
	b.m.Unlock()
}

// Flush delivers queued events.
// If another goroutine is already delivering, Flush returns immediately and the events are delivered by that goroutine.
func (b *Bus[E]) Flush() {
	b.m.Lock()
	if b.delivering {
		b.m.Unlock()
		return
	}
	b.delivering = true
	for len(b.queue) > 0 {
		e := b.queue[0]
		var zero E
		b.queue[0] = zero
		b.queue = b.queue[1:]
		b.m.Unlock()
		b.deliver(e)
		b.m.Lock()
	}
	b.queue = nil
	b.delivering = false
	b.m.Unlock()
}

// Publish enqueues e and flushes the queue.
func (b *Bus[E]) Publish(e E) {
	b.Enqueue(e)
	b.Flush()
}

func (b *Bus[E]) deliver(e E) {
	b.subsM.RLock()
	subs := make([]*subscriber[E], len(b.subs))
	copy(subs, b.subs)
	b.subsM.RUnlock()
	for _, s := range subs {
		b.call(s, e)
	}
}

func (b *Bus[E]) call(s *subscriber[E], e E) {
	defer func() {
		if r := recover(); r != nil {
			b.Panics.Inc(1)
			b.log.Errorf("event listener panicked: %v", r)
		}
	}()
	s.fn(e)
	b.Delivered.Inc(1)
}
