package bus

import (
	"strings"
	"sync"
	"sync/atomic"
)

// Bus is an in-process publish/subscribe event bus with namespace filtering.
// Publish never blocks: an event is dropped for a subscriber whose buffer is
// full, and the drop is counted. Slow consumers lose events rather than
// stalling the delivery path.
type Bus struct {
	mu    sync.RWMutex
	subs  map[int]*subscription
	next  int
	drops atomic.Uint64
}

type subscription struct {
	namespace string
	ch        chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]*subscription)}
}

// Publish sends evt to every subscriber whose namespace is a prefix of
// evt.Kind.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !strings.HasPrefix(evt.Kind, sub.namespace) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			b.drops.Add(1)
		}
	}
}

// Subscribe returns a channel receiving events whose Kind starts with
// namespace, plus an unsubscribe function. bufSize sets the channel buffer.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{namespace: namespace, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Drops reports how many events were discarded due to full subscriber
// buffers since the bus was created.
func (b *Bus) Drops() uint64 {
	return b.drops.Load()
}
