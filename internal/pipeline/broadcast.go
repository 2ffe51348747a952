package pipeline

import (
	"sync"

	"github.com/google/uuid"
)

// DefaultSubscriberBuffer is the per-subscriber queue depth.
const DefaultSubscriberBuffer = 16

// Broadcaster fans estimates out to subscribers. Slow subscribers miss
// estimates rather than stall the loop.
type Broadcaster struct {
	buffer int

	mu          sync.Mutex
	subscribers map[string]chan Estimate
	dropped     map[string]uint64
	closed      bool
}

// NewBroadcaster returns a Broadcaster whose subscribers each queue up to
// buffer estimates. A non-positive buffer uses DefaultSubscriberBuffer.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Broadcaster{
		buffer:      buffer,
		subscribers: make(map[string]chan Estimate),
		dropped:     make(map[string]uint64),
	}
}

// Subscribe registers a new subscriber. The channel is closed by
// Unsubscribe or Close.
func (b *Broadcaster) Subscribe() (string, <-chan Estimate) {
	id := uuid.NewString()
	ch := make(chan Estimate, b.buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return id, ch
	}
	b.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
		delete(b.dropped, id)
	}
}

// Publish delivers e to every subscriber with room in its queue.
func (b *Broadcaster) Publish(e Estimate) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subscribers {
		select {
		case ch <- e:
		default:
			b.dropped[id]++
		}
	}
}

// Dropped returns how many estimates subscriber id has missed.
func (b *Broadcaster) Dropped(id string) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped[id]
}

// Len returns the number of subscribers.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Close closes every subscriber channel. Later subscribers receive a
// closed channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}
