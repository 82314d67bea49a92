package messaging

import (
	"context"
	"sync"
)

type inMemoryDelivery struct {
	frames [][]byte
}

func (t *inMemoryDelivery) Frames() [][]byte {
	return t.frames
}

func (t *inMemoryDelivery) Ack() error {
	return nil
}

func (t *inMemoryDelivery) Reject() error {
	return nil
}

// InMemoryQueue is the request queue used in local mode and tests. It is both
// the Publisher used to submit requests and the Receiver the server reads.
type InMemoryQueue struct {
	mu         sync.RWMutex
	closed     bool
	deliveries chan Delivery
}

func NewInMemoryQueue(size int) *InMemoryQueue {
	return &InMemoryQueue{
		deliveries: make(chan Delivery, size),
	}
}

func (q *InMemoryQueue) Publish(ctx context.Context, frames [][]byte) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrClosed
	}

	select {
	case q.deliveries <- &inMemoryDelivery{frames: frames}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *InMemoryQueue) Deliveries() <-chan Delivery {
	return q.deliveries
}

func (q *InMemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.deliveries)
	}
}

// InMemoryBroadcaster fans every published message out to all current
// subscribers. Slow subscribers lose messages instead of blocking the
// publisher.
type InMemoryBroadcaster struct {
	mu          sync.RWMutex
	closed      bool
	nextId      int
	subscribers map[int]chan [][]byte
}

func NewInMemoryBroadcaster() *InMemoryBroadcaster {
	return &InMemoryBroadcaster{
		subscribers: make(map[int]chan [][]byte),
	}
}

func (b *InMemoryBroadcaster) Subscribe(buffer int) (<-chan [][]byte, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan [][]byte, buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextId
	b.nextId++
	b.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subscribers[id]; ok {
				delete(b.subscribers, id)
				close(sub)
			}
		})
	}
}

func (b *InMemoryBroadcaster) Publish(ctx context.Context, frames [][]byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}

	for _, sub := range b.subscribers {
		select {
		case sub <- frames:
		default:
		}
	}
	return nil
}

func (b *InMemoryBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		delete(b.subscribers, id)
		close(sub)
	}
}
