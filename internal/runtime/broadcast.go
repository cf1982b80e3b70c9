package runtime

import "sync"

// Broadcaster fans values out to any number of subscribers, each with its
// own Queue so one slow reader cannot stall the publisher.
type Broadcaster[T any] struct {
	mu     sync.Mutex
	subs   map[int]*Queue[T]
	nextID int
	closed bool
}

func NewBroadcaster[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{
		subs: make(map[int]*Queue[T]),
	}
}

// Subscribe registers a new subscriber. The returned func unsubscribes and
// closes the channel; it is safe to call more than once.
func (b *Broadcaster[T]) Subscribe() (<-chan T, func()) {
	q := NewQueue[T](8)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		q.Close()
		return q.Chan(), func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = q
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		if sq, ok := b.subs[id]; ok {
			delete(b.subs, id)
			sq.Close()
		}
		b.mu.Unlock()
	}
	return q.Chan(), unsub
}

// Publish delivers v to every current subscriber.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, q := range b.subs {
		q.Push(v)
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Broadcaster[T]) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Later subscriptions get a closed
// channel.
func (b *Broadcaster[T]) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, q := range b.subs {
		q.Close()
		delete(b.subs, id)
	}
	return nil
}
