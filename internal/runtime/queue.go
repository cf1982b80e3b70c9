package runtime

import (
	"sync"
)

// Queue decouples a producer from a slow consumer: Push never blocks, and a
// dispatcher goroutine feeds the consumer channel in order.
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	closed bool

	out  chan T
	done chan struct{}
}

func NewQueue[T any](outBuf int) *Queue[T] {
	q := &Queue[T]{
		out:  make(chan T, outBuf),
		done: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.dispatch()
	return q
}

// Chan is the consumer side. It is closed after Close.
func (q *Queue[T]) Chan() <-chan T { return q.out }

// Push appends v. Values pushed after Close are dropped.
func (q *Queue[T]) Push(v T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, v)
	q.cond.Signal()
}

// Len returns the number of values not yet handed to the channel.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close discards pending values and closes the consumer channel.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.items = nil
	close(q.done)
	q.cond.Broadcast()
}

func (q *Queue[T]) dispatch() {
	for {
		q.mu.Lock()
		for !q.closed && len(q.items) == 0 {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			close(q.out)
			return
		}
		v := q.items[0]
		var zero T
		q.items[0] = zero
		q.items = q.items[1:]
		q.mu.Unlock()

		select {
		case q.out <- v:
		case <-q.done:
			close(q.out)
			return
		}
	}
}
