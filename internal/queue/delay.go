package queue

import (
	"container/heap"
	"sync"
	"time"
)

// DelayQueue delivers scheduled items on C once their due time has passed,
// earliest first. Items due at the same instant come out in schedule order.
// A single goroutine owns the timer.
type DelayQueue[T any] struct {
	mu      sync.Mutex
	items   delayHeap[T]
	seq     uint64
	closed  bool
	dropped int

	out  chan T
	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

// NewDelayQueue creates a DelayQueue and starts its timer goroutine.
func NewDelayQueue[T any]() *DelayQueue[T] {
	q := &DelayQueue[T]{
		out:  make(chan T),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	q.wg.Add(1)
	go q.loop()
	return q
}

// Schedule arranges for item to be delivered at (or shortly after) at.
// It reports false if the queue is closed.
func (q *DelayQueue[T]) Schedule(at time.Time, item T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.seq++
	heap.Push(&q.items, &delayed[T]{at: at, seq: q.seq, value: item})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// C returns the channel on which due items are delivered. It is never closed.
func (q *DelayQueue[T]) C() <-chan T {
	return q.out
}

// Len returns the number of items not yet delivered.
func (q *DelayQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops the timer goroutine and drops every undelivered item.
// It returns the number of items dropped over the queue's lifetime and is idempotent.
func (q *DelayQueue[T]) Close() int {
	q.Drain()
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Drain closes the queue and returns the items it had not delivered, in
// due order. Only the first call returns items.
func (q *DelayQueue[T]) Drain() []T {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	close(q.done)
	q.wg.Wait()

	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]T, 0, len(q.items))
	for len(q.items) > 0 {
		out = append(out, heap.Pop(&q.items).(*delayed[T]).value)
	}
	q.dropped += len(out)
	return out
}

func (q *DelayQueue[T]) loop() {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		var timer *time.Timer
		var due <-chan time.Time
		if len(q.items) > 0 {
			next := q.items[0]
			if wait := time.Until(next.at); wait > 0 {
				timer = time.NewTimer(wait)
				due = timer.C
			} else {
				heap.Pop(&q.items)
				q.mu.Unlock()
				select {
				case q.out <- next.value:
				case <-q.done:
					q.mu.Lock()
					heap.Push(&q.items, next)
					q.mu.Unlock()
					return
				}
				continue
			}
		}
		q.mu.Unlock()

		select {
		case <-due:
		case <-q.wake:
		case <-q.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

type delayed[T any] struct {
	at    time.Time
	seq   uint64
	value T
}

type delayHeap[T any] []*delayed[T]

func (h delayHeap[T]) Len() int { return len(h) }

func (h delayHeap[T]) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}

func (h delayHeap[T]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *delayHeap[T]) Push(x any) { *h = append(*h, x.(*delayed[T])) }

func (h *delayHeap[T]) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
