package queue

import (
	"sync/atomic"
)

// itemNode represents a node in the lock free queue.
type itemNode[T any] struct {
	value T
	next  atomic.Pointer[itemNode[T]]
}

// lockFreeQueue is a Michael-Scott lock-free queue.
//
// Any number of producers may call Enqueue concurrently, which is what the
// link uses to accept transactions without ever blocking the caller.
type lockFreeQueue[T any] struct {
	head   atomic.Pointer[itemNode[T]]
	tail   atomic.Pointer[itemNode[T]]
	length atomic.Int32
}

// NewLockFreeQueue creates a new lock-free FIFO queue.
func NewLockFreeQueue[T any]() Queue[T] {
	q := &lockFreeQueue[T]{}
	n := &itemNode[T]{}
	q.head.Store(n)
	q.tail.Store(n)

	return q
}

// Enqueue adds an item to the tail of the queue.
func (q *lockFreeQueue[T]) Enqueue(item T) {
	n := &itemNode[T]{value: item}
	for {
		tail := q.tail.Load()
		next := tail.next.Load()
		if tail != q.tail.Load() {
			continue
		}

		if next != nil {
			// tail is falling behind, try to swing it forward
			q.tail.CompareAndSwap(tail, next)
			continue
		}

		if tail.next.CompareAndSwap(nil, n) {
			q.tail.CompareAndSwap(tail, n)
			q.length.Add(1)

			return
		}
	}
}

// Dequeue removes and returns the item at the head of the queue.
func (q *lockFreeQueue[T]) Dequeue() (T, bool) {
	var zero T
	for {
		head := q.head.Load()
		tail := q.tail.Load()
		next := head.next.Load()
		if head != q.head.Load() {
			continue
		}

		if head == tail {
			if next == nil {
				return zero, false
			}
			q.tail.CompareAndSwap(tail, next)

			continue
		}

		// read value before CAS, otherwise another dequeue might reuse the node
		value := next.value
		if q.head.CompareAndSwap(head, next) {
			q.length.Add(-1)

			return value, true
		}
	}
}

// Peek returns the item at the head of the queue without removing it.
func (q *lockFreeQueue[T]) Peek() (T, bool) {
	var zero T
	for {
		head := q.head.Load()
		tail := q.tail.Load()
		next := head.next.Load()
		if head != q.head.Load() {
			continue
		}

		if head != tail {
			return next.value, true
		}

		if next == nil {
			return zero, false
		}
		q.tail.CompareAndSwap(tail, next)
	}
}

// Drain removes and returns every queued item in FIFO order.
func (q *lockFreeQueue[T]) Drain() []T {
	items := make([]T, 0, q.Length())
	for {
		item, ok := q.Dequeue()
		if !ok {
			return items
		}
		items = append(items, item)
	}
}

// IsEmpty returns true if the queue is empty, false otherwise.
func (q *lockFreeQueue[T]) IsEmpty() bool {
	return q.length.Load() == 0
}

// Length returns the number of items in the queue.
func (q *lockFreeQueue[T]) Length() int {
	return int(q.length.Load())
}
