package queue

import (
	"container/heap"
)

// LessFunc reports whether a must be dequeued before b.
type LessFunc[T any] func(a, b T) bool

// PriorityQueue is a binary heap ordered by a LessFunc.
//
// Items that compare equal are dequeued in insertion order.
// PriorityQueue is not safe for concurrent use.
type PriorityQueue[T any] struct {
	h *prioHeap[T]
}

type prioEntry[T any] struct {
	value T
	seq   uint64
}

type prioHeap[T any] struct {
	entries []prioEntry[T]
	less    LessFunc[T]
	seq     uint64
}

// NewPriorityQueue creates an empty PriorityQueue ordered by less.
func NewPriorityQueue[T any](less LessFunc[T]) *PriorityQueue[T] {
	return &PriorityQueue[T]{h: &prioHeap[T]{less: less}}
}

// Push adds an item.
func (pq *PriorityQueue[T]) Push(item T) {
	pq.h.seq++
	heap.Push(pq.h, prioEntry[T]{value: item, seq: pq.h.seq})
}

// Pop removes and returns the item with the highest priority.
func (pq *PriorityQueue[T]) Pop() (T, bool) {
	if pq.h.Len() == 0 {
		var zero T
		return zero, false
	}

	e, _ := heap.Pop(pq.h).(prioEntry[T])

	return e.value, true
}

// Peek returns the item with the highest priority without removing it.
func (pq *PriorityQueue[T]) Peek() (T, bool) {
	if pq.h.Len() == 0 {
		var zero T
		return zero, false
	}

	return pq.h.entries[0].value, true
}

// Remove deletes every item matching fn and returns how many were removed.
func (pq *PriorityQueue[T]) Remove(fn func(T) bool) int {
	kept := pq.h.entries[:0]
	removed := 0
	for _, e := range pq.h.entries {
		if fn(e.value) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	pq.h.entries = kept
	heap.Init(pq.h)

	return removed
}

// Contains reports whether any queued item matches fn.
func (pq *PriorityQueue[T]) Contains(fn func(T) bool) bool {
	for _, e := range pq.h.entries {
		if fn(e.value) {
			return true
		}
	}

	return false
}

// Reset drops every item.
func (pq *PriorityQueue[T]) Reset() {
	pq.h.entries = nil
}

// Length returns the number of queued items.
func (pq *PriorityQueue[T]) Length() int {
	return pq.h.Len()
}

// IsEmpty returns true if the queue is empty.
func (pq *PriorityQueue[T]) IsEmpty() bool {
	return pq.h.Len() == 0
}

func (h *prioHeap[T]) Len() int { return len(h.entries) }

func (h *prioHeap[T]) Less(i, j int) bool {
	a, b := h.entries[i], h.entries[j]
	if h.less(a.value, b.value) {
		return true
	}
	if h.less(b.value, a.value) {
		return false
	}

	return a.seq < b.seq
}

func (h *prioHeap[T]) Swap(i, j int) { h.entries[i], h.entries[j] = h.entries[j], h.entries[i] }

func (h *prioHeap[T]) Push(x any) {
	e, _ := x.(prioEntry[T])
	h.entries = append(h.entries, e)
}

func (h *prioHeap[T]) Pop() any {
	old := h.entries
	n := len(old)
	e := old[n-1]
	h.entries = old[:n-1]

	return e
}
