// Package dsa holds the data structures behind the settlement engine's
// scheduling needs.
package dsa

import (
	"sort"
	"sync"
)

// ─── Deadline Queue (Min-Heap) ──────────────────────────────────────────────
// Binary min-heap of keys ordered by deadline, with a position index so a
// key can be removed when its contract closes.
//
// Operations:
//   Push:    O(log n) sift up (re-push updates the deadline)
//   Remove:  O(log n)
//   Peek:    O(1)
//   Due:     O(k) for k due items, by pruned walk of the heap
//   Len:     O(1)

// DeadlineItem is an element in the queue.
type DeadlineItem struct {
	Key      string // unique identifier (e.g. escrow ID)
	Deadline int64  // nanoseconds since epoch; lower = earlier
}

// DeadlineQueue is a thread-safe min-heap keyed by deadline.
type DeadlineQueue struct {
	mu   sync.Mutex
	heap []DeadlineItem
	pos  map[string]int
}

// NewDeadlineQueue creates an empty queue.
func NewDeadlineQueue() *DeadlineQueue {
	return &DeadlineQueue{pos: make(map[string]int)}
}

// Push adds key, or moves it if already queued. O(log n).
func (q *DeadlineQueue) Push(key string, deadline int64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if i, ok := q.pos[key]; ok {
		q.heap[i].Deadline = deadline
		q.fix(i)
		return
	}
	q.heap = append(q.heap, DeadlineItem{Key: key, Deadline: deadline})
	q.pos[key] = len(q.heap) - 1
	q.siftUp(len(q.heap) - 1)
}

// Remove drops key. Returns false if it was not queued. O(log n).
func (q *DeadlineQueue) Remove(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	i, ok := q.pos[key]
	if !ok {
		return false
	}
	last := len(q.heap) - 1
	q.swap(i, last)
	q.heap = q.heap[:last]
	delete(q.pos, key)
	if i < last {
		q.fix(i)
	}
	return true
}

// Peek returns the earliest item without removing it. O(1).
func (q *DeadlineQueue) Peek() (DeadlineItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heap) == 0 {
		return DeadlineItem{}, false
	}
	return q.heap[0], true
}

// Due returns every item with Deadline < now, earliest first, leaving them
// queued. Subtrees whose root is not due are skipped.
func (q *DeadlineQueue) Due(now int64) []DeadlineItem {
	q.mu.Lock()
	var out []DeadlineItem
	stack := []int{0}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if i >= len(q.heap) || q.heap[i].Deadline >= now {
			continue
		}
		out = append(out, q.heap[i])
		stack = append(stack, 2*i+1, 2*i+2)
	}
	q.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Deadline != out[j].Deadline {
			return out[i].Deadline < out[j].Deadline
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Len returns the number of items in the queue.
func (q *DeadlineQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

func (q *DeadlineQueue) less(i, j int) bool {
	if q.heap[i].Deadline != q.heap[j].Deadline {
		return q.heap[i].Deadline < q.heap[j].Deadline
	}
	return q.heap[i].Key < q.heap[j].Key
}

func (q *DeadlineQueue) swap(i, j int) {
	q.heap[i], q.heap[j] = q.heap[j], q.heap[i]
	q.pos[q.heap[i].Key] = i
	q.pos[q.heap[j].Key] = j
}

func (q *DeadlineQueue) fix(i int) {
	if i > 0 && q.less(i, (i-1)/2) {
		q.siftUp(i)
		return
	}
	q.siftDown(i)
}

// siftUp restores heap property after insertion.
func (q *DeadlineQueue) siftUp(idx int) {
	for idx > 0 {
		parent := (idx - 1) / 2
		if !q.less(idx, parent) {
			break
		}
		q.swap(idx, parent)
		idx = parent
	}
}

// siftDown restores heap property after removal.
func (q *DeadlineQueue) siftDown(idx int) {
	n := len(q.heap)
	for {
		smallest := idx
		left := 2*idx + 1
		right := 2*idx + 2

		if left < n && q.less(left, smallest) {
			smallest = left
		}
		if right < n && q.less(right, smallest) {
			smallest = right
		}
		if smallest == idx {
			break
		}
		q.swap(idx, smallest)
		idx = smallest
	}
}
