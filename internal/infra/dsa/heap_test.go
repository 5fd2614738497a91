package dsa

import (
	"fmt"
	"math/rand"
	"testing"
)

func TestDeadlineQueue_PeekEarliest(t *testing.T) {
	q := NewDeadlineQueue()
	q.Push("c", 30)
	q.Push("a", 10)
	q.Push("b", 20)

	top, ok := q.Peek()
	if !ok || top.Key != "a" {
		t.Fatalf("Peek() = %v, %v; want a", top, ok)
	}
	if q.Len() != 3 {
		t.Errorf("Len() = %d, want 3", q.Len())
	}
}

func TestDeadlineQueue_PushMovesExisting(t *testing.T) {
	q := NewDeadlineQueue()
	q.Push("a", 10)
	q.Push("b", 20)
	q.Push("a", 40)

	top, _ := q.Peek()
	if top.Key != "b" {
		t.Errorf("Peek().Key = %q after moving a, want b", top.Key)
	}
	if q.Len() != 2 {
		t.Errorf("Len() = %d, want 2", q.Len())
	}
}

func TestDeadlineQueue_Remove(t *testing.T) {
	q := NewDeadlineQueue()
	for i := 0; i < 10; i++ {
		q.Push(fmt.Sprintf("k%d", i), int64(i))
	}
	if !q.Remove("k0") {
		t.Fatal("Remove(k0) = false")
	}
	if q.Remove("k0") {
		t.Error("second Remove(k0) = true")
	}
	q.Remove("k5")

	top, _ := q.Peek()
	if top.Key != "k1" {
		t.Errorf("Peek().Key = %q, want k1", top.Key)
	}
	due := q.Due(100)
	if len(due) != 8 {
		t.Fatalf("Due(100) returned %d, want 8", len(due))
	}
	for _, it := range due {
		if it.Key == "k5" {
			t.Error("removed key still due")
		}
	}
}

func TestDeadlineQueue_DueSortedAndStrict(t *testing.T) {
	q := NewDeadlineQueue()
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		q.Push(fmt.Sprintf("k%03d", i), rng.Int63n(1000))
	}

	due := q.Due(500)
	for i := 1; i < len(due); i++ {
		if due[i-1].Deadline > due[i].Deadline {
			t.Fatalf("Due not sorted at %d", i)
		}
	}
	for _, it := range due {
		if it.Deadline >= 500 {
			t.Fatalf("item %v is not due at 500", it)
		}
	}
	if q.Len() != 200 {
		t.Errorf("Due must not remove items, Len() = %d", q.Len())
	}

	// Compare against a linear scan.
	want := 0
	for _, it := range q.heap {
		if it.Deadline < 500 {
			want++
		}
	}
	if len(due) != want {
		t.Errorf("Due(500) = %d items, linear scan = %d", len(due), want)
	}
}

func TestDeadlineQueue_Empty(t *testing.T) {
	q := NewDeadlineQueue()
	if _, ok := q.Peek(); ok {
		t.Error("Peek() on empty queue returned ok")
	}
	if len(q.Due(1)) != 0 {
		t.Error("Due on empty queue returned items")
	}
}
