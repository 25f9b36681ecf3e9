package reactorcore

import "testing"

func TestScheduledQueueOrdersByDeadlineThenSequence(t *testing.T) {
	q := newScheduledQueue()
	var order []int
	q.insert(100, func() { order = append(order, 1) })
	q.insert(50, func() { order = append(order, 2) })
	q.insert(100, func() { order = append(order, 3) })
	q.insert(10, func() { order = append(order, 4) })

	for _, task := range q.popDue(1000) {
		task.fn()
	}
	expect := []int{4, 2, 1, 3}
	if len(order) != len(expect) {
		t.Fatalf("expected %d fired, got %d", len(expect), len(order))
	}
	for i := range expect {
		if order[i] != expect[i] {
			t.Fatalf("at %d: expected %d, got %d (%v)", i, expect[i], order[i], order)
		}
	}
}

func TestScheduledQueuePopDueOnlyReturnsDueEntries(t *testing.T) {
	q := newScheduledQueue()
	q.insert(10, func() {})
	q.insert(20, func() {})
	q.insert(30, func() {})

	due := q.popDue(20)
	if len(due) != 2 {
		t.Fatalf("expected 2 due entries, got %d", len(due))
	}
	if q.len() != 1 {
		t.Fatalf("expected 1 entry remaining, got %d", q.len())
	}
}

func TestScheduledQueueCancelRemovesPendingEntry(t *testing.T) {
	q := newScheduledQueue()
	entry := q.insert(100, func() {})
	q.insert(200, func() {})
	if !q.cancel(entry) {
		t.Fatal("expected cancel of a pending entry to succeed")
	}
	if q.len() != 1 {
		t.Fatalf("expected 1 entry remaining after cancel, got %d", q.len())
	}
	if q.cancel(entry) {
		t.Fatal("expected second cancel of the same entry to be a no-op")
	}
}

func TestScheduledQueueCancelAfterFireIsNoOp(t *testing.T) {
	q := newScheduledQueue()
	entry := q.insert(10, func() {})
	q.popDue(10)
	if q.cancel(entry) {
		t.Fatal("expected cancel of an already-fired entry to be a no-op")
	}
}

func TestScheduledQueueNextDeadlineEmpty(t *testing.T) {
	q := newScheduledQueue()
	if _, ok := q.nextDeadline(); ok {
		t.Fatal("expected nextDeadline to report false on an empty heap")
	}
}
