package matching

import (
	"testing"
)

func TestQueue_PushRejectsDuplicates(t *testing.T) {
	q := newQueue()

	if !q.push(1) {
		t.Fatal("first push should succeed")
	}
	if q.push(1) {
		t.Error("second push of the same id should be rejected")
	}
	if q.len() != 1 {
		t.Errorf("expected len 1, got %d", q.len())
	}
}

func TestQueue_PreservesArrivalOrder(t *testing.T) {
	q := newQueue()
	for _, id := range []int64{5, 3, 9, 1} {
		q.push(id)
	}
	q.remove(3)
	q.push(3)

	got := q.snapshot()
	want := []int64{5, 9, 1, 3}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}

func TestQueue_RemoveAbsentIsNoop(t *testing.T) {
	q := newQueue()
	q.push(1)

	if q.remove(2) {
		t.Error("removing an absent id should report false")
	}
	if !q.contains(1) {
		t.Error("unrelated id should still be queued")
	}
}

func TestQueue_SnapshotIsACopy(t *testing.T) {
	q := newQueue()
	q.push(1)
	q.push(2)

	snap := q.snapshot()
	snap[0] = 42

	if q.order[0] != 1 {
		t.Errorf("mutating the snapshot changed the queue: %v", q.order)
	}
}
