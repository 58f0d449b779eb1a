package queue

import (
	"sync"
	"testing"
)

func TestPopEmptyReturnsImmediately(t *testing.T) {
	q := New[int]("test_empty", 0)
	if v, ok := q.Pop(); ok {
		t.Fatalf("Pop on empty queue = (%d, true), want ok=false", v)
	}
}

func TestFIFOOrder(t *testing.T) {
	q := New[string]("test_fifo", 0)
	for _, s := range []string{"a", "b", "c"} {
		q.Push(s)
	}
	if q.Len() != 3 {
		t.Fatalf("Len = %d, want 3", q.Len())
	}
	for _, want := range []string{"a", "b", "c"} {
		got, ok := q.Pop()
		if !ok || got != want {
			t.Fatalf("Pop = (%q, %v), want (%q, true)", got, ok, want)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Error("expected empty queue after draining")
	}
}

func TestCapacityDropsOldest(t *testing.T) {
	q := New[int]("test_capacity", 3)
	for i := 1; i <= 5; i++ {
		q.Push(i)
	}
	if q.Dropped() != 2 {
		t.Errorf("Dropped = %d, want 2", q.Dropped())
	}
	got := q.Drain(0)
	want := []int{3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("Drain = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Drain[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestDrainLimit(t *testing.T) {
	q := New[int]("test_drain", 0)
	for i := 0; i < 10; i++ {
		q.Push(i)
	}
	first := q.Drain(4)
	if len(first) != 4 || first[0] != 0 || first[3] != 3 {
		t.Fatalf("Drain(4) = %v", first)
	}
	rest := q.Drain(0)
	if len(rest) != 6 || rest[0] != 4 || rest[5] != 9 {
		t.Fatalf("Drain(0) = %v", rest)
	}
	if q.Drain(0) != nil {
		t.Error("Drain on empty queue should return nil")
	}
}

// TestCompaction pushes and pops enough elements to trigger prefix
// reclamation and checks ordering survives it.
func TestCompaction(t *testing.T) {
	q := New[int]("test_compact", 0)
	next := 0
	for round := 0; round < 50; round++ {
		for i := 0; i < 10; i++ {
			q.Push(round*10 + i)
		}
		for i := 0; i < 9; i++ {
			v, ok := q.Pop()
			if !ok {
				t.Fatal("unexpected empty queue")
			}
			if v != next {
				t.Fatalf("Pop = %d, want %d", v, next)
			}
			next++
		}
	}
	if q.Len() != 50 {
		t.Errorf("Len = %d, want 50", q.Len())
	}
}

func TestConcurrentProducers(t *testing.T) {
	q := New[int]("test_concurrent", 0)
	const producers, per = 8, 500

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < per; i++ {
				q.Push(i)
			}
		}()
	}

	popped := 0
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for {
		if _, ok := q.Pop(); ok {
			popped++
			continue
		}
		select {
		case <-done:
			popped += len(q.Drain(0))
			if popped != producers*per {
				t.Fatalf("popped %d, want %d", popped, producers*per)
			}
			return
		default:
		}
	}
}
