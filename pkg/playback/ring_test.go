// ABOUTME: Tests for the circular queue
// ABOUTME: Verifies FIFO order and overwrite-oldest overflow behavior
package playback

import "testing"

func TestRingFIFO(t *testing.T) {
	r := NewRing[int](4)

	for i := 1; i <= 3; i++ {
		if _, overwrote := r.Push(i); overwrote {
			t.Fatalf("push %d should not overwrite", i)
		}
	}
	if r.Len() != 3 {
		t.Fatalf("len: got %d, want 3", r.Len())
	}

	for i := 1; i <= 3; i++ {
		v, ok := r.Pop()
		if !ok || v != i {
			t.Fatalf("pop: got (%d,%v), want (%d,true)", v, ok, i)
		}
	}
	if _, ok := r.Pop(); ok {
		t.Error("pop from empty ring should fail")
	}
}

func TestRingOverwritesOldest(t *testing.T) {
	r := NewRing[int](3)

	r.Push(1)
	r.Push(2)
	r.Push(3)

	evicted, overwrote := r.Push(4)
	if !overwrote || evicted != 1 {
		t.Fatalf("expected to evict 1, got (%d,%v)", evicted, overwrote)
	}

	want := []int{2, 3, 4}
	for _, w := range want {
		v, ok := r.Pop()
		if !ok || v != w {
			t.Fatalf("pop: got (%d,%v), want (%d,true)", v, ok, w)
		}
	}
}

func TestRingWrapsAround(t *testing.T) {
	r := NewRing[int](2)

	for i := 0; i < 10; i++ {
		r.Push(i)
		if v, ok := r.Pop(); !ok || v != i {
			t.Fatalf("iteration %d: got (%d,%v)", i, v, ok)
		}
	}
}

func TestRingClear(t *testing.T) {
	r := NewRing[int](4)
	r.Push(1)
	r.Push(2)

	r.Clear()

	if r.Len() != 0 {
		t.Errorf("len after clear: got %d, want 0", r.Len())
	}
	if _, ok := r.Pop(); ok {
		t.Error("pop after clear should fail")
	}
	if r.Cap() != 4 {
		t.Errorf("cap after clear: got %d, want 4", r.Cap())
	}
}
