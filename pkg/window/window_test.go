package window

import (
	"math"
	"testing"
)

func identity(v int) float64 { return float64(v) }

func TestWindowKeepsLastCapacityElements(t *testing.T) {
	for _, capacity := range []int{1, 3, 7, 60} {
		w := New[int](capacity, identity)
		for n := 1; n <= capacity*3+2; n++ {
			w.Push(n)
			want := n
			if want > capacity {
				want = capacity
			}
			got := w.All()
			if len(got) != want {
				t.Fatalf("cap=%d pushes=%d: len=%d want %d", capacity, n, len(got), want)
			}
			for i, v := range got {
				if exp := n - want + 1 + i; v != exp {
					t.Fatalf("cap=%d pushes=%d: got[%d]=%d want %d", capacity, n, i, v, exp)
				}
			}
		}
	}
}

func TestWindowSliceNeverPads(t *testing.T) {
	w := New[int](5, identity)
	if got := w.Slice(3); len(got) != 0 {
		t.Fatalf("expected empty slice, got %v", got)
	}
	w.Push(1)
	w.Push(2)
	got := w.Slice(10)
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("unexpected slice %v", got)
	}
	for i := 3; i <= 8; i++ {
		w.Push(i)
	}
	got = w.Slice(2)
	if len(got) != 2 || got[0] != 7 || got[1] != 8 {
		t.Fatalf("unexpected recent slice %v", got)
	}
}

func TestWindowAcceptsOutOfOrderValues(t *testing.T) {
	w := New[int](3, identity)
	w.Push(30)
	w.Push(10)
	w.Push(20)
	got := w.All()
	if got[0] != 30 || got[1] != 10 || got[2] != 20 {
		t.Fatalf("expected insertion order, got %v", got)
	}
	last, ok := w.Latest()
	if !ok || last != 20 {
		t.Fatalf("latest=%d ok=%v", last, ok)
	}
}

func TestWindowStats(t *testing.T) {
	w := New[int](4, identity)
	if w.Mean() != 0 || w.StdDev() != 0 {
		t.Fatalf("empty window stats must be zero")
	}
	w.Push(5)
	if w.StdDev() != 0 {
		t.Fatalf("stddev with one element must be zero")
	}
	w.Push(7)
	w.Push(9)
	if w.Mean() != 7 {
		t.Fatalf("mean=%v", w.Mean())
	}
	if math.Abs(w.StdDev()-2) > 1e-12 {
		t.Fatalf("stddev=%v", w.StdDev())
	}
}

func TestNewUsesDefaultCapacity(t *testing.T) {
	w := New[int](0, nil)
	if w.Cap() != DefaultCapacity {
		t.Fatalf("cap=%d", w.Cap())
	}
	if w.Mean() != 0 {
		t.Fatalf("mean without extractor must be zero")
	}
}
