package window

import "sync"

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 60

// Window is a fixed-capacity circular buffer. Pushing into a full window
// evicts the oldest element. Ordering is by insertion, not by any timestamp
// carried in T. Safe for concurrent use.
type Window[T any] struct {
	mu    sync.RWMutex
	buf   []T
	next  int // next write position
	size  int
	value func(T) float64
}

// New creates a window holding at most capacity elements. value extracts the
// number Mean and StdDev operate on; it may be nil when those are unused.
func New[T any](capacity int, value func(T) float64) *Window[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Window[T]{
		buf:   make([]T, capacity),
		value: value,
	}
}

// Push appends s, evicting the oldest element when at capacity.
func (w *Window[T]) Push(s T) {
	w.mu.Lock()
	w.buf[w.next] = s
	w.next = (w.next + 1) % len(w.buf)
	if w.size < len(w.buf) {
		w.size++
	}
	w.mu.Unlock()
}

// Slice returns the most recent n elements, oldest first. Fewer are returned
// when the window holds less than n.
func (w *Window[T]) Slice(n int) []T {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.sliceLocked(n)
}

// All returns the full contents, oldest first.
func (w *Window[T]) All() []T {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.sliceLocked(w.size)
}

// Latest returns the newest element.
func (w *Window[T]) Latest() (T, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var zero T
	if w.size == 0 {
		return zero, false
	}
	idx := (w.next - 1 + len(w.buf)) % len(w.buf)
	return w.buf[idx], true
}

// Len returns the number of stored elements.
func (w *Window[T]) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.size
}

// Cap returns the configured capacity.
func (w *Window[T]) Cap() int { return len(w.buf) }

// Mean of the current contents, 0 when empty.
func (w *Window[T]) Mean() float64 {
	return Mean(w.values())
}

// StdDev is the sample standard deviation of the current contents, 0 with
// fewer than two elements.
func (w *Window[T]) StdDev() float64 {
	return StdDev(w.values())
}

func (w *Window[T]) values() []float64 {
	if w.value == nil {
		return nil
	}
	items := w.All()
	out := make([]float64, len(items))
	for i, it := range items {
		out[i] = w.value(it)
	}
	return out
}

func (w *Window[T]) sliceLocked(n int) []T {
	if n <= 0 || w.size == 0 {
		return []T{}
	}
	if n > w.size {
		n = w.size
	}
	out := make([]T, n)
	start := (w.next - n + len(w.buf)) % len(w.buf)
	for i := 0; i < n; i++ {
		out[i] = w.buf[(start+i)%len(w.buf)]
	}
	return out
}
