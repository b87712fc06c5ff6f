package usecase

import (
	"sync"
	"sync/atomic"
)

// FanoutMetrics observes the hub.
type FanoutMetrics interface {
	SetSubscribers(n int)
	IncBroadcast()
	IncDropped()
}

type nopFanoutMetrics struct{}

func (nopFanoutMetrics) SetSubscribers(int) {}
func (nopFanoutMetrics) IncBroadcast()      {}
func (nopFanoutMetrics) IncDropped()        {}

// Subscriber is one downstream connection's delivery channel.
type Subscriber struct {
	ID   uint64
	send chan []byte
}

// Send returns the outbound queue. It is closed when the subscriber is unregistered.
func (s *Subscriber) Send() <-chan []byte { return s.send }

// Hub broadcasts encoded messages to every registered subscriber. A
// subscriber whose buffer is full misses that message but stays registered.
type Hub struct {
	buffer  int
	metrics FanoutMetrics
	nextID  atomic.Uint64

	mu   sync.RWMutex
	subs map[uint64]*Subscriber
}

func NewHub(buffer int, metrics FanoutMetrics) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	if metrics == nil {
		metrics = nopFanoutMetrics{}
	}
	return &Hub{buffer: buffer, metrics: metrics, subs: make(map[uint64]*Subscriber)}
}

// Register adds a subscriber. Initial messages are queued before any broadcast.
func (h *Hub) Register(initial ...[]byte) *Subscriber {
	s := &Subscriber{ID: h.nextID.Add(1), send: make(chan []byte, h.buffer+len(initial))}
	for _, m := range initial {
		s.send <- m
	}
	h.mu.Lock()
	h.subs[s.ID] = s
	n := len(h.subs)
	h.mu.Unlock()
	h.metrics.SetSubscribers(n)
	return s
}

// Unregister removes s and closes its queue. Safe to call more than once.
func (h *Hub) Unregister(s *Subscriber) {
	h.mu.Lock()
	if _, ok := h.subs[s.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.subs, s.ID)
	close(s.send)
	n := len(h.subs)
	h.mu.Unlock()
	h.metrics.SetSubscribers(n)
}

// Broadcast delivers msg without blocking and reports delivered and skipped counts.
func (h *Hub) Broadcast(msg []byte) (delivered, skipped int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		select {
		case s.send <- msg:
			delivered++
		default:
			skipped++
			h.metrics.IncDropped()
		}
	}
	h.metrics.IncBroadcast()
	return delivered, skipped
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close unregisters every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	for id, s := range h.subs {
		close(s.send)
		delete(h.subs, id)
	}
	h.mu.Unlock()
	h.metrics.SetSubscribers(0)
}
