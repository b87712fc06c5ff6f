package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"SignalFuse/internal/domain/models"
)

type flakyRecorder struct {
	mu       sync.Mutex
	failures int
	calls    int
	recorded []string
	done     chan struct{}
	closed   bool
}

func (r *flakyRecorder) Record(_ context.Context, m *models.Movement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.failures > 0 {
		r.failures--
		return errors.New("downstream unavailable")
	}
	r.recorded = append(r.recorded, m.ID)
	if r.done != nil {
		close(r.done)
		r.done = nil
	}
	return nil
}

func (r *flakyRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func movement(id, addr string) *models.Movement {
	return &models.Movement{ID: id, Address: addr, Kind: models.MovementDeposit, Amount: 1.5, Timestamp: time.Unix(1, 0)}
}

func TestPipelineRetriesUntilRecorded(t *testing.T) {
	done := make(chan struct{})
	rec := &flakyRecorder{failures: 2, done: done}
	p := NewRecordingPipeline(rec, nil, nil, WithMaxAttempts(3))
	p.Start(context.Background())

	if err := p.Record(context.Background(), movement("m1", "addr")); err != nil {
		t.Fatalf("record: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("movement was not forwarded")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if rec.calls != 3 || !rec.closed {
		t.Fatalf("expected 3 calls and closed recorder, got %d calls closed=%v", rec.calls, rec.closed)
	}
}

func TestPipelineThrottlesPerAddress(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Unix(0, 0))
	p := NewRecordingPipeline(&flakyRecorder{}, nil, nil, WithMaxRPS(1), WithClock(clk))

	if err := p.Record(context.Background(), movement("m1", "a")); err != nil {
		t.Fatalf("first record: %v", err)
	}
	if err := p.Record(context.Background(), movement("m2", "a")); !errors.Is(err, ErrThrottled) {
		t.Fatalf("expected throttle, got %v", err)
	}
	if err := p.Record(context.Background(), movement("m3", "b")); err != nil {
		t.Fatalf("other address should pass: %v", err)
	}
	clk.Advance(time.Second)
	if err := p.Record(context.Background(), movement("m4", "a")); err != nil {
		t.Fatalf("after a second: %v", err)
	}
}

func TestPipelineForgetsIdleAddresses(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	p := NewRecordingPipeline(&flakyRecorder{}, nil, nil, WithMaxRPS(1), WithBufferSize(16), WithClock(clk))

	for i, addr := range []string{"a", "b", "c"} {
		if err := p.Record(context.Background(), movement(fmt.Sprintf("m%d", i), addr)); err != nil {
			t.Fatalf("record %s: %v", addr, err)
		}
	}
	if n := p.trackedAddresses(); n != 3 {
		t.Fatalf("expected 3 tracked addresses, got %d", n)
	}

	clk.Advance(2 * time.Minute)
	if err := p.Record(context.Background(), movement("m9", "d")); err != nil {
		t.Fatalf("record d: %v", err)
	}
	if n := p.trackedAddresses(); n != 1 {
		t.Fatalf("idle addresses should be swept, %d remain", n)
	}
}

func TestPipelineBufferFull(t *testing.T) {
	p := NewRecordingPipeline(&flakyRecorder{}, nil, nil, WithBufferSize(1), WithMaxRPS(1000))
	if err := p.Record(context.Background(), movement("m1", "a")); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := p.Record(context.Background(), movement("m2", "b")); !errors.Is(err, ErrBufferFull) {
		t.Fatalf("expected buffer full, got %v", err)
	}
}

func TestPipelineRejectsInvalid(t *testing.T) {
	p := NewRecordingPipeline(&flakyRecorder{}, nil, nil)
	if err := p.Record(context.Background(), &models.Movement{Address: "a"}); err == nil {
		t.Fatalf("expected validation error")
	}
}
