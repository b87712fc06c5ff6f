package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestAllowRefills(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Unix(0, 0))
	l := Every(time.Second, clk)

	if !l.Allow("clob") {
		t.Fatalf("first request should pass")
	}
	if l.Allow("clob") {
		t.Fatalf("second request within the interval should be limited")
	}
	if !l.Allow("other") {
		t.Fatalf("keys are independent")
	}
	clk.Advance(time.Second)
	if !l.Allow("clob") {
		t.Fatalf("token should refill after one interval")
	}
}

func TestWaitBlocksUntilRefill(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Unix(0, 0))
	l := Every(time.Second, clk)
	_ = l.Allow("k")

	done := make(chan error, 1)
	go func() { done <- l.Wait(context.Background(), "k") }()

	if !blockUntil(clk, 1) {
		t.Fatalf("Wait did not block on the clock")
	}
	clk.Advance(time.Second)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("wait: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Wait did not return after refill")
	}
}

func TestWaitHonorsContext(t *testing.T) {
	l := Every(time.Hour, clockwork.NewFakeClockAt(time.Unix(0, 0)))
	_ = l.Allow("k")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Wait(ctx, "k"); err == nil {
		t.Fatalf("expected context error")
	}
}

func blockUntil(clk *clockwork.FakeClock, n int) bool {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return clk.BlockUntilContext(ctx, n) == nil
}
