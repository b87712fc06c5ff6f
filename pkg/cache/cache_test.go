package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

type market struct {
	ID    string  `json:"id"`
	Price float64 `json:"price"`
}

func newTestMemory(clk clockwork.Clock, size int) *MemoryCache {
	return NewMemoryCache(WithMemoryClock(clk), WithMemoryMaxSize(size), WithMemoryCleanup(0))
}

func TestMemoryCacheRoundTripStruct(t *testing.T) {
	mc := newTestMemory(clockwork.NewFakeClockAt(time.Unix(0, 0)), 10)
	defer mc.Close()
	ctx := context.Background()

	if err := mc.Set(ctx, "m", []market{{ID: "a", Price: 0.4}}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	var got []market
	if err := mc.Get(ctx, "m", &got); err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a" || got[0].Price != 0.4 {
		t.Fatalf("unexpected %+v", got)
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Unix(0, 0))
	mc := newTestMemory(clk, 10)
	defer mc.Close()
	ctx := context.Background()

	_ = mc.Set(ctx, "k", 1, time.Second)
	clk.Advance(time.Second)
	var v int
	if err := mc.Get(ctx, "k", &v); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss after ttl, got %v", err)
	}
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Unix(0, 0))
	mc := newTestMemory(clk, 2)
	defer mc.Close()
	ctx := context.Background()

	_ = mc.Set(ctx, "a", 1, time.Hour)
	clk.Advance(time.Millisecond)
	_ = mc.Set(ctx, "b", 2, time.Hour)
	clk.Advance(time.Millisecond)
	var v int
	_ = mc.Get(ctx, "a", &v) // a is now more recent than b
	clk.Advance(time.Millisecond)
	_ = mc.Set(ctx, "c", 3, time.Hour)

	if err := mc.Get(ctx, "b", &v); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected b evicted, got %v", err)
	}
	if err := mc.Get(ctx, "a", &v); err != nil || v != 1 {
		t.Fatalf("expected a kept, got %d %v", v, err)
	}
	if mc.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", mc.Len())
	}
}

func TestGetOrLoadCachesResult(t *testing.T) {
	mc := newTestMemory(clockwork.NewFakeClockAt(time.Unix(0, 0)), 10)
	defer mc.Close()
	calls := 0
	load := func(context.Context) ([]market, error) {
		calls++
		return []market{{ID: "x"}}, nil
	}
	for i := 0; i < 3; i++ {
		got, err := GetOrLoad(context.Background(), mc, Key("markets", "10"), time.Minute, load)
		if err != nil || len(got) != 1 {
			t.Fatalf("unexpected %v %v", got, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one load, got %d", calls)
	}
}

func TestGetOrLoadDoesNotCacheErrors(t *testing.T) {
	mc := newTestMemory(clockwork.NewFakeClockAt(time.Unix(0, 0)), 10)
	defer mc.Close()
	calls := 0
	load := func(context.Context) (int, error) {
		calls++
		return 0, errors.New("upstream down")
	}
	_, _ = GetOrLoad(context.Background(), mc, "k", time.Minute, load)
	_, _ = GetOrLoad(context.Background(), mc, "k", time.Minute, load)
	if calls != 2 {
		t.Fatalf("expected 2 loads, got %d", calls)
	}
}

func TestLayeredCacheFillsL1(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Unix(0, 0))
	l1 := newTestMemory(clk, 10)
	l2 := newTestMemory(clk, 10)
	lc := NewLayeredCache(l2, l1, time.Minute)
	defer lc.Close()
	ctx := context.Background()

	_ = l2.Set(ctx, "k", "v", time.Hour)
	var s string
	if err := lc.Get(ctx, "k", &s); err != nil || s != "v" {
		t.Fatalf("layered get: %q %v", s, err)
	}
	_ = l2.Delete(ctx, "k")
	s = ""
	if err := lc.Get(ctx, "k", &s); err != nil || s != "v" {
		t.Fatalf("expected l1 hit, got %q %v", s, err)
	}
}
