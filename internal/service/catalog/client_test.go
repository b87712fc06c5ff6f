package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"SignalFuse/internal/service/ratelimit"
	"SignalFuse/pkg/cache"
)

const marketsBody = `{"data":[
 {"condition_id":"c1","question":"Will BTC close above 100k?","market_slug":"btc-100k","active":true,"closed":false,
  "tokens":[{"token_id":"no-1","outcome":"No","price":0.6},{"token_id":"yes-1","outcome":"Yes","price":0.4}]},
 {"condition_id":"c2","question":"Old market","active":false,"closed":true,"tokens":[{"token_id":"x","outcome":"Yes"}]},
 {"condition_id":"c3","question":"ETH ETF approved?","active":true,"tokens":[{"token_id":"yes-3","outcome":"YES","price":0.7}]},
 {"condition_id":"c4","question":"No tokens","active":true,"tokens":[]}
]}`

func newTestClient(t *testing.T, h http.Handler) (*Client, *cache.MemoryCache) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	mc := cache.NewMemoryCache(cache.WithMemoryCleanup(0))
	t.Cleanup(func() { _ = mc.Close() })
	c := NewClient(Config{
		BaseURL:    srv.URL,
		Timeout:    time.Second,
		MarketsTTL: time.Minute,
		HistoryTTL: time.Minute,
	}, mc, ratelimit.New(100, 1000, clockwork.NewRealClock()), nil)
	return c, mc
}

func TestTopMarketsPicksYesTokenAndCaches(t *testing.T) {
	var hits atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != marketsPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		hits.Add(1)
		_, _ = w.Write([]byte(marketsBody))
	}))

	got, err := c.TopMarkets(context.Background(), 10)
	if err != nil {
		t.Fatalf("top markets: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 open markets, got %+v", got)
	}
	if got[0].ID != "yes-1" || got[0].Symbol != "btc-100k" || got[0].LastPrice != 0.4 {
		t.Fatalf("unexpected first instrument %+v", got[0])
	}
	if got[1].ID != "yes-3" || got[1].Symbol != "c3" {
		t.Fatalf("unexpected second instrument %+v", got[1])
	}

	if _, err := c.TopMarkets(context.Background(), 10); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected cached second call, got %d upstream hits", hits.Load())
	}
}

func TestTopMarketsHonorsLimit(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "1" {
			t.Errorf("limit not forwarded: %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(marketsBody))
	}))
	got, err := c.TopMarkets(context.Background(), 1)
	if err != nil || len(got) != 1 {
		t.Fatalf("expected one market, got %v %v", got, err)
	}
}

func TestPriceHistorySortsAndMapsFidelity(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("market") != "yes-1" || q.Get("interval") != "1h" || q.Get("fidelity") != "60" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"history":[{"t":300,"p":0.5},{"t":100,"p":0.3},{"t":0,"p":9},{"t":200,"p":0.4}]}`))
	}))

	got, err := c.PriceHistory(context.Background(), "yes-1", "1h")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 points, got %d", len(got))
	}
	for i, want := range []float64{0.3, 0.4, 0.5} {
		if got[i].Price != want {
			t.Fatalf("point %d: price %v want %v", i, got[i].Price, want)
		}
	}
}

func TestPriceHistoryRejectsUnknownInterval(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("upstream must not be called")
	}))
	if _, err := c.PriceHistory(context.Background(), "x", "5m"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestUpstreamErrorIsNotCached(t *testing.T) {
	var hits atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "busy", http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(marketsBody))
	}))
	if _, err := c.TopMarkets(context.Background(), 5); err == nil {
		t.Fatalf("expected first call to fail")
	}
	if got, err := c.TopMarkets(context.Background(), 5); err != nil || len(got) != 2 {
		t.Fatalf("expected retry to succeed, got %v %v", got, err)
	}
}
