package server

import (
	"context"
	"sync"
	"testing"
	"time"

	"SignalFuse/internal/domain/models"
	drepo "SignalFuse/internal/domain/repository"
	"SignalFuse/internal/usecase"
	xhttp "SignalFuse/pkg/http"
	applogger "SignalFuse/pkg/logger"
)

type idleStream struct {
	mu  sync.Mutex
	ids []string
}

func (s *idleStream) Connect(context.Context) error { return nil }
func (s *idleStream) Subscribe(_ context.Context, ids []string) error {
	s.mu.Lock()
	s.ids = append([]string(nil), ids...)
	s.mu.Unlock()
	return nil
}
func (s *idleStream) Ping(context.Context) error { return nil }
func (s *idleStream) Next(ctx context.Context) (models.PriceDelta, error) {
	<-ctx.Done()
	return models.PriceDelta{}, ctx.Err()
}
func (s *idleStream) Close() error { return nil }

func (s *idleStream) subscribed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ids
}

type emptyOracle struct{}

func (emptyOracle) Latest(context.Context, []string) ([]models.OracleQuote, error) { return nil, nil }

type quietSub struct {
	ch   chan models.LogNotification
	once sync.Once
}

func (q *quietSub) Notifications() <-chan models.LogNotification { return q.ch }
func (q *quietSub) Unsubscribe() error {
	q.once.Do(func() { close(q.ch) })
	return nil
}

type quietLogs struct{}

func (quietLogs) SubscribeLogs(context.Context, string) (drepo.LogSubscription, error) {
	return &quietSub{ch: make(chan models.LogNotification)}, nil
}

type staticCatalog []models.Instrument

func (c staticCatalog) TopMarkets(context.Context, int) ([]models.Instrument, error) { return c, nil }
func (c staticCatalog) PriceHistory(context.Context, string, string) ([]models.PricePoint, error) {
	return nil, nil
}

func TestAppRunSeedsTracksAndShutsDown(t *testing.T) {
	log := applogger.Nop()
	table := usecase.NewMarketTable([]models.Instrument{{ID: "a", Symbol: "BTC"}})
	stream := &idleStream{}
	hub := usecase.NewHub(4, nil)
	sub := usecase.NewMarketFeedSubscriber(stream, table, usecase.MarketFeedConfig{}, nil, log, nil)
	det := usecase.NewOracleAnomalyDetector(emptyOracle{}, nil, usecase.DefaultOracleDetectorConfig(), nil, log, nil)
	watcher := usecase.NewActivityWatcher(quietLogs{}, nil, nil, usecase.ActivityConfig{}, nil, log, nil)
	broker := usecase.NewSignalFusionBroker(table, det, watcher.Ledger(), usecase.NewCorrelator(nil), hub, nil, nil, usecase.FusionConfig{}, nil, log, nil)

	app := New(Components{
		Table:      table,
		Subscriber: sub,
		Detector:   det,
		Watcher:    watcher,
		Broker:     broker,
		Hub:        hub,
		Catalog:    staticCatalog{{ID: "b", Symbol: "ETH"}},
		HTTP:       xhttp.NewServer(nil, log, xhttp.WithHost("127.0.0.1"), xhttp.WithPort(0), xhttp.WithMetricsPath("")),
	}, Options{
		SeedCatalog:     true,
		CatalogLimit:    5,
		Tracked:         []TrackedSeed{{Address: "So11111111111111111111111111111111111111112", CorrelationKey: "SOL"}, {Address: "bad", CorrelationKey: "X"}},
		ShutdownTimeout: 2 * time.Second,
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(stream.subscribed()) != 2 || len(watcher.TrackedAddresses()) != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("startup incomplete: subscribed=%v tracked=%d", stream.subscribed(), len(watcher.TrackedAddresses()))
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, ok := table.Get("b"); !ok {
		t.Fatalf("catalog market not seeded")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("app did not shut down")
	}
	if len(watcher.TrackedAddresses()) != 0 {
		t.Fatalf("watcher still tracking after shutdown")
	}
}
