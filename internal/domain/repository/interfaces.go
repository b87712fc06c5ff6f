package repository

import (
	"context"

	"SignalFuse/internal/domain/models"
)

// MarketStream is one upstream market-feed connection.
// Next blocks until a delta arrives; a malformed frame yields an error that
// wraps marketfeed.ErrMalformedMessage and leaves the connection usable.
type MarketStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, instrumentIDs []string) error
	Ping(ctx context.Context) error
	Next(ctx context.Context) (models.PriceDelta, error)
	Close() error
}

// OracleSource fetches the latest quotes for a batch of feed ids.
type OracleSource interface {
	Latest(ctx context.Context, ids []string) ([]models.OracleQuote, error)
}

// LogStream opens address-scoped log subscriptions.
type LogStream interface {
	SubscribeLogs(ctx context.Context, address string) (LogSubscription, error)
}

// LogSubscription delivers notifications until Unsubscribe is called.
type LogSubscription interface {
	Notifications() <-chan models.LogNotification
	Unsubscribe() error
}

// MovementRecorder forwards movements to an external system of record.
type MovementRecorder interface {
	Record(ctx context.Context, m *models.Movement) error
	Close() error
}

// UpdatePublisher fans composed updates out beyond this process.
type UpdatePublisher interface {
	PublishUpdate(ctx context.Context, u *models.MarketUpdate) error
	Close() error
}

// MarketCatalog lists markets and their price history.
type MarketCatalog interface {
	TopMarkets(ctx context.Context, limit int) ([]models.Instrument, error)
	PriceHistory(ctx context.Context, instrumentID string, interval string) ([]models.PricePoint, error)
}

// Metrics records pipeline counters and latencies. NopMetrics
// discards everything.
type Metrics interface {
	RecordMessageSent(backend, key string)
	RecordError(kind string)
	RecordLastPrice(instrument string, price float64)
	RecordLatency(op string, seconds float64)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordMessageSent(string, string) {}
func (NopMetrics) RecordError(string) {}
func (NopMetrics) RecordLastPrice(string, float64) {}
func (NopMetrics) RecordLatency(string, float64) {}

