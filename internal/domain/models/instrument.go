package models

import "time"

// Instrument is a quoted market whose price is tracked from the upstream feed.
type Instrument struct {
	ID         string    `json:"id"` // feed-assigned identifier
	Symbol     string    `json:"symbol"`
	Question   string    `json:"question"` // descriptive text used for correlation
	LastPrice  float64   `json:"lastPrice"`
	LastUpdate time.Time `json:"lastUpdate"`
}

// PriceDelta is a validated inbound price update from the market feed.
type PriceDelta struct {
	InstrumentID string
	Price        float64
	Timestamp    time.Time
}

// PriceChange is emitted when a delta actually moved an instrument's price.
type PriceChange struct {
	InstrumentID string
	Price        float64
	Previous     float64
	Timestamp    time.Time
}

// PricePoint is one observation of an ordered price history.
// Volume is zero when the source carries no volume data.
type PricePoint struct {
	Time   time.Time `json:"time"`
	Price  float64   `json:"price"`
	Volume float64   `json:"volume,omitempty"`
}

// FeedState is the connection state of the market feed subscriber.
type FeedState int32

const (
	FeedDisconnected FeedState = iota
	FeedConnecting
	FeedConnected
	FeedClosing
)

func (s FeedState) String() string {
	switch s {
	case FeedDisconnected:
		return "Disconnected"
	case FeedConnecting:
		return "Connecting"
	case FeedConnected:
		return "Connected"
	case FeedClosing:
		return "Closing"
	default:
		return "Unknown"
	}
}
