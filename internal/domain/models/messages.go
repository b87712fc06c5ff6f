package models

import "time"

// Downstream message types.
const (
	MessageWelcome      = "WELCOME"
	MessageMarketUpdate = "MARKET_UPDATE"
)

// WelcomeMessage is sent once on subscriber connect.
type WelcomeMessage struct {
	Type        string    `json:"type"`
	Message     string    `json:"message"`
	Instruments int       `json:"instruments"`
	Timestamp   time.Time `json:"timestamp"`
}

// MarketUpdate is the joined per-instrument view broadcast to subscribers.
type MarketUpdate struct {
	Type         string              `json:"type"`
	InstrumentID string              `json:"instrumentId"`
	Price        float64             `json:"price"`
	Question     string              `json:"question,omitempty"`
	Timestamp    time.Time           `json:"timestamp"`
	Anomalies    []AnomalyEpisode    `json:"anomalies,omitempty"`
	Movements    []Movement          `json:"movements,omitempty"`
	Indicators   *TechnicalSignalSet `json:"indicators,omitempty"`
}
