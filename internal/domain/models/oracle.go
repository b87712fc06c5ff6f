package models

import "time"

// OracleQuote is one oracle reading with the exponent already applied.
type OracleQuote struct {
	ID                 string
	Price              float64
	ConfidenceInterval float64
	PublishTime        time.Time
}

// OracleSample is an immutable entry of an instrument's confidence window.
type OracleSample struct {
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
	Score     float64   `json:"confidence"` // 0..100, higher is more reliable
}

// Severity grades an anomaly episode.
type Severity string

const (
	SeverityLow      Severity = "Low"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

// AnomalyEpisode is derived on demand from the current window contents.
type AnomalyEpisode struct {
	PriceID   string         `json:"priceId"`
	Symbol    string         `json:"symbol"`
	Latest    OracleSample   `json:"latest"`
	Baseline  float64        `json:"baselineAverage"`
	IsAnomaly bool           `json:"isAnomaly"`
	Severity  Severity       `json:"severity"`
	History   []OracleSample `json:"history,omitempty"`
}

// Timestamp of the newest sample the episode was derived from.
func (e AnomalyEpisode) Timestamp() time.Time { return e.Latest.Timestamp }
