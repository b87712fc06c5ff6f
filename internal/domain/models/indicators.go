package models

// Signal is the categorical reading attached to an indicator.
type Signal string

const (
	SignalBuy     Signal = "BUY"
	SignalSell    Signal = "SELL"
	SignalNeutral Signal = "NEUTRAL"
)

// Indicator is a single computed value and its reading.
type Indicator struct {
	Value       float64 `json:"value"`
	Label       string  `json:"label"`
	Signal      Signal  `json:"signal"`
	Description string  `json:"description"`
}

// Strength is the composite z-score classification.
type Strength string

const (
	StrengthStrongYes Strength = "strong_yes"
	StrengthWeakYes   Strength = "weak_yes"
	StrengthNeutral   Strength = "neutral"
	StrengthWeakNo    Strength = "weak_no"
	StrengthStrongNo  Strength = "strong_no"
)

// TechnicalSignalSet is a pure function of a price history.
type TechnicalSignalSet struct {
	RSI        Indicator `json:"rsi"`
	MACD       Indicator `json:"macd"` // value is the histogram
	ZScore     Indicator `json:"zScore"`
	Momentum   Indicator `json:"momentum"`
	Volatility Indicator `json:"volatility"`
	Divergence Indicator `json:"divergence"` // volume anomaly
	Strength   Strength  `json:"strength"`
	Points     int       `json:"points"`
}
