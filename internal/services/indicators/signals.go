package indicators

import (
	"fmt"

	"SignalFuse/internal/domain/models"
)

// Fixed thresholds per indicator:
//   RSI        > 70 SELL (overbought), < 30 BUY (oversold)
//   MACD       histogram > 0 BUY, < 0 SELL
//   Z-score    > 2 SELL (rich), < -2 BUY (cheap)
//   Momentum   > 0 BUY, < 0 SELL
//   Volatility always NEUTRAL (informational)

func rsiIndicator(v float64) models.Indicator {
	ind := models.Indicator{Value: v, Label: "RSI (14)", Signal: models.SignalNeutral, Description: "Neutral"}
	switch {
	case v > 70:
		ind.Signal, ind.Description = models.SignalSell, "Overbought (>70)"
	case v < 30:
		ind.Signal, ind.Description = models.SignalBuy, "Oversold (<30)"
	}
	return ind
}

func macdIndicator(hist float64) models.Indicator {
	ind := models.Indicator{Value: hist, Label: "MACD", Signal: models.SignalNeutral, Description: "Flat"}
	switch {
	case hist > 0:
		ind.Signal, ind.Description = models.SignalBuy, "Bullish Trend"
	case hist < 0:
		ind.Signal, ind.Description = models.SignalSell, "Bearish Trend"
	}
	return ind
}

func zScoreIndicator(z float64) models.Indicator {
	ind := models.Indicator{Value: z, Label: "Z-Score", Signal: models.SignalNeutral, Description: "Mean Reverting"}
	switch {
	case z > 2:
		ind.Signal, ind.Description = models.SignalSell, "> 2σ (Rich)"
	case z < -2:
		ind.Signal, ind.Description = models.SignalBuy, "< -2σ (Cheap)"
	}
	return ind
}

func momentumIndicator(m float64) models.Indicator {
	ind := models.Indicator{Value: m, Label: "Momentum", Signal: models.SignalNeutral}
	switch {
	case m > 0:
		ind.Signal = models.SignalBuy
	case m < 0:
		ind.Signal = models.SignalSell
	}
	ind.Description = fmt.Sprintf("%+.2f%% (10p)", m)
	return ind
}

func volatilityIndicator(v float64) models.Indicator {
	return models.Indicator{
		Value:       v,
		Label:       "Volatility",
		Signal:      models.SignalNeutral,
		Description: fmt.Sprintf("%.1f%% Annualized", v),
	}
}
