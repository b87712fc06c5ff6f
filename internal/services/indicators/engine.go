package indicators

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"SignalFuse/internal/domain/models"
	"SignalFuse/pkg/window"
)

// MinPoints is the shortest history the engine accepts.
const MinPoints = 30

const (
	rsiPeriod        = 14
	macdFast         = 12
	macdSlow         = 26
	macdSignal       = 9
	zScoreWindow     = 20
	momentumLookback = 10
	volWindow        = 20
	volumeWindow     = 20
)

var ErrInsufficientData = errors.New("indicators: insufficient data")

// Compute derives the full signal set from a price history. The input is not
// modified; points are ordered by time before computing.
func Compute(points []models.PricePoint) (*models.TechnicalSignalSet, error) {
	if len(points) < MinPoints {
		return nil, fmt.Errorf("%w: have %d points, need %d", ErrInsufficientData, len(points), MinPoints)
	}

	sorted := make([]models.PricePoint, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	prices := make([]float64, len(sorted))
	for i, p := range sorted {
		prices[i] = p.Price
	}

	rsi := RSI(prices, rsiPeriod)
	_, _, hist := MACD(prices, macdFast, macdSlow, macdSignal)
	z := ZScore(prices, zScoreWindow)
	mom := Momentum(prices, momentumLookback)
	vol := Volatility(prices, volWindow)

	return &models.TechnicalSignalSet{
		RSI:        rsiIndicator(rsi),
		MACD:       macdIndicator(hist),
		ZScore:     zScoreIndicator(z),
		Momentum:   momentumIndicator(mom),
		Volatility: volatilityIndicator(vol),
		Divergence: VolumeAnomaly(sorted, volumeWindow),
		Strength:   StrengthFromZ(z),
		Points:     len(sorted),
	}, nil
}

// RSI uses Wilder smoothing: the first period deltas seed the averages, later
// deltas are folded in with weight 1/period.
func RSI(prices []float64, period int) float64 {
	if period <= 0 || len(prices) <= period {
		return 50
	}
	var gains, losses float64
	for i := 1; i <= period; i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}
	p := float64(period)
	avgGain := gains / p
	avgLoss := losses / p

	for i := period + 1; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*(p-1) + gain) / p
		avgLoss = (avgLoss*(p-1) + loss) / p
	}

	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// EMA seeds with the first value: ema[0]=x[0], ema[i]=x[i]*k+ema[i-1]*(1-k).
func EMA(data []float64, period int) []float64 {
	if len(data) == 0 {
		return nil
	}
	k := 2 / (float64(period) + 1)
	out := make([]float64, len(data))
	out[0] = data[0]
	for i := 1; i < len(data); i++ {
		out[i] = data[i]*k + out[i-1]*(1-k)
	}
	return out
}

// MACD returns the latest MACD line, signal line and histogram values.
func MACD(prices []float64, fast, slow, signal int) (macd, sig, hist float64) {
	if len(prices) == 0 {
		return 0, 0, 0
	}
	emaFast := EMA(prices, fast)
	emaSlow := EMA(prices, slow)
	line := make([]float64, len(prices))
	for i := range prices {
		line[i] = emaFast[i] - emaSlow[i]
	}
	sigLine := EMA(line, signal)
	macd = line[len(line)-1]
	sig = sigLine[len(sigLine)-1]
	return macd, sig, macd - sig
}

// ZScore of the last price against the trailing window. 0 when flat.
func ZScore(prices []float64, n int) float64 {
	if len(prices) == 0 {
		return 0
	}
	w := tail(prices, n)
	sd := window.StdDev(w)
	if sd == 0 {
		return 0
	}
	return (prices[len(prices)-1] - window.Mean(w)) / sd
}

// Momentum is the percent change over lookback periods, falling back to the
// oldest price when the history is shorter.
func Momentum(prices []float64, lookback int) float64 {
	if len(prices) == 0 {
		return 0
	}
	current := prices[len(prices)-1]
	prev := prices[0]
	if idx := len(prices) - 1 - lookback; idx >= 0 {
		prev = prices[idx]
	}
	if prev == 0 {
		return 0
	}
	return (current - prev) / prev * 100
}

// ComputeLogReturns computes r_t = ln(P_t / P_{t-1}); non-positive prices give 0.
func ComputeLogReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		prev, cur := prices[i-1], prices[i]
		if prev <= 0 || cur <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, math.Log(cur/prev))
	}
	return out
}

// Volatility is the stddev of the last n log returns annualized by sqrt(365), in percent.
func Volatility(prices []float64, n int) float64 {
	rets := tail(ComputeLogReturns(prices), n)
	return window.StdDev(rets) * math.Sqrt(365) * 100
}

// VolumeAnomaly compares the current volume to its trailing average.
func VolumeAnomaly(points []models.PricePoint, n int) models.Indicator {
	ind := models.Indicator{Label: "Vol Anomaly", Signal: models.SignalNeutral, Description: "No Vol Data"}
	if len(points) < 2 {
		return ind
	}
	volumes := make([]float64, len(points))
	hasVolume := false
	for i, p := range points {
		volumes[i] = p.Volume
		if p.Volume > 0 {
			hasVolume = true
		}
	}
	if !hasVolume {
		return ind
	}

	sma := window.Mean(tail(volumes, n))
	ratio := 0.0
	if sma > 0 {
		ratio = volumes[len(volumes)-1] / sma
	}
	ind.Value = ratio

	prev := points[len(points)-2].Price
	change := 0.0
	if prev != 0 {
		change = (points[len(points)-1].Price - prev) / prev
	}

	switch {
	case ratio > 2.5 && math.Abs(change) > 0.02:
		if change > 0 {
			ind.Signal, ind.Description = models.SignalBuy, "Vol Breakout (Up)"
		} else {
			ind.Signal, ind.Description = models.SignalSell, "Vol Breakout (Down)"
		}
	case ratio > 2.5:
		ind.Description = "Vol Spike (Indecisive)"
	case ratio > 1.5:
		ind.Description = "Elevated Vol"
	default:
		ind.Description = "Normal Vol"
	}
	return ind
}

// StrengthFromZ buckets a z-score into a directional strength.
func StrengthFromZ(z float64) models.Strength {
	switch {
	case z > 1.5:
		return models.StrengthStrongYes
	case z > 0.5:
		return models.StrengthWeakYes
	case z < -1.5:
		return models.StrengthStrongNo
	case z < -0.5:
		return models.StrengthWeakNo
	default:
		return models.StrengthNeutral
	}
}

func tail(xs []float64, n int) []float64 {
	if n <= 0 || len(xs) <= n {
		return xs
	}
	return xs[len(xs)-n:]
}
