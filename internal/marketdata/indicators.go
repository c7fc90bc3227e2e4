package marketdata

import "math"

// Indicators are the latest values of the technical indicators the market analyst
// reads. A value is NaN when there is not enough history.
type Indicators struct {
	SMA50    float64 `json:"close_50_sma"`
	SMA200   float64 `json:"close_200_sma"`
	EMA10    float64 `json:"close_10_ema"`
	RSI14    float64 `json:"rsi"`
	MACD     float64 `json:"macd"`
	BollUp   float64 `json:"boll_ub"`
	BollDown float64 `json:"boll_lb"`
}

func ComputeIndicators(bars []Bar) Indicators {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close.InexactFloat64()
	}
	ind := Indicators{
		SMA50:  sma(closes, 50),
		SMA200: sma(closes, 200),
		EMA10:  ema(closes, 10),
		RSI14:  rsi(closes, 14),
		MACD:   ema(closes, 12) - ema(closes, 26),
	}
	mid := sma(closes, 20)
	sd := stddev(closes, 20)
	ind.BollUp = mid + 2*sd
	ind.BollDown = mid - 2*sd
	return ind
}

func sma(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return math.NaN()
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}

func ema(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return math.NaN()
	}
	multiplier := 2.0 / (float64(period) + 1.0)
	e := 0.0
	for _, v := range values[:period] {
		e += v
	}
	e /= float64(period)
	for _, v := range values[period:] {
		e = v*multiplier + e*(1-multiplier)
	}
	return e
}

// rsi uses Wilder smoothing.
func rsi(values []float64, period int) float64 {
	if period <= 0 || len(values) < period+1 {
		return math.NaN()
	}
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(values); i++ {
		change := values[i] - values[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}
	if avgLoss == 0 {
		return 100
	}
	return 100 - 100/(1+avgGain/avgLoss)
}

func stddev(values []float64, period int) float64 {
	mean := sma(values, period)
	if math.IsNaN(mean) {
		return math.NaN()
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += (v - mean) * (v - mean)
	}
	return math.Sqrt(sum / float64(period))
}
