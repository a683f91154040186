package indicators

import "math"

// TrueRange returns max(high-low, |high-prevClose|, |low-prevClose|). The
// first element has no previous close and is high-low.
func TrueRange(high, low, close []float64) []float64 {
	out := make([]float64, len(close))
	for i := range close {
		tr := high[i] - low[i]
		if i > 0 {
			prev := close[i-1]
			tr = math.Max(tr, math.Max(math.Abs(high[i]-prev), math.Abs(low[i]-prev)))
		}
		out[i] = tr
	}
	return out
}

// ATR returns the exponentially smoothed true range
func ATR(high, low, close []float64, period int) []float64 {
	return EMA(TrueRange(high, low, close), period)
}

// ADX returns the average directional index series
func ADX(high, low, close []float64, period int) []float64 {
	n := len(close)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < n; i++ {
		up := high[i] - high[i-1]
		down := low[i-1] - low[i]
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
	}
	atr := ATR(high, low, close, period)
	plus := EMA(plusDM, period)
	minus := EMA(minusDM, period)

	dx := make([]float64, n)
	for i := range dx {
		pdi := 100 * plus[i] / (atr[i] + 1e-9)
		mdi := 100 * minus[i] / (atr[i] + 1e-9)
		dx[i] = 100 * math.Abs(pdi-mdi) / (pdi + mdi + 1e-9)
	}
	return EMA(dx, period)
}

// BollingerWidth returns (upper-lower)/mid for bands of k standard deviations
func BollingerWidth(close []float64, period int, k float64) []float64 {
	mid := SMA(close, period)
	sigma := StdDev(close, period)
	out := make([]float64, len(close))
	for i := range close {
		out[i] = 2 * k * sigma[i] / (mid[i] + 1e-9)
	}
	return out
}

// Keltner returns the latest Keltner channel: an EMA midline with bands at
// mult times the ATR of the same period.
func Keltner(high, low, close []float64, period int, mult float64) (upper, mid, lower float64) {
	if len(close) == 0 {
		return math.NaN(), math.NaN(), math.NaN()
	}
	mid = Last(EMA(close, period))
	atr := Last(ATR(high, low, close, period))
	return mid + mult*atr, mid, mid - mult*atr
}
