package indicators

import (
	"math"
	"sort"
)

// Percentile returns the p-th percentile (0..100) of the non-NaN values
// using linear interpolation between closest ranks.
func Percentile(values []float64, p float64) float64 {
	clean := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			clean = append(clean, v)
		}
	}
	if len(clean) == 0 {
		return math.NaN()
	}
	sort.Float64s(clean)
	if len(clean) == 1 {
		return clean[0]
	}
	rank := p / 100 * float64(len(clean)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return clean[lo]
	}
	frac := rank - float64(lo)
	return clean[lo] + frac*(clean[hi]-clean[lo])
}

// Pivots returns the 3-bar fractal swing highs and swing lows in order
func Pivots(high, low []float64) (highs, lows []float64) {
	for i := 1; i < len(high)-1; i++ {
		if high[i] > high[i-1] && high[i] > high[i+1] {
			highs = append(highs, high[i])
		}
		if low[i] < low[i-1] && low[i] < low[i+1] {
			lows = append(lows, low[i])
		}
	}
	return highs, lows
}

// Clamp bounds v to [lo, hi]
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
