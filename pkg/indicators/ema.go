// Package indicators holds the price-series indicators used by the regime
// scorer and the decision modules. Series functions return one value per
// input element; values inside the warm-up window are NaN.
package indicators

import "math"

// EMA returns the exponential moving average with smoothing 2/(span+1),
// seeded with the first value.
func EMA(values []float64, span int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	alpha := 2.0 / float64(span+1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// SMA returns the simple moving average over period values
func SMA(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 {
		return out
	}
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// StdDev returns the rolling sample standard deviation (n-1 denominator)
func StdDev(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period < 2 {
		return out
	}
	for i := period - 1; i < len(values); i++ {
		window := values[i-period+1 : i+1]
		mean := 0.0
		for _, v := range window {
			mean += v
		}
		mean /= float64(period)
		ss := 0.0
		for _, v := range window {
			ss += (v - mean) * (v - mean)
		}
		out[i] = math.Sqrt(ss / float64(period-1))
	}
	return out
}

// Last returns the final element of a series, or NaN when empty
func Last(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	return values[len(values)-1]
}

// Tail returns the last n elements (or all of them when shorter)
func Tail(values []float64, n int) []float64 {
	if n >= len(values) {
		return values
	}
	return values[len(values)-n:]
}

// Mean averages the non-NaN values
func Mean(values []float64) float64 {
	sum, n := 0.0, 0
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
