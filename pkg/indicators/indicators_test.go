package indicators

import (
	"math"
	"testing"
)

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestEMA(t *testing.T) {
	got := EMA([]float64{1, 2, 3}, 3)
	// alpha = 0.5
	want := []float64{1, 1.5, 2.25}
	for i := range want {
		if !almostEqual(got[i], want[i], 1e-12) {
			t.Errorf("EMA[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestSMAAndStdDev(t *testing.T) {
	vals := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	sma := SMA(vals, 4)
	if !math.IsNaN(sma[2]) {
		t.Errorf("SMA warm-up value = %v, want NaN", sma[2])
	}
	if !almostEqual(sma[3], 3.5, 1e-12) || !almostEqual(sma[7], 6.5, 1e-12) {
		t.Errorf("SMA = %v", sma)
	}
	sd := StdDev(vals, 8)
	// sample std of the classic example is sqrt(32/7)
	if !almostEqual(sd[7], math.Sqrt(32.0/7.0), 1e-12) {
		t.Errorf("StdDev = %v", sd[7])
	}
}

func TestPercentile(t *testing.T) {
	tests := []struct {
		name string
		vals []float64
		p    float64
		want float64
	}{
		{"median odd", []float64{3, 1, 2}, 50, 2},
		{"linear", []float64{1, 2, 3, 4}, 25, 1.75},
		{"p75", []float64{1, 2, 3, 4}, 75, 3.25},
		{"max", []float64{5, 1, 9}, 100, 9},
		{"ignores NaN", []float64{math.NaN(), 10, 20}, 50, 15},
		{"single", []float64{7}, 20, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Percentile(tt.vals, tt.p); !almostEqual(got, tt.want, 1e-12) {
				t.Errorf("Percentile = %v, want %v", got, tt.want)
			}
		})
	}
	if !math.IsNaN(Percentile(nil, 50)) {
		t.Error("Percentile of empty slice should be NaN")
	}
}

func TestATRTrackerMatchesSeries(t *testing.T) {
	high := []float64{1.10, 1.12, 1.11, 1.15, 1.14, 1.13}
	low := []float64{1.08, 1.09, 1.07, 1.10, 1.12, 1.10}
	closes := []float64{1.09, 1.11, 1.08, 1.14, 1.13, 1.11}

	series := ATR(high, low, closes, 3)
	tr := NewATRTracker(3)
	for i := range closes {
		got := tr.Update(high[i], low[i], closes[i])
		if !almostEqual(got, series[i], 1e-12) {
			t.Fatalf("tracker[%d] = %v, series = %v", i, got, series[i])
		}
	}
	if !tr.IsReady() {
		t.Error("tracker should be ready after 6 bars with period 3")
	}
	tr.Reset()
	if tr.IsReady() || tr.Value() != 0 {
		t.Error("Reset did not clear the tracker")
	}
}

func TestADXTrend(t *testing.T) {
	var high, low, closes []float64
	for i := 0; i < 60; i++ {
		base := 1.0 + float64(i)*0.01
		high = append(high, base+0.005)
		low = append(low, base-0.005)
		closes = append(closes, base)
	}
	adx := ADX(high, low, closes, 14)
	if last := Last(adx); last < 50 {
		t.Errorf("ADX on a steady uptrend = %v, want strong", last)
	}
}

func TestPivots(t *testing.T) {
	high := []float64{1, 3, 2, 4, 3}
	low := []float64{0, 2, 1, 3, 2}
	ph, pl := Pivots(high, low)
	if len(ph) != 2 || ph[0] != 3 || ph[1] != 4 {
		t.Errorf("pivot highs = %v", ph)
	}
	if len(pl) != 1 || pl[0] != 1 {
		t.Errorf("pivot lows = %v", pl)
	}
}

func TestKeltner(t *testing.T) {
	closes := []float64{1, 1, 1, 1}
	high := []float64{1.1, 1.1, 1.1, 1.1}
	low := []float64{0.9, 0.9, 0.9, 0.9}
	up, mid, dn := Keltner(high, low, closes, 3, 1.5)
	if !almostEqual(mid, 1, 1e-12) || !almostEqual(up, 1.3, 1e-9) || !almostEqual(dn, 0.7, 1e-9) {
		t.Errorf("Keltner = %v/%v/%v", up, mid, dn)
	}
}
