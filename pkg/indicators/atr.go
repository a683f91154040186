package indicators

import "math"

// ATRTracker maintains a running ATR one bar at a time. It produces the
// same values as ATR over the full history.
type ATRTracker struct {
	period    int
	alpha     float64
	atr       float64
	prevClose float64
	count     int
}

// NewATRTracker creates a running ATR with the given period
func NewATRTracker(period int) *ATRTracker {
	return &ATRTracker{
		period: period,
		alpha:  2.0 / float64(period+1),
	}
}

// Update adds a bar and returns the new ATR
func (at *ATRTracker) Update(high, low, close float64) float64 {
	tr := high - low
	if at.count > 0 {
		tr = math.Max(tr, math.Max(math.Abs(high-at.prevClose), math.Abs(low-at.prevClose)))
		at.atr = at.alpha*tr + (1-at.alpha)*at.atr
	} else {
		at.atr = tr
	}
	at.prevClose = close
	at.count++
	return at.atr
}

// Value returns the current ATR
func (at *ATRTracker) Value() float64 {
	return at.atr
}

// IsReady reports whether a full period of bars has been seen
func (at *ATRTracker) IsReady() bool {
	return at.count >= at.period
}

// Reset clears the tracker
func (at *ATRTracker) Reset() {
	at.atr = 0
	at.prevClose = 0
	at.count = 0
}
