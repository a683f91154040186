// Package bars turns tick streams into price-driven range bars and
// UTC-aligned time candles.
package bars

import "time"

// Bar is a completed range bar. Bars are immutable once emitted.
type Bar struct {
	Instrument string
	Open       float64
	High       float64
	Low        float64
	Close      float64
	TickCount  int
	StartTime  time.Time
	EndTime    time.Time

	// IsPhantom marks bars 2..N produced by a single tick
	IsPhantom bool
	// IsGapAdjacent marks the first bar of a multi-bar tick
	IsGapAdjacent bool
	// TickBoundaryPrice is the mid of the tick that closed the bar
	TickBoundaryPrice float64
	// Partial marks a bar closed early by a session gap or end of data;
	// its range is smaller than the bar size.
	Partial bool
}

// IsUp reports whether the bar closed above its open
func (b Bar) IsUp() bool {
	return b.Close > b.Open
}

// IsDown reports whether the bar closed below its open
func (b Bar) IsDown() bool {
	return b.Close < b.Open
}

// Range returns high minus low
func (b Bar) Range() float64 {
	return b.High - b.Low
}

// Untradeable reports whether fills on this bar must use the tick boundary
func (b Bar) Untradeable() bool {
	return b.IsPhantom || b.IsGapAdjacent
}

// FillPrice returns the price an order touching want would fill at on this
// bar: want itself, or the real tick boundary for phantom and gap-adjacent bars.
func (b Bar) FillPrice(want float64) float64 {
	if b.Untradeable() && b.TickBoundaryPrice != 0 {
		return b.TickBoundaryPrice
	}
	return want
}

// Tail returns the last n bars, or all of them when fewer exist
func Tail(bs []Bar, n int) []Bar {
	if len(bs) <= n {
		return bs
	}
	return bs[len(bs)-n:]
}
