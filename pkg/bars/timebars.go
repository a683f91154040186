package bars

import (
	"math"
	"time"

	"github.com/rangefx-bot/pkg/feed"
)

// Candle is a UTC-aligned time bar. End is the period boundary, so a candle
// may be used by any event at or after End.
type Candle struct {
	Instrument string
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Ticks      int
	Start      time.Time
	End        time.Time
}

// TimeAggregator folds ticks into fixed UTC periods
type TimeAggregator struct {
	instrument string
	period     time.Duration
	cur        Candle
	has        bool
}

// NewTimeAggregator creates an aggregator for a period such as time.Hour
func NewTimeAggregator(instrument string, period time.Duration) *TimeAggregator {
	return &TimeAggregator{instrument: instrument, period: period}
}

// Feed adds a tick. When the tick belongs to a later period, the previous
// candle is returned as complete.
func (ta *TimeAggregator) Feed(t feed.Tick) (Candle, bool) {
	price := t.Mid()
	start := t.Time.UTC().Truncate(ta.period)

	if ta.has && start.Equal(ta.cur.Start) {
		ta.cur.High = math.Max(ta.cur.High, price)
		ta.cur.Low = math.Min(ta.cur.Low, price)
		ta.cur.Close = price
		ta.cur.Ticks++
		return Candle{}, false
	}

	prev, done := ta.cur, ta.has
	ta.cur = Candle{
		Instrument: ta.instrument,
		Open:       price,
		High:       price,
		Low:        price,
		Close:      price,
		Ticks:      1,
		Start:      start,
		End:        start.Add(ta.period),
	}
	ta.has = true
	return prev, done
}

// Flush returns the in-progress candle
func (ta *TimeAggregator) Flush() (Candle, bool) {
	if !ta.has {
		return Candle{}, false
	}
	ta.has = false
	return ta.cur, true
}

// Aggregate builds every candle for a tick slice, including the last one
func Aggregate(instrument string, ticks []feed.Tick, period time.Duration) []Candle {
	ta := NewTimeAggregator(instrument, period)
	var out []Candle
	for _, t := range ticks {
		if c, ok := ta.Feed(t); ok {
			out = append(out, c)
		}
	}
	if c, ok := ta.Flush(); ok {
		out = append(out, c)
	}
	return out
}

// Closes extracts the close prices of a candle slice
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Highs extracts the high prices of a candle slice
func Highs(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.High
	}
	return out
}

// Lows extracts the low prices of a candle slice
func Lows(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Low
	}
	return out
}

// BarCloses extracts the close prices of a range bar slice
func BarCloses(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}
