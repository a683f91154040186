package bars

import (
	"fmt"
	"math"
	"time"

	"github.com/rangefx-bot/pkg/config"
	"github.com/rangefx-bot/pkg/feed"
)

const (
	// DefaultGap is the tick silence treated as a session break
	DefaultGap = 4 * time.Hour

	sizeEpsilon = 1e-10
)

// Builder converts one instrument's ticks into range bars
type Builder struct {
	instrument string
	size       float64
	gap        time.Duration

	open      float64
	high      float64
	low       float64
	start     time.Time
	tickCount int
	hasBar    bool
	lastTick  time.Time
}

// NewBuilder creates a range bar builder for an instrument
func NewBuilder(inst config.Instrument) *Builder {
	return &Builder{
		instrument: inst.Name,
		size:       round10(inst.BarSize()),
		gap:        DefaultGap,
	}
}

// WithGap overrides the session-gap threshold
func (b *Builder) WithGap(gap time.Duration) *Builder {
	b.gap = gap
	return b
}

// Size returns the bar size in price units
func (b *Builder) Size() float64 {
	return b.size
}

// Feed processes one tick and returns the bars it completed, usually zero or
// one. A tick that jumps several bar sizes returns every bar it crossed: the
// first flagged gap-adjacent, the rest phantom.
func (b *Builder) Feed(t feed.Tick) ([]Bar, error) {
	if !b.lastTick.IsZero() && t.Time.Before(b.lastTick) {
		return nil, fmt.Errorf("%w: %s tick at %s after %s", feed.ErrOutOfOrder, b.instrument,
			t.Time.Format(time.RFC3339Nano), b.lastTick.Format(time.RFC3339Nano))
	}
	price := t.Mid()

	// Session gap: close the partial bar where it stands and restart.
	if b.hasBar && t.Time.Sub(b.lastTick) >= b.gap {
		closed := b.closeAtGap(b.lastTick)
		b.lastTick = t.Time
		b.openBar(price, t.Time)
		return []Bar{closed}, nil
	}
	b.lastTick = t.Time

	if !b.hasBar {
		b.openBar(price, t.Time)
		return nil, nil
	}

	b.high = math.Max(b.high, price)
	b.low = math.Min(b.low, price)
	b.tickCount++

	var completed []Bar
	for b.high-b.open >= b.size-sizeEpsilon {
		bar := b.closeBar(t.Time, round10(b.open+b.size), price, len(completed) > 0)
		completed = append(completed, bar)
		b.reopenAfter(bar.Close, price, t.Time)
	}
	for b.open-b.low >= b.size-sizeEpsilon {
		bar := b.closeBar(t.Time, round10(b.open-b.size), price, len(completed) > 0)
		completed = append(completed, bar)
		b.reopenAfter(bar.Close, price, t.Time)
	}

	if len(completed) > 1 {
		completed[0].IsGapAdjacent = true
	}
	return completed, nil
}

// Flush returns the open partial bar, if any, and resets the builder
func (b *Builder) Flush() (Bar, bool) {
	if !b.hasBar {
		return Bar{}, false
	}
	bar := b.closeAtGap(b.lastTick)
	b.hasBar = false
	return bar, true
}

// BuildAll converts a full tick slice. The trailing partial bar is dropped.
func (b *Builder) BuildAll(ticks []feed.Tick) ([]Bar, error) {
	var out []Bar
	for _, t := range ticks {
		completed, err := b.Feed(t)
		if err != nil {
			return nil, err
		}
		out = append(out, completed...)
	}
	return out, nil
}

func (b *Builder) openBar(price float64, ts time.Time) {
	b.open = price
	b.high = price
	b.low = price
	b.start = ts
	b.tickCount = 1
	b.hasBar = true
}

// reopenAfter starts the next bar at the previous close and folds the
// current tick back in so a large jump can close several bars.
func (b *Builder) reopenAfter(close, price float64, ts time.Time) {
	b.openBar(close, ts)
	b.high = math.Max(b.high, price)
	b.low = math.Min(b.low, price)
}

func (b *Builder) closeBar(ts time.Time, close, boundary float64, phantom bool) Bar {
	bar := Bar{
		Instrument:        b.instrument,
		Open:              b.open,
		Close:             close,
		TickCount:         b.tickCount,
		StartTime:         b.start,
		EndTime:           ts,
		IsPhantom:         phantom,
		TickBoundaryPrice: boundary,
	}
	if close > b.open {
		bar.High, bar.Low = close, b.open
	} else {
		bar.High, bar.Low = b.open, close
	}
	return bar
}

func (b *Builder) closeAtGap(ts time.Time) Bar {
	mid := (b.high + b.low) / 2
	return Bar{
		Instrument:        b.instrument,
		Open:              b.open,
		High:              b.high,
		Low:               b.low,
		Close:             mid,
		TickCount:         b.tickCount,
		StartTime:         b.start,
		EndTime:           ts,
		TickBoundaryPrice: mid,
		Partial:           true,
	}
}

func round10(v float64) float64 {
	return math.Round(v*1e10) / 1e10
}
