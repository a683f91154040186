package feed

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMalformedTick marks a tick with non-positive or crossed prices
	ErrMalformedTick = errors.New("malformed tick")
	// ErrOutOfOrder marks a tick older than its predecessor
	ErrOutOfOrder = errors.New("tick out of order")
	// ErrNoData is returned when an instrument has no usable ticks
	ErrNoData = errors.New("no tick data")
)

// Tick is a single bid/ask observation for one instrument
type Tick struct {
	Instrument string
	Time       time.Time
	Bid        float64
	Ask        float64
}

// Mid returns the bid/ask midpoint
func (t Tick) Mid() float64 {
	return (t.Bid + t.Ask) / 2
}

// Validate checks a tick stream for integrity: positive uncrossed prices
// and non-decreasing timestamps.
func Validate(ticks []Tick) error {
	if len(ticks) == 0 {
		return ErrNoData
	}
	for i, t := range ticks {
		if t.Bid <= 0 || t.Ask <= 0 || t.Ask < t.Bid {
			return fmt.Errorf("%w: %s #%d bid=%v ask=%v", ErrMalformedTick, t.Instrument, i, t.Bid, t.Ask)
		}
		if t.Time.IsZero() {
			return fmt.Errorf("%w: %s #%d has no timestamp", ErrMalformedTick, t.Instrument, i)
		}
		if i > 0 && t.Time.Before(ticks[i-1].Time) {
			return fmt.Errorf("%w: %s #%d at %s precedes %s", ErrOutOfOrder, t.Instrument, i,
				t.Time.Format(time.RFC3339Nano), ticks[i-1].Time.Format(time.RFC3339Nano))
		}
	}
	return nil
}

// Window returns the ticks with start <= time < end. Zero bounds are open.
func Window(ticks []Tick, start, end time.Time) []Tick {
	out := make([]Tick, 0, len(ticks))
	for _, t := range ticks {
		if !start.IsZero() && t.Time.Before(start) {
			continue
		}
		if !end.IsZero() && !t.Time.Before(end) {
			continue
		}
		out = append(out, t)
	}
	return out
}
