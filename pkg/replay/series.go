// Package replay merges every instrument's range bars into one causal event
// stream and drives regime scoring, exits, module selection and admission
// for each event in a single goroutine.
package replay

import (
	"fmt"
	"sort"
	"time"

	"github.com/rangefx-bot/pkg/bars"
	"github.com/rangefx-bot/pkg/config"
	"github.com/rangefx-bot/pkg/feed"
)

// Candle periods used for regime scoring
const (
	CoarsePeriod = 4 * time.Hour
	FinePeriod   = time.Hour
)

// Series is one instrument's complete replay input
type Series struct {
	Instrument config.Instrument
	Bars       []bars.Bar
	Coarse     []bars.Candle // 4H
	Fine       []bars.Candle // 1H
}

// BuildSeries validates a tick stream and derives range bars and the 4H
// and 1H candles from it. The trailing partial range bar is dropped.
func BuildSeries(inst config.Instrument, ticks []feed.Tick) (*Series, error) {
	if err := feed.Validate(ticks); err != nil {
		return nil, err
	}
	rb, err := bars.NewBuilder(inst).BuildAll(ticks)
	if err != nil {
		return nil, err
	}
	return &Series{
		Instrument: inst,
		Bars:       rb,
		Coarse:     bars.Aggregate(inst.Name, ticks, CoarsePeriod),
		Fine:       bars.Aggregate(inst.Name, ticks, FinePeriod),
	}, nil
}

// Validate checks that the series can be replayed: it has bars, and bars
// and candles are ordered in time.
func (s *Series) Validate() error {
	if len(s.Bars) == 0 {
		return fmt.Errorf("%w: %s has no range bars", feed.ErrNoData, s.Instrument.Name)
	}
	for i := 1; i < len(s.Bars); i++ {
		if s.Bars[i].EndTime.Before(s.Bars[i-1].EndTime) {
			return fmt.Errorf("%w: %s bar %d ends %s before bar %d", feed.ErrOutOfOrder, s.Instrument.Name,
				i, s.Bars[i].EndTime.Format(time.RFC3339), i-1)
		}
	}
	for _, cs := range [][]bars.Candle{s.Coarse, s.Fine} {
		for i := 1; i < len(cs); i++ {
			if cs[i].End.Before(cs[i-1].End) {
				return fmt.Errorf("%w: %s candle %d out of order", feed.ErrOutOfOrder, s.Instrument.Name, i)
			}
		}
	}
	return nil
}

// Window returns the part of the series whose bars end in [start, end).
// Candles are cut at end only, so the test window keeps its warm-up
// history.
func (s *Series) Window(start, end time.Time) *Series {
	out := &Series{Instrument: s.Instrument}
	for _, b := range s.Bars {
		if !b.EndTime.Before(start) && b.EndTime.Before(end) {
			out.Bars = append(out.Bars, b)
		}
	}
	out.Coarse = CandlesAt(s.Coarse, end)
	out.Fine = CandlesAt(s.Fine, end)
	return out
}

// CandlesAt returns the prefix of candles that were complete at now
func CandlesAt(candles []bars.Candle, now time.Time) []bars.Candle {
	n := sort.Search(len(candles), func(i int) bool {
		return candles[i].End.After(now)
	})
	return candles[:n]
}

// basketAt returns the complete candles of every basket pair present in
// the data
func basketAt(data map[string]*Series, now time.Time, fine bool) map[string][]bars.Candle {
	out := make(map[string][]bars.Candle)
	for _, pair := range config.BasketPairs {
		s, ok := data[pair]
		if !ok {
			continue
		}
		if fine {
			out[pair] = CandlesAt(s.Fine, now)
		} else {
			out[pair] = CandlesAt(s.Coarse, now)
		}
	}
	return out
}
